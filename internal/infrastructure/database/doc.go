// Package database provides SQLite connectivity for minifc.
//
// This package manages:
//   - Database connection with WAL mode so the status API can read
//     while a loop writes
//   - Forward schema migrations loaded from the migrations package
//
// Every query in the repositories built on it is parameterised, and the
// database file is created with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(database.FromAppConfig(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
