package shadow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/minifc/internal/infrastructure/database"
)

// Store persists shadow documents.
type Store interface {
	// Load returns the stored document, or a new empty one if the thing
	// has never been written.
	Load(ctx context.Context, thing string) (*Document, error)
	Save(ctx context.Context, doc *Document) error
}

// SQLStore keeps documents in the shadow_documents table.
type SQLStore struct {
	db *database.DB
}

// NewSQLStore creates a store over an open, migrated database.
func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Load implements Store.
func (s *SQLStore) Load(ctx context.Context, thing string) (*Document, error) {
	var (
		version           int64
		desired, reported string
		updatedAt         string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT version, desired, reported, updated_at FROM shadow_documents WHERE thing = ?`,
		thing,
	).Scan(&version, &desired, &reported, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return NewDocument(thing), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading shadow %s: %w", thing, err)
	}

	doc := NewDocument(thing)
	doc.Version = version
	if err := json.Unmarshal([]byte(desired), &doc.Desired); err != nil {
		return nil, fmt.Errorf("decoding desired state of %s: %w", thing, err)
	}
	if err := json.Unmarshal([]byte(reported), &doc.Reported); err != nil {
		return nil, fmt.Errorf("decoding reported state of %s: %w", thing, err)
	}
	if doc.Desired == nil {
		doc.Desired = map[string]any{}
	}
	if doc.Reported == nil {
		doc.Reported = map[string]any{}
	}
	doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt) //nolint:errcheck // zero time on a malformed row
	return doc, nil
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, doc *Document) error {
	desired, err := json.Marshal(doc.Desired)
	if err != nil {
		return fmt.Errorf("encoding desired state: %w", err)
	}
	reported, err := json.Marshal(doc.Reported)
	if err != nil {
		return fmt.Errorf("encoding reported state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shadow_documents (thing, version, desired, reported, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thing) DO UPDATE SET
			version = excluded.version,
			desired = excluded.desired,
			reported = excluded.reported,
			updated_at = excluded.updated_at`,
		doc.Thing, doc.Version, string(desired), string(reported),
		doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving shadow %s: %w", doc.Thing, err)
	}
	return nil
}
