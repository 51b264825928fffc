// Package journal records stage boundaries and command outcomes of a
// device in SQLite so they can be inspected after the fact through the
// status API.
//
// Recording is best effort: callers log a failed Record and carry on.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a journal event.
type Kind string

// Event kinds.
const (
	KindStageBegin    Kind = "stage_begin"
	KindStageEnd      Kind = "stage_end"
	KindCommand       Kind = "command"
	KindEmergencyStop Kind = "emergency_stop"
	KindPatch         Kind = "patch"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// timeLayout has a fixed width so created_at sorts as text.
	timeLayout = "2006-01-02T15:04:05.000000Z"
)

// ErrDeviceRequired is returned when an event has no device id.
var ErrDeviceRequired = errors.New("journal: device id is required")

// Event is one journal row.
type Event struct {
	ID        string         `json:"id"`
	DeviceID  string         `json:"device_id"`
	Kind      Kind           `json:"kind"`
	Stage     string         `json:"stage,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter narrows List. Zero values mean "any".
type Filter struct {
	Kind  Kind
	Since time.Time
	Limit int
}

// Repository stores journal events.
type Repository interface {
	Record(ctx context.Context, e Event) error
	List(ctx context.Context, f Filter) ([]Event, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteRepository implements Repository on the journal_events table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository over an open, migrated
// database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Record inserts an event. ID and CreatedAt are filled in when empty.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - e: Event to persist; DeviceID and Kind are required
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteRepository) Record(ctx context.Context, e Event) error {
	if e.DeviceID == "" {
		return ErrDeviceRequired
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	if e.Detail == nil {
		e.Detail = map[string]any{}
	}

	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("marshalling detail: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO journal_events (id, device_id, kind, stage, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.DeviceID, string(e.Kind), e.Stage, string(detail),
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting journal event: %w", err)
	}
	return nil
}

// List returns events newest first.
func (r *SQLiteRepository) List(ctx context.Context, f Filter) ([]Event, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}

	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}

	query := `SELECT id, device_id, kind, stage, detail, created_at FROM journal_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, f.Limit)
	for rows.Next() {
		var (
			e         Event
			kind      string
			detail    string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &kind, &e.Stage, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning journal event: %w", err)
		}
		e.Kind = Kind(kind)
		if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
			return nil, fmt.Errorf("unmarshalling detail: %w", err)
		}
		if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}
	return events, nil
}

// Prune deletes events older than the given duration and returns how
// many were removed.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := r.now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM journal_events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting journal events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
