package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "validity/pkg/domain"
	audit "validity/pkg/platform/audit"
	txcontext "validity/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Append writes into the caller's transaction when one is in the context, so
// an audit row commits or rolls back with the record change it describes.
// The outbox relay publishes pending rows and marks them published.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_outbox (
	id           UUID PRIMARY KEY,
	record_id    UUID NOT NULL,
	kind         TEXT NOT NULL,
	event_type   TEXT NOT NULL,
	payload      JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	published_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS audit_outbox_record_idx ON audit_outbox (record_id, created_at);
CREATE INDEX IF NOT EXISTS audit_outbox_pending_idx ON audit_outbox (created_at) WHERE published_at IS NULL;
`

// Migrate creates the outbox table.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate audit outbox: %w", err)
	}
	return nil
}

// Append writes an audit event to the outbox table.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	body, err := audit.Encode(event)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_outbox (id, record_id, kind, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = txcontext.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.New(),
		uuid.UUID(event.RecordID),
		event.Kind,
		event.Action,
		body,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ListByRecord returns the events of a record, oldest first.
func (s *Store) ListByRecord(ctx context.Context, recordID id.RecordID) ([]audit.Event, error) {
	rows, err := txcontext.Resolve(ctx, s.db).QueryContext(ctx, `
		SELECT id, payload FROM audit_outbox
		WHERE record_id = $1
		ORDER BY created_at, id
	`, uuid.UUID(recordID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	events := make([]audit.Event, 0, len(entries))
	for _, e := range entries {
		events = append(events, e.Event)
	}
	return events, nil
}

// Entry is an outbox row awaiting publication.
type Entry struct {
	ID    uuid.UUID
	Event audit.Event
}

// Pending returns up to limit unpublished entries, oldest first.
func (s *Store) Pending(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// MarkPublished stamps entries as delivered.
func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, len(ids))
	for i, entryID := range ids {
		raw[i] = entryID.String()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE audit_outbox SET published_at = $1 WHERE id = ANY($2::uuid[])`,
		at.UTC(), pq.Array(raw),
	)
	if err != nil {
		return fmt.Errorf("mark outbox entries published: %w", err)
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			entryID uuid.UUID
			raw     []byte
		)
		if err := rows.Scan(&entryID, &raw); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		event, err := audit.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decode outbox entry %s: %w", entryID, err)
		}
		entries = append(entries, Entry{ID: entryID, Event: event})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	return entries, nil
}
