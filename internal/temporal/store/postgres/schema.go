package postgres

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS temporal_records (
	id          UUID PRIMARY KEY,
	kind        TEXT NOT NULL,
	effective   TIMESTAMPTZ NOT NULL,
	expiration  TIMESTAMPTZ,
	attributes  JSONB NOT NULL DEFAULT '{}'::jsonb,
	parents     JSONB NOT NULL DEFAULT '{}'::jsonb,
	CHECK (expiration IS NULL OR expiration > effective)
);
CREATE INDEX IF NOT EXISTS temporal_records_kind_effective_idx ON temporal_records (kind, effective);
CREATE INDEX IF NOT EXISTS temporal_records_kind_expiration_idx ON temporal_records (kind, expiration);
CREATE INDEX IF NOT EXISTS temporal_records_parents_idx ON temporal_records USING GIN (parents);
`

// Migrate creates the temporal_records table and its indexes if missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate temporal_records: %w", err)
	}
	return nil
}
