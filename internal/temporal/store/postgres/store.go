// Package postgres is the PostgreSQL temporal record store. Attributes and
// parent references are kept in jsonb columns so any kind fits one table;
// scope fields resolve against parents first, then attributes.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"validity/internal/temporal/models"
	id "validity/pkg/domain"
	"validity/pkg/platform/sentinel"
	"validity/pkg/platform/tx"
)

// Store persists temporal records in PostgreSQL. Every method runs inside
// the transaction carried by the context when there is one.
type Store struct {
	db *sql.DB
}

// New constructs a PostgreSQL-backed temporal store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectColumns = `SELECT id, kind, effective, expiration, attributes, parents FROM temporal_records`

// fieldsMatch is true when every (field, value) pair of the two arrays
// matches the record. A missing field matches "".
const fieldsMatch = `NOT EXISTS (
	SELECT 1 FROM unnest(%s::text[], %s::text[]) AS f(name, value)
	WHERE COALESCE(parents->>f.name, attributes->>f.name, '') <> f.value
)`

func (s *Store) FindByID(ctx context.Context, recordID id.RecordID) (*models.Record, error) {
	row := tx.Resolve(ctx, s.db).QueryRowContext(ctx, selectColumns+` WHERE id = $1`, uuid.UUID(recordID))
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find temporal record: %w", err)
	}
	return rec, nil
}

func (s *Store) FindOverlapping(ctx context.Context, scope models.Scope, period models.TimePeriod, exclude id.RecordID) ([]*models.Record, error) {
	query, args := overlapQuery(selectColumns, scope, period, exclude)
	return s.query(ctx, "find overlapping temporal records", query+` ORDER BY effective, id`, args...)
}

func (s *Store) CountOverlapping(ctx context.Context, scope models.Scope, period models.TimePeriod, exclude id.RecordID) (int, error) {
	query, args := overlapQuery(`SELECT COUNT(*) FROM temporal_records`, scope, period, exclude)
	var n int
	if err := tx.Resolve(ctx, s.db).QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count overlapping temporal records: %w", err)
	}
	return n, nil
}

// overlapQuery selects records of the scope that share at least one instant
// with period. Open bounds are NULL expirations.
func overlapQuery(head string, scope models.Scope, period models.TimePeriod, exclude id.RecordID) (string, []any) {
	fields, values := scopeArrays(scope)
	query := head + ` WHERE kind = $1 AND id <> $2 AND ` + fmt.Sprintf(fieldsMatch, "$3", "$4") +
		` AND (expiration IS NULL OR expiration > $5) AND ($6::timestamptz IS NULL OR effective < $6)`
	return query, []any{
		scope.Kind,
		uuid.UUID(exclude),
		pq.Array(fields),
		pq.Array(values),
		period.Effective.UTC(),
		nullTime(period.Expiration),
	}
}

func (s *Store) FindBordering(ctx context.Context, scope models.Scope, edge models.Edge, value time.Time, exclude id.RecordID) ([]*models.Record, error) {
	column := "effective"
	if edge == models.EdgeExpiration {
		column = "expiration"
	}
	fields, values := scopeArrays(scope)
	query := selectColumns + ` WHERE kind = $1 AND id <> $2 AND ` + fmt.Sprintf(fieldsMatch, "$3", "$4") +
		` AND ` + column + ` = $5 ORDER BY effective, id`
	return s.query(ctx, "find bordering temporal records", query,
		scope.Kind, uuid.UUID(exclude), pq.Array(fields), pq.Array(values), value.UTC())
}

func (s *Store) FindChildren(ctx context.Context, kind, relation string, parentID id.RecordID) ([]*models.Record, error) {
	return s.query(ctx, "find child temporal records",
		selectColumns+` WHERE kind = $1 AND parents->>$2 = $3 ORDER BY effective, id`,
		kind, relation, parentID.String())
}

func (s *Store) Find(ctx context.Context, q models.Query) ([]*models.Record, error) {
	fields := q.WhereFields()
	values := make([]string, len(fields))
	for i, f := range fields {
		values[i] = q.Where[f]
	}
	query := selectColumns + ` WHERE kind = $1 AND ` + fmt.Sprintf(fieldsMatch, "$2", "$3") +
		` AND ($4::timestamptz IS NULL OR (effective <= $4 AND (expiration IS NULL OR expiration > $4)))
		ORDER BY effective, id`
	return s.query(ctx, "query temporal records", query,
		q.Kind, pq.Array(fields), pq.Array(values), nullTime(q.AsOf))
}

func (s *Store) Save(ctx context.Context, rec *models.Record) error {
	attributes, err := json.Marshal(nonNil(rec.Attributes))
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	parents := make(map[string]string, len(rec.Parents))
	for relation, pid := range rec.Parents {
		if !pid.IsNil() {
			parents[relation] = pid.String()
		}
	}
	parentJSON, err := json.Marshal(parents)
	if err != nil {
		return fmt.Errorf("encode parents: %w", err)
	}

	_, err = tx.Resolve(ctx, s.db).ExecContext(ctx, `
		INSERT INTO temporal_records (id, kind, effective, expiration, attributes, parents)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			effective = EXCLUDED.effective,
			expiration = EXCLUDED.expiration,
			attributes = EXCLUDED.attributes,
			parents = EXCLUDED.parents
	`, uuid.UUID(rec.ID), rec.Kind, rec.Effective.UTC(), nullTime(rec.Expiration), attributes, parentJSON)
	if err != nil {
		return fmt.Errorf("save temporal record: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, recordID id.RecordID) error {
	if _, err := tx.Resolve(ctx, s.db).ExecContext(ctx, `DELETE FROM temporal_records WHERE id = $1`, uuid.UUID(recordID)); err != nil {
		return fmt.Errorf("delete temporal record: %w", err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, op, query string, args ...any) ([]*models.Record, error) {
	rows, err := tx.Resolve(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

type recordRow interface {
	Scan(dest ...any) error
}

func scanRecord(row recordRow) (*models.Record, error) {
	var (
		recordID   uuid.UUID
		kind       string
		effective  time.Time
		expiration sql.NullTime
		attributes []byte
		parentJSON []byte
	)
	if err := row.Scan(&recordID, &kind, &effective, &expiration, &attributes, &parentJSON); err != nil {
		return nil, err
	}

	rec := &models.Record{
		ID:         id.RecordID(recordID),
		Kind:       kind,
		Effective:  effective.UTC(),
		Attributes: map[string]string{},
		Parents:    map[string]id.RecordID{},
	}
	if expiration.Valid {
		rec.Expiration = expiration.Time.UTC()
	}
	if err := json.Unmarshal(attributes, &rec.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	var parents map[string]string
	if err := json.Unmarshal(parentJSON, &parents); err != nil {
		return nil, fmt.Errorf("decode parents: %w", err)
	}
	for relation, raw := range parents {
		pid, err := id.ParseRecordID(raw)
		if err != nil {
			return nil, fmt.Errorf("decode parent %s: %w", relation, err)
		}
		rec.Parents[relation] = pid
	}
	rec.MarkPersisted()
	return rec, nil
}

func scopeArrays(scope models.Scope) ([]string, []string) {
	fields := make([]string, len(scope.Keys))
	values := make([]string, len(scope.Keys))
	for i, k := range scope.Keys {
		fields[i] = k.Field
		values[i] = k.Value
	}
	return fields, values
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
