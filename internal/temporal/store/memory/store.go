// Package memory is an in-process temporal record store. It backs tests and
// single-instance deployments; RunInTx gives all-or-nothing semantics by
// snapshotting the record map.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"validity/internal/temporal/models"
	id "validity/pkg/domain"
	dErrors "validity/pkg/domain-errors"
	"validity/pkg/platform/sentinel"
)

// defaultTxTimeout is the maximum duration of a transaction without a caller deadline.
const defaultTxTimeout = 5 * time.Second

// Store keeps records keyed by ID. Every read and write copies the record so
// callers never share state with the store.
type Store struct {
	mu      sync.RWMutex
	records map[id.RecordID]*models.Record

	txMu      sync.Mutex
	txTimeout time.Duration
}

func New() *Store {
	return &Store{records: make(map[id.RecordID]*models.Record)}
}

func (s *Store) FindByID(_ context.Context, recordID id.RecordID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) FindOverlapping(_ context.Context, scope models.Scope, period models.TimePeriod, exclude id.RecordID) ([]*models.Record, error) {
	return s.collect(func(r *models.Record) bool {
		return r.ID != exclude && scope.Matches(r) && r.Period().Overlaps(period)
	}), nil
}

func (s *Store) CountOverlapping(ctx context.Context, scope models.Scope, period models.TimePeriod, exclude id.RecordID) (int, error) {
	found, err := s.FindOverlapping(ctx, scope, period, exclude)
	return len(found), err
}

func (s *Store) FindBordering(_ context.Context, scope models.Scope, edge models.Edge, value time.Time, exclude id.RecordID) ([]*models.Record, error) {
	return s.collect(func(r *models.Record) bool {
		if r.ID == exclude || !scope.Matches(r) {
			return false
		}
		if edge == models.EdgeExpiration {
			return r.Expiration.Equal(value)
		}
		return r.Effective.Equal(value)
	}), nil
}

func (s *Store) FindChildren(_ context.Context, kind, relation string, parentID id.RecordID) ([]*models.Record, error) {
	return s.collect(func(r *models.Record) bool {
		pid, ok := r.Parent(relation)
		return ok && r.Kind == kind && pid == parentID
	}), nil
}

func (s *Store) Find(_ context.Context, q models.Query) ([]*models.Record, error) {
	return s.collect(q.Matches), nil
}

func (s *Store) Save(_ context.Context, rec *models.Record) error {
	stored := rec.Clone()
	stored.MarkPersisted()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = stored
	return nil
}

func (s *Store) Delete(_ context.Context, recordID id.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordID)
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Clear removes all records.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[id.RecordID]*models.Record)
}

func (s *Store) collect(match func(*models.Record) bool) []*models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Record
	for _, r := range s.records {
		if match(r) {
			out = append(out, r.Clone())
		}
	}
	models.SortByEffective(out)
	return out
}

type txKey struct{}

// RunInTx serialises transactions and restores the previous contents when fn
// fails. Nested calls on the same context join the outer transaction.
// Writes made outside any transaction while one is running are lost if it
// rolls back.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := s.txTimeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snapshot := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

func (s *Store) snapshot() map[id.RecordID]*models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.records)
}

func (s *Store) restore(snapshot map[id.RecordID]*models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = snapshot
}
