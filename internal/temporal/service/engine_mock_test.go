package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"validity/internal/temporal/config"
	"validity/internal/temporal/models"
	"validity/internal/temporal/ports/mocks"
	"validity/internal/temporal/store/memory"
	dErrors "validity/pkg/domain-errors"
	"validity/pkg/platform/audit"
	"validity/pkg/requestcontext"
)

// =============================================================================
// Engine Collaborator Test Suite
// =============================================================================
// Verifies how the engine drives its ports: scope locks, store failures and
// audit emission.

type EngineCollaboratorSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	mockStore   *mocks.MockStore
	mockLocker  *mocks.MockScopeLocker
	mockAuditor *mocks.MockAuditPublisher
	logger      *slog.Logger
	ctx         context.Context
}

func TestEngineCollaboratorSuite(t *testing.T) {
	suite.Run(t, new(EngineCollaboratorSuite))
}

func (s *EngineCollaboratorSuite) SetupTest() {
	s.resetMocks()
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.ctx = requestcontext.WithTime(context.Background(), day("2023-06-01"))
}

// SetupSubTest gives every s.Run its own controller so expectations of one
// case cannot satisfy calls of another. The controller is finished by the
// cleanup gomock registers on the subtest.
func (s *EngineCollaboratorSuite) SetupSubTest() {
	s.resetMocks()
}

func (s *EngineCollaboratorSuite) resetMocks() {
	s.ctrl = gomock.NewController(s.T())
	s.mockStore = mocks.NewMockStore(s.ctrl)
	s.mockLocker = mocks.NewMockScopeLocker(s.ctrl)
	s.mockAuditor = mocks.NewMockAuditPublisher(s.ctrl)
}

func (s *EngineCollaboratorSuite) newEngine(store *memory.Store, opts ...Option) *Engine {
	opts = append([]Option{WithLogger(s.logger), WithTxRunner(store)}, opts...)
	e, err := New(store, opts...)
	s.Require().NoError(err)
	_, err = e.Register(positionPolicy())
	s.Require().NoError(err)
	return e
}

// =============================================================================
// Scope Lock Tests
// =============================================================================

func (s *EngineCollaboratorSuite) TestScopeLock() {
	s.Run("nested writes reuse the lock of the outer save", func() {
		store := memory.New()
		engine := s.newEngine(store, WithScopeLocker(s.mockLocker))
		for _, p := range []models.TimePeriod{span("2024-01-01", "2024-06-01"), span("2024-06-01", "")} {
			rec := models.NewRecord("position", p)
			rec.SetAttribute("person", "p1")
			s.Require().NoError(store.Save(context.Background(), rec))
		}

		released := 0
		s.mockLocker.EXPECT().Lock(gomock.Any(), "position|person=p1").
			Return(func() { released++ }, nil).Times(1)

		_, err := engine.Save(s.ctx, newPosition("p1", "2024-03-01", "2024-09-01"))
		s.Require().NoError(err)
		s.Equal(1, released)
		s.Equal(3, store.Len())
	})

	s.Run("lock failure is a conflict", func() {
		store := memory.New()
		engine := s.newEngine(store, WithScopeLocker(s.mockLocker))
		s.mockLocker.EXPECT().Lock(gomock.Any(), gomock.Any()).Return(nil, assert.AnError)

		_, err := engine.Save(s.ctx, newPosition("p1", "2024-01-01", ""))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Equal(0, store.Len())
	})
}

// trackingLocker records which scope keys are held and how often each was
// acquired.
type trackingLocker struct {
	mu       sync.Mutex
	held     map[string]int
	acquired map[string]int
}

func newTrackingLocker() *trackingLocker {
	return &trackingLocker{held: map[string]int{}, acquired: map[string]int{}}
}

func (l *trackingLocker) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[key]++
	l.acquired[key]++
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key]--; l.held[key] == 0 {
			delete(l.held, key)
		}
	}, nil
}

func (l *trackingLocker) heldKeys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]string, 0, len(l.held))
	for k := range l.held {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// commitRecorder runs work in the memory store's transaction and notes the
// scope locks held once the work is done and the transaction is about to
// commit.
type commitRecorder struct {
	store    *memory.Store
	locker   *trackingLocker
	atCommit [][]string
}

func (c *commitRecorder) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return err
		}
		c.atCommit = append(c.atCommit, c.locker.heldKeys())
		return nil
	})
}

func (s *EngineCollaboratorSuite) TestScopeLockCoversCommit() {
	const key = "position|person=p1"
	setup := func() (*Engine, *memory.Store, *trackingLocker, *commitRecorder) {
		store := memory.New()
		locker := newTrackingLocker()
		tx := &commitRecorder{store: store, locker: locker}
		return s.newEngine(store, WithScopeLocker(locker), WithTxRunner(tx)), store, locker, tx
	}
	seed := func(store *memory.Store, eff, exp string) *models.Record {
		rec := models.NewRecord("position", span(eff, exp))
		rec.SetAttribute("person", "p1")
		s.Require().NoError(store.Save(context.Background(), rec))
		rec.MarkPersisted()
		return rec
	}

	s.Run("save", func() {
		engine, store, locker, tx := setup()
		seed(store, "2024-01-01", "")

		_, err := engine.Save(s.ctx, newPosition("p1", "2024-03-01", ""))
		s.Require().NoError(err)
		s.Equal([][]string{{key}}, tx.atCommit)
		s.Empty(locker.heldKeys())
	})

	s.Run("split takes the scope once for both records", func() {
		engine, store, locker, tx := setup()
		rec := seed(store, "2024-01-01", "")

		res, err := engine.Split(s.ctx, rec, day("2024-04-01"))
		s.Require().NoError(err)
		s.NotEqual(rec.ID, res.Record.ID)
		s.Equal([][]string{{key}}, tx.atCommit)
		s.Equal(1, locker.acquired[key])
		s.Empty(locker.heldKeys())
	})

	s.Run("terminate that removes the record", func() {
		engine, store, locker, tx := setup()
		rec := seed(store, "2024-01-01", "")

		res, err := engine.Terminate(s.ctx, rec, day("2024-01-01"))
		s.Require().NoError(err)
		s.Equal(Removed, res.Outcome)
		s.Equal([][]string{{key}}, tx.atCommit)
		s.Empty(locker.heldKeys())
	})

	s.Run("delete", func() {
		engine, store, locker, tx := setup()
		rec := seed(store, "2024-01-01", "")

		s.Require().NoError(engine.Delete(s.ctx, rec.ID))
		s.Equal([][]string{{key}}, tx.atCommit)
		s.Empty(locker.heldKeys())
	})
}

// =============================================================================
// Store Failure Tests
// =============================================================================

func (s *EngineCollaboratorSuite) mockedEngine(mutate ...func(*config.Policy)) *Engine {
	engine, err := New(s.mockStore, WithLogger(s.logger))
	s.Require().NoError(err)
	_, err = engine.Register(positionPolicy(mutate...))
	s.Require().NoError(err)
	return engine
}

func (s *EngineCollaboratorSuite) TestStoreFailures() {
	s.Run("write failure is internal and keeps the cause", func() {
		engine := s.mockedEngine()
		s.mockStore.EXPECT().FindOverlapping(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)
		s.mockStore.EXPECT().Save(gomock.Any(), gomock.Any()).Return(assert.AnError)

		rec := newPosition("p1", "2024-01-01", "")
		_, err := engine.Save(s.ctx, rec)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
		s.True(errors.Is(err, assert.AnError))
		s.True(rec.IsNew())
	})

	s.Run("overlap lookup failure aborts before writing", func() {
		engine := s.mockedEngine()
		s.mockStore.EXPECT().FindOverlapping(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, assert.AnError)

		_, err := engine.Save(s.ctx, newPosition("p1", "2024-01-01", ""))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("query failure is internal", func() {
		engine := s.mockedEngine()
		s.mockStore.EXPECT().Find(gomock.Any(), gomock.Any()).Return(nil, assert.AnError)

		_, err := engine.Find(s.ctx, models.Query{Kind: "position"})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

// =============================================================================
// Audit Tests
// =============================================================================

func (s *EngineCollaboratorSuite) TestAudit() {
	s.Run("created record is audited as compliance", func() {
		store := memory.New()
		engine := s.newEngine(store, WithAuditPublisher(s.mockAuditor))
		ctx := requestcontext.WithRequestID(s.ctx, "req-1")

		var got audit.Event
		s.mockAuditor.EXPECT().Emit(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, e audit.Event) error {
				got = e
				return nil
			})

		rec := newPosition("p1", "2024-01-01", "")
		_, err := engine.Save(ctx, rec)
		s.Require().NoError(err)
		s.Equal(string(audit.EventRecordCreated), got.Action)
		s.Equal(audit.CategoryCompliance, got.Category)
		s.Equal(rec.ID, got.RecordID)
		s.Equal("2024-01-01", got.Effective)
		s.Empty(got.Expiration)
		s.Equal("req-1", got.RequestID)
	})

	s.Run("shifted neighbour is audited as an operation", func() {
		store := memory.New()
		engine := s.newEngine(store, WithAuditPublisher(s.mockAuditor))
		existing := models.NewRecord("position", span("2024-01-01", ""))
		existing.SetAttribute("person", "p1")
		s.Require().NoError(store.Save(context.Background(), existing))

		var actions []string
		s.mockAuditor.EXPECT().Emit(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, e audit.Event) error {
				actions = append(actions, e.Action)
				if e.Action == string(audit.EventNeighborShifted) {
					s.Equal(audit.CategoryOperations, e.Category)
					s.Equal("shift", e.Reason)
				}
				return nil
			}).AnyTimes()

		_, err := engine.Save(s.ctx, newPosition("p1", "2024-03-01", ""))
		s.Require().NoError(err)
		s.Equal([]string{
			string(audit.EventRecordUpdated),
			string(audit.EventNeighborShifted),
			string(audit.EventRecordCreated),
		}, actions)
	})

	s.Run("publisher failure does not fail the save", func() {
		store := memory.New()
		engine := s.newEngine(store, WithAuditPublisher(s.mockAuditor))
		s.mockAuditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(assert.AnError)

		_, err := engine.Save(s.ctx, newPosition("p1", "2024-01-01", ""))
		s.NoError(err)
	})

	withOrphan := func(store *memory.Store, mode config.CascadeMode) (*Engine, *models.Record) {
		engine := s.newEngine(store, WithAuditPublisher(s.mockAuditor))
		_, err := engine.Register(personPolicy(func(p *config.Policy) {
			p.Children = []config.ChildRelation{{Kind: "unregistered", Relation: "person"}}
			p.CascadeMode = mode
		}))
		s.Require().NoError(err)

		parent := models.NewRecord("person", span("2024-01-01", ""))
		s.Require().NoError(store.Save(context.Background(), parent))
		parent.MarkPersisted()
		orphan := models.NewRecord("unregistered", span("2024-01-01", ""))
		orphan.SetParent("person", parent.ID)
		s.Require().NoError(store.Save(context.Background(), orphan))
		return engine, parent
	}

	s.Run("rolled back save emits nothing", func() {
		store := memory.New()
		engine, parent := withOrphan(store, config.CascadeStrict)
		s.mockAuditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Times(0)

		parent.Expiration = day("2024-06-01")
		_, err := engine.Save(s.ctx, parent)
		s.Require().Error(err)

		stored, err := store.FindByID(context.Background(), parent.ID)
		s.Require().NoError(err)
		s.True(stored.Expiration.IsZero())
	})

	s.Run("committed save emits its cascade failures", func() {
		store := memory.New()
		engine, parent := withOrphan(store, config.CascadeBestEffort)

		var actions []string
		s.mockAuditor.EXPECT().Emit(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, e audit.Event) error {
				actions = append(actions, e.Action)
				return nil
			}).Times(2)

		parent.Expiration = day("2024-06-01")
		res, err := engine.Save(s.ctx, parent)
		s.Require().NoError(err)
		s.Len(res.CascadeErrors, 1)
		s.Equal([]string{
			string(audit.EventCascadeFailed),
			string(audit.EventRecordUpdated),
		}, actions)
	})
}

// =============================================================================
// Strategy Configuration Tests
// =============================================================================

func (s *EngineCollaboratorSuite) TestRejectUsesCount() {
	engine := s.mockedEngine(func(p *config.Policy) { p.Strategy = config.StrategyReject })

	s.mockStore.EXPECT().CountOverlapping(gomock.Any(), gomock.Any(), span("2024-01-01", ""), gomock.Any()).Return(1, nil)

	_, err := engine.Save(s.ctx, newPosition("p1", "2024-01-01", ""))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUniquenessViolation))
}
