package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"validity/internal/temporal/config"
	"validity/internal/temporal/metrics"
	"validity/internal/temporal/models"
	"validity/internal/temporal/store/memory"
	id "validity/pkg/domain"
	dErrors "validity/pkg/domain-errors"
	"validity/pkg/requestcontext"
)

// =============================================================================
// Engine Test Suite
// =============================================================================
// Runs the temporal rules against the in-memory store so every nested write
// (shifted neighbours, clamped children) is observable afterwards.

type EngineSuite struct {
	suite.Suite
	store  *memory.Store
	engine *Engine
	ctx    context.Context
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.store = memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var err error
	s.engine, err = New(s.store,
		WithLogger(logger),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
		WithTxRunner(s.store),
	)
	s.Require().NoError(err)
	s.at("2023-06-01")
}

// at pins "today" for the engine.
func (s *EngineSuite) at(date string) {
	s.ctx = requestcontext.WithTime(context.Background(), day(date).Add(9*time.Hour))
}

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func span(eff, exp string) models.TimePeriod {
	p := models.TimePeriod{Effective: day(eff)}
	if exp != "" {
		p.Expiration = day(exp)
	}
	return p
}

func positionPolicy(mutate ...func(*config.Policy)) config.Policy {
	p := config.Policy{
		Kind:                   "position",
		Granularity:            models.GranularityDate,
		EffectiveField:         "starts_on",
		ExpirationField:        "ends_on",
		ScopeFields:            []string{"person"},
		AllowPastModifications: true,
		Strategy:               config.StrategyShift,
		CascadeMode:            config.CascadeBestEffort,
	}
	for _, m := range mutate {
		m(&p)
	}
	return p
}

func (s *EngineSuite) register(p config.Policy) {
	_, err := s.engine.Register(p)
	s.Require().NoError(err)
}

// seed writes a record straight to the store, bypassing the rules.
func (s *EngineSuite) seed(kind, person, eff, exp string) *models.Record {
	rec := models.NewRecord(kind, span(eff, exp))
	rec.SetAttribute("person", person)
	s.Require().NoError(s.store.Save(context.Background(), rec))
	rec.MarkPersisted()
	return rec
}

func (s *EngineSuite) load(recordID id.RecordID) *models.Record {
	rec, err := s.store.FindByID(context.Background(), recordID)
	s.Require().NoError(err)
	return rec
}

func (s *EngineSuite) missing(recordID id.RecordID) {
	_, err := s.engine.Get(s.ctx, recordID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func newPosition(person, eff, exp string) *models.Record {
	rec := models.NewRecord("position", span(eff, exp))
	rec.SetAttribute("person", person)
	return rec
}

// =============================================================================
// Constructor and Registry Tests
// =============================================================================

func (s *EngineSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := New(nil)
		s.Require().Error(err)
		s.Contains(err.Error(), "temporal store is required")
	})
}

func (s *EngineSuite) TestRegister() {
	s.Run("invalid policy is refused", func() {
		_, err := s.engine.Register(config.Policy{Kind: "broken"})
		s.Require().Error(err)
		s.Contains(err.Error(), "granularity")
	})

	s.Run("duplicate kind is refused", func() {
		s.register(positionPolicy())
		_, err := s.engine.Register(positionPolicy())
		s.Require().Error(err)
		s.Contains(err.Error(), "already registered")
	})

	s.Run("unknown kind cannot be saved", func() {
		_, err := s.engine.Save(s.ctx, models.NewRecord("ghost", span("2024-01-01", "")))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

// =============================================================================
// Pre-save: defaults and sanity
// =============================================================================

func (s *EngineSuite) TestSave_Sanity() {
	s.register(positionPolicy())

	s.Run("instantaneous record is nonsensical", func() {
		_, err := s.engine.Save(s.ctx, newPosition("p1", "2024-01-01", "2024-01-01"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNonsensicalInterval))
		s.Contains(err.Error(), "instantaneous")
		s.Equal(0, s.store.Len())
	})

	s.Run("reversed record is nonsensical", func() {
		_, err := s.engine.Save(s.ctx, newPosition("p1", "2024-02-01", "2024-01-01"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNonsensicalInterval))
	})

	s.Run("missing effective date defaults to today", func() {
		rec := newPosition("p2", "2024-01-01", "")
		rec.Effective = time.Time{}
		res, err := s.engine.Save(s.ctx, rec)
		s.Require().NoError(err)
		s.Equal(day("2023-06-01"), res.Record.Effective)
		s.False(rec.IsNew())
		s.True(rec.Changes().IsEmpty())
	})

	s.Run("datetime input is normalised to the granularity", func() {
		rec := newPosition("p3", "2024-01-01", "")
		rec.Effective = time.Date(2024, 1, 1, 15, 30, 0, 0, time.UTC)
		_, err := s.engine.Save(s.ctx, rec)
		s.Require().NoError(err)
		s.Equal(day("2024-01-01"), s.load(rec.ID).Effective)
	})
}

// =============================================================================
// Pre-save: uniqueness
// =============================================================================

func (s *EngineSuite) TestSave_ShiftStrategy() {
	s.Run("overlapping neighbours are truncated and pushed", func() {
		s.SetupTest()
		s.register(positionPolicy())
		first := s.seed("position", "p1", "2024-01-01", "2024-06-01")
		second := s.seed("position", "p1", "2024-06-01", "")

		incoming := newPosition("p1", "2024-03-01", "2024-09-01")
		res, err := s.engine.Save(s.ctx, incoming)
		s.Require().NoError(err)
		s.Empty(res.CascadeErrors)

		s.Equal(span("2024-01-01", "2024-03-01"), s.load(first.ID).Period())
		s.Equal(span("2024-09-01", ""), s.load(second.ID).Period())
		s.Equal(span("2024-03-01", "2024-09-01"), s.load(incoming.ID).Period())
		s.Equal(3, s.store.Len())
	})

	s.Run("neighbour extension does not undo a shift", func() {
		s.SetupTest()
		s.register(positionPolicy(func(p *config.Policy) { p.ExtendNeighbors = true }))
		first := s.seed("position", "p1", "2024-01-01", "2024-06-01")
		second := s.seed("position", "p1", "2024-06-01", "")

		_, err := s.engine.Save(s.ctx, newPosition("p1", "2024-03-01", "2024-09-01"))
		s.Require().NoError(err)
		s.Equal(span("2024-01-01", "2024-03-01"), s.load(first.ID).Period())
		s.Equal(span("2024-09-01", ""), s.load(second.ID).Period())
	})

	s.Run("record inside an open neighbour splits it", func() {
		s.SetupTest()
		s.register(positionPolicy())
		existing := s.seed("position", "p1", "2024-01-01", "")
		existing.SetAttribute("title", "Engineer")
		s.Require().NoError(s.store.Save(context.Background(), existing))

		incoming := newPosition("p1", "2024-03-01", "2024-04-01")
		_, err := s.engine.Save(s.ctx, incoming)
		s.Require().NoError(err)

		s.Equal(span("2024-01-01", "2024-03-01"), s.load(existing.ID).Period())
		found, err := s.engine.Find(s.ctx, models.Query{
			Kind: "position", Temporal: true, Date: models.QueryAt(day("2024-05-01")),
		})
		s.Require().NoError(err)
		s.Require().Len(found, 1)
		s.NotEqual(existing.ID, found[0].ID)
		s.Equal(span("2024-04-01", ""), found[0].Period())
		s.Equal("Engineer", found[0].Attributes["title"])
		s.Equal(3, s.store.Len())
	})

	s.Run("engulfed neighbour is deleted", func() {
		s.SetupTest()
		s.register(positionPolicy())
		inner := s.seed("position", "p1", "2024-02-01", "2024-03-01")

		_, err := s.engine.Save(s.ctx, newPosition("p1", "2024-01-01", ""))
		s.Require().NoError(err)
		s.missing(inner.ID)
	})

	s.Run("other scopes are untouched", func() {
		s.SetupTest()
		s.register(positionPolicy())
		other := s.seed("position", "p2", "2024-01-01", "")

		_, err := s.engine.Save(s.ctx, newPosition("p1", "2024-01-01", ""))
		s.Require().NoError(err)
		s.Equal(span("2024-01-01", ""), s.load(other.ID).Period())
	})
}

func (s *EngineSuite) TestSave_RejectStrategy() {
	s.register(positionPolicy(func(p *config.Policy) { p.Strategy = config.StrategyReject }))
	first := s.seed("position", "p1", "2024-01-01", "2024-06-01")
	second := s.seed("position", "p1", "2024-06-01", "")

	s.Run("overlap is refused and nothing changes", func() {
		incoming := newPosition("p1", "2024-03-01", "2024-09-01")
		_, err := s.engine.Save(s.ctx, incoming)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUniquenessViolation))
		s.Contains(err.Error(), "overlaps 2 existing record(s)")

		s.Equal(span("2024-01-01", "2024-06-01"), s.load(first.ID).Period())
		s.Equal(span("2024-06-01", ""), s.load(second.ID).Period())
		s.missing(incoming.ID)
	})

	s.Run("updating a record does not conflict with itself", func() {
		rec := s.load(first.ID)
		rec.Effective = day("2024-02-01")
		_, err := s.engine.Save(s.ctx, rec)
		s.NoError(err)
	})

	s.Run("bordering record is accepted", func() {
		_, err := s.engine.Save(s.ctx, newPosition("p1", "2023-01-01", "2024-02-01"))
		s.NoError(err)
	})

	s.Run("kind without scope never conflicts", func() {
		_, err := s.engine.Register(config.Policy{
			Kind: "note", Granularity: models.GranularityDate,
			EffectiveField: "from", ExpirationField: "to",
			Strategy: config.StrategyReject, CascadeMode: config.CascadeBestEffort,
			AllowPastModifications: true,
		})
		s.Require().NoError(err)
		_, err = s.engine.Save(s.ctx, models.NewRecord("note", span("2024-01-01", "")))
		s.Require().NoError(err)
		_, err = s.engine.Save(s.ctx, models.NewRecord("note", span("2024-01-01", "")))
		s.NoError(err)
	})
}

// =============================================================================
// Pre-save: past modification guard
// =============================================================================

func (s *EngineSuite) TestSave_PastModification() {
	s.register(positionPolicy(func(p *config.Policy) { p.AllowPastModifications = false }))
	s.at("2024-06-15")

	s.Run("moving a past effective date is refused", func() {
		rec := s.seed("position", "p1", "2024-01-01", "")
		rec.Effective = day("2024-07-01")
		_, err := s.engine.Save(s.ctx, rec)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodePastModification))
		s.Contains(err.Error(), "from effective")
	})

	s.Run("moving a past expiration is refused", func() {
		rec := s.seed("position", "p2", "2023-01-01", "2024-01-01")
		rec.Expiration = day("2024-12-01")
		_, err := s.engine.Save(s.ctx, rec)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodePastModification))
		s.Contains(err.Error(), "from expiration")
	})

	s.Run("new record expiring in the past is refused", func() {
		_, err := s.engine.Save(s.ctx, newPosition("p3", "2024-01-01", "2024-02-01"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodePastModification))
	})

	s.Run("editing a record already in effect is refused", func() {
		rec := s.seed("position", "p4", "2024-01-01", "")
		rec.SetAttribute("title", "Manager")
		_, err := s.engine.Save(s.ctx, rec)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodePastModification))
		s.Contains(err.Error(), "except terminating it")
	})

	s.Run("terminating a record in effect is allowed", func() {
		rec := s.seed("position", "p5", "2024-01-01", "")
		res, err := s.engine.Terminate(s.ctx, rec, time.Time{})
		s.Require().NoError(err)
		s.Equal(Retained, res.Outcome)
		s.Equal(day("2024-06-15"), s.load(rec.ID).Expiration)
	})

	s.Run("future records may change freely", func() {
		rec := s.seed("position", "p6", "2024-07-01", "")
		rec.SetAttribute("title", "Manager")
		rec.Effective = day("2024-08-01")
		_, err := s.engine.Save(s.ctx, rec)
		s.NoError(err)
	})

	s.Run("backdated new records are allowed", func() {
		_, err := s.engine.Save(s.ctx, newPosition("p7", "2024-01-01", ""))
		s.NoError(err)
	})

	s.Run("enforcement can be disabled per call", func() {
		rec := s.seed("position", "p8", "2024-01-01", "")
		rec.SetAttribute("title", "Manager")
		_, err := s.engine.Save(WithoutEnforcement(s.ctx), rec)
		s.NoError(err)
	})

	s.Run("unchanged stored record skips every check", func() {
		rec := s.seed("position", "p9", "2023-01-01", "2024-01-01")
		_, err := s.engine.Save(s.ctx, rec)
		s.NoError(err)
	})
}

// =============================================================================
// Post-save: neighbour extension
// =============================================================================

func (s *EngineSuite) TestSave_ExtendNeighbors() {
	s.register(positionPolicy(func(p *config.Policy) { p.ExtendNeighbors = true }))
	first := s.seed("position", "p1", "2024-01-01", "2024-03-01")
	second := s.seed("position", "p1", "2024-03-01", "")

	s.Run("later start stretches the previous neighbour", func() {
		rec := s.load(second.ID)
		rec.Effective = day("2024-04-01")
		_, err := s.engine.Save(s.ctx, rec)
		s.Require().NoError(err)
		s.Equal(span("2024-01-01", "2024-04-01"), s.load(first.ID).Period())
	})

	s.Run("earlier end pulls the next neighbour back", func() {
		rec := s.load(first.ID)
		rec.Expiration = day("2024-02-01")
		_, err := s.engine.Save(s.ctx, rec)
		s.Require().NoError(err)
		s.Equal(span("2024-02-01", ""), s.load(second.ID).Period())
	})

	s.Run("neighbour lookup by current bounds", func() {
		rec := s.load(second.ID)
		prev, err := s.engine.Previous(s.ctx, rec, false)
		s.Require().NoError(err)
		s.Require().NotNil(prev)
		s.Equal(first.ID, prev.ID)

		next, err := s.engine.Next(s.ctx, s.load(first.ID), false)
		s.Require().NoError(err)
		s.Require().NotNil(next)
		s.Equal(second.ID, next.ID)

		none, err := s.engine.Next(s.ctx, rec, false)
		s.Require().NoError(err)
		s.Nil(none, "open-ended records have no next neighbour")
	})
}

// =============================================================================
// Parents and children
// =============================================================================

func personPolicy(mutate ...func(*config.Policy)) config.Policy {
	p := config.Policy{
		Kind:                   "person",
		Granularity:            models.GranularityDate,
		EffectiveField:         "born_on",
		ExpirationField:        "left_on",
		Children:               []config.ChildRelation{{Kind: "position", Relation: "person"}},
		AllowPastModifications: true,
		Strategy:               config.StrategyShift,
		CascadeMode:            config.CascadeBestEffort,
	}
	for _, m := range mutate {
		m(&p)
	}
	return p
}

func (s *EngineSuite) savePerson(eff, exp string) *models.Record {
	rec := models.NewRecord("person", span(eff, exp))
	_, err := s.engine.Save(s.ctx, rec)
	s.Require().NoError(err)
	return rec
}

func (s *EngineSuite) childOf(parent *models.Record, eff, exp string) *models.Record {
	rec := models.NewRecord("position", span(eff, exp))
	rec.SetParent("person", parent.ID)
	return rec
}

func (s *EngineSuite) TestSave_ParentContainment() {
	s.register(personPolicy())
	s.register(positionPolicy(func(p *config.Policy) { p.Parents = []string{"person"} }))
	parent := s.savePerson("2024-03-01", "2024-06-01")

	s.Run("child is clamped into its parent", func() {
		child := s.childOf(parent, "2024-01-01", "2024-12-31")
		res, err := s.engine.Save(s.ctx, child)
		s.Require().NoError(err)
		s.False(res.Deleted)
		s.Equal(span("2024-03-01", "2024-06-01"), s.load(child.ID).Period())
	})

	s.Run("child outside its parent collapses and is not stored", func() {
		child := s.childOf(parent, "2024-07-01", "2024-08-01")
		res, err := s.engine.Save(s.ctx, child)
		s.Require().NoError(err)
		s.True(res.Deleted)
		s.missing(child.ID)
	})

	s.Run("missing parent is invalid input", func() {
		child := models.NewRecord("position", span("2024-03-01", ""))
		child.SetParent("person", id.NewRecordID())
		_, err := s.engine.Save(s.ctx, child)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *EngineSuite) TestSave_ChildPropagation() {
	s.register(personPolicy())
	s.register(positionPolicy(func(p *config.Policy) { p.Parents = []string{"person"} }))
	parent := s.savePerson("2024-01-01", "")

	early := s.childOf(parent, "2024-01-01", "2024-09-01")
	late := s.childOf(parent, "2024-09-01", "")
	for _, c := range []*models.Record{early, late} {
		_, err := s.engine.Save(s.ctx, c)
		s.Require().NoError(err)
	}

	parent.Expiration = day("2024-06-01")
	res, err := s.engine.Save(s.ctx, parent)
	s.Require().NoError(err)
	s.Empty(res.CascadeErrors)

	s.Equal(span("2024-01-01", "2024-06-01"), s.load(early.ID).Period())
	s.missing(late.ID)
}

func (s *EngineSuite) TestSave_FollowParentBoundaries() {
	s.register(personPolicy(func(p *config.Policy) { p.FollowParentBoundaries = true }))
	s.register(positionPolicy(func(p *config.Policy) {
		p.Parents = []string{"person"}
		p.ScopeFields = nil
	}))
	parent := s.savePerson("2024-01-01", "2024-06-01")

	matching := s.childOf(parent, "2024-01-01", "2024-06-01")
	inner := s.childOf(parent, "2024-02-01", "2024-05-01")
	for _, c := range []*models.Record{matching, inner} {
		_, err := s.engine.Save(s.ctx, c)
		s.Require().NoError(err)
	}

	parent.Expiration = day("2024-09-01")
	_, err := s.engine.Save(s.ctx, parent)
	s.Require().NoError(err)
	s.Equal(span("2024-01-01", "2024-09-01"), s.load(matching.ID).Period())
	s.Equal(span("2024-02-01", "2024-05-01"), s.load(inner.ID).Period())

	parent.Effective = day("2023-12-01")
	_, err = s.engine.Save(s.ctx, parent)
	s.Require().NoError(err)
	s.Equal(span("2023-12-01", "2024-09-01"), s.load(matching.ID).Period())
}

func (s *EngineSuite) TestSave_CascadeModes() {
	orphanOf := func(parent *models.Record) *models.Record {
		child := models.NewRecord("unregistered", span("2024-01-01", ""))
		child.SetParent("person", parent.ID)
		s.Require().NoError(s.store.Save(context.Background(), child))
		return child
	}
	withOrphans := func(p *config.Policy) {
		p.Children = []config.ChildRelation{{Kind: "unregistered", Relation: "person"}}
	}

	s.Run("best effort keeps the primary save and reports failures", func() {
		s.SetupTest()
		s.register(personPolicy(withOrphans))
		parent := s.savePerson("2024-01-01", "")
		orphanOf(parent)

		parent.Expiration = day("2024-06-01")
		res, err := s.engine.Save(s.ctx, parent)
		s.Require().NoError(err)
		s.Len(res.CascadeErrors, 1)
		s.Contains(res.CascadeErrors[0].Error(), "limit_children:unregistered")
		s.Equal(day("2024-06-01"), s.load(parent.ID).Expiration)
	})

	s.Run("strict mode rolls the whole save back", func() {
		s.SetupTest()
		s.register(personPolicy(withOrphans, func(p *config.Policy) { p.CascadeMode = config.CascadeStrict }))
		parent := s.savePerson("2024-01-01", "")
		orphanOf(parent)

		parent.Expiration = day("2024-06-01")
		_, err := s.engine.Save(s.ctx, parent)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
		s.True(s.load(parent.ID).Expiration.IsZero())
	})

	s.Run("terminate reports tolerated failures", func() {
		s.SetupTest()
		s.register(personPolicy(withOrphans))
		parent := s.savePerson("2024-01-01", "")
		orphanOf(parent)

		res, err := s.engine.Terminate(s.ctx, parent, day("2024-06-01"))
		s.Require().NoError(err)
		s.Equal(Retained, res.Outcome)
		s.Require().Len(res.CascadeErrors, 1)
		s.Contains(res.CascadeErrors[0].Error(), "limit_children:unregistered")
	})

	s.Run("split reports tolerated failures", func() {
		s.SetupTest()
		s.register(personPolicy(withOrphans))
		parent := s.savePerson("2024-01-01", "")
		orphanOf(parent)

		res, err := s.engine.Split(s.ctx, parent, day("2024-06-01"))
		s.Require().NoError(err)
		s.NotEqual(parent.ID, res.Record.ID)
		s.Require().Len(res.CascadeErrors, 1)
		s.Contains(res.CascadeErrors[0].Error(), "limit_children:unregistered")
	})
}

// =============================================================================
// Queries
// =============================================================================

func (s *EngineSuite) TestFind() {
	s.register(positionPolicy())
	first := s.seed("position", "p1", "2024-01-01", "2024-06-01")
	second := s.seed("position", "p1", "2024-06-01", "")
	s.seed("position", "p2", "2024-01-01", "")

	query := func(date models.QueryDate) []*models.Record {
		found, err := s.engine.Find(s.ctx, models.Query{
			Kind: "position", Where: map[string]string{"person": "p1"}, Temporal: true, Date: date,
		})
		s.Require().NoError(err)
		return found
	}

	s.Run("explicit date", func() {
		found := query(models.QueryAt(day("2024-03-01")))
		s.Require().Len(found, 1)
		s.Equal(first.ID, found[0].ID)
	})

	s.Run("expiration date is exclusive", func() {
		found := query(models.QueryAt(day("2024-06-01")))
		s.Require().Len(found, 1)
		s.Equal(second.ID, found[0].ID)
	})

	s.Run("unspecified date means today", func() {
		s.Empty(query(models.QueryDate{}))
		s.at("2024-07-01")
		found := query(models.QueryToday())
		s.Require().Len(found, 1)
		s.Equal(second.ID, found[0].ID)
	})

	s.Run("disabled date returns every version", func() {
		s.Len(query(models.QueryAllDates()), 2)
	})

	s.Run("non-temporal query ignores dates", func() {
		found, err := s.engine.Find(s.ctx, models.Query{Kind: "position", Date: models.QueryAt(day("2020-01-01"))})
		s.Require().NoError(err)
		s.Len(found, 3)
	})
}

// =============================================================================
// Split, Terminate, Delete
// =============================================================================

func (s *EngineSuite) TestSplit() {
	s.register(positionPolicy(func(p *config.Policy) { p.ExtendNeighbors = true }))

	s.Run("record continues in a successor", func() {
		rec := s.seed("position", "p1", "2024-01-01", "")
		rec.SetAttribute("title", "Engineer")
		s.Require().NoError(s.store.Save(context.Background(), rec))

		res, err := s.engine.Split(s.ctx, rec, day("2024-04-01"))
		s.Require().NoError(err)
		successor := res.Record
		s.NotEqual(rec.ID, successor.ID)
		s.Equal(span("2024-01-01", "2024-04-01"), s.load(rec.ID).Period())
		s.Equal(span("2024-04-01", ""), s.load(successor.ID).Period())
		s.Equal("Engineer", s.load(successor.ID).Attributes["title"])
	})

	s.Run("following neighbour is left alone", func() {
		rec := s.seed("position", "p2", "2024-01-01", "2024-06-01")
		next := s.seed("position", "p2", "2024-06-01", "")

		res, err := s.engine.Split(s.ctx, rec, day("2024-03-01"))
		s.Require().NoError(err)
		s.Equal(span("2024-03-01", "2024-06-01"), s.load(res.Record.ID).Period())
		s.Equal(span("2024-06-01", ""), s.load(next.ID).Period())
	})

	s.Run("split at or before the start returns the record itself", func() {
		rec := s.seed("position", "p3", "2024-01-01", "")
		res, err := s.engine.Split(s.ctx, rec, day("2024-01-01"))
		s.Require().NoError(err)
		s.Equal(rec.ID, res.Record.ID)
	})
}

func (s *EngineSuite) TestTerminate() {
	s.register(positionPolicy())

	s.Run("termination at the effective date removes the record", func() {
		rec := s.seed("position", "p1", "2024-01-01", "")
		res, err := s.engine.Terminate(s.ctx, rec, day("2024-01-01"))
		s.Require().NoError(err)
		s.Equal(Removed, res.Outcome)
		s.Equal("removed", res.Outcome.String())
		s.missing(rec.ID)
	})

	s.Run("termination after the effective date retains the record", func() {
		rec := s.seed("position", "p2", "2024-01-01", "")
		res, err := s.engine.Terminate(s.ctx, rec, day("2024-05-01"))
		s.Require().NoError(err)
		s.Equal(Retained, res.Outcome)
		s.Equal(span("2024-01-01", "2024-05-01"), s.load(rec.ID).Period())
	})
}

func (s *EngineSuite) TestDelete() {
	s.register(personPolicy())
	s.register(positionPolicy(func(p *config.Policy) { p.Parents = []string{"person"} }))
	parent := s.savePerson("2024-01-01", "")
	child := s.childOf(parent, "2024-02-01", "")
	_, err := s.engine.Save(s.ctx, child)
	s.Require().NoError(err)

	s.Require().NoError(s.engine.Delete(s.ctx, parent.ID))
	s.missing(parent.ID)
	s.missing(child.ID)

	err = s.engine.Delete(s.ctx, parent.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *EngineSuite) TestOverlapping() {
	s.register(positionPolicy())
	s.seed("position", "p1", "2024-01-01", "2024-06-01")
	s.seed("position", "p1", "2024-06-01", "")

	probe := newPosition("p1", "2024-05-01", "2024-07-01")
	found, err := s.engine.Overlapping(s.ctx, probe)
	s.Require().NoError(err)
	s.Len(found, 2)
}
