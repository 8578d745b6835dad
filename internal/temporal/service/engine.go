// Package service implements the temporal rules: per-kind policies that
// validate, clamp and shift records around every save, and the Engine that
// sequences policy hooks, storage and cascades.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"validity/internal/temporal/config"
	"validity/internal/temporal/metrics"
	"validity/internal/temporal/models"
	"validity/internal/temporal/ports"
	id "validity/pkg/domain"
	dErrors "validity/pkg/domain-errors"
	"validity/pkg/platform/audit"
	"validity/pkg/platform/sentinel"
)

// Engine plays the role of the host persistence layer: it owns the policy
// registry and runs every write through the owning kind's hooks. Writes the
// policies issue on other records (shifted neighbours, clamped children) go
// back through the engine so those records' hooks run too.
type Engine struct {
	store    ports.Store
	tx       ports.TxRunner
	locker   ports.ScopeLocker
	auditor  ports.AuditPublisher
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	policies map[string]*Policy
}

// Option configures the Engine.
type Option func(*Engine)

// WithTxRunner makes every top-level operation atomic.
func WithTxRunner(tx ports.TxRunner) Option {
	return func(e *Engine) {
		e.tx = tx
	}
}

// WithScopeLocker serialises concurrent writers of the same scope.
func WithScopeLocker(l ports.ScopeLocker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

func WithAuditPublisher(p ports.AuditPublisher) Option {
	return func(e *Engine) {
		e.auditor = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// New creates an engine over store. Register policies before use.
func New(store ports.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("temporal store is required")
	}
	e := &Engine{
		store:    store,
		logger:   slog.Default(),
		tracer:   otel.Tracer("validity/temporal"),
		policies: make(map[string]*Policy),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Register validates cfg and installs it as the policy of cfg.Kind.
func (e *Engine) Register(cfg config.Policy) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, exists := e.policies[cfg.Kind]; exists {
		return nil, fmt.Errorf("policy for kind %q already registered", cfg.Kind)
	}
	p := &Policy{cfg: cfg, engine: e}
	e.policies[cfg.Kind] = p
	return p, nil
}

// Policy returns the registered policy of kind.
func (e *Engine) Policy(kind string) (*Policy, bool) {
	p, ok := e.policies[kind]
	return p, ok
}

// Kinds lists registered kinds.
func (e *Engine) Kinds() []string {
	kinds := make([]string, 0, len(e.policies))
	for k := range e.policies {
		kinds = append(kinds, k)
	}
	return kinds
}

func (e *Engine) policyFor(kind string) (*Policy, error) {
	p, ok := e.policies[kind]
	if !ok {
		return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unknown kind %q", kind))
	}
	return p, nil
}

// SaveResult describes the outcome of a save.
type SaveResult struct {
	Record *models.Record
	// Deleted is set when the record collapsed against a parent and was
	// removed instead of written.
	Deleted bool
	// CascadeErrors are post-save failures tolerated in best-effort mode.
	CascadeErrors []error
}

// Save runs rec through its kind's policy and stores it. On success rec is
// marked persisted.
func (e *Engine) Save(ctx context.Context, rec *models.Record) (*SaveResult, error) {
	ctx, span := e.tracer.Start(ctx, "temporal.Save", trace.WithAttributes(
		attribute.String("temporal.kind", rec.Kind),
		attribute.String("temporal.record_id", rec.ID.String()),
	))
	defer span.End()
	start := time.Now()
	ctx, collected := withCascadeCollector(ctx)

	pol, err := e.policyFor(rec.Kind)
	if err != nil {
		e.recordFailure(span, rec.Kind, err)
		return nil, err
	}
	ctx, release, err := e.holdScope(ctx, pol, rec)
	if err != nil {
		e.recordFailure(span, rec.Kind, err)
		return nil, err
	}
	defer release()

	var result *SaveResult
	err = e.atomically(ctx, func(ctx context.Context) error {
		var err error
		result, err = e.save(ctx, rec)
		return err
	})
	if err != nil {
		e.recordFailure(span, rec.Kind, err)
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.ObserveSaveDuration(rec.Kind, time.Since(start))
	}
	result.CascadeErrors = collected.errs
	span.SetAttributes(attribute.Int("temporal.cascade_errors", len(result.CascadeErrors)))
	return result, nil
}

// save is the nested form of Save used by policies for their own writes.
func (e *Engine) save(ctx context.Context, rec *models.Record) (*SaveResult, error) {
	pol, err := e.policyFor(rec.Kind)
	if err != nil {
		return nil, err
	}

	if err := e.lockScope(ctx, pol, rec); err != nil {
		return nil, err
	}

	wasNew := rec.IsNew()
	verdict, err := pol.BeforeSave(ctx, rec)
	if err != nil {
		return nil, err
	}

	if verdict == VerdictDiscard {
		if !wasNew {
			if err := e.remove(ctx, rec, "clamp"); err != nil {
				return nil, err
			}
		}
		if e.metrics != nil {
			e.metrics.IncrementSaves(rec.Kind, "discarded")
		}
		return &SaveResult{Record: rec, Deleted: true}, nil
	}

	if err := e.store.Save(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("save %s record", rec.Kind))
	}

	cascadeErrs, err := pol.AfterSave(ctx, rec)
	if err != nil {
		return nil, err
	}
	collectCascadeErrors(ctx, cascadeErrs)
	rec.MarkPersisted()

	action, outcome := audit.EventRecordUpdated, "updated"
	if wasNew {
		action, outcome = audit.EventRecordCreated, "created"
	}
	if e.metrics != nil {
		e.metrics.IncrementSaves(rec.Kind, outcome)
	}
	e.audit(ctx, pol, rec, action, "")

	return &SaveResult{Record: rec, CascadeErrors: cascadeErrs}, nil
}

type cascadeCollectorKey struct{}

// cascadeCollector gathers tolerated cascade failures of every nested save
// made on behalf of one top-level save.
type cascadeCollector struct {
	errs []error
}

func withCascadeCollector(ctx context.Context) (context.Context, *cascadeCollector) {
	c := &cascadeCollector{}
	return context.WithValue(ctx, cascadeCollectorKey{}, c), c
}

func collectCascadeErrors(ctx context.Context, errs []error) {
	if len(errs) == 0 {
		return
	}
	if c, ok := ctx.Value(cascadeCollectorKey{}).(*cascadeCollector); ok {
		c.errs = append(c.errs, errs...)
	}
}

// Get loads a record.
func (e *Engine) Get(ctx context.Context, recordID id.RecordID) (*models.Record, error) {
	rec, err := e.store.FindByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("record %s not found", recordID))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load record")
	}
	return rec, nil
}

// Delete removes a record and, recursively, the records of its configured
// child relations.
func (e *Engine) Delete(ctx context.Context, recordID id.RecordID) error {
	ctx, span := e.tracer.Start(ctx, "temporal.Delete", trace.WithAttributes(
		attribute.String("temporal.record_id", recordID.String()),
	))
	defer span.End()

	rec, err := e.Get(ctx, recordID)
	if err != nil {
		e.recordFailure(span, "", err)
		return err
	}
	if pol, ok := e.policies[rec.Kind]; ok {
		var release func()
		ctx, release, err = e.holdScope(ctx, pol, rec)
		if err != nil {
			e.recordFailure(span, rec.Kind, err)
			return err
		}
		defer release()
	}
	err = e.atomically(ctx, func(ctx context.Context) error {
		return e.remove(ctx, rec, "")
	})
	if err != nil {
		e.recordFailure(span, rec.Kind, err)
	}
	return err
}

// remove deletes rec and its children. reason is empty for direct deletes.
func (e *Engine) remove(ctx context.Context, rec *models.Record, reason string) error {
	pol, ok := e.policies[rec.Kind]
	if ok {
		for _, child := range pol.cfg.Children {
			children, err := e.store.FindChildren(ctx, child.Kind, child.Relation, rec.ID)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("load %s children", child.Kind))
			}
			for _, c := range children {
				if err := e.remove(ctx, c, "parent_deleted"); err != nil {
					return err
				}
			}
		}
	}

	if err := e.store.Delete(ctx, rec.ID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("delete %s record", rec.Kind))
	}
	if e.metrics != nil {
		r := reason
		if r == "" {
			r = "direct"
		}
		e.metrics.IncrementDeletes(rec.Kind, r)
	}
	e.audit(ctx, pol, rec, audit.EventRecordDeleted, reason)
	return nil
}

// Find runs q through the kind's BeforeQuery hook and the store.
func (e *Engine) Find(ctx context.Context, q models.Query) ([]*models.Record, error) {
	ctx, span := e.tracer.Start(ctx, "temporal.Find", trace.WithAttributes(
		attribute.String("temporal.kind", q.Kind),
	))
	defer span.End()

	pol, err := e.policyFor(q.Kind)
	if err != nil {
		return nil, err
	}
	if err := pol.BeforeQuery(ctx, &q); err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.IncrementQueries(q.Kind, queryMode(q))
	}
	records, err := e.store.Find(ctx, q)
	if err != nil {
		e.recordFailure(span, q.Kind, err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("query %s records", q.Kind))
	}
	return records, nil
}

func queryMode(q models.Query) string {
	switch {
	case !q.Temporal:
		return "plain"
	case q.AsOf.IsZero():
		return "all_dates"
	default:
		return "as_of"
	}
}

// atomically runs fn inside the configured transaction runner, if any.
// Under a runner, audit events raised by fn are held back and emitted inside
// the transaction only once fn has succeeded, so a rolled-back operation
// emits nothing.
func (e *Engine) atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.tx == nil {
		return fn(ctx)
	}
	return e.tx.RunInTx(ctx, func(ctx context.Context) error {
		ctx, pending := withPendingAudit(ctx)
		if err := fn(ctx); err != nil {
			return err
		}
		for _, event := range pending.events {
			ports.LogAudit(ctx, e.logger, e.auditor, event)
		}
		return nil
	})
}

type pendingAuditKey struct{}

type pendingAudit struct {
	events []audit.Event
}

func withPendingAudit(ctx context.Context) (context.Context, *pendingAudit) {
	p := &pendingAudit{}
	return context.WithValue(ctx, pendingAuditKey{}, p), p
}

func (e *Engine) audit(ctx context.Context, pol *Policy, rec *models.Record, action audit.AuditEvent, reason string) {
	g := models.GranularityDateTime
	if pol != nil {
		g = pol.cfg.Granularity
	}
	event := audit.Event{
		RecordID:   rec.ID,
		Kind:       rec.Kind,
		Action:     string(action),
		Effective:  g.Format(rec.Effective),
		Expiration: g.Format(rec.Expiration),
		Reason:     reason,
	}
	if p, ok := ctx.Value(pendingAuditKey{}).(*pendingAudit); ok {
		p.events = append(p.events, event)
		return
	}
	ports.LogAudit(ctx, e.logger, e.auditor, event)
}

func (e *Engine) recordFailure(span trace.Span, kind string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	if e.metrics == nil || kind == "" {
		return
	}
	switch code := dErrors.CodeOf(err); code {
	case dErrors.CodeNonsensicalInterval, dErrors.CodePastModification, dErrors.CodeUniquenessViolation:
		e.metrics.IncrementRejections(kind, string(code))
	}
}
