package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"validity/internal/temporal/models"
	"validity/pkg/platform/audit"
)

// Split ends rec at eff and continues its data in a new record starting at
// eff with rec's old expiration. A zero eff means today. The result carries
// the successor; when rec does not start before eff there is nothing to split
// and the result carries rec itself.
func (e *Engine) Split(ctx context.Context, rec *models.Record, eff time.Time) (*SaveResult, error) {
	ctx, span := e.tracer.Start(ctx, "temporal.Split", trace.WithAttributes(
		attribute.String("temporal.kind", rec.Kind),
		attribute.String("temporal.record_id", rec.ID.String()),
	))
	defer span.End()

	pol, err := e.policyFor(rec.Kind)
	if err != nil {
		return nil, err
	}
	if eff.IsZero() {
		eff = pol.Today(ctx)
	}
	eff = pol.cfg.Granularity.Normalize(eff)
	if !rec.Effective.Before(eff) {
		return &SaveResult{Record: rec}, nil
	}

	ctx, collected := withCascadeCollector(ctx)
	ctx, release, err := e.holdScope(ctx, pol, rec)
	if err != nil {
		e.recordFailure(span, rec.Kind, err)
		return nil, err
	}
	defer release()

	successor := rec.Duplicate()
	successor.Effective = eff
	rec.Expiration = eff

	err = e.atomically(ctx, func(ctx context.Context) error {
		if _, err := e.save(withShiftWrite(ctx), rec); err != nil {
			return err
		}
		_, err := e.save(ctx, successor)
		return err
	})
	if err != nil {
		e.recordFailure(span, rec.Kind, err)
		return nil, err
	}
	e.audit(ctx, pol, successor, audit.EventRecordSplit, "")
	return &SaveResult{Record: successor, CascadeErrors: collected.errs}, nil
}

// TerminateOutcome says whether a terminated record still exists.
type TerminateOutcome int

const (
	// Retained: the record now expires at the termination date.
	Retained TerminateOutcome = iota
	// Removed: the termination date was not after the effective date, so the record was deleted.
	Removed
)

func (o TerminateOutcome) String() string {
	if o == Removed {
		return "removed"
	}
	return "retained"
}

// TerminateResult describes the outcome of a termination.
type TerminateResult struct {
	Outcome TerminateOutcome
	// CascadeErrors are post-save failures tolerated in best-effort mode.
	CascadeErrors []error
}

// Terminate expires rec at exp (today when zero). A record terminated on or
// before its effective date is deleted.
func (e *Engine) Terminate(ctx context.Context, rec *models.Record, exp time.Time) (*TerminateResult, error) {
	ctx, span := e.tracer.Start(ctx, "temporal.Terminate", trace.WithAttributes(
		attribute.String("temporal.kind", rec.Kind),
		attribute.String("temporal.record_id", rec.ID.String()),
	))
	defer span.End()

	pol, err := e.policyFor(rec.Kind)
	if err != nil {
		return nil, err
	}
	if exp.IsZero() {
		exp = pol.Today(ctx)
	}
	rec.Expiration = pol.cfg.Granularity.Normalize(exp)

	ctx, collected := withCascadeCollector(ctx)
	ctx, release, err := e.holdScope(ctx, pol, rec)
	if err != nil {
		e.recordFailure(span, rec.Kind, err)
		return nil, err
	}
	defer release()

	if !rec.Effective.Before(rec.Expiration) {
		err := e.atomically(ctx, func(ctx context.Context) error {
			return e.remove(ctx, rec, "")
		})
		if err != nil {
			e.recordFailure(span, rec.Kind, err)
			return nil, err
		}
		return &TerminateResult{Outcome: Removed}, nil
	}

	err = e.atomically(ctx, func(ctx context.Context) error {
		_, err := e.save(ctx, rec)
		return err
	})
	if err != nil {
		e.recordFailure(span, rec.Kind, err)
		return nil, err
	}
	e.audit(ctx, pol, rec, audit.EventRecordTerminated, "")
	return &TerminateResult{Outcome: Retained, CascadeErrors: collected.errs}, nil
}
