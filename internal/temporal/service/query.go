package service

import (
	"context"
	"fmt"

	"validity/internal/temporal/models"
	dErrors "validity/pkg/domain-errors"
	"validity/pkg/requestcontext"
)

// BeforeQuery turns the query date of a temporal query into an as-of filter:
// effective <= d AND (expiration IS NULL OR expiration > d).
func (p *Policy) BeforeQuery(ctx context.Context, q *models.Query) error {
	if q.Kind != p.cfg.Kind {
		return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("query for %q sent to %q policy", q.Kind, p.cfg.Kind))
	}
	if !q.Temporal {
		return nil
	}
	if asOf, ok := q.Date.Resolve(p.cfg.Granularity, requestcontext.Now(ctx)); ok {
		q.AsOf = asOf
	}
	return nil
}

// Previous returns the record of the same scope that ends where rec starts.
// With usePrior the stored effective date is used instead of the current one.
func (e *Engine) Previous(ctx context.Context, rec *models.Record, usePrior bool) (*models.Record, error) {
	pol, err := e.policyFor(rec.Kind)
	if err != nil {
		return nil, err
	}
	value := rec.Effective
	if usePrior {
		value = rec.PriorPeriod().Effective
	}
	return pol.neighbor(ctx, rec, models.EdgeExpiration, value)
}

// Next returns the record of the same scope that starts where rec ends.
// Open-ended records have no next neighbour.
func (e *Engine) Next(ctx context.Context, rec *models.Record, usePrior bool) (*models.Record, error) {
	pol, err := e.policyFor(rec.Kind)
	if err != nil {
		return nil, err
	}
	value := rec.Expiration
	if usePrior {
		value = rec.PriorPeriod().Expiration
	}
	if value.IsZero() {
		return nil, nil
	}
	return pol.neighbor(ctx, rec, models.EdgeEffective, value)
}

// Overlapping returns the records of rec's scope that overlap it. Kinds
// without scope fields never overlap anything.
func (e *Engine) Overlapping(ctx context.Context, rec *models.Record) ([]*models.Record, error) {
	pol, err := e.policyFor(rec.Kind)
	if err != nil {
		return nil, err
	}
	if !pol.cfg.HasScope() {
		return nil, nil
	}
	scope := models.ScopeOf(rec, pol.cfg.ScopeFields)
	found, err := e.store.FindOverlapping(ctx, scope, rec.Period(), rec.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("find overlapping %s records", rec.Kind))
	}
	return found, nil
}
