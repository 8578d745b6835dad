package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"validity/internal/temporal/config"
	"validity/internal/temporal/models"
	dErrors "validity/pkg/domain-errors"
	"validity/pkg/platform/sentinel"
	"validity/pkg/requestcontext"
)

// Policy applies the temporal rules of one kind. It implements Hooks.
type Policy struct {
	cfg    config.Policy
	engine *Engine
}

var _ Hooks = (*Policy)(nil)

// Config returns the policy's configuration.
func (p *Policy) Config() config.Policy {
	return p.cfg
}

// Today is the request's current date at the policy's granularity.
func (p *Policy) Today(ctx context.Context) time.Time {
	return p.cfg.Granularity.Today(requestcontext.Now(ctx))
}

// BeforeSave runs, in order: effective-date defaulting, parent containment,
// the sanity check, the past-modification guard and the uniqueness rule.
// The last three are skipped for a stored record without changes.
func (p *Policy) BeforeSave(ctx context.Context, rec *models.Record) (Verdict, error) {
	today := p.Today(ctx)
	rec.SetPeriod(p.cfg.Granularity.NormalizePeriod(rec.Period()))
	if rec.Effective.IsZero() {
		rec.Effective = today
	}

	collapsed, err := p.limitToParents(ctx, rec)
	if err != nil {
		return VerdictProceed, err
	}
	if collapsed {
		return VerdictDiscard, nil
	}

	if !rec.IsNew() && rec.Changes().IsEmpty() {
		return VerdictProceed, nil
	}

	if err := p.checkSanity(rec); err != nil {
		return VerdictProceed, err
	}

	if !p.cfg.AllowPastModifications && !enforcementDisabled(ctx) {
		if err := p.checkPastModification(rec, today); err != nil {
			return VerdictProceed, err
		}
	}

	if err := p.enforceUniqueness(ctx, rec); err != nil {
		return VerdictProceed, err
	}
	return VerdictProceed, nil
}

// limitToParents clamps rec inside every referenced parent. It reports true
// when nothing of rec survives.
func (p *Policy) limitToParents(ctx context.Context, rec *models.Record) (bool, error) {
	for _, relation := range p.cfg.Parents {
		parentID, ok := rec.Parent(relation)
		if !ok {
			continue
		}
		parent, err := p.engine.store.FindByID(ctx, parentID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return false, dErrors.New(dErrors.CodeInvalidInput,
					fmt.Sprintf("%s record references missing %s %s", rec.Kind, relation, parentID))
			}
			return false, dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("load %s parent", relation))
		}

		clamp := rec.Period().Clamp(parent.Period())
		if clamp.Collapsed {
			p.engine.logger.InfoContext(ctx, "record collapsed against parent",
				"kind", rec.Kind,
				"record_id", rec.ID.String(),
				"relation", relation,
				"parent_period", parent.Period().String(),
			)
			return true, nil
		}
		if clamp.Changed {
			rec.SetPeriod(clamp.Period)
		}
	}
	return false, nil
}

func (p *Policy) checkSanity(rec *models.Record) error {
	period := rec.Period()
	if !period.IsNonsensical() {
		return nil
	}
	g := p.cfg.Granularity
	if period.IsInstantaneous() {
		return dErrors.New(dErrors.CodeNonsensicalInterval, fmt.Sprintf(
			"won't save instantaneous %s record with %s and %s both %s",
			rec.Kind, p.cfg.EffectiveField, p.cfg.ExpirationField, g.Format(rec.Effective)))
	}
	return dErrors.New(dErrors.CodeNonsensicalInterval, fmt.Sprintf(
		"won't save %s record with %s after %s: %s > %s",
		rec.Kind, p.cfg.EffectiveField, p.cfg.ExpirationField, g.Format(rec.Effective), g.Format(rec.Expiration)))
}

// checkPastModification refuses edits that would rewrite history: moving a
// bound that already lies in the past, expiring a record in the past, or
// changing anything but the expiration of a record that is already in effect.
func (p *Policy) checkPastModification(rec *models.Record, today time.Time) error {
	changes := rec.Changes()
	g := p.cfg.Granularity

	reject := func(what string, date time.Time) error {
		return dErrors.New(dErrors.CodePastModification,
			fmt.Sprintf("won't modify past %s %s date: %s", rec.Kind, what, g.Format(date)))
	}
	switch {
	case changes.Effective != nil && !changes.Effective.IsZero() && changes.Effective.Before(today):
		return reject("from effective", *changes.Effective)
	case changes.Expiration != nil && !changes.Expiration.IsZero() && changes.Expiration.Before(today):
		return reject("from expiration", *changes.Expiration)
	case !rec.Expiration.IsZero() && rec.Expiration.Before(today):
		return reject("expiration", rec.Expiration)
	}

	if rec.IsNew() || !rec.Effective.Before(today) {
		return nil
	}
	for _, field := range changes.Fields(p.cfg.EffectiveField, p.cfg.ExpirationField) {
		if field == p.cfg.ExpirationField {
			continue
		}
		return dErrors.New(dErrors.CodePastModification, fmt.Sprintf(
			"won't modify current %s record except terminating it: %s changed as of %s",
			rec.Kind, field, g.Format(today)))
	}
	return nil
}
