package service

import (
	"context"
	"fmt"
	"time"

	"validity/internal/temporal/config"
	"validity/internal/temporal/models"
	dErrors "validity/pkg/domain-errors"
	"validity/pkg/platform/audit"
)

// AfterSave extends bordering neighbours over any gap the save opened, moves
// children that shared a moved boundary, and re-clamps every child inside
// rec. In best-effort mode failures are collected and returned; in strict
// mode the first failure aborts.
func (p *Policy) AfterSave(ctx context.Context, rec *models.Record) ([]error, error) {
	ctx, shiftWrite := takeShiftWrite(ctx)
	changes := rec.Changes()
	var tolerated []error

	fail := func(step string, err error) error {
		if p.cfg.CascadeMode == config.CascadeStrict {
			return err
		}
		p.engine.logger.WarnContext(ctx, "post-save cascade failed",
			"kind", rec.Kind,
			"record_id", rec.ID.String(),
			"step", step,
			"error", err,
		)
		if p.engine.metrics != nil {
			p.engine.metrics.IncrementCascadeFailures(rec.Kind)
		}
		p.engine.audit(ctx, p, rec, audit.EventCascadeFailed, step)
		tolerated = append(tolerated, fmt.Errorf("%s: %w", step, err))
		return nil
	}

	if p.cfg.ExtendNeighbors && changes.PeriodChanged() && !shiftWrite {
		if err := p.extendNeighbors(ctx, rec, changes); err != nil {
			if err := fail("extend_neighbors", err); err != nil {
				return nil, err
			}
		}
	}

	if p.cfg.FollowParentBoundaries && !rec.IsNew() && changes.PeriodChanged() {
		if err := p.followBoundaries(ctx, rec, changes); err != nil {
			if err := fail("follow_parent_boundaries", err); err != nil {
				return nil, err
			}
		}
	}

	for _, child := range p.cfg.Children {
		if err := p.limitChildren(ctx, rec, child); err != nil {
			if err := fail("limit_children:"+child.Kind, err); err != nil {
				return nil, err
			}
		}
	}
	return tolerated, nil
}

// extendNeighbors looks up neighbours by the record's stored bounds. A
// previous neighbour that ended where rec used to start is stretched to rec's
// new start; a next neighbour that started where rec used to end is pulled
// back to rec's new end.
func (p *Policy) extendNeighbors(ctx context.Context, rec *models.Record, changes models.ChangeSet) error {
	priorEff, priorExp := rec.Effective, rec.Expiration
	if changes.Effective != nil {
		priorEff = *changes.Effective
	}
	if changes.Expiration != nil {
		priorExp = *changes.Expiration
	}

	if !priorEff.IsZero() {
		prev, err := p.neighbor(ctx, rec, models.EdgeExpiration, priorEff)
		if err != nil {
			return err
		}
		if prev != nil && rec.Effective.After(prev.Expiration) {
			prev.Expiration = rec.Effective
			if err := p.saveNeighbor(ctx, prev); err != nil {
				return err
			}
		}
	}

	if !priorExp.IsZero() && !rec.Expiration.IsZero() {
		next, err := p.neighbor(ctx, rec, models.EdgeEffective, priorExp)
		if err != nil {
			return err
		}
		if next != nil && rec.Expiration.Before(next.Effective) {
			next.Effective = rec.Expiration
			if err := p.saveNeighbor(ctx, next); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Policy) neighbor(ctx context.Context, rec *models.Record, edge models.Edge, value time.Time) (*models.Record, error) {
	scope := models.ScopeOf(rec, p.cfg.ScopeFields)
	found, err := p.engine.store.FindBordering(ctx, scope, edge, value, rec.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("find %s neighbour", rec.Kind))
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

func (p *Policy) saveNeighbor(ctx context.Context, n *models.Record) error {
	if _, err := p.engine.save(ctx, n); err != nil {
		return err
	}
	p.engine.audit(ctx, p, n, audit.EventNeighborExtended, "neighbor")
	return nil
}

// followBoundaries moves children whose bound equalled one of rec's old
// bounds along with it. Children that follow cascade to their own children
// through their own policy.
func (p *Policy) followBoundaries(ctx context.Context, rec *models.Record, changes models.ChangeSet) error {
	for _, rel := range p.cfg.Children {
		children, err := p.engine.store.FindChildren(ctx, rel.Kind, rel.Relation, rec.ID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("load %s children", rel.Kind))
		}
		for _, child := range children {
			moved := false
			if changes.Effective != nil && child.Effective.Equal(*changes.Effective) {
				child.Effective = rec.Effective
				moved = true
			}
			if changes.Expiration != nil && child.Expiration.Equal(*changes.Expiration) {
				child.Expiration = rec.Expiration
				moved = true
			}
			if !moved {
				continue
			}
			if _, err := p.engine.save(ctx, child); err != nil {
				return err
			}
			if p.engine.metrics != nil {
				p.engine.metrics.IncrementChildAdjustments(child.Kind, "followed")
			}
			p.engine.audit(ctx, p, child, audit.EventChildClamped, "follow_parent")
		}
	}
	return nil
}

// limitChildren re-clamps every child of one relation inside rec, deleting
// children that no longer fit at all.
func (p *Policy) limitChildren(ctx context.Context, rec *models.Record, rel config.ChildRelation) error {
	children, err := p.engine.store.FindChildren(ctx, rel.Kind, rel.Relation, rec.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("load %s children", rel.Kind))
	}
	for _, child := range children {
		clamp := child.Period().Clamp(rec.Period())
		switch {
		case clamp.Collapsed:
			if err := p.engine.remove(ctx, child, "clamp"); err != nil {
				return err
			}
			if p.engine.metrics != nil {
				p.engine.metrics.IncrementChildAdjustments(child.Kind, "removed")
			}
			p.engine.audit(ctx, p, child, audit.EventChildRemoved, "clamp")
		case clamp.Changed:
			child.SetPeriod(clamp.Period)
			if _, err := p.engine.save(ctx, child); err != nil {
				return err
			}
			if p.engine.metrics != nil {
				p.engine.metrics.IncrementChildAdjustments(child.Kind, "clamped")
			}
			p.engine.audit(ctx, p, child, audit.EventChildClamped, "clamp")
		}
	}
	return nil
}
