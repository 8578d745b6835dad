package service

import (
	"context"
	"fmt"

	"validity/internal/temporal/config"
	"validity/internal/temporal/models"
	dErrors "validity/pkg/domain-errors"
	"validity/pkg/platform/audit"
)

// enforceUniqueness keeps rec's scope free of overlaps, either by refusing
// the save or by moving the overlapping records out of the way.
func (p *Policy) enforceUniqueness(ctx context.Context, rec *models.Record) error {
	if !p.cfg.HasScope() {
		return nil
	}
	scope := models.ScopeOf(rec, p.cfg.ScopeFields)

	if p.cfg.Strategy == config.StrategyReject {
		n, err := p.engine.store.CountOverlapping(ctx, scope, rec.Period(), rec.ID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("count overlapping %s records", rec.Kind))
		}
		if n > 0 {
			return dErrors.New(dErrors.CodeUniquenessViolation, fmt.Sprintf(
				"won't save %s record %s that overlaps %d existing record(s) in its scope",
				rec.Kind, rec.Period(), n))
		}
		return nil
	}

	overlapping, err := p.engine.store.FindOverlapping(ctx, scope, rec.Period(), rec.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("find overlapping %s records", rec.Kind))
	}
	for _, existing := range overlapping {
		if err := p.shiftNeighbor(ctx, rec, existing); err != nil {
			return err
		}
	}
	return nil
}

// shiftNeighbor changes existing so that it no longer overlaps rec. Writes go
// through the engine so existing's own rules and cascades apply.
func (p *Policy) shiftNeighbor(ctx context.Context, rec, existing *models.Record) error {
	res := rec.Period().Resolve(existing.Period())
	if res.Action == models.ShiftNone {
		return nil
	}
	if p.engine.metrics != nil {
		p.engine.metrics.IncrementNeighborShifts(rec.Kind, res.Action.String())
	}
	p.engine.logger.DebugContext(ctx, "shifting overlapping record",
		"kind", rec.Kind,
		"record_id", rec.ID.String(),
		"neighbor_id", existing.ID.String(),
		"action", res.Action.String(),
	)

	ctx = withShiftWrite(ctx)
	switch res.Action {
	case models.ShiftDelete:
		return p.engine.remove(ctx, existing, "shift")

	case models.ShiftSplit:
		remainder := existing.Duplicate()
		remainder.SetPeriod(*res.Remainder)
		existing.SetPeriod(res.Neighbor)
		if _, err := p.engine.save(ctx, existing); err != nil {
			return err
		}
		if _, err := p.engine.save(ctx, remainder); err != nil {
			return err
		}
		p.engine.audit(ctx, p, remainder, audit.EventNeighborShifted, "shift")

	default:
		existing.SetPeriod(res.Neighbor)
		if _, err := p.engine.save(ctx, existing); err != nil {
			return err
		}
	}
	p.engine.audit(ctx, p, existing, audit.EventNeighborShifted, "shift")
	return nil
}
