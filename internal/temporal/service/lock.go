package service

import (
	"context"
	"fmt"

	"validity/internal/temporal/models"
	dErrors "validity/pkg/domain-errors"
)

type lockSetKey struct{}

// lockSet holds every scope lock taken on behalf of one top-level operation.
// The locks are released together after the operation's transaction ends.
type lockSet struct {
	held    map[string]bool
	unlocks []func()
}

func (ls *lockSet) release() {
	for i := len(ls.unlocks) - 1; i >= 0; i-- {
		ls.unlocks[i]()
	}
	ls.unlocks = nil
	ls.held = map[string]bool{}
}

// holdScope starts a top-level operation on rec: it takes rec's scope lock
// and returns a context under which nested writes add their locks to the
// same set. release must run after the transaction has committed or rolled
// back.
func (e *Engine) holdScope(ctx context.Context, pol *Policy, rec *models.Record) (context.Context, func(), error) {
	if e.locker == nil {
		return ctx, func() {}, nil
	}
	if _, ok := ctx.Value(lockSetKey{}).(*lockSet); ok {
		if err := e.lockScope(ctx, pol, rec); err != nil {
			return ctx, nil, err
		}
		return ctx, func() {}, nil
	}

	ls := &lockSet{held: map[string]bool{}}
	ctx = context.WithValue(ctx, lockSetKey{}, ls)
	if err := e.lockScope(ctx, pol, rec); err != nil {
		ls.release()
		return ctx, nil, err
	}
	return ctx, ls.release, nil
}

// lockScope adds the scope lock of rec to the operation's lock set unless it
// is already held. Records without a scope are not locked.
func (e *Engine) lockScope(ctx context.Context, pol *Policy, rec *models.Record) error {
	if e.locker == nil || !pol.cfg.HasScope() {
		return nil
	}
	ls, ok := ctx.Value(lockSetKey{}).(*lockSet)
	if !ok {
		return dErrors.New(dErrors.CodeInternal, fmt.Sprintf("write of %s record outside a locked operation", rec.Kind))
	}
	key := models.ScopeOf(rec, pol.cfg.ScopeFields).String()
	if ls.held[key] {
		return nil
	}

	unlock, err := e.locker.Lock(ctx, key)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeConflict, fmt.Sprintf("acquire scope lock for %s record", rec.Kind))
	}
	ls.held[key] = true
	ls.unlocks = append(ls.unlocks, unlock)
	return nil
}
