package service

import (
	"context"

	"validity/internal/temporal/models"
)

// Verdict is what BeforeSave decided to do with a record.
type Verdict int

const (
	// VerdictProceed: write the record.
	VerdictProceed Verdict = iota
	// VerdictDiscard: the record collapsed against a parent and must be deleted instead.
	VerdictDiscard
)

// Hooks are the lifecycle callbacks the engine invokes around storage.
type Hooks interface {
	// BeforeSave normalises and validates rec, shifting neighbours when the
	// policy says so. Any error aborts the save before rec is written.
	BeforeSave(ctx context.Context, rec *models.Record) (Verdict, error)

	// AfterSave runs cascades once rec is stored. Cascade failures the
	// policy tolerates are returned in the slice; a non-nil error aborts.
	AfterSave(ctx context.Context, rec *models.Record) ([]error, error)

	// BeforeQuery resolves the query date into an as-of filter.
	BeforeQuery(ctx context.Context, q *models.Query) error
}

type enforcementKey struct{}

// WithoutEnforcement disables the past-modification guard for every save
// made with the returned context. Used by data migrations and repair jobs.
func WithoutEnforcement(ctx context.Context) context.Context {
	return context.WithValue(ctx, enforcementKey{}, true)
}

func enforcementDisabled(ctx context.Context) bool {
	disabled, _ := ctx.Value(enforcementKey{}).(bool)
	return disabled
}

type shiftWriteKey struct{}

// withShiftWrite marks a save whose vacated range another write of the same
// operation fills. Such saves do not extend their neighbours.
func withShiftWrite(ctx context.Context) context.Context {
	return context.WithValue(ctx, shiftWriteKey{}, true)
}

// takeShiftWrite reports whether ctx marks a shift write and returns a
// context without the mark, so writes cascading from it behave normally.
func takeShiftWrite(ctx context.Context) (context.Context, bool) {
	v, _ := ctx.Value(shiftWriteKey{}).(bool)
	if !v {
		return ctx, false
	}
	return context.WithValue(ctx, shiftWriteKey{}, false), true
}
