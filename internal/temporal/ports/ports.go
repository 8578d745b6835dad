//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

// Package ports defines the interfaces the temporal engine depends on.
// Adapters live under store/, lock/ and pkg/platform/audit.
package ports

import (
	"context"
	"log/slog"
	"time"

	"validity/internal/temporal/models"
	id "validity/pkg/domain"
	"validity/pkg/platform/audit"
	"validity/pkg/requestcontext"
)

// Store persists temporal records of every kind. Records returned by a Store
// are marked persisted so their change sets start empty. Missing records are
// reported as sentinel.ErrNotFound; other errors are returned as-is.
type Store interface {
	// FindByID loads a single record.
	FindByID(ctx context.Context, recordID id.RecordID) (*models.Record, error)

	// FindOverlapping returns records of the scope overlapping period,
	// excluding the given record, ordered by effective date.
	FindOverlapping(ctx context.Context, scope models.Scope, period models.TimePeriod, exclude id.RecordID) ([]*models.Record, error)

	// CountOverlapping is FindOverlapping without materialising rows.
	CountOverlapping(ctx context.Context, scope models.Scope, period models.TimePeriod, exclude id.RecordID) (int, error)

	// FindBordering returns records of the scope whose edge equals value,
	// excluding the given record, ordered by effective date.
	FindBordering(ctx context.Context, scope models.Scope, edge models.Edge, value time.Time, exclude id.RecordID) ([]*models.Record, error)

	// FindChildren returns records of kind referencing parentID through relation.
	FindChildren(ctx context.Context, kind, relation string, parentID id.RecordID) ([]*models.Record, error)

	// Find runs a query; a non-zero AsOf restricts results to records valid on that date.
	Find(ctx context.Context, q models.Query) ([]*models.Record, error)

	// Save inserts or replaces the record.
	Save(ctx context.Context, rec *models.Record) error

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, recordID id.RecordID) error
}

// TxRunner runs fn so that every store write inside it commits or rolls back together.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ScopeLocker serialises writers of one uniqueness scope.
type ScopeLocker interface {
	// Lock blocks until the key is held or ctx is done.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// AuditPublisher emits audit events for record changes.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// LogAudit logs an audit event and emits it to the publisher if one is configured.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, event audit.Event, attrs ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		event.RequestID = requestID
		attrs = append(attrs, "request_id", requestID)
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}

	args := append(attrs,
		"event", event.Action,
		"log_type", "audit",
		"kind", event.Kind,
		"record_id", event.RecordID.String(),
	)
	if event.Reason != "" {
		args = append(args, "reason", event.Reason)
	}

	if logger != nil {
		logger.InfoContext(ctx, event.Action, args...)
	}

	if publisher == nil {
		return
	}
	if err := publisher.Emit(ctx, event); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", event.Action, "error", err)
	}
}
