package audit

import (
	"context"

	id "validity/pkg/domain"
)

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByRecord(ctx context.Context, recordID id.RecordID) ([]Event, error)
}

// Sink delivers audit events to an external system.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}
