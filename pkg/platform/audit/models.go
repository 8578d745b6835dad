package audit

import (
	"time"

	id "validity/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers writes a caller asked for directly.
	// These are the historical record of who changed which interval.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers side effects the engine performed on its own:
	// shifted neighbours, clamped children, cascade failures.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from the engine to capture record changes. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category   EventCategory
	Timestamp  time.Time
	RecordID   id.RecordID
	Kind       string
	Action     string
	Effective  string
	Expiration string
	// Reason tells why the engine touched the record ("shift", "clamp",
	// "neighbor", "follow_parent"), empty for direct writes.
	Reason    string
	RequestID string
}

type AuditEvent string

const (
	EventRecordCreated    AuditEvent = "record_created"
	EventRecordUpdated    AuditEvent = "record_updated"
	EventRecordDeleted    AuditEvent = "record_deleted"
	EventRecordSplit      AuditEvent = "record_split"
	EventRecordTerminated AuditEvent = "record_terminated"

	EventNeighborShifted  AuditEvent = "neighbor_shifted"
	EventNeighborExtended AuditEvent = "neighbor_extended"
	EventChildClamped     AuditEvent = "child_clamped"
	EventChildRemoved     AuditEvent = "child_removed"
	EventCascadeFailed    AuditEvent = "cascade_failed"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventRecordCreated:    CategoryCompliance,
	EventRecordUpdated:    CategoryCompliance,
	EventRecordDeleted:    CategoryCompliance,
	EventRecordSplit:      CategoryCompliance,
	EventRecordTerminated: CategoryCompliance,

	EventNeighborShifted:  CategoryOperations,
	EventNeighborExtended: CategoryOperations,
	EventChildClamped:     CategoryOperations,
	EventChildRemoved:     CategoryOperations,
	EventCascadeFailed:    CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
