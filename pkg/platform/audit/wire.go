package audit

import (
	"encoding/json"
	"fmt"
	"time"

	id "validity/pkg/domain"
)

// wireEvent is the JSON form of an Event in the outbox and on the topic.
type wireEvent struct {
	Category   string `json:"category"`
	Timestamp  string `json:"timestamp"`
	RecordID   string `json:"record_id"`
	Kind       string `json:"kind"`
	Action     string `json:"action"`
	Effective  string `json:"effective,omitempty"`
	Expiration string `json:"expiration,omitempty"`
	Reason     string `json:"reason,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// Encode renders event as JSON. The category is always derived from the action.
func Encode(event Event) ([]byte, error) {
	body, err := json.Marshal(wireEvent{
		Category:   string(AuditEvent(event.Action).Category()),
		Timestamp:  event.Timestamp.UTC().Format(time.RFC3339Nano),
		RecordID:   event.RecordID.String(),
		Kind:       event.Kind,
		Action:     event.Action,
		Effective:  event.Effective,
		Expiration: event.Expiration,
		Reason:     event.Reason,
		RequestID:  event.RequestID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal audit event: %w", err)
	}
	return body, nil
}

// Decode parses the output of Encode.
func Decode(body []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(body, &w); err != nil {
		return Event{}, fmt.Errorf("unmarshal audit event: %w", err)
	}
	recordID, err := id.ParseRecordID(w.RecordID)
	if err != nil {
		return Event{}, fmt.Errorf("audit event record_id: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return Event{}, fmt.Errorf("audit event timestamp: %w", err)
	}
	return Event{
		Category:   EventCategory(w.Category),
		Timestamp:  ts,
		RecordID:   recordID,
		Kind:       w.Kind,
		Action:     w.Action,
		Effective:  w.Effective,
		Expiration: w.Expiration,
		Reason:     w.Reason,
		RequestID:  w.RequestID,
	}, nil
}
