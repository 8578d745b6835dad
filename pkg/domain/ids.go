package domain

import (
	"github.com/google/uuid"

	dErrors "validity/pkg/domain-errors"
)

// RecordID identifies a temporal record. Parent/child relations are expressed
// as RecordID references resolved through the store, never as pointers.
type RecordID uuid.UUID

// NewRecordID returns a random RecordID.
func NewRecordID() RecordID {
	return RecordID(uuid.New())
}

// ParseRecordID validates s at a trust boundary. The nil UUID is rejected.
func ParseRecordID(s string) (RecordID, error) {
	if s == "" {
		return RecordID{}, dErrors.New(dErrors.CodeInvalidInput, "record id is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return RecordID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid record id")
	}
	if parsed == uuid.Nil {
		return RecordID{}, dErrors.New(dErrors.CodeInvalidInput, "record id must not be nil")
	}
	return RecordID(parsed), nil
}

func (id RecordID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether the id is unset.
func (id RecordID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id RecordID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *RecordID) UnmarshalText(data []byte) error {
	parsed, err := ParseRecordID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
