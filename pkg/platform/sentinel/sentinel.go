package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, lockers and publishers
// return these (optionally wrapped) so the engine can translate them into
// domain errors without knowing which backend produced them.
//
//   - ErrNotFound: record does not exist in the store
//   - ErrLockHeld: a scope lock is held by another writer
//   - ErrUnavailable: backend temporarily unavailable
var (
	ErrNotFound    = errors.New("not found")
	ErrLockHeld    = errors.New("lock held")
	ErrUnavailable = errors.New("unavailable")
)
