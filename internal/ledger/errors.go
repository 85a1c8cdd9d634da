package ledger

import "errors"

var (
	// ErrMalformed indicates the persisted history could not be parsed
	ErrMalformed = errors.New("malformed upload history")

	// ErrPersist indicates a write to the store failed and the in-memory
	// append was rolled back
	ErrPersist = errors.New("failed to persist upload history")

	// ErrUnknownBackend indicates a store backend name that has no implementation
	ErrUnknownBackend = errors.New("unknown ledger backend")
)
