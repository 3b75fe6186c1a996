package task

import "errors"

// Store error kinds. Callers discriminate with errors.Is; messages carry
// the offending ID via fmt.Errorf wrapping at the call site.
var (
	// ErrNotFound means the referenced task ID is absent from the store.
	ErrNotFound = errors.New("task not found")

	// ErrConflict means a create collided with an existing task ID.
	ErrConflict = errors.New("task already exists")

	// ErrStorage wraps opaque I/O failures from the underlying database.
	// It is not retried at this layer.
	ErrStorage = errors.New("storage failure")
)
