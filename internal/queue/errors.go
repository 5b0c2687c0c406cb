package queue

import "errors"

// Domain-specific errors for queue operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrEmptyReading is returned when enqueueing a reading with no
	// fields; there is nothing to forward.
	ErrEmptyReading = errors.New("queue: reading has no fields")

	// ErrNoSequences is returned when a state transition is requested
	// for an empty sequence list.
	ErrNoSequences = errors.New("queue: no sequence numbers given")
)
