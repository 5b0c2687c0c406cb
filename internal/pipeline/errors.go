package pipeline

import "errors"

// Domain-specific errors for pipeline operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotStarted is returned when Intake is called before Start.
	ErrNotStarted = errors.New("pipeline: coordinator not started")

	// ErrStopped is returned when Intake is called after shutdown has
	// begun. The message stays unacked and the broker redelivers it.
	ErrStopped = errors.New("pipeline: coordinator stopped")
)
