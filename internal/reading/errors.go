package reading

import "errors"

// Domain-specific errors for decoding operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnknownTopic is returned when the topic is empty or carries no
	// device information.
	ErrUnknownTopic = errors.New("reading: unrecognised topic")

	// ErrMalformedPayload is returned when a payload cannot be decoded
	// in any supported format. Messages failing with this error are
	// dropped and acknowledged, never retried: broker redelivery cannot
	// fix unparseable bytes.
	ErrMalformedPayload = errors.New("reading: malformed payload")

	// ErrNoFields is returned when a payload decodes structurally but
	// contains no numeric measurements worth forwarding.
	ErrNoFields = errors.New("reading: payload contains no numeric fields")
)
