package forwarder

import "errors"

// Domain-specific errors for forwarding operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrTransient indicates a delivery failure that is expected to
	// resolve on retry: network errors, timeouts, 5xx responses, and
	// collector rate limiting. The batch stays queued.
	ErrTransient = errors.New("forwarder: transient delivery failure")

	// ErrPermanent indicates the collector definitively rejected the
	// batch (4xx other than auth or rate limiting). Retrying the same
	// payload cannot succeed; the batch must be dead-lettered.
	ErrPermanent = errors.New("forwarder: collector rejected batch")

	// ErrAuthFailed indicates authentication with the collector failed
	// even after refreshing the token. Treated as transient: the batch
	// is not at fault and delivery resumes once credentials are fixed.
	ErrAuthFailed = errors.New("forwarder: authentication failed")
)
