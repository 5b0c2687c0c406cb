// Package forwarder submits batches of readings to the remote HTTP
// collector and classifies every failure for the pipeline.
//
// This package manages:
//   - JSON batch submission with per-batch IDs for idempotent ingestion
//   - Bearer authentication, either static token or login flow with
//     automatic re-authentication on 401
//   - Exponential backoff with full jitter for retry pacing
//
// # Error taxonomy
//
// The pipeline never inspects HTTP details; Send collapses every
// outcome into three cases:
//
//	nil          collector accepted the batch (2xx)
//	ErrTransient network error, timeout, 5xx, 429; the batch stays
//	             queued and is retried after backoff
//	ErrPermanent other 4xx; retrying the same payload cannot succeed,
//	             the batch is dead-lettered
//
// ErrAuthFailed (401 surviving a token refresh) wraps neither: the
// batch is not at fault, so the pipeline treats anything that is not
// ErrPermanent as retryable.
package forwarder
