package forwarder

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays with exponential growth and full jitter.
//
// Each call to Next doubles the uncapped delay and returns a uniformly
// random duration in [0, delay). Full jitter spreads retries from many
// dataloggers so a recovering collector is not hit by a synchronised
// thundering herd.
//
// Not safe for concurrent use; each forwarding worker owns its own
// Backoff.
type Backoff struct {
	// Initial is the uncapped delay for the first retry.
	Initial time.Duration

	// Max caps the uncapped delay growth.
	Max time.Duration

	attempt int
}

// Next returns the delay to wait before the next retry and advances the
// attempt counter.
func (b *Backoff) Next() time.Duration {
	d := b.Initial << b.attempt
	if d > b.Max || d <= 0 { // overflow guards the shift
		d = b.Max
	}
	b.attempt++

	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}

// Reset returns the backoff to its initial state after a success.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the number of delays handed out since the last reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}
