package forwarder

import (
	"testing"
	"time"
)

// =============================================================================
// Backoff Tests
// =============================================================================

func TestBackoffBounds(t *testing.T) {
	b := &Backoff{Initial: time.Second, Max: 8 * time.Second}

	// Uncapped ceiling doubles per attempt: 1s, 2s, 4s, then capped at 8s.
	ceilings := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
		8 * time.Second,
	}

	for i, ceiling := range ceilings {
		d := b.Next()
		if d < 0 || d >= ceiling {
			t.Errorf("Next() #%d = %v, want in [0, %v)", i, d, ceiling)
		}
	}
}

func TestBackoffReset(t *testing.T) {
	b := &Backoff{Initial: time.Second, Max: time.Minute}

	for i := 0; i < 5; i++ {
		b.Next()
	}
	if b.Attempt() != 5 {
		t.Errorf("Attempt() = %d, want 5", b.Attempt())
	}

	b.Reset()
	if b.Attempt() != 0 {
		t.Errorf("Attempt() = %d after Reset(), want 0", b.Attempt())
	}

	if d := b.Next(); d >= time.Second {
		t.Errorf("Next() after Reset() = %v, want < 1s", d)
	}
}

func TestBackoffJitterVaries(t *testing.T) {
	// With full jitter two long runs almost surely differ somewhere.
	draw := func() []time.Duration {
		b := &Backoff{Initial: time.Second, Max: time.Hour}
		out := make([]time.Duration, 20)
		for i := range out {
			out[i] = b.Next()
		}
		return out
	}

	a, c := draw(), draw()
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("two independent backoff sequences were identical; jitter missing")
	}
}

func TestBackoffOverflowCapped(t *testing.T) {
	b := &Backoff{Initial: time.Second, Max: 30 * time.Second}

	// Enough attempts to overflow the shifted duration.
	for i := 0; i < 70; i++ {
		d := b.Next()
		if d < 0 || d >= 30*time.Second {
			t.Fatalf("Next() #%d = %v, want in [0, 30s)", i, d)
		}
	}
}
