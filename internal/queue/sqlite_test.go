package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pbrresearch/datalogger/internal/infrastructure/database"
	"github.com/pbrresearch/datalogger/internal/reading"

	_ "github.com/pbrresearch/datalogger/migrations"
)

// openTestDB opens (or reopens) a migrated database at path.
func openTestDB(t *testing.T, path string) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        path,
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

// newTestQueue creates a queue on a fresh temp database.
func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	db := openTestDB(t, filepath.Join(t.TempDir(), "queue.db"))
	return New(db.DB)
}

// testReading returns a valid reading for enqueueing.
func testReading(device string) reading.Reading {
	return reading.Reading{
		Topic:     "sensors/" + device + "/environment",
		DeviceID:  device,
		Timestamp: time.Date(2026, 2, 13, 20, 45, 28, 0, time.UTC),
		Fields:    map[string]float64{"temp": 23.4},
	}
}

// =============================================================================
// Enqueue Tests
// =============================================================================

func TestEnqueueAssignsIncreasingSequences(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 10; i++ {
		seq, err := q.Enqueue(ctx, testReading("aq-01"))
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		if seq <= last {
			t.Errorf("Enqueue() seq = %d, want > %d", seq, last)
		}
		last = seq
	}
}

func TestEnqueueEmptyReading(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Enqueue(context.Background(), reading.Reading{Topic: "sensors/x"})
	if !errors.Is(err, ErrEmptyReading) {
		t.Errorf("Enqueue() error = %v, want ErrEmptyReading", err)
	}
}

// =============================================================================
// PeekBatch Tests
// =============================================================================

func TestPeekBatchReturnsEnqueueOrder(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	var seqs []int64
	for i := 0; i < 5; i++ {
		seq, err := q.Enqueue(ctx, testReading("aq-01"))
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		seqs = append(seqs, seq)
	}

	batch, err := q.PeekBatch(ctx, 10)
	if err != nil {
		t.Fatalf("PeekBatch() error = %v", err)
	}

	if len(batch.Records) != 5 {
		t.Fatalf("len(Records) = %d, want 5", len(batch.Records))
	}
	if batch.ID == "" {
		t.Error("Batch.ID should be set")
	}
	for i, r := range batch.Records {
		if r.Seq != seqs[i] {
			t.Errorf("Records[%d].Seq = %d, want %d (enqueue order)", i, r.Seq, seqs[i])
		}
		if r.Attempts != 1 {
			t.Errorf("Records[%d].Attempts = %d, want 1", i, r.Attempts)
		}
		if r.State != StateInFlight {
			t.Errorf("Records[%d].State = %q, want in_flight", i, r.State)
		}
	}
}

func TestPeekBatchRespectsMaxSize(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := q.Enqueue(ctx, testReading("aq-01")); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	batch, err := q.PeekBatch(ctx, 2)
	if err != nil {
		t.Fatalf("PeekBatch() error = %v", err)
	}
	if len(batch.Records) != 2 {
		t.Errorf("len(Records) = %d, want 2", len(batch.Records))
	}
}

func TestPeekBatchExcludesInFlight(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := q.Enqueue(ctx, testReading("aq-01")); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	first, err := q.PeekBatch(ctx, 2)
	if err != nil {
		t.Fatalf("PeekBatch() error = %v", err)
	}
	second, err := q.PeekBatch(ctx, 10)
	if err != nil {
		t.Fatalf("PeekBatch() error = %v", err)
	}

	// No record may appear in two batches.
	taken := make(map[int64]bool)
	for _, seq := range first.Seqs() {
		taken[seq] = true
	}
	for _, seq := range second.Seqs() {
		if taken[seq] {
			t.Errorf("seq %d selected into two batches", seq)
		}
	}
	if len(second.Records) != 2 {
		t.Errorf("second batch size = %d, want 2 remaining", len(second.Records))
	}

	third, err := q.PeekBatch(ctx, 10)
	if err != nil {
		t.Fatalf("PeekBatch() error = %v", err)
	}
	if !third.Empty() {
		t.Errorf("third batch size = %d, want empty", len(third.Records))
	}
}

func TestPeekBatchEmpty(t *testing.T) {
	q := newTestQueue(t)

	batch, err := q.PeekBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("PeekBatch() error = %v", err)
	}
	if !batch.Empty() {
		t.Error("PeekBatch() on empty queue should return empty batch")
	}
}

func TestPeekBatchInvalidSize(t *testing.T) {
	q := newTestQueue(t)

	if _, err := q.PeekBatch(context.Background(), 0); err == nil {
		t.Error("PeekBatch(0) expected error")
	}
}

// =============================================================================
// State Transition Tests
// =============================================================================

func TestMarkDelivered(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(ctx, testReading("aq-01")); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	batch, err := q.PeekBatch(ctx, 10)
	if err != nil {
		t.Fatalf("PeekBatch() error = %v", err)
	}

	if err := q.MarkDelivered(ctx, batch.Seqs()); err != nil {
		t.Fatalf("MarkDelivered() error = %v", err)
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth() error = %v", err)
	}
	if depth != 0 {
		t.Errorf("Depth() = %d after delivery, want 0", depth)
	}
}

func TestRelease(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, testReading("aq-01")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	first, err := q.PeekBatch(ctx, 10)
	if err != nil {
		t.Fatalf("PeekBatch() error = %v", err)
	}

	if err := q.Release(ctx, first.Seqs()); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	second, err := q.PeekBatch(ctx, 10)
	if err != nil {
		t.Fatalf("PeekBatch() error = %v", err)
	}
	if len(second.Records) != 1 {
		t.Fatalf("released record not selectable again")
	}
	if second.Records[0].Attempts != 2 {
		t.Errorf("Attempts = %d after release and re-peek, want 2", second.Records[0].Attempts)
	}
}

func TestMarkFailed(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, testReading("aq-01")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	batch, err := q.PeekBatch(ctx, 10)
	if err != nil {
		t.Fatalf("PeekBatch() error = %v", err)
	}

	if err := q.MarkFailed(ctx, batch.Seqs(), "collector rejected batch: 400"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	depth, _ := q.Depth(ctx)
	if depth != 0 {
		t.Errorf("Depth() = %d after dead-lettering, want 0", depth)
	}

	letters, err := q.DeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("DeadLetters() error = %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("len(DeadLetters) = %d, want 1", len(letters))
	}
	if letters[0].Reason != "collector rejected batch: 400" {
		t.Errorf("Reason = %q", letters[0].Reason)
	}
	if letters[0].Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", letters[0].Attempts)
	}
}

func TestTransitionsRequireSequences(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.MarkDelivered(ctx, nil); !errors.Is(err, ErrNoSequences) {
		t.Errorf("MarkDelivered(nil) error = %v, want ErrNoSequences", err)
	}
	if err := q.MarkFailed(ctx, nil, "x"); !errors.Is(err, ErrNoSequences) {
		t.Errorf("MarkFailed(nil) error = %v, want ErrNoSequences", err)
	}
	if err := q.Release(ctx, nil); !errors.Is(err, ErrNoSequences) {
		t.Errorf("Release(nil) error = %v, want ErrNoSequences", err)
	}
}

// =============================================================================
// Durability Tests
// =============================================================================

func TestRecordsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	db := openTestDB(t, path)
	q := New(db.DB)

	var seqs []int64
	for i := 0; i < 3; i++ {
		seq, err := q.Enqueue(ctx, testReading("aq-01"))
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		seqs = append(seqs, seq)
	}

	// Simulate a crash: close without draining.
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened := openTestDB(t, path)
	q2 := New(reopened.DB)

	batch, err := q2.PeekBatch(ctx, 10)
	if err != nil {
		t.Fatalf("PeekBatch() after reopen error = %v", err)
	}
	if len(batch.Records) != 3 {
		t.Fatalf("len(Records) = %d after reopen, want 3", len(batch.Records))
	}
	for i, r := range batch.Records {
		if r.Seq != seqs[i] {
			t.Errorf("Records[%d].Seq = %d, want %d (no reordering across restarts)", i, r.Seq, seqs[i])
		}
	}
}

func TestRecoverResetsInFlight(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	db := openTestDB(t, path)
	q := New(db.DB)

	if _, err := q.Enqueue(ctx, testReading("aq-01")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := q.PeekBatch(ctx, 10); err != nil {
		t.Fatalf("PeekBatch() error = %v", err)
	}

	// Crash mid-forward: record is stuck in flight.
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened := openTestDB(t, path)
	q2 := New(reopened.DB)

	recovered, err := q2.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if recovered != 1 {
		t.Errorf("Recover() = %d, want 1", recovered)
	}

	batch, err := q2.PeekBatch(ctx, 10)
	if err != nil {
		t.Fatalf("PeekBatch() error = %v", err)
	}
	if len(batch.Records) != 1 {
		t.Fatal("recovered record not selectable")
	}
	if batch.Records[0].Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 (previous attempt preserved)", batch.Records[0].Attempts)
	}
}

func TestSequenceNotReusedAfterEviction(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, testReading("aq-01"))
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	batch, _ := q.PeekBatch(ctx, 10)
	if err := q.MarkDelivered(ctx, batch.Seqs()); err != nil {
		t.Fatalf("MarkDelivered() error = %v", err)
	}

	second, err := q.Enqueue(ctx, testReading("aq-01"))
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if second <= first {
		t.Errorf("seq %d issued after eviction of %d; sequences must never be reused", second, first)
	}
}

// =============================================================================
// Stats Tests
// =============================================================================

func TestGetStats(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(ctx, testReading("aq-01")); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	batch, _ := q.PeekBatch(ctx, 1)
	if err := q.MarkFailed(ctx, batch.Seqs(), "test"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	stats, err := q.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.Depth != 2 {
		t.Errorf("Stats.Depth = %d, want 2", stats.Depth)
	}
	if stats.DeadLetters != 1 {
		t.Errorf("Stats.DeadLetters = %d, want 1", stats.DeadLetters)
	}
}
