package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pbrresearch/datalogger/internal/reading"
)

// timeFormat is the timestamp encoding used in queue tables.
const timeFormat = time.RFC3339Nano

// Queue is the SQLite-backed durable queue.
//
// It is the single shared mutable resource between the ingest path and
// the forwarding workers. All multi-row transitions run in a
// transaction, so no record can be selected into two batches
// concurrently and a crash never leaves a half-applied transition.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Queue struct {
	db *sql.DB
}

// New creates a Queue on an open database.
//
// The schema must already exist (run database.Migrate first).
//
// Parameters:
//   - db: Open SQLite connection used for all queue operations
//
// Returns:
//   - *Queue: Queue ready for use
func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue persists a reading and returns its sequence number.
//
// The insert commits to stable storage before Enqueue returns: a crash
// after Enqueue never loses the reading. The caller must not
// acknowledge the originating MQTT message on the strength of this
// alone - acknowledgement waits for delivery.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - r: Decoded reading (must have at least one field)
//
// Returns:
//   - int64: Assigned sequence number (strictly increasing)
//   - error: ErrEmptyReading, or the underlying storage error
func (q *Queue) Enqueue(ctx context.Context, r reading.Reading) (int64, error) {
	if len(r.Fields) == 0 {
		return 0, ErrEmptyReading
	}

	payload, err := r.MarshalPayload()
	if err != nil {
		return 0, fmt.Errorf("encoding payload: %w", err)
	}

	result, err := q.db.ExecContext(ctx,
		`INSERT INTO queue_records (topic, device_id, recorded_at, payload)
		 VALUES (?, ?, ?, ?)`,
		r.Topic,
		r.DeviceID,
		r.Timestamp.UTC().Format(timeFormat),
		payload,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting record: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading sequence number: %w", err)
	}
	return seq, nil
}

// Recover resets in-flight records to pending.
//
// Call once at startup: records left in flight by a crash mid-forward
// were never confirmed by the collector and must be retried. Ordering
// is unaffected because drain order is by sequence number.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - int64: Number of records recovered
//   - error: If the update fails
func (q *Queue) Recover(ctx context.Context) (int64, error) {
	result, err := q.db.ExecContext(ctx,
		"UPDATE queue_records SET state = ? WHERE state = ?",
		StatePending, StateInFlight,
	)
	if err != nil {
		return 0, fmt.Errorf("recovering in-flight records: %w", err)
	}

	recovered, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting recovered records: %w", err)
	}
	return recovered, nil
}

// PeekBatch selects the oldest pending records for one forwarding attempt.
//
// Selection and the pending → in-flight transition happen in a single
// transaction, so concurrent callers receive disjoint batches. Each
// selected record's attempt counter is incremented.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - maxSize: Maximum records in the batch (must be positive)
//
// Returns:
//   - Batch: Records in ascending sequence order; may be empty
//   - error: If selection or the state transition fails
func (q *Queue) PeekBatch(ctx context.Context, maxSize int) (Batch, error) {
	if maxSize < 1 {
		return Batch{}, fmt.Errorf("batch size must be positive, got %d", maxSize)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return Batch{}, fmt.Errorf("starting batch selection: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	rows, err := tx.QueryContext(ctx,
		`SELECT seq, topic, device_id, recorded_at, payload, attempts
		 FROM queue_records
		 WHERE state = ?
		 ORDER BY seq ASC
		 LIMIT ?`,
		StatePending, maxSize,
	)
	if err != nil {
		return Batch{}, fmt.Errorf("selecting batch: %w", err)
	}

	batch := Batch{ID: uuid.NewString()}
	for rows.Next() {
		var r Record
		var recordedAt string
		if err := rows.Scan(&r.Seq, &r.Topic, &r.DeviceID, &recordedAt, &r.Payload, &r.Attempts); err != nil {
			rows.Close()
			return Batch{}, fmt.Errorf("scanning record: %w", err)
		}
		r.RecordedAt, _ = time.Parse(timeFormat, recordedAt) //nolint:errcheck // Format is controlled
		r.State = StateInFlight
		r.Attempts++ // Reflects the increment applied below
		batch.Records = append(batch.Records, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return Batch{}, fmt.Errorf("iterating batch: %w", err)
	}
	rows.Close()

	if batch.Empty() {
		return batch, nil
	}

	query := fmt.Sprintf(
		"UPDATE queue_records SET state = ?, attempts = attempts + 1 WHERE seq IN (%s)",
		placeholders(len(batch.Records)),
	)
	args := append([]any{StateInFlight}, seqArgs(batch.Seqs())...)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return Batch{}, fmt.Errorf("marking batch in flight: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Batch{}, fmt.Errorf("committing batch selection: %w", err)
	}
	return batch, nil
}

// MarkDelivered evicts records confirmed by the collector.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - seqs: Sequence numbers of the delivered records
//
// Returns:
//   - error: ErrNoSequences, or the underlying storage error
func (q *Queue) MarkDelivered(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return ErrNoSequences
	}

	query := fmt.Sprintf(
		"DELETE FROM queue_records WHERE seq IN (%s)",
		placeholders(len(seqs)),
	)
	if _, err := q.db.ExecContext(ctx, query, seqArgs(seqs)...); err != nil {
		return fmt.Errorf("evicting delivered records: %w", err)
	}
	return nil
}

// MarkFailed moves records to the dead-letter table.
//
// Used for permanent collector rejections (4xx) and for records whose
// transient retries are exhausted. Dead-lettered records are excluded
// from all further forwarding.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - seqs: Sequence numbers of the failed records
//   - reason: Human-readable failure description
//
// Returns:
//   - error: ErrNoSequences, or the underlying storage error
func (q *Queue) MarkFailed(ctx context.Context, seqs []int64, reason string) error {
	if len(seqs) == 0 {
		return ErrNoSequences
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting dead-letter move: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	ph := placeholders(len(seqs))

	insert := fmt.Sprintf(
		`INSERT INTO dead_letters (seq, topic, device_id, recorded_at, payload, attempts, reason)
		 SELECT seq, topic, device_id, recorded_at, payload, attempts, ?
		 FROM queue_records WHERE seq IN (%s)`,
		ph,
	)
	args := append([]any{reason}, seqArgs(seqs)...)
	if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
		return fmt.Errorf("inserting dead letters: %w", err)
	}

	remove := fmt.Sprintf("DELETE FROM queue_records WHERE seq IN (%s)", ph)
	if _, err := tx.ExecContext(ctx, remove, seqArgs(seqs)...); err != nil {
		return fmt.Errorf("evicting failed records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing dead-letter move: %w", err)
	}
	return nil
}

// Release returns in-flight records to pending after a transient failure.
//
// Attempt counters are preserved; the max-attempt threshold is checked
// by the caller against the batch's attempt counts.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - seqs: Sequence numbers of the records to release
//
// Returns:
//   - error: ErrNoSequences, or the underlying storage error
func (q *Queue) Release(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return ErrNoSequences
	}

	query := fmt.Sprintf(
		"UPDATE queue_records SET state = ? WHERE seq IN (%s)",
		placeholders(len(seqs)),
	)
	args := append([]any{StatePending}, seqArgs(seqs)...)
	if _, err := q.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("releasing records: %w", err)
	}
	return nil
}

// Depth returns the number of records awaiting delivery.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	var depth int64
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM queue_records",
	).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("counting queue depth: %w", err)
	}
	return depth, nil
}

// DeadLetterCount returns the number of dead-lettered records.
func (q *Queue) DeadLetterCount(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM dead_letters",
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting dead letters: %w", err)
	}
	return count, nil
}

// DeadLetters returns the most recent dead-lettered records.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - limit: Maximum entries to return (default 50 when non-positive)
//
// Returns:
//   - []DeadLetter: Entries ordered by failure time, newest first
//   - error: If the query fails
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := q.db.QueryContext(ctx,
		`SELECT seq, topic, device_id, recorded_at, payload, attempts, reason, failed_at
		 FROM dead_letters
		 ORDER BY failed_at DESC, seq DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying dead letters: %w", err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var d DeadLetter
		var recordedAt, failedAt string
		if err := rows.Scan(&d.Seq, &d.Topic, &d.DeviceID, &recordedAt, &d.Payload, &d.Attempts, &d.Reason, &failedAt); err != nil {
			return nil, fmt.Errorf("scanning dead letter: %w", err)
		}
		d.RecordedAt, _ = time.Parse(timeFormat, recordedAt) //nolint:errcheck // Format is controlled
		d.FailedAt, _ = time.Parse(timeFormat, failedAt)     //nolint:errcheck // Format is controlled
		letters = append(letters, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dead letters: %w", err)
	}
	return letters, nil
}

// GetStats returns current queue statistics.
func (q *Queue) GetStats(ctx context.Context) (Stats, error) {
	depth, err := q.Depth(ctx)
	if err != nil {
		return Stats{}, err
	}
	deadLetters, err := q.DeadLetterCount(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Depth: depth, DeadLetters: deadLetters}, nil
}

// placeholders returns n comma-separated SQL placeholders.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// seqArgs converts sequence numbers to query arguments.
func seqArgs(seqs []int64) []any {
	args := make([]any, len(seqs))
	for i, seq := range seqs {
		args[i] = seq
	}
	return args
}
