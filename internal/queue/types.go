package queue

import (
	"time"
)

// DeliveryState is the lifecycle state of a queued record.
//
// Records exist in the queue only while pending or in flight. Delivered
// records are evicted promptly; permanently failed records move to the
// dead-letter table. Terminal states therefore have no constant here.
type DeliveryState string

// Delivery states persisted in the queue_records table.
const (
	StatePending  DeliveryState = "pending"
	StateInFlight DeliveryState = "in_flight"
)

// Record is a Reading wrapped with queue bookkeeping.
//
// A Record is owned exclusively by the queue until it is delivered or
// dead-lettered; workers hold snapshots and reference records by Seq.
type Record struct {
	// Seq is the process-durable ordering key, strictly increasing for
	// the lifetime of the database file.
	Seq int64

	// Topic is the MQTT topic the reading arrived on.
	Topic string

	// DeviceID identifies the originating device.
	DeviceID string

	// RecordedAt is the measurement timestamp.
	RecordedAt time.Time

	// Payload is the canonical JSON fields document.
	Payload string

	// State is the delivery state at selection time.
	State DeliveryState

	// Attempts counts how many times this record has been selected
	// into a forwarding batch.
	Attempts int
}

// Batch is an ordered, bounded-size set of records selected for one
// forwarding attempt. It holds snapshots; ownership stays with the
// queue, referenced by sequence number.
type Batch struct {
	// ID is a unique identifier for this forwarding attempt, echoed to
	// the collector for idempotent ingestion.
	ID string

	// Records are in ascending Seq order.
	Records []Record
}

// Empty reports whether the batch contains no records.
func (b Batch) Empty() bool {
	return len(b.Records) == 0
}

// Seqs returns the sequence numbers of all records in the batch.
func (b Batch) Seqs() []int64 {
	seqs := make([]int64, len(b.Records))
	for i, r := range b.Records {
		seqs[i] = r.Seq
	}
	return seqs
}

// DeadLetter is a record that permanently failed forwarding.
// Serialised as-is by the status API.
type DeadLetter struct {
	Seq        int64     `json:"seq"`
	Topic      string    `json:"topic"`
	DeviceID   string    `json:"device_id"`
	RecordedAt time.Time `json:"recorded_at"`
	Payload    string    `json:"payload"`
	Attempts   int       `json:"attempts"`
	Reason     string    `json:"reason"`
	FailedAt   time.Time `json:"failed_at"`
}

// Stats summarises queue state for monitoring.
type Stats struct {
	// Depth is the number of records awaiting delivery (pending + in flight).
	Depth int64 `json:"depth"`

	// DeadLetters is the number of permanently failed records retained.
	DeadLetters int64 `json:"dead_letters"`
}
