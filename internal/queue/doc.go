// Package queue provides the durable buffer between MQTT ingestion and
// HTTP forwarding.
//
// This package manages:
//   - Crash-durable persistence of decoded readings (SQLite, WAL mode)
//   - Strictly increasing sequence numbers as the ordering key
//   - Transactional batch selection (no record in two batches at once)
//   - Dead-letter storage for permanently failed records
//   - In-flight recovery after a crash
//
// # Record lifecycle
//
//	Enqueue ──▶ pending ──PeekBatch──▶ in_flight ──MarkDelivered──▶ (evicted)
//	              ▲                        │
//	              └───────Release──────────┤ (transient failure)
//	                                       └──MarkFailed──▶ dead_letters
//
// A record is owned exclusively by the queue until it is delivered or
// dead-lettered. Delivered rows are deleted promptly; the dead-letter
// table retains terminal failures for inspection.
//
// # Durability contract
//
// Enqueue commits before returning, so any reading the pipeline has
// accepted survives a process crash. The originating MQTT message is
// acknowledged only after delivery (or terminal dead-lettering), which
// combined with QoS 1 redelivery yields at-least-once semantics:
// duplicates are possible after a crash, loss is not.
package queue
