// Package pipeline coordinates the relay from MQTT intake to collector
// delivery.
//
// # Flow
//
//	MQTT handler ─▶ Intake ─▶ bounded buffer ─▶ decode ─▶ durable queue
//	                                                          │
//	                             collector ◀─ forwarder ◀─ PeekBatch
//
// The ingest side decodes payloads and commits them to the durable
// queue; the forwarding workers select batches, submit them, and apply
// the failure taxonomy: transient failures back off and retry,
// permanent rejections and exhausted retries dead-letter.
//
// # Acknowledgment contract
//
// An MQTT message is acked in exactly three places, all of which mean
// "the broker never needs to redeliver this":
//
//   - the reading reached the collector (the normal path)
//   - the payload cannot be decoded (poison, redelivery cannot help)
//   - the batch was permanently rejected or ran out of attempts and is
//     retained in the dead-letter store
//
// Everything else leaves the message unacked so the broker's QoS 1
// redelivery backstops crashes and restarts. Combined with a durable
// enqueue-before-forward, delivery is at-least-once: duplicates after a
// crash are possible, loss is not.
package pipeline
