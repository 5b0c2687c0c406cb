// Package metrics provides optional InfluxDB instrumentation for the
// forwarding pipeline.
//
// This package manages:
//   - Connection to InfluxDB v2 with token authentication
//   - Non-blocking batched writes of pipeline measurements
//   - Health monitoring
//
// # Measurements
//
//   - pipeline_delivered: batch size, attempts, delivery latency
//   - pipeline_dead_lettered: terminally failed readings by reason
//   - pipeline_decode_errors: unparseable payloads by topic
//   - queue_depth: durable queue backlog, sampled periodically
//
// # Design Notes
//
// Metrics are observational only. All writes are fire-and-forget via the
// non-blocking WriteAPI; if InfluxDB is down, points are dropped after
// the client's internal retry buffer fills, and the pipeline never
// blocks. The pipeline accepts a nil *Client and skips instrumentation
// entirely when metrics are disabled.
package metrics
