package metrics

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteBatchDelivered records a successfully delivered forwarding batch.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - source: This datalogger's service name
//   - size: Number of readings in the batch
//   - attempts: Highest attempt count among the batch's records
//   - latency: Wall time from batch selection to collector acceptance
func (c *Client) WriteBatchDelivered(source string, size int, attempts int, latency time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"pipeline_delivered",
		map[string]string{
			"source": source,
		},
		map[string]interface{}{
			"batch_size": size,
			"attempts":   attempts,
			"latency_ms": float64(latency.Milliseconds()),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeadLettered records readings moved to the dead-letter store.
//
// Parameters:
//   - source: This datalogger's service name
//   - count: Number of readings dead-lettered together
//   - reason: Terminal failure classification (e.g., "rejected", "retries_exhausted")
func (c *Client) WriteDeadLettered(source string, count int, reason string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"pipeline_dead_lettered",
		map[string]string{
			"source": source,
			"reason": reason,
		},
		map[string]interface{}{
			"count": count,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDecodeError records a payload that could not be decoded.
//
// Parameters:
//   - source: This datalogger's service name
//   - topic: The MQTT topic the unparseable payload arrived on
func (c *Client) WriteDecodeError(source string, topic string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"pipeline_decode_errors",
		map[string]string{
			"source": source,
			"topic":  topic,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteQueueDepth records the current backlog of the durable queue.
//
// Intended to be sampled periodically; a rising depth means the
// collector is slower than the sensors.
//
// Parameters:
//   - source: This datalogger's service name
//   - depth: Records awaiting delivery (pending + in flight)
//   - deadLetters: Records retained in the dead-letter store
func (c *Client) WriteQueueDepth(source string, depth int64, deadLetters int64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"queue_depth",
		map[string]string{
			"source": source,
		},
		map[string]interface{}{
			"depth":        depth,
			"dead_letters": deadLetters,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
