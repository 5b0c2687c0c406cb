package reading

import (
	"encoding/json"
	"fmt"
	"time"
)

// Reading is a single decoded sensor measurement set.
//
// A Reading is immutable once decoded: the pipeline copies it into the
// durable queue and never modifies it afterwards.
type Reading struct {
	// Topic is the MQTT topic the measurement arrived on.
	Topic string `json:"topic"`

	// DeviceID identifies the originating device. Resolution order:
	// payload device_id field, second topic segment, full topic.
	DeviceID string `json:"device_id"`

	// Timestamp is the measurement time. Zero if the payload carried
	// no timestamp; callers stamp receipt time before persisting.
	Timestamp time.Time `json:"timestamp"`

	// Fields holds the named numeric measurements, e.g. {"temp": 23.4}.
	Fields map[string]float64 `json:"fields"`
}

// MarshalPayload encodes the reading's fields as the canonical JSON
// document stored in the durable queue and submitted to the collector.
//
// Returns:
//   - string: JSON object of field name to value
//   - error: If encoding fails (only possible for NaN/Inf values)
func (r Reading) MarshalPayload() (string, error) {
	data, err := json.Marshal(r.Fields)
	if err != nil {
		return "", fmt.Errorf("encoding reading fields: %w", err)
	}
	return string(data), nil
}
