package reading

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Payload timestamp formats accepted by the JSON decoder.
var jsonTimeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// legacyTimeFormat matches the DATE field of the legacy display format:
// "DATE:2025-02-13,20:45:28" (date and time are separate comma tokens).
const legacyTimeFormat = "2006-01-02 15:04:05"

// Decode turns a raw topic and payload into a typed Reading.
//
// Decode is stateless and a pure function of its inputs. Two wire
// formats are supported:
//
//   - JSON: {"device_id": "...", "timestamp": "...", "fields": {...}}.
//     The fields object may be omitted, in which case any numeric
//     top-level keys are taken as measurements. Timestamps may be
//     RFC 3339 strings or Unix seconds.
//   - Legacy display format: "TEMP:23.4,HUM:51,DATE:2025-02-13,20:45:28"
//     - comma-separated NAME:value pairs with an optional trailing DATE.
//
// If the payload carries no timestamp, the returned Reading has a zero
// Timestamp; callers stamp receipt time before persisting.
//
// Parameters:
//   - topic: MQTT topic the payload arrived on (must be non-empty)
//   - payload: Raw message bytes
//
// Returns:
//   - Reading: Decoded measurement set
//   - error: ErrUnknownTopic, ErrMalformedPayload, or ErrNoFields
func Decode(topic string, payload []byte) (Reading, error) {
	if topic == "" {
		return Reading{}, ErrUnknownTopic
	}
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return Reading{}, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}

	if trimmed[0] == '{' {
		return decodeJSON(topic, trimmed)
	}
	return decodeLegacy(topic, string(trimmed))
}

// decodeJSON decodes the structured JSON payload format.
func decodeJSON(topic string, payload []byte) (Reading, error) {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Reading{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	r := Reading{
		Topic:  topic,
		Fields: make(map[string]float64),
	}

	if id, ok := doc["device_id"].(string); ok && id != "" {
		r.DeviceID = id
	} else {
		r.DeviceID = deviceIDFromTopic(topic)
	}

	if ts, ok := doc["timestamp"]; ok {
		parsed, err := parseJSONTimestamp(ts)
		if err != nil {
			return Reading{}, err
		}
		r.Timestamp = parsed
	}

	// Prefer an explicit fields object; fall back to flat numeric keys.
	if fields, ok := doc["fields"].(map[string]any); ok {
		for name, value := range fields {
			num, ok := value.(float64)
			if !ok {
				return Reading{}, fmt.Errorf("%w: field %q is not numeric", ErrMalformedPayload, name)
			}
			r.Fields[name] = num
		}
	} else {
		for name, value := range doc {
			if name == "device_id" || name == "timestamp" {
				continue
			}
			if num, ok := value.(float64); ok {
				r.Fields[name] = num
			}
		}
	}

	if len(r.Fields) == 0 {
		return Reading{}, ErrNoFields
	}
	return r, nil
}

// parseJSONTimestamp accepts RFC 3339 strings or Unix seconds.
func parseJSONTimestamp(value any) (time.Time, error) {
	switch ts := value.(type) {
	case string:
		for _, format := range jsonTimeFormats {
			if parsed, err := time.Parse(format, ts); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", ErrMalformedPayload, ts)
	case float64:
		return time.Unix(int64(ts), 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: timestamp must be string or number", ErrMalformedPayload)
	}
}

// decodeLegacy decodes the comma-separated display format still emitted
// by first-generation devices: NAME:value pairs, with the timestamp
// split across two tokens as "DATE:2025-02-13,20:45:28".
func decodeLegacy(topic, payload string) (Reading, error) {
	r := Reading{
		Topic:    topic,
		DeviceID: deviceIDFromTopic(topic),
		Fields:   make(map[string]float64),
	}

	tokens := strings.Split(payload, ",")
	for i := 0; i < len(tokens); i++ {
		token := strings.TrimSpace(tokens[i])
		if token == "" {
			continue
		}

		name, value, found := strings.Cut(token, ":")
		if !found {
			return Reading{}, fmt.Errorf("%w: token %q has no separator", ErrMalformedPayload, token)
		}

		if strings.EqualFold(name, "DATE") {
			// The time-of-day half is the next comma token.
			if i+1 >= len(tokens) {
				return Reading{}, fmt.Errorf("%w: DATE without time component", ErrMalformedPayload)
			}
			stamp := value + " " + strings.TrimSpace(tokens[i+1])
			parsed, err := time.Parse(legacyTimeFormat, stamp)
			if err != nil {
				return Reading{}, fmt.Errorf("%w: unparseable DATE %q", ErrMalformedPayload, stamp)
			}
			r.Timestamp = parsed.UTC()
			i++
			continue
		}

		num, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return Reading{}, fmt.Errorf("%w: value of %q is not numeric", ErrMalformedPayload, name)
		}
		r.Fields[strings.ToLower(name)] = num
	}

	if len(r.Fields) == 0 {
		return Reading{}, ErrNoFields
	}
	return r, nil
}

// deviceIDFromTopic derives a device identifier from the topic when the
// payload carries none. Convention: sensors/<device>/... — the second
// segment names the device. Single-segment topics use the whole topic.
func deviceIDFromTopic(topic string) string {
	segments := strings.Split(topic, "/")
	if len(segments) >= 2 && segments[1] != "" {
		return segments[1]
	}
	return topic
}
