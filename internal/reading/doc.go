// Package reading defines the Reading data model and payload decoding
// for Datalogger.
//
// A Reading is the normalised unit flowing through the pipeline: topic,
// device identity, timestamp, and named numeric measurements. Decoding
// is a pure function with no I/O, which keeps the hot ingest path
// allocation-light and trivially testable.
//
// # Wire formats
//
// JSON (preferred, versioned by presence of the "fields" object):
//
//	{"device_id": "aq-317060018", "timestamp": "2026-02-13T20:45:28Z",
//	 "fields": {"temp": 23.4, "hum": 51}}
//
// Legacy display format, as emitted by first-generation devices:
//
//	TEMP:23.4,HUM:51,PM25:12,DATE:2026-02-13,20:45:28
//
// # Error policy
//
// Malformed payloads are permanently invalid: the pipeline logs them,
// acknowledges the MQTT message, and drops the data. Retrying would
// only produce a redelivery storm over bytes that can never parse.
package reading
