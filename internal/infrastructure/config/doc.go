// Package config provides configuration loading for Datalogger.
//
// Configuration is loaded in three layers, each overriding the last:
//
//  1. Hardcoded defaults
//  2. A YAML configuration file
//  3. DATALOGGER_* environment variables (for secrets and deployment overrides)
//
// # Sections
//
//   - mqtt: broker address, credentials, QoS, topic filters, reconnect policy
//   - collector: batch endpoint URL, authentication, retry policy
//   - queue: SQLite path, batch sizing, attempt limits, backpressure bounds
//   - api: optional status/health HTTP server
//   - influxdb: optional pipeline metrics
//   - logging: level, format, output
//
// Credentials (MQTT password, collector token/password, InfluxDB token)
// should be supplied via environment variables rather than committed to
// the YAML file.
package config
