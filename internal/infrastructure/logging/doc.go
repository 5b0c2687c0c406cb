// Package logging provides structured logging for Datalogger.
//
// It wraps the standard library's log/slog with configuration-driven
// setup (level, format, destination) and default service fields, so
// every log line carries the service name and version.
//
// # Usage
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("pipeline started", "topics", cfg.MQTT.Topics)
//
//	queueLog := log.Component("queue")
//	queueLog.Warn("dead-lettered record", "seq", seq, "reason", reason)
package logging
