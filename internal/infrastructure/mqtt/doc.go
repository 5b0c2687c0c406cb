// Package mqtt provides MQTT client connectivity for Datalogger.
//
// This package manages:
//   - Connection to the broker with auto-reconnect and persistent sessions
//   - Topic subscriptions with wildcard support and manual acknowledgment
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Datalogger sits between sensor devices publishing telemetry to an MQTT
// broker and an HTTP collector:
//
//	Sensors ─▶ MQTT Broker ─▶ Datalogger ─▶ HTTP Collector
//
// Reliability hinges on two client settings this package always applies:
// a persistent session (CleanSession=false) and manual acknowledgment
// (AutoAckDisabled). A QoS 1 message is acked only after the reading has
// been delivered to the collector or terminally dead-lettered; anything
// unacked when the process dies is redelivered by the broker on the next
// connect. Handlers are dispatched in arrival order, so a handler that
// blocks on the pipeline's bounded intake stalls the broker's inflight
// window and becomes the backpressure path.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("sensors/#", 1, func(msg mqtt.Message) error {
//	    // Hand off to the pipeline; the pipeline calls msg.Ack after
//	    // the reading reaches the collector.
//	    return coordinator.Intake(msg)
//	})
package mqtt
