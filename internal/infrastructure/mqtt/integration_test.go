//go:build integration

package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Integration tests for broker-dependent behaviour.
// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...
//
// Note: Some tests may be flaky in CI due to timing dependencies.
// Consider running with: go test -tags=integration -count=1 -v ...

// publishRaw publishes a message with a plain paho client, bypassing the
// datalogger wrapper. Used to drive the subscriber under test.
func publishRaw(t *testing.T, topic, payload string) {
	t.Helper()

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker("tcp://127.0.0.1:1883")
	opts.SetClientID("datalogger-int-pub")

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("raw publisher connect failed: %v", token.Error())
	}
	defer client.Disconnect(250)

	pub := client.Publish(topic, 1, false, payload)
	if !pub.WaitTimeout(5*time.Second) || pub.Error() != nil {
		t.Fatalf("raw publish failed: %v", pub.Error())
	}
}

func TestIntegration_Connect(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "datalogger-int-connect"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestIntegration_Close(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "datalogger-int-close"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
}

func TestIntegration_SubscribeReceivesMessage(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "datalogger-int-sub"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topic := "datalogger/int/test/receive"
	received := make(chan Message, 1)

	err = client.Subscribe(topic, 1, func(msg Message) error {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	publishRaw(t, topic, `TEMP:23.4,HUM:51`)

	select {
	case msg := <-received:
		if msg.Topic != topic {
			t.Errorf("Topic = %q, want %q", msg.Topic, topic)
		}
		if string(msg.Payload) != `TEMP:23.4,HUM:51` {
			t.Errorf("Payload = %q", msg.Payload)
		}
		if msg.Ack == nil {
			t.Fatal("Ack is nil")
		}
		msg.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "datalogger-int-sub-track"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topics := []string{
		"datalogger/int/test/topic1",
		"datalogger/int/test/topic2",
		"datalogger/int/test/topic3",
	}

	handler := func(msg Message) error {
		msg.Ack()
		return nil
	}

	for _, topic := range topics {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}

	if client.SubscriptionCount() != len(topics) {
		t.Errorf("SubscriptionCount() = %d, want %d", client.SubscriptionCount(), len(topics))
	}

	if err := client.Unsubscribe(topics[0]); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topics[0]) {
		t.Error("HasSubscription() = true after Unsubscribe()")
	}
}

// TestIntegration_UnackedRedelivery verifies the core loss-prevention
// property: a message received but never acked is redelivered by the
// broker after the client reconnects with the same session.
func TestIntegration_UnackedRedelivery(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "datalogger-int-redelivery"

	topic := "datalogger/int/test/redelivery"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	first := make(chan Message, 1)
	err = client.Subscribe(topic, 1, func(msg Message) error {
		select {
		case first <- msg:
		default:
		}
		// Deliberately never ack.
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	publishRaw(t, topic, `TEMP:19.1`)

	select {
	case <-first:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for initial delivery")
	}

	// Drop the connection without acking, then reconnect with the same
	// client ID and persistent session.
	client.Close()

	redelivered := make(chan Message, 1)
	client2, err := Connect(cfg)
	if err != nil {
		t.Fatalf("reconnect error = %v", err)
	}
	defer client2.Close()

	err = client2.Subscribe(topic, 1, func(msg Message) error {
		select {
		case redelivered <- msg:
		default:
		}
		msg.Ack()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() after reconnect error = %v", err)
	}

	select {
	case msg := <-redelivered:
		if string(msg.Payload) != `TEMP:19.1` {
			t.Errorf("redelivered payload = %q", msg.Payload)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("unacked message was not redelivered")
	}
}
