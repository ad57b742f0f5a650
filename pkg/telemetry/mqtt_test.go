package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/trusdx/trusdxd/pkg/config"
	"github.com/trusdx/trusdxd/pkg/events"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled:     true,
		Broker:      "tcp://127.0.0.1:1",
		TopicPrefix: "radio/test",
		IntervalSec: 1,
	}
}

func TestGenerateClientID(t *testing.T) {
	a := generateClientID()
	b := generateClientID()

	if !strings.HasPrefix(a, "trusdxd_") {
		t.Errorf("Expected trusdxd_ prefix, got '%s'", a)
	}
	if len(a) != len("trusdxd_")+16 {
		t.Errorf("Expected 16 hex chars after prefix, got '%s'", a)
	}
	if a == b {
		t.Error("Expected distinct client IDs on successive calls")
	}
}

func TestTopics(t *testing.T) {
	p := NewPublisher(testConfig(), events.NewBus(), nil)

	if got := p.statusTopic(); got != "radio/test/status" {
		t.Errorf("Expected status topic 'radio/test/status', got '%s'", got)
	}
	if got := p.eventTopic(events.KindTXChange); got != "radio/test/events/tx_change" {
		t.Errorf("Expected event topic 'radio/test/events/tx_change', got '%s'", got)
	}
}

func TestStatusPayload(t *testing.T) {
	snapshot := func() map[string]interface{} {
		return map[string]interface{}{
			"state":     "connected",
			"frequency": "00014074000",
		}
	}
	p := NewPublisher(testConfig(), events.NewBus(), snapshot)

	payload := p.statusPayload()
	if payload["state"] != "connected" {
		t.Errorf("Expected snapshot state in payload, got %v", payload["state"])
	}
	if payload["frequency"] != "00014074000" {
		t.Errorf("Expected snapshot frequency in payload, got %v", payload["frequency"])
	}
	ts, ok := payload["timestamp"].(int64)
	if !ok || ts == 0 {
		t.Errorf("Expected nonzero timestamp, got %v", payload["timestamp"])
	}
}

func TestStatusPayloadNilSnapshot(t *testing.T) {
	p := NewPublisher(testConfig(), events.NewBus(), nil)

	payload := p.statusPayload()
	if len(payload) != 1 {
		t.Errorf("Expected timestamp only, got %v", payload)
	}
}

func TestPublishWithoutBroker(t *testing.T) {
	// Nothing listens on the broker address; publishes must be silent no-ops.
	p := NewPublisher(testConfig(), events.NewBus(), nil)

	p.publishStatus()
	p.publishEvent(events.Event{Kind: events.KindReconnect})
	p.Disconnect()
}

func TestRunStopsOnCancel(t *testing.T) {
	bus := events.NewBus()
	p := NewPublisher(testConfig(), bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	// Give Run a moment to subscribe, then cancel.
	deadline := time.Now().Add(time.Second)
	for bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Publisher never subscribed to the bus")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
