package events

import (
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()

	ch, cancel := bus.Subscribe(4)
	defer cancel()

	bus.Publish(KindFrequency, map[string]interface{}{"frequency": "00014074000"})

	select {
	case ev := <-ch:
		if ev.Kind != KindFrequency {
			t.Errorf("Expected kind '%s', got '%s'", KindFrequency, ev.Kind)
		}
		if ev.Fields["frequency"] != "00014074000" {
			t.Errorf("Expected frequency field, got %v", ev.Fields)
		}
		if ev.ID == "" {
			t.Error("Expected non-empty event ID")
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestBusSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()

	// Buffer of 1, never drained
	_, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(KindTXChange, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestBusCancel(t *testing.T) {
	bus := NewBus()

	ch, cancel := bus.Subscribe(1)
	if bus.SubscriberCount() != 1 {
		t.Errorf("Expected 1 subscriber, got %d", bus.SubscriberCount())
	}

	cancel()
	if bus.SubscriberCount() != 0 {
		t.Errorf("Expected 0 subscribers after cancel, got %d", bus.SubscriberCount())
	}

	// Channel should be closed
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("Expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("Channel not closed after cancel")
	}

	// Second cancel is a no-op
	cancel()
}

func TestBusMultipleSubscribers(t *testing.T) {
	bus := NewBus()

	ch1, cancel1 := bus.Subscribe(2)
	defer cancel1()
	ch2, cancel2 := bus.Subscribe(2)
	defer cancel2()

	bus.Publish(KindStateChange, map[string]interface{}{"state": "connected"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Kind != KindStateChange {
				t.Errorf("Subscriber %d: expected kind '%s', got '%s'", i, KindStateChange, ev.Kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("Subscriber %d: timed out waiting for event", i)
		}
	}
}
