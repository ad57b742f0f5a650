package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds published on the bus.
const (
	KindStateChange  = "state_change"  // supervisor connection state moved
	KindTXChange     = "tx_change"     // entered or left transmit
	KindFrequency    = "frequency"     // VFO A frequency changed
	KindFreqGuard    = "freq_guard"    // default-frequency reset refused
	KindMode         = "mode"          // operating mode changed
	KindReconnect    = "reconnect"     // reconnection attempt started
	KindLinkError    = "link_error"    // hardware link fault
	KindPowerLoss    = "power_loss"    // power monitor flagged the radio dark
	KindAudioLevel   = "audio_level"   // periodic audio level report
	KindClientAttach = "client_attach" // CAT client activity seen
)

// Event is a single daemon occurrence delivered to subscribers.
type Event struct {
	ID     string                 `json:"id"`
	Time   time.Time              `json:"time"`
	Kind   string                 `json:"kind"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

type subscriber struct {
	ch chan Event
}

// Bus fans events out to subscribers. Publishing never blocks; a subscriber
// that falls behind loses events rather than stalling the publisher.
type Bus struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// NewBus creates an event bus with no subscribers.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Publish delivers an event to all current subscribers.
func (b *Bus) Publish(kind string, fields map[string]interface{}) {
	ev := Event{
		ID:     uuid.NewString(),
		Time:   time.Now(),
		Kind:   kind,
		Fields: fields,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of events and a cancel function. The channel is
// closed when cancel is called.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[s]; ok {
			delete(b.subs, s)
			close(s.ch)
		}
		b.mu.Unlock()
	}
	return s.ch, cancel
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
