package supervisor

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// powerFixture wires a monitor to a scripted session.
type powerFixture struct {
	monitor  *PowerMonitor
	session  *fakeSession
	mu       sync.Mutex
	triggers []string
	txStart  time.Time
}

func newPowerFixture(replies []string) *powerFixture {
	f := &powerFixture{session: newFakeSession()}

	i := 0
	f.session.queryReply = func(cmd string) (string, error) {
		if i >= len(replies) {
			return "", errors.New("script exhausted")
		}
		r := replies[i]
		i++
		if r == "" {
			return "", errors.New("timeout")
		}
		return r, nil
	}

	f.monitor = NewPowerMonitor(PowerMonitorOptions{
		Interval:  time.Hour, // poll driven manually in tests
		Grace:     5 * time.Second,
		ZeroLimit: 3,
		Session:   func() Session { return f.session },
		Trigger: func(reason string) {
			f.mu.Lock()
			f.triggers = append(f.triggers, reason)
			f.mu.Unlock()
		},
		TXStart: func() time.Time {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.txStart
		},
	})
	return f
}

func (f *powerFixture) triggerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.triggers)
}

func (f *powerFixture) setTXStart(t time.Time) {
	f.mu.Lock()
	f.txStart = t
	f.mu.Unlock()
}

func TestPowerMonitorSignalsAfterConsecutiveZeros(t *testing.T) {
	f := newPowerFixture([]string{"PC000;", "PC000;", "PC000;", "PC000;", "PC000;", "PC000;"})

	for i := 0; i < 2; i++ {
		f.monitor.poll()
	}
	if n := f.triggerCount(); n != 0 {
		t.Fatalf("Expected no trigger before the limit, got %d", n)
	}

	f.monitor.poll()
	if n := f.triggerCount(); n != 1 {
		t.Fatalf("Expected 1 trigger at the limit, got %d", n)
	}

	// Counter resets after firing, another full run is needed
	for i := 0; i < 3; i++ {
		f.monitor.poll()
	}
	if n := f.triggerCount(); n != 2 {
		t.Errorf("Expected 2 triggers after 6 zeros, got %d", n)
	}
}

func TestPowerMonitorGoodReadingResets(t *testing.T) {
	f := newPowerFixture([]string{"PC000;", "PC000;", "PC005;", "PC000;", "PC000;", "PC000;"})

	for i := 0; i < 5; i++ {
		f.monitor.poll()
	}
	if n := f.triggerCount(); n != 0 {
		t.Fatalf("Expected no trigger with a good reading in between, got %d", n)
	}

	f.monitor.poll()
	if n := f.triggerCount(); n != 1 {
		t.Errorf("Expected trigger after 3 fresh zeros, got %d", n)
	}
}

func TestPowerMonitorGraceWindow(t *testing.T) {
	f := newPowerFixture([]string{"PC000;", "PC000;", "PC000;", "PC000;", "PC000;"})
	f.setTXStart(time.Now())

	for i := 0; i < 5; i++ {
		f.monitor.poll()
	}
	if n := f.triggerCount(); n != 0 {
		t.Errorf("Expected zeros inside TX grace to be discarded, got %d triggers", n)
	}
}

func TestPowerMonitorGraceExpired(t *testing.T) {
	f := newPowerFixture([]string{"PC000;", "PC000;", "PC000;"})
	f.setTXStart(time.Now().Add(-10 * time.Second))

	for i := 0; i < 3; i++ {
		f.monitor.poll()
	}
	if n := f.triggerCount(); n != 1 {
		t.Errorf("Expected trigger once grace expired, got %d", n)
	}
}

func TestPowerMonitorQueryFailuresCount(t *testing.T) {
	f := newPowerFixture([]string{"", "", ""})

	for i := 0; i < 3; i++ {
		f.monitor.poll()
	}
	if n := f.triggerCount(); n != 1 {
		t.Errorf("Expected query failures to count toward the limit, got %d triggers", n)
	}
}

func TestPowerMonitorNoSession(t *testing.T) {
	f := newPowerFixture([]string{"PC000;", "PC000;"})

	f.monitor.poll()
	f.monitor.poll()

	// Losing the session resets the streak
	f.monitor.opts.Session = func() Session { return nil }
	f.monitor.poll()
	if f.monitor.zeros != 0 {
		t.Errorf("Expected streak reset without a session, got %d", f.monitor.zeros)
	}
	if n := f.triggerCount(); n != 0 {
		t.Errorf("Expected no triggers, got %d", n)
	}
}

func TestPowerMonitorReportsReading(t *testing.T) {
	f := newPowerFixture([]string{"PC010;"})

	f.monitor.poll()

	watts, at := f.monitor.LastReading()
	if watts != 10 {
		t.Errorf("Expected 10 watts, got %d", watts)
	}
	if time.Since(at) > time.Second {
		t.Errorf("Expected a fresh reading timestamp, got %s", at)
	}
}

func TestParsePowerReply(t *testing.T) {
	cases := []struct {
		reply string
		watts int
		ok    bool
	}{
		{"PC005;", 5, true},
		{"PC000;", 0, true},
		{"PC100;", 100, true},
		{"PC5", 5, true},
		{"PC;", 0, false},
		{"XX005;", 0, false},
		{"", 0, false},
		{"PCabc;", 0, false},
	}

	for _, tc := range cases {
		watts, ok := parsePowerReply(tc.reply)
		if ok != tc.ok || watts != tc.watts {
			t.Errorf("parsePowerReply(%q): expected (%d, %v), got (%d, %v)",
				tc.reply, tc.watts, tc.ok, watts, ok)
		}
	}
}
