package supervisor

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/trusdx/trusdxd/pkg/events"
	"github.com/trusdx/trusdxd/pkg/logging"
)

// PowerMonitorOptions configures the polling loop.
type PowerMonitorOptions struct {
	Interval     time.Duration // poll cadence
	Grace        time.Duration // ignore readings this soon after TX start
	ZeroLimit    int           // consecutive bad readings before signaling
	QueryTimeout time.Duration
	QueryRetries int

	Session func() Session          // current session, nil while disconnected
	Trigger func(reason string)     // reconnect signal
	TXStart func() time.Time        // last TX key-up
	Bus     *events.Bus             // optional
}

// PowerMonitor periodically asks the radio for its output power setting.
// A powered radio always answers with a nonzero value; a run of zeros or
// silence means the radio browned out while the USB side stayed up, a
// failure mode data staleness alone can miss. The monitor only signals,
// it never touches the session itself.
type PowerMonitor struct {
	log  *logging.Logger
	opts PowerMonitorOptions

	zeros     int
	lastWatts atomic.Int64
	lastAt    atomic.Int64 // unix nanos
}

// NewPowerMonitor creates a monitor with defaults filled in.
func NewPowerMonitor(opts PowerMonitorOptions) *PowerMonitor {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.Grace <= 0 {
		opts.Grace = 5 * time.Second
	}
	if opts.ZeroLimit <= 0 {
		opts.ZeroLimit = 3
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 500 * time.Millisecond
	}
	if opts.QueryRetries < 0 {
		opts.QueryRetries = 0
	} else if opts.QueryRetries == 0 {
		opts.QueryRetries = 2
	}
	return &PowerMonitor{
		log:  logging.ForComponent("power"),
		opts: opts,
	}
}

// LastReading returns the most recent power value and when it arrived.
func (m *PowerMonitor) LastReading() (int, time.Time) {
	return int(m.lastWatts.Load()), time.Unix(0, m.lastAt.Load())
}

// Run polls until ctx ends.
func (m *PowerMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

// poll issues one power query and updates the consecutive-failure count.
func (m *PowerMonitor) poll() {
	link := m.opts.Session()
	if link == nil {
		m.zeros = 0
		return
	}

	reply, err := link.QueryRadio("PC", "PC", m.opts.QueryTimeout, m.opts.QueryRetries)
	if err != nil {
		m.count("no power reply")
		return
	}

	watts, ok := parsePowerReply(reply)
	if !ok {
		m.log.Debugf("unparseable power reply %q", reply)
		return
	}

	m.lastWatts.Store(int64(watts))
	m.lastAt.Store(time.Now().UnixNano())

	if watts == 0 {
		m.count("zero power reading")
	} else {
		m.zeros = 0
	}
}

// count registers one bad reading. Readings inside the post-TX-start
// grace window are discarded, keying up dips power while the PA retunes.
func (m *PowerMonitor) count(reason string) {
	if m.opts.TXStart != nil {
		if start := m.opts.TXStart(); !start.IsZero() && time.Since(start) < m.opts.Grace {
			return
		}
	}

	m.zeros++
	m.log.Debugf("%s (%d/%d)", reason, m.zeros, m.opts.ZeroLimit)
	if m.zeros < m.opts.ZeroLimit {
		return
	}
	m.zeros = 0

	m.log.Warnf("radio looks dark: %s repeated %d times", reason, m.opts.ZeroLimit)
	if m.opts.Bus != nil {
		m.opts.Bus.Publish(events.KindPowerLoss, map[string]interface{}{"reason": reason})
	}
	if m.opts.Trigger != nil {
		m.opts.Trigger("power loss")
	}
}

// parsePowerReply extracts the watt value from a PCxxx; frame.
func parsePowerReply(reply string) (int, bool) {
	body := strings.TrimSuffix(reply, ";")
	if !strings.HasPrefix(body, "PC") || len(body) < 3 {
		return 0, false
	}
	watts, err := strconv.Atoi(body[2:])
	if err != nil {
		return 0, false
	}
	return watts, true
}
