package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/trusdx/trusdxd/pkg/audio"
	"github.com/trusdx/trusdxd/pkg/catemu"
	"github.com/trusdx/trusdxd/pkg/events"
	"github.com/trusdx/trusdxd/pkg/logging"
	"github.com/trusdx/trusdxd/pkg/seriallink"
)

// clientPoll bounds CAT client reads so the loop notices shutdown.
const clientPoll = 50 * time.Millisecond

// State is the connection lifecycle position.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session is one connection epoch to the radio hardware. *seriallink.Link
// implements it.
type Session interface {
	BringUp() error
	EnableRXAudio() error
	ReadRadio(buf []byte) ([]seriallink.Chunk, error)
	ReadClient(buf []byte, timeout time.Duration) (int, error)
	WriteClient(frame []byte) error
	WriteResponse(frame []byte) error
	ForwardFrame(frame []byte) error
	SendCommand(cmd string) error
	QueryRadio(cmd, replyPrefix string, timeout time.Duration, retries int) (string, error)
	LastRadioData() time.Time
	Close() error
}

// Config bounds staleness detection and the reconnect loop.
type Config struct {
	RXTimeout      time.Duration // data staleness limit while receiving
	TXTimeout      time.Duration // tighter limit while transmitting
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Options bundles the collaborators the supervisor drives. Playback and
// Capture are nil in headless mode; their worker loops are simply not
// started.
type Options struct {
	Config     Config
	Dispatcher *catemu.Dispatcher
	Bridge     *audio.Bridge
	OpenLink   func() (Session, error)
	Bus        *events.Bus

	Playback audio.PlaybackSink
	Capture  audio.CaptureSource
	VOX      *audio.VOX
	Monitor  *audio.LevelMonitor
}

// ErrRetriesExhausted means the supervisor gave up reconnecting. The
// process should exit and let systemd or a wrapper script restart it.
var ErrRetriesExhausted = errors.New("reconnect retries exhausted")

// Status is a point-in-time connection summary.
type Status struct {
	State         string    `json:"state"`
	Reconnects    int64     `json:"reconnects"`
	LastRadioData time.Time `json:"last_radio_data,omitempty"`
	LastTXStart   time.Time `json:"last_tx_start,omitempty"`
	LastTXDrop    time.Time `json:"last_tx_drop,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
}

// Supervisor owns the current hardware session, watches its liveness and
// swaps it out on failure while the CAT state machine keeps its state.
type Supervisor struct {
	cfg      Config
	log      *logging.Logger
	bus      *events.Bus
	disp     *catemu.Dispatcher
	bridge   *audio.Bridge
	open     func() (Session, error)
	playback audio.PlaybackSink
	capture  audio.CaptureSource
	vox      *audio.VOX
	monitor  *audio.LevelMonitor

	watchTick time.Duration

	stateVal     atomic.Int32
	reconnecting atomic.Bool
	reconnects   atomic.Int64
	failOnce     sync.Once

	triggerCh chan string

	mu          sync.Mutex
	link        Session
	sessionID   string
	sessionStop context.CancelFunc
	sessionWG   *sync.WaitGroup

	txWatchMu   sync.Mutex
	wasTX       bool
	lastTXStart time.Time
	lastTXDrop  time.Time
}

// New creates a supervisor in the Disconnected state.
func New(opts Options) *Supervisor {
	cfg := opts.Config
	if cfg.RXTimeout <= 0 {
		cfg.RXTimeout = 5 * time.Second
	}
	if cfg.TXTimeout <= 0 {
		cfg.TXTimeout = 2 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 8
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 10 * time.Second
	}

	s := &Supervisor{
		cfg:       cfg,
		log:       logging.ForComponent("supervisor"),
		bus:       opts.Bus,
		disp:      opts.Dispatcher,
		bridge:    opts.Bridge,
		open:      opts.OpenLink,
		playback:  opts.Playback,
		capture:   opts.Capture,
		vox:       opts.VOX,
		monitor:   opts.Monitor,
		watchTick: 250 * time.Millisecond,
		triggerCh: make(chan string, 4),
	}
	s.stateVal.Store(int32(StateDisconnected))
	return s
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	return State(s.stateVal.Load())
}

// ReconnectCount returns how many reconnects have completed.
func (s *Supervisor) ReconnectCount() int64 {
	return s.reconnects.Load()
}

// LastTXStart returns when the radio last keyed up.
func (s *Supervisor) LastTXStart() time.Time {
	s.txWatchMu.Lock()
	defer s.txWatchMu.Unlock()
	return s.lastTXStart
}

// CurrentSession returns the live session, nil while disconnected.
func (s *Supervisor) CurrentSession() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// Status returns a snapshot for the status surfaces.
func (s *Supervisor) Status() Status {
	st := Status{
		State:      s.State().String(),
		Reconnects: s.reconnects.Load(),
	}
	s.mu.Lock()
	link := s.link
	st.SessionID = s.sessionID
	s.mu.Unlock()
	if link != nil {
		st.LastRadioData = link.LastRadioData()
	}
	s.txWatchMu.Lock()
	st.LastTXStart = s.lastTXStart
	st.LastTXDrop = s.lastTXDrop
	s.txWatchMu.Unlock()
	return st
}

// Trigger requests a reconnect. Never blocks; triggers arriving while a
// reconnect is already pending or running are dropped.
func (s *Supervisor) Trigger(reason string) {
	if s.State() == StateFailed {
		return
	}
	select {
	case s.triggerCh <- reason:
	default:
	}
}

func (s *Supervisor) publish(kind string, fields map[string]interface{}) {
	if s.bus != nil {
		s.bus.Publish(kind, fields)
	}
}

func (s *Supervisor) setState(to State, reason string) {
	from := State(s.stateVal.Swap(int32(to)))
	if from == to {
		return
	}
	s.log.Infof("connection %s -> %s (%s)", from, to, reason)
	s.publish(events.KindStateChange, map[string]interface{}{
		"from":   from.String(),
		"to":     to.String(),
		"reason": reason,
	})
}

// Run connects and supervises until ctx ends or retries are exhausted.
// Exhausting retries returns ErrRetriesExhausted after exactly one
// transition to Failed.
func (s *Supervisor) Run(ctx context.Context) error {
	s.setState(StateConnecting, "startup")
	if !s.connect(true) {
		return s.fail("startup connect exhausted")
	}

	var busCh <-chan events.Event
	if s.bus != nil {
		ch, cancel := s.bus.Subscribe(16)
		defer cancel()
		busCh = ch
	}

	ticker := time.NewTicker(s.watchTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil

		case reason := <-s.triggerCh:
			if !s.doReconnect(reason) {
				return s.fail(reason)
			}

		case ev := <-busCh:
			s.handleEvent(ev)

		case <-ticker.C:
			s.watch()
		}
	}
}

// handleEvent restores receive audio streaming after the dispatcher has
// finished a TX-off sequence, since UA0 closes the whole subchannel.
func (s *Supervisor) handleEvent(ev events.Event) {
	if ev.Kind != events.KindTXChange {
		return
	}
	tx, ok := ev.Fields["tx"].(bool)
	if !ok || tx {
		return
	}
	link := s.CurrentSession()
	if link == nil || s.State() != StateConnected {
		return
	}
	if err := link.EnableRXAudio(); err != nil {
		s.log.Warnf("restoring RX audio failed: %v", err)
	}
}

// watch tracks TX edges and flags data staleness. A keyed radio gets the
// tighter timeout: a stuck TX is operationally worse than a stuck RX.
func (s *Supervisor) watch() {
	tx := s.disp.State().TXActive()
	s.txWatchMu.Lock()
	if tx && !s.wasTX {
		s.lastTXStart = time.Now()
	}
	s.wasTX = tx
	s.txWatchMu.Unlock()

	if s.State() != StateConnected {
		return
	}
	link := s.CurrentSession()
	if link == nil {
		return
	}

	timeout := s.cfg.RXTimeout
	if tx {
		timeout = s.cfg.TXTimeout
	}
	if age := time.Since(link.LastRadioData()); age > timeout {
		s.log.Warnf("no radio data for %s", age.Round(time.Millisecond))
		s.Trigger("data stale")
	}
}

// doReconnect tears the session down and rebuilds it. Concurrent calls
// collapse to one: the loser returns immediately and the winner's result
// stands.
func (s *Supervisor) doReconnect(reason string) bool {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return true
	}
	defer s.reconnecting.Store(false)

	s.setState(StateReconnecting, reason)
	s.publish(events.KindReconnect, map[string]interface{}{"reason": reason})

	if s.disp.State().TXActive() {
		s.txWatchMu.Lock()
		s.lastTXDrop = time.Now()
		s.txWatchMu.Unlock()
	}

	s.stopSession()

	s.mu.Lock()
	link := s.link
	s.link = nil
	s.sessionID = ""
	s.mu.Unlock()
	if link != nil {
		link.Close()
	}

	if !s.connect(false) {
		return false
	}
	s.reconnects.Add(1)
	return true
}

// connect attempts to open and bring up a session, up to MaxRetries
// times. With immediate set the first attempt skips the backoff wait.
// On success the radio's frequency and mode are re-asserted and the
// worker loops restarted.
func (s *Supervisor) connect(immediate bool) bool {
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		if !immediate || attempt > 1 {
			delay := s.backoff(attempt)
			s.log.Infof("connect attempt %d/%d in %s", attempt, s.cfg.MaxRetries, delay.Round(time.Millisecond))
			// Deliberately not cancellable: an interruptible backoff
			// invites reconnect storms.
			time.Sleep(delay)
		}

		link, err := s.open()
		if err != nil {
			s.log.Warnf("open failed (attempt %d/%d): %v", attempt, s.cfg.MaxRetries, err)
			s.publish(events.KindLinkError, map[string]interface{}{"op": "open", "error": err.Error()})
			continue
		}
		if err := link.BringUp(); err != nil {
			s.log.Warnf("bring-up failed (attempt %d/%d): %v", attempt, s.cfg.MaxRetries, err)
			link.Close()
			continue
		}

		// Each hardware session gets its own ID so log lines and events
		// from different epochs can be told apart.
		id := uuid.NewString()

		s.mu.Lock()
		s.link = link
		s.sessionID = id
		s.mu.Unlock()
		s.disp.AttachLink(link)
		s.disp.AttachClient(link)

		if err := s.disp.ResyncHardware(); err != nil {
			s.log.Warnf("state resync failed: %v", err)
			s.mu.Lock()
			s.link = nil
			s.sessionID = ""
			s.mu.Unlock()
			link.Close()
			continue
		}

		s.startSession(link)
		s.setState(StateConnected, fmt.Sprintf("attempt %d, session %s", attempt, id[:8]))
		s.drainTriggers()
		return true
	}
	return false
}

// backoff computes the wait before the given attempt: exponential from
// the initial delay, capped, with 20% jitter either way.
func (s *Supervisor) backoff(attempt int) time.Duration {
	d := s.cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.BackoffMax {
			d = s.cfg.BackoffMax
			break
		}
	}
	jitter := 1 + (rand.Float64()*0.4 - 0.2)
	return time.Duration(float64(d) * jitter)
}

// drainTriggers discards triggers that queued up during a reconnect;
// they described the session that was just replaced.
func (s *Supervisor) drainTriggers() {
	for {
		select {
		case <-s.triggerCh:
		default:
			return
		}
	}
}

func (s *Supervisor) fail(reason string) error {
	s.failOnce.Do(func() {
		s.setState(StateFailed, reason)
		s.log.Errorf("giving up after %d attempts: %s", s.cfg.MaxRetries, reason)
	})
	return ErrRetriesExhausted
}

// startSession launches the per-epoch worker loops against one link.
func (s *Supervisor) startSession(link Session) {
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}

	s.mu.Lock()
	s.sessionStop = cancel
	s.sessionWG = wg
	s.mu.Unlock()

	wg.Add(2)
	go func() {
		defer wg.Done()
		s.radioLoop(ctx, link)
	}()
	go func() {
		defer wg.Done()
		s.clientLoop(ctx, link)
	}()

	if s.bridge != nil && s.playback != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.bridge.RunPlayback(ctx, s.playback)
		}()
	}
	if s.bridge != nil && s.capture != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.bridge.RunCapture(ctx, s.capture, link, s.vox, s.monitor, s.disp.State().TXActive)
		}()
	}
}

// stopSession cancels the worker loops and waits for them to exit.
func (s *Supervisor) stopSession() {
	s.mu.Lock()
	cancel := s.sessionStop
	wg := s.sessionWG
	s.sessionStop = nil
	s.sessionWG = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wg != nil {
		wg.Wait()
	}
}

func (s *Supervisor) shutdown() {
	s.stopSession()
	s.mu.Lock()
	link := s.link
	s.link = nil
	s.sessionID = ""
	s.mu.Unlock()
	if link != nil {
		link.Close()
	}
	s.setState(StateDisconnected, "shutdown")
}

// radioLoop relays radio bytes: CAT frames to the client, audio to the
// playback queue. Only a fatal read error ends the loop, via a trigger.
func (s *Supervisor) radioLoop(ctx context.Context, link Session) {
	buf := make([]byte, seriallink.RadioBufSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		chunks, err := link.ReadRadio(buf)
		if err != nil {
			if seriallink.IsFatal(err) {
				s.log.Errorf("radio read failed: %v", err)
				s.publish(events.KindLinkError, map[string]interface{}{"op": "read", "error": err.Error()})
				s.Trigger("fatal read error")
				return
			}
			continue
		}

		for _, c := range chunks {
			switch c.Kind {
			case seriallink.ChunkCAT:
				if err := link.WriteClient(c.Data); err != nil {
					s.log.Warnf("client write failed: %v", err)
				}
			case seriallink.ChunkAudio:
				if s.bridge != nil {
					s.bridge.PushRX(c.Data)
				}
			}
		}
	}
}

// clientLoop feeds CAT client bytes into the dispatcher. Read errors are
// normal whenever no client holds the port open, so they only slow the
// poll down.
func (s *Supervisor) clientLoop(ctx context.Context, link Session) {
	buf := make([]byte, 256)
	attached := false
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := link.ReadClient(buf, clientPoll)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if n > 0 {
			if !attached {
				attached = true
				s.publish(events.KindClientAttach, map[string]interface{}{"bytes": n})
			}
			s.disp.HandleClientData(buf[:n])
		}
	}
}
