package seriallink

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/trusdx/trusdxd/pkg/logging"
)

// readPoll bounds every radio read so a hung device cannot wedge the read
// loop; liveness is judged by data timestamps, not blocked calls.
const readPoll = 50 * time.Millisecond

// RadioBufSize is the read buffer size for the radio stream.
const RadioBufSize = 1024

// RadioPort is the slice of serial port behavior the link needs. The real
// device and MockRadio both satisfy it.
type RadioPort interface {
	io.ReadWriteCloser
	SetReadTimeout(time.Duration) error
	Drain() error
	ResetInputBuffer() error
}

// Config describes one physical session.
type Config struct {
	Device   string
	BaudRate int
	UseMock  bool
	PortPath string // client-facing symlink
	Warmup   time.Duration
	Settle   time.Duration
	Speaker  bool // leave the radio speaker unmuted while streaming
}

type pendingQuery struct {
	prefix string
	ch     chan []byte
}

// Link owns one handle to the physical radio and one to the virtual CAT
// endpoint. It serializes all radio writes so CAT frames and audio bytes
// never interleave on the shared line.
type Link struct {
	radio RadioPort
	vport *VirtualPort
	mock  *MockRadio // non-nil in mock mode
	log   *logging.Logger

	settle  time.Duration
	warmup  time.Duration
	speaker bool

	demux Demux

	writeMu      sync.Mutex
	transmitting bool

	pendingMu sync.Mutex
	pending   *pendingQuery

	lastData atomic.Int64 // unix nanos of the last radio bytes
	closed   atomic.Bool
}

// Open connects to the radio (or the mock) and provisions the virtual CAT
// endpoint. Call BringUp before relying on the stream.
func Open(cfg Config) (*Link, error) {
	var port RadioPort
	var mock *MockRadio
	if cfg.UseMock {
		mock = NewMockRadio()
		port = mock
	} else {
		mode := &serial.Mode{
			BaudRate: cfg.BaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		p, err := serial.Open(cfg.Device, mode)
		if err != nil {
			return nil, Classify("open", err)
		}
		port = p
	}

	if err := port.SetReadTimeout(readPoll); err != nil {
		port.Close()
		return nil, Classify("open", err)
	}

	vport, err := OpenVirtualPort(cfg.PortPath)
	if err != nil {
		port.Close()
		return nil, err
	}

	l := &Link{
		radio:   port,
		vport:   vport,
		mock:    mock,
		log:     logging.ForComponent("link"),
		settle:  cfg.Settle,
		warmup:  cfg.Warmup,
		speaker: cfg.Speaker,
	}
	l.lastData.Store(time.Now().UnixNano())
	return l, nil
}

// BringUp runs the session start sequence: wait out the CAT interface
// warm-up, flush any half-received command, enable receive audio streaming
// and force the radio into RX.
func (l *Link) BringUp() error {
	if l.warmup > 0 {
		time.Sleep(l.warmup)
	}

	l.writeMu.Lock()
	// An orphan terminator clears whatever partial command the firmware
	// was holding when we opened the port.
	if _, err := l.radio.Write([]byte(";")); err != nil {
		l.writeMu.Unlock()
		return Classify("write", err)
	}
	time.Sleep(l.settle)
	l.radio.ResetInputBuffer()
	l.writeMu.Unlock()

	if err := l.EnableRXAudio(); err != nil {
		return err
	}
	return l.SendCommand("RX")
}

// EnableRXAudio opens the radio's audio streaming, muted unless the
// speaker option is set.
func (l *Link) EnableRXAudio() error {
	cmd := "UA2"
	if l.speaker {
		cmd = "UA1"
	}
	return l.SendCommand(cmd)
}

// Mock returns the mock device, nil on a real session.
func (l *Link) Mock() *MockRadio {
	return l.mock
}

// PortName returns the pty device path behind the CAT symlink.
func (l *Link) PortName() string {
	return l.vport.Name()
}

// LastRadioData returns when radio bytes last arrived.
func (l *Link) LastRadioData() time.Time {
	return time.Unix(0, l.lastData.Load())
}

// ReadRadio drains whatever the radio has queued and returns the
// demultiplexed chunks. Replies claimed by a pending internal query are
// routed to it and removed. A timeout with no data returns (nil, nil).
func (l *Link) ReadRadio(buf []byte) ([]Chunk, error) {
	n, err := l.radio.Read(buf)
	if err != nil {
		return nil, Classify("read", err)
	}
	if n == 0 {
		return nil, nil
	}
	l.lastData.Store(time.Now().UnixNano())
	return l.routeInternal(l.demux.Feed(buf[:n])), nil
}

func (l *Link) routeInternal(chunks []Chunk) []Chunk {
	l.pendingMu.Lock()
	p := l.pending
	l.pendingMu.Unlock()
	if p == nil {
		return chunks
	}

	out := chunks[:0]
	for _, c := range chunks {
		if p != nil && c.Kind == ChunkCAT && bytes.HasPrefix(c.Data, []byte(p.prefix)) {
			select {
			case p.ch <- c.Data:
			default:
			}
			l.clearPending(p)
			p = nil
			continue
		}
		out = append(out, c)
	}
	return out
}

func (l *Link) clearPending(p *pendingQuery) {
	l.pendingMu.Lock()
	if l.pending == p {
		l.pending = nil
	}
	l.pendingMu.Unlock()
}

var errQueryTimeout = errors.New("no reply from radio")

// QueryRadio sends a command and waits for a reply frame starting with
// replyPrefix, retrying up to retries extra times. Replies are intercepted
// before they reach the CAT client. Exhausted retries classify Transient;
// only a dead handle is Fatal.
func (l *Link) QueryRadio(cmd, replyPrefix string, timeout time.Duration, retries int) (string, error) {
	for attempt := 0; attempt <= retries; attempt++ {
		p := &pendingQuery{prefix: replyPrefix, ch: make(chan []byte, 1)}
		l.pendingMu.Lock()
		l.pending = p
		l.pendingMu.Unlock()

		if err := l.SendCommand(cmd); err != nil {
			l.clearPending(p)
			if IsFatal(err) {
				return "", err
			}
			continue
		}

		select {
		case reply := <-p.ch:
			return string(reply), nil
		case <-time.After(timeout):
			l.clearPending(p)
		}
	}
	return "", Classify("query", errQueryTimeout)
}

// sendLocked writes one CAT frame with the settle discipline. While the
// radio is keyed, an orphan terminator first breaks out of the audio run
// so the frame isn't swallowed as samples.
func (l *Link) sendLocked(frame []byte) error {
	if l.transmitting {
		if _, err := l.radio.Write([]byte{';'}); err != nil {
			return Classify("write", err)
		}
		time.Sleep(l.settle)
	}
	if _, err := l.radio.Write(frame); err != nil {
		return Classify("write", err)
	}
	if err := l.radio.Drain(); err != nil {
		return Classify("drain", err)
	}
	time.Sleep(l.settle)
	return nil
}

// ForwardFrame relays a client frame to the radio verbatim.
func (l *Link) ForwardFrame(frame []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	logging.Tracef("link", "fwd %s", logging.DumpBytes(frame, 48))
	return l.sendLocked(frame)
}

// SendCommand writes a daemon-originated command. TX0 and RX flip the
// keyed flag that gates audio writes and the orphan-terminator discipline.
func (l *Link) SendCommand(cmd string) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	frame := make([]byte, 0, len(cmd)+1)
	frame = append(frame, cmd...)
	frame = append(frame, ';')

	logging.Tracef("link", "cmd %s", cmd)
	if err := l.sendLocked(frame); err != nil {
		return err
	}

	switch cmd {
	case "TX0":
		l.transmitting = true
	case "RX":
		l.transmitting = false
	}
	return nil
}

// WriteAudio streams TX samples to the radio. Samples arriving while the
// radio is not keyed are dropped; the capture device keeps running across
// TX/RX transitions and its output is only valid mid-TX.
func (l *Link) WriteAudio(p []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if !l.transmitting {
		return nil
	}
	if _, err := l.radio.Write(p); err != nil {
		return Classify("write", err)
	}
	return nil
}

// Transmitting reports the link-level keyed flag.
func (l *Link) Transmitting() bool {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.transmitting
}

// ReadClient reads whatever CAT bytes the client has sent, waiting at
// most timeout.
func (l *Link) ReadClient(buf []byte, timeout time.Duration) (int, error) {
	return l.vport.ReadAvailable(buf, timeout)
}

// WriteClient sends bytes to the CAT client.
func (l *Link) WriteClient(frame []byte) error {
	_, err := l.vport.Write(frame)
	return err
}

// WriteResponse lets the link serve as the dispatcher's response sink.
func (l *Link) WriteResponse(frame []byte) error {
	return l.WriteClient(frame)
}

// Close quiets the radio best-effort and tears down both endpoints.
// Safe to call more than once.
func (l *Link) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	l.writeMu.Lock()
	// The device may already be gone; these writes are best effort
	l.radio.Write([]byte(";UA0;"))
	l.radio.Drain()
	l.writeMu.Unlock()

	err := l.radio.Close()
	if verr := l.vport.Close(); err == nil {
		err = verr
	}
	return err
}
