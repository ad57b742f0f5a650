package seriallink

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// audioFrameInterval paces synthetic audio close to the real radio's
// 7820 samples/s in 48-byte frames.
const audioFrameInterval = 6 * time.Millisecond

// MockRadio emulates enough truSDX firmware behavior to run the daemon
// without hardware: CAT replies, the UA audio subchannel, and paced
// "US...;" audio frames while streaming.
type MockRadio struct {
	mu          sync.Mutex
	pending     bytes.Buffer // bytes queued for the next Read
	cmd         bytes.Buffer // partial inbound command
	inCmd       bool         // keyed and past the audio-escape ';'
	streaming   bool
	tx          bool
	freq        string
	mode        byte
	power       string
	readTimeout time.Duration
	lastAudio   time.Time
	closed      bool
	commands    []string // every complete command received, for assertions
	audioIn     int      // TX audio bytes swallowed
}

// NewMockRadio returns a mock in its power-on state.
func NewMockRadio() *MockRadio {
	return &MockRadio{
		freq:        "00007074000",
		mode:        '2',
		power:       "005",
		readTimeout: 100 * time.Millisecond,
	}
}

// SetPower changes the reading the mock reports for PC queries. Tests use
// "000" to simulate a silently dead radio.
func (m *MockRadio) SetPower(p string) {
	m.mu.Lock()
	m.power = p
	m.mu.Unlock()
}

// Commands returns every complete CAT command the mock has received.
func (m *MockRadio) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.commands))
	copy(out, m.commands)
	return out
}

// Transmitting reports whether the mock thinks it is keyed.
func (m *MockRadio) Transmitting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx
}

// Streaming reports whether the audio subchannel is open.
func (m *MockRadio) Streaming() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streaming
}

// AudioBytesReceived returns how many TX audio bytes arrived.
func (m *MockRadio) AudioBytesReceived() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioIn
}

// Write accepts host bytes: CAT commands when idle, audio samples while
// keyed. Replies are queued for the next Read.
func (m *MockRadio) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.ErrClosedPipe
	}

	for _, b := range p {
		// Keyed: bytes are audio until a ';' escapes into command mode
		if m.tx && !m.inCmd {
			if b == ';' {
				m.inCmd = true
			} else {
				m.audioIn++
			}
			continue
		}
		m.cmd.WriteByte(b)
		if b == ';' {
			m.handleCommand(m.cmd.String())
			m.cmd.Reset()
			m.inCmd = false
		}
	}
	return len(p), nil
}

func (m *MockRadio) handleCommand(frame string) {
	if len(frame) < 2 {
		return // orphan terminator
	}
	cmd := frame[:len(frame)-1]
	m.commands = append(m.commands, cmd)

	switch {
	case cmd == "ID":
		m.pending.WriteString("ID020;")
	case cmd == "PC":
		m.pending.WriteString("PC" + m.power + ";")
	case cmd == "UA1", cmd == "UA2":
		m.streaming = true
		m.lastAudio = time.Now()
	case cmd == "UA0":
		m.streaming = false
	case cmd == "TX0":
		m.tx = true
	case cmd == "RX":
		m.tx = false
	case len(cmd) > 2 && cmd[:2] == "FA":
		m.freq = cmd[2:]
	case cmd == "FA":
		m.pending.WriteString("FA" + m.freq + ";")
	case len(cmd) == 3 && cmd[:2] == "MD":
		m.mode = cmd[2]
	case cmd == "MD":
		m.pending.WriteString("MD" + string(m.mode) + ";")
	}
}

// Read hands back queued replies, or a synthetic audio frame when the
// subchannel is open and the pacing interval elapsed. Honors the read
// timeout like a real serial port: no data returns (0, nil).
func (m *MockRadio) Read(p []byte) (int, error) {
	deadline := time.Now().Add(m.timeout())
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return 0, io.EOF
		}
		if m.streaming && !m.tx && time.Since(m.lastAudio) >= audioFrameInterval {
			m.queueAudioFrame()
		}
		if m.pending.Len() > 0 {
			n, _ := m.pending.Read(p)
			m.mu.Unlock()
			return n, nil
		}
		m.mu.Unlock()

		if time.Now().After(deadline) {
			return 0, nil
		}
		time.Sleep(time.Millisecond)
	}
}

// queueAudioFrame emits one 48-sample frame of quiet around mid-scale.
func (m *MockRadio) queueAudioFrame() {
	m.lastAudio = time.Now()
	m.pending.WriteString("US")
	for i := 0; i < 48; i++ {
		s := byte(128)
		if i%8 == 0 {
			s = 130
		}
		m.pending.WriteByte(s)
	}
	m.pending.WriteByte(';')
}

func (m *MockRadio) timeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readTimeout
}

// SetReadTimeout bounds how long Read waits for data.
func (m *MockRadio) SetReadTimeout(t time.Duration) error {
	m.mu.Lock()
	m.readTimeout = t
	m.mu.Unlock()
	return nil
}

// Drain is immediate for an in-memory device.
func (m *MockRadio) Drain() error {
	return nil
}

// ResetInputBuffer discards queued replies.
func (m *MockRadio) ResetInputBuffer() error {
	m.mu.Lock()
	m.pending.Reset()
	m.mu.Unlock()
	return nil
}

// Close marks the device gone; further I/O fails like an unplugged port.
func (m *MockRadio) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
