package seriallink

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/trusdx/trusdxd/pkg/logging"
)

// newMockLink builds a link over a MockRadio without the pty side, for
// tests that only exercise the radio path.
func newMockLink() (*Link, *MockRadio) {
	mock := NewMockRadio()
	mock.SetReadTimeout(5 * time.Millisecond)
	l := &Link{
		radio:  mock,
		mock:   mock,
		log:    logging.ForComponent("link"),
		settle: time.Millisecond,
	}
	l.lastData.Store(time.Now().UnixNano())
	return l, mock
}

func TestBringUpSequence(t *testing.T) {
	l, mock := newMockLink()

	if err := l.BringUp(); err != nil {
		t.Fatalf("BringUp failed: %v", err)
	}

	want := []string{"UA2", "RX"}
	got := mock.Commands()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Command %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if !mock.Streaming() {
		t.Error("Expected audio streaming after bring-up")
	}
}

func TestBringUpWithSpeaker(t *testing.T) {
	l, mock := newMockLink()
	l.speaker = true

	if err := l.BringUp(); err != nil {
		t.Fatalf("BringUp failed: %v", err)
	}
	got := mock.Commands()
	if len(got) == 0 || got[0] != "UA1" {
		t.Errorf("Expected UA1 first with speaker on, got %v", got)
	}
}

func TestSendCommandTransitions(t *testing.T) {
	l, mock := newMockLink()

	if l.Transmitting() {
		t.Error("Expected not transmitting initially")
	}

	if err := l.SendCommand("TX0"); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if !l.Transmitting() || !mock.Transmitting() {
		t.Error("Expected both sides keyed after TX0")
	}

	// A command mid-TX still reaches the firmware thanks to the
	// orphan-terminator escape.
	if err := l.SendCommand("FA00014074000"); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	found := false
	for _, c := range mock.Commands() {
		if c == "FA00014074000" {
			found = true
		}
	}
	if !found {
		t.Errorf("Mid-TX command lost: %v", mock.Commands())
	}

	if err := l.SendCommand("RX"); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if l.Transmitting() || mock.Transmitting() {
		t.Error("Expected both sides unkeyed after RX")
	}
}

func TestWriteAudioGating(t *testing.T) {
	l, mock := newMockLink()

	samples := make([]byte, 48)
	for i := range samples {
		samples[i] = 128
	}

	// Unkeyed: samples are dropped, not an error
	if err := l.WriteAudio(samples); err != nil {
		t.Fatalf("WriteAudio failed: %v", err)
	}
	if mock.AudioBytesReceived() != 0 {
		t.Errorf("Expected 0 audio bytes while unkeyed, got %d", mock.AudioBytesReceived())
	}

	if err := l.SendCommand("TX0"); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if err := l.WriteAudio(samples); err != nil {
		t.Fatalf("WriteAudio failed: %v", err)
	}
	if mock.AudioBytesReceived() != 48 {
		t.Errorf("Expected 48 audio bytes, got %d", mock.AudioBytesReceived())
	}
}

func TestReadRadioAudio(t *testing.T) {
	l, _ := newMockLink()

	if err := l.EnableRXAudio(); err != nil {
		t.Fatalf("EnableRXAudio failed: %v", err)
	}

	buf := make([]byte, RadioBufSize)
	deadline := time.Now().Add(time.Second)
	var audio int
	for time.Now().Before(deadline) && audio == 0 {
		chunks, err := l.ReadRadio(buf)
		if err != nil {
			t.Fatalf("ReadRadio failed: %v", err)
		}
		for _, c := range chunks {
			if c.Kind == ChunkAudio {
				audio += len(c.Data)
			}
		}
	}
	if audio == 0 {
		t.Error("Expected audio chunks while streaming")
	}
}

func TestQueryRadio(t *testing.T) {
	l, _ := newMockLink()

	// Pump the read loop like the session worker does
	var mu sync.Mutex
	var relayed []Chunk
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, RadioBufSize)
		for {
			select {
			case <-stop:
				return
			default:
			}
			chunks, err := l.ReadRadio(buf)
			if err != nil {
				return
			}
			mu.Lock()
			relayed = append(relayed, chunks...)
			mu.Unlock()
		}
	}()

	reply, err := l.QueryRadio("PC", "PC", 500*time.Millisecond, 2)
	close(stop)
	wg.Wait()

	if err != nil {
		t.Fatalf("QueryRadio failed: %v", err)
	}
	if reply != "PC005;" {
		t.Errorf("Expected 'PC005;', got '%s'", reply)
	}

	// The reply must have been intercepted, not relayed toward the client
	mu.Lock()
	defer mu.Unlock()
	for _, c := range relayed {
		if c.Kind == ChunkCAT && strings.HasPrefix(string(c.Data), "PC") {
			t.Errorf("Internal query reply leaked: %q", c.Data)
		}
	}
}

func TestQueryRadioTimeout(t *testing.T) {
	l, _ := newMockLink()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, RadioBufSize)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := l.ReadRadio(buf); err != nil {
				return
			}
		}
	}()

	// The mock never sends anything starting with "XX"
	_, err := l.QueryRadio("PC", "XX", 30*time.Millisecond, 1)
	close(stop)
	wg.Wait()

	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if IsFatal(err) {
		t.Error("Query exhaustion must classify Transient")
	}
}

func TestReadRadioAfterCloseIsFatal(t *testing.T) {
	l, mock := newMockLink()
	mock.Close()

	buf := make([]byte, RadioBufSize)
	_, err := l.ReadRadio(buf)
	if err == nil {
		t.Fatal("Expected error reading a closed device")
	}
	if !IsFatal(err) {
		t.Errorf("Expected Fatal classification, got %v", err)
	}
}

func TestLastRadioDataAdvances(t *testing.T) {
	l, _ := newMockLink()

	start := l.LastRadioData()
	if err := l.EnableRXAudio(); err != nil {
		t.Fatalf("EnableRXAudio failed: %v", err)
	}

	buf := make([]byte, RadioBufSize)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := l.ReadRadio(buf); err != nil {
			t.Fatalf("ReadRadio failed: %v", err)
		}
		if l.LastRadioData().After(start) {
			return
		}
	}
	t.Error("Expected data timestamp to advance")
}

// Full session over a real pty pair. Skipped where ptys are unavailable.
func TestLinkWithVirtualPort(t *testing.T) {
	catPath := filepath.Join(t.TempDir(), "trusdx_cat")
	l, err := Open(Config{
		UseMock:  true,
		PortPath: catPath,
		Settle:   time.Millisecond,
	})
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	defer l.Close()

	client, err := os.OpenFile(catPath, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("Failed to open CAT endpoint: %v", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte("ID;")); err != nil {
		t.Fatalf("Client write failed: %v", err)
	}

	buf := make([]byte, 64)
	var got []byte
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(got) < 3 {
		n, err := l.ReadClient(buf, 20*time.Millisecond)
		if err != nil {
			t.Fatalf("ReadClient failed: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != "ID;" {
		t.Errorf("Expected 'ID;' from client, got %q", got)
	}

	if err := l.WriteClient([]byte("ID020;")); err != nil {
		t.Fatalf("WriteClient failed: %v", err)
	}
	client.SetReadDeadline(time.Now().Add(time.Second))
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("Client read failed: %v", err)
	}
	if string(buf[:n]) != "ID020;" {
		t.Errorf("Expected 'ID020;' at client, got %q", buf[:n])
	}

	l.Close()
	if _, err := os.Lstat(catPath); !os.IsNotExist(err) {
		t.Error("Expected symlink removed on close")
	}
}
