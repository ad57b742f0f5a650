package audio

import (
	"context"
	"time"

	"github.com/trusdx/trusdxd/pkg/logging"
)

// Stream constants fixed by the radio's firmware.
const (
	RXSampleRate = 7820  // unsigned 8-bit samples from the radio
	TXSampleRate = 11520 // capture rate before 16-to-8-bit downconversion
	ChunkSize    = 48    // samples per playback chunk
	queueDepth   = 128   // RX FIFO depth in chunks
)

// midScale is unsigned 8-bit silence.
const midScale = 128

// Counters receives pipeline statistics.
type Counters interface {
	AddRXAudioBytes(n int)
	AddTXAudioBytes(n int)
	IncUnderrun()
	IncOverrun()
}

type nopCounters struct{}

func (nopCounters) AddRXAudioBytes(int) {}
func (nopCounters) AddTXAudioBytes(int) {}
func (nopCounters) IncUnderrun()        {}
func (nopCounters) IncOverrun()         {}

// PlaybackSink plays one chunk of unsigned 8-bit samples, blocking at the
// device cadence.
type PlaybackSink interface {
	Write(chunk []byte) error
}

// CaptureSource delivers one block of signed 16-bit samples per call.
type CaptureSource interface {
	ReadBlock() ([]int16, error)
}

// AudioWriter takes TX samples toward the radio.
type AudioWriter interface {
	WriteAudio(p []byte) error
}

// DownconvertPCM16 maps signed 16-bit samples onto the radio's unsigned
// 8-bit range and substitutes the CAT delimiter byte so transmitted audio
// can never terminate a command frame on the shared serial line.
func DownconvertPCM16(in []int16, out []byte) []byte {
	for _, s := range in {
		b := byte((int(s) >> 8) + midScale)
		if b == ';' {
			b = ':'
		}
		out = append(out, b)
	}
	return out
}

// Bridge moves audio between the serial link and the host sound devices.
// The two directions share nothing but the counters.
type Bridge struct {
	log      *logging.Logger
	counters Counters
	pool     *BufferPool
	rxQueue  chan []byte
}

// NewBridge creates a bridge with an empty RX queue. A nil counters sink
// is replaced with a no-op.
func NewBridge(counters Counters) *Bridge {
	if counters == nil {
		counters = nopCounters{}
	}
	return &Bridge{
		log:      logging.ForComponent("audio"),
		counters: counters,
		pool:     NewBufferPool(),
		rxQueue:  make(chan []byte, queueDepth),
	}
}

// QueueDepth returns the number of queued RX chunks.
func (b *Bridge) QueueDepth() int {
	return len(b.rxQueue)
}

// PoolStats returns buffer pool statistics.
func (b *Bridge) PoolStats() BufferPoolStats {
	return b.pool.Stats()
}

// PushRX slices a run of radio audio into playback chunks and queues them.
// A full queue drops the newest data; a bounded gap beats unbounded
// latency on the playback side.
func (b *Bridge) PushRX(data []byte) {
	for off := 0; off < len(data); off += ChunkSize {
		end := min(off+ChunkSize, len(data))
		chunk := b.pool.Get(end - off)
		copy(chunk, data[off:end])

		select {
		case b.rxQueue <- chunk:
		default:
			b.pool.Put(chunk)
			b.counters.IncOverrun()
		}
	}
	b.counters.AddRXAudioBytes(len(data))
}

// RunPlayback feeds queued RX chunks to the output device until the
// context ends. When the queue runs low it counts an underrun and waits
// for refill rather than consuming its way to the last chunk; if nothing
// arrives the device is kept clocked with silence.
func (b *Bridge) RunPlayback(ctx context.Context, out PlaybackSink) {
	silence := make([]byte, ChunkSize)
	for i := range silence {
		silence[i] = midScale
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if len(b.rxQueue) < 2 {
			b.counters.IncUnderrun()
			select {
			case <-ctx.Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
		}

		var chunk []byte
		fromQueue := false
		select {
		case chunk = <-b.rxQueue:
			fromQueue = true
		default:
			chunk = silence
		}

		err := out.Write(chunk)
		if fromQueue {
			b.pool.Put(chunk)
		}
		if err != nil {
			b.log.Warnf("playback write failed: %v", err)
			return
		}
	}
}

// RunCapture reads microphone blocks, downconverts them, feeds the level
// monitor and VOX detector, and streams them toward the radio. The link
// drops samples while the radio is unkeyed, so the device keeps running
// across TX/RX transitions.
func (b *Bridge) RunCapture(ctx context.Context, in CaptureSource, link AudioWriter, vox *VOX, monitor *LevelMonitor, txActive func() bool) {
	out := make([]byte, 0, 4096)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		samples, err := in.ReadBlock()
		if err != nil {
			b.log.Warnf("capture read failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		out = DownconvertPCM16(samples, out[:0])
		if monitor != nil {
			monitor.FeedSamples(out)
		}
		if vox != nil {
			vox.Process(out)
		}

		if err := link.WriteAudio(out); err != nil {
			b.log.Warnf("audio write failed: %v", err)
			continue
		}
		if txActive != nil && txActive() {
			b.counters.AddTXAudioBytes(len(out))
		}
	}
}
