package audio

import (
	"math"
	"math/cmplx"
	"sync"
	"time"

	"github.com/mjibson/go-dsp/fft"
)

// spectrumSize is the number of samples fed into each FFT pass.
const spectrumSize = 256

// floorDB is the level reported for silence.
const floorDB = -120.0

// LevelData is a point-in-time audio level measurement.
type LevelData struct {
	Timestamp int64   `json:"timestamp"`
	RMSDB     float64 `json:"rms_db"`
	PeakDB    float64 `json:"peak_db"`
	Clipping  bool    `json:"clipping"`
}

// SpectrumData is a magnitude spectrum over the most recent samples.
type SpectrumData struct {
	Timestamp  int64     `json:"timestamp"`
	SampleRate int       `json:"sample_rate"`
	FreqStep   float64   `json:"freq_step"`
	Bins       []float64 `json:"bins"`
}

// LevelMonitor tracks RMS and peak levels of the radio audio stream and
// keeps a rolling window of samples for spectrum analysis. Samples are
// unsigned 8-bit, centered on 128.
type LevelMonitor struct {
	mu sync.RWMutex

	sampleRate int

	rmsDB        float64
	peakDB       float64
	peakHoldDB   float64
	peakHoldTime time.Time
	clipping     bool
	updated      time.Time

	window  []float64
	ring    []float64
	ringPos int
	fed     int64
	clipped int64
}

// NewLevelMonitor creates a monitor for a stream at the given sample rate.
func NewLevelMonitor(sampleRate int) *LevelMonitor {
	return &LevelMonitor{
		sampleRate: sampleRate,
		rmsDB:      floorDB,
		peakDB:     floorDB,
		peakHoldDB: floorDB,
		window:     makeHannWindow(spectrumSize),
		ring:       make([]float64, spectrumSize),
	}
}

// FeedSamples updates the level measurements from a block of samples.
func (m *LevelMonitor) FeedSamples(samples []byte) {
	if len(samples) == 0 {
		return
	}

	var sum float64
	var peak float64
	clipping := false
	clipped := int64(0)
	for _, s := range samples {
		if s == 0x00 || s == 0xff {
			clipping = true
			clipped++
		}
		v := (float64(s) - 128.0) / 128.0
		sum += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	peakDB := toDB(peak)

	m.mu.Lock()
	m.rmsDB = toDB(rms)
	m.peakDB = peakDB
	m.clipping = clipping
	m.clipped += clipped
	m.updated = time.Now()
	if peakDB > m.peakHoldDB || m.updated.Sub(m.peakHoldTime) > 2*time.Second {
		m.peakHoldDB = peakDB
		m.peakHoldTime = m.updated
	}
	for _, s := range samples {
		m.ring[m.ringPos] = (float64(s) - 128.0) / 128.0
		m.ringPos = (m.ringPos + 1) % spectrumSize
	}
	m.fed += int64(len(samples))
	m.mu.Unlock()
}

// Current returns the most recent level measurement.
func (m *LevelMonitor) Current() LevelData {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return LevelData{
		Timestamp: m.updated.UnixMilli(),
		RMSDB:     m.rmsDB,
		PeakDB:    m.peakDB,
		Clipping:  m.clipping,
	}
}

// PeakHold returns the held peak level in dB. The hold decays after
// two seconds without a louder peak.
func (m *LevelMonitor) PeakHold() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peakHoldDB
}

// Spectrum computes a magnitude spectrum in dB over the sample window.
// Returns a zero-value SpectrumData until enough samples have been fed.
func (m *LevelMonitor) Spectrum() SpectrumData {
	m.mu.RLock()
	if m.fed < spectrumSize {
		m.mu.RUnlock()
		return SpectrumData{}
	}
	input := make([]complex128, spectrumSize)
	for i := 0; i < spectrumSize; i++ {
		s := m.ring[(m.ringPos+i)%spectrumSize]
		input[i] = complex(s*m.window[i], 0)
	}
	m.mu.RUnlock()

	out := fft.FFT(input)

	// Only the first half carries unique information for real input.
	bins := make([]float64, spectrumSize/2)
	for i := range bins {
		mag := cmplx.Abs(out[i]) / float64(spectrumSize)
		bins[i] = toDB(mag)
	}
	return SpectrumData{
		Timestamp:  time.Now().UnixMilli(),
		SampleRate: m.sampleRate,
		FreqStep:   float64(m.sampleRate) / float64(spectrumSize),
		Bins:       bins,
	}
}

// Statistics returns counters for diagnostics.
func (m *LevelMonitor) Statistics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	clipRate := float64(0)
	if m.fed > 0 {
		clipRate = float64(m.clipped) / float64(m.fed) * 100.0
	}
	return map[string]interface{}{
		"sample_count":  m.fed,
		"clip_count":    m.clipped,
		"clip_rate_pct": clipRate,
		"peak_hold_db":  m.peakHoldDB,
		"sample_rate":   m.sampleRate,
	}
}

func toDB(v float64) float64 {
	if v <= 0 {
		return floorDB
	}
	db := 20.0 * math.Log10(v)
	if db < floorDB {
		return floorDB
	}
	return db
}

// makeHannWindow creates a Hann window function for FFT.
func makeHannWindow(size int) []float64 {
	window := make([]float64, size)
	for i := 0; i < size; i++ {
		window[i] = 0.5 * (1.0 - math.Cos(2.0*math.Pi*float64(i)/float64(size-1)))
	}
	return window
}
