package audio

import (
	"math"
	"sync"
	"time"

	"github.com/trusdx/trusdxd/pkg/logging"
)

// VOX keys the radio from microphone loudness. It is an alternate path
// into the same TX state machine as a client TX command: the setPTT
// callback must run the full subchannel sequence, never a shortcut.
type VOX struct {
	threshold float64 // dBFS over the 8-bit swing
	hang      time.Duration
	enabled   func() bool
	setPTT    func(on bool) error
	log       *logging.Logger

	mu        sync.Mutex
	active    bool
	lastAbove time.Time
}

// NewVOX builds a detector. enabled gates processing per call so the
// operator can flip the VX switch at runtime; setPTT receives key-up and
// key-down edges.
func NewVOX(thresholdDB float64, hang time.Duration, enabled func() bool, setPTT func(bool) error) *VOX {
	return &VOX{
		threshold: thresholdDB,
		hang:      hang,
		enabled:   enabled,
		setPTT:    setPTT,
		log:       logging.ForComponent("vox"),
	}
}

// Active reports whether VOX currently holds the radio keyed.
func (v *VOX) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

// Process examines one block of 8-bit TX samples and keys or unkeys the
// radio across the threshold, with the hang time absorbing speech pauses.
func (v *VOX) Process(samples []byte) {
	if v.enabled != nil && !v.enabled() {
		v.mu.Lock()
		wasActive := v.active
		v.active = false
		v.mu.Unlock()
		if wasActive {
			if err := v.setPTT(false); err != nil {
				v.log.Warnf("unkey failed: %v", err)
			}
		}
		return
	}

	level := LevelDB(samples)
	now := time.Now()

	v.mu.Lock()
	var edge int // +1 key, -1 unkey
	if level >= v.threshold {
		v.lastAbove = now
		if !v.active {
			v.active = true
			edge = 1
		}
	} else if v.active && now.Sub(v.lastAbove) > v.hang {
		v.active = false
		edge = -1
	}
	v.mu.Unlock()

	switch edge {
	case 1:
		v.log.Infof("keyed at %.1f dB", level)
		if err := v.setPTT(true); err != nil {
			v.log.Warnf("key failed: %v", err)
			v.mu.Lock()
			v.active = false
			v.mu.Unlock()
		}
	case -1:
		v.log.Infof("unkeyed after %s hang", v.hang)
		if err := v.setPTT(false); err != nil {
			v.log.Warnf("unkey failed: %v", err)
		}
	}
}

// LevelDB computes the RMS loudness of unsigned 8-bit samples in dBFS.
// Full scale is the complete 0-255 swing around the 128 midpoint; silence
// floors at -120 dB.
func LevelDB(samples []byte) float64 {
	if len(samples) == 0 {
		return -120
	}
	var sum float64
	for _, s := range samples {
		d := (float64(s) - midScale) / midScale
		sum += d * d
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms <= 0 {
		return -120
	}
	db := 20 * math.Log10(rms)
	if db < -120 {
		return -120
	}
	return db
}
