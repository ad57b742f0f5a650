package catemu

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Power-on defaults. These match the radio's cold-boot state so a client
// that connects before the first hardware resync still sees coherent values.
const (
	DefaultFrequency = "00007074000" // 7.074 MHz, the FT8/JS8 40m sub-band
	DefaultMode      = ModeUSB
)

// Operating mode digits as used by the MD command.
const (
	ModeLSB byte = '1'
	ModeUSB byte = '2'
	ModeCW  byte = '3'
	ModeFM  byte = '4'
	ModeAM  byte = '5'
	ModeFSK byte = '6'
	ModeCWR byte = '7'
	ModeFSR byte = '9'
)

// VFO designators as used by FR/FT and the IF frame.
const (
	VFOA byte = '0'
	VFOB byte = '1'
)

const maxRITOffset = 9999 // Hz, RIT/XIT range on the TS-480

// Snapshot is a copy of the radio state at one instant. It is what the IF
// renderer consumes and what the supervisor carries across a reconnect.
type Snapshot struct {
	VFOAFreq    string
	VFOBFreq    string
	Mode        byte
	RXVFO       byte
	TXVFO       byte
	CurrVFO     byte
	Split       byte
	RIT         byte
	XIT         byte
	RITOffset   string
	TXActive    bool
	AIMode      byte
	VOXOn       bool
	AFGain      string
	RFGain      string
	Squelch     string
	FilterWidth string
	Preamp      string
	SMeter      string
}

// RadioState holds the emulated radio's operating parameters. All access
// goes through the lock; callers get copies, never references.
type RadioState struct {
	mu sync.Mutex

	vfoAFreq string // 11 ASCII digits, Hz
	vfoBFreq string
	mode     byte // MD digit
	rxVFO    byte // '0'=A, '1'=B
	txVFO    byte
	currVFO  byte
	split    byte // '0'/'1'
	rit      byte
	xit      byte
	ritHz    int // signed, clamped to ±maxRITOffset
	txActive bool
	aiMode   byte // AI digit, '0' = off
	voxOn    bool

	// Read-back only fields, no hardware round-trip
	afGain      string // 3 digits
	rfGain      string // 3 digits
	squelch     string // 3 digits
	filterWidth string // 4 digits
	preamp      string // 2 digits
	smeter      string // 4 digits, fixed
}

// NewRadioState returns a state record with power-on defaults.
func NewRadioState() *RadioState {
	return &RadioState{
		vfoAFreq:    DefaultFrequency,
		vfoBFreq:    DefaultFrequency,
		mode:        DefaultMode,
		rxVFO:       VFOA,
		txVFO:       VFOA,
		currVFO:     VFOA,
		split:       '0',
		rit:         '0',
		xit:         '0',
		aiMode:      '0',
		afGain:      "050",
		rfGain:      "100",
		squelch:     "000",
		filterWidth: "2400",
		preamp:      "00",
		smeter:      "0000",
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// normalizeFreq pads a digit string to 11 characters, clamping overlong
// input to the maximum representable frequency.
func normalizeFreq(arg string) (string, error) {
	if !isDigits(arg) {
		return "", invalid("frequency", arg, "must be decimal digits")
	}
	if len(arg) > 11 {
		return "99999999999", nil
	}
	return strings.Repeat("0", 11-len(arg)) + arg, nil
}

// SetVFOAFreq stores a new VFO A frequency. The argument is 1 to 11 decimal
// digits; shorter values are zero-padded on the left.
func (s *RadioState) SetVFOAFreq(arg string) error {
	freq, err := normalizeFreq(arg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.vfoAFreq = freq
	s.mu.Unlock()
	return nil
}

// SetVFOBFreq stores a new VFO B frequency.
func (s *RadioState) SetVFOBFreq(arg string) error {
	freq, err := normalizeFreq(arg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.vfoBFreq = freq
	s.mu.Unlock()
	return nil
}

// VFOAFreq returns the current VFO A frequency as 11 digits.
func (s *RadioState) VFOAFreq() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vfoAFreq
}

// VFOBFreq returns the current VFO B frequency as 11 digits.
func (s *RadioState) VFOBFreq() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vfoBFreq
}

// SetMode stores a new operating mode digit.
func (s *RadioState) SetMode(arg string) error {
	if len(arg) != 1 || arg[0] < '1' || arg[0] > '9' {
		return invalid("mode", arg, "must be a single digit 1-9")
	}
	s.mu.Lock()
	s.mode = arg[0]
	s.mu.Unlock()
	return nil
}

// Mode returns the current operating mode digit.
func (s *RadioState) Mode() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SelectReceiveVFO makes the given VFO active for receive. Receive selection
// collapses split: current and transmit VFO follow it.
func (s *RadioState) SelectReceiveVFO(v byte) error {
	if v != VFOA && v != VFOB {
		return invalid("vfo", string(v), "must be 0 or 1")
	}
	s.mu.Lock()
	s.rxVFO = v
	s.currVFO = v
	s.txVFO = v
	s.split = '0'
	s.mu.Unlock()
	return nil
}

// SelectTransmitVFO makes the given VFO active for transmit. Split is derived:
// on when receive and transmit VFOs differ.
func (s *RadioState) SelectTransmitVFO(v byte) error {
	if v != VFOA && v != VFOB {
		return invalid("vfo", string(v), "must be 0 or 1")
	}
	s.mu.Lock()
	s.txVFO = v
	if s.txVFO != s.rxVFO {
		s.split = '1'
	} else {
		s.split = '0'
	}
	s.mu.Unlock()
	return nil
}

// SetAIMode stores the auto-information mode digit.
func (s *RadioState) SetAIMode(arg string) error {
	if len(arg) != 1 || arg[0] < '0' || arg[0] > '4' {
		return invalid("ai_mode", arg, "must be a single digit 0-4")
	}
	s.mu.Lock()
	s.aiMode = arg[0]
	s.mu.Unlock()
	return nil
}

// AIMode returns the auto-information mode digit.
func (s *RadioState) AIMode() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aiMode
}

// SetRIT turns receive incremental tuning on or off.
func (s *RadioState) SetRIT(on bool) {
	s.mu.Lock()
	if on {
		s.rit = '1'
	} else {
		s.rit = '0'
	}
	s.mu.Unlock()
}

// SetXIT turns transmit incremental tuning on or off.
func (s *RadioState) SetXIT(on bool) {
	s.mu.Lock()
	if on {
		s.xit = '1'
	} else {
		s.xit = '0'
	}
	s.mu.Unlock()
}

// NudgeRITOffset moves the RIT/XIT offset by delta Hz, clamped to the
// radio's ±9999 Hz range.
func (s *RadioState) NudgeRITOffset(delta int) {
	s.mu.Lock()
	s.ritHz += delta
	if s.ritHz > maxRITOffset {
		s.ritHz = maxRITOffset
	}
	if s.ritHz < -maxRITOffset {
		s.ritHz = -maxRITOffset
	}
	s.mu.Unlock()
}

// ClearRITOffset resets the RIT/XIT offset to zero.
func (s *RadioState) ClearRITOffset() {
	s.mu.Lock()
	s.ritHz = 0
	s.mu.Unlock()
}

// formatRITOffset renders the offset as the 5-character signed-magnitude
// field the IF frame carries. Zero renders as all zeros.
func formatRITOffset(hz int) string {
	if hz == 0 {
		return "00000"
	}
	sign := "+"
	if hz < 0 {
		sign = "-"
		hz = -hz
	}
	return sign + fmt.Sprintf("%04d", hz)
}

// RITOffset returns the rendered 5-character offset field.
func (s *RadioState) RITOffset() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return formatRITOffset(s.ritHz)
}

// SetTXActive records whether the radio is keyed.
func (s *RadioState) SetTXActive(on bool) {
	s.mu.Lock()
	s.txActive = on
	s.mu.Unlock()
}

// TXActive reports whether the radio is keyed.
func (s *RadioState) TXActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txActive
}

// SetVOXEnabled records the VOX switch state.
func (s *RadioState) SetVOXEnabled(on bool) {
	s.mu.Lock()
	s.voxOn = on
	s.mu.Unlock()
}

// VOXEnabled reports the VOX switch state.
func (s *RadioState) VOXEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voxOn
}

// normalizeLevel validates a numeric field and zero-pads it to width.
func normalizeLevel(field, arg string, width int) (string, error) {
	if !isDigits(arg) {
		return "", invalid(field, arg, "must be decimal digits")
	}
	if len(arg) > width {
		return "", invalid(field, arg, fmt.Sprintf("must be at most %d digits", width))
	}
	return strings.Repeat("0", width-len(arg)) + arg, nil
}

// SetAFGain stores the AF gain level (3 digits).
func (s *RadioState) SetAFGain(arg string) error {
	v, err := normalizeLevel("af_gain", arg, 3)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.afGain = v
	s.mu.Unlock()
	return nil
}

// SetRFGain stores the RF gain level (3 digits).
func (s *RadioState) SetRFGain(arg string) error {
	v, err := normalizeLevel("rf_gain", arg, 3)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.rfGain = v
	s.mu.Unlock()
	return nil
}

// SetSquelch stores the squelch level (3 digits).
func (s *RadioState) SetSquelch(arg string) error {
	v, err := normalizeLevel("squelch", arg, 3)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.squelch = v
	s.mu.Unlock()
	return nil
}

// SetFilterWidth stores the filter width field (4 digits).
func (s *RadioState) SetFilterWidth(arg string) error {
	v, err := normalizeLevel("filter_width", arg, 4)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.filterWidth = v
	s.mu.Unlock()
	return nil
}

// SetPreamp stores the preamp field (2 digits).
func (s *RadioState) SetPreamp(arg string) error {
	v, err := normalizeLevel("preamp", arg, 2)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.preamp = v
	s.mu.Unlock()
	return nil
}

// FrequencyHz returns VFO A in Hz as an integer, for telemetry.
func (s *RadioState) FrequencyHz() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	hz, _ := strconv.ParseInt(s.vfoAFreq, 10, 64)
	return hz
}

// Snapshot returns a copy of the full state.
func (s *RadioState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		VFOAFreq:    s.vfoAFreq,
		VFOBFreq:    s.vfoBFreq,
		Mode:        s.mode,
		RXVFO:       s.rxVFO,
		TXVFO:       s.txVFO,
		CurrVFO:     s.currVFO,
		Split:       s.split,
		RIT:         s.rit,
		XIT:         s.xit,
		RITOffset:   formatRITOffset(s.ritHz),
		TXActive:    s.txActive,
		AIMode:      s.aiMode,
		VOXOn:       s.voxOn,
		AFGain:      s.afGain,
		RFGain:      s.rfGain,
		Squelch:     s.squelch,
		FilterWidth: s.filterWidth,
		Preamp:      s.preamp,
		SMeter:      s.smeter,
	}
}
