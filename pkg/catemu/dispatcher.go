package catemu

import (
	"strconv"
	"sync"
	"time"

	"github.com/trusdx/trusdxd/pkg/events"
	"github.com/trusdx/trusdxd/pkg/logging"
)

// Hardware command names. The transmit trigger really is "TX0" on this
// radio's firmware even though clients use TX0 to mean "stop transmitting".
const (
	hwCmdAudioOn  = "UA1"
	hwCmdAudioOff = "UA0"
	hwCmdTXEnter  = "TX0"
	hwCmdRXEnter  = "RX"
)

// idResponse identifies the emulated radio as a TS-480 to any client.
const idResponse = "ID020;"

// Policy classifies how a command was handled, for metrics and tracing.
type Policy int

const (
	PolicySynthesize Policy = iota
	PolicyMutateAck
	PolicyMutateForward
	PolicyPassThrough
	PolicyAckOnly
)

func (p Policy) String() string {
	switch p {
	case PolicySynthesize:
		return "synthesize"
	case PolicyMutateAck:
		return "mutate_ack"
	case PolicyMutateForward:
		return "mutate_forward"
	case PolicyPassThrough:
		return "passthrough"
	case PolicyAckOnly:
		return "ack_only"
	default:
		return "unknown"
	}
}

// HardwareLink is the dispatcher's view of the physical radio connection.
// ForwardFrame relays a client frame verbatim; SendCommand writes a
// daemon-originated command with the link's settle discipline applied.
type HardwareLink interface {
	ForwardFrame(frame []byte) error
	SendCommand(cmd string) error
}

// ResponseWriter is where synthesized CAT responses go, normally the
// client side of the virtual serial port.
type ResponseWriter interface {
	WriteResponse(frame []byte) error
}

// Mnemonics forwarded raw to the hardware. Their replies come back on the
// radio's CAT stream and are relayed to the client by the read loop.
var passThroughCommands = map[string]bool{
	"PC": true,
	"UA": true,
	"EX": true,
}

// Dispatcher is the CAT protocol state machine. It owns the RadioState,
// decides a policy per decoded command, and coordinates TX/RX transitions
// with the audio path.
type Dispatcher struct {
	state *RadioState
	log   *logging.Logger
	bus   *events.Bus

	guardFreq     string
	guardDisabled bool
	txDrain       time.Duration

	// OnCommand, when set, observes every dispatched command.
	OnCommand func(mnemonic string, policy Policy)

	linkMu sync.Mutex
	link   HardwareLink

	clientMu   sync.Mutex
	client     ResponseWriter
	lastClient time.Time

	decoder Decoder

	// txMu serializes TX/RX transitions across the CAT, VOX and HTTP paths.
	txMu       sync.Mutex
	audioSubOn bool
}

// DispatcherOptions configures protocol behavior.
type DispatcherOptions struct {
	GuardFrequency   string // JS8Call default-frequency guard value
	DisableFreqGuard bool
	TXDrain          time.Duration // audio drain wait when leaving TX
	Bus              *events.Bus   // optional
}

// NewDispatcher creates a dispatcher with power-on state.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	guard := opts.GuardFrequency
	if guard == "" {
		guard = DefaultFrequency
	}
	drain := opts.TXDrain
	if drain <= 0 {
		drain = 100 * time.Millisecond
	}
	return &Dispatcher{
		state:         NewRadioState(),
		log:           logging.ForComponent("catemu"),
		bus:           opts.Bus,
		guardFreq:     guard,
		guardDisabled: opts.DisableFreqGuard,
		txDrain:       drain,
	}
}

// State returns the dispatcher's radio state record.
func (d *Dispatcher) State() *RadioState {
	return d.state
}

// AttachLink swaps in a new hardware link. The audio subchannel flag resets
// because it tracks the physical session, not the logical state.
func (d *Dispatcher) AttachLink(link HardwareLink) {
	d.linkMu.Lock()
	d.link = link
	d.linkMu.Unlock()

	d.txMu.Lock()
	d.audioSubOn = false
	d.txMu.Unlock()
}

// AttachClient sets where synthesized responses are written.
func (d *Dispatcher) AttachClient(w ResponseWriter) {
	d.clientMu.Lock()
	d.client = w
	d.clientMu.Unlock()
}

// LastClientSeen returns the time of the last decoded client command.
func (d *Dispatcher) LastClientSeen() time.Time {
	d.clientMu.Lock()
	defer d.clientMu.Unlock()
	return d.lastClient
}

func (d *Dispatcher) currentLink() HardwareLink {
	d.linkMu.Lock()
	defer d.linkMu.Unlock()
	return d.link
}

func (d *Dispatcher) writeClient(frame []byte) {
	d.clientMu.Lock()
	w := d.client
	d.clientMu.Unlock()
	if w == nil {
		return
	}
	if err := w.WriteResponse(frame); err != nil {
		d.log.Warnf("client write failed: %v", err)
	}
}

func (d *Dispatcher) forward(frame []byte) {
	link := d.currentLink()
	if link == nil {
		logging.Tracef("catemu", "dropping forward, no hardware link: %s", logging.DumpBytes(frame, 48))
		return
	}
	if err := link.ForwardFrame(frame); err != nil {
		d.log.Warnf("hardware forward failed: %v", err)
	}
}

func (d *Dispatcher) sendCommand(cmd string) error {
	link := d.currentLink()
	if link == nil {
		logging.Tracef("catemu", "dropping command, no hardware link: %s", cmd)
		return nil
	}
	return link.SendCommand(cmd)
}

func (d *Dispatcher) publish(kind string, fields map[string]interface{}) {
	if d.bus != nil {
		d.bus.Publish(kind, fields)
	}
}

// HandleClientData decodes raw client bytes and dispatches each complete
// command. Malformed input never stops the loop.
func (d *Dispatcher) HandleClientData(data []byte) {
	cmds := d.decoder.Feed(data)
	if len(cmds) == 0 {
		return
	}

	d.clientMu.Lock()
	d.lastClient = time.Now()
	d.clientMu.Unlock()

	for _, cmd := range cmds {
		if err := d.Dispatch(cmd); err != nil {
			d.log.Warnf("dispatch %s failed: %v", cmd.Mnemonic, err)
		}
	}
}

// Dispatch routes one decoded command through the policy table.
func (d *Dispatcher) Dispatch(cmd Command) error {
	logging.Tracef("catemu", "dispatch %s arg=%q", cmd.Mnemonic, cmd.Arg)

	var policy Policy
	var err error

	switch cmd.Mnemonic {
	case "ID":
		policy = PolicySynthesize
		d.writeClient([]byte(idResponse))

	case "IF":
		policy = PolicySynthesize
		d.writeClient(EncodeIF(d.state.Snapshot()))

	case "FA":
		policy, err = d.handleFreqA(cmd)

	case "FB":
		policy, err = d.handleFreqB(cmd)

	case "MD":
		policy, err = d.handleMode(cmd)

	case "FR":
		policy, err = d.handleReceiveVFO(cmd)

	case "FT":
		policy, err = d.handleTransmitVFO(cmd)

	case "AI":
		policy, err = d.handleAutoInfo(cmd)

	case "TX":
		policy = PolicyMutateForward
		// TX, TX1 and TX2 all key the radio; TX0 from a client means unkey.
		if cmd.Arg == "0" {
			err = d.leaveTX("cat")
		} else {
			err = d.enterTX("cat")
		}

	case "RX":
		policy = PolicyMutateForward
		err = d.leaveTX("cat")

	case "RT":
		policy = d.handleToggle(cmd, d.state.SetRIT, "RT")

	case "XT":
		policy = d.handleToggle(cmd, d.state.SetXIT, "XT")

	case "RC":
		policy = PolicyMutateAck
		d.state.ClearRITOffset()
		d.writeClient(Ack())
		d.aiPush()

	case "RU":
		policy = PolicyMutateAck
		d.state.NudgeRITOffset(nudgeStep(cmd.Arg))
		d.writeClient(Ack())
		d.aiPush()

	case "RD":
		policy = PolicyMutateAck
		d.state.NudgeRITOffset(-nudgeStep(cmd.Arg))
		d.writeClient(Ack())
		d.aiPush()

	case "VX":
		policy = d.handleVOX(cmd)

	case "PS":
		policy = PolicySynthesize
		if cmd.IsQuery() {
			d.writeClient(EncodeSimple("PS", "1"))
		} else {
			d.writeClient(Ack())
		}

	case "SM":
		policy = PolicySynthesize
		d.writeClient(EncodeSimple("SM", meterScope(cmd.Arg)+d.state.Snapshot().SMeter))

	case "AG":
		policy, err = d.handleScopedLevel(cmd, "AG", d.state.SetAFGain, func(s Snapshot) string { return s.AFGain })

	case "SQ":
		policy, err = d.handleScopedLevel(cmd, "SQ", d.state.SetSquelch, func(s Snapshot) string { return s.Squelch })

	case "RG":
		policy, err = d.handleLevel(cmd, "RG", d.state.SetRFGain, func(s Snapshot) string { return s.RFGain })

	case "FW":
		policy, err = d.handleLevel(cmd, "FW", d.state.SetFilterWidth, func(s Snapshot) string { return s.FilterWidth })

	case "PA":
		policy, err = d.handleLevel(cmd, "PA", d.state.SetPreamp, func(s Snapshot) string { return s.Preamp })

	default:
		if passThroughCommands[cmd.Mnemonic] {
			policy = PolicyPassThrough
			d.forward(cmd.Raw)
		} else {
			// Unimplemented commands get the bare ACK so polling clients
			// see "accepted, no data" instead of a dead line.
			policy = PolicyAckOnly
			d.writeClient(Ack())
		}
	}

	if d.OnCommand != nil {
		d.OnCommand(cmd.Mnemonic, policy)
	}
	return err
}

// handleFreqA covers the FA query, the JS8Call default-frequency guard and
// the normal set-and-forward path.
func (d *Dispatcher) handleFreqA(cmd Command) (Policy, error) {
	if cmd.IsQuery() {
		d.writeClient(EncodeSimple("FA", d.state.VFOAFreq()))
		return PolicySynthesize, nil
	}

	if !d.guardDisabled && cmd.Arg == d.guardFreq {
		current := d.state.VFOAFreq()
		if current != d.guardFreq {
			// A client trying to jump to the stock default while the
			// operator is parked elsewhere gets told the current
			// frequency instead.
			d.log.Infof("frequency guard: kept %s, refused reset to %s", current, d.guardFreq)
			d.writeClient(EncodeSimple("FA", current))
			d.publish(events.KindFreqGuard, map[string]interface{}{"kept": current, "refused": d.guardFreq})
			return PolicySynthesize, nil
		}
	}

	if err := d.state.SetVFOAFreq(cmd.Arg); err != nil {
		d.log.Warnf("FA set rejected: %v", err)
		return PolicyMutateForward, nil
	}
	d.forward(cmd.Raw)
	d.publish(events.KindFrequency, map[string]interface{}{"frequency": d.state.VFOAFreq()})
	d.aiPush()
	return PolicyMutateForward, nil
}

func (d *Dispatcher) handleFreqB(cmd Command) (Policy, error) {
	if cmd.IsQuery() {
		d.writeClient(EncodeSimple("FB", d.state.VFOBFreq()))
		return PolicySynthesize, nil
	}
	if err := d.state.SetVFOBFreq(cmd.Arg); err != nil {
		d.log.Warnf("FB set rejected: %v", err)
		return PolicyMutateForward, nil
	}
	d.forward(cmd.Raw)
	d.aiPush()
	return PolicyMutateForward, nil
}

// handleMode is state-only. The hardware is not told; the supervisor's
// resync converges it on the next session.
func (d *Dispatcher) handleMode(cmd Command) (Policy, error) {
	if cmd.IsQuery() {
		d.writeClient(EncodeSimple("MD", string(d.state.Mode())))
		return PolicySynthesize, nil
	}
	if err := d.state.SetMode(cmd.Arg); err != nil {
		d.log.Warnf("MD set rejected: %v", err)
		return PolicyMutateAck, nil
	}
	d.writeClient(Ack())
	d.publish(events.KindMode, map[string]interface{}{"mode": string(d.state.Mode())})
	d.aiPush()
	return PolicyMutateAck, nil
}

func (d *Dispatcher) handleReceiveVFO(cmd Command) (Policy, error) {
	if cmd.IsQuery() {
		d.writeClient(EncodeSimple("FR", string(d.state.Snapshot().RXVFO)))
		return PolicySynthesize, nil
	}
	if len(cmd.Arg) != 1 {
		d.log.Warnf("FR set rejected: bad argument %q", cmd.Arg)
		return PolicyMutateAck, nil
	}
	if err := d.state.SelectReceiveVFO(cmd.Arg[0]); err != nil {
		d.log.Warnf("FR set rejected: %v", err)
		return PolicyMutateAck, nil
	}
	d.writeClient(Ack())
	d.aiPush()
	return PolicyMutateAck, nil
}

func (d *Dispatcher) handleTransmitVFO(cmd Command) (Policy, error) {
	if cmd.IsQuery() {
		d.writeClient(EncodeSimple("FT", string(d.state.Snapshot().TXVFO)))
		return PolicySynthesize, nil
	}
	if len(cmd.Arg) != 1 {
		d.log.Warnf("FT set rejected: bad argument %q", cmd.Arg)
		return PolicyMutateAck, nil
	}
	if err := d.state.SelectTransmitVFO(cmd.Arg[0]); err != nil {
		d.log.Warnf("FT set rejected: %v", err)
		return PolicyMutateAck, nil
	}
	d.writeClient(Ack())
	d.aiPush()
	return PolicyMutateAck, nil
}

// handleAutoInfo implements the AI side effect: switching auto-information
// on pushes one unsolicited ID frame and one IF frame, which Hamlib's
// auto-info listener expects.
func (d *Dispatcher) handleAutoInfo(cmd Command) (Policy, error) {
	if cmd.IsQuery() {
		d.writeClient(EncodeSimple("AI", string(d.state.AIMode())))
		return PolicySynthesize, nil
	}

	prev := d.state.AIMode()
	if err := d.state.SetAIMode(cmd.Arg); err != nil {
		d.log.Warnf("AI set rejected: %v", err)
		return PolicyMutateAck, nil
	}
	d.writeClient(Ack())

	if prev == '0' && d.state.AIMode() != '0' {
		d.writeClient([]byte(idResponse))
		d.writeClient(EncodeIF(d.state.Snapshot()))
	}
	return PolicyMutateAck, nil
}

func (d *Dispatcher) handleToggle(cmd Command, set func(bool), name string) Policy {
	if cmd.IsQuery() {
		snap := d.state.Snapshot()
		flag := snap.RIT
		if name == "XT" {
			flag = snap.XIT
		}
		d.writeClient(EncodeSimple(name, string(flag)))
		return PolicySynthesize
	}
	switch cmd.Arg {
	case "0":
		set(false)
	case "1":
		set(true)
	default:
		d.log.Warnf("%s set rejected: bad argument %q", name, cmd.Arg)
		return PolicyMutateAck
	}
	d.writeClient(Ack())
	d.aiPush()
	return PolicyMutateAck
}

func (d *Dispatcher) handleVOX(cmd Command) Policy {
	if cmd.IsQuery() {
		v := "0"
		if d.state.VOXEnabled() {
			v = "1"
		}
		d.writeClient(EncodeSimple("VX", v))
		return PolicySynthesize
	}
	switch cmd.Arg {
	case "0":
		d.state.SetVOXEnabled(false)
	case "1":
		d.state.SetVOXEnabled(true)
	default:
		d.log.Warnf("VX set rejected: bad argument %q", cmd.Arg)
		return PolicyMutateAck
	}
	d.writeClient(Ack())
	return PolicyMutateAck
}

// handleScopedLevel covers AG/SQ style commands that carry a one-digit
// receiver scope before the level.
func (d *Dispatcher) handleScopedLevel(cmd Command, name string, set func(string) error, get func(Snapshot) string) (Policy, error) {
	if len(cmd.Arg) <= 1 {
		d.writeClient(EncodeSimple(name, meterScope(cmd.Arg)+get(d.state.Snapshot())))
		return PolicySynthesize, nil
	}
	if err := set(cmd.Arg[1:]); err != nil {
		d.log.Warnf("%s set rejected: %v", name, err)
		return PolicyMutateAck, nil
	}
	d.writeClient(Ack())
	return PolicyMutateAck, nil
}

// handleLevel covers RG/FW/PA style commands with no scope digit.
func (d *Dispatcher) handleLevel(cmd Command, name string, set func(string) error, get func(Snapshot) string) (Policy, error) {
	if cmd.IsQuery() {
		d.writeClient(EncodeSimple(name, get(d.state.Snapshot())))
		return PolicySynthesize, nil
	}
	if err := set(cmd.Arg); err != nil {
		d.log.Warnf("%s set rejected: %v", name, err)
		return PolicyMutateAck, nil
	}
	d.writeClient(Ack())
	return PolicyMutateAck, nil
}

// meterScope echoes the client's one-digit receiver scope, defaulting to
// the main receiver.
func meterScope(arg string) string {
	if len(arg) == 1 && arg[0] >= '0' && arg[0] <= '1' {
		return arg
	}
	return "0"
}

// nudgeStep returns the RIT step in Hz for an RU/RD argument.
func nudgeStep(arg string) int {
	if isDigits(arg) {
		if v, err := strconv.Atoi(arg); err == nil && v > 0 {
			return v
		}
	}
	return 10
}

// aiPush sends an unsolicited IF frame after a successful mutation while
// auto-information mode is on.
func (d *Dispatcher) aiPush() {
	if d.state.AIMode() == '0' {
		return
	}
	d.writeClient(EncodeIF(d.state.Snapshot()))
}

// SetPTT keys or unkeys the radio. The VOX detector and the HTTP control
// surface land here so every path runs the same subchannel sequence as a
// client TX command.
func (d *Dispatcher) SetPTT(on bool, source string) error {
	if on {
		return d.enterTX(source)
	}
	return d.leaveTX(source)
}

// enterTX runs the transmit entry sequence: audio subchannel on first,
// then the hardware trigger. Reversing the order clips the first syllable.
func (d *Dispatcher) enterTX(source string) error {
	d.txMu.Lock()
	defer d.txMu.Unlock()

	if d.state.TXActive() {
		return nil
	}

	if !d.audioSubOn {
		if err := d.sendCommand(hwCmdAudioOn); err != nil {
			return err
		}
		d.audioSubOn = true
	}

	d.state.SetTXActive(true)
	if err := d.sendCommand(hwCmdTXEnter); err != nil {
		return err
	}

	d.log.Infof("TX on (%s)", source)
	d.publish(events.KindTXChange, map[string]interface{}{"tx": true, "source": source})
	return nil
}

// leaveTX runs the receive entry sequence: hardware RX first, a bounded
// drain wait for in-flight audio bytes, then audio subchannel off.
func (d *Dispatcher) leaveTX(source string) error {
	d.txMu.Lock()
	defer d.txMu.Unlock()

	if !d.state.TXActive() {
		return nil
	}

	if err := d.sendCommand(hwCmdRXEnter); err != nil {
		return err
	}
	time.Sleep(d.txDrain)

	if d.audioSubOn {
		if err := d.sendCommand(hwCmdAudioOff); err != nil {
			return err
		}
		d.audioSubOn = false
	}

	d.state.SetTXActive(false)
	d.log.Infof("TX off (%s)", source)
	d.publish(events.KindTXChange, map[string]interface{}{"tx": false, "source": source})
	return nil
}

// ResyncHardware replays frequency and mode to a freshly attached link and
// re-enters TX if the radio was keyed when the old link dropped.
func (d *Dispatcher) ResyncHardware() error {
	snap := d.state.Snapshot()

	if err := d.sendCommand("FA" + snap.VFOAFreq); err != nil {
		return err
	}
	if err := d.sendCommand("MD" + string(snap.Mode)); err != nil {
		return err
	}

	if snap.TXActive {
		// The new session starts with the subchannel off; clear the flag so
		// enterTX re-runs the full sequence.
		d.txMu.Lock()
		d.audioSubOn = false
		d.state.SetTXActive(false)
		d.txMu.Unlock()
		return d.enterTX("resync")
	}
	return nil
}
