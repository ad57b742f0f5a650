package catemu

import (
	"bytes"
	"strings"
)

// Command is one decoded CAT frame.
type Command struct {
	Mnemonic string // two-letter code, e.g. "FA"
	Arg      string // remainder of the frame before the terminator
	Raw      []byte // original frame including the trailing ';'
}

// IsQuery reports whether the command carries no argument.
func (c Command) IsQuery() bool {
	return c.Arg == ""
}

const maxFrameBuffer = 256

// Decoder splits a CAT byte stream into commands. Partial frames are kept
// across Feed calls, so serial fragmentation is transparent to the caller.
type Decoder struct {
	buf bytes.Buffer
}

// Feed appends raw bytes and returns all complete commands now available.
// Empty and malformed frames are dropped silently; line noise must never
// surface as an error.
func (d *Decoder) Feed(data []byte) []Command {
	d.buf.Write(data)

	var cmds []Command
	for {
		raw := d.buf.Bytes()
		idx := bytes.IndexByte(raw, ';')
		if idx < 0 {
			// No terminator yet. Drop a flooded buffer rather than grow it
			// without bound on a noisy line.
			if d.buf.Len() > maxFrameBuffer {
				d.buf.Reset()
			}
			return cmds
		}

		frame := make([]byte, idx+1)
		copy(frame, raw[:idx+1])
		d.buf.Next(idx + 1)

		cmd, ok := parseFrame(frame)
		if !ok {
			continue
		}
		cmds = append(cmds, cmd)
	}
}

// Pending returns the number of buffered bytes awaiting a terminator.
func (d *Decoder) Pending() int {
	return d.buf.Len()
}

func parseFrame(frame []byte) (Command, bool) {
	body := frame[:len(frame)-1]
	if len(body) < 2 {
		return Command{}, false
	}
	if !isMnemonicByte(body[0]) || !isMnemonicByte(body[1]) {
		return Command{}, false
	}
	return Command{
		Mnemonic: string(body[:2]),
		Arg:      string(body[2:]),
		Raw:      frame,
	}, true
}

func isMnemonicByte(b byte) bool {
	return b >= 'A' && b <= 'Z'
}

// ifPayloadLen is the fixed payload width of the TS-480 IF frame. The whole
// response is "IF" + payload + ";" = 40 bytes; Hamlib rejects any other
// length outright.
const ifPayloadLen = 37

// EncodeIF renders the Kenwood IF status frame from a state snapshot. The
// result is always exactly 40 bytes.
func EncodeIF(snap Snapshot) []byte {
	var b strings.Builder
	b.Grow(ifPayloadLen)

	b.WriteString(fixWidth(snap.VFOAFreq, 11))   // [0-10] VFO A frequency
	b.WriteString(fixWidth(snap.RITOffset, 5))   // [11-15] RIT/XIT offset
	b.WriteByte(flagByte(snap.RIT))              // [16] RIT
	b.WriteByte(flagByte(snap.XIT))              // [17] XIT
	b.WriteString("00")                          // [18-19] memory channel
	if snap.TXActive {                           // [20] RX/TX
		b.WriteByte('1')
	} else {
		b.WriteByte('0')
	}
	b.WriteByte(snap.Mode)                       // [21] mode
	b.WriteByte(vfoByte(snap.CurrVFO))           // [22] VFO, always '0' or '1'
	b.WriteByte('0')                             // [23] scan
	b.WriteByte(flagByte(snap.Split))            // [24] split
	b.WriteByte('0')                             // [25] tone
	b.WriteString("00")                          // [26-27] tone number
	b.WriteByte('0')                             // [28] CTCSS
	b.WriteString("00000000")                    // [29-36] reserved

	payload := b.String()
	if len(payload) > ifPayloadLen {
		payload = payload[:ifPayloadLen]
	} else if len(payload) < ifPayloadLen {
		payload += strings.Repeat("0", ifPayloadLen-len(payload))
	}

	frame := make([]byte, 0, ifPayloadLen+3)
	frame = append(frame, 'I', 'F')
	frame = append(frame, payload...)
	frame = append(frame, ';')
	return frame
}

// fixWidth forces s to exactly n characters, zero-padding on the left or
// truncating on the right.
func fixWidth(s string, n int) string {
	if len(s) == n {
		return s
	}
	if len(s) > n {
		return s[:n]
	}
	return strings.Repeat("0", n-len(s)) + s
}

func flagByte(b byte) byte {
	if b == '1' {
		return '1'
	}
	return '0'
}

// vfoByte collapses anything that is not a valid designator to VFO A. The
// IF frame's VFO field must never be absent or out of range.
func vfoByte(b byte) byte {
	if b == VFOB {
		return VFOB
	}
	return VFOA
}

// EncodeSimple renders a mnemonic plus argument as a terminated frame.
func EncodeSimple(mnemonic string, arg string) []byte {
	frame := make([]byte, 0, len(mnemonic)+len(arg)+1)
	frame = append(frame, mnemonic...)
	frame = append(frame, arg...)
	frame = append(frame, ';')
	return frame
}

// Ack is the bare-terminator acknowledgment sent for commands that are
// accepted without a data response.
func Ack() []byte {
	return []byte{';'}
}
