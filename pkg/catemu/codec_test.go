package catemu

import (
	"bytes"
	"testing"
)

func TestDecoderSingleCommand(t *testing.T) {
	var d Decoder
	cmds := d.Feed([]byte("FA00007074000;"))

	if len(cmds) != 1 {
		t.Fatalf("Expected 1 command, got %d", len(cmds))
	}
	if cmds[0].Mnemonic != "FA" {
		t.Errorf("Expected mnemonic 'FA', got '%s'", cmds[0].Mnemonic)
	}
	if cmds[0].Arg != "00007074000" {
		t.Errorf("Expected arg '00007074000', got '%s'", cmds[0].Arg)
	}
	if string(cmds[0].Raw) != "FA00007074000;" {
		t.Errorf("Expected raw frame preserved, got '%s'", cmds[0].Raw)
	}
	if cmds[0].IsQuery() {
		t.Error("Set command reported as query")
	}
}

func TestDecoderQuery(t *testing.T) {
	var d Decoder
	cmds := d.Feed([]byte("IF;"))

	if len(cmds) != 1 {
		t.Fatalf("Expected 1 command, got %d", len(cmds))
	}
	if !cmds[0].IsQuery() {
		t.Error("Expected IF; to be a query")
	}
}

func TestDecoderFragmentation(t *testing.T) {
	var d Decoder

	cmds := d.Feed([]byte("FA000070"))
	if len(cmds) != 0 {
		t.Fatalf("Expected 0 commands from partial frame, got %d", len(cmds))
	}
	if d.Pending() != 8 {
		t.Errorf("Expected 8 pending bytes, got %d", d.Pending())
	}

	cmds = d.Feed([]byte("74000;IF;"))
	if len(cmds) != 2 {
		t.Fatalf("Expected 2 commands after completion, got %d", len(cmds))
	}
	if cmds[0].Mnemonic != "FA" || cmds[0].Arg != "00007074000" {
		t.Errorf("Expected reassembled FA command, got %s%s", cmds[0].Mnemonic, cmds[0].Arg)
	}
	if cmds[1].Mnemonic != "IF" {
		t.Errorf("Expected IF command, got '%s'", cmds[1].Mnemonic)
	}
	if d.Pending() != 0 {
		t.Errorf("Expected empty buffer, got %d pending", d.Pending())
	}
}

func TestDecoderMultipleInOneRead(t *testing.T) {
	var d Decoder
	cmds := d.Feed([]byte("ID;AI0;FA;"))

	if len(cmds) != 3 {
		t.Fatalf("Expected 3 commands, got %d", len(cmds))
	}
	expected := []string{"ID", "AI", "FA"}
	for i, mn := range expected {
		if cmds[i].Mnemonic != mn {
			t.Errorf("Command %d: expected '%s', got '%s'", i, mn, cmds[i].Mnemonic)
		}
	}
}

func TestDecoderDropsMalformed(t *testing.T) {
	var d Decoder

	// Empty frames, one-letter frames, lowercase and binary noise all
	// vanish without surfacing errors; valid frames around them survive.
	cmds := d.Feed([]byte(";X;fa123;\x00\x01;MD2;"))
	if len(cmds) != 1 {
		t.Fatalf("Expected 1 surviving command, got %d", len(cmds))
	}
	if cmds[0].Mnemonic != "MD" || cmds[0].Arg != "2" {
		t.Errorf("Expected MD2, got %s%s", cmds[0].Mnemonic, cmds[0].Arg)
	}
}

func TestDecoderNoiseFloodBounded(t *testing.T) {
	var d Decoder

	noise := bytes.Repeat([]byte{0x55}, 300)
	d.Feed(noise)
	if d.Pending() != 0 {
		t.Errorf("Expected flooded buffer to reset, got %d pending", d.Pending())
	}

	// Still functional afterwards
	cmds := d.Feed([]byte("ID;"))
	if len(cmds) != 1 || cmds[0].Mnemonic != "ID" {
		t.Error("Decoder broken after noise flood")
	}
}

func TestEncodeIF(t *testing.T) {
	snap := NewRadioState().Snapshot()
	frame := EncodeIF(snap)

	if len(frame) != 40 {
		t.Fatalf("IF frame must be exactly 40 bytes, got %d", len(frame))
	}
	if string(frame[:2]) != "IF" {
		t.Errorf("Expected 'IF' prefix, got '%s'", frame[:2])
	}
	if frame[39] != ';' {
		t.Errorf("Expected ';' terminator, got '%c'", frame[39])
	}

	payload := string(frame[2:39])
	if payload[0:11] != "00007074000" {
		t.Errorf("Expected frequency field '00007074000', got '%s'", payload[0:11])
	}
	if payload[11:16] != "00000" {
		t.Errorf("Expected zero RIT offset, got '%s'", payload[11:16])
	}
	if payload[20] != '0' {
		t.Errorf("Expected RX flag '0', got '%c'", payload[20])
	}
	if payload[21] != '2' {
		t.Errorf("Expected mode '2', got '%c'", payload[21])
	}
	if payload[22] != '0' && payload[22] != '1' {
		t.Errorf("VFO flag must be '0' or '1', got '%c'", payload[22])
	}
	if payload[24] != '0' {
		t.Errorf("Expected split '0', got '%c'", payload[24])
	}
}

func TestEncodeIFTransmitting(t *testing.T) {
	state := NewRadioState()
	state.SetTXActive(true)
	if err := state.SetMode("3"); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}
	state.NudgeRITOffset(150)

	frame := EncodeIF(state.Snapshot())
	payload := string(frame[2:39])

	if payload[20] != '1' {
		t.Errorf("Expected TX flag '1', got '%c'", payload[20])
	}
	if payload[21] != '3' {
		t.Errorf("Expected mode '3', got '%c'", payload[21])
	}
	if payload[11:16] != "+0150" {
		t.Errorf("Expected RIT offset '+0150', got '%s'", payload[11:16])
	}
}

func TestEncodeIFSplitVFO(t *testing.T) {
	state := NewRadioState()
	if err := state.SelectTransmitVFO(VFOB); err != nil {
		t.Fatalf("SelectTransmitVFO failed: %v", err)
	}

	frame := EncodeIF(state.Snapshot())
	payload := string(frame[2:39])
	if payload[24] != '1' {
		t.Errorf("Expected split flag '1', got '%c'", payload[24])
	}
}

func TestEncodeIFClampsBadSnapshot(t *testing.T) {
	// A corrupted snapshot must still render 40 bytes; Hamlib rejects any
	// other length outright.
	tests := []struct {
		name string
		snap Snapshot
	}{
		{"overlong frequency", Snapshot{VFOAFreq: "123456789012345", RITOffset: "00000", Mode: '2', CurrVFO: '0'}},
		{"short frequency", Snapshot{VFOAFreq: "7074", RITOffset: "00000", Mode: '2', CurrVFO: '0'}},
		{"empty fields", Snapshot{}},
		{"garbage vfo", Snapshot{VFOAFreq: "00007074000", RITOffset: "00000", Mode: '2', CurrVFO: 'x'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := EncodeIF(tt.snap)
			if len(frame) != 40 {
				t.Errorf("Expected 40 bytes, got %d", len(frame))
			}
			vfo := frame[2+22]
			if vfo != '0' && vfo != '1' {
				t.Errorf("VFO flag must be '0' or '1', got %q", vfo)
			}
		})
	}
}

func TestEncodeSimple(t *testing.T) {
	frame := EncodeSimple("FA", "00007074000")
	if string(frame) != "FA00007074000;" {
		t.Errorf("Expected 'FA00007074000;', got '%s'", frame)
	}

	frame = EncodeSimple("MD", "2")
	if string(frame) != "MD2;" {
		t.Errorf("Expected 'MD2;', got '%s'", frame)
	}
}

func TestAck(t *testing.T) {
	if string(Ack()) != ";" {
		t.Errorf("Expected ';', got '%s'", Ack())
	}
}
