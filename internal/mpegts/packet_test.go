package mpegts

import (
	"bytes"
	"testing"
)

// makePSIFrame builds a PUSI packet on pid carrying section after an
// optional adaptation field (afLen < 0 means none) and a pointer_field.
// Unused bytes are 0xFF stuffing.
func makePSIFrame(pid uint16, afLen, pointer int, section []byte) Frame {
	f := make(Frame, PacketSize)
	for i := range f {
		f[i] = 0xFF
	}
	f[0] = syncByte
	f[1] = 0x40 | byte(pid>>8)&0x1F
	f[2] = byte(pid)
	f[3] = 0x10

	pos := headerSize
	if afLen >= 0 {
		f[3] |= 0x20
		f[pos] = byte(afLen)
		if afLen > 0 {
			f[pos+1] = 0x00 // no adaptation flags
		}
		pos += 1 + afLen
	}
	f[pos] = byte(pointer)
	pos += 1 + pointer
	copy(f[pos:], section)
	return f
}

// makePacket builds a payload-only packet.
func makePacket(pid uint16, cc uint8, pusi bool, payload []byte) Frame {
	f := make(Frame, PacketSize)
	f[0] = syncByte
	f[1] = byte(pid>>8) & 0x1F
	f[2] = byte(pid)
	f[3] = 0x10 | (cc & 0x0F)
	if pusi {
		f[1] |= 0x40
	}
	copy(f[4:], payload)
	return f
}

func TestFrameAccessors(t *testing.T) {
	t.Parallel()
	f := makePacket(0x1E1, 9, true, nil)
	f[1] |= 0x80
	f[3] |= 0xA0 // scrambling 10, adaptation field present

	if f.SyncByte() != 0x47 {
		t.Errorf("SyncByte = 0x%02X, want 0x47", f.SyncByte())
	}
	if !f.TransportError() {
		t.Error("TransportError should be true")
	}
	if !f.PayloadUnitStart() {
		t.Error("PayloadUnitStart should be true")
	}
	if f.PID() != 0x1E1 {
		t.Errorf("PID = 0x%X, want 0x1E1", f.PID())
	}
	if f.ScramblingControl() != 2 {
		t.Errorf("ScramblingControl = %d, want 2", f.ScramblingControl())
	}
	if !f.AdaptationFieldPresent() {
		t.Error("AdaptationFieldPresent should be true")
	}
	if !f.HasPayload() {
		t.Error("HasPayload should be true")
	}
	if f.ContinuityCounter() != 9 {
		t.Errorf("ContinuityCounter = %d, want 9", f.ContinuityCounter())
	}
}

func TestFrameAccessors_MaxPID(t *testing.T) {
	t.Parallel()
	f := makePacket(0x1FFF, 0, false, nil)
	if f.PID() != 0x1FFF {
		t.Errorf("PID = 0x%X, want 0x1FFF", f.PID())
	}
	if f.PayloadUnitStart() {
		t.Error("PayloadUnitStart should be false")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(Frame)
		want   Verdict
	}{
		{"psi_start", func(Frame) {}, VerdictPending},
		{"bad_sync", func(f Frame) { f[0] = 0x00 }, VerdictNoSync},
		{"transport_error", func(f Frame) { f[1] |= 0x80 }, VerdictTransportError},
		{"no_unit_start", func(f Frame) { f[1] &^= 0x40 }, VerdictNoUnitStart},
		{"scrambled_even", func(f Frame) { f[3] |= 0x80 }, VerdictScrambled},
		{"scrambled_odd", func(f Frame) { f[3] |= 0xC0 }, VerdictScrambled},
		{"scrambled_reserved", func(f Frame) { f[3] |= 0x40 }, VerdictScrambled},
		{"no_payload", func(f Frame) { f[3] &^= 0x10 }, VerdictNoPayload},
		{"first_gate_wins", func(f Frame) { f[0] = 0; f[1] |= 0x80 }, VerdictNoSync},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := makePacket(0x100, 0, true, nil)
			tc.mutate(f)
			if got := classify(f); got != tc.want {
				t.Errorf("classify = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFrameAt(t *testing.T) {
	t.Parallel()
	buf := make([]byte, 2*PacketSize+10)
	buf[PacketSize] = syncByte

	f, err := FrameAt(buf, PacketSize)
	if err != nil {
		t.Fatal(err)
	}
	if len(f) != PacketSize || f.SyncByte() != syncByte {
		t.Fatalf("FrameAt returned wrong window")
	}
	f[1] = 0xAB
	if buf[PacketSize+1] != 0xAB {
		t.Error("writes through Frame should reach the buffer")
	}

	for _, off := range []int{-PacketSize, 1, 2 * PacketSize} {
		if _, err := FrameAt(buf, off); err == nil {
			t.Errorf("FrameAt(%d) should fail", off)
		}
	}
}

func TestMakePSIFrameLayout(t *testing.T) {
	t.Parallel()
	section := []byte{0x02, 0xB0, 0x00}
	f := makePSIFrame(0x30, 7, 2, section)
	if !f.AdaptationFieldPresent() || f[4] != 7 {
		t.Fatal("adaptation field not written")
	}
	// 4 header + 1 length + 7 AF + 1 pointer + 2 skipped
	if !bytes.Equal(f[15:18], section) {
		t.Errorf("section at wrong offset: % X", f[12:20])
	}
}
