package mpegts

import "fmt"

const (
	// PacketSize is the fixed size of an MPEG-TS packet.
	PacketSize = 188
	syncByte   = 0x47
	headerSize = 4
)

// Frame is a view of one 188-byte transport packet inside a larger buffer.
// Writes through a Frame land in the underlying buffer.
type Frame []byte

// FrameAt returns the frame starting at off. off must be frame-aligned and
// leave room for a whole packet.
func FrameAt(buf []byte, off int) (Frame, error) {
	if off < 0 || off%PacketSize != 0 || off+PacketSize > len(buf) {
		return nil, fmt.Errorf("mpegts: no frame at offset %d (buffer %d bytes)", off, len(buf))
	}
	return Frame(buf[off : off+PacketSize : off+PacketSize]), nil
}

// SyncByte returns byte 0, 0x47 on an aligned packet.
func (f Frame) SyncByte() byte { return f[0] }

// TransportError reports the transport_error_indicator bit.
func (f Frame) TransportError() bool { return f[1]&0x80 != 0 }

// PayloadUnitStart reports payload_unit_start_indicator: the payload begins
// a new PES packet or PSI section.
func (f Frame) PayloadUnitStart() bool { return f[1]&0x40 != 0 }

// PID returns the 13-bit packet identifier.
func (f Frame) PID() uint16 { return uint16(f[1]&0x1F)<<8 | uint16(f[2]) }

// ScramblingControl returns the two transport_scrambling_control bits.
func (f Frame) ScramblingControl() uint8 { return f[3] >> 6 }

// AdaptationFieldPresent reports whether an adaptation field follows the
// 4-byte header.
func (f Frame) AdaptationFieldPresent() bool { return f[3]&0x20 != 0 }

// HasPayload reports whether the packet carries payload bytes.
func (f Frame) HasPayload() bool { return f[3]&0x10 != 0 }

// ContinuityCounter returns the 4-bit continuity_counter.
func (f Frame) ContinuityCounter() uint8 { return f[3] & 0x0F }

// classify applies the header gates in order. It returns VerdictPending when
// the frame is an unscrambled, error-free PSI start worth parsing.
func classify(f Frame) Verdict {
	switch {
	case f.SyncByte() != syncByte:
		return VerdictNoSync
	case f.TransportError():
		return VerdictTransportError
	case !f.PayloadUnitStart():
		return VerdictNoUnitStart
	case f.ScramblingControl() != 0:
		return VerdictScrambled
	case !f.HasPayload():
		return VerdictNoPayload
	}
	return VerdictPending
}
