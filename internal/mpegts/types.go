// Package mpegts repairs Program Map Tables inside MPEG-TS recordings. It
// scans a buffer one 188-byte packet at a time, finds PMT sections whose
// first elementary stream is declared as private data (stream_type 0x06),
// rewrites that stream_type to H.264 (0x1B), and reseals the section CRC-32
// when the original checksum was valid.
//
// Frames never share state, so a buffer can be patched sequentially with
// [PatchStream] or split across workers with [Patcher.Patch]. [Inspect]
// lists the PMTs of a buffer without modifying it.
package mpegts

import (
	"fmt"
	"log/slog"
)

// Stream type codes from ISO/IEC 13818-1 table 2-34.
const (
	StreamTypePrivatePES uint8 = 0x06
	StreamTypeH264       uint8 = 0x1B
)

// Verdict is the outcome of processing one frame.
type Verdict uint8

const (
	// VerdictPending is internal: the frame passed classification.
	VerdictPending Verdict = iota
	VerdictNoSync
	VerdictTransportError
	VerdictNoUnitStart
	VerdictScrambled
	VerdictNoPayload
	// VerdictOverflow means a length field pointed past the end of the frame.
	VerdictOverflow
	VerdictNotPMT
	VerdictMalformed
	// VerdictUnchanged is a well-formed PMT whose first stream needs no repair.
	VerdictUnchanged
	// VerdictPatched means the stream_type was rewritten and the CRC resealed.
	VerdictPatched
	// VerdictPatchedStaleCRC means the stream_type was rewritten but the
	// declared CRC never matched, so the trailer was left as found.
	VerdictPatchedStaleCRC

	verdictCount
)

var verdictNames = [verdictCount]string{
	VerdictPending:         "pending",
	VerdictNoSync:          "no_sync",
	VerdictTransportError:  "transport_error",
	VerdictNoUnitStart:     "no_unit_start",
	VerdictScrambled:       "scrambled",
	VerdictNoPayload:       "no_payload",
	VerdictOverflow:        "overflow",
	VerdictNotPMT:          "not_pmt",
	VerdictMalformed:       "malformed",
	VerdictUnchanged:       "unchanged",
	VerdictPatched:         "patched",
	VerdictPatchedStaleCRC: "patched_stale_crc",
}

func (v Verdict) String() string {
	if v < verdictCount {
		return verdictNames[v]
	}
	return fmt.Sprintf("verdict(%d)", uint8(v))
}

// Modified reports whether the frame's bytes were changed.
func (v Verdict) Modified() bool {
	return v == VerdictPatched || v == VerdictPatchedStaleCRC
}

// Stats counts frame verdicts for one pass over a buffer or stream.
type Stats struct {
	Frames   int
	verdicts [verdictCount]int
}

func (s *Stats) add(v Verdict) {
	s.Frames++
	s.verdicts[v]++
}

func (s *Stats) merge(o Stats) {
	s.Frames += o.Frames
	for i := range s.verdicts {
		s.verdicts[i] += o.verdicts[i]
	}
}

// Count returns how many frames ended with verdict v.
func (s Stats) Count(v Verdict) int {
	if v >= verdictCount {
		return 0
	}
	return s.verdicts[v]
}

// Patched returns the number of frames whose stream_type was rewritten.
func (s Stats) Patched() int {
	return s.verdicts[VerdictPatched] + s.verdicts[VerdictPatchedStaleCRC]
}

// PMTs returns the number of frames that held a well-formed PMT.
func (s Stats) PMTs() int {
	return s.verdicts[VerdictUnchanged] + s.Patched()
}

// LogValue implements slog.LogValuer, omitting verdicts that never occurred.
func (s Stats) LogValue() slog.Value {
	attrs := []slog.Attr{slog.Int("frames", s.Frames)}
	for v := VerdictNoSync; v < verdictCount; v++ {
		if n := s.verdicts[v]; n > 0 {
			attrs = append(attrs, slog.Int(v.String(), n))
		}
	}
	return slog.GroupValue(attrs...)
}

// PMT contains the parsed fields of a Program Map Table section.
type PMT struct {
	ProgramNumber     uint16
	Version           uint8
	PCRPID            uint16
	ElementaryStreams []*PMTElementaryStream
	CRC               uint32
}

// PMTElementaryStream describes a single elementary stream in a PMT.
type PMTElementaryStream struct {
	ElementaryPID uint16
	StreamType    uint8
}

// PMTRecord is one PMT found by Inspect.
type PMTRecord struct {
	Offset int
	PID    uint16
	PMT    *PMT
	Err    error
}

var streamTypeNames = map[uint8]string{
	0x01: "MPEG-1 Video",
	0x02: "MPEG-2 Video",
	0x03: "MPEG-1 Audio",
	0x04: "MPEG-2 Audio",
	0x05: "Private Section",
	0x06: "Private PES",
	0x0F: "AAC Audio (ADTS)",
	0x10: "MPEG-4 Video",
	0x11: "AAC Audio (LATM)",
	0x15: "Metadata PES",
	0x1B: "H.264 Video",
	0x24: "H.265 Video",
	0x81: "AC-3 Audio",
	0x86: "SCTE-35",
	0x87: "E-AC-3 Audio",
}

// StreamTypeName returns a human readable name for an ISO/IEC 13818-1
// stream_type.
func StreamTypeName(t uint8) string {
	if name, ok := streamTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (0x%02X)", t)
}
