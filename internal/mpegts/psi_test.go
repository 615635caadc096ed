package mpegts

import (
	"encoding/binary"
	"errors"
	"testing"
)

type esEntry struct {
	streamType uint8
	pid        uint16
	esInfo     []byte
}

type pmtLayout struct {
	programNumber uint16
	pcrPID        uint16
	programInfo   []byte
	streams       []esEntry
	// loopBound overrides the 12-bit section_length field when >= 0.
	loopBound int
}

// buildPMTSection constructs a PMT section starting at table_id with a valid
// CRC32 trailer.
func buildPMTSection(s pmtLayout) []byte {
	esLen := 0
	for _, es := range s.streams {
		esLen += pmtEntrySize + len(es.esInfo)
	}
	sectionLength := 9 + len(s.programInfo) + esLen + crcSize
	if s.loopBound >= 0 {
		sectionLength = s.loopBound
	}

	data := make([]byte, pmtHeaderSize, pmtHeaderSize+len(s.programInfo)+esLen+crcSize)
	data[0] = tableIDPMT
	data[1] = 0xB0 | byte(sectionLength>>8)&0x0F
	data[2] = byte(sectionLength)
	data[3] = byte(s.programNumber >> 8)
	data[4] = byte(s.programNumber)
	data[5] = 0xC1 // reserved + version 0 + current_next
	data[6] = 0x00 // section_number
	data[7] = 0x00 // last_section_number
	data[8] = 0xE0 | byte(s.pcrPID>>8)&0x1F
	data[9] = byte(s.pcrPID)
	data[10] = 0xF0 | byte(len(s.programInfo)>>8)&0x0F
	data[11] = byte(len(s.programInfo))
	data = append(data, s.programInfo...)

	for _, es := range s.streams {
		data = append(data,
			es.streamType,
			0xE0|byte(es.pid>>8)&0x1F,
			byte(es.pid),
			0xF0|byte(len(es.esInfo)>>8)&0x0F,
			byte(len(es.esInfo)),
		)
		data = append(data, es.esInfo...)
	}

	return binary.BigEndian.AppendUint32(data, Checksum(data))
}

// standardPMT builds a PMT with a standard section_length whose CRC trailer
// does not also parse as an elementary stream entry, so the walk stops at
// the trailer. The program number is varied until that holds.
func standardPMT(t testing.TB, streams []esEntry) []byte {
	t.Helper()
	for prog := uint16(1); prog < 512; prog++ {
		section := buildPMTSection(pmtLayout{
			programNumber: prog,
			pcrPID:        0x100,
			streams:       streams,
			loopBound:     -1,
		})
		trailer := section[len(section)-crcSize:]
		if trailer[1]&0xE0 == 0xE0 && trailer[3]&0x30 == 0x30 {
			continue
		}
		return section
	}
	t.Fatal("no program number yields a terminating CRC trailer")
	return nil
}

func TestParsePMTSection_H264_AAC(t *testing.T) {
	t.Parallel()
	data := buildPMTSection(pmtLayout{
		programNumber: 1,
		pcrPID:        481,
		streams: []esEntry{
			{streamType: 0x1B, pid: 481},
			{streamType: 0x0F, pid: 494, esInfo: []byte{0x0A, 0x04, 'e', 'n', 'g', 0x00}},
		},
		loopBound: -1,
	})

	pmt, err := ParsePMTSection(data)
	if err != nil {
		t.Fatal(err)
	}
	if pmt.ProgramNumber != 1 {
		t.Errorf("program number = %d, want 1", pmt.ProgramNumber)
	}
	if pmt.PCRPID != 481 {
		t.Errorf("PCR PID = %d, want 481", pmt.PCRPID)
	}
	if len(pmt.ElementaryStreams) != 2 {
		t.Fatalf("expected 2 streams, got %d", len(pmt.ElementaryStreams))
	}
	if pmt.ElementaryStreams[0].StreamType != 0x1B || pmt.ElementaryStreams[0].ElementaryPID != 481 {
		t.Errorf("stream 0 = %+v", *pmt.ElementaryStreams[0])
	}
	if pmt.ElementaryStreams[1].StreamType != 0x0F || pmt.ElementaryStreams[1].ElementaryPID != 494 {
		t.Errorf("stream 1 = %+v", *pmt.ElementaryStreams[1])
	}
	if pmt.CRC != binary.BigEndian.Uint32(data[len(data)-4:]) {
		t.Errorf("CRC = 0x%08X, want trailer", pmt.CRC)
	}
}

func TestParsePMTSection_ProgramDescriptors(t *testing.T) {
	t.Parallel()
	data := buildPMTSection(pmtLayout{
		programNumber: 7,
		pcrPID:        0x200,
		programInfo:   []byte{0x05, 0x04, 'H', 'D', 'M', 'V'},
		streams:       []esEntry{{streamType: 0x06, pid: 0x201}},
		loopBound:     -1,
	})
	pmt, err := ParsePMTSection(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(pmt.ElementaryStreams) != 1 || pmt.ElementaryStreams[0].ElementaryPID != 0x201 {
		t.Fatalf("streams = %v", pmt.ElementaryStreams)
	}
}

func TestParsePMTSection_Errors(t *testing.T) {
	t.Parallel()
	good := buildPMTSection(pmtLayout{
		programNumber: 1,
		pcrPID:        0x100,
		streams:       []esEntry{{streamType: 0x1B, pid: 0x100}},
		loopBound:     -1,
	})

	badCRC := append([]byte(nil), good...)
	badCRC[len(badCRC)-1] ^= 0xFF

	notPMT := append([]byte(nil), good...)
	notPMT[0] = 0x00

	tests := []struct {
		name string
		data []byte
	}{
		{"bad_crc", badCRC},
		{"not_pmt", notPMT},
		{"truncated", good[:len(good)-1]},
		{"too_short", []byte{0x02, 0xB0}},
		{"length_below_header", buildPMTSection(pmtLayout{loopBound: 5})},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParsePMTSection(tc.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestInspect(t *testing.T) {
	t.Parallel()
	pmt := buildPMTSection(pmtLayout{
		programNumber: 3,
		pcrPID:        0x101,
		streams:       []esEntry{{streamType: 0x06, pid: 0x101}, {streamType: 0x03, pid: 0x102}},
		loopBound:     -1,
	})
	spanning := append([]byte(nil), pmt...)
	spanning[1] = 0xB0 | 0x01 // section_length > 256: cannot fit in one packet
	spanning[2] = 0x00

	var buf []byte
	buf = append(buf, makePacket(0x00, 0, true, []byte{0x00, 0x00, 0xB0, 0x0D})...)
	buf = append(buf, makePSIFrame(0x1000, -1, 0, pmt)...)
	buf = append(buf, makePacket(0x101, 0, false, nil)...)
	buf = append(buf, makePSIFrame(0x1001, 3, 0, spanning)...)
	buf = append(buf, 0x47, 0x40) // partial packet

	records := Inspect(buf)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	if records[0].Err != nil {
		t.Fatalf("record 0: %v", records[0].Err)
	}
	if records[0].Offset != PacketSize || records[0].PID != 0x1000 {
		t.Errorf("record 0 at %d pid 0x%X", records[0].Offset, records[0].PID)
	}
	if records[0].PMT.ProgramNumber != 3 || len(records[0].PMT.ElementaryStreams) != 2 {
		t.Errorf("record 0 PMT = %+v", records[0].PMT)
	}

	if !errors.Is(records[1].Err, errSectionSpansPackets) {
		t.Errorf("record 1 err = %v, want %v", records[1].Err, errSectionSpansPackets)
	}
	if records[1].Offset != 3*PacketSize {
		t.Errorf("record 1 offset = %d", records[1].Offset)
	}
}

func TestStreamTypeName(t *testing.T) {
	t.Parallel()
	if got := StreamTypeName(StreamTypeH264); got != "H.264 Video" {
		t.Errorf("StreamTypeName(0x1B) = %q", got)
	}
	if got := StreamTypeName(0xEE); got != "Unknown (0xEE)" {
		t.Errorf("StreamTypeName(0xEE) = %q", got)
	}
}
