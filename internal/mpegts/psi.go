package mpegts

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// errSectionSpansPackets is returned by Inspect for a PMT whose declared
// length runs past the packet that starts it.
var errSectionSpansPackets = errors.New("mpegts: PMT section continues in next packet")

// ParsePMTSection parses a complete PMT section starting at table_id and
// verifies its CRC-32. Bytes after the declared section length are ignored.
func ParsePMTSection(data []byte) (*PMT, error) {
	// data layout:
	// [0]    table_id
	// [1-2]  section_syntax_indicator(1) + zero(1) + reserved(2) + section_length(12)
	// [3-4]  program_number
	// [5]    reserved(2) + version(5) + current_next(1)
	// [6]    section_number
	// [7]    last_section_number
	// [8-9]  reserved(3) + PCR_PID(13)
	// [10-11] reserved(4) + program_info_length(12)
	// [...] program descriptors
	// [...] elementary stream entries
	// [...] CRC32

	if len(data) < 3 {
		return nil, fmt.Errorf("mpegts: PMT too short")
	}
	if data[0] != tableIDPMT {
		return nil, fmt.Errorf("mpegts: table_id 0x%02X is not a PMT", data[0])
	}

	sectionLength := int(data[1]&0x0F)<<8 | int(data[2])
	sectionEnd := 3 + sectionLength
	if sectionEnd < pmtHeaderSize+crcSize { // minimum: 12 header + 4 CRC
		return nil, fmt.Errorf("mpegts: PMT too short")
	}
	if sectionEnd > len(data) {
		return nil, fmt.Errorf("mpegts: PMT section length %d exceeds %d available bytes", sectionLength, len(data)-3)
	}
	data = data[:sectionEnd]
	if err := VerifyCRC32(data); err != nil {
		return nil, fmt.Errorf("mpegts: PMT %w", err)
	}

	pmt := &PMT{
		ProgramNumber: binary.BigEndian.Uint16(data[3:]),
		Version:       data[5] >> 1 & 0x1F,
		PCRPID:        uint16(data[8]&0x1F)<<8 | uint16(data[9]),
		CRC:           binary.BigEndian.Uint32(data[sectionEnd-crcSize:]),
	}

	programInfoLength := int(data[10]&0x0F)<<8 | int(data[11])
	offset := pmtHeaderSize + programInfoLength
	entriesEnd := sectionEnd - crcSize
	for offset+pmtEntrySize <= entriesEnd {
		esInfoLength := int(data[offset+3]&0x0F)<<8 | int(data[offset+4])
		pmt.ElementaryStreams = append(pmt.ElementaryStreams, &PMTElementaryStream{
			StreamType:    data[offset],
			ElementaryPID: uint16(data[offset+1]&0x1F)<<8 | uint16(data[offset+2]),
		})
		offset += pmtEntrySize + esInfoLength
	}

	return pmt, nil
}

// Inspect lists the PMT sections that start in a payload-unit-start packet
// of buf. It never modifies buf. Sections that fail to parse are reported
// with Err set rather than skipped.
func Inspect(buf []byte) []PMTRecord {
	var records []PMTRecord
	for off := 0; off+PacketSize <= len(buf); off += PacketSize {
		f := Frame(buf[off : off+PacketSize])
		if classify(f) != VerdictPending {
			continue
		}
		section, ok := psiSection(f)
		if !ok || len(section) == 0 || section[0] != tableIDPMT {
			continue
		}

		rec := PMTRecord{Offset: off, PID: f.PID()}
		if len(section) >= 3 && 3+(int(section[1]&0x0F)<<8|int(section[2])) > len(section) {
			rec.Err = errSectionSpansPackets
		} else {
			rec.PMT, rec.Err = ParsePMTSection(section)
		}
		records = append(records, rec)
	}
	return records
}

// psiSection returns the bytes of f from the start of the PSI section to the
// end of the packet, following the adaptation field and pointer_field.
func psiSection(f Frame) ([]byte, bool) {
	pos := headerSize
	if f.AdaptationFieldPresent() {
		pos += 1 + int(f[pos])
	}
	if pos >= PacketSize {
		return nil, false
	}
	pos += 1 + int(f[pos])
	if pos >= PacketSize {
		return nil, false
	}
	return f[pos:], true
}
