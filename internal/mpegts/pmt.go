package mpegts

const tableIDPMT = 0x02

// PMT section offsets relative to table_id. The walker trusts only the
// fields below; everything else in the header is opaque.
//
//	[0]     table_id
//	[1-2]   syntax/reserved bits + 12-bit length used as the entry loop bound
//	[6-7]   must be zero in the recordings this repairs
//	[10-11] reserved(4) + program_info_length(12)
//	[12..]  program descriptors, then 5-byte entries + ES descriptors
const (
	pmtHeaderSize = 12
	pmtEntrySize  = 5
	crcSize       = 4
)

// pmtWalk locates the pieces of one PMT section. Offsets are relative to
// the frame start.
type pmtWalk struct {
	start  int // table_id; first byte covered by the CRC
	end    int // first CRC byte
	target int // stream_type of the first entry if it needs repair, else -1
}

// walkPMT follows the adaptation field, pointer_field, PMT header and
// elementary stream loop of a classified frame. Any length that would carry
// the cursor to the last byte of the frame or beyond ends the walk with
// VerdictOverflow. A malformed entry only stops the loop; the section ends
// wherever the last good entry ended.
func walkPMT(f Frame, from uint8) (pmtWalk, Verdict) {
	pos := headerSize
	if f.AdaptationFieldPresent() {
		pos += 1 + int(f[pos])
		if pos >= PacketSize {
			return pmtWalk{}, VerdictOverflow
		}
	}

	pos += 1 + int(f[pos]) // pointer_field
	if pos+11 >= PacketSize {
		return pmtWalk{}, VerdictOverflow
	}

	w := pmtWalk{start: pos, target: -1}
	if f[pos] != tableIDPMT {
		return pmtWalk{}, VerdictNotPMT
	}
	if f[pos+1]&0x7C != 0x30 {
		return pmtWalk{}, VerdictMalformed
	}
	if f[pos+6] != 0 || f[pos+7] != 0 {
		return pmtWalk{}, VerdictMalformed
	}
	if f[pos+10]&0x0C != 0 {
		return pmtWalk{}, VerdictMalformed
	}

	progs := int(f[pos+1]&0x0F)<<8 | int(f[pos+2])
	programInfoLength := int(f[pos+10]&0x0F)<<8 | int(f[pos+11])
	pos += programInfoLength + pmtHeaderSize

	limit := w.start + pmtHeaderSize + progs
	for first := true; pos < limit; first = false {
		if pos+pmtEntrySize >= PacketSize {
			break
		}
		if f[pos+1]&0xE0 != 0xE0 || f[pos+3]&0x30 != 0x30 {
			break
		}
		if first && f[pos] == from {
			w.target = pos
		}
		esInfoLength := int(f[pos+3]&0x0F)<<8 | int(f[pos+4])
		pos += esInfoLength + pmtEntrySize
	}

	if pos+crcSize >= PacketSize {
		return pmtWalk{}, VerdictOverflow
	}
	w.end = pos
	return w, VerdictPending
}
