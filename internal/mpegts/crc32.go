package mpegts

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// crcPolynomial is the MPEG-2 CRC-32 generator. The register is not
// reflected and no final XOR is applied.
const crcPolynomial = 0x04C11DB7

// CRCTable holds the 256 per-byte remainders of the MPEG-2 CRC-32. A table
// is immutable once built and safe to share between goroutines.
type CRCTable [256]uint32

// NewCRCTable builds the lookup table for polynomial 0x04C11DB7.
func NewCRCTable() *CRCTable {
	t := new(CRCTable)
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}

// Checksum returns the CRC-32 of data with the register seeded to
// 0xFFFFFFFF. The value is comparable to the trailer stored in PSI sections.
func (t *CRCTable) Checksum(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = (crc << 8) ^ t[byte(crc>>24)^b]
	}
	return crc
}

var defaultCRCTable = sync.OnceValue(NewCRCTable)

// Checksum computes the MPEG-2 CRC-32 of data using a lazily built shared
// table.
func Checksum(data []byte) uint32 {
	return defaultCRCTable().Checksum(data)
}

// VerifyCRC32 checks that the last 4 bytes of section are the big-endian
// CRC-32 of the preceding bytes.
func VerifyCRC32(section []byte) error {
	if len(section) < 4 {
		return fmt.Errorf("mpegts: data too short for CRC32")
	}
	body := section[:len(section)-4]
	stored := binary.BigEndian.Uint32(section[len(section)-4:])
	if computed := Checksum(body); computed != stored {
		return fmt.Errorf("mpegts: CRC32 mismatch: computed 0x%08X, stored 0x%08X", computed, stored)
	}
	return nil
}
