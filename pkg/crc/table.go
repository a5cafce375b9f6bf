package crc

// msbTable is a byte-at-a-time, MSB-first CRC of up to 32 bits
type msbTable struct {
	width uint
	init  uint32
	mask  uint32
	table [256]uint32
}

var (
	crc8  = newMSBTable(8, 0x07, 0x00)
	crc16 = newMSBTable(16, 0x1021, 0xFFFF)
	crc24 = newMSBTable(24, 0x5D6DCB, 0x000000)
)

// newMSBTable precomputes the lookup table for a polynomial
func newMSBTable(width uint, poly, init uint32) *msbTable {
	t := &msbTable{
		width: width,
		init:  init,
		mask:  uint32((uint64(1) << width) - 1),
	}

	top := uint32(1) << (width - 1)
	for i := 0; i < 256; i++ {
		reg := uint32(i) << (width - 8)
		for bit := 0; bit < 8; bit++ {
			if reg&top != 0 {
				reg = (reg << 1) ^ poly
			} else {
				reg <<= 1
			}
		}
		t.table[i] = reg & t.mask
	}

	return t
}

func (t *msbTable) checksum(data []byte) uint32 {
	reg := t.init
	for _, b := range data {
		idx := byte(reg>>(t.width-8)) ^ b
		reg = ((reg << 8) ^ t.table[idx]) & t.mask
	}
	return reg
}
