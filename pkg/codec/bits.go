package codec

// Bits are numbered MSB-first across the buffer: bit 0 is the high bit of
// byte 0.

func readBit(data []byte, pos int) byte {
	return (data[pos>>3] >> uint(7-pos&7)) & 1
}

func writeBit(data []byte, pos int, bit byte) {
	mask := byte(0x80) >> uint(pos&7)
	if bit != 0 {
		data[pos>>3] |= mask
	} else {
		data[pos>>3] &^= mask
	}
}
