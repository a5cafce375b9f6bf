package codec

import "math/bits"

// Hamming(7,4) codewords indexed by data nibble. The nibble sits in the low
// four bits of each codeword.
var hammingEncodeTable = [16]byte{
	0x00, 0x71, 0x62, 0x13, 0x54, 0x25, 0x36, 0x47,
	0x38, 0x49, 0x5a, 0x2b, 0x6c, 0x1d, 0x0e, 0x7f,
}

// hammingDecodeTable maps any 7-bit word to the nibble whose codeword lies
// within one bit of it
var hammingDecodeTable [128]byte

func init() {
	for r := 0; r < 128; r++ {
		best, bestDist := byte(0), 8
		for nib := 0; nib < 16; nib++ {
			d := bits.OnesCount8(byte(r) ^ hammingEncodeTable[nib])
			if d < bestDist {
				best, bestDist = byte(nib), d
			}
		}
		hammingDecodeTable[r] = best
	}
}

func hammingEncodedLength(n int) int { return 2 * n }

// hamming codes each nibble into one byte. The extended variant adds an
// overall parity bit in bit 7 so double errors are detected and left
// uncorrected instead of being miscorrected.
type hamming struct {
	scheme   Scheme
	extended bool
}

func (h hamming) Scheme() Scheme { return h.scheme }

func (h hamming) Encode(n int, in, out []byte) {
	for i := 0; i < n; i++ {
		out[2*i] = h.encodeNibble(in[i] >> 4)
		out[2*i+1] = h.encodeNibble(in[i] & 0x0F)
	}
}

func (h hamming) Decode(n int, in, out []byte) {
	for i := 0; i < n; i++ {
		out[i] = h.decodeNibble(in[2*i])<<4 | h.decodeNibble(in[2*i+1])
	}
}

func (h hamming) encodeNibble(nib byte) byte {
	cw := hammingEncodeTable[nib&0x0F]
	if h.extended {
		cw |= byte(bits.OnesCount8(cw)&1) << 7
	}
	return cw
}

func (h hamming) decodeNibble(r byte) byte {
	low := r & 0x7F
	nib := hammingDecodeTable[low]
	if h.extended && hammingEncodeTable[nib] != low && bits.OnesCount8(r)&1 == 0 {
		// even overall parity with a non-zero syndrome: two bits flipped
		return low & 0x0F
	}
	return nib
}
