package codec

import "math/bits"

// Extended Golay(24,12) code: the cyclic (23,12) code generated by
// x^11 + x^10 + x^6 + x^5 + x^4 + x^2 + 1 plus an overall parity bit.
// Corrects any three bit errors per codeword and detects four.

const (
	GolayPoly = 0xC75 // Binary: 110001110101
)

// golayEncodeTable maps 12-bit data to its 12 check bits
var golayEncodeTable [4096]uint32

// golaySyndromeTable maps a 12-bit syndrome to the error pattern of
// weight <= 3 producing it
var (
	golaySyndromeTable [4096]uint32
	golayCorrectable   [4096]bool
)

func init() {
	for i := 0; i < 4096; i++ {
		golayEncodeTable[i] = golayCheckBits(uint32(i))
	}

	golayCorrectable[0] = true
	for a := 0; a < 24; a++ {
		addGolayPattern(1 << a)
		for b := a + 1; b < 24; b++ {
			addGolayPattern(1<<a | 1<<b)
			for c := b + 1; c < 24; c++ {
				addGolayPattern(1<<a | 1<<b | 1<<c)
			}
		}
	}
}

func addGolayPattern(e uint32) {
	s := golaySyndrome(e)
	if !golayCorrectable[s] {
		golayCorrectable[s] = true
		golaySyndromeTable[s] = e
	}
}

// golayCheckBits divides data*x^11 by the generator and appends the overall
// parity of the resulting 23-bit codeword
func golayCheckBits(data uint32) uint32 {
	data &= 0xFFF
	reg := data << 11
	for i := 22; i >= 11; i-- {
		if reg&(1<<uint(i)) != 0 {
			reg ^= GolayPoly << uint(i-11)
		}
	}

	cw23 := data<<11 | reg&0x7FF
	return (cw23<<1 | uint32(bits.OnesCount32(cw23)&1)) & 0xFFF
}

func golaySyndrome(codeword uint32) uint32 {
	return golayEncodeTable[(codeword>>12)&0xFFF] ^ codeword&0xFFF
}

// GolayEncode encodes 12 data bits into a 24-bit Golay codeword
// Returns [data:12][parity:12] = 24 bits
func GolayEncode(data uint32) uint32 {
	data &= 0xFFF
	return data<<12 | golayEncodeTable[data]
}

// GolayDecode decodes a 24-bit Golay codeword and corrects up to 3 bit errors
// Returns the corrected 12-bit data and error count, or the received data
// and -1 when the error pattern is uncorrectable
func GolayDecode(codeword uint32) (uint32, int) {
	codeword &= 0xFFFFFF
	s := golaySyndrome(codeword)
	if s == 0 {
		return codeword >> 12, 0
	}
	if !golayCorrectable[s] {
		return codeword >> 12, -1
	}
	e := golaySyndromeTable[s]
	return ((codeword ^ e) >> 12) & 0xFFF, bits.OnesCount32(e)
}

// golayEncodedLength: every three bytes become two codewords, each leftover
// byte its own codeword
func golayEncodedLength(n int) int {
	return 6*(n/3) + 3*(n%3)
}

type golay struct{}

func (golay) Scheme() Scheme { return Golay2412 }

func (golay) Encode(n int, in, out []byte) {
	o := 0
	full := n / 3 * 3
	for i := 0; i < full; i += 3 {
		s0 := uint32(in[i])<<4 | uint32(in[i+1])>>4
		s1 := uint32(in[i+1]&0x0F)<<8 | uint32(in[i+2])
		putCodeword(out[o:], GolayEncode(s0))
		putCodeword(out[o+3:], GolayEncode(s1))
		o += 6
	}
	for i := full; i < n; i++ {
		putCodeword(out[o:], GolayEncode(uint32(in[i])))
		o += 3
	}
}

func (golay) Decode(n int, in, out []byte) {
	o := 0
	full := n / 3 * 3
	for i := 0; i < full; i += 3 {
		s0, _ := GolayDecode(getCodeword(in[o:]))
		s1, _ := GolayDecode(getCodeword(in[o+3:]))
		out[i] = byte(s0 >> 4)
		out[i+1] = byte(s0<<4) | byte(s1>>8)
		out[i+2] = byte(s1)
		o += 6
	}
	for i := full; i < n; i++ {
		s, _ := GolayDecode(getCodeword(in[o:]))
		out[i] = byte(s)
		o += 3
	}
}

func putCodeword(b []byte, cw uint32) {
	b[0] = byte(cw >> 16)
	b[1] = byte(cw >> 8)
	b[2] = byte(cw)
}

func getCodeword(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}
