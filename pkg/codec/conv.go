package codec

import "math/bits"

// Rate 1/2, constraint length 7 convolutional code (polynomials 0x4f, 0x6d)
// decoded with a hard-decision Viterbi search. The encoder is flushed with
// six zero tail bits so the trellis terminates in state zero.

const (
	convK      = 7
	convStates = 1 << (convK - 1)
	convTail   = convK - 1
	convPolyA  = 0x4F
	convPolyB  = 0x6D

	convUnreachable = 1 << 30
)

// convOutputs holds the two coded bits for every 7-bit register value
var convOutputs [1 << convK]byte

func init() {
	for sr := 0; sr < len(convOutputs); sr++ {
		a := bits.OnesCount8(byte(sr)&convPolyA) & 1
		b := bits.OnesCount8(byte(sr)&convPolyB) & 1
		convOutputs[sr] = byte(a<<1 | b)
	}
}

func convEncodedLength(n int) int {
	return (2*(8*n+convTail) + 7) / 8
}

type convV27 struct {
	// one survivor bit per state per trellis step, kept between calls
	decisions []uint64
}

func newConvV27() *convV27 { return &convV27{} }

func (c *convV27) Scheme() Scheme { return ConvV27 }

func (c *convV27) Encode(n int, in, out []byte) {
	clear(out[:convEncodedLength(n)])

	steps := 8*n + convTail
	var sr int
	for t := 0; t < steps; t++ {
		var b int
		if t < 8*n {
			b = int(readBit(in, t))
		}
		sr = (sr<<1 | b) & (1<<convK - 1)
		o := convOutputs[sr]
		writeBit(out, 2*t, o>>1)
		writeBit(out, 2*t+1, o&1)
	}
}

func (c *convV27) Decode(n int, in, out []byte) {
	steps := 8*n + convTail
	if cap(c.decisions) < steps {
		c.decisions = make([]uint64, steps)
	}
	decisions := c.decisions[:steps]

	var metrics, next [convStates]uint32
	for s := 1; s < convStates; s++ {
		metrics[s] = convUnreachable
	}

	for t := 0; t < steps; t++ {
		received := readBit(in, 2*t)<<1 | readBit(in, 2*t+1)

		var d uint64
		for ns := 0; ns < convStates; ns++ {
			// predecessors differ only in the bit shifted out of the register
			p0 := ns >> 1
			p1 := p0 | convStates>>1
			m0 := metrics[p0] + uint32(bits.OnesCount8(convOutputs[ns]^received))
			m1 := metrics[p1] + uint32(bits.OnesCount8(convOutputs[convStates|ns]^received))
			if m1 < m0 {
				next[ns] = m1
				d |= 1 << uint(ns)
			} else {
				next[ns] = m0
			}
		}
		metrics = next
		decisions[t] = d
	}

	state := 0
	for t := steps - 1; t >= 0; t-- {
		if t < 8*n {
			writeBit(out, t, byte(state&1))
		}
		oldest := int(decisions[t]>>uint(state)) & 1
		state = state>>1 | oldest<<(convK-2)
	}
}
