package codec

// repetition transmits every byte several times and decodes by bitwise
// majority vote over the copies.
type repetition struct {
	copies int
	scheme Scheme
}

func (r repetition) Scheme() Scheme { return r.scheme }

// Encode writes the message copies back to back
func (r repetition) Encode(n int, in, out []byte) {
	for c := 0; c < r.copies; c++ {
		copy(out[c*n:(c+1)*n], in[:n])
	}
}

// Decode takes, for every bit position, the value carried by the majority of
// the copies
func (r repetition) Decode(n int, in, out []byte) {
	if r.copies == 3 {
		for i := 0; i < n; i++ {
			a, b, c := in[i], in[n+i], in[2*n+i]
			out[i] = (a & b) | (a & c) | (b & c)
		}
		return
	}

	threshold := r.copies/2 + 1
	for i := 0; i < n; i++ {
		var v byte
		for bit := 0; bit < 8; bit++ {
			mask := byte(0x80) >> uint(bit)
			ones := 0
			for c := 0; c < r.copies; c++ {
				if in[c*n+i]&mask != 0 {
					ones++
				}
			}
			if ones >= threshold {
				v |= mask
			}
		}
		out[i] = v
	}
}
