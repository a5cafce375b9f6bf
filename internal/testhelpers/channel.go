// Package testhelpers provides channel impairments and a loopback UDP peer
// for exercising the packet pipeline in tests and tools.
package testhelpers

import (
	"math/rand"
)

// NewRand returns a deterministic source for impairment helpers
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// Clone returns a copy of b
func Clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

// FlipBit inverts bit i of b, counting MSB-first from the first byte
func FlipBit(b []byte, i int) {
	b[i/8] ^= 0x80 >> uint(i%8)
}

// FlipRandomBits inverts n distinct random bits and returns their positions.
// n is capped at the number of bits in b.
func FlipRandomBits(b []byte, n int, r *rand.Rand) []int {
	total := len(b) * 8
	if n > total {
		n = total
	}
	positions := r.Perm(total)[:n]
	for _, p := range positions {
		FlipBit(b, p)
	}
	return positions
}

// FlipOneBitPerByte inverts one random bit in every byte of b. mask limits
// the candidate bit positions (bit 7 is the MSB); a zero mask means all.
func FlipOneBitPerByte(b []byte, mask byte, r *rand.Rand) {
	if mask == 0 {
		mask = 0xFF
	}
	var candidates []byte
	for bit := 0; bit < 8; bit++ {
		if mask&(1<<uint(bit)) != 0 {
			candidates = append(candidates, 1<<uint(bit))
		}
	}
	for i := range b {
		b[i] ^= candidates[r.Intn(len(candidates))]
	}
}

// Burst inverts length consecutive bits starting at bit start, clipped to b
func Burst(b []byte, start, length int) {
	total := len(b) * 8
	for i := start; i < start+length && i < total; i++ {
		if i >= 0 {
			FlipBit(b, i)
		}
	}
}

// HammingDistance counts differing bits between a and b over the shorter length
func HammingDistance(a, b []byte) int {
	n := min(len(a), len(b))
	d := 0
	for i := 0; i < n; i++ {
		x := a[i] ^ b[i]
		for x != 0 {
			x &= x - 1
			d++
		}
	}
	return d
}
