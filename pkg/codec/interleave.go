package codec

import (
	"fmt"
	"strings"
)

// InterleaverKind selects the byte permutation applied after FEC encoding
type InterleaverKind int

const (
	InterleaverNone InterleaverKind = iota
	InterleaverBlock
)

func (k InterleaverKind) String() string {
	switch k {
	case InterleaverNone:
		return "none"
	case InterleaverBlock:
		return "block"
	default:
		return "unknown"
	}
}

// ParseInterleaver resolves an interleaver kind by name
func ParseInterleaver(name string) (InterleaverKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none":
		return InterleaverNone, nil
	case "block", "":
		return InterleaverBlock, nil
	default:
		return InterleaverNone, fmt.Errorf("unknown interleaver %q", name)
	}
}

// Interleaver permutes a fixed-length byte block so that burst errors on the
// channel are spread across FEC codewords. Encode writes out[table[i]] =
// in[i]; Decode inverts it with out[i] = in[table[i]].
type Interleaver struct {
	kind  InterleaverKind
	n     int
	table []int
}

// NewInterleaver builds the permutation for blocks of n bytes. The block
// kind writes the first M*N bytes row by row into an M x N matrix, with
// M = floor(sqrt(n)) and N = n/M, and reads them column by column. Bytes
// past M*N keep their position.
func NewInterleaver(n int, kind InterleaverKind) (*Interleaver, error) {
	if n < 0 {
		return nil, fmt.Errorf("interleaver length %d is negative", n)
	}

	table := make([]int, n)
	for i := range table {
		table[i] = i
	}

	switch kind {
	case InterleaverNone:
	case InterleaverBlock:
		rows := isqrt(n)
		if rows > 0 {
			cols := n / rows
			for r := 0; r < rows; r++ {
				for c := 0; c < cols; c++ {
					table[r*cols+c] = c*rows + r
				}
			}
		}
	default:
		return nil, fmt.Errorf("unknown interleaver kind %d", int(kind))
	}

	return &Interleaver{kind: kind, n: n, table: table}, nil
}

// Len returns the block length in bytes
func (il *Interleaver) Len() int { return il.n }

// Kind returns the permutation kind
func (il *Interleaver) Kind() InterleaverKind { return il.kind }

// Encode permutes the first Len() bytes of in into out
func (il *Interleaver) Encode(in, out []byte) {
	for i, j := range il.table {
		out[j] = in[i]
	}
}

// Decode restores the original order
func (il *Interleaver) Decode(in, out []byte) {
	for i, j := range il.table {
		out[i] = in[j]
	}
}

func isqrt(n int) int {
	if n < 1 {
		return 0
	}
	r := 1
	for (r+1)*(r+1) <= n {
		r++
	}
	return r
}
