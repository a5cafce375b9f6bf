package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestFECRoundTripProperty(t *testing.T) {
	schemes := []Scheme{None, Rep3, Rep5, Hamming74, Hamming84, Golay2412, ConvV27}

	rapid.Check(t, func(t *rapid.T) {
		s := rapid.SampledFrom(schemes).Draw(t, "scheme")
		msg := rapid.SliceOfN(rapid.Byte(), 0, 96).Draw(t, "msg")

		f, err := NewFEC(s)
		require.NoError(t, err)

		enc := make([]byte, s.EncodedLength(len(msg)))
		f.Encode(len(msg), msg, enc)

		dec := make([]byte, len(msg))
		f.Decode(len(msg), enc, dec)
		require.Equal(t, msg, dec)
	})
}

func TestInterleaverIsPermutationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 300).Draw(t, "n")
		il, err := NewInterleaver(n, InterleaverBlock)
		require.NoError(t, err)

		seen := make([]bool, n)
		for _, j := range il.table {
			require.False(t, seen[j], "position %d used twice", j)
			seen[j] = true
		}
	})
}

func TestGolayCorrectsRandomErrorsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.Uint32Range(0, 0xFFF).Draw(t, "data")
		positions := rapid.SliceOfNDistinct(rapid.IntRange(0, 23), 0, 3, rapid.ID[int]).Draw(t, "positions")

		cw := GolayEncode(data)
		for _, p := range positions {
			cw ^= 1 << uint(p)
		}

		got, errs := GolayDecode(cw)
		require.Equal(t, data, got)
		require.Equal(t, len(positions), errs)
	})
}
