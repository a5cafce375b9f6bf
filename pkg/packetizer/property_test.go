package packetizer

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/dbehnke/packet-nexus/pkg/codec"
	"github.com/dbehnke/packet-nexus/pkg/crc"
)

func TestRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		check := rapid.SampledFrom(crc.Schemes()).Draw(t, "crc")
		fec0 := rapid.SampledFrom(shipped).Draw(t, "fec0")
		fec1 := rapid.SampledFrom(shipped).Draw(t, "fec1")
		msg := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "msg")

		p, err := New(len(msg), check, fec0, fec1)
		require.NoError(t, err)
		defer p.Close()

		pkt, err := p.EncodeMessage(msg)
		require.NoError(t, err)
		require.Len(t, pkt, EncodedLength(len(msg), check, fec0, fec1))

		got, valid, err := p.DecodeMessage(pkt)
		require.NoError(t, err)
		require.True(t, valid)
		require.Equal(t, msg, got)
	})
}

func TestRepeatedUseProperty(t *testing.T) {
	p, err := New(24, crc.CRC32, codec.Golay2412, codec.ConvV27)
	require.NoError(t, err)

	rapid.Check(t, func(t *rapid.T) {
		msg := rapid.SliceOfN(rapid.Byte(), 24, 24).Draw(t, "msg")

		pkt, err := p.EncodeMessage(msg)
		require.NoError(t, err)

		got, valid, err := p.DecodeMessage(pkt)
		require.NoError(t, err)
		require.True(t, valid)
		require.Equal(t, msg, got)
	})
}

func TestDecodedLengthProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		check := rapid.SampledFrom(crc.Schemes()).Draw(t, "crc")
		fec0 := rapid.SampledFrom(shipped).Draw(t, "fec0")
		fec1 := rapid.SampledFrom(shipped).Draw(t, "fec1")
		k := rapid.IntRange(0, 400).Draw(t, "k")

		n := DecodedLength(k, check, fec0, fec1)
		if EncodedLength(0, check, fec0, fec1) > k {
			require.Equal(t, 0, n)
			return
		}
		require.LessOrEqual(t, EncodedLength(n, check, fec0, fec1), k)
		require.Greater(t, EncodedLength(n+1, check, fec0, fec1), k)
	})
}
