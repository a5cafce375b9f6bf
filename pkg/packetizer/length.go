package packetizer

import (
	"github.com/dbehnke/packet-nexus/pkg/codec"
	"github.com/dbehnke/packet-nexus/pkg/crc"
)

// EncodedLength returns the packet length produced for an n-byte message:
// the CRC key is appended, then the inner and outer FEC expand the result.
func EncodedLength(n int, check crc.Scheme, fec0, fec1 codec.Scheme) int {
	return fec1.EncodedLength(fec0.EncodedLength(n + check.Length()))
}

// DecodedLength is the inverse of EncodedLength. FEC lengths have no closed
// form inverse, so the message length is found by bisection over
// [0, min(k, MaxMessageLength)]; every scheme's length function is
// non-decreasing and none shrinks its input. The result is the largest
// message length whose packet fits in k bytes, or 0 when nothing fits.
func DecodedLength(k int, check crc.Scheme, fec0, fec1 codec.Scheme) int {
	if EncodedLength(0, check, fec0, fec1) > k {
		return 0
	}

	lo, hi := 0, min(k, MaxMessageLength)
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		if EncodedLength(mid, check, fec0, fec1) <= k {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}
