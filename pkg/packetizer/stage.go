package packetizer

import (
	"fmt"

	"github.com/dbehnke/packet-nexus/pkg/codec"
)

// stage is one FEC + interleaver step of the pipeline.
type stage struct {
	scheme        codec.Scheme
	kind          codec.InterleaverKind
	decodedLength int
	encodedLength int

	fec   codec.FEC
	intlv *codec.Interleaver
}

// newStage acquires the codec and interleaver for a stage taking
// decodedLength bytes in.
func newStage(scheme codec.Scheme, decodedLength int) (*stage, error) {
	fec, err := codec.NewFEC(scheme)
	if err != nil {
		return nil, err
	}

	encodedLength := scheme.EncodedLength(decodedLength)
	if encodedLength < decodedLength {
		return nil, fmt.Errorf("stage %s: encoded length %d is shorter than input %d", scheme, encodedLength, decodedLength)
	}
	intlv, err := codec.NewInterleaver(encodedLength, codec.InterleaverBlock)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", scheme, err)
	}

	return &stage{
		scheme:        scheme,
		kind:          codec.InterleaverBlock,
		decodedLength: decodedLength,
		encodedLength: encodedLength,
		fec:           fec,
		intlv:         intlv,
	}, nil
}

// encode runs FEC from a into b, then interleaves b back into a.
func (s *stage) encode(a, b []byte) {
	s.fec.Encode(s.decodedLength, a, b)
	s.intlv.Encode(b, a)
}

// decode deinterleaves a into b, then runs FEC decoding from b into a.
func (s *stage) decode(a, b []byte) {
	s.intlv.Decode(a, b)
	s.fec.Decode(s.decodedLength, b, a)
}

// close releases the codec and interleaver together.
func (s *stage) close() {
	s.fec = nil
	s.intlv = nil
}
