// Package packetizer turns fixed-length messages into error-protected packets
// and back. A message gets a CRC key appended and then passes through two
// FEC + interleaver stages; decoding runs the stages in reverse and reports
// whether the recovered message matches its key.
package packetizer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dbehnke/packet-nexus/pkg/codec"
	"github.com/dbehnke/packet-nexus/pkg/crc"
)

var (
	// ErrInvalidConfig is wrapped by every construction failure
	ErrInvalidConfig = errors.New("invalid packetizer configuration")

	// ErrLength is returned when a caller buffer does not match the
	// configured message or packet length
	ErrLength = errors.New("buffer length mismatch")

	// ErrClosed is returned by operations on a closed packetizer
	ErrClosed = errors.New("packetizer closed")
)

// MaxMessageLength is the largest message length New accepts. It keeps every
// stage length, and the scratch buffers behind them, well inside int range.
const MaxMessageLength = 1 << 20

// Packetizer encodes and decodes messages of one configured length. It is
// not safe for concurrent use.
type Packetizer struct {
	messageLength int
	packetLength  int
	check         crc.Scheme
	crcLength     int
	schemes       [2]codec.Scheme
	plan          [2]*stage

	// ping-pong scratch buffers shared by all stages
	buf0 []byte
	buf1 []byte

	closed bool
}

// Description is a serializable view of a packetizer's pipeline
type Description struct {
	MessageLength int                `json:"message_length" yaml:"message_length"`
	PacketLength  int                `json:"packet_length" yaml:"packet_length"`
	CRC           string             `json:"crc" yaml:"crc"`
	CRCLength     int                `json:"crc_length" yaml:"crc_length"`
	Stages        []StageDescription `json:"stages" yaml:"stages"`
}

// StageDescription describes one FEC + interleaver stage
type StageDescription struct {
	FEC           string `json:"fec" yaml:"fec"`
	Interleaver   string `json:"interleaver" yaml:"interleaver"`
	DecodedLength int    `json:"decoded_length" yaml:"decoded_length"`
	EncodedLength int    `json:"encoded_length" yaml:"encoded_length"`
}

// New builds a packetizer for n-byte messages protected by check, then fec0
// (inner) and fec1 (outer).
func New(n int, check crc.Scheme, fec0, fec1 codec.Scheme) (*Packetizer, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: message length %d is negative", ErrInvalidConfig, n)
	}
	if n > MaxMessageLength {
		return nil, fmt.Errorf("%w: message length %d exceeds %d", ErrInvalidConfig, n, MaxMessageLength)
	}
	if !check.Valid() {
		return nil, fmt.Errorf("%w: unknown crc scheme %d", ErrInvalidConfig, int(check))
	}
	for i, s := range []codec.Scheme{fec0, fec1} {
		if !s.Valid() {
			return nil, fmt.Errorf("%w: stage %d: unknown fec scheme %d", ErrInvalidConfig, i, int(s))
		}
	}

	p := &Packetizer{
		messageLength: n,
		check:         check,
		crcLength:     check.Length(),
		schemes:       [2]codec.Scheme{fec0, fec1},
	}

	k := n + p.crcLength
	bufLen := k
	for i, s := range p.schemes {
		st, err := newStage(s, k)
		if err != nil {
			p.closePlan()
			return nil, fmt.Errorf("%w: stage %d: %w", ErrInvalidConfig, i, err)
		}
		p.plan[i] = st
		k = st.encodedLength
		bufLen = max(bufLen, k)
	}
	p.packetLength = k
	p.ensureBuffers(bufLen)

	return p, nil
}

// Recreate returns p unchanged when it already matches the requested
// configuration. Otherwise a replacement is built first; on success p is
// closed and the replacement returned, on failure p is returned untouched
// along with the error. A nil or closed p behaves like New.
func Recreate(p *Packetizer, n int, check crc.Scheme, fec0, fec1 codec.Scheme) (*Packetizer, error) {
	if p == nil || p.closed {
		return New(n, check, fec0, fec1)
	}
	if p.matches(n, check, fec0, fec1) {
		return p, nil
	}

	q, err := New(n, check, fec0, fec1)
	if err != nil {
		return p, err
	}
	p.Close()
	return q, nil
}

// SetSchemes swaps the FEC schemes while keeping the message length and CRC
func (p *Packetizer) SetSchemes(fec0, fec1 codec.Scheme) (*Packetizer, error) {
	if p == nil || p.closed {
		return p, ErrClosed
	}
	return Recreate(p, p.messageLength, p.check, fec0, fec1)
}

func (p *Packetizer) matches(n int, check crc.Scheme, fec0, fec1 codec.Scheme) bool {
	return p.messageLength == n && p.check == check && p.schemes == [2]codec.Scheme{fec0, fec1}
}

// ensureBuffers grows both scratch buffers to at least n bytes
func (p *Packetizer) ensureBuffers(n int) {
	if len(p.buf0) >= n {
		return
	}
	p.buf0 = make([]byte, n)
	p.buf1 = make([]byte, n)
}

func (p *Packetizer) closePlan() {
	for i, s := range p.plan {
		if s != nil {
			s.close()
			p.plan[i] = nil
		}
	}
}

// Close releases the pipeline. Further operations return ErrClosed.
func (p *Packetizer) Close() error {
	if p == nil || p.closed {
		return nil
	}
	p.closePlan()
	p.buf0 = nil
	p.buf1 = nil
	p.closed = true
	return nil
}

// Encode writes the packet for msg into pkt. msg must be exactly
// MessageLength bytes and pkt at least PacketLength bytes.
func (p *Packetizer) Encode(msg, pkt []byte) error {
	if p == nil || p.closed {
		return ErrClosed
	}
	if len(msg) != p.messageLength {
		return fmt.Errorf("%w: message is %d bytes, expected %d", ErrLength, len(msg), p.messageLength)
	}
	if len(pkt) < p.packetLength {
		return fmt.Errorf("%w: packet buffer is %d bytes, need %d", ErrLength, len(pkt), p.packetLength)
	}

	n := p.messageLength
	copy(p.buf0, msg)
	putKey(p.buf0[n:n+p.crcLength], p.check.Key(p.buf0[:n]))

	for _, s := range p.plan {
		s.encode(p.buf0, p.buf1)
	}

	copy(pkt, p.buf0[:p.packetLength])
	return nil
}

// EncodeMessage allocates and returns the packet for msg
func (p *Packetizer) EncodeMessage(msg []byte) ([]byte, error) {
	if p == nil || p.closed {
		return nil, ErrClosed
	}
	pkt := make([]byte, p.packetLength)
	if err := p.Encode(msg, pkt); err != nil {
		return nil, err
	}
	return pkt, nil
}

// Decode recovers the message carried by pkt into msg and reports whether
// it passed the integrity check. The recovered bytes are written even when
// the check fails.
func (p *Packetizer) Decode(pkt, msg []byte) (bool, error) {
	if p == nil || p.closed {
		return false, ErrClosed
	}
	if len(pkt) != p.packetLength {
		return false, fmt.Errorf("%w: packet is %d bytes, expected %d", ErrLength, len(pkt), p.packetLength)
	}
	if len(msg) < p.messageLength {
		return false, fmt.Errorf("%w: message buffer is %d bytes, need %d", ErrLength, len(msg), p.messageLength)
	}

	copy(p.buf0, pkt)
	for i := len(p.plan) - 1; i >= 0; i-- {
		p.plan[i].decode(p.buf0, p.buf1)
	}

	n := p.messageLength
	payload := p.buf0[:n]
	key := getKey(p.buf0[n : n+p.crcLength])
	copy(msg, payload)

	return p.check.Validate(payload, key), nil
}

// DecodeMessage allocates and returns the message carried by pkt
func (p *Packetizer) DecodeMessage(pkt []byte) ([]byte, bool, error) {
	if p == nil || p.closed {
		return nil, false, ErrClosed
	}
	msg := make([]byte, p.messageLength)
	valid, err := p.Decode(pkt, msg)
	if err != nil {
		return nil, false, err
	}
	return msg, valid, nil
}

// MessageLength returns the uncoded message length in bytes
func (p *Packetizer) MessageLength() int { return p.messageLength }

// PacketLength returns the encoded packet length in bytes
func (p *Packetizer) PacketLength() int { return p.packetLength }

// CRC returns the error-detection scheme
func (p *Packetizer) CRC() crc.Scheme { return p.check }

// Schemes returns the inner and outer FEC schemes
func (p *Packetizer) Schemes() (fec0, fec1 codec.Scheme) {
	return p.schemes[0], p.schemes[1]
}

// Closed reports whether Close has been called
func (p *Packetizer) Closed() bool { return p == nil || p.closed }

// Describe returns the pipeline layout
func (p *Packetizer) Describe() Description {
	d := Description{
		MessageLength: p.messageLength,
		PacketLength:  p.packetLength,
		CRC:           p.check.String(),
		CRCLength:     p.crcLength,
	}

	k := p.messageLength + p.crcLength
	for _, s := range p.schemes {
		enc := s.EncodedLength(k)
		d.Stages = append(d.Stages, StageDescription{
			FEC:           s.String(),
			Interleaver:   codec.InterleaverBlock.String(),
			DecodedLength: k,
			EncodedLength: enc,
		})
		k = enc
	}
	return d
}

// String renders the pipeline as a table
func (p *Packetizer) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "packetizer [dec: %d, enc: %d]\n", p.messageLength, p.packetLength)
	fmt.Fprintf(&b, "     : crc      %-10d %-10d %-16s\n",
		p.messageLength, p.messageLength+p.crcLength, p.check)
	for i, s := range p.Describe().Stages {
		fmt.Fprintf(&b, "%4d : fec      %-10d %-10d %-16s\n",
			i, s.DecodedLength, s.EncodedLength, s.FEC)
	}
	return b.String()
}

// putKey writes key big-endian into len(b) bytes
func putKey(b []byte, key uint32) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(key)
		key >>= 8
	}
}

func getKey(b []byte) uint32 {
	var key uint32
	for _, v := range b {
		key = key<<8 | uint32(v)
	}
	return key
}
