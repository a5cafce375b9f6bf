// Package crc provides the error-detection schemes a packetizer appends to
// every message. Each scheme produces a fixed-length integrity key that is
// carried big-endian on the wire.
package crc

import (
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
)

// Scheme identifies an error-detection algorithm
type Scheme int

const (
	Unknown Scheme = iota
	None
	Checksum
	CRC8
	CRC16
	CRC24
	CRC32
)

// ErrUnknownScheme is returned when parsing an unrecognized scheme name
var ErrUnknownScheme = errors.New("unknown crc scheme")

type schemeInfo struct {
	name   string
	length int
	key    func([]byte) uint32
}

var schemes = map[Scheme]schemeInfo{
	None:     {"none", 0, func([]byte) uint32 { return 0 }},
	Checksum: {"checksum", 1, checksum},
	CRC8:     {"crc8", 1, crc8.checksum},
	CRC16:    {"crc16", 2, crc16.checksum},
	CRC24:    {"crc24", 3, crc24.checksum},
	CRC32:    {"crc32", 4, crc32.ChecksumIEEE},
}

// Schemes returns every usable scheme in identifier order
func Schemes() []Scheme {
	return []Scheme{None, Checksum, CRC8, CRC16, CRC24, CRC32}
}

// Parse resolves a scheme by name (case-insensitive)
func Parse(name string) (Scheme, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, info := range schemes {
		if info.name == name {
			return s, nil
		}
	}
	return Unknown, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
}

// Valid reports whether s names a usable scheme
func (s Scheme) Valid() bool {
	_, ok := schemes[s]
	return ok
}

// String returns the scheme name
func (s Scheme) String() string {
	if info, ok := schemes[s]; ok {
		return info.name
	}
	return "unknown"
}

// Length returns the number of key bytes appended to a message
func (s Scheme) Length() int {
	return schemes[s].length
}

// Key computes the integrity key over data. The result never has bits set
// above Length()*8.
func (s Scheme) Key(data []byte) uint32 {
	info, ok := schemes[s]
	if !ok {
		return 0
	}
	return info.key(data)
}

// Validate reports whether key matches the key computed over data
func (s Scheme) Validate(data []byte, key uint32) bool {
	if !s.Valid() {
		return false
	}
	return s.Key(data) == key
}

// MarshalText implements encoding.TextMarshaler
func (s Scheme) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Scheme) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// checksum is the two's complement of the byte sum, so that summing the
// message and its key yields zero.
func checksum(data []byte) uint32 {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return uint32(^sum + 1)
}
