package codec

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Scheme identifies a forward error-correction code
type Scheme int

const (
	Unknown Scheme = iota
	None
	Rep3
	Rep5
	Hamming74
	Hamming84
	Golay2412
	ConvV27
)

var (
	// ErrUnknownScheme is returned for unregistered scheme names or identifiers
	ErrUnknownScheme = errors.New("unknown fec scheme")

	// ErrSchemeRegistered is returned when registering an identifier twice
	ErrSchemeRegistered = errors.New("fec scheme already registered")
)

// FEC is a stateful codec instance for one scheme.
//
// Encode reads n bytes from in and writes exactly EncodedLength(n) bytes to
// out. Decode reads EncodedLength(n) bytes from in and writes exactly n bytes
// to out. Neither method reads out or writes in, and in and out must not
// overlap.
type FEC interface {
	Scheme() Scheme
	Encode(n int, in, out []byte)
	Decode(n int, in, out []byte)
}

type schemeEntry struct {
	name    string
	encLen  func(n int) int
	factory func() FEC
}

var (
	registryMu sync.RWMutex
	registry   = map[Scheme]schemeEntry{
		None:      {"none", func(n int) int { return n }, func() FEC { return passthrough{} }},
		Rep3:      {"rep3", func(n int) int { return 3 * n }, func() FEC { return repetition{copies: 3, scheme: Rep3} }},
		Rep5:      {"rep5", func(n int) int { return 5 * n }, func() FEC { return repetition{copies: 5, scheme: Rep5} }},
		Hamming74: {"hamming74", hammingEncodedLength, func() FEC { return hamming{scheme: Hamming74} }},
		Hamming84: {"hamming84", hammingEncodedLength, func() FEC { return hamming{scheme: Hamming84, extended: true} }},
		Golay2412: {"golay2412", golayEncodedLength, func() FEC { return golay{} }},
		ConvV27:   {"v27", convEncodedLength, func() FEC { return newConvV27() }},
	}
)

// Register adds a scheme to the registry. The identifier must be above
// Unknown and not yet in use, and the name is unique ignoring case.
func Register(s Scheme, name string, encLen func(n int) int, factory func() FEC) error {
	if s <= Unknown {
		return fmt.Errorf("invalid scheme identifier %d", int(s))
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || encLen == nil || factory == nil {
		return fmt.Errorf("scheme %d: name, length function and factory are required", int(s))
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[s]; exists {
		return fmt.Errorf("%w: %d", ErrSchemeRegistered, int(s))
	}
	for _, e := range registry {
		if e.name == name {
			return fmt.Errorf("%w: %q", ErrSchemeRegistered, name)
		}
	}

	registry[s] = schemeEntry{name: name, encLen: encLen, factory: factory}
	return nil
}

func lookup(s Scheme) (schemeEntry, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	e, ok := registry[s]
	return e, ok
}

// Schemes returns every registered scheme in identifier order
func Schemes() []Scheme {
	registryMu.RLock()
	out := make([]Scheme, 0, len(registry))
	for s := range registry {
		out = append(out, s)
	}
	registryMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseScheme resolves a scheme by name (case-insensitive)
func ParseScheme(name string) (Scheme, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	registryMu.RLock()
	defer registryMu.RUnlock()

	for s, e := range registry {
		if e.name == name {
			return s, nil
		}
	}
	return Unknown, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
}

// Valid reports whether s is registered
func (s Scheme) Valid() bool {
	_, ok := lookup(s)
	return ok
}

// String returns the scheme name
func (s Scheme) String() string {
	if e, ok := lookup(s); ok {
		return e.name
	}
	return "unknown"
}

// EncodedLength returns the number of coded bytes for n uncoded bytes.
// Unknown schemes report zero.
func (s Scheme) EncodedLength(n int) int {
	e, ok := lookup(s)
	if !ok {
		return 0
	}
	return e.encLen(n)
}

// MarshalText implements encoding.TextMarshaler
func (s Scheme) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Scheme) UnmarshalText(text []byte) error {
	parsed, err := ParseScheme(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// NewFEC creates a codec instance for s
func NewFEC(s Scheme) (FEC, error) {
	e, ok := lookup(s)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownScheme, int(s))
	}
	return e.factory(), nil
}

// passthrough is the "none" scheme
type passthrough struct{}

func (passthrough) Scheme() Scheme { return None }

func (passthrough) Encode(n int, in, out []byte) {
	copy(out[:n], in[:n])
}

func (passthrough) Decode(n int, in, out []byte) {
	copy(out[:n], in[:n])
}
