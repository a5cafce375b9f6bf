package profile

import (
	"fmt"
	"sync"
	"time"

	"github.com/dbehnke/packet-nexus/pkg/config"
	"github.com/dbehnke/packet-nexus/pkg/packetizer"
)

// Profile is a named packetizer. All access to the packetizer goes through
// the profile lock, so encode, decode and reconfiguration never overlap.
type Profile struct {
	name string

	mu       sync.Mutex
	config   config.ProfileConfig
	p        *packetizer.Packetizer
	created  time.Time
	lastUsed time.Time

	encoded      uint64
	decoded      uint64
	invalid      uint64
	reconfigured uint64
	bytesIn      uint64
	bytesOut     uint64
}

// Stats is a snapshot of a profile's counters
type Stats struct {
	Name          string    `json:"name"`
	Encoded       uint64    `json:"encoded"`
	Decoded       uint64    `json:"decoded"`
	Invalid       uint64    `json:"invalid"`
	Reconfigured  uint64    `json:"reconfigured"`
	BytesIn       uint64    `json:"bytes_in"`
	BytesOut      uint64    `json:"bytes_out"`
	Created       time.Time `json:"created"`
	LastUsed      time.Time `json:"last_used"`
	MessageLength int       `json:"message_length"`
	PacketLength  int       `json:"packet_length"`
}

// Info pairs a profile's configuration with its pipeline layout
type Info struct {
	Config      config.ProfileConfig   `json:"config"`
	Description packetizer.Description `json:"description"`
}

func newProfile(cfg config.ProfileConfig) (*Profile, error) {
	check, fec0, fec1, err := cfg.Schemes()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", packetizer.ErrInvalidConfig, err)
	}

	p, err := packetizer.New(cfg.MessageLength, check, fec0, fec1)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &Profile{
		name:     cfg.Name,
		config:   cfg,
		p:        p,
		created:  now,
		lastUsed: now,
	}, nil
}

// Name returns the profile name
func (pr *Profile) Name() string { return pr.name }

// Config returns the active configuration
func (pr *Profile) Config() config.ProfileConfig {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.config
}

// MessageLength returns the configured message length
func (pr *Profile) MessageLength() int {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.p.MessageLength()
}

// PacketLength returns the configured packet length
func (pr *Profile) PacketLength() int {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.p.PacketLength()
}

// Encode returns the packet for msg
func (pr *Profile) Encode(msg []byte) ([]byte, error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	pkt, err := pr.p.EncodeMessage(msg)
	if err != nil {
		return nil, err
	}

	pr.encoded++
	pr.bytesIn += uint64(len(msg))
	pr.bytesOut += uint64(len(pkt))
	pr.lastUsed = time.Now()
	return pkt, nil
}

// Decode recovers the message in pkt and reports whether it is intact
func (pr *Profile) Decode(pkt []byte) ([]byte, bool, error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	msg, valid, err := pr.p.DecodeMessage(pkt)
	if err != nil {
		return nil, false, err
	}

	pr.decoded++
	if !valid {
		pr.invalid++
	}
	pr.bytesIn += uint64(len(pkt))
	pr.bytesOut += uint64(len(msg))
	pr.lastUsed = time.Now()
	return msg, valid, nil
}

// reconfigure swaps in a packetizer for cfg. It reports whether a new
// packetizer was built; identical settings keep the current one.
func (pr *Profile) reconfigure(cfg config.ProfileConfig) (bool, error) {
	check, fec0, fec1, err := cfg.Schemes()
	if err != nil {
		return false, fmt.Errorf("%w: %w", packetizer.ErrInvalidConfig, err)
	}

	pr.mu.Lock()
	defer pr.mu.Unlock()

	q, err := packetizer.Recreate(pr.p, cfg.MessageLength, check, fec0, fec1)
	if err != nil {
		return false, err
	}

	rebuilt := q != pr.p
	pr.p = q
	cfg.Name = pr.name
	pr.config = cfg
	if rebuilt {
		pr.reconfigured++
	}
	return rebuilt, nil
}

// Describe returns the pipeline layout
func (pr *Profile) Describe() packetizer.Description {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.p.Describe()
}

// Info returns configuration and layout together
func (pr *Profile) Info() Info {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return Info{Config: pr.config, Description: pr.p.Describe()}
}

// Stats returns a snapshot of the profile counters
func (pr *Profile) Stats() Stats {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	return Stats{
		Name:          pr.name,
		Encoded:       pr.encoded,
		Decoded:       pr.decoded,
		Invalid:       pr.invalid,
		Reconfigured:  pr.reconfigured,
		BytesIn:       pr.bytesIn,
		BytesOut:      pr.bytesOut,
		Created:       pr.created,
		LastUsed:      pr.lastUsed,
		MessageLength: pr.p.MessageLength(),
		PacketLength:  pr.p.PacketLength(),
	}
}

// String returns the pipeline table prefixed by the profile name
func (pr *Profile) String() string {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return fmt.Sprintf("profile %s\n%s", pr.name, pr.p.String())
}

func (pr *Profile) close() {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	_ = pr.p.Close()
}
