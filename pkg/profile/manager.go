// Package profile keeps named packetizers and serializes access to each of
// them. Encode, decode and reconfiguration outcomes are published as events
// and reported to an optional Observer.
package profile

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dbehnke/packet-nexus/pkg/config"
	"github.com/dbehnke/packet-nexus/pkg/logger"
)

// ErrNotFound is returned for unknown profile names
var ErrNotFound = errors.New("profile not found")

// Event represents a profile event
type Event struct {
	Type      string        `json:"type"`
	Profile   string        `json:"profile"`
	Size      int           `json:"size,omitempty"`
	Valid     bool          `json:"valid"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Event types
const (
	EventAdd         = "add"
	EventRemove      = "remove"
	EventEncode      = "encode"
	EventDecode      = "decode"
	EventInvalid     = "invalid"
	EventReconfigure = "reconfigure"
)

// Observer receives per-operation measurements
type Observer interface {
	ObserveEncode(profile string, messageLength, packetLength int, d time.Duration)
	ObserveDecode(profile string, packetLength int, valid bool, d time.Duration)
	ObserveReconfigure(profile string, rebuilt bool)
}

// Manager manages the named packetizer profiles
type Manager struct {
	profiles sync.Map
	events   chan<- Event
	observer Observer
	logger   *logger.Logger
	mu       sync.RWMutex
	metrics  ManagerMetrics
}

// ManagerMetrics holds manager statistics
type ManagerMetrics struct {
	TotalEncoded  uint64
	TotalDecoded  uint64
	TotalInvalid  uint64
	TotalErrors   uint64
	TotalRebuilds uint64
	DroppedEvents uint64
}

// ManagerStats represents manager statistics
type ManagerStats struct {
	ActiveProfiles int     `json:"active_profiles"`
	TotalEncoded   uint64  `json:"total_encoded"`
	TotalDecoded   uint64  `json:"total_decoded"`
	TotalInvalid   uint64  `json:"total_invalid"`
	TotalErrors    uint64  `json:"total_errors"`
	TotalRebuilds  uint64  `json:"total_rebuilds"`
	DroppedEvents  uint64  `json:"dropped_events"`
	Profiles       []Stats `json:"profiles"`
}

// NewManager creates a new profile manager. eventChan may be nil.
func NewManager(log *logger.Logger, eventChan chan<- Event) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		events: eventChan,
		logger: log.WithComponent("profile"),
	}
}

// SetObserver installs the measurement hook
func (m *Manager) SetObserver(o Observer) {
	m.mu.Lock()
	m.observer = o
	m.mu.Unlock()
}

func (m *Manager) getObserver() Observer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.observer
}

// Load adds every configured profile
func (m *Manager) Load(profiles []config.ProfileConfig) error {
	for _, cfg := range profiles {
		if _, err := m.Add(cfg); err != nil {
			return fmt.Errorf("profile %q: %w", cfg.Name, err)
		}
	}
	return nil
}

// Add creates a profile. Adding a name that already exists is an error.
func (m *Manager) Add(cfg config.ProfileConfig) (*Profile, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("profile name cannot be empty")
	}

	pr, err := newProfile(cfg)
	if err != nil {
		return nil, err
	}

	if _, loaded := m.profiles.LoadOrStore(cfg.Name, pr); loaded {
		pr.close()
		return nil, fmt.Errorf("profile %q already exists", cfg.Name)
	}

	m.logger.Info("Profile added",
		logger.String("profile", cfg.Name),
		logger.Int("message_length", pr.MessageLength()),
		logger.Int("packet_length", pr.PacketLength()),
		logger.String("crc", cfg.CRC),
		logger.String("fec0", cfg.FEC0),
		logger.String("fec1", cfg.FEC1))
	m.sendEvent(Event{Type: EventAdd, Profile: cfg.Name, Size: pr.PacketLength()})

	return pr, nil
}

// Get retrieves a profile by name
func (m *Manager) Get(name string) (*Profile, error) {
	if v, ok := m.profiles.Load(name); ok {
		return v.(*Profile), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Remove closes and removes a profile
func (m *Manager) Remove(name string) bool {
	v, ok := m.profiles.LoadAndDelete(name)
	if !ok {
		return false
	}
	v.(*Profile).close()

	m.logger.Info("Profile removed", logger.String("profile", name))
	m.sendEvent(Event{Type: EventRemove, Profile: name})
	return true
}

// Count returns the number of profiles
func (m *Manager) Count() int {
	count := 0
	m.profiles.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

// Names returns the profile names in sorted order
func (m *Manager) Names() []string {
	var names []string
	m.profiles.Range(func(key, value interface{}) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// Encode encodes msg with the named profile
func (m *Manager) Encode(name string, msg []byte) ([]byte, error) {
	pr, err := m.Get(name)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	pkt, err := pr.Encode(msg)
	elapsed := time.Since(start)
	if err != nil {
		m.countError()
		m.logger.Debug("Encode rejected", logger.String("profile", name), logger.Error(err))
		return nil, err
	}

	m.mu.Lock()
	m.metrics.TotalEncoded++
	m.mu.Unlock()

	if o := m.getObserver(); o != nil {
		o.ObserveEncode(name, len(msg), len(pkt), elapsed)
	}
	m.sendEvent(Event{Type: EventEncode, Profile: name, Size: len(pkt), Valid: true, Duration: elapsed})

	return pkt, nil
}

// Decode decodes pkt with the named profile. An integrity failure is not an
// error: it is reported through the valid flag and an invalid event.
func (m *Manager) Decode(name string, pkt []byte) ([]byte, bool, error) {
	pr, err := m.Get(name)
	if err != nil {
		return nil, false, err
	}

	start := time.Now()
	msg, valid, err := pr.Decode(pkt)
	elapsed := time.Since(start)
	if err != nil {
		m.countError()
		m.logger.Debug("Decode rejected", logger.String("profile", name), logger.Error(err))
		return nil, false, err
	}

	m.mu.Lock()
	m.metrics.TotalDecoded++
	if !valid {
		m.metrics.TotalInvalid++
	}
	m.mu.Unlock()

	if o := m.getObserver(); o != nil {
		o.ObserveDecode(name, len(pkt), valid, elapsed)
	}

	eventType := EventDecode
	if !valid {
		eventType = EventInvalid
	}
	m.sendEvent(Event{Type: eventType, Profile: name, Size: len(pkt), Valid: valid, Duration: elapsed})

	return msg, valid, nil
}

// Reconfigure applies cfg to the profile of the same name, creating it when
// it does not exist. It reports whether a new packetizer was built.
func (m *Manager) Reconfigure(cfg config.ProfileConfig) (bool, error) {
	pr, err := m.Get(cfg.Name)
	if errors.Is(err, ErrNotFound) {
		if _, err := m.Add(cfg); err != nil {
			return false, err
		}
		return true, nil
	}

	rebuilt, err := pr.reconfigure(cfg)
	if err != nil {
		m.logger.Warn("Reconfigure failed, keeping previous settings",
			logger.String("profile", cfg.Name), logger.Error(err))
		return false, err
	}

	if rebuilt {
		m.mu.Lock()
		m.metrics.TotalRebuilds++
		m.mu.Unlock()
		m.logger.Info("Profile reconfigured",
			logger.String("profile", cfg.Name),
			logger.Int("packet_length", pr.PacketLength()))
	}

	if o := m.getObserver(); o != nil {
		o.ObserveReconfigure(cfg.Name, rebuilt)
	}
	m.sendEvent(Event{Type: EventReconfigure, Profile: cfg.Name, Size: pr.PacketLength(), Valid: rebuilt})

	return rebuilt, nil
}

// Info returns configuration and layout of the named profile
func (m *Manager) Info(name string) (Info, error) {
	pr, err := m.Get(name)
	if err != nil {
		return Info{}, err
	}
	return pr.Info(), nil
}

// List returns every profile's info sorted by name
func (m *Manager) List() []Info {
	names := m.Names()
	out := make([]Info, 0, len(names))
	for _, name := range names {
		if pr, err := m.Get(name); err == nil {
			out = append(out, pr.Info())
		}
	}
	return out
}

// GetStats returns current manager statistics
func (m *Manager) GetStats() ManagerStats {
	var profileStats []Stats
	for _, name := range m.Names() {
		if pr, err := m.Get(name); err == nil {
			profileStats = append(profileStats, pr.Stats())
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return ManagerStats{
		ActiveProfiles: len(profileStats),
		TotalEncoded:   m.metrics.TotalEncoded,
		TotalDecoded:   m.metrics.TotalDecoded,
		TotalInvalid:   m.metrics.TotalInvalid,
		TotalErrors:    m.metrics.TotalErrors,
		TotalRebuilds:  m.metrics.TotalRebuilds,
		DroppedEvents:  m.metrics.DroppedEvents,
		Profiles:       profileStats,
	}
}

// DumpProfiles logs every profile's pipeline
func (m *Manager) DumpProfiles() {
	names := m.Names()
	m.logger.Info("=== Profile Dump ===", logger.Int("count", len(names)))
	for _, name := range names {
		if pr, err := m.Get(name); err == nil {
			m.logger.Info(pr.String())
		}
	}
	m.logger.Info("=== End Dump ===")
}

// Close closes every profile
func (m *Manager) Close() {
	m.profiles.Range(func(key, value interface{}) bool {
		value.(*Profile).close()
		m.profiles.Delete(key)
		return true
	})
}

func (m *Manager) countError() {
	m.mu.Lock()
	m.metrics.TotalErrors++
	m.mu.Unlock()
}

// sendEvent sends an event to the event channel
func (m *Manager) sendEvent(event Event) {
	if m.events == nil {
		return
	}

	event.Timestamp = time.Now()

	select {
	case m.events <- event:
	default:
		// Don't block if event channel is full
		m.mu.Lock()
		m.metrics.DroppedEvents++
		m.mu.Unlock()
		m.logger.Debug("Event channel full, dropping event",
			logger.String("type", event.Type), logger.String("profile", event.Profile))
	}
}
