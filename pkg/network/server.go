package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/dbehnke/packet-nexus/pkg/logger"
	"github.com/dbehnke/packet-nexus/pkg/packetizer"
)

// Codec encodes and decodes through a named profile
type Codec interface {
	Encode(profile string, msg []byte) ([]byte, error)
	Decode(profile string, pkt []byte) ([]byte, bool, error)
}

// Recorder receives link measurements
type Recorder interface {
	RecordLinkRx(size int)
	RecordLinkTx(size int)
	RecordLinkDrop(reason string)
}

// FrameHandler handles decoded frames
type FrameHandler func(*Frame) error

// Server is the UDP link. Every datagram is one packet of the link profile.
type Server struct {
	host     string
	port     int
	profile  string
	codec    Codec
	conn     *net.UDPConn
	handlers []FrameHandler
	recorder Recorder
	metrics  *Metrics
	debug    bool
	mu       sync.RWMutex
	running  bool
	logger   *logger.Logger
}

// Metrics holds server metrics
type Metrics struct {
	PacketsReceived int64
	PacketsSent     int64
	PacketsInvalid  int64
	PacketsDropped  int64
	BytesReceived   int64
	BytesSent       int64
	Uptime          time.Time
	mu              sync.RWMutex
}

// NewServer creates a new UDP link with a default logger
func NewServer(host string, port int, profile string, codec Codec) *Server {
	return NewServerWithLogger(host, port, profile, codec, logger.Default())
}

// NewServerWithLogger creates a new UDP link and attaches the provided logger
func NewServerWithLogger(host string, port int, profile string, codec Codec, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		host:    host,
		port:    port,
		profile: profile,
		codec:   codec,
		metrics: &Metrics{Uptime: time.Now()},
		logger:  log.WithComponent("network").WithProfile(profile),
	}
}

// OnFrame registers a handler for decoded frames
func (s *Server) OnFrame(handler FrameHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// SetRecorder installs the measurement hook
func (s *Server) SetRecorder(r Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = r
}

// SetDebug enables or disables debug logging
func (s *Server) SetDebug(debug bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debug = debug
}

// Profile returns the profile used on the link
func (s *Server) Profile() string { return s.profile }

// Start starts the UDP link and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.host, s.port))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to start UDP server: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Link listening", logger.String("address", conn.LocalAddr().String()))

	go s.processPackets(ctx)

	<-ctx.Done()

	return s.Stop()
}

// Stop stops the UDP link
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false

	if s.conn != nil {
		return s.conn.Close()
	}

	return nil
}

// processPackets processes incoming UDP packets
func (s *Server) processPackets(ctx context.Context) {
	buffer := make([]byte, MaxDatagramSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			// Set read timeout to allow periodic context checking
			if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
				if s.isRunning() {
					s.logger.Warn("SetReadDeadline failed", logger.Error(err))
				}
			}

			n, addr, err := s.conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue // Timeout is expected, continue
				}
				if !s.isRunning() {
					return
				}
				s.logger.Error("Error reading UDP packet", logger.Error(err))
				continue
			}

			data := make([]byte, n)
			copy(data, buffer[:n])

			// Process packet in goroutine to avoid blocking
			go s.handlePacket(data, addr)
		}
	}
}

// handlePacket decodes a single datagram and dispatches the frame
func (s *Server) handlePacket(data []byte, addr *net.UDPAddr) {
	s.updateMetrics(len(data), true)
	if r := s.getRecorder(); r != nil {
		r.RecordLinkRx(len(data))
	}

	debug := s.isDebug()
	if debug {
		s.logger.Debug("RX hexdump",
			logger.String("from", addr.String()),
			logger.Int("size", len(data)),
			logger.String("hexdump", hexdumpSideBySide(data)))
	}

	payload, valid, err := s.codec.Decode(s.profile, data)
	if err != nil {
		reason := DropDecode
		if errors.Is(err, packetizer.ErrLength) {
			reason = DropLength
		}
		s.drop(reason)
		s.logger.Warn("Dropping datagram",
			logger.String("from", addr.String()),
			logger.Int("size", len(data)),
			logger.String("reason", reason),
			logger.Error(err))
		return
	}

	frame := &Frame{
		Profile:   s.profile,
		Packet:    data,
		Payload:   payload,
		Valid:     valid,
		Source:    addr,
		Timestamp: time.Now(),
	}

	if valid {
		s.logger.Info("RX",
			logger.String("from", addr.String()),
			logger.Int("size", len(data)),
			logger.Int("payload", len(payload)))
	} else {
		s.metrics.mu.Lock()
		s.metrics.PacketsInvalid++
		s.metrics.mu.Unlock()
		s.logger.Warn("RX integrity check failed",
			logger.String("from", addr.String()),
			logger.Int("size", len(data)))
	}

	if debug {
		s.logger.Debug("Decoded frame", logger.String("frame", frame.String()))
	}

	s.mu.RLock()
	handlers := append([]FrameHandler(nil), s.handlers...)
	s.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(frame); err != nil {
			s.logger.Error("Frame handler error", logger.Error(err))
		}
	}
}

// Transmit encodes payload with the link profile and sends it to addr. It
// returns the packet that was sent.
func (s *Server) Transmit(payload []byte, addr *net.UDPAddr) ([]byte, error) {
	pkt, err := s.codec.Encode(s.profile, payload)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if err := s.SendPacket(pkt, addr); err != nil {
		return nil, err
	}
	return pkt, nil
}

// SendPacket sends an already encoded packet to the specified address
func (s *Server) SendPacket(data []byte, addr *net.UDPAddr) error {
	s.mu.RLock()
	conn, running := s.conn, s.running
	s.mu.RUnlock()
	if !running {
		return fmt.Errorf("server not running")
	}

	n, err := conn.WriteToUDP(data, addr)
	if err != nil {
		return fmt.Errorf("failed to send packet: %w", err)
	}

	s.updateMetrics(n, false)
	if r := s.getRecorder(); r != nil {
		r.RecordLinkTx(n)
	}

	if s.isDebug() {
		s.logger.Debug("TX hexdump",
			logger.String("to", addr.String()),
			logger.Int("size", n),
			logger.String("hexdump", hexdumpSideBySide(data)))
	} else {
		s.logger.Info("TX",
			logger.String("to", addr.String()),
			logger.Int("size", n))
	}

	return nil
}

// GetMetrics returns current server metrics
func (s *Server) GetMetrics() *Metrics {
	s.metrics.mu.RLock()
	defer s.metrics.mu.RUnlock()

	return &Metrics{
		PacketsReceived: s.metrics.PacketsReceived,
		PacketsSent:     s.metrics.PacketsSent,
		PacketsInvalid:  s.metrics.PacketsInvalid,
		PacketsDropped:  s.metrics.PacketsDropped,
		BytesReceived:   s.metrics.BytesReceived,
		BytesSent:       s.metrics.BytesSent,
		Uptime:          s.metrics.Uptime,
	}
}

// isRunning checks if the server is running (thread-safe)
func (s *Server) isRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) isDebug() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.debug
}

func (s *Server) getRecorder() Recorder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recorder
}

func (s *Server) drop(reason string) {
	s.metrics.mu.Lock()
	s.metrics.PacketsDropped++
	s.metrics.mu.Unlock()
	if r := s.getRecorder(); r != nil {
		r.RecordLinkDrop(reason)
	}
}

// updateMetrics updates server metrics
func (s *Server) updateMetrics(size int, received bool) {
	s.metrics.mu.Lock()
	defer s.metrics.mu.Unlock()

	if received {
		s.metrics.PacketsReceived++
		s.metrics.BytesReceived += int64(size)
	} else {
		s.metrics.PacketsSent++
		s.metrics.BytesSent += int64(size)
	}
}

// hexdumpSideBySide returns a simple side-by-side hex + ASCII dump of data
func hexdumpSideBySide(b []byte) string {
	var sb strings.Builder
	const cols = 16
	for i := 0; i < len(b); i += cols {
		end := min(i+cols, len(b))
		chunk := b[i:end]

		// hex
		for j := 0; j < cols; j++ {
			if i+j < len(b) {
				sb.WriteString(fmt.Sprintf("%02x ", b[i+j]))
			} else {
				sb.WriteString("   ")
			}
		}

		sb.WriteString(" | ")

		// ascii
		for _, c := range chunk {
			if c >= 32 && c <= 126 {
				sb.WriteByte(c)
			} else {
				sb.WriteByte('.')
			}
		}

		sb.WriteString("\n")
	}
	return sb.String()
}

// GetListenAddress returns the UDP address the server is listening on
func (s *Server) GetListenAddress() *net.UDPAddr {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		// If not started yet, construct address from host and port
		addr, _ := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.host, s.port))
		return addr
	}

	return s.conn.LocalAddr().(*net.UDPAddr)
}
