package network

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dbehnke/packet-nexus/pkg/config"
	"github.com/dbehnke/packet-nexus/pkg/logger"
	"github.com/dbehnke/packet-nexus/pkg/profile"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type countingRecorder struct {
	mu    sync.Mutex
	rx    int
	tx    int
	drops map[string]int
}

func (r *countingRecorder) RecordLinkRx(int) {
	r.mu.Lock()
	r.rx++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordLinkTx(int) {
	r.mu.Lock()
	r.tx++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordLinkDrop(reason string) {
	r.mu.Lock()
	if r.drops == nil {
		r.drops = make(map[string]int)
	}
	r.drops[reason]++
	r.mu.Unlock()
}

func newTestManager(t *testing.T) *profile.Manager {
	t.Helper()
	m := profile.NewManager(logger.Nop(), nil)
	cfg := config.ProfileConfig{Name: "link", MessageLength: 16, CRC: "crc32", FEC0: "hamming74", FEC1: "none"}
	if _, err := m.Add(cfg); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

// startServer starts s on an ephemeral loopback port and waits until it is bound
func startServer(t *testing.T, s *Server) (context.CancelFunc, *net.UDPAddr) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.isRunning() {
			return cancel, s.GetListenAddress()
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	t.Fatal("server did not start")
	return nil, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestServerDecodesFrames(t *testing.T) {
	m := newTestManager(t)
	s := NewServerWithLogger("127.0.0.1", 0, "link", m, logger.Nop())

	frames := make(chan *Frame, 1)
	s.OnFrame(func(f *Frame) error {
		frames <- f
		return nil
	})

	cancel, addr := startServer(t, s)
	defer cancel()

	msg := []byte("sixteen byte msg")
	pkt, err := m.Encode("link", msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatalf("DialUDP failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(pkt); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	select {
	case f := <-frames:
		if !f.Valid {
			t.Error("Expected valid frame")
		}
		if !bytes.Equal(f.Payload, msg) {
			t.Errorf("Expected payload %q, got %q", msg, f.Payload)
		}
		if f.Profile != "link" {
			t.Errorf("Expected profile 'link', got %q", f.Profile)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}

	metrics := s.GetMetrics()
	if metrics.PacketsReceived != 1 {
		t.Errorf("Expected 1 packet received, got %d", metrics.PacketsReceived)
	}
	if metrics.BytesReceived != int64(len(pkt)) {
		t.Errorf("Expected %d bytes received, got %d", len(pkt), metrics.BytesReceived)
	}
}

func TestServerReportsInvalidFrames(t *testing.T) {
	m := newTestManager(t)
	buf := &syncBuffer{}
	s := NewServerWithLogger("127.0.0.1", 0, "link", m, logger.NewTestLogger(buf))

	frames := make(chan *Frame, 1)
	s.OnFrame(func(f *Frame) error {
		frames <- f
		return nil
	})

	cancel, addr := startServer(t, s)
	defer cancel()

	pkt, err := m.Encode("link", bytes.Repeat([]byte{0x5A}, 16))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	// complementing a 7-bit codeword yields another codeword
	pkt[0] ^= 0x7F

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatalf("DialUDP failed: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write(pkt); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	select {
	case f := <-frames:
		if f.Valid {
			t.Error("Expected invalid frame")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}

	if got := s.GetMetrics().PacketsInvalid; got != 1 {
		t.Errorf("Expected 1 invalid packet, got %d", got)
	}
	waitFor(t, func() bool { return strings.Contains(buf.String(), "integrity check failed") })
}

func TestServerDropsWrongLength(t *testing.T) {
	m := newTestManager(t)
	s := NewServerWithLogger("127.0.0.1", 0, "link", m, logger.Nop())
	rec := &countingRecorder{}
	s.SetRecorder(rec)

	called := false
	var mu sync.Mutex
	s.OnFrame(func(*Frame) error {
		mu.Lock()
		called = true
		mu.Unlock()
		return nil
	})

	cancel, addr := startServer(t, s)
	defer cancel()

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatalf("DialUDP failed: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	waitFor(t, func() bool { return s.GetMetrics().PacketsDropped == 1 })

	rec.mu.Lock()
	if rec.drops[DropLength] != 1 {
		t.Errorf("Expected one length drop, got %v", rec.drops)
	}
	if rec.rx != 1 {
		t.Errorf("Expected one rx record, got %d", rec.rx)
	}
	rec.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	if called {
		t.Error("handler should not run for dropped datagrams")
	}
}

func TestServerTransmit(t *testing.T) {
	m := newTestManager(t)
	s := NewServerWithLogger("127.0.0.1", 0, "link", m, logger.Nop())
	rec := &countingRecorder{}
	s.SetRecorder(rec)

	if _, err := s.Transmit(make([]byte, 16), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}); err == nil {
		t.Error("Expected error when server not running")
	}

	cancel, _ := startServer(t, s)
	defer cancel()

	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP failed: %v", err)
	}
	defer peer.Close()

	msg := []byte("abcdefghijklmnop")
	sent, err := s.Transmit(msg, peer.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("Transmit failed: %v", err)
	}

	buf := make([]byte, 256)
	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP failed: %v", err)
	}
	if !bytes.Equal(buf[:n], sent) {
		t.Error("peer received a different packet than was sent")
	}

	got, valid, err := m.Decode("link", buf[:n])
	if err != nil || !valid || !bytes.Equal(got, msg) {
		t.Errorf("Expected valid round trip, got %q valid=%v err=%v", got, valid, err)
	}

	if s.GetMetrics().PacketsSent != 1 {
		t.Errorf("Expected 1 packet sent, got %d", s.GetMetrics().PacketsSent)
	}
	if _, err := s.Transmit([]byte("short"), peer.LocalAddr().(*net.UDPAddr)); err == nil {
		t.Error("Expected encode error for wrong message length")
	}
}

func TestServerDebugHexdump(t *testing.T) {
	m := newTestManager(t)
	buf := &syncBuffer{}
	s := NewServerWithLogger("127.0.0.1", 0, "link", m, logger.NewTestLogger(buf))
	s.SetDebug(true)

	cancel, addr := startServer(t, s)
	defer cancel()

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatalf("DialUDP failed: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("HELLO")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	waitFor(t, func() bool { return strings.Contains(buf.String(), "RX hexdump") })
	if !strings.Contains(buf.String(), "48 45 4c 4c 4f") {
		t.Errorf("Expected hex bytes in debug output, got: %s", buf.String())
	}
}

func TestHexdumpSideBySide(t *testing.T) {
	data := []byte("ABCDEFGHIJKLMNOPQ\x00")
	out := hexdumpSideBySide(data)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d: %q", len(lines), out)
	}
	if !strings.HasSuffix(lines[0], "| ABCDEFGHIJKLMNOP") {
		t.Errorf("Unexpected first line: %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "| Q.") {
		t.Errorf("Unexpected second line: %q", lines[1])
	}
}

func TestGetListenAddressBeforeStart(t *testing.T) {
	s := NewServer("127.0.0.1", 47001, "link", nil)
	addr := s.GetListenAddress()
	if addr == nil || addr.Port != 47001 {
		t.Errorf("Expected port 47001, got %v", addr)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop on idle server returned %v", err)
	}
}
