package node

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dbehnke/packet-nexus/pkg/config"
	"github.com/dbehnke/packet-nexus/pkg/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Profiles: []config.ProfileConfig{
			{Name: "default", MessageLength: 16, CRC: "crc32", FEC0: "hamming74", FEC1: "v27"},
		},
	}
	cfg.Link.Enabled = true
	cfg.Link.Host = "127.0.0.1"
	cfg.Link.Profile = "default"
	cfg.Archive.Enabled = true
	cfg.Archive.Path = t.TempDir()
	cfg.Archive.Retention = time.Hour
	cfg.Archive.PruneSchedule = "0 * * * *"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"
	return cfg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNodeArchivesReceivedFrames(t *testing.T) {
	n, err := New(testConfig(t), logger.Nop(), "test", "now")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Start(ctx) }()

	waitFor(t, func() bool { return n.Link().GetListenAddress().Port != 0 })

	pkt, err := n.Manager().Encode("default", []byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	conn, err := net.DialUDP("udp", nil, n.Link().GetListenAddress())
	if err != nil {
		t.Fatalf("DialUDP failed: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write(pkt); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	waitFor(t, func() bool {
		count, err := n.Archive().Count()
		return err == nil && count == 1
	})

	records, err := n.Archive().List(1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if !records[0].Valid || string(records[0].Payload) != "0123456789abcdef" {
		t.Errorf("Unexpected archived record: %+v", records[0])
	}

	stats := n.GetStats()
	if stats.PacketsReceived != 1 || stats.Profiles.TotalDecoded != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("node did not stop")
	}
	if n.IsRunning() {
		t.Error("node should not be running after shutdown")
	}
}

func TestNodeRejectsBadProfiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Profiles[0].FEC0 = "turbo"
	if _, err := New(cfg, logger.Nop(), "test", "now"); err == nil {
		t.Error("Expected error for unknown scheme")
	}
}

func TestNodeRejectsBadSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.PruneSchedule = "whenever"
	if _, err := New(cfg, logger.Nop(), "test", "now"); err == nil {
		t.Error("Expected error for invalid prune schedule")
	}
}

func TestNodeWithoutOptionalServices(t *testing.T) {
	cfg := &config.Config{Profiles: []config.ProfileConfig{config.DefaultProfile()}}
	n, err := New(cfg, nil, "test", "now")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if n.Link() != nil || n.Archive() != nil || n.Metrics() != nil {
		t.Error("disabled services should be nil")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := n.Start(ctx); err != nil {
		t.Errorf("Start returned %v", err)
	}
}
