// Package node wires the profile manager, the UDP link, the web API, the
// packet archive and metrics into one running service.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dbehnke/packet-nexus/pkg/archive"
	"github.com/dbehnke/packet-nexus/pkg/config"
	"github.com/dbehnke/packet-nexus/pkg/logger"
	"github.com/dbehnke/packet-nexus/pkg/metrics"
	"github.com/dbehnke/packet-nexus/pkg/network"
	"github.com/dbehnke/packet-nexus/pkg/profile"
	"github.com/dbehnke/packet-nexus/pkg/web"
)

const eventBuffer = 1000

// Node is the packet-nexus service
type Node struct {
	config    *config.Config
	logger    *logger.Logger
	manager   *profile.Manager
	link      *network.Server
	webServer *web.Server
	archive   *archive.Archive
	pruner    *archive.Pruner
	metrics   *metrics.Metrics
	eventChan chan profile.Event
	webEvents chan profile.Event
	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// Stats represents node statistics
type Stats struct {
	Uptime          time.Duration        `json:"uptime"`
	PacketsReceived int64                `json:"packets_received"`
	PacketsSent     int64                `json:"packets_sent"`
	PacketsInvalid  int64                `json:"packets_invalid"`
	PacketsDropped  int64                `json:"packets_dropped"`
	Profiles        profile.ManagerStats `json:"profiles"`
}

// New builds a node from cfg. Profiles are loaded and the archive is opened
// here, so configuration errors surface before Start.
func New(cfg *config.Config, log *logger.Logger, version, buildTime string) (*Node, error) {
	if log == nil {
		log = logger.Nop()
	}

	n := &Node{
		config:    cfg,
		logger:    log.WithComponent("node"),
		eventChan: make(chan profile.Event, eventBuffer),
		webEvents: make(chan profile.Event, eventBuffer),
		startTime: time.Now(),
	}

	n.manager = profile.NewManager(log, n.eventChan)

	if cfg.Metrics.Enabled {
		n.metrics = metrics.NewMetrics()
		n.manager.SetObserver(n.metrics)
	}

	if err := n.manager.Load(cfg.Profiles); err != nil {
		n.manager.Close()
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	if cfg.Archive.Enabled {
		a, err := archive.Open(cfg.Archive.Path, log)
		if err != nil {
			n.manager.Close()
			return nil, err
		}
		n.archive = a

		var onPrune func(int)
		if n.metrics != nil {
			onPrune = n.metrics.RecordArchivePrune
		}
		p, err := archive.NewPruner(a, cfg.Archive.PruneSchedule, cfg.Archive.Retention, log, onPrune)
		if err != nil {
			n.close()
			return nil, err
		}
		n.pruner = p
	}

	if cfg.Link.Enabled {
		n.link = network.NewServerWithLogger(cfg.Link.Host, cfg.Link.Port, cfg.Link.Profile, n.manager, log)
		n.link.SetDebug(cfg.Link.Debug || cfg.Logging.Level == "debug")
		if n.metrics != nil {
			n.link.SetRecorder(n.metrics)
		}
		if n.archive != nil {
			n.link.OnFrame(n.archiveFrame)
		}
	}

	n.webServer = web.NewServer(cfg, log, n.manager, n.webEvents, version, buildTime)
	if n.link != nil {
		n.webServer.SetLink(n.link)
	}
	if n.archive != nil {
		n.webServer.SetArchive(n.archive)
	}
	if n.metrics != nil {
		n.webServer.SetMetrics(n.metrics)
	}

	return n, nil
}

// Start runs every enabled service and blocks until ctx is cancelled or one
// of them fails. Resources are released before it returns.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return fmt.Errorf("node already running")
	}
	n.running = true
	n.mu.Unlock()

	n.logger.Info("Starting packet-nexus node",
		logger.Int("profiles", n.manager.Count()),
		logger.Bool("link", n.link != nil),
		logger.Bool("web", n.config.Web.Enabled),
		logger.Bool("archive", n.archive != nil),
		logger.Bool("metrics", n.metrics != nil))
	n.manager.DumpProfiles()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n.fanOutEvents(gctx)
		return nil
	})

	g.Go(func() error {
		n.logStats(gctx)
		return nil
	})

	g.Go(func() error {
		if err := n.webServer.Start(gctx); err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	})

	if n.link != nil {
		g.Go(func() error {
			if err := n.link.Start(gctx); err != nil {
				return fmt.Errorf("link: %w", err)
			}
			return nil
		})
	}

	if n.pruner != nil {
		g.Go(func() error {
			return n.pruner.Run(gctx)
		})
	}

	err := g.Wait()
	if err != nil {
		n.logger.Error("Node stopped with error", logger.Error(err))
	}

	n.close()

	n.mu.Lock()
	n.running = false
	n.mu.Unlock()

	n.logger.Info("packet-nexus node stopped")
	return err
}

// fanOutEvents forwards manager events to the web feed without blocking
func (n *Node) fanOutEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-n.eventChan:
			if event.Type == profile.EventInvalid {
				n.logger.Debug("Invalid packet",
					logger.String("profile", event.Profile),
					logger.Int("size", event.Size))
			}
			select {
			case n.webEvents <- event:
			default:
			}
		}
	}
}

// archiveFrame stores every frame received on the link
func (n *Node) archiveFrame(f *network.Frame) error {
	peer := ""
	if f.Source != nil {
		peer = f.Source.String()
	}
	_, err := n.archive.Put(archive.Record{
		Time:      f.Timestamp,
		Direction: archive.DirectionRx,
		Profile:   f.Profile,
		Peer:      peer,
		Payload:   f.Payload,
		Packet:    f.Packet,
		Valid:     f.Valid,
	})
	if n.metrics != nil {
		n.metrics.RecordArchiveWrite(err == nil)
	}
	if err != nil {
		return fmt.Errorf("archive frame: %w", err)
	}
	return nil
}

func (n *Node) close() {
	n.manager.Close()
	if n.archive != nil {
		if err := n.archive.Close(); err != nil {
			n.logger.Warn("Archive close failed", logger.Error(err))
		}
	}
}

// IsRunning returns whether the node is running
func (n *Node) IsRunning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.running
}

// Manager returns the profile manager
func (n *Node) Manager() *profile.Manager { return n.manager }

// Link returns the UDP link, or nil when disabled
func (n *Node) Link() *network.Server { return n.link }

// Archive returns the packet archive, or nil when disabled
func (n *Node) Archive() *archive.Archive { return n.archive }

// Metrics returns the metrics registry, or nil when disabled
func (n *Node) Metrics() *metrics.Metrics { return n.metrics }

// GetStats returns current node statistics
func (n *Node) GetStats() *Stats {
	stats := &Stats{
		Uptime:   time.Since(n.startTime),
		Profiles: n.manager.GetStats(),
	}
	if n.link != nil {
		lm := n.link.GetMetrics()
		stats.PacketsReceived = lm.PacketsReceived
		stats.PacketsSent = lm.PacketsSent
		stats.PacketsInvalid = lm.PacketsInvalid
		stats.PacketsDropped = lm.PacketsDropped
	}
	return stats
}

// logStats periodically logs statistics
func (n *Node) logStats(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := n.GetStats()
			n.logger.Info("Node statistics",
				logger.Duration("uptime", stats.Uptime),
				logger.Int64("packets_received", stats.PacketsReceived),
				logger.Int64("packets_sent", stats.PacketsSent),
				logger.Int64("packets_invalid", stats.PacketsInvalid),
				logger.Int64("packets_dropped", stats.PacketsDropped),
				logger.Uint64("total_encoded", stats.Profiles.TotalEncoded),
				logger.Uint64("total_decoded", stats.Profiles.TotalDecoded))

			if n.config.Logging.Level == "debug" {
				n.manager.DumpProfiles()
			}
		}
	}
}
