package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dbehnke/packet-nexus/pkg/logger"
)

// Pruner applies the retention policy on a cron schedule
type Pruner struct {
	archive   *Archive
	retention time.Duration
	cron      *cron.Cron
	logger    *logger.Logger
	onPrune   func(removed int)
	now       func() time.Time
}

// NewPruner schedules retention runs. schedule accepts five fields or six
// with leading seconds; onPrune may be nil.
func NewPruner(a *Archive, schedule string, retention time.Duration, log *logger.Logger, onPrune func(int)) (*Pruner, error) {
	if log == nil {
		log = logger.Nop()
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	p := &Pruner{
		archive:   a,
		retention: retention,
		cron:      cron.New(cron.WithParser(parser)),
		logger:    log.WithComponent("archive-pruner"),
		onPrune:   onPrune,
		now:       time.Now,
	}

	if _, err := p.cron.AddFunc(schedule, func() {
		if _, err := p.PruneNow(); err != nil {
			p.logger.Error("Scheduled prune failed", logger.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}

	return p, nil
}

// PruneNow removes records older than the retention period
func (p *Pruner) PruneNow() (int, error) {
	if p.retention <= 0 {
		return 0, nil
	}

	removed, err := p.archive.Prune(p.now().Add(-p.retention))
	if err != nil {
		return 0, err
	}
	if p.onPrune != nil && removed > 0 {
		p.onPrune(removed)
	}
	return removed, nil
}

// Run starts the scheduler and blocks until ctx is cancelled
func (p *Pruner) Run(ctx context.Context) error {
	p.cron.Start()
	p.logger.Info("Archive pruning scheduled", logger.Duration("retention", p.retention))

	<-ctx.Done()

	stopCtx := p.cron.Stop()
	<-stopCtx.Done()
	return nil
}
