package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs each poller on a fixed interval. SkipIfStillRunning
// guarantees cycles for one source never overlap, which the sweep's
// present-set comparison depends on; the two sources stay independent so
// a stalled feed cannot block the other.
type Scheduler struct {
	cron *cron.Cron
}

// StartScheduler schedules every poller at the given interval and starts
// the clock. Each job gets the parent context so shutdown cancels
// in-flight cycles.
func StartScheduler(ctx context.Context, logger *slog.Logger, interval time.Duration, pollers ...*Poller) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
		cron.Recover(cron.DiscardLogger),
	))

	spec := fmt.Sprintf("@every %s", interval)
	for _, p := range pollers {
		p := p
		if _, err := c.AddFunc(spec, func() { p.RunCycle(ctx) }); err != nil {
			return nil, fmt.Errorf("schedule %s poller: %w", p.Kind(), err)
		}
		logger.Info("poller scheduled", slog.String("feed", string(p.Kind())), slog.Duration("interval", interval))
	}

	c.Start()
	return &Scheduler{cron: c}, nil
}

// Running reports whether the scheduler has jobs registered.
func (s *Scheduler) Running() bool {
	return s != nil && s.cron != nil && len(s.cron.Entries()) > 0
}

// Stop halts scheduling and waits for running cycles to finish.
func (s *Scheduler) Stop() {
	if s == nil || s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
