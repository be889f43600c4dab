// Package poller runs the per-source poll cycles that feed the lifecycle
// engine.
package poller

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atxtak/cotbridge/internal/engine"
	"github.com/atxtak/cotbridge/internal/feeds"
	"github.com/atxtak/cotbridge/internal/metrics"
	"github.com/atxtak/cotbridge/internal/models"
	"github.com/atxtak/cotbridge/internal/utils"
)

// Fetcher is the source-adapter capability consumed by a poller.
type Fetcher interface {
	Fetch(ctx context.Context, kind models.SourceKind, since time.Time) ([]feeds.RawIncident, time.Time, error)
}

// Poller drives one source kind through fetch, normalize, lifecycle, and
// the missing-incident sweep. A cycle is processed to completion before
// the next one for the same source starts; the scheduler enforces
// non-overlap.
type Poller struct {
	logger     *slog.Logger
	kind       models.SourceKind
	fetcher    Fetcher
	normalizer *feeds.Normalizer
	engine     *engine.Engine
	namespace  string
	lookback   time.Duration
	timeout    time.Duration
	latencies  *utils.LatencyTracker

	mu        sync.Mutex
	health    models.CycleHealth
	watermark time.Time
}

// New constructs a poller for one source kind.
func New(logger *slog.Logger, kind models.SourceKind, fetcher Fetcher, normalizer *feeds.Normalizer, eng *engine.Engine, namespace string, lookback, timeout time.Duration) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if lookback <= 0 {
		lookback = 10 * time.Minute
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Poller{
		logger:     utils.FeedLogger(logger, string(kind)),
		kind:       kind,
		fetcher:    fetcher,
		normalizer: normalizer,
		engine:     eng,
		namespace:  namespace,
		lookback:   lookback,
		timeout:    timeout,
		latencies:  utils.NewLatencyTracker(512),
	}
}

// Kind returns the source kind this poller serves.
func (p *Poller) Kind() models.SourceKind { return p.kind }

// RunCycle executes one poll cycle. The feed republishes live incidents,
// so the fetch window is a sliding lookback rather than a strict cursor:
// absence from the window is the feed's convention for "resolved", which
// the sweep turns into implicit closes. A failed or timed-out fetch aborts
// the cycle with no store mutation and no sweep.
func (p *Poller) RunCycle(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	cycleID := uuid.NewString()[:8]
	start := time.Now()
	now := start.UTC()
	since := now.Add(-p.lookback)

	p.mu.Lock()
	p.health.LastAttemptAt = now
	p.health.LastCycleID = cycleID
	p.mu.Unlock()

	raws, watermark, err := p.fetcher.Fetch(ctx, p.kind, since)
	if err != nil {
		p.failCycle(cycleID, start, err)
		return
	}

	present := make(map[string]struct{}, len(raws))
	processed := 0
	for _, raw := range raws {
		// Any identifiable record counts as present, even one the
		// normalizer goes on to reject: the feed still lists it, and a
		// transiently malformed field must never read as disappearance,
		// same as a failed fetch.
		if id := strings.TrimSpace(raw.TrafficReportID); id != "" {
			present[models.IncidentRecord{SourceID: id, SourceKind: p.kind}.UID(p.namespace)] = struct{}{}
		}

		rec, err := p.normalizer.Normalize(raw, p.kind)
		if err != nil {
			p.engine.RecordRejected(p.kind)
			p.logger.Debug("record rejected", slog.String("cycle", cycleID), slog.Any("error", err))
			continue
		}

		if _, err := p.engine.ProcessRecord(ctx, rec); err != nil {
			// Store failures are fatal for the cycle: deciding on absent
			// lifecycle state would corrupt transitions.
			p.failCycle(cycleID, start, err)
			return
		}
		processed++
	}

	closed, err := p.engine.SweepMissing(ctx, p.kind, present)
	if err != nil {
		p.failCycle(cycleID, start, err)
		return
	}

	duration := time.Since(start)
	p.latencies.Observe(duration)

	p.mu.Lock()
	p.health.LastSuccessAt = time.Now().UTC()
	p.health.LastError = ""
	p.health.ConsecutiveErrs = 0
	p.watermark = watermark
	p.mu.Unlock()

	metrics.ObserveCycle(string(p.kind), duration, metrics.OutcomeSuccess)
	p.logger.Info("cycle complete",
		slog.String("cycle", cycleID),
		slog.Int("fetched", len(raws)),
		slog.Int("processed", processed),
		slog.Int("implicit_closes", closed),
		slog.Duration("took", duration))

	if count := p.latencies.Count(); count >= 20 && count%20 == 0 {
		p.logger.Info("cycle latency", slog.Duration("p95", p.latencies.Percentile(95)), slog.Int("samples", count))
	}
}

func (p *Poller) failCycle(cycleID string, start time.Time, err error) {
	duration := time.Since(start)
	metrics.ObserveCycle(string(p.kind), duration, metrics.OutcomeError)

	p.mu.Lock()
	p.health.LastError = err.Error()
	p.health.ConsecutiveErrs++
	p.mu.Unlock()

	switch utils.KindOf(err) {
	case utils.KindTransientFetch:
		p.logger.Warn("cycle aborted, retrying next interval", slog.String("cycle", cycleID), slog.Any("error", err))
	default:
		p.logger.Error("cycle aborted", slog.String("cycle", cycleID), slog.Any("error", err))
	}
}

// Health returns a copy of the poller's cycle health.
func (p *Poller) Health() models.CycleHealth {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health
}

// Watermark returns the latest published timestamp observed on a
// successful cycle.
func (p *Poller) Watermark() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watermark
}
