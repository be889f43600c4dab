// Package engine decides, for each polled incident record, whether it is
// new, changed, refreshed, or gone, and emits the correctly shaped CoT
// event exactly once per meaningful transition.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/atxtak/cotbridge/internal/cot"
	"github.com/atxtak/cotbridge/internal/metrics"
	"github.com/atxtak/cotbridge/internal/models"
	"github.com/atxtak/cotbridge/internal/sender"
	"github.com/atxtak/cotbridge/internal/store"
)

// Options tunes lifecycle behaviour. RefreshCeiling must be smaller than
// Windows.Standard so an active incident is always re-emitted before its
// previous event goes stale on clients.
type Options struct {
	Namespace      string
	Windows        cot.StaleWindows
	RefreshCeiling time.Duration
	Retention      time.Duration
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Engine owns all tracked-incident state transitions. It is the lifecycle
// store's only caller.
type Engine struct {
	logger *slog.Logger
	store  store.Store
	sender sender.Sender
	opts   Options

	mu       sync.Mutex
	counters map[models.SourceKind]*models.Counters
}

// New constructs a lifecycle engine.
func New(logger *slog.Logger, st store.Store, snd sender.Sender, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Namespace == "" {
		opts.Namespace = "austin"
	}
	if opts.Windows.Standard <= 0 {
		opts.Windows = cot.DefaultStaleWindows()
	}
	if opts.RefreshCeiling <= 0 || opts.RefreshCeiling >= opts.Windows.Standard {
		opts.RefreshCeiling = opts.Windows.Standard / 2
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	counters := make(map[models.SourceKind]*models.Counters)
	for _, kind := range models.Kinds() {
		counters[kind] = &models.Counters{}
	}
	return &Engine{
		logger:   logger,
		store:    st,
		sender:   snd,
		opts:     opts,
		counters: counters,
	}
}

// ProcessRecord classifies one polled record and performs the resulting
// store mutation and emission. A store error aborts the caller's cycle; a
// delivery error does not, because the committed mutation stands and the
// sender retries on its own.
func (e *Engine) ProcessRecord(ctx context.Context, rec models.IncidentRecord) (models.Decision, error) {
	uid := rec.UID(e.opts.Namespace)
	now := e.opts.Now().UTC()

	existing, found, err := e.store.Get(ctx, uid)
	if err != nil {
		return "", err
	}

	var decision models.Decision
	switch {
	case !found:
		decision, err = e.handleUnseen(ctx, rec, uid, now)
	case existing.ClosedEmitted:
		decision, err = e.handleClosed(ctx, rec, existing, now)
	default:
		decision, err = e.handleOpen(ctx, rec, existing, now)
	}
	if err != nil {
		return "", err
	}

	e.count(rec.SourceKind, decision)
	metrics.ObserveDecision(string(rec.SourceKind), string(decision))
	return decision, nil
}

// handleUnseen covers records with no tracked row. A record that is
// already terminal on first sight never produced a marker downstream, so
// it gets a tombstone row and no emission instead of a create/close pair.
func (e *Engine) handleUnseen(ctx context.Context, rec models.IncidentRecord, uid string, now time.Time) (models.Decision, error) {
	row := trackedFrom(rec, uid, now)
	row.FirstSeenAt = now

	if rec.Status.Terminal() {
		row.ClosedEmitted = true
		row.LastEmittedAt = time.Time{}
		if err := e.store.Put(ctx, row); err != nil {
			return "", err
		}
		return models.DecisionIgnore, nil
	}

	row.LastEmittedAt = now
	if err := e.store.Put(ctx, row); err != nil {
		return "", err
	}
	e.emit(ctx, rec, uid, models.DecisionCreate, now)
	return models.DecisionCreate, nil
}

// handleClosed covers rows that already received a closure. Reappearance
// with active status starts a fresh lifecycle only once the old row has
// aged past the retention window; inside the window it stays ignored.
func (e *Engine) handleClosed(ctx context.Context, rec models.IncidentRecord, existing models.TrackedIncident, now time.Time) (models.Decision, error) {
	if rec.Status == models.StatusActive && now.Sub(existing.LastSeenAt) > e.opts.Retention {
		row := trackedFrom(rec, existing.UID, now)
		row.FirstSeenAt = now
		row.LastEmittedAt = now
		if err := e.store.Put(ctx, row); err != nil {
			return "", err
		}
		e.emit(ctx, rec, existing.UID, models.DecisionCreate, now)
		return models.DecisionCreate, nil
	}
	return models.DecisionIgnore, nil
}

// handleOpen covers live rows: closure, material change, forced refresh,
// or suppression.
func (e *Engine) handleOpen(ctx context.Context, rec models.IncidentRecord, existing models.TrackedIncident, now time.Time) (models.Decision, error) {
	row := trackedFrom(rec, existing.UID, now)
	row.FirstSeenAt = existing.FirstSeenAt
	row.LastEmittedAt = existing.LastEmittedAt

	if rec.Status.Terminal() {
		row.ClosedEmitted = true
		row.LastEmittedAt = now
		// The mutation must be durable before the removal is attempted: a
		// crash in between costs one removal event, recovered by the next
		// sweep, never a duplicate-removal storm.
		if err := e.store.Put(ctx, row); err != nil {
			return "", err
		}
		e.emit(ctx, rec, existing.UID, models.DecisionClose, now)
		return models.DecisionClose, nil
	}

	statusChanged := rec.Status != existing.LastStatus
	refreshDue := now.Sub(existing.LastEmittedAt) >= e.opts.RefreshCeiling

	if statusChanged || refreshDue {
		row.LastEmittedAt = now
		if err := e.store.Put(ctx, row); err != nil {
			return "", err
		}
		e.emit(ctx, rec, existing.UID, models.DecisionUpdate, now)
		return models.DecisionUpdate, nil
	}

	// Unchanged and fresh enough: touch last_seen_at only, emit nothing.
	if err := e.store.Put(ctx, row); err != nil {
		return "", err
	}
	return models.DecisionSuppress, nil
}

// SweepMissing closes every open tracked incident for kind that is absent
// from the present set. Callers run it once per cycle, only after a
// successful fetch: a fetch failure must never read as "incident gone".
func (e *Engine) SweepMissing(ctx context.Context, kind models.SourceKind, present map[string]struct{}) (int, error) {
	open, err := e.store.ListOpen(ctx, kind)
	if err != nil {
		return 0, err
	}

	now := e.opts.Now().UTC()
	closed := 0
	for _, row := range open {
		if _, ok := present[row.UID]; ok {
			continue
		}

		row.ClosedEmitted = true
		row.LastEmittedAt = now
		if err := e.store.Put(ctx, row); err != nil {
			return closed, err
		}

		rec := recordFrom(row)
		e.emit(ctx, rec, row.UID, models.DecisionClose, now)
		e.count(kind, models.DecisionClose)
		metrics.ObserveDecision(string(kind), string(models.DecisionClose))
		closed++

		e.logger.Info("implicit close for vanished incident",
			slog.String("uid", row.UID),
			slog.String("last_status", string(row.LastStatus)))
	}
	return closed, nil
}

// RecordRejected bumps the skipped counter for a record the normalizer
// dropped before it could reach the engine.
func (e *Engine) RecordRejected(kind models.SourceKind) {
	e.mu.Lock()
	e.counters[kind].Rejected++
	e.mu.Unlock()
	metrics.ObserveRejected(string(kind))
}

// Snapshot returns a copy of the per-source decision counters.
func (e *Engine) Snapshot(kind models.SourceKind) models.Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.counters[kind]; ok {
		return *c
	}
	return models.Counters{}
}

// PurgeOlderThan removes rows last seen before cutoff; backs the cleanup
// control operation.
func (e *Engine) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return e.store.PurgeOlderThan(ctx, cutoff)
}

func (e *Engine) emit(ctx context.Context, rec models.IncidentRecord, uid string, decision models.Decision, now time.Time) {
	event := cot.Build(rec, uid, decision, now, e.opts.Windows)
	payload, err := event.Marshal()
	if err != nil {
		e.logger.Error("cot marshal failed", slog.String("uid", uid), slog.Any("error", err))
		return
	}
	if err := e.sender.Deliver(ctx, payload); err != nil {
		// Committed state stands; the sender owns retry policy.
		e.logger.Warn("cot delivery failed",
			slog.String("uid", uid),
			slog.String("decision", string(decision)),
			slog.Any("error", err))
		return
	}
	metrics.ObserveEventSent(string(rec.SourceKind))
}

func (e *Engine) count(kind models.SourceKind, decision models.Decision) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.counters[kind]
	if !ok {
		return
	}
	switch decision {
	case models.DecisionCreate:
		c.Created++
	case models.DecisionUpdate:
		c.Updated++
	case models.DecisionSuppress:
		c.Suppressed++
	case models.DecisionClose:
		c.Closed++
	case models.DecisionIgnore:
		c.Ignored++
	}
}

func trackedFrom(rec models.IncidentRecord, uid string, now time.Time) models.TrackedIncident {
	return models.TrackedIncident{
		UID:         uid,
		SourceKind:  rec.SourceKind,
		SourceID:    rec.SourceID,
		LastStatus:  rec.Status,
		Headline:    rec.Headline,
		Address:     rec.Address,
		Latitude:    rec.Latitude,
		Longitude:   rec.Longitude,
		Link:        rec.Link,
		PublishedAt: rec.PublishedAt,
		LastSeenAt:  now,
	}
}

// recordFrom rebuilds an incident record from a tracked row so vanished
// incidents can still produce a well-formed closure event.
func recordFrom(row models.TrackedIncident) models.IncidentRecord {
	return models.IncidentRecord{
		SourceID:    row.SourceID,
		SourceKind:  row.SourceKind,
		PublishedAt: row.PublishedAt,
		Status:      row.LastStatus,
		Latitude:    row.Latitude,
		Longitude:   row.Longitude,
		Headline:    row.Headline,
		Address:     row.Address,
		Link:        row.Link,
	}
}
