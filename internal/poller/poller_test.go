package poller

import (
	"context"
	"testing"
	"time"

	"github.com/atxtak/cotbridge/internal/cot"
	"github.com/atxtak/cotbridge/internal/engine"
	"github.com/atxtak/cotbridge/internal/feeds"
	"github.com/atxtak/cotbridge/internal/models"
	"github.com/atxtak/cotbridge/internal/sender"
	"github.com/atxtak/cotbridge/internal/store"
	"github.com/atxtak/cotbridge/internal/utils"
)

// scriptedFetcher returns one scripted response per call, in order,
// repeating the last one when exhausted.
type scriptedFetcher struct {
	calls     int
	responses []fetchResponse
}

type fetchResponse struct {
	records   []feeds.RawIncident
	watermark time.Time
	err       error
}

func (f *scriptedFetcher) Fetch(_ context.Context, _ models.SourceKind, since time.Time) ([]feeds.RawIncident, time.Time, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	r := f.responses[idx]
	if r.err != nil {
		return nil, since, r.err
	}
	return r.records, r.watermark, nil
}

func rawActive(id string) feeds.RawIncident {
	return feeds.RawIncident{
		TrafficReportID: id,
		PublishedDate:   "2026-03-14T15:00:00.000",
		IssueReported:   "Crash",
		Latitude:        "30.25",
		Longitude:       "-97.75",
		Address:         "LAMAR",
		Status:          "ACTIVE",
	}
}

func newTestPoller(t *testing.T, fetcher Fetcher) (*Poller, *engine.Engine, *store.MemoryStore, *sender.NopSender) {
	t.Helper()
	st := store.NewMemoryStore()
	snd := &sender.NopSender{}
	eng := engine.New(nil, st, snd, engine.Options{
		Windows:        cot.StaleWindows{Standard: 10 * time.Minute, Removal: time.Minute},
		RefreshCeiling: 5 * time.Minute,
	})
	norm := feeds.NewNormalizer(nil, nil)
	p := New(nil, models.SourceTraffic, fetcher, norm, eng, "austin", 10*time.Minute, 5*time.Second)
	return p, eng, st, snd
}

func TestRunCycleProcessesAndSweeps(t *testing.T) {
	wm := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{records: []feeds.RawIncident{rawActive("T-1"), rawActive("T-2")}, watermark: wm},
		{records: []feeds.RawIncident{rawActive("T-1")}, watermark: wm.Add(time.Minute)},
	}}
	p, eng, st, _ := newTestPoller(t, fetcher)

	p.RunCycle(context.Background())
	if got := eng.Snapshot(models.SourceTraffic); got.Created != 2 {
		t.Fatalf("after cycle 1: %+v, want 2 creates", got)
	}
	if !p.Watermark().Equal(wm) {
		t.Errorf("watermark = %s, want %s", p.Watermark(), wm)
	}

	// T-2 vanishes: the sweep must close it, T-1 only refreshes.
	p.RunCycle(context.Background())
	got := eng.Snapshot(models.SourceTraffic)
	if got.Closed != 1 {
		t.Fatalf("after cycle 2: %+v, want 1 implicit close", got)
	}
	row, _, _ := st.Get(context.Background(), "austin.traffic.T-2")
	if !row.ClosedEmitted {
		t.Error("vanished incident not closed")
	}
	if !p.Watermark().Equal(wm.Add(time.Minute)) {
		t.Errorf("watermark = %s after cycle 2", p.Watermark())
	}

	health := p.Health()
	if health.LastSuccessAt.IsZero() || health.ConsecutiveErrs != 0 || health.LastError != "" {
		t.Errorf("health = %+v", health)
	}
}

func TestRunCycleRejectsMalformedAndContinues(t *testing.T) {
	bad := rawActive("T-BAD")
	bad.Latitude = ""
	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{records: []feeds.RawIncident{bad, rawActive("T-1")}, watermark: time.Now()},
	}}
	p, eng, _, _ := newTestPoller(t, fetcher)

	p.RunCycle(context.Background())
	got := eng.Snapshot(models.SourceTraffic)
	if got.Rejected != 1 || got.Created != 1 {
		t.Fatalf("counters = %+v, want 1 rejected and 1 created", got)
	}
}

// A live incident whose feed row momentarily fails normalization is still
// listed by the provider; it must stay in the present set so the sweep
// does not close it.
func TestRejectedRecordStillCountsAsPresent(t *testing.T) {
	garbled := rawActive("T-1")
	garbled.Latitude = "not-a-number"
	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{records: []feeds.RawIncident{rawActive("T-1")}, watermark: time.Now()},
		{records: []feeds.RawIncident{garbled}, watermark: time.Now()},
		{records: []feeds.RawIncident{rawActive("T-1")}, watermark: time.Now()},
	}}
	p, eng, st, snd := newTestPoller(t, fetcher)
	ctx := context.Background()

	p.RunCycle(ctx)
	p.RunCycle(ctx)

	row, _, _ := st.Get(ctx, "austin.traffic.T-1")
	if row.ClosedEmitted {
		t.Fatal("transiently malformed record read as incident disappearance")
	}
	got := eng.Snapshot(models.SourceTraffic)
	if got.Closed != 0 || got.Rejected != 1 {
		t.Fatalf("counters = %+v, want 0 closes and 1 rejection", got)
	}
	if len(snd.Delivered) != 1 {
		t.Fatalf("delivered %d events, want only the create", len(snd.Delivered))
	}

	// The feed row heals on the next poll and the incident is simply
	// suppressed, not resurrected.
	p.RunCycle(ctx)
	got = eng.Snapshot(models.SourceTraffic)
	if got.Created != 1 || got.Suppressed != 1 || got.Closed != 0 {
		t.Fatalf("counters after recovery = %+v", got)
	}

	// A record with no identifier at all cannot be attributed to any uid
	// and does not shield anything from the sweep.
	fetcher.responses = append(fetcher.responses, fetchResponse{
		records:   []feeds.RawIncident{{TrafficReportID: "  ", PublishedDate: "2026-03-14T15:00:00.000"}},
		watermark: time.Now(),
	})
	p.RunCycle(ctx)
	got = eng.Snapshot(models.SourceTraffic)
	if got.Closed != 1 {
		t.Fatalf("counters after id-less cycle = %+v, want the sweep to close T-1", got)
	}
}

func TestFailedFetchSkipsSweepAndWatermark(t *testing.T) {
	wm := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{records: []feeds.RawIncident{rawActive("T-1")}, watermark: wm},
		{err: utils.E("feeds.Fetch", utils.KindTransientFetch, "soda returned 503", nil)},
	}}
	p, eng, st, _ := newTestPoller(t, fetcher)

	p.RunCycle(context.Background())
	p.RunCycle(context.Background())

	// The incident was absent from no successful window; it must stay open.
	row, _, _ := st.Get(context.Background(), "austin.traffic.T-1")
	if row.ClosedEmitted {
		t.Fatal("fetch failure read as incident disappearance")
	}
	if got := eng.Snapshot(models.SourceTraffic); got.Closed != 0 {
		t.Fatalf("counters = %+v, want 0 closes", got)
	}
	if !p.Watermark().Equal(wm) {
		t.Errorf("watermark moved to %s on failed cycle", p.Watermark())
	}

	health := p.Health()
	if health.ConsecutiveErrs != 1 || health.LastError == "" {
		t.Errorf("health after failure = %+v", health)
	}

	// Recovery resets the error streak.
	fetcher.responses = append(fetcher.responses, fetchResponse{
		records: []feeds.RawIncident{rawActive("T-1")}, watermark: wm.Add(time.Minute),
	})
	p.RunCycle(context.Background())
	if health := p.Health(); health.ConsecutiveErrs != 0 || health.LastError != "" {
		t.Errorf("health after recovery = %+v", health)
	}
}

func TestStartSchedulerRunsAndStops(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{records: nil, watermark: time.Now()},
	}}
	p, _, _, _ := newTestPoller(t, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := StartScheduler(ctx, nil, 10*time.Millisecond, p)
	if err != nil {
		t.Fatalf("StartScheduler: %v", err)
	}
	if !s.Running() {
		t.Fatal("scheduler not running after start")
	}

	deadline := time.Now().Add(2 * time.Second)
	for p.Health().LastAttemptAt.IsZero() {
		if time.Now().After(deadline) {
			t.Fatal("scheduler never ran a cycle")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Stop()
}

func TestStartSchedulerRejectsZeroInterval(t *testing.T) {
	if _, err := StartScheduler(context.Background(), nil, 0); err == nil {
		t.Fatal("expected error for non-positive interval")
	}
}
