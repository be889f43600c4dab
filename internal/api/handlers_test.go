package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atxtak/cotbridge/internal/config"
	"github.com/atxtak/cotbridge/internal/cot"
	"github.com/atxtak/cotbridge/internal/engine"
	"github.com/atxtak/cotbridge/internal/feeds"
	"github.com/atxtak/cotbridge/internal/models"
	"github.com/atxtak/cotbridge/internal/poller"
	"github.com/atxtak/cotbridge/internal/sender"
	"github.com/atxtak/cotbridge/internal/store"
)

type stubScheduler struct{ running bool }

func (s stubScheduler) Running() bool { return s.running }

type emptyFetcher struct{}

func (emptyFetcher) Fetch(_ context.Context, _ models.SourceKind, since time.Time) ([]feeds.RawIncident, time.Time, error) {
	return nil, since, nil
}

func newTestServer(t *testing.T, schedulerUp bool) (*Server, *engine.Engine, *store.MemoryStore) {
	t.Helper()

	st := store.NewMemoryStore()
	snd := &sender.NopSender{}
	eng := engine.New(nil, st, snd, engine.Options{
		Windows:        cot.StaleWindows{Standard: 10 * time.Minute, Removal: time.Minute},
		RefreshCeiling: 5 * time.Minute,
	})
	norm := feeds.NewNormalizer(nil, nil)
	pollers := []*poller.Poller{
		poller.New(nil, models.SourceFire, emptyFetcher{}, norm, eng, "austin", 10*time.Minute, time.Second),
		poller.New(nil, models.SourceTraffic, emptyFetcher{}, norm, eng, "austin", 10*time.Minute, time.Second),
	}

	cfg := config.Config{}
	cfg.Poll.Interval = 45 * time.Second
	cfg.CoT.StandardStale = 10 * time.Minute
	cfg.CoT.RemovalStale = time.Minute
	cfg.CoT.RefreshCeiling = 5 * time.Minute
	cfg.Store.Backend = "memory"
	cfg.SODA.FireDataset = "wpu4-x69d"
	cfg.SODA.TrafficDataset = "dx9v-zd7x"

	srv := NewServer(config.ServerConfig{Address: ":0"}, Deps{
		Engine:    eng,
		Pollers:   pollers,
		Sender:    snd,
		Store:     st,
		Scheduler: stubScheduler{running: schedulerUp},
		Config:    &cfg,
	})
	return srv, eng, st
}

func doRequest(t *testing.T, srv *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v\n%s", err, rec.Body.String())
	}
	return body
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t, true)
	rec := doRequest(t, srv, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "healthy" {
		t.Errorf("body = %v", body)
	}
}

func TestReady(t *testing.T) {
	srv, _, _ := newTestServer(t, true)
	rec := doRequest(t, srv, http.MethodGet, "/ready")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestReadyFailsWithoutScheduler(t *testing.T) {
	srv, _, _ := newTestServer(t, false)
	rec := doRequest(t, srv, http.MethodGet, "/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	body := decodeBody(t, rec)
	checks, ok := body["checks"].(map[string]any)
	if !ok {
		t.Fatalf("missing checks: %v", body)
	}
	if checks["scheduler"] != false || checks["store"] != true {
		t.Errorf("checks = %v", checks)
	}
}

func TestStats(t *testing.T) {
	srv, eng, _ := newTestServer(t, true)

	rec := models.IncidentRecord{
		SourceID:   "F-1",
		SourceKind: models.SourceFire,
		Status:     models.StatusActive,
		Latitude:   30.27,
		Longitude:  -97.74,
		Headline:   "Structure Fire",
	}
	if _, err := eng.ProcessRecord(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	resp := doRequest(t, srv, http.MethodGet, "/stats")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	body := decodeBody(t, resp)

	feedsBody, ok := body["feeds"].(map[string]any)
	if !ok {
		t.Fatalf("missing feeds: %v", body)
	}
	fire, ok := feedsBody["fire"].(map[string]any)
	if !ok {
		t.Fatalf("missing fire feed: %v", feedsBody)
	}
	counters := fire["counters"].(map[string]any)
	if counters["created"] != float64(1) {
		t.Errorf("fire created = %v", counters["created"])
	}

	cfgBody, ok := body["configuration"].(map[string]any)
	if !ok {
		t.Fatalf("missing configuration: %v", body)
	}
	if cfgBody["poll_interval"] != "45s" {
		t.Errorf("poll_interval = %v", cfgBody["poll_interval"])
	}
}

func TestCleanup(t *testing.T) {
	srv, _, st := newTestServer(t, true)
	ctx := context.Background()

	old := models.TrackedIncident{
		UID:        "austin.fire.OLD",
		SourceKind: models.SourceFire,
		SourceID:   "OLD",
		LastSeenAt: time.Now().UTC().Add(-10 * 24 * time.Hour),
	}
	fresh := models.TrackedIncident{
		UID:        "austin.fire.FRESH",
		SourceKind: models.SourceFire,
		SourceID:   "FRESH",
		LastSeenAt: time.Now().UTC(),
	}
	if err := st.Put(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := st.Put(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(t, srv, http.MethodPost, "/cleanup?days=7")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["purged"] != float64(1) {
		t.Errorf("purged = %v, want 1", body["purged"])
	}
	if st.Len() != 1 {
		t.Errorf("store holds %d rows, want 1", st.Len())
	}
}

func TestCleanupRejectsBadDays(t *testing.T) {
	srv, _, _ := newTestServer(t, true)
	for _, q := range []string{"days=zero", "days=-3", "days=0"} {
		rec := doRequest(t, srv, http.MethodPost, "/cleanup?"+q)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestRootListsEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t, true)
	rec := doRequest(t, srv, http.MethodGet, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["service"] != "cotbridge" {
		t.Errorf("body = %v", body)
	}
}
