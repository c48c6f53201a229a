package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flarewatch/flarewatch/server/internal/api"
	"github.com/flarewatch/flarewatch/server/internal/receiver"
	"github.com/flarewatch/flarewatch/server/internal/store"
)

// --- test helpers -----------------------------------------------------------

type fixedStats receiver.Stats

func (s fixedStats) Stats() receiver.Stats { return receiver.Stats(s) }

var at = time.Date(2024, 5, 1, 10, 1, 0, 0, time.UTC)

func newStore(ms ...*store.Metric) *store.Store {
	st := store.New(5 * time.Minute)
	st.Put(ms...)
	return st
}

func counter(name string, values ...float64) *store.Metric {
	m := &store.Metric{Name: name, Unit: "count", Type: "sum", Monotonic: true}
	for _, v := range values {
		m.Points = append(m.Points, store.Point{
			Attributes: map[string]string{"script_name": "api"},
			Value:      v,
			Time:       at,
		})
	}
	return m
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- /api/v1/health ---------------------------------------------------------

func TestHealth_EmptyStore(t *testing.T) {
	h := api.New(newStore(), fixedStats{})
	rr := get(t, h, "/api/v1/health")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp map[string]interface{}
	decode(t, rr, &resp)

	if resp["status"] != "ok" {
		t.Errorf("status: got %v, want ok", resp["status"])
	}
	if resp["metric_count"].(float64) != 0 {
		t.Errorf("metric_count: got %v, want 0", resp["metric_count"])
	}
	if _, ok := resp["last_update"]; ok {
		t.Errorf("last_update: got %v, want absent", resp["last_update"])
	}
}

func TestHealth_WithMetrics(t *testing.T) {
	stats := fixedStats{Exports: 2, Accepted: 5, Rejected: 1}
	h := api.New(newStore(counter("a", 1), counter("b", 2)), stats)
	rr := get(t, h, "/api/v1/health")

	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.MetricCount != 2 {
		t.Errorf("metric_count: got %d, want 2", resp.MetricCount)
	}
	if resp.Exports != 2 || resp.AcceptedPoints != 5 || resp.RejectedPoints != 1 {
		t.Errorf("counters: got %+v", resp)
	}
	if resp.LastUpdate == "" {
		t.Error("last_update: missing")
	}
}

func TestHealth_MethodNotAllowed(t *testing.T) {
	h := api.New(newStore(), fixedStats{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/health", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}

// --- /api/v1/metrics --------------------------------------------------------

func TestListMetrics_Empty(t *testing.T) {
	h := api.New(newStore(), fixedStats{})
	rr := get(t, h, "/api/v1/metrics")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp []interface{}
	decode(t, rr, &resp)
	if len(resp) != 0 {
		t.Errorf("metrics: got %d items, want 0", len(resp))
	}
}

func TestListMetrics_SortedSummaries(t *testing.T) {
	h := api.New(newStore(
		counter("cloudflare_worker_requests", 1, 2),
		counter("cloudflare_d1_read_queries", 3),
	), fixedStats{})
	rr := get(t, h, "/api/v1/metrics")

	var resp []api.MetricSummary
	decode(t, rr, &resp)
	if len(resp) != 2 {
		t.Fatalf("metrics: got %d, want 2", len(resp))
	}
	if resp[0].Name != "cloudflare_d1_read_queries" {
		t.Errorf("first metric: got %q", resp[0].Name)
	}
	if resp[1].PointCount != 2 || resp[1].Type != "sum" || !resp[1].Monotonic {
		t.Errorf("summary: got %+v", resp[1])
	}
	if resp[1].LastSeen == "" {
		t.Error("last_seen: missing")
	}
}

func TestListMetrics_MethodNotAllowed(t *testing.T) {
	h := api.New(newStore(), fixedStats{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/metrics", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}

// --- /api/v1/metrics/{name} -------------------------------------------------

func TestGetMetric_Found(t *testing.T) {
	h := api.New(newStore(counter("cloudflare_worker_requests", 42)), fixedStats{})
	rr := get(t, h, "/api/v1/metrics/cloudflare_worker_requests")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body: %s)", rr.Code, rr.Body.String())
	}
	var resp map[string]interface{}
	decode(t, rr, &resp)
	if resp["name"] != "cloudflare_worker_requests" {
		t.Errorf("name: got %v", resp["name"])
	}
	points := resp["points"].([]interface{})
	if len(points) != 1 {
		t.Fatalf("points: got %d, want 1", len(points))
	}
	p := points[0].(map[string]interface{})
	if p["value"].(float64) != 42 {
		t.Errorf("value: got %v, want 42", p["value"])
	}
	if p["time"] != "2024-05-01T10:01:00Z" {
		t.Errorf("time: got %v", p["time"])
	}
	if _, ok := p["start_time"]; ok {
		t.Errorf("start_time: got %v, want absent", p["start_time"])
	}
}

func TestGetMetric_NotFound(t *testing.T) {
	h := api.New(newStore(), fixedStats{})
	rr := get(t, h, "/api/v1/metrics/unknown")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

func TestGetMetric_Stale(t *testing.T) {
	clock := time.Now().Add(-10 * time.Minute)
	st := store.New(5*time.Minute, store.WithClock(func() time.Time { return clock }))
	st.Put(counter("old", 1))
	clock = time.Now()

	h := api.New(st, fixedStats{})
	rr := get(t, h, "/api/v1/metrics/old")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404 for stale metric", rr.Code)
	}
}

func TestGetMetric_TrailingSlashLists(t *testing.T) {
	h := api.New(newStore(counter("a", 1)), fixedStats{})
	rr := get(t, h, "/api/v1/metrics/")
	var resp []api.MetricSummary
	decode(t, rr, &resp)
	if len(resp) != 1 {
		t.Errorf("metrics: got %d, want 1", len(resp))
	}
}

// --- /api/v1/snapshot -------------------------------------------------------

func TestSnapshot(t *testing.T) {
	h := api.New(newStore(counter("a", 1), counter("b", 2, 3)), fixedStats{})
	rr := get(t, h, "/api/v1/snapshot")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.SnapshotResponse
	decode(t, rr, &resp)
	if len(resp.Metrics) != 2 {
		t.Fatalf("metrics: got %d, want 2", len(resp.Metrics))
	}
	if len(resp.Metrics[1].Points) != 2 {
		t.Errorf("b points: got %d, want 2", len(resp.Metrics[1].Points))
	}
	if _, err := time.Parse(time.RFC3339, resp.GeneratedAt); err != nil {
		t.Errorf("generated_at: %v", err)
	}
}

func TestContentTypeJSON(t *testing.T) {
	h := api.New(newStore(), fixedStats{})
	for _, path := range []string{"/api/v1/health", "/api/v1/metrics", "/api/v1/snapshot", "/api/v1/metrics/x"} {
		rr := get(t, h, path)
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s Content-Type: got %q", path, ct)
		}
	}
}
