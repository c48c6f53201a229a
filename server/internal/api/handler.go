package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/flarewatch/flarewatch/server/internal/receiver"
	"github.com/flarewatch/flarewatch/server/internal/store"
)

// StatsSource reports receiver counters.
type StatsSource interface {
	Stats() receiver.Stats
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store *store.Store
	stats StatsSource
	mux   *http.ServeMux
}

// New creates a Handler reading from st and registers all routes.
func New(st *store.Store, stats StatsSource) http.Handler {
	h := &Handler{store: st, stats: stats, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/metrics", h.listMetrics)
	h.mux.HandleFunc("/api/v1/metrics/", h.getMetric) // subtree, extracts {name}
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entries := h.store.List()
	stats := h.stats.Stats()
	resp := HealthResponse{
		Status:         "ok",
		MetricCount:    len(entries),
		Exports:        stats.Exports,
		AcceptedPoints: stats.Accepted,
		RejectedPoints: stats.Rejected,
	}

	var last time.Time
	for _, e := range entries {
		if e.UpdatedAt.After(last) {
			last = e.UpdatedAt
		}
	}
	if !last.IsZero() {
		resp.LastUpdate = rfc3339(last)
	}
	jsonResp(w, http.StatusOK, resp)
}

func (h *Handler) listMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entries := h.store.List()
	out := make([]MetricSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, MetricSummary{
			Name:       e.Metric.Name,
			Unit:       e.Metric.Unit,
			Type:       e.Metric.Type,
			Monotonic:  e.Metric.Monotonic,
			PointCount: len(e.Metric.Points),
			LastSeen:   rfc3339(e.UpdatedAt),
		})
	}
	jsonResp(w, http.StatusOK, out)
}

func (h *Handler) getMetric(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/v1/metrics/")
	if name == "" {
		h.listMetrics(w, r)
		return
	}

	e, ok := h.store.Live(name)
	if !ok {
		jsonErr(w, http.StatusNotFound, "metric not found")
		return
	}
	jsonResp(w, http.StatusOK, toMetricResponse(e))
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entries := h.store.List()
	metrics := make([]MetricResponse, 0, len(entries))
	for _, e := range entries {
		metrics = append(metrics, toMetricResponse(e))
	}
	jsonResp(w, http.StatusOK, SnapshotResponse{
		Metrics:     metrics,
		GeneratedAt: rfc3339(time.Now()),
	})
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func rfc3339(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func toMetricResponse(e *store.Entry) MetricResponse {
	return MetricResponse{Metric: e.Metric, LastSeen: rfc3339(e.UpdatedAt)}
}
