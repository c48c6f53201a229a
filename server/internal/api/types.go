package api

import "github.com/flarewatch/flarewatch/server/internal/store"

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status         string `json:"status"`
	MetricCount    int    `json:"metric_count"`
	Exports        int64  `json:"exports"`
	AcceptedPoints int64  `json:"accepted_points"`
	RejectedPoints int64  `json:"rejected_points"`
	LastUpdate     string `json:"last_update,omitempty"` // RFC3339
}

// MetricSummary is one entry of GET /api/v1/metrics.
type MetricSummary struct {
	Name       string `json:"name"`
	Unit       string `json:"unit,omitempty"`
	Type       string `json:"type"`
	Monotonic  bool   `json:"monotonic,omitempty"`
	PointCount int    `json:"point_count"`
	LastSeen   string `json:"last_seen"` // RFC3339
}

// MetricResponse is the payload for GET /api/v1/metrics/{name}.
type MetricResponse struct {
	*store.Metric
	LastSeen string `json:"last_seen"` // RFC3339
}

// SnapshotResponse is the payload for GET /api/v1/snapshot.
type SnapshotResponse struct {
	Metrics     []MetricResponse `json:"metrics"`
	GeneratedAt string           `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
