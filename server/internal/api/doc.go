// Package api implements the sink's JSON API.
//
// New(store, stats) returns an http.Handler that serves:
//
//	GET /api/v1/health          status, live metric count, receiver counters
//	GET /api/v1/metrics         live metrics without their points
//	GET /api/v1/metrics/{name}  one metric with its points; 404 if unknown or stale
//	GET /api/v1/snapshot        every live metric with points plus generated_at
//
// All endpoints respond with application/json and return 405 for non-GET
// methods. Stale entries are excluded.
package api
