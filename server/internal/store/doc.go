// Package store keeps the most recent export of every metric received by the
// sink, keyed by metric name. Entries not refreshed within the TTL are hidden
// from List and removed by the background eviction loop.
package store
