package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Point is one received data point.
type Point struct {
	Attributes map[string]string `json:"attributes"`
	Value      float64           `json:"value"`
	Time       time.Time         `json:"time"`
	StartTime  time.Time         `json:"start_time,omitzero"`
}

// Metric is the last received state of one metric name.
type Metric struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Unit        string            `json:"unit,omitempty"`
	Type        string            `json:"type"` // "sum" | "gauge"
	Monotonic   bool              `json:"monotonic,omitempty"`
	Scope       string            `json:"scope,omitempty"`
	Resource    map[string]string `json:"resource,omitempty"`
	Points      []Point           `json:"points"`
}

// Entry is a metric together with the time it was last received.
type Entry struct {
	Metric    *Metric   `json:"metric"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a thread-safe in-memory metric store, keyed by metric name.
// A background goroutine (Run) periodically evicts entries that have not
// been updated within the configured TTL.
type Store struct {
	mu   sync.RWMutex
	data map[string]*Entry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New creates a Store with the given TTL.
func New(ttl time.Duration, opts ...Option) *Store {
	s := &Store{
		data: make(map[string]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Put stores or replaces the entries for every metric in ms.
// Callers must not modify ms after calling Put.
func (s *Store) Put(ms ...*Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, m := range ms {
		s.data[m.Name] = &Entry{Metric: m, UpdatedAt: now}
	}
}

// Get returns the Entry for name and whether one was found. The entry may be
// stale if the TTL has elapsed.
func (s *Store) Get(name string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[name]
	return e, ok
}

// Live is Get restricted to entries updated within the TTL.
func (s *Store) Live(name string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[name]
	if !ok || !e.UpdatedAt.After(s.now().Add(-s.ttl)) {
		return nil, false
	}
	return e, true
}

// List returns the entries updated within the TTL, sorted by metric name.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]*Entry, 0, len(s.data))
	for _, e := range s.data {
		if e.UpdatedAt.After(cutoff) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Metric.Name < out[j].Metric.Name })
	return out
}

// Count returns the number of entries held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes entries whose UpdatedAt is older than now minus TTL and
// returns how many were removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for name, e := range s.data {
		if !e.UpdatedAt.After(cutoff) {
			delete(s.data, name)
			removed++
		}
	}
	return removed
}

// Run evicts stale entries every half TTL (minimum 1s) until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale metrics", "count", n)
			}
		}
	}
}
