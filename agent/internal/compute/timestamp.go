package compute

import (
	"sync/atomic"
	"time"
)

// Resolver picks the run timestamp: the latest group time observed by any
// adapter. It only ever moves forward and is safe for concurrent use.
// The zero value is ready to use.
type Resolver struct {
	latest atomic.Pointer[time.Time]
}

// Observe offers t as a candidate. Earlier or equal times are ignored.
func (r *Resolver) Observe(t time.Time) {
	for {
		cur := r.latest.Load()
		if cur != nil && !t.After(*cur) {
			return
		}
		if r.latest.CompareAndSwap(cur, &t) {
			return
		}
	}
}

// Resolve returns the latest observed time, or now truncated to whole seconds
// when nothing was observed.
func (r *Resolver) Resolve(now time.Time) time.Time {
	if cur := r.latest.Load(); cur != nil {
		return *cur
	}
	return now.Truncate(time.Second)
}
