package registry

import (
	"errors"
	"fmt"
	"math"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"google.golang.org/protobuf/proto"
)

var (
	// ErrKindConflict is returned when a name is redeclared with another kind.
	ErrKindConflict = errors.New("registry: metric redeclared with a different kind")

	// ErrInvalidValue is returned for negative or non-finite counter deltas.
	ErrInvalidValue = errors.New("registry: counter delta must be finite and non-negative")
)

// Kind is the type of a metric family.
type Kind int

const (
	KindCounter Kind = iota + 1
	KindGauge
)

func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindGauge:
		return "gauge"
	}
	return "unknown"
}

func (k Kind) dtoType() dto.MetricType {
	if k == KindCounter {
		return dto.MetricType_COUNTER
	}
	return dto.MetricType_GAUGE
}

// Registry is a set of metric families for a single run.
//
// All exported methods are safe for concurrent use. Writes to different
// families never contend; writes to the same family are serialized.
type Registry struct {
	mu       sync.Mutex
	families []*family
	byName   map[string]*family
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byName: make(map[string]*family)}
}

type family struct {
	name string
	help string
	kind Kind

	mu     sync.Mutex
	order  []string // series signatures in first-insertion order
	series map[string]*series
}

type series struct {
	labels []*dto.LabelPair
	value  float64
}

// Counter declares (or returns the existing) counter family name.
func (r *Registry) Counter(name, help string) (*Counter, error) {
	f, err := r.declare(name, help, KindCounter)
	if err != nil {
		return nil, err
	}
	return &Counter{f: f}, nil
}

// Gauge declares (or returns the existing) gauge family name.
func (r *Registry) Gauge(name, help string) (*Gauge, error) {
	f, err := r.declare(name, help, KindGauge)
	if err != nil {
		return nil, err
	}
	return &Gauge{f: f}, nil
}

// Declare declares a family of the given kind without returning a handle.
// Adapters use it to surface kind conflicts before writing any value.
func (r *Registry) Declare(name, help string, kind Kind) error {
	_, err := r.declare(name, help, kind)
	return err
}

func (r *Registry) declare(name, help string, kind Kind) (*family, error) {
	if name == "" {
		return nil, errors.New("registry: empty metric name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.byName[name]; ok {
		if f.kind != kind {
			return nil, fmt.Errorf("%w: %q is a %s, not a %s", ErrKindConflict, name, f.kind, kind)
		}
		return f, nil
	}
	f := &family{
		name:   name,
		help:   help,
		kind:   kind,
		series: make(map[string]*series),
	}
	r.families = append(r.families, f)
	r.byName[name] = f
	return f, nil
}

// Len returns the number of families holding at least one series.
func (r *Registry) Len() int {
	r.mu.Lock()
	fams := append([]*family(nil), r.families...)
	r.mu.Unlock()

	var n int
	for _, f := range fams {
		f.mu.Lock()
		if len(f.order) > 0 {
			n++
		}
		f.mu.Unlock()
	}
	return n
}

// Gather returns every non-empty family in declaration order with its series
// in first-insertion order. Values and label pairs are copied, so the result
// stays valid after further writes and edits to it never reach the registry.
func (r *Registry) Gather() []*dto.MetricFamily {
	r.mu.Lock()
	fams := append([]*family(nil), r.families...)
	r.mu.Unlock()

	out := make([]*dto.MetricFamily, 0, len(fams))
	for _, f := range fams {
		if mf := f.gather(); mf != nil {
			out = append(out, mf)
		}
	}
	return out
}

func (f *family) gather() *dto.MetricFamily {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.order) == 0 {
		return nil
	}
	mf := &dto.MetricFamily{
		Name:   proto.String(f.name),
		Type:   f.kind.dtoType().Enum(),
		Metric: make([]*dto.Metric, 0, len(f.order)),
	}
	if f.help != "" {
		mf.Help = proto.String(f.help)
	}
	for _, sig := range f.order {
		s := f.series[sig]
		m := &dto.Metric{Label: clonePairs(s.labels)}
		if f.kind == KindCounter {
			m.Counter = &dto.Counter{Value: proto.Float64(s.value)}
		} else {
			m.Gauge = &dto.Gauge{Value: proto.Float64(s.value)}
		}
		mf.Metric = append(mf.Metric, m)
	}
	return mf
}

func clonePairs(in []*dto.LabelPair) []*dto.LabelPair {
	out := make([]*dto.LabelPair, len(in))
	for i, p := range in {
		out[i] = &dto.LabelPair{Name: proto.String(p.GetName()), Value: proto.String(p.GetValue())}
	}
	return out
}

// upsert applies fn to the series for labels, creating it first if needed.
func (f *family) upsert(labels Labels, fn func(cur float64, created bool) float64) {
	sig := labels.signature()

	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.series[sig]
	if !ok {
		s = &series{labels: labels.pairs()}
		f.series[sig] = s
		f.order = append(f.order, sig)
	}
	s.value = fn(s.value, !ok)
}

// CheckDelta reports whether delta is an acceptable counter increment.
func CheckDelta(delta float64) error {
	if math.IsNaN(delta) || math.IsInf(delta, 0) || delta < 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidValue, delta)
	}
	return nil
}

// Counter is a handle to a counter family.
type Counter struct{ f *family }

// Name returns the family name.
func (c *Counter) Name() string { return c.f.name }

// Add increments the series identified by labels. The first Add for a label
// set creates the series with value delta. An invalid delta leaves the
// series untouched.
func (c *Counter) Add(labels Labels, delta float64) error {
	if err := CheckDelta(delta); err != nil {
		return fmt.Errorf("%q: %w", c.f.name, err)
	}
	c.f.upsert(labels, func(cur float64, _ bool) float64 { return cur + delta })
	return nil
}

// Gauge is a handle to a gauge family.
type Gauge struct{ f *family }

// Name returns the family name.
func (g *Gauge) Name() string { return g.f.name }

// Set overwrites the series identified by labels with v.
func (g *Gauge) Set(labels Labels, v float64) {
	g.f.upsert(labels, func(float64, bool) float64 { return v })
}
