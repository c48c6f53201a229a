package export

import (
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/flarewatch/flarewatch/agent/internal/registry"
)

// Label is one attribute of a point.
type Label struct {
	Key   string
	Value string
}

// Point is one exported metric data point.
type Point struct {
	Name        string
	Description string
	Unit        string
	Kind        registry.Kind

	// Labels are sorted by key.
	Labels []Label
	Value  float64

	// StartTime is zero when unset. Time is the observation time.
	StartTime time.Time
	Time      time.Time

	// Monotonic is set for counters.
	Monotonic bool
}

// Family returns the compound name the point was gathered under.
func (p Point) Family() string { return JoinName(p.Name, p.Unit) }

// Convert maps gathered families to points stamped with ts, preserving family
// and series order. Untyped or unknown families are skipped.
func Convert(families []*dto.MetricFamily, ts time.Time) []Point {
	var out []Point
	for _, mf := range families {
		name, unit := SplitName(mf.GetName())
		for _, m := range mf.GetMetric() {
			p := Point{
				Name:        name,
				Description: mf.GetHelp(),
				Unit:        unit,
				Labels:      labelsOf(m),
				Time:        ts,
			}
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				p.Kind = registry.KindCounter
				p.Value = m.GetCounter().GetValue()
				p.Monotonic = true
			case dto.MetricType_GAUGE:
				p.Kind = registry.KindGauge
				p.Value = m.GetGauge().GetValue()
			default:
				continue
			}
			out = append(out, p)
		}
	}
	return out
}

func labelsOf(m *dto.Metric) []Label {
	pairs := m.GetLabel()
	if len(pairs) == 0 {
		return nil
	}
	out := make([]Label, len(pairs))
	for i, lp := range pairs {
		out[i] = Label{Key: lp.GetName(), Value: lp.GetValue()}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
