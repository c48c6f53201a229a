package compute

import (
	"errors"
	"fmt"
	"time"

	"github.com/flarewatch/flarewatch/agent/internal/analytics"
	"github.com/flarewatch/flarewatch/agent/internal/registry"
)

// ErrMalformedRecord is matched by every *RecordError.
var ErrMalformedRecord = errors.New("compute: malformed record")

// RecordError locates a group that does not fit its schema.
type RecordError struct {
	Dataset string
	Index   int
	Field   string
	Reason  string
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("compute: malformed record %s[%d]: %s: %s", e.Dataset, e.Index, e.Field, e.Reason)
}

func (e *RecordError) Unwrap() error { return ErrMalformedRecord }

// sample is one validated value waiting to be written.
type sample struct {
	field  *Field
	labels registry.Labels
	value  float64
}

// read validates every group against s and returns the samples to write
// plus the latest group time. Nothing is returned unless all groups are valid.
func read(s Schema, groups []analytics.Group) ([]sample, time.Time, error) {
	var (
		out    []sample
		latest time.Time
	)
	required := s.requiredBlocks()

	for i, g := range groups {
		malformed := func(field, reason string) error {
			return &RecordError{Dataset: s.Dataset, Index: i, Field: field, Reason: reason}
		}

		labels := make(registry.Labels, len(s.Dimensions))
		for _, d := range s.Dimensions {
			v, ok := g.Dimensions[d.Source]
			if !ok {
				return nil, time.Time{}, malformed("dimensions."+d.Source, "missing")
			}
			labels[d.Label] = v
		}

		raw, ok := g.Dimensions[s.Time]
		if !ok {
			return nil, time.Time{}, malformed("dimensions."+s.Time, "missing")
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, time.Time{}, malformed("dimensions."+s.Time, fmt.Sprintf("not an RFC 3339 time: %q", raw))
		}
		if ts.After(latest) {
			latest = ts
		}

		for _, b := range required {
			if g.Block(b) == nil {
				return nil, time.Time{}, malformed(b, "missing")
			}
		}

		for j := range s.Fields {
			f := &s.Fields[j]
			v, ok := g.Block(f.Block)[f.Source]
			if !ok {
				if f.Optional {
					continue
				}
				return nil, time.Time{}, malformed(f.Block+"."+f.Source, "missing")
			}
			lbl := labels
			if len(f.Labels) > 0 {
				lbl = labels.With(f.Labels)
			}
			out = append(out, sample{field: f, labels: lbl, value: v})
		}
	}
	return out, latest, nil
}
