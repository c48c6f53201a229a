package export

import (
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/pmetric/pmetricotlp"

	"github.com/flarewatch/flarewatch/agent/internal/registry"
	"github.com/flarewatch/flarewatch/pkg/types"
)

// ErrEncoding wraps serialization failures.
var ErrEncoding = errors.New("export: encoding failed")

// Format selects the payload serialization.
type Format int

const (
	FormatProtobuf Format = iota
	FormatJSON
)

// ContentType returns the HTTP content type of the format.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return types.ContentTypeJSON
	}
	return types.ContentTypeProtobuf
}

func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "protobuf"
}

// Scope identifies the instrumentation scope of a batch.
type Scope struct {
	Name      string
	Version   string
	SchemaURL string
}

// Encoder builds one OTLP batch per call: a single resource holding a single
// scope. It is immutable and safe for concurrent use.
type Encoder struct {
	format   Format
	scope    Scope
	resource []Label
}

// NewEncoder returns an Encoder. resource becomes the batch's resource
// attributes, written in key order.
func NewEncoder(format Format, scope Scope, resource map[string]string) *Encoder {
	attrs := make([]Label, 0, len(resource))
	for k, v := range resource {
		attrs = append(attrs, Label{Key: k, Value: v})
	}
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Key < attrs[j].Key })
	return &Encoder{format: format, scope: scope, resource: attrs}
}

// Format returns the encoder's serialization.
func (e *Encoder) Format() Format { return e.format }

// Metrics builds the pdata batch for points. Points sharing a family are
// collected under one metric, in order of first appearance.
func (e *Encoder) Metrics(points []Point) pmetric.Metrics {
	md := pmetric.NewMetrics()
	rm := md.ResourceMetrics().AppendEmpty()
	for _, a := range e.resource {
		rm.Resource().Attributes().PutStr(a.Key, a.Value)
	}
	sm := rm.ScopeMetrics().AppendEmpty()
	sm.Scope().SetName(e.scope.Name)
	sm.Scope().SetVersion(e.scope.Version)
	sm.SetSchemaUrl(e.scope.SchemaURL)

	byFamily := make(map[string]pmetric.NumberDataPointSlice)
	for _, p := range points {
		key := p.Family()
		dps, ok := byFamily[key]
		if !ok {
			m := sm.Metrics().AppendEmpty()
			m.SetName(p.Name)
			m.SetDescription(p.Description)
			m.SetUnit(p.Unit)
			if p.Kind == registry.KindCounter {
				sum := m.SetEmptySum()
				sum.SetIsMonotonic(p.Monotonic)
				sum.SetAggregationTemporality(pmetric.AggregationTemporalityCumulative)
				dps = sum.DataPoints()
			} else {
				dps = m.SetEmptyGauge().DataPoints()
			}
			byFamily[key] = dps
		}

		dp := dps.AppendEmpty()
		dp.SetDoubleValue(p.Value)
		dp.SetTimestamp(pcommon.NewTimestampFromTime(p.Time))
		if !p.StartTime.IsZero() {
			dp.SetStartTimestamp(pcommon.NewTimestampFromTime(p.StartTime))
		}
		for _, l := range p.Labels {
			dp.Attributes().PutStr(l.Key, l.Value)
		}
	}
	return md
}

// Encode serializes points as an ExportMetricsServiceRequest. Equal input
// yields byte-identical output.
func (e *Encoder) Encode(points []Point) (types.Payload, error) {
	req := pmetricotlp.NewExportRequestFromMetrics(e.Metrics(points))

	var (
		body []byte
		err  error
	)
	switch e.format {
	case FormatProtobuf:
		body, err = req.MarshalProto()
	case FormatJSON:
		body, err = req.MarshalJSON()
	default:
		return types.Payload{}, fmt.Errorf("%w: unknown format %d", ErrEncoding, e.format)
	}
	if err != nil {
		return types.Payload{}, fmt.Errorf("%w: %s: %w", ErrEncoding, e.format, err)
	}
	return types.Payload{
		Body:        body,
		ContentType: e.format.ContentType(),
		Points:      len(points),
	}, nil
}
