package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/pmetric/pmetricotlp"

	"github.com/flarewatch/flarewatch/pkg/types"
	"github.com/flarewatch/flarewatch/server/internal/store"
)

// MaxBodyBytes bounds an OTLP/HTTP request body.
const MaxBodyBytes = 16 << 20

// Stats counts what the receiver has accepted since start.
type Stats struct {
	Exports  int64 `json:"exports"`
	Accepted int64 `json:"accepted_points"`
	Rejected int64 `json:"rejected_points"`
}

// Receiver stores exported metrics in a store.Store.
type Receiver struct {
	pmetricotlp.UnimplementedGRPCServer
	store *store.Store

	exports  atomic.Int64
	accepted atomic.Int64
	rejected atomic.Int64
}

// New creates a Receiver that writes accepted metrics to st.
func New(st *store.Store) *Receiver {
	return &Receiver{store: st}
}

// Stats returns the receiver counters.
func (r *Receiver) Stats() Stats {
	return Stats{
		Exports:  r.exports.Load(),
		Accepted: r.accepted.Load(),
		Rejected: r.rejected.Load(),
	}
}

// Export is the OTLP/gRPC handler.
func (r *Receiver) Export(_ context.Context, req pmetricotlp.ExportRequest) (pmetricotlp.ExportResponse, error) {
	return r.ingest(req.Metrics()), nil
}

// ServeHTTP is the OTLP/HTTP handler.
func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if mediaType != types.ContentTypeProtobuf && mediaType != types.ContentTypeJSON {
		http.Error(w, fmt.Sprintf("unsupported content type %q", mediaType), http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, MaxBodyBytes))
	if err != nil {
		code := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			code = http.StatusRequestEntityTooLarge
		}
		http.Error(w, "read body: "+err.Error(), code)
		return
	}

	exportReq := pmetricotlp.NewExportRequest()
	if mediaType == types.ContentTypeJSON {
		err = exportReq.UnmarshalJSON(body)
	} else {
		err = exportReq.UnmarshalProto(body)
	}
	if err != nil {
		http.Error(w, "decode export request: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp := r.ingest(exportReq.Metrics())

	var out []byte
	if mediaType == types.ContentTypeJSON {
		out, err = resp.MarshalJSON()
	} else {
		out, err = resp.MarshalProto()
	}
	if err != nil {
		http.Error(w, "encode export response: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", mediaType)
	w.WriteHeader(http.StatusOK)
	w.Write(out) //nolint:errcheck
}

// ingest stores the number metrics of md and builds the export response.
func (r *Receiver) ingest(md pmetric.Metrics) pmetricotlp.ExportResponse {
	metrics, accepted, rej := collect(md)
	r.store.Put(metrics...)
	rejected := rej.total()

	r.exports.Add(1)
	r.accepted.Add(int64(accepted))
	r.rejected.Add(int64(rejected))

	slog.Debug("receiver: export stored",
		"metrics", len(metrics),
		"accepted", accepted,
		"rejected", rejected,
	)

	resp := pmetricotlp.NewExportResponse()
	if rejected > 0 {
		resp.PartialSuccess().SetRejectedDataPoints(int64(rejected))
		resp.PartialSuccess().SetErrorMessage(rej.message())
	}
	return resp
}

// rejection counts the points collect could not store, by reason.
type rejection struct {
	unsupported int // histogram, exponential histogram and summary points
	conflicting int // points of a name already collected with another type
}

func (r rejection) total() int { return r.unsupported + r.conflicting }

func (r rejection) message() string {
	var parts []string
	if r.unsupported > 0 {
		parts = append(parts, "only gauge and sum metrics are stored")
	}
	if r.conflicting > 0 {
		parts = append(parts, "metric name already used with another type in this export")
	}
	return strings.Join(parts, "; ")
}

// collect flattens md into one store.Metric per name. Points of a name that
// appears in several resources or scopes are merged in arrival order; a later
// occurrence whose type or monotonicity differs from the first is rejected.
func collect(md pmetric.Metrics) (out []*store.Metric, accepted int, rej rejection) {
	byName := map[string]*store.Metric{}

	rms := md.ResourceMetrics()
	for i := 0; i < rms.Len(); i++ {
		rm := rms.At(i)
		resource := attributes(rm.Resource().Attributes())

		sms := rm.ScopeMetrics()
		for j := 0; j < sms.Len(); j++ {
			sm := sms.At(j)
			ms := sm.Metrics()
			for k := 0; k < ms.Len(); k++ {
				m := ms.At(k)

				var dps pmetric.NumberDataPointSlice
				var typ string
				monotonic := false
				switch m.Type() {
				case pmetric.MetricTypeGauge:
					dps, typ = m.Gauge().DataPoints(), "gauge"
				case pmetric.MetricTypeSum:
					dps, typ = m.Sum().DataPoints(), "sum"
					monotonic = m.Sum().IsMonotonic()
				default:
					rej.unsupported += pointCount(m)
					continue
				}

				dst, ok := byName[m.Name()]
				if ok && (dst.Type != typ || dst.Monotonic != monotonic) {
					rej.conflicting += dps.Len()
					continue
				}
				if !ok {
					dst = &store.Metric{
						Name:        m.Name(),
						Description: m.Description(),
						Unit:        m.Unit(),
						Type:        typ,
						Monotonic:   monotonic,
						Scope:       sm.Scope().Name(),
						Resource:    resource,
						Points:      make([]store.Point, 0, dps.Len()),
					}
					byName[m.Name()] = dst
					out = append(out, dst)
				}
				for p := 0; p < dps.Len(); p++ {
					dst.Points = append(dst.Points, point(dps.At(p)))
				}
				accepted += dps.Len()
			}
		}
	}
	return out, accepted, rej
}

func point(dp pmetric.NumberDataPoint) store.Point {
	p := store.Point{
		Attributes: attributes(dp.Attributes()),
		Time:       dp.Timestamp().AsTime().UTC(),
	}
	if dp.StartTimestamp() != 0 {
		p.StartTime = dp.StartTimestamp().AsTime().UTC()
	}
	switch dp.ValueType() {
	case pmetric.NumberDataPointValueTypeInt:
		p.Value = float64(dp.IntValue())
	default:
		p.Value = dp.DoubleValue()
	}
	return p
}

func attributes(m pcommon.Map) map[string]string {
	out := make(map[string]string, m.Len())
	m.Range(func(k string, v pcommon.Value) bool {
		out[k] = v.AsString()
		return true
	})
	return out
}

func pointCount(m pmetric.Metric) int {
	switch m.Type() {
	case pmetric.MetricTypeHistogram:
		return m.Histogram().DataPoints().Len()
	case pmetric.MetricTypeExponentialHistogram:
		return m.ExponentialHistogram().DataPoints().Len()
	case pmetric.MetricTypeSummary:
		return m.Summary().DataPoints().Len()
	}
	return 0
}
