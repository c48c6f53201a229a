package compute

import (
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flarewatch/flarewatch/agent/internal/analytics"
	"github.com/flarewatch/flarewatch/agent/internal/export"
	"github.com/flarewatch/flarewatch/agent/internal/registry"
)

var now = time.Date(2024, 5, 1, 10, 5, 30, 750_000_000, time.UTC)

func workerGroup(script, at string, requests, errors, cpuP50 float64) analytics.Group {
	return analytics.Group{
		Dimensions: map[string]string{"scriptName": script, "datetime": at},
		Sum:        map[string]float64{"requests": requests, "errors": errors},
		Quantiles:  map[string]float64{"cpuTimeP50": cpuP50},
	}
}

func family(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestProcess_SingleWorkerRecord(t *testing.T) {
	resp := &analytics.Response{Groups: map[string][]analytics.Group{
		WorkerInvocations.Dataset: {workerGroup("api", "2024-05-01T10:00:00Z", 42, 1, 3.5)},
	}}

	res, err := NewEngine().Process(resp, now)
	require.NoError(t, err)

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, at, res.Timestamp)
	assert.Equal(t, 1, res.Groups)

	require.Len(t, res.Families, 3)
	requests := family(res.Families, "cloudflare_worker_requests_count")
	require.NotNil(t, requests)
	assert.Equal(t, dto.MetricType_COUNTER, requests.GetType())
	assert.Equal(t, 42.0, requests.GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, "script_name", requests.GetMetric()[0].GetLabel()[0].GetName())
	assert.Equal(t, "api", requests.GetMetric()[0].GetLabel()[0].GetValue())

	errs := family(res.Families, "cloudflare_worker_errors_count")
	require.NotNil(t, errs)
	assert.Equal(t, 1.0, errs.GetMetric()[0].GetCounter().GetValue())

	cpu := family(res.Families, "cloudflare_worker_cpu_time_microseconds")
	require.NotNil(t, cpu)
	assert.Equal(t, dto.MetricType_GAUGE, cpu.GetType())
	assert.Equal(t, 3.5, cpu.GetMetric()[0].GetGauge().GetValue())

	points := export.Convert(res.Families, res.Timestamp)
	require.Len(t, points, 3)
	for _, p := range points {
		assert.Equal(t, at, p.Time)
	}
}

func TestProcess_NoRecords(t *testing.T) {
	resp := &analytics.Response{Groups: map[string][]analytics.Group{
		WorkerInvocations.Dataset: {},
		QueueBacklog.Dataset:      nil,
	}}

	res, err := NewEngine().Process(resp, now)
	require.NoError(t, err)
	assert.Empty(t, res.Families)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 5, 30, 0, time.UTC), res.Timestamp)

	payload, err := export.NewEncoder(export.FormatProtobuf, export.Scope{Name: "flarewatch"}, nil).
		Encode(export.Convert(res.Families, res.Timestamp))
	require.NoError(t, err)
	assert.Zero(t, payload.Points)
}

func TestProcess_NilResponse(t *testing.T) {
	res, err := NewEngine().Process(nil, now)
	require.NoError(t, err)
	assert.Empty(t, res.Families)
	assert.Zero(t, res.Groups)
}

func TestProcess_AllDomains(t *testing.T) {
	resp := &analytics.Response{Groups: map[string][]analytics.Group{
		WorkerInvocations.Dataset: {
			workerGroup("api", "2024-05-01T10:00:00Z", 10, 0, 1),
			workerGroup("api", "2024-05-01T10:01:00Z", 5, 2, 2),
		},
		D1Operations.Dataset: {{
			Dimensions: map[string]string{"databaseId": "db-1", "datetimeMinute": "2024-05-01T10:02:00Z"},
			Sum:        map[string]float64{"readQueries": 3, "writeQueries": 1, "rowsRead": 30, "rowsWritten": 2},
			Quantiles:  map[string]float64{"queryBatchTimeMsP50": 0.4, "queryBatchTimeMsP90": 1.2},
		}},
		DurableObjectInvocations.Dataset: {{
			Dimensions: map[string]string{"scriptName": "chat", "datetimeMinute": "2024-05-01T09:59:00Z"},
			Sum:        map[string]float64{"requests": 9, "errors": 0},
			Quantiles:  map[string]float64{},
		}},
		QueueBacklog.Dataset: {{
			Dimensions: map[string]string{"queueId": "q1", "datetimeMinute": "2024-05-01T10:00:00Z"},
			Avg:        map[string]float64{"bytes": 2048, "messages": 12},
		}},
		QueueOperations.Dataset: {
			{
				Dimensions: map[string]string{"queueId": "q1", "actionType": "WriteMessage", "datetimeMinute": "2024-05-01T10:00:00Z"},
				Sum:        map[string]float64{"billableOperations": 4, "bytes": 512},
				Avg:        map[string]float64{"lagTime": 15},
			},
			{
				Dimensions: map[string]string{"queueId": "q1", "actionType": "ReadMessage", "datetimeMinute": "2024-05-01T10:00:00Z"},
				Sum:        map[string]float64{"billableOperations": 2, "bytes": 256},
				Avg:        map[string]float64{},
			},
		},
		"unrelatedDataset": {{Dimensions: map[string]string{}}},
	}}

	res, err := NewEngine().Process(resp, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 2, 0, 0, time.UTC), res.Timestamp)

	requests := family(res.Families, "cloudflare_worker_requests_count")
	require.NotNil(t, requests)
	require.Len(t, requests.GetMetric(), 1, "same script across buckets is one series")
	assert.Equal(t, 15.0, requests.GetMetric()[0].GetCounter().GetValue())

	cpu := family(res.Families, "cloudflare_worker_cpu_time_microseconds")
	require.NotNil(t, cpu)
	assert.Equal(t, 2.0, cpu.GetMetric()[0].GetGauge().GetValue(), "gauge keeps the last group")

	batch := family(res.Families, "cloudflare_d1_query_batch_time_milliseconds")
	require.NotNil(t, batch)
	assert.Len(t, batch.GetMetric(), 2)

	assert.Nil(t, family(res.Families, "cloudflare_durable_object_wall_time_microseconds"),
		"a quantiles block without percentiles produces no family")

	ops := family(res.Families, "cloudflare_queue_billable_operations_count")
	require.NotNil(t, ops)
	require.Len(t, ops.GetMetric(), 2)
	labels := ops.GetMetric()[0].GetLabel()
	require.Len(t, labels, 2)
	assert.Equal(t, "action_type", labels[0].GetName())
	assert.Equal(t, "WriteMessage", labels[0].GetValue())

	backlog := family(res.Families, "cloudflare_queue_backlog_bytes")
	require.NotNil(t, backlog)
	assert.Equal(t, dto.MetricType_GAUGE, backlog.GetType())
	assert.Equal(t, 2048.0, backlog.GetMetric()[0].GetGauge().GetValue())

	// Gather order follows the schema order, not adapter scheduling.
	var names []string
	for _, mf := range res.Families {
		names = append(names, mf.GetName())
	}
	assert.Equal(t, "cloudflare_worker_requests_count", names[0])
	assert.Equal(t, "cloudflare_queue_lag_time_milliseconds", names[len(names)-1], "retries was never reported")
}

func TestProcess_MalformedFailsRun(t *testing.T) {
	resp := &analytics.Response{Groups: map[string][]analytics.Group{
		WorkerInvocations.Dataset: {workerGroup("api", "2024-05-01T10:00:00Z", 1, 0, 1)},
		QueueBacklog.Dataset: {{
			Dimensions: map[string]string{"queueId": "q1", "datetimeMinute": "2024-05-01T10:00:00Z"},
		}},
	}}

	res, err := NewEngine().Process(resp, now)
	require.ErrorIs(t, err, ErrMalformedRecord)
	assert.Nil(t, res)
}

func TestProcess_Deterministic(t *testing.T) {
	resp := &analytics.Response{Groups: map[string][]analytics.Group{
		WorkerInvocations.Dataset: {workerGroup("api", "2024-05-01T10:00:00Z", 1, 0, 1)},
		QueueBacklog.Dataset: {{
			Dimensions: map[string]string{"queueId": "q1", "datetimeMinute": "2024-05-01T10:00:00Z"},
			Avg:        map[string]float64{"bytes": 1, "messages": 1},
		}},
	}}
	enc := export.NewEncoder(export.FormatProtobuf, export.Scope{Name: "flarewatch"}, nil)

	var first []byte
	for i := 0; i < 20; i++ {
		res, err := NewEngine().Process(resp, now)
		require.NoError(t, err)
		payload, err := enc.Encode(export.Convert(res.Families, res.Timestamp))
		require.NoError(t, err)
		if first == nil {
			first = payload.Body
			continue
		}
		require.Equal(t, first, payload.Body)
	}
}

func TestProcess_KindConflictBetweenSchemas(t *testing.T) {
	a := Schema{
		Dataset: "a", Time: "t",
		Fields: []Field{counter(analytics.BlockSum, "x", "shared", "count", "")},
	}
	b := Schema{
		Dataset: "b", Time: "t",
		Fields: []Field{gauge(analytics.BlockAvg, "x", "shared", "count", "")},
	}
	_, err := NewEngine(a, b).Process(&analytics.Response{}, now)
	require.ErrorIs(t, err, registry.ErrKindConflict)
}

func TestEngine_Datasets(t *testing.T) {
	assert.Equal(t, []string{
		"workersInvocationsAdaptive",
		"d1AnalyticsAdaptiveGroups",
		"durableObjectsInvocationsAdaptiveGroups",
		"queueBacklogAdaptiveGroups",
		"queueMessageOperationsAdaptiveGroups",
	}, NewEngine().Datasets())
}

func TestResolver(t *testing.T) {
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(-time.Minute)
	t3 := t1.Add(time.Minute)

	var r Resolver
	assert.Equal(t, now.Truncate(time.Second), r.Resolve(now))

	for _, ts := range []time.Time{t2, t1, t3} {
		r.Observe(ts)
	}
	assert.Equal(t, t3, r.Resolve(now))

	r.Observe(t1)
	assert.Equal(t, t3, r.Resolve(now), "never moves backwards")
}

func TestResolver_Concurrent(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var r Resolver
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Observe(base.Add(time.Duration(i) * time.Second))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, base.Add(99*time.Second), r.Resolve(now))
}
