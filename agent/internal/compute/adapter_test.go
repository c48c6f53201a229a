package compute

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flarewatch/flarewatch/agent/internal/analytics"
	"github.com/flarewatch/flarewatch/agent/internal/registry"
)

func TestApplyScenarios(t *testing.T) {
	tests := map[string]struct {
		run func(t *testing.T)
	}{
		"missing sum block fails and leaves registry unchanged": {
			run: func(t *testing.T) {
				reg := registry.New()
				var res Resolver

				g := analytics.Group{
					Dimensions: map[string]string{"scriptName": "api", "datetime": "2024-05-01T10:00:00Z"},
					Quantiles:  map[string]float64{"cpuTimeP50": 3.5},
				}
				err := Apply(reg, &res, WorkerInvocations, []analytics.Group{g})
				require.ErrorIs(t, err, ErrMalformedRecord)

				var rerr *RecordError
				require.True(t, errors.As(err, &rerr))
				assert.Equal(t, "workersInvocationsAdaptive", rerr.Dataset)
				assert.Equal(t, 0, rerr.Index)
				assert.Equal(t, "sum", rerr.Field)

				assert.Empty(t, reg.Gather())
				assert.Equal(t, now.Truncate(time.Second), res.Resolve(now), "resolver not advanced")
			},
		},
		"valid groups before a malformed one are not written": {
			run: func(t *testing.T) {
				reg := registry.New()
				var res Resolver

				groups := []analytics.Group{
					workerGroup("api", "2024-05-01T10:00:00Z", 1, 0, 1),
					{Dimensions: map[string]string{"datetime": "2024-05-01T10:00:00Z"}},
				}
				err := Apply(reg, &res, WorkerInvocations, groups)
				require.ErrorIs(t, err, ErrMalformedRecord)

				var rerr *RecordError
				require.True(t, errors.As(err, &rerr))
				assert.Equal(t, 1, rerr.Index)
				assert.Equal(t, "dimensions.scriptName", rerr.Field)
				assert.Empty(t, reg.Gather())
			},
		},
		"missing required field inside present block": {
			run: func(t *testing.T) {
				g := workerGroup("api", "2024-05-01T10:00:00Z", 1, 0, 1)
				delete(g.Sum, "errors")
				err := Apply(registry.New(), &Resolver{}, WorkerInvocations, []analytics.Group{g})
				require.ErrorIs(t, err, ErrMalformedRecord)
				assert.Contains(t, err.Error(), "sum.errors")
			},
		},
		"missing datetime": {
			run: func(t *testing.T) {
				g := workerGroup("api", "2024-05-01T10:00:00Z", 1, 0, 1)
				delete(g.Dimensions, "datetime")
				err := Apply(registry.New(), &Resolver{}, WorkerInvocations, []analytics.Group{g})
				require.ErrorIs(t, err, ErrMalformedRecord)
			},
		},
		"unparseable datetime": {
			run: func(t *testing.T) {
				g := workerGroup("api", "yesterday", 1, 0, 1)
				err := Apply(registry.New(), &Resolver{}, WorkerInvocations, []analytics.Group{g})
				require.ErrorIs(t, err, ErrMalformedRecord)
				assert.Contains(t, err.Error(), "yesterday")
			},
		},
		"negative counter fails without writes": {
			run: func(t *testing.T) {
				reg := registry.New()
				groups := []analytics.Group{
					workerGroup("api", "2024-05-01T10:00:00Z", 5, 0, 1),
					workerGroup("web", "2024-05-01T10:00:00Z", -1, 0, 1),
				}
				err := Apply(reg, &Resolver{}, WorkerInvocations, groups)
				require.ErrorIs(t, err, registry.ErrInvalidValue)
				assert.Empty(t, reg.Gather())
			},
		},
		"missing declared block fails and leaves registry unchanged": {
			run: func(t *testing.T) {
				groups := map[string]struct {
					schema  Schema
					group   analytics.Group
					missing string
				}{
					"worker quantiles": {WorkerInvocations, analytics.Group{
						Dimensions: map[string]string{"scriptName": "api", "datetime": "2024-05-01T10:00:00Z"},
						Sum:        map[string]float64{"requests": 42, "errors": 1},
					}, "quantiles"},
					"d1 quantiles": {D1Operations, analytics.Group{
						Dimensions: map[string]string{"databaseId": "db-1", "datetimeMinute": "2024-05-01T10:00:00Z"},
						Sum:        map[string]float64{"readQueries": 3, "writeQueries": 1, "rowsRead": 30, "rowsWritten": 2},
					}, "quantiles"},
					"durable object quantiles": {DurableObjectInvocations, analytics.Group{
						Dimensions: map[string]string{"scriptName": "chat", "datetimeMinute": "2024-05-01T10:00:00Z"},
						Sum:        map[string]float64{"requests": 9, "errors": 0},
					}, "quantiles"},
					"queue operations avg": {QueueOperations, analytics.Group{
						Dimensions: map[string]string{"queueId": "q1", "actionType": "WriteMessage", "datetimeMinute": "2024-05-01T10:00:00Z"},
						Sum:        map[string]float64{"billableOperations": 4, "bytes": 512},
					}, "avg"},
				}
				for name, tc := range groups {
					t.Run(name, func(t *testing.T) {
						reg := registry.New()
						var res Resolver
						err := Apply(reg, &res, tc.schema, []analytics.Group{tc.group})
						require.ErrorIs(t, err, ErrMalformedRecord)

						var rerr *RecordError
						require.True(t, errors.As(err, &rerr))
						assert.Equal(t, tc.schema.Dataset, rerr.Dataset)
						assert.Equal(t, tc.missing, rerr.Field)

						assert.Empty(t, reg.Gather())
						assert.Equal(t, now.Truncate(time.Second), res.Resolve(now), "resolver not advanced")
					})
				}
			},
		},
		"optional fields absent are skipped": {
			run: func(t *testing.T) {
				reg := registry.New()
				var res Resolver
				g := analytics.Group{
					Dimensions: map[string]string{"scriptName": "api", "datetime": "2024-05-01T10:00:00Z"},
					Sum:        map[string]float64{"requests": 1, "errors": 0},
					Quantiles:  map[string]float64{},
				}
				require.NoError(t, Apply(reg, &res, WorkerInvocations, []analytics.Group{g}))

				mfs := reg.Gather()
				require.Len(t, mfs, 2)
				assert.Equal(t, "cloudflare_worker_requests_count", mfs[0].GetName())
				assert.Equal(t, "cloudflare_worker_errors_count", mfs[1].GetName())
			},
		},
		"quantile label is added per field": {
			run: func(t *testing.T) {
				reg := registry.New()
				g := workerGroup("api", "2024-05-01T10:00:00Z", 1, 0, 3.5)
				g.Quantiles["cpuTimeP99"] = 9
				require.NoError(t, Apply(reg, &Resolver{}, WorkerInvocations, []analytics.Group{g}))

				cpu := family(reg.Gather(), "cloudflare_worker_cpu_time_microseconds")
				require.NotNil(t, cpu)
				require.Len(t, cpu.GetMetric(), 2)
				got := map[string]float64{}
				for _, m := range cpu.GetMetric() {
					for _, l := range m.GetLabel() {
						if l.GetName() == QuantileLabel {
							got[l.GetValue()] = m.GetGauge().GetValue()
						}
					}
				}
				assert.Equal(t, map[string]float64{"P50": 3.5, "P99": 9}, got)
			},
		},
		"latest datetime reaches resolver": {
			run: func(t *testing.T) {
				var res Resolver
				groups := []analytics.Group{
					workerGroup("a", "2024-05-01T10:01:00Z", 1, 0, 1),
					workerGroup("b", "2024-05-01T10:03:00Z", 1, 0, 1),
					workerGroup("c", "2024-05-01T10:02:00Z", 1, 0, 1),
				}
				require.NoError(t, Apply(registry.New(), &res, WorkerInvocations, groups))
				assert.Equal(t, time.Date(2024, 5, 1, 10, 3, 0, 0, time.UTC), res.Resolve(now))
			},
		},
		"kind conflict with existing family": {
			run: func(t *testing.T) {
				reg := registry.New()
				_, err := reg.Gauge("cloudflare_worker_requests_count", "")
				require.NoError(t, err)

				g := workerGroup("api", "2024-05-01T10:00:00Z", 1, 0, 1)
				err = Apply(reg, &Resolver{}, WorkerInvocations, []analytics.Group{g})
				require.ErrorIs(t, err, registry.ErrKindConflict)
				assert.Empty(t, reg.Gather())
			},
		},
	}

	for name, test := range tests {
		t.Run(name, test.run)
	}
}

func TestDomains_FamilyNamesSplitCleanly(t *testing.T) {
	seen := map[string]registry.Kind{}
	for _, s := range Domains() {
		require.NotEmpty(t, s.Dataset)
		require.NotEmpty(t, s.Time)
		for _, f := range s.Fields {
			require.NotEmpty(t, f.Unit, "%s.%s has no unit", s.Dataset, f.Source)
			if k, ok := seen[f.Family()]; ok {
				assert.Equal(t, k, f.Kind, "family %s declared with two kinds", f.Family())
			}
			seen[f.Family()] = f.Kind
		}
	}
}
