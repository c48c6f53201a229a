package compute

import (
	"fmt"

	"github.com/flarewatch/flarewatch/agent/internal/analytics"
	"github.com/flarewatch/flarewatch/agent/internal/registry"
)

// Apply folds the groups of one dataset into reg and reports the latest group
// time to res.
//
// Groups are validated and every family is declared before the first write;
// on any error reg holds no new series and res is not advanced.
func Apply(reg *registry.Registry, res *Resolver, s Schema, groups []analytics.Group) error {
	samples, latest, err := read(s, groups)
	if err != nil {
		return err
	}

	counters := make(map[string]*registry.Counter)
	gauges := make(map[string]*registry.Gauge)
	for _, smp := range samples {
		name := smp.field.Family()
		switch smp.field.Kind {
		case registry.KindCounter:
			if _, ok := counters[name]; ok {
				break
			}
			c, err := reg.Counter(name, smp.field.Help)
			if err != nil {
				return fmt.Errorf("compute: %s: %w", s.Dataset, err)
			}
			counters[name] = c
		case registry.KindGauge:
			if _, ok := gauges[name]; ok {
				break
			}
			g, err := reg.Gauge(name, smp.field.Help)
			if err != nil {
				return fmt.Errorf("compute: %s: %w", s.Dataset, err)
			}
			gauges[name] = g
		default:
			return fmt.Errorf("compute: %s: field %s has no kind", s.Dataset, smp.field.Source)
		}
		if smp.field.Kind == registry.KindCounter {
			if err := registry.CheckDelta(smp.value); err != nil {
				return fmt.Errorf("compute: %s.%s: %w", s.Dataset, smp.field.Source, err)
			}
		}
	}

	for _, smp := range samples {
		name := smp.field.Family()
		if smp.field.Kind == registry.KindCounter {
			if err := counters[name].Add(smp.labels, smp.value); err != nil {
				return fmt.Errorf("compute: %s: %w", s.Dataset, err)
			}
			continue
		}
		gauges[name].Set(smp.labels, smp.value)
	}

	if !latest.IsZero() {
		res.Observe(latest)
	}
	return nil
}
