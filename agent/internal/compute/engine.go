package compute

import (
	"fmt"
	"time"

	dto "github.com/prometheus/client_model/go"
	"golang.org/x/sync/errgroup"

	"github.com/flarewatch/flarewatch/agent/internal/analytics"
	"github.com/flarewatch/flarewatch/agent/internal/registry"
)

// Result is the outcome of one run's aggregation.
type Result struct {
	// Families is the gathered registry, in schema then field order.
	Families []*dto.MetricFamily

	// Timestamp is the run timestamp every exported point carries.
	Timestamp time.Time

	// Groups is the number of upstream groups folded in.
	Groups int
}

// Engine turns analytics responses into gathered metric families.
// It keeps no state between calls and is safe for concurrent use.
type Engine struct {
	schemas []Schema
}

// NewEngine returns an Engine for schemas, or for Domains() when none are given.
func NewEngine(schemas ...Schema) *Engine {
	if len(schemas) == 0 {
		schemas = Domains()
	}
	return &Engine{schemas: schemas}
}

// Datasets lists the upstream dataset names the engine consumes.
func (e *Engine) Datasets() []string {
	out := make([]string, len(e.schemas))
	for i, s := range e.schemas {
		out[i] = s.Dataset
	}
	return out
}

// Process runs every schema's adapter concurrently over resp and returns the
// gathered registry. Datasets absent from resp contribute nothing. The first
// adapter error fails the whole run and no result is returned.
func (e *Engine) Process(resp *analytics.Response, now time.Time) (*Result, error) {
	reg := registry.New()
	var res Resolver

	// Declaring up front fixes the gather order regardless of which adapter
	// writes first. Families left empty are not gathered.
	for _, s := range e.schemas {
		for _, f := range s.Fields {
			if err := reg.Declare(f.Family(), f.Help, f.Kind); err != nil {
				return nil, fmt.Errorf("compute: %s: %w", s.Dataset, err)
			}
		}
	}

	var g errgroup.Group
	for _, s := range e.schemas {
		var groups []analytics.Group
		if resp != nil {
			groups = resp.Groups[s.Dataset]
		}
		if len(groups) == 0 {
			continue
		}
		g.Go(func() error {
			return Apply(reg, &res, s, groups)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Result{
		Families:  reg.Gather(),
		Timestamp: res.Resolve(now),
		Groups:    resp.Count(),
	}, nil
}
