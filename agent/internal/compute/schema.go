package compute

import (
	"github.com/flarewatch/flarewatch/agent/internal/analytics"
	"github.com/flarewatch/flarewatch/agent/internal/export"
	"github.com/flarewatch/flarewatch/agent/internal/registry"
)

// QuantileLabel is the label distinguishing percentile series of one family.
const QuantileLabel = "quantile"

// Schema maps one analytics dataset onto metric families.
type Schema struct {
	// Dataset is the upstream dataset name, e.g. "workersInvocationsAdaptive".
	Dataset string

	// Dimensions become labels on every series of the dataset.
	Dimensions []Dimension

	// Time is the dimension holding the group's RFC 3339 timestamp.
	Time string

	Fields []Field
}

// Dimension maps an upstream dimension to a label name.
type Dimension struct {
	Source string
	Label  string
}

// Field maps one numeric upstream field to a metric family.
type Field struct {
	Block  string // analytics.BlockSum, BlockAvg or BlockQuantiles
	Source string // upstream field name inside Block

	Name string // family base name
	Unit string // appended to Name to form the family name
	Help string
	Kind registry.Kind

	// Labels are added to every series written for this field.
	Labels registry.Labels

	// Optional fields produce no series when absent from a present block;
	// required ones make the group malformed.
	Optional bool
}

// Family returns the compound family name.
func (f Field) Family() string {
	return export.JoinName(f.Name, f.Unit)
}

// requiredBlocks returns every block the schema reads, in field order. A
// group must carry all of them; Optional only covers keys inside a block.
func (s Schema) requiredBlocks() []string {
	var out []string
	seen := make(map[string]bool)
	for _, f := range s.Fields {
		if seen[f.Block] {
			continue
		}
		seen[f.Block] = true
		out = append(out, f.Block)
	}
	return out
}

func counter(block, source, name, unit, help string) Field {
	return Field{Block: block, Source: source, Name: name, Unit: unit, Help: help, Kind: registry.KindCounter}
}

func gauge(block, source, name, unit, help string) Field {
	return Field{Block: block, Source: source, Name: name, Unit: unit, Help: help, Kind: registry.KindGauge}
}

func optional(f Field) Field {
	f.Optional = true
	return f
}

// quantiles expands a percentile distribution into one optional gauge field
// per suffix, all in the same family and told apart by QuantileLabel.
func quantiles(prefix, name, unit, help string, suffixes ...string) []Field {
	out := make([]Field, 0, len(suffixes))
	for _, q := range suffixes {
		f := gauge(analytics.BlockQuantiles, prefix+q, name, unit, help)
		f.Labels = registry.Labels{QuantileLabel: q}
		f.Optional = true
		out = append(out, f)
	}
	return out
}
