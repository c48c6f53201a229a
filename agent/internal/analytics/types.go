package analytics

import "time"

// Upstream block names.
const (
	BlockSum       = "sum"
	BlockAvg       = "avg"
	BlockQuantiles = "quantiles"
)

// Window is the half-open interval [Start, End) a run covers.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Request parameterizes one analytics query.
type Request struct {
	AccountID string
	Window    Window
	// Limit caps the number of groups returned per dataset.
	Limit int
}

// Group is one aggregated record of a dataset.
type Group struct {
	// Dimensions holds the tag values keyed by upstream dimension name.
	// Non-string values are kept in their JSON text form.
	Dimensions map[string]string

	// Blocks of numeric fields. A nil map means the block was not returned.
	Sum       map[string]float64
	Avg       map[string]float64
	Quantiles map[string]float64
}

// Block returns the named block, or nil if it is absent.
func (g Group) Block(name string) map[string]float64 {
	switch name {
	case BlockSum:
		return g.Sum
	case BlockAvg:
		return g.Avg
	case BlockQuantiles:
		return g.Quantiles
	}
	return nil
}

// Response carries the groups of every dataset returned for one request,
// keyed by dataset name (e.g. "workersInvocationsAdaptive").
type Response struct {
	Groups map[string][]Group
}

// Count returns the total number of groups across datasets.
func (r *Response) Count() int {
	if r == nil {
		return 0
	}
	var n int
	for _, g := range r.Groups {
		n += len(g)
	}
	return n
}
