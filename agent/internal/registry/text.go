package registry

import (
	"fmt"
	"io"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// WriteText renders gathered families in the Prometheus text exposition format.
func WriteText(w io.Writer, families []*dto.MetricFamily) error {
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("registry: write %q: %w", mf.GetName(), err)
		}
	}
	return nil
}
