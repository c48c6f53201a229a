package registry

import (
	"sort"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"google.golang.org/protobuf/proto"
)

// Labels is an unordered set of label key/value pairs. Two Labels with the
// same pairs identify the same series regardless of how they were built.
type Labels map[string]string

// With returns a copy of l extended with extra. Keys in extra win.
func (l Labels) With(extra Labels) Labels {
	out := make(Labels, len(l)+len(extra))
	for k, v := range l {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// keys returns the label names in ascending order.
func (l Labels) keys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// signature is the canonical series key: sorted pairs packed with 0xff
// separators, which cannot appear in valid UTF-8 label text.
func (l Labels) signature() string {
	if len(l) == 0 {
		return ""
	}
	var b strings.Builder
	for _, k := range l.keys() {
		b.WriteString(k)
		b.WriteByte('\xff')
		b.WriteString(l[k])
		b.WriteByte('\xff')
	}
	return b.String()
}

// pairs converts l into client_model label pairs sorted by name.
func (l Labels) pairs() []*dto.LabelPair {
	if len(l) == 0 {
		return nil
	}
	out := make([]*dto.LabelPair, 0, len(l))
	for _, k := range l.keys() {
		out = append(out, &dto.LabelPair{
			Name:  proto.String(k),
			Value: proto.String(l[k]),
		})
	}
	return out
}
