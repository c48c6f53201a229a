package shipper

import "strings"

// ParseHeaders parses "k=v,k2=v2" into a map. Each pair is split on its first
// '='; keys and values are trimmed; pairs without '=' or with an empty key are
// ignored. Later duplicates win.
func ParseHeaders(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}
