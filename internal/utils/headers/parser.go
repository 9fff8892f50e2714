package headers

import (
	"fmt"
	"net/http"
	"strings"
)

// ParseHeaders converts an array of header strings ("Key: Value") into a map.
// Keys are canonicalized.
func ParseHeaders(h []string) (map[string]string, error) {
	m := make(map[string]string, len(h))
	for _, hdr := range h {
		parts := strings.SplitN(hdr, ":", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid header %q: expected \"Key: Value\"", hdr)
		}
		m[http.CanonicalHeaderKey(strings.TrimSpace(parts[0]))] = strings.TrimSpace(parts[1])
	}
	return m, nil
}

// Merge returns base overlaid with over. Keys compare case-insensitively and
// the spelling from over is kept.
func Merge(base, over map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[http.CanonicalHeaderKey(k)] = v
	}
	for k, v := range over {
		out[http.CanonicalHeaderKey(k)] = v
	}
	return out
}

// Lookup returns the value of name in h, ignoring case
func Lookup(h map[string]string, name string) (string, bool) {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
