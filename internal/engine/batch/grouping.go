// internal/engine/batch/grouping.go
package batch

import (
	"sort"

	urlutil "github.com/law-makers/newsfetch/internal/utils/url"
)

// GroupByDomain groups URLs by host. Unparseable URLs share the "default" group.
func GroupByDomain(urls []string) map[string][]string {
	groups := make(map[string][]string)
	for _, u := range urls {
		domain := urlutil.Hostname(u)
		if domain == "" {
			domain = "default"
		}
		groups[domain] = append(groups[domain], u)
	}
	return groups
}

// interleave orders URLs round-robin across domains so consecutive work
// items hit different hosts. Domain order is sorted for determinism.
func interleave(groups map[string][]string) []string {
	domains := make([]string, 0, len(groups))
	total := 0
	for d, g := range groups {
		domains = append(domains, d)
		total += len(g)
	}
	sort.Strings(domains)

	out := make([]string, 0, total)
	for i := 0; len(out) < total; i++ {
		for _, d := range domains {
			if i < len(groups[d]) {
				out = append(out, groups[d][i])
			}
		}
	}
	return out
}
