// Package metrics exposes Prometheus collectors for the fetch subsystem.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	fetchAttempts   *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	fetchCoalesced  prometheus.Counter
	cacheLookups    *prometheus.CounterVec
	proxyRotations  prometheus.Counter
	proxyBlacklists prometheus.Counter
	solverOutcomes  *prometheus.CounterVec
	rateLimitWaits  prometheus.Histogram

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		fetchAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsfetch_fetch_attempts_total",
				Help: "Fetch attempts, labeled by path and outcome.",
			},
			[]string{"path", "outcome"},
		),
		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newsfetch_fetch_duration_seconds",
				Help:    "Latency of completed fetches, labeled by path.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"path"},
		),
		fetchCoalesced: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "newsfetch_fetch_coalesced_total",
				Help: "Get calls served by another caller's in-flight fetch.",
			},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsfetch_cache_lookups_total",
				Help: "Cache lookups, labeled by result (hit or miss).",
			},
			[]string{"result"},
		),
		proxyRotations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "newsfetch_proxy_rotations_total",
				Help: "Proxy identity rotations.",
			},
		),
		proxyBlacklists: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "newsfetch_proxy_blacklists_total",
				Help: "Proxy identities benched after failures.",
			},
		),
		solverOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsfetch_solver_outcomes_total",
				Help: "Challenge solve attempts, labeled by family and outcome.",
			},
			[]string{"family", "outcome"},
		),
		rateLimitWaits: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "newsfetch_rate_limit_wait_seconds",
				Help:    "Time spent waiting on the request limiter.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
		),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// FetchAttempt counts one network attempt
func (m *Metrics) FetchAttempt(path, outcome string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(path, outcome).Inc()
}

// ObserveFetch records the latency of a completed fetch
func (m *Metrics) ObserveFetch(path string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(path).Observe(d.Seconds())
}

// Coalesced counts a Get that shared an in-flight fetch
func (m *Metrics) Coalesced() {
	if m == nil {
		return
	}
	m.fetchCoalesced.Inc()
}

// CacheHit counts a cache hit
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("hit").Inc()
}

// CacheMiss counts a cache miss
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// ProxyRotated counts a rotation
func (m *Metrics) ProxyRotated() {
	if m == nil {
		return
	}
	m.proxyRotations.Inc()
}

// ProxyBlacklisted counts a blacklisting
func (m *Metrics) ProxyBlacklisted() {
	if m == nil {
		return
	}
	m.proxyBlacklists.Inc()
}

// SolverOutcome counts a solve attempt
func (m *Metrics) SolverOutcome(family string, ok bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	if family == "" {
		family = "unknown"
	}
	m.solverOutcomes.WithLabelValues(family, outcome).Inc()
}

// ObserveRateLimitWait records time spent blocked on the limiter
func (m *Metrics) ObserveRateLimitWait(d time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitWaits.Observe(d.Seconds())
}

// SanitizeSite reduces a URL to a lowercase hostname, or "unknown"
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
