// internal/ratelimit/limiter.go
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	urlutil "github.com/law-makers/newsfetch/internal/utils/url"
)

// RateLimiter gates outbound requests.
//
// Implementations decide the scope of the gate: a single process-wide
// interval, one bucket per host, or a combination of both.
type RateLimiter interface {
	// Wait blocks until a request for the given URL can proceed.
	// If the context is cancelled before the rate limit allows, an error is returned.
	Wait(ctx context.Context, urlStr string) error

	// Allow checks if a request for the given URL can proceed immediately
	// without blocking. Returns true if allowed, false otherwise.
	Allow(urlStr string) bool
}

// IntervalLimiter spaces every outbound request by a minimum interval,
// regardless of destination host.
type IntervalLimiter struct {
	limiter *rate.Limiter
}

// NewIntervalLimiter returns a limiter admitting one request per interval.
// A non-positive interval disables limiting.
func NewIntervalLimiter(interval time.Duration) *IntervalLimiter {
	if interval <= 0 {
		return &IntervalLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &IntervalLimiter{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next slot opens
func (il *IntervalLimiter) Wait(ctx context.Context, _ string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return il.limiter.Wait(ctx)
}

// Allow reports whether a slot is open now and consumes it if so
func (il *IntervalLimiter) Allow(_ string) bool {
	return il.limiter.Allow()
}

// DomainLimiter keeps one token bucket per host. Hosts compare
// case-insensitively and ports are ignored.
type DomainLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perHost  rate.Limit
	burst    int
}

// NewDomainLimiter creates a limiter admitting requestsPerSecond per host
func NewDomainLimiter(requestsPerSecond float64, burst int) *DomainLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5.0
	}
	return &DomainLimiter{
		limiters: make(map[string]*rate.Limiter),
		perHost:  rate.Limit(requestsPerSecond),
		burst:    max(burst, 1),
	}
}

// Wait blocks until the host of urlStr has a token. Unparseable URLs pass
// through and fail later in the fetch.
func (dl *DomainLimiter) Wait(ctx context.Context, urlStr string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	l := dl.bucket(urlStr)
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

// Allow reports whether the host of urlStr has a token now and consumes it if so
func (dl *DomainLimiter) Allow(urlStr string) bool {
	l := dl.bucket(urlStr)
	return l == nil || l.Allow()
}

func (dl *DomainLimiter) bucket(urlStr string) *rate.Limiter {
	host := urlutil.Hostname(urlStr)
	if host == "" {
		return nil
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()

	l, ok := dl.limiters[host]
	if !ok {
		l = rate.NewLimiter(dl.perHost, dl.burst)
		dl.limiters[host] = l
	}
	return l
}

// Chain applies several limiters in order
type Chain []RateLimiter

// Wait waits on every limiter in turn
func (c Chain) Wait(ctx context.Context, urlStr string) error {
	for _, l := range c {
		if l == nil {
			continue
		}
		if err := l.Wait(ctx, urlStr); err != nil {
			return err
		}
	}
	return nil
}

// Allow reports true only if every limiter admits the request
func (c Chain) Allow(urlStr string) bool {
	for _, l := range c {
		if l != nil && !l.Allow(urlStr) {
			return false
		}
	}
	return true
}

// New builds the limiter used by the fetch client: a global minimum interval,
// plus per-host buckets when perHostRPS is positive.
func New(minInterval time.Duration, perHostRPS float64, perHostBurst int) RateLimiter {
	chain := Chain{NewIntervalLimiter(minInterval)}
	if perHostRPS > 0 {
		chain = append(chain, NewDomainLimiter(perHostRPS, perHostBurst))
	}
	return chain
}
