// internal/engine/batch/runner.go
package batch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/law-makers/newsfetch/internal/fetch"
	"github.com/law-makers/newsfetch/internal/logging"
	"github.com/law-makers/newsfetch/internal/metrics"
	"github.com/law-makers/newsfetch/pkg/models"
)

// Getter is what the runner needs from fetch.Client
type Getter interface {
	Get(ctx context.Context, url string, opts ...fetch.Option) (*models.FetchResult, error)
}

// Result is the outcome for one URL
type Result struct {
	URL      string
	Result   *models.FetchResult
	Err      error
	Duration time.Duration
}

// Runner fetches many URLs with bounded concurrency
type Runner struct {
	getter      Getter
	concurrency int
}

// New creates a Runner. If concurrency <= 0, it is sized from system resources.
func New(getter Getter, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = OptimalConcurrency()
	}
	return &Runner{getter: getter, concurrency: concurrency}
}

// Concurrency returns the worker limit
func (r *Runner) Concurrency() int {
	return r.concurrency
}

// Run fetches urls and streams one Result per URL. Work is interleaved across
// domains. Once ctx is done, URLs not yet started are reported with ctx's
// error. The channel is closed when every URL is accounted for.
func (r *Runner) Run(ctx context.Context, urls []string, opts ...fetch.Option) <-chan Result {
	results := make(chan Result, len(urls))
	ordered := interleave(GroupByDomain(urls))

	logging.WithComponent("batch").Info().
		Int("urls", len(urls)).
		Int("concurrency", r.concurrency).
		Msg("Starting batch")

	go func() {
		defer close(results)

		sem := semaphore.NewWeighted(int64(r.concurrency))
		var wg sync.WaitGroup

		for _, u := range ordered {
			if err := sem.Acquire(ctx, 1); err != nil {
				results <- Result{URL: u, Err: err}
				continue
			}

			wg.Add(1)
			go func(u string) {
				defer wg.Done()
				defer sem.Release(1)

				start := time.Now()
				res, err := r.getter.Get(ctx, u, opts...)
				if err != nil {
					logging.WithComponent("batch").Warn().
						Err(err).
						Str("site", metrics.SanitizeSite(u)).
						Msg("Batch item failed")
				}
				results <- Result{URL: u, Result: res, Err: err, Duration: time.Since(start)}
			}(u)
		}

		wg.Wait()
	}()

	return results
}
