package fetch

import (
	"time"

	"github.com/law-makers/newsfetch/internal/utils/headers"
	"github.com/law-makers/newsfetch/pkg/models"
)

// Option adjusts a single Get call
type Option func(*models.RequestOptions)

// WithoutCache skips the cache lookup and write for this call
func WithoutCache() Option {
	return func(o *models.RequestOptions) { o.UseCache = false }
}

// ForceBrowser skips the light path
func ForceBrowser() Option {
	return func(o *models.RequestOptions) { o.ForceBrowser = true }
}

// WithRetries sets the attempt budget
func WithRetries(n int) Option {
	return func(o *models.RequestOptions) {
		if n > 0 {
			o.Retries = n
		}
	}
}

// WithTimeout sets the per-attempt timeout
func WithTimeout(d time.Duration) Option {
	return func(o *models.RequestOptions) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithHeaders merges extra request headers over the defaults
func WithHeaders(h map[string]string) Option {
	return func(o *models.RequestOptions) {
		o.Headers = headers.Merge(o.Headers, h)
	}
}
