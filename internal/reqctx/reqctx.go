// Package reqctx carries a per-request id through fetches, their logs and
// their errors.
package reqctx

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/law-makers/newsfetch/internal/logging"
)

type key struct{}

// unknownID is reported for contexts without a request
const unknownID = "unknown"

// RequestContext describes one Get or Download call
type RequestContext struct {
	RequestID string
	URL       string
	StartTime time.Time
}

// Elapsed returns the time since the request started
func (rc *RequestContext) Elapsed() time.Duration {
	return time.Since(rc.StartTime)
}

// WithRequestContext attaches a new request id to ctx. An existing request
// context is kept so nested calls share one id.
func WithRequestContext(ctx context.Context, url string) context.Context {
	if _, ok := From(ctx); ok {
		return ctx
	}
	return context.WithValue(ctx, key{}, &RequestContext{
		RequestID: uuid.NewString(),
		URL:       url,
		StartTime: time.Now(),
	})
}

// From returns the request context carried by ctx
func From(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(key{}).(*RequestContext)
	return rc, ok
}

// ID returns the request id carried by ctx, or "unknown"
func ID(ctx context.Context) string {
	if rc, ok := From(ctx); ok {
		return rc.RequestID
	}
	return unknownID
}

// Logger returns a component logger tagged with the request id of ctx
func Logger(ctx context.Context, component string) *zerolog.Logger {
	l := logging.WithComponent(component).With().Str("request_id", ID(ctx)).Logger()
	return &l
}

// RequestError wraps an error with the request it belongs to
type RequestError struct {
	RequestID string
	URL       string
	Err       error
}

func (e *RequestError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("[%s] %s: %v", e.RequestID, e.URL, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.RequestID, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// NewRequestError wraps err with the request carried by ctx. A nil err stays nil.
func NewRequestError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	re := &RequestError{RequestID: unknownID, Err: err}
	if rc, ok := From(ctx); ok {
		re.RequestID = rc.RequestID
		re.URL = rc.URL
	}
	return re
}
