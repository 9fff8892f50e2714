// internal/engine/static/scraper.go
package static

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/law-makers/newsfetch/internal/engine"
	"github.com/law-makers/newsfetch/internal/logging"
	"github.com/law-makers/newsfetch/internal/proxy"
	"github.com/law-makers/newsfetch/pkg/models"
)

// maxBodyBytes caps how much of a response body is buffered
const maxBodyBytes = 20 << 20

// Fetcher is the light HTTP path: plain GET requests through the current
// proxy identity with a shared cookie jar
type Fetcher struct {
	jar     http.CookieJar
	timeout time.Duration
	maxBody int64

	mu         sync.Mutex
	transports map[string]*http.Transport
}

// New creates a Fetcher sharing jar across every identity
func New(jar http.CookieJar, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		jar:        jar,
		timeout:    timeout,
		maxBody:    maxBodyBytes,
		transports: make(map[string]*http.Transport),
	}
}

// Name returns the name of this fetcher
func (f *Fetcher) Name() string {
	return "StaticFetcher"
}

// Do issues the request and returns the raw response. The caller closes the body.
func (f *Fetcher) Do(ctx context.Context, req engine.Request) (*http.Response, error) {
	client, err := f.client(req)
	if err != nil {
		return nil, engine.NewFetchError(engine.ErrCodeNetwork, req.URL, "proxy transport", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, engine.NewFetchError(engine.ErrCodeValidation, req.URL, "failed to create request", engine.ErrInvalidURL)
	}

	// Set default headers
	httpReq.Header.Set("User-Agent", req.UserAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	httpReq.Header.Set("Upgrade-Insecure-Requests", "1")

	// Caller headers win
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", engine.RandomUserAgent())
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, engine.NewFetchError(engine.ErrCodeNetwork, req.URL, "failed to fetch URL", err).WithRetry()
	}
	return resp, nil
}

// Fetch performs one GET and normalizes the response. Non-2xx statuses are
// returned as results, not errors; only transport failures are errors.
func (f *Fetcher) Fetch(ctx context.Context, req engine.Request) (*models.FetchResult, error) {
	logger := logging.WithComponent("static")
	start := time.Now()

	logger.Debug().
		Str("url", req.URL).
		Str("proxy", identityLabel(req.Proxy)).
		Msg("Starting fetch")

	resp, err := f.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, engine.NewFetchError(engine.ErrCodeNetwork, req.URL, "failed to read body", err).WithRetry()
	}
	if int64(len(body)) > f.maxBody {
		logger.Warn().
			Str("url", req.URL).
			Int64("limit", f.maxBody).
			Msg("Response body exceeds limit")
		return nil, engine.NewFetchError(engine.ErrCodeNetwork, req.URL,
			fmt.Sprintf("response body exceeds %d bytes", f.maxBody), nil)
	}

	responseTime := time.Since(start).Milliseconds()

	result := &models.FetchResult{
		URL:          resp.Request.URL.String(),
		RequestedURL: req.URL,
		StatusCode:   resp.StatusCode,
		Body:         string(body),
		Headers:      make(map[string]string, len(resp.Header)),
		Path:         models.PathLight,
		FetchedAt:    time.Now(),
		ResponseTime: responseTime,
	}

	// Extract headers
	for key, values := range resp.Header {
		if len(values) > 0 {
			result.Headers[key] = values[0]
		}
	}

	logger.Debug().
		Str("url", req.URL).
		Int("status", resp.StatusCode).
		Int64("response_time_ms", responseTime).
		Int("bytes", len(body)).
		Msg("Fetch completed")

	return result, nil
}

// Close releases idle connections of every identity transport
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tr := range f.transports {
		tr.CloseIdleConnections()
	}
}

func (f *Fetcher) client(req engine.Request) (*http.Client, error) {
	tr, err := f.transport(req.Proxy)
	if err != nil {
		return nil, err
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = f.timeout
	}
	return &http.Client{
		Transport: tr,
		Jar:       f.jar,
		Timeout:   timeout,
	}, nil
}

// transport returns the cached transport for id, creating it on first use
func (f *Fetcher) transport(id *proxy.Identity) (*http.Transport, error) {
	key := "direct"
	if id != nil {
		key = id.HTTPURL()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if tr, ok := f.transports[key]; ok {
		return tr, nil
	}
	tr, err := proxy.Transport(id, f.timeout)
	if err != nil {
		return nil, err
	}
	f.transports[key] = tr
	return tr, nil
}

func identityLabel(id *proxy.Identity) string {
	if id == nil {
		return "direct"
	}
	return id.String()
}

