package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/law-makers/newsfetch/internal/config"
	"github.com/law-makers/newsfetch/internal/engine"
	"github.com/law-makers/newsfetch/internal/ratelimit"
	"github.com/law-makers/newsfetch/pkg/models"
)

// articleHTML is a page the light path accepts as-is
var articleHTML = "<html><head><title>News</title></head><body><article><h1>Headline</h1>" +
	strings.Repeat("<p>Paragraph text about the news of the day, long enough to count as content.</p>\n", 30) +
	"</article></body></html>"

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// fakeBrowser stands in for the chromedp path
type fakeBrowser struct {
	mu    sync.Mutex
	calls int
	reqs  []engine.Request
	fn    func(call int, req engine.Request) (*engine.BrowserResult, error)
}

func (b *fakeBrowser) Fetch(ctx context.Context, req engine.Request) (*engine.BrowserResult, error) {
	b.mu.Lock()
	b.calls++
	call := b.calls
	b.reqs = append(b.reqs, req)
	b.mu.Unlock()

	if b.fn == nil {
		return nil, engine.NewFetchError(engine.ErrCodeBrowser, req.URL, "no browser in tests", errors.New("unavailable")).WithRetry()
	}
	return b.fn(call, req)
}

func (b *fakeBrowser) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// renders returns a browser that serves body with status
func renders(status int, body string) *fakeBrowser {
	return &fakeBrowser{fn: func(_ int, req engine.Request) (*engine.BrowserResult, error) {
		return &engine.BrowserResult{Result: browserPage(req.URL, status, body)}, nil
	}}
}

func browserPage(url string, status int, body string) *models.FetchResult {
	return &models.FetchResult{
		URL:          url,
		RequestedURL: url,
		StatusCode:   status,
		Body:         body,
		Headers:      map[string]string{},
		Path:         models.PathBrowser,
		FetchedAt:    time.Now(),
	}
}

// newTestClient builds a client with no rate limit, a fake clock and no cache
func newTestClient(t *testing.T, opts Options) (*Client, *fakeClock) {
	t.Helper()

	if opts.Config == nil {
		cfg := config.Default()
		cfg.CacheEnabled = opts.Cache != nil
		cfg.HTTPTimeout = 5 * time.Second
		opts.Config = cfg
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewIntervalLimiter(0)
	}
	clk := newFakeClock()
	if opts.Clock == nil {
		opts.Clock = clk
	}
	if opts.Browser == nil {
		opts.Browser = &fakeBrowser{}
	}

	c, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c, clk
}

func assertSleeps(t *testing.T, got []time.Duration, want ...time.Duration) {
	t.Helper()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Expected sleeps %v, got %v", want, got)
	}
}
