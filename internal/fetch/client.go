// Package fetch is the resilient fetch client: cache lookup, a light HTTP
// path, escalation to a rendering browser, retry with backoff and caching of
// successful results.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/law-makers/newsfetch/internal/cache"
	"github.com/law-makers/newsfetch/internal/challenge"
	"github.com/law-makers/newsfetch/internal/config"
	"github.com/law-makers/newsfetch/internal/engine"
	"github.com/law-makers/newsfetch/internal/engine/dynamic"
	"github.com/law-makers/newsfetch/internal/engine/static"
	"github.com/law-makers/newsfetch/internal/logging"
	"github.com/law-makers/newsfetch/internal/metrics"
	"github.com/law-makers/newsfetch/internal/proxy"
	"github.com/law-makers/newsfetch/internal/ratelimit"
	"github.com/law-makers/newsfetch/internal/reqctx"
	"github.com/law-makers/newsfetch/internal/retry"
	"github.com/law-makers/newsfetch/internal/utils/headers"
	urlutil "github.com/law-makers/newsfetch/internal/utils/url"
	"github.com/law-makers/newsfetch/pkg/models"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"
)

// errEscalate moves a request from the light path to the browser path
var errEscalate = errors.New("escalate to browser")

// BrowserFetcher renders one page. engine/dynamic.Fetcher is the production
// implementation.
type BrowserFetcher interface {
	Fetch(ctx context.Context, req engine.Request) (*engine.BrowserResult, error)
}

// Options wire a Client. Zero fields get production defaults built from Config.
type Options struct {
	Config  *config.Config
	Proxies *proxy.Manager
	Cache   *cache.Store
	Solver  *challenge.Solver
	Browser BrowserFetcher
	Limiter ratelimit.RateLimiter
	Metrics *metrics.Metrics
	Clock   retry.Clock
	Jar     http.CookieJar
}

// Client fetches URLs from hostile targets
type Client struct {
	cfg     *config.Config
	light   *static.Fetcher
	browser BrowserFetcher
	proxies *proxy.Manager
	cache   *cache.Store
	limiter ratelimit.RateLimiter
	metrics *metrics.Metrics
	clock   retry.Clock
	jar     http.CookieJar
	group   singleflight.Group
}

// New creates a Client
func New(opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	jar := opts.Jar
	if jar == nil {
		j, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		jar = j
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.New(cfg.MinRequestInterval, cfg.PerHostRPS, cfg.PerHostBurst)
	}

	clock := opts.Clock
	if clock == nil {
		clock = retry.SystemClock{}
	}

	browser := opts.Browser
	if browser == nil {
		browser = dynamic.New(dynamic.Options{
			Headless:   cfg.BrowserHeadless,
			ChromePath: cfg.ChromePath,
			Timeout:    cfg.BrowserTimeout,
			Settle:     cfg.BrowserSettle,
			Solver:     opts.Solver,
		})
	}

	return &Client{
		cfg:     cfg,
		light:   static.New(jar, cfg.HTTPTimeout),
		browser: browser,
		proxies: opts.Proxies,
		cache:   opts.Cache,
		limiter: limiter,
		metrics: opts.Metrics,
		clock:   clock,
		jar:     jar,
	}, nil
}

// Close releases idle connections
func (c *Client) Close() {
	c.light.Close()
}

// Get returns the content at rawURL. Concurrent calls for the same URL share
// one fetch and each receive their own copy of the result.
func (c *Client) Get(ctx context.Context, rawURL string, opts ...Option) (*models.FetchResult, error) {
	ctx = reqctx.WithRequestContext(ctx, rawURL)
	o := c.requestOptions(rawURL, opts)

	if err := urlutil.ValidateURL(rawURL); err != nil {
		fe := engine.NewFetchError(engine.ErrCodeValidation, rawURL, err.Error(), engine.ErrInvalidURL)
		return nil, reqctx.NewRequestError(ctx, fe)
	}

	if o.UseCache {
		if res, ok := c.cached(rawURL); ok {
			return res, nil
		}
	}

	v, err, shared := c.group.Do(flightKey(o), func() (interface{}, error) {
		return c.fetch(ctx, o)
	})
	if shared {
		c.metrics.Coalesced()
	}
	if err != nil {
		return nil, reqctx.NewRequestError(ctx, err)
	}
	if rc, ok := reqctx.From(ctx); ok {
		reqctx.Logger(ctx, "fetch").Debug().
			Str("url", rawURL).
			Bool("shared", shared).
			Dur("elapsed", rc.Elapsed()).
			Msg("Fetch complete")
	}
	return v.(*models.FetchResult).Clone(), nil
}

// flightKey identifies calls that may share one fetch: same full URL and the
// same options that shape the response
func flightKey(o models.RequestOptions) string {
	var b strings.Builder
	b.WriteString(o.URL)
	if o.ForceBrowser {
		b.WriteString("|browser")
	}
	if !o.UseCache {
		b.WriteString("|fresh")
	}
	for _, name := range slices.Sorted(maps.Keys(o.Headers)) {
		b.WriteString("|" + strings.ToLower(name) + "=" + o.Headers[name])
	}
	return b.String()
}

func (c *Client) requestOptions(rawURL string, opts []Option) models.RequestOptions {
	o := models.RequestOptions{
		URL:      rawURL,
		UseCache: c.cfg.CacheEnabled,
		Retries:  c.cfg.MaxRetries,
		Timeout:  c.cfg.HTTPTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Retries <= 0 {
		o.Retries = config.DefaultMaxRetries
	}
	return o
}

func (c *Client) cached(rawURL string) (*models.FetchResult, bool) {
	if c.cache == nil || !c.cache.Enabled() {
		return nil, false
	}

	var res models.FetchResult
	ok, err := c.cache.Get(rawURL, &res)
	if err != nil {
		logging.WithComponent("fetch").Warn().Err(err).Str("url", rawURL).Msg("Ignoring unreadable cache entry")
	}
	if !ok || err != nil {
		c.metrics.CacheMiss()
		return nil, false
	}

	c.metrics.CacheHit()
	res.Path = models.PathCache
	logging.WithComponent("fetch").Debug().Str("url", rawURL).Msg("Returning cached content")
	return &res, true
}

func (c *Client) fetch(ctx context.Context, o models.RequestOptions) (*models.FetchResult, error) {
	logger := reqctx.Logger(ctx, "fetch")
	start := c.clock.Now()

	var (
		res             *models.FetchResult
		err             error
		browserAttempts = o.Retries
	)

	if !o.ForceBrowser {
		var used int
		res, used, err = c.lightPath(ctx, o)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil, err
		case errors.Is(err, errEscalate):
			browserAttempts = max(1, o.Retries-used)
			logger.Info().
				Str("url", o.URL).
				Int("browser_attempts", browserAttempts).
				Str("reason", err.Error()).
				Msg("Switching to browser")
		case engine.CodeOf(err) == engine.ErrCodeValidation:
			return nil, err
		default:
			browserAttempts = 1
			logger.Warn().
				Err(err).
				Str("url", o.URL).
				Msg("Light fetch failed, making one browser attempt")
		}
	}

	if res == nil {
		res, err = c.browserPath(ctx, o, browserAttempts)
		if err != nil {
			return nil, err
		}
	}

	c.metrics.ObserveFetch(string(res.Path), c.clock.Now().Sub(start))

	if res.OK() && o.UseCache && c.cache != nil && c.cache.Enabled() {
		if err := c.cache.Put(o.URL, res); err != nil {
			logger.Warn().Err(err).Str("url", o.URL).Msg("Failed to cache result")
		}
	}

	return res, nil
}

// lightPath runs the plain HTTP attempts. It returns the number of attempts
// used so an escalation can hand the rest of the budget to the browser.
func (c *Client) lightPath(ctx context.Context, o models.RequestOptions) (*models.FetchResult, int, error) {
	logger := reqctx.Logger(ctx, "fetch")
	path := string(models.PathLight)
	cfg := c.retryConfig(o.Retries)

	var (
		result *models.FetchResult
		used   int
		waits  int
	)

	err := retry.Do(ctx, cfg, func(ctx context.Context, attempt int) error {
		used = attempt + 1

		if err := c.wait(ctx, o.URL); err != nil {
			return retry.Permanent(err)
		}

		id := c.proxies.Get(false)
		res, err := c.light.Fetch(ctx, c.request(o, id, o.Timeout))
		if err != nil {
			c.metrics.FetchAttempt(path, "error")
			return c.attemptFailed(err, id)
		}

		if res.StatusCode == http.StatusTooManyRequests && waits < cfg.MaxRetryAfterWaits {
			if delay, ok := retry.ParseRetryAfter(res.Header("Retry-After"), c.clock.Now()); ok {
				waits++
				c.metrics.FetchAttempt(path, "rate_limited")
				logger.Info().
					Str("url", o.URL).
					Dur("retry_after", delay).
					Int("wait", waits).
					Msg("Rate limited, honoring Retry-After")
				fe := engine.NewFetchError(engine.ErrCodeRateLimited, o.URL, "server asked to retry later", nil)
				return &retry.RetryAfterError{Delay: delay, Err: fe}
			}
		}

		if gated, reason := ChallengeGated(res); gated {
			c.metrics.FetchAttempt(path, "challenge")
			return retry.Permanent(fmt.Errorf("%w: challenge detected (%s)", errEscalate, reason))
		}
		if needs, reason := NeedsBrowser(res); needs {
			c.metrics.FetchAttempt(path, "needs_browser")
			return retry.Permanent(fmt.Errorf("%w: content needs rendering (%s)", errEscalate, reason))
		}

		c.metrics.FetchAttempt(path, "ok")
		result = res
		return nil
	})

	return result, used, err
}

// browserPath renders the page, retrying up to attempts times
func (c *Client) browserPath(ctx context.Context, o models.RequestOptions, attempts int) (*models.FetchResult, error) {
	logger := reqctx.Logger(ctx, "fetch")
	path := string(models.PathBrowser)
	cfg := c.retryConfig(attempts)

	var result *models.FetchResult

	err := retry.Do(ctx, cfg, func(ctx context.Context, attempt int) error {
		if err := c.wait(ctx, o.URL); err != nil {
			return retry.Permanent(err)
		}

		id := c.proxies.Get(false)
		timeout := c.cfg.BrowserTimeout
		if o.Timeout > timeout {
			timeout = o.Timeout
		}

		br, err := c.browser.Fetch(ctx, c.request(o, id, timeout))
		if err != nil {
			c.metrics.FetchAttempt(path, "error")
			if errors.Is(err, engine.ErrBrowserNotFound) {
				return retry.Permanent(err)
			}
			return c.attemptFailed(err, id)
		}

		c.foldCookies(o.URL, br.Cookies)
		res := br.Result

		if br.Challenge == engine.ChallengeFailed {
			c.metrics.FetchAttempt(path, "challenge")
			c.proxies.BlacklistCurrent(c.cfg.BlacklistDuration)
			return engine.NewFetchError(engine.ErrCodeChallenge, o.URL, "challenge could not be solved", engine.ErrChallenge).WithRetry()
		}

		if br.Challenge == engine.ChallengeSolved && !challenge.Detect(res.Body).Detected &&
			(res.StatusCode == http.StatusForbidden || res.StatusCode == http.StatusTooManyRequests) {
			// Token applied in place; the document status still reflects the challenge page
			logger.Debug().Str("url", o.URL).Int("status", res.StatusCode).Msg("Challenge cleared without reload")
			res.StatusCode = http.StatusOK
		}

		if res.StatusCode == http.StatusTooManyRequests {
			if delay, ok := retry.ParseRetryAfter(res.Header("Retry-After"), c.clock.Now()); ok {
				c.metrics.FetchAttempt(path, "rate_limited")
				fe := engine.NewFetchError(engine.ErrCodeRateLimited, o.URL, "server asked to retry later", nil)
				return &retry.RetryAfterError{Delay: delay, Err: fe}
			}
		}

		if gated, reason := ChallengeGated(res); gated {
			c.proxies.BlacklistCurrent(c.cfg.BlacklistDuration)
			if br.Challenge == engine.ChallengeNone && challenge.Substantial(res.Body) {
				// No solve was attempted and the rendered page has content of its own
				logger.Warn().
					Str("url", o.URL).
					Int("status", res.StatusCode).
					Str("reason", reason).
					Msg("Returning gated page with content")
				c.metrics.FetchAttempt(path, "ok")
				result = res
				return nil
			}
			c.metrics.FetchAttempt(path, "challenge")
			return engine.NewFetchError(engine.ErrCodeChallenge, o.URL, "challenge-gated: "+reason, engine.ErrChallenge).
				WithRetry().
				WithDetail("status", res.StatusCode)
		}

		if res.StatusCode >= 500 {
			c.metrics.FetchAttempt(path, "error")
			httpErr := retry.NewHTTPError(res.StatusCode, http.StatusText(res.StatusCode), "")
			return engine.NewFetchError(engine.ErrCodeNetwork, o.URL, "server error", httpErr).WithRetry()
		}

		c.metrics.FetchAttempt(path, "ok")
		result = res
		return nil
	})

	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			return nil, engine.NewFetchError(engine.ErrCodeExhausted, o.URL,
				fmt.Sprintf("all %d browser attempts failed", exhausted.Attempts), exhausted.Err)
		}
		return nil, err
	}

	logger.Debug().Str("url", o.URL).Int("status", result.StatusCode).Msg("Browser fetch succeeded")
	return result, nil
}

// attemptFailed classifies a transport failure. Egress failures bench the
// identity that produced them.
func (c *Client) attemptFailed(err error, id *proxy.Identity) error {
	if engine.CodeOf(err) == engine.ErrCodeValidation {
		return retry.Permanent(err)
	}
	if id != nil && engine.IsConnectionError(err) {
		logging.WithComponent("fetch").Warn().
			Err(err).
			Str("proxy", id.String()).
			Msg("Connection failed, blacklisting proxy")
		c.proxies.Blacklist(id, c.cfg.BlacklistDuration)
	}
	return err
}

func (c *Client) request(o models.RequestOptions, id *proxy.Identity, timeout time.Duration) engine.Request {
	return engine.Request{
		URL:       o.URL,
		Headers:   o.Headers,
		Proxy:     id,
		UserAgent: c.userAgent(o.Headers),
		Timeout:   timeout,
	}
}

// userAgent picks the agent for one attempt: a caller header, a configured
// agent, or a random Chrome agent
func (c *Client) userAgent(h map[string]string) string {
	if ua, ok := headers.Lookup(h, "User-Agent"); ok {
		return ua
	}
	if c.cfg.UserAgent != "" && c.cfg.UserAgent != config.DefaultUserAgent {
		return c.cfg.UserAgent
	}
	return engine.RandomUserAgent()
}

func (c *Client) wait(ctx context.Context, rawURL string) error {
	start := time.Now()
	err := c.limiter.Wait(ctx, rawURL)
	c.metrics.ObserveRateLimitWait(time.Since(start))
	return err
}

func (c *Client) retryConfig(attempts int) retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = attempts
	cfg.Clock = c.clock
	return cfg
}

// foldCookies stores browser session cookies that apply to rawURL's host in
// the shared jar
func (c *Client) foldCookies(rawURL string, cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}

	host := u.Hostname()
	matched := make([]*http.Cookie, 0, len(cookies))
	for _, ck := range cookies {
		if urlutil.DomainMatches(ck.Domain, host) {
			matched = append(matched, ck)
		}
	}
	if len(matched) == 0 {
		return
	}

	c.jar.SetCookies(u, matched)
	logging.WithComponent("fetch").Debug().
		Str("host", host).
		Int("cookies", len(matched)).
		Msg("Stored browser cookies")
}
