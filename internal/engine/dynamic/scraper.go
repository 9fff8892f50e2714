// internal/engine/dynamic/scraper.go
package dynamic

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/law-makers/newsfetch/internal/challenge"
	"github.com/law-makers/newsfetch/internal/engine"
	"github.com/law-makers/newsfetch/internal/logging"
	"github.com/law-makers/newsfetch/pkg/models"
)

// Options configure the browser path
type Options struct {
	Headless   bool
	ChromePath string
	Timeout    time.Duration
	Settle     time.Duration
	Solver     *challenge.Solver
}

// Fetcher renders pages in headless Chrome. Each Fetch launches its own
// browser so the proxy server can be set at launch.
type Fetcher struct {
	opts       Options
	chromePath string
	once       sync.Once
}

// New creates a browser Fetcher
func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Settle <= 0 {
		opts.Settle = 2 * time.Second
	}
	return &Fetcher{opts: opts}
}

// Name returns the name of this fetcher
func (d *Fetcher) Name() string {
	return "BrowserFetcher"
}

func (d *Fetcher) execPath() string {
	d.once.Do(func() {
		if d.opts.ChromePath != "" {
			d.chromePath = FindChrome(d.opts.ChromePath)
		} else {
			d.chromePath = FindChrome()
		}
		if e := logging.WithComponent("browser").Debug(); e.Enabled() {
			e.Str("path", d.chromePath).
				Str("version", ChromeVersion(context.Background(), d.chromePath)).
				Msg("Chrome located")
		}
	})
	return d.chromePath
}

// allocatorOptions returns the Chrome launch flags for one session
func (d *Fetcher) allocatorOptions(req engine.Request, width, height int) []chromedp.ExecAllocatorOption {
	headless := "new"
	if !d.opts.Headless {
		headless = "false"
	}

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-breakpad", true),
		chromedp.Flag("disable-client-side-phishing-detection", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-ipc-flooding-protection", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("force-color-profile", "srgb"),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("safebrowsing-disable-auto-update", true),
		chromedp.Flag("disable-features", "site-per-process,TranslateUI,BlinkGenPropertyTrees"),
		chromedp.Flag("enable-features", "NetworkService,NetworkServiceInProcess"),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("window-size", fmt.Sprintf("%d,%d", width, height)),
		chromedp.Flag("disk-cache-size", "0"),
		chromedp.Flag("media-cache-size", "0"),
		chromedp.UserAgent(req.UserAgent),
	}

	if headless == "false" {
		opts = append(opts, chromedp.Flag("headless", false))
	} else {
		opts = append(opts, chromedp.Flag("headless", headless))
	}

	if path := d.execPath(); path != "" {
		opts = append([]chromedp.ExecAllocatorOption{chromedp.ExecPath(path)}, opts...)
	}

	if req.Proxy != nil {
		opts = append(opts, chromedp.ProxyServer(req.Proxy.Browser().Server))
	}

	return opts
}

// documentResponse tracks the last main-frame document response
type documentResponse struct {
	mu      sync.Mutex
	status  int64
	url     string
	headers map[string]string
}

func (r *documentResponse) set(resp *network.Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = resp.Status
	r.url = resp.URL
	r.headers = make(map[string]string, len(resp.Headers))
	for key, value := range resp.Headers {
		if s, ok := value.(string); ok {
			r.headers[key] = s
		}
	}
}

func (r *documentResponse) get() (int64, string, map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.url, r.headers
}

// Fetch renders req.URL, clears a challenge when the solver can, and returns
// the page with the session cookies for the URL
func (d *Fetcher) Fetch(ctx context.Context, req engine.Request) (*engine.BrowserResult, error) {
	logger := logging.WithComponent("dynamic")
	start := time.Now()

	timeout := req.Timeout
	if timeout <= 0 || timeout < d.opts.Timeout {
		timeout = d.opts.Timeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	width := 1280 + rand.IntN(1920-1280+1)
	height := 720 + rand.IntN(1080-720+1)
	if req.UserAgent == "" {
		req.UserAgent = engine.RandomUserAgent()
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, d.allocatorOptions(req, width, height)...)
	defer allocCancel()

	bctx, bcancel := chromedp.NewContext(allocCtx)
	defer bcancel()

	logger.Debug().
		Str("url", req.URL).
		Int("width", width).
		Int("height", height).
		Dur("elapsed_ms", time.Since(start)).
		Msg("Created browser context")

	doc := &documentResponse{}
	withAuth := req.Proxy != nil && req.Proxy.Username != ""

	// Listen for network events to capture status code and headers
	chromedp.ListenTarget(bctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *network.EventResponseReceived:
			if ev.Type != network.ResourceTypeDocument {
				return
			}
			c := chromedp.FromContext(bctx)
			if c == nil || c.Target == nil || string(ev.FrameID) != string(c.Target.TargetID) {
				return
			}
			doc.set(ev.Response)
		case *fetch.EventRequestPaused:
			go func() {
				execCtx := cdp.WithExecutor(bctx, chromedp.FromContext(bctx).Target)
				if err := fetch.ContinueRequest(ev.RequestID).Do(execCtx); err != nil {
					logger.Debug().Err(err).Msg("Failed to continue paused request")
				}
			}()
		case *fetch.EventAuthRequired:
			if !withAuth {
				return
			}
			go func() {
				execCtx := cdp.WithExecutor(bctx, chromedp.FromContext(bctx).Target)
				resp := &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: req.Proxy.Username,
					Password: req.Proxy.Password,
				}
				if err := fetch.ContinueWithAuth(ev.RequestID, resp).Do(execCtx); err != nil {
					logger.Debug().Err(err).Msg("Failed to answer proxy auth")
				}
			}()
		}
	})

	tasks := chromedp.Tasks{network.Enable()}
	if withAuth {
		tasks = append(tasks, fetch.Enable().WithHandleAuthRequests(true))
	}
	tasks = append(tasks,
		emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1, false),
	)
	if headers := extraHeaders(req.Headers); len(headers) > 0 {
		tasks = append(tasks, network.SetExtraHTTPHeaders(headers))
	}

	var html, location string
	tasks = append(tasks,
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		// Small sleep to let initial JS execute
		chromedp.Sleep(300*time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(bctx, tasks...); err != nil {
		return nil, browserError(req.URL, "navigation failed", err)
	}

	outcome := engine.ChallengeNone
	if d.opts.Solver.Available() {
		if det := challenge.Detect(html); det.Detected {
			logger.Info().
				Str("url", req.URL).
				Str("family", string(det.Family)).
				Str("reason", det.Reason).
				Msg("Challenge detected in browser")

			outcome = engine.ChallengeFailed
			if d.opts.Solver.SolvePage(bctx, req.URL) {
				outcome = engine.ChallengeSolved
				if err := chromedp.Run(bctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
					return nil, browserError(req.URL, "failed to re-read page after challenge", err)
				}
			}
		}
	}

	var cookies []*network.Cookie
	err := chromedp.Run(bctx,
		chromedp.Location(&location),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().WithURLs([]string{req.URL}).Do(ctx)
			return err
		}),
	)
	if err != nil {
		logger.Warn().Err(err).Str("url", req.URL).Msg("Failed to read session state")
	}

	status, docURL, headers := doc.get()
	if status == 0 && html != "" {
		// No document response observed (served from memory or a data URL)
		status = http.StatusOK
	}
	if location == "" {
		location = docURL
	}
	if location == "" {
		location = req.URL
	}

	responseTime := time.Since(start).Milliseconds()

	result := &models.FetchResult{
		URL:          location,
		RequestedURL: req.URL,
		StatusCode:   int(status),
		Body:         html,
		Headers:      headers,
		Path:         models.PathBrowser,
		FetchedAt:    time.Now(),
		ResponseTime: responseTime,
	}
	if result.Headers == nil {
		result.Headers = make(map[string]string)
	}

	logger.Info().
		Str("url", req.URL).
		Int("status", result.StatusCode).
		Int64("response_time_ms", responseTime).
		Str("challenge", outcome.String()).
		Msg("Fetch completed")

	return &engine.BrowserResult{
		Result:    result,
		Cookies:   convertCookies(cookies),
		Challenge: outcome,
	}, nil
}

// extraHeaders converts caller headers for network.SetExtraHTTPHeaders. The
// user agent is set at launch instead.
func extraHeaders(in map[string]string) network.Headers {
	out := make(network.Headers, len(in))
	for k, v := range in {
		if strings.EqualFold(k, "User-Agent") {
			continue
		}
		out[k] = v
	}
	return out
}

func convertCookies(in []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HttpOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, hc)
	}
	return out
}

func browserError(url, msg string, err error) error {
	fe := engine.NewFetchError(engine.ErrCodeBrowser, url, msg, err)
	if strings.Contains(err.Error(), "executable file not found") {
		fe.Underlying = fmt.Errorf("%w: %v", engine.ErrBrowserNotFound, err)
		return fe
	}
	return fe.WithRetry()
}
