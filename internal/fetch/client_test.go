package fetch

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/law-makers/newsfetch/internal/cache"
	"github.com/law-makers/newsfetch/internal/engine"
	"github.com/law-makers/newsfetch/internal/proxy"
	"github.com/law-makers/newsfetch/internal/reqctx"
	"github.com/law-makers/newsfetch/pkg/models"
)

func TestGet_LightPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Caller") != "1" {
			t.Errorf("Expected caller header, got %q", r.Header.Get("X-Caller"))
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("Expected a user agent")
		}
		w.Write([]byte(articleHTML))
	}))
	defer server.Close()

	browser := &fakeBrowser{}
	c, clk := newTestClient(t, Options{Browser: browser})

	res, err := c.Get(t.Context(), server.URL, WithHeaders(map[string]string{"X-Caller": "1"}))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if res.Path != models.PathLight {
		t.Errorf("Expected light path, got %s", res.Path)
	}
	if res.StatusCode != http.StatusOK || res.Body != articleHTML {
		t.Errorf("Unexpected result: status=%d len=%d", res.StatusCode, len(res.Body))
	}
	if browser.Calls() != 0 {
		t.Errorf("Browser should not be used, got %d calls", browser.Calls())
	}
	assertSleeps(t, clk.Sleeps())
}

func TestGet_HonorsRetryAfter(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(articleHTML))
	}))
	defer server.Close()

	browser := &fakeBrowser{}
	c, clk := newTestClient(t, Options{Browser: browser})

	res, err := c.Get(t.Context(), server.URL, WithRetries(1))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if res.Path != models.PathLight {
		t.Errorf("Expected light path after the wait, got %s", res.Path)
	}

	sleeps := clk.Sleeps()
	if len(sleeps) != 1 || sleeps[0] < 5*time.Second {
		t.Errorf("Expected one sleep of at least 5s, got %v", sleeps)
	}
	if hits.Load() != 2 {
		t.Errorf("Expected 2 requests, got %d", hits.Load())
	}
	if browser.Calls() != 0 {
		t.Errorf("Retry-After wait should not consume the attempt budget, browser called %d times", browser.Calls())
	}
}

func TestGet_RetryAfterBudgetEscalates(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	browser := renders(http.StatusOK, articleHTML)
	c, clk := newTestClient(t, Options{Browser: browser})

	res, err := c.Get(t.Context(), server.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if res.Path != models.PathBrowser {
		t.Errorf("Expected browser path, got %s", res.Path)
	}
	if hits.Load() != 4 {
		t.Errorf("Expected 4 light requests (3 waits then escalation), got %d", hits.Load())
	}
	assertSleeps(t, clk.Sleeps(), time.Second, time.Second, time.Second)
	if browser.Calls() != 1 {
		t.Errorf("Expected one browser call, got %d", browser.Calls())
	}
}

func TestGet_ChallengeEscalatesAndFoldsCookies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("cf_clearance"); err == nil && c.Value == "ok" {
			w.Write([]byte(articleHTML))
			return
		}
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`<html><body><div class="cf-turnstile" data-sitekey="0x4AAA"></div></body></html>`))
	}))
	defer server.Close()

	browser := &fakeBrowser{fn: func(_ int, req engine.Request) (*engine.BrowserResult, error) {
		return &engine.BrowserResult{
			Result:    browserPage(req.URL, http.StatusOK, articleHTML),
			Cookies:   []*http.Cookie{{Name: "cf_clearance", Value: "ok", Path: "/"}},
			Challenge: engine.ChallengeSolved,
		}, nil
	}}
	c, _ := newTestClient(t, Options{Browser: browser})

	res, err := c.Get(t.Context(), server.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if res.Path != models.PathBrowser {
		t.Errorf("Expected browser path, got %s", res.Path)
	}

	// The clearance cookie now rides on the light path
	res, err = c.Get(t.Context(), server.URL)
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if res.Path != models.PathLight {
		t.Errorf("Expected light path with folded cookie, got %s", res.Path)
	}
	if browser.Calls() != 1 {
		t.Errorf("Expected one browser call, got %d", browser.Calls())
	}
}

func TestGet_ShortBodyUsesRemainingBudget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><div id="app"></div><script src="/app.js"></script></body></html>`))
	}))
	defer server.Close()

	browser := &fakeBrowser{fn: func(call int, req engine.Request) (*engine.BrowserResult, error) {
		if call == 1 {
			return nil, engine.NewFetchError(engine.ErrCodeBrowser, req.URL, "navigation failed", errors.New("net::ERR_TIMED_OUT")).WithRetry()
		}
		return &engine.BrowserResult{Result: browserPage(req.URL, http.StatusOK, articleHTML)}, nil
	}}
	c, clk := newTestClient(t, Options{Browser: browser})

	res, err := c.Get(t.Context(), server.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if res.Path != models.PathBrowser {
		t.Errorf("Expected browser path, got %s", res.Path)
	}
	if browser.Calls() != 2 {
		t.Errorf("Expected 2 browser attempts, got %d", browser.Calls())
	}
	assertSleeps(t, clk.Sleeps(), time.Second)
}

func TestGet_Exhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := server.URL
	server.Close()

	browser := &fakeBrowser{}
	c, clk := newTestClient(t, Options{Browser: browser})

	_, err := c.Get(t.Context(), deadURL)
	if err == nil {
		t.Fatal("Expected error for unreachable host")
	}

	if engine.CodeOf(err) != engine.ErrCodeExhausted {
		t.Errorf("Expected EXHAUSTED, got %s (%v)", engine.CodeOf(err), err)
	}
	var re *reqctx.RequestError
	if !errors.As(err, &re) || re.RequestID == "" {
		t.Errorf("Expected request id on error, got %v", err)
	}
	if browser.Calls() != 1 {
		t.Errorf("Expected exactly one browser attempt, got %d", browser.Calls())
	}
	assertSleeps(t, clk.Sleeps(), time.Second, 2*time.Second)
}

func TestGet_BrowserChallengeFailure(t *testing.T) {
	browser := &fakeBrowser{fn: func(_ int, req engine.Request) (*engine.BrowserResult, error) {
		return &engine.BrowserResult{
			Result:    browserPage(req.URL, http.StatusForbidden, "<html><body>blocked</body></html>"),
			Challenge: engine.ChallengeFailed,
		}, nil
	}}
	c, _ := newTestClient(t, Options{Browser: browser})

	_, err := c.Get(t.Context(), "https://example.com/story", ForceBrowser(), WithRetries(2))
	if err == nil {
		t.Fatal("Expected error when the challenge cannot be solved")
	}
	if !errors.Is(err, engine.ErrChallenge) {
		t.Errorf("Expected challenge error in chain, got %v", err)
	}
	if browser.Calls() != 2 {
		t.Errorf("Expected 2 browser attempts, got %d", browser.Calls())
	}
}

func TestGet_ForceBrowser(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	browser := renders(http.StatusOK, articleHTML)
	c, _ := newTestClient(t, Options{Browser: browser})

	res, err := c.Get(t.Context(), server.URL, ForceBrowser())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if res.Path != models.PathBrowser {
		t.Errorf("Expected browser path, got %s", res.Path)
	}
	if hits.Load() != 0 {
		t.Errorf("Light path should be skipped, got %d hits", hits.Load())
	}
	if browser.reqs[0].UserAgent == "" {
		t.Error("Browser request should carry a user agent")
	}
}

func TestGet_InvalidURL(t *testing.T) {
	c, _ := newTestClient(t, Options{})

	_, err := c.Get(t.Context(), "ftp://example.com/file")
	if engine.CodeOf(err) != engine.ErrCodeValidation {
		t.Errorf("Expected VALIDATION, got %v", err)
	}
	if !errors.Is(err, engine.ErrInvalidURL) {
		t.Errorf("Expected ErrInvalidURL in chain, got %v", err)
	}
}

func TestGet_CoalescesConcurrentCalls(t *testing.T) {
	var hits atomic.Int32
	arrived := make(chan struct{})
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			close(arrived)
		}
		<-release
		w.Header().Set("X-Page", "1")
		w.Write([]byte(articleHTML))
	}))
	defer server.Close()

	c, _ := newTestClient(t, Options{})

	const callers = 5
	results := make([]*models.FetchResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = c.Get(t.Context(), server.URL)
	}()

	<-arrived
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Get(t.Context(), server.URL)
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if hits.Load() != 1 {
		t.Errorf("Expected one upstream request, got %d", hits.Load())
	}
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if results[i].Body != articleHTML {
			t.Errorf("caller %d got unexpected body", i)
		}
	}

	results[0].Headers["X-Page"] = "mutated"
	if results[1].Headers["X-Page"] != "1" {
		t.Error("Coalesced callers should receive independent copies")
	}
}

func TestGet_CacheHit(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(articleHTML))
	}))
	defer server.Close()

	store, err := cache.New(cache.Options{Dir: t.TempDir(), Name: "pages", TTL: time.Hour, Enabled: true})
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}
	c, _ := newTestClient(t, Options{Cache: store})

	first, err := c.Get(t.Context(), server.URL+"/story?utm=1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if first.Path != models.PathLight {
		t.Errorf("Expected light path, got %s", first.Path)
	}

	second, err := c.Get(t.Context(), server.URL+"/story")
	if err != nil {
		t.Fatalf("cached Get failed: %v", err)
	}
	if second.Path != models.PathCache {
		t.Errorf("Expected cache path, got %s", second.Path)
	}
	if second.Body != articleHTML {
		t.Error("Cached body differs")
	}
	if hits.Load() != 1 {
		t.Errorf("Expected one upstream request, got %d", hits.Load())
	}

	if _, err := c.Get(t.Context(), server.URL+"/story", WithoutCache()); err != nil {
		t.Fatalf("uncached Get failed: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("WithoutCache should reach the server, got %d hits", hits.Load())
	}
}

func TestGet_ErrorStatusNotCached(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	store, err := cache.New(cache.Options{Dir: t.TempDir(), Name: "pages", TTL: time.Hour, Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	c, _ := newTestClient(t, Options{Cache: store, Browser: renders(http.StatusNotFound, "<html><body>Not found</body></html>")})

	res, err := c.Get(t.Context(), server.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 result, got %d", res.StatusCode)
	}
	if store.IsCached(server.URL) {
		t.Error("Non-2xx results must not be cached")
	}
}

func TestGet_BlacklistsDeadProxy(t *testing.T) {
	// A forward proxy answering every request with the article
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !r.URL.IsAbs() {
			t.Errorf("Expected absolute-form proxy request, got %s", r.URL)
		}
		w.Write([]byte(articleHTML))
	}))
	defer live.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	deadAddr := ln.Addr().String()
	ln.Close()

	dead := &proxy.Identity{Server: deadAddr, Protocol: "http"}
	liveID := &proxy.Identity{Server: live.Listener.Addr().String(), Protocol: "http"}
	manager := proxy.NewManager(proxy.Options{
		Enabled: true,
		Intn:    func(int) int { return 0 },
	}, dead, liveID)

	c, clk := newTestClient(t, Options{Proxies: manager})

	res, err := c.Get(t.Context(), "http://news.example.test/story")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if res.Body != articleHTML {
		t.Error("Expected article through the live proxy")
	}
	if !manager.IsBlacklisted(dead) {
		t.Error("Dead proxy should be blacklisted")
	}
	if got := manager.Current(); got == nil || got.Server != liveID.Server {
		t.Errorf("Expected live proxy to be current, got %v", got)
	}
	assertSleeps(t, clk.Sleeps(), time.Second)
}

func TestGet_ArticleWithFormWidgetStaysLight(t *testing.T) {
	page := strings.Replace(articleHTML, "</body>",
		`<form><div class="g-recaptcha" data-sitekey="6LcFORM"></div></form></body>`, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer server.Close()

	browser := renders(http.StatusOK, page)
	c, _ := newTestClient(t, Options{Browser: browser})

	res, err := c.Get(t.Context(), server.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if res.Path != models.PathLight {
		t.Errorf("Expected light path, got %s", res.Path)
	}
	if browser.Calls() != 0 {
		t.Errorf("A page widget should not escalate, browser called %d times", browser.Calls())
	}
}

func TestGet_GatedBrowserPageWithContent(t *testing.T) {
	browser := renders(http.StatusForbidden, articleHTML)
	c, _ := newTestClient(t, Options{Browser: browser})

	res, err := c.Get(t.Context(), "https://example.com/story", ForceBrowser(), WithRetries(2))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if res.StatusCode != http.StatusForbidden || res.Body != articleHTML {
		t.Errorf("Expected the rendered page back, got status=%d len=%d", res.StatusCode, len(res.Body))
	}
	if browser.Calls() != 1 {
		t.Errorf("Expected one browser attempt, got %d", browser.Calls())
	}
}

func TestGet_GatedBrowserPageRecordsStatus(t *testing.T) {
	browser := renders(http.StatusForbidden, `<html><body><div class="cf-turnstile" data-sitekey="0x4AAA"></div></body></html>`)
	c, _ := newTestClient(t, Options{Browser: browser})

	_, err := c.Get(t.Context(), "https://example.com/story", ForceBrowser(), WithRetries(1))
	if err == nil {
		t.Fatal("Expected error for a gated page")
	}

	var gated *engine.FetchError
	for e := error(err); e != nil; e = errors.Unwrap(e) {
		if fe, ok := e.(*engine.FetchError); ok && fe.Code == engine.ErrCodeChallenge {
			gated = fe
			break
		}
	}
	if gated == nil {
		t.Fatalf("Expected a CHALLENGE error in the chain, got %v", err)
	}
	if gated.Details["status"] != http.StatusForbidden {
		t.Errorf("Expected status detail 403, got %v", gated.Details["status"])
	}
}

func TestGet_DistinctQueriesNotCoalesced(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 2 {
			close(release)
		}
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		w.Write([]byte(articleHTML + "<!-- PAGE=" + r.URL.Query().Get("page") + " -->"))
	}))
	defer server.Close()

	c, _ := newTestClient(t, Options{})

	pages := []string{"1", "2"}
	results := make([]*models.FetchResult, len(pages))
	errs := make([]error, len(pages))

	var wg sync.WaitGroup
	for i, p := range pages {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.Get(t.Context(), server.URL+"/list?page="+p, WithoutCache())
		}()
	}
	wg.Wait()

	for i, p := range pages {
		if errs[i] != nil {
			t.Fatalf("page %s failed: %v", p, errs[i])
		}
		if !strings.Contains(results[i].Body, "PAGE="+p) {
			t.Errorf("page %s got another page's body", p)
		}
		if !strings.HasSuffix(results[i].RequestedURL, "page="+p) {
			t.Errorf("page %s has RequestedURL %s", p, results[i].RequestedURL)
		}
	}
	if hits.Load() != 2 {
		t.Errorf("Expected 2 upstream requests, got %d", hits.Load())
	}
}

func TestFlightKey(t *testing.T) {
	base := models.RequestOptions{URL: "https://example.com/list?page=1", UseCache: true}

	variants := []models.RequestOptions{
		{URL: "https://example.com/list?page=2", UseCache: true},
		{URL: base.URL, UseCache: false},
		{URL: base.URL, UseCache: true, ForceBrowser: true},
		{URL: base.URL, UseCache: true, Headers: map[string]string{"Accept-Language": "de"}},
	}
	for _, v := range variants {
		if flightKey(v) == flightKey(base) {
			t.Errorf("Expected %+v to get its own flight key", v)
		}
	}

	same := models.RequestOptions{URL: base.URL, UseCache: true}
	if flightKey(same) != flightKey(base) {
		t.Error("Identical options should share a flight key")
	}
}
