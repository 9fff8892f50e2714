package dynamic

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/law-makers/newsfetch/internal/engine"
	"github.com/law-makers/newsfetch/pkg/models"
)

func requireChrome(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	if FindChrome() == "" {
		t.Skip("Chrome not installed")
	}
}

func TestFetcher_Fetch_BasicHTML(t *testing.T) {
	requireChrome(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Test"); got != "yes" {
			t.Errorf("Expected extra header X-Test=yes, got %q", got)
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Test Page</title></head><body>
<h1>Hello from the browser</h1>
<script>document.body.insertAdjacentHTML('beforeend', '<p id="late">rendered</p>')</script>
</body></html>`))
	}))
	defer server.Close()

	f := New(Options{Headless: true, Timeout: 30 * time.Second})
	res, err := f.Fetch(t.Context(), engine.Request{
		URL:     server.URL,
		Headers: map[string]string{"X-Test": "yes"},
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if res.Result.Path != models.PathBrowser {
		t.Errorf("Expected browser path, got %s", res.Result.Path)
	}
	if res.Result.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", res.Result.StatusCode)
	}
	if !strings.Contains(res.Result.Body, `id="late"`) {
		t.Error("Expected script-rendered content in body")
	}
	if res.Challenge != engine.ChallengeNone {
		t.Errorf("Expected no challenge, got %s", res.Challenge)
	}

	found := false
	for _, c := range res.Cookies {
		if c.Name == "session" && c.Value == "abc" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected session cookie, got %v", res.Cookies)
	}
}

func TestFetcher_Fetch_StatusCode(t *testing.T) {
	requireChrome(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`<html><body>Access denied</body></html>`))
	}))
	defer server.Close()

	f := New(Options{Headless: true, Timeout: 30 * time.Second})
	res, err := f.Fetch(t.Context(), engine.Request{URL: server.URL})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if res.Result.StatusCode != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", res.Result.StatusCode)
	}
}

func TestExtraHeaders_DropsUserAgent(t *testing.T) {
	h := extraHeaders(map[string]string{
		"user-agent": "x",
		"Referer":    "https://example.com/",
	})
	if len(h) != 1 {
		t.Fatalf("Expected 1 header, got %d: %v", len(h), h)
	}
	if h["Referer"] != "https://example.com/" {
		t.Errorf("Unexpected referer: %v", h["Referer"])
	}
}

func TestConvertCookies(t *testing.T) {
	in := []*network.Cookie{
		{Name: "a", Value: "1", Domain: ".example.com", Path: "/", HTTPOnly: true, Secure: true, Expires: 1700000000},
		{Name: "b", Value: "2", Domain: "example.com", Path: "/x", Expires: -1},
	}
	out := convertCookies(in)
	if len(out) != 2 {
		t.Fatalf("Expected 2 cookies, got %d", len(out))
	}
	if !out[0].HttpOnly || !out[0].Secure || out[0].Expires.Unix() != 1700000000 {
		t.Errorf("Unexpected first cookie: %+v", out[0])
	}
	if !out[1].Expires.IsZero() {
		t.Errorf("Session cookie should have no expiry, got %v", out[1].Expires)
	}
}

func TestDocumentResponse(t *testing.T) {
	doc := &documentResponse{}
	doc.set(&network.Response{
		Status:  429,
		URL:     "https://example.com/",
		Headers: network.Headers{"Retry-After": "5", "X-Num": 3},
	})

	status, url, headers := doc.get()
	if status != 429 || url != "https://example.com/" {
		t.Errorf("Unexpected status/url: %d %s", status, url)
	}
	if headers["Retry-After"] != "5" {
		t.Errorf("Expected Retry-After header, got %v", headers)
	}
	if _, ok := headers["X-Num"]; ok {
		t.Error("Non-string header values should be dropped")
	}
}

func TestBrowserError(t *testing.T) {
	err := browserError("https://example.com", "navigation failed", errString("exec: \"chrome\": executable file not found in $PATH"))
	if engine.CodeOf(err) != engine.ErrCodeBrowser {
		t.Errorf("Expected browser code, got %s", engine.CodeOf(err))
	}
}

type errString string

func (e errString) Error() string { return string(e) }
