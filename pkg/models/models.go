package models

import (
	"strings"
	"time"
)

// FetchPath names the route that produced a FetchResult
type FetchPath string

const (
	PathCache   FetchPath = "cache"
	PathLight   FetchPath = "light"
	PathBrowser FetchPath = "browser"
)

// FetchResult is the normalized response returned by every fetch path
type FetchResult struct {
	URL          string            `json:"url"`
	RequestedURL string            `json:"requested_url"`
	StatusCode   int               `json:"status_code"`
	Body         string            `json:"content"`
	Headers      map[string]string `json:"headers,omitempty"`
	Path         FetchPath         `json:"path,omitempty"`
	FetchedAt    time.Time         `json:"fetched_at"`
	ResponseTime int64             `json:"response_time_ms"`
}

// OK reports whether the result carries a 2xx status
func (r *FetchResult) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Header returns a header value using a case-insensitive lookup
func (r *FetchResult) Header(name string) string {
	if r == nil {
		return ""
	}
	if v, ok := r.Headers[name]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Clone returns a deep copy of r
func (r *FetchResult) Clone() *FetchResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.Headers != nil {
		c.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			c.Headers[k] = v
		}
	}
	return &c
}

// NewsItem is a content record tracked across pipeline stages
type NewsItem struct {
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	Source    string  `json:"source,omitempty"`
	Keyword   string  `json:"keyword,omitempty"`
	Category  string  `json:"category,omitempty"`
	Type      string  `json:"type,omitempty"`
	Score     float64 `json:"score,omitempty"`
	FirstSeen string  `json:"first_seen,omitempty"`
}

// RequestOptions contains per-call options for a fetch
type RequestOptions struct {
	URL          string
	Headers      map[string]string
	UseCache     bool
	ForceBrowser bool
	Retries      int
	Timeout      time.Duration
}
