// Package engine holds the pieces shared by the light HTTP path and the
// browser path: the request shape, error types and failure classification.
package engine

import (
	"net/http"
	"time"

	"github.com/law-makers/newsfetch/internal/proxy"
	"github.com/law-makers/newsfetch/pkg/models"
)

// Request is one network attempt
type Request struct {
	URL       string
	Headers   map[string]string
	Proxy     *proxy.Identity
	UserAgent string
	Timeout   time.Duration
}

// ChallengeOutcome reports what happened to a challenge seen by the browser
type ChallengeOutcome int

const (
	ChallengeNone ChallengeOutcome = iota
	ChallengeSolved
	ChallengeFailed
)

// String returns the outcome name
func (c ChallengeOutcome) String() string {
	switch c {
	case ChallengeSolved:
		return "solved"
	case ChallengeFailed:
		return "failed"
	default:
		return "none"
	}
}

// BrowserResult is the output of one browser session
type BrowserResult struct {
	Result    *models.FetchResult
	Cookies   []*http.Cookie
	Challenge ChallengeOutcome
}
