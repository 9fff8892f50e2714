package fetch

import (
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/law-makers/newsfetch/internal/challenge"
	"github.com/law-makers/newsfetch/pkg/models"
)

// minContentBytes is the body size below which a light response is assumed
// to be a script shell
const minContentBytes = 1000

var jsRequiredHints = []string{
	"javascript is required",
	"enable javascript",
	"please enable javascript",
	"you need to enable javascript",
}

// ChallengeGated reports whether res is blocked behind a verification
// challenge: a 403/429 status or challenge markup in the body.
func ChallengeGated(res *models.FetchResult) (bool, string) {
	switch res.StatusCode {
	case http.StatusForbidden:
		return true, "status 403"
	case http.StatusTooManyRequests:
		return true, "status 429"
	}
	if det := challenge.Detect(res.Body); det.Detected {
		return true, det.Reason
	}
	return false, ""
}

// NeedsBrowser reports whether res must be rendered in a browser to get
// usable content
func NeedsBrowser(res *models.FetchResult) (bool, string) {
	if res.StatusCode >= 400 {
		return true, "error status"
	}
	if len(res.Body) < minContentBytes {
		return true, "short body"
	}

	lower := strings.ToLower(res.Body)
	for _, hint := range jsRequiredHints {
		if strings.Contains(lower, hint) {
			return true, "javascript required"
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.Body))
	if err != nil {
		return false, ""
	}
	body := doc.Find("body")
	scripts := body.Find("script").Length()
	content := body.Find("p, div, span, h1, h2, h3, h4, h5, h6").Length()
	if scripts > content*2 {
		return true, "script heavy"
	}

	return false, ""
}
