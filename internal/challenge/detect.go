// Package challenge detects automated-verification challenges and clears
// them through an external solving service.
package challenge

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Family identifies the challenge vendor
type Family string

const (
	FamilyNone      Family = ""
	FamilyRecaptcha Family = "recaptcha"
	FamilyHCaptcha  Family = "hcaptcha"
	FamilyTurnstile Family = "turnstile"
	// FamilyGeneric is a keyword-only match with no recognizable widget
	FamilyGeneric Family = "generic"
)

// Detection is the outcome of inspecting a document
type Detection struct {
	Detected  bool
	Family    Family
	SiteKey   string
	Invisible bool
	V3        bool
	Reason    string
}

var challengeKeywords = []string{
	"verify you are human",
	"verify that you are human",
	"are you a robot",
	"i'm not a robot",
	"security check",
	"checking your browser",
	"please complete the security check",
	"unusual traffic from your computer",
	"press and hold",
	"captcha",
}

// A document larger than this, or with this many text blocks, is real
// content rather than a challenge interstitial
const (
	smallDocumentText = 3000
	substantialBlocks = 3
)

// Detect inspects markup for a challenge. Widgets and keyword phrases only
// count when the document has no substantial content of its own, so an
// article with a comment-form captcha is not a challenge page.
func Detect(markup string) Detection {
	if strings.TrimSpace(markup) == "" {
		return Detection{}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return detectKeywords(markup, len(markup), 0)
	}

	text, blocks := contentOf(doc)
	if len(text) > smallDocumentText || blocks >= substantialBlocks {
		return Detection{}
	}

	if det, ok := detectWidget(doc); ok {
		if det.SiteKey == "" {
			if call := siteKeyFromScripts(doc, det.Family); call.siteKey != "" {
				det.SiteKey = call.siteKey
				det.Invisible = det.Invisible || call.invisible
				det.V3 = call.v3
			}
		}
		return det
	}

	det := detectKeywords(text, len(text), blocks)
	if det.Detected {
		// A keyword page may still be backed by a scripted widget
		if call := siteKeyFromScripts(doc, FamilyNone); call.siteKey != "" {
			det.SiteKey = call.siteKey
			det.Invisible = call.invisible
			det.V3 = call.v3
			det.Family = call.family
		}
	}
	return det
}

// Substantial reports whether markup carries enough text to be a real page
func Substantial(markup string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return len(markup) > smallDocumentText
	}
	text, blocks := contentOf(doc)
	return len(text) > smallDocumentText || blocks >= substantialBlocks
}

// contentOf returns the visible body text and the number of paragraph-sized blocks
func contentOf(doc *goquery.Document) (string, int) {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript").Remove()
	text := strings.Join(strings.Fields(body.Text()), " ")
	blocks := 0
	body.Find("p, article, li").Each(func(_ int, s *goquery.Selection) {
		if len(strings.TrimSpace(s.Text())) > 80 {
			blocks++
		}
	})
	return text, blocks
}

// HasKeywords reports whether text contains a challenge phrase
func HasKeywords(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range challengeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func detectKeywords(text string, textLen, blocks int) Detection {
	if textLen > smallDocumentText || blocks >= substantialBlocks {
		return Detection{}
	}
	lower := strings.ToLower(text)
	for _, kw := range challengeKeywords {
		if strings.Contains(lower, kw) {
			return Detection{Detected: true, Family: FamilyGeneric, Reason: "keyword: " + kw}
		}
	}
	return Detection{}
}

func detectWidget(doc *goquery.Document) (Detection, bool) {
	widgets := []struct {
		selector string
		family   Family
	}{
		{".g-recaptcha", FamilyRecaptcha},
		{".h-captcha", FamilyHCaptcha},
		{".cf-turnstile", FamilyTurnstile},
		{`iframe[src*="recaptcha"]`, FamilyRecaptcha},
		{`iframe[src*="hcaptcha"]`, FamilyHCaptcha},
		{`iframe[src*="challenges.cloudflare"]`, FamilyTurnstile},
	}

	for _, w := range widgets {
		sel := doc.Find(w.selector).First()
		if sel.Length() == 0 {
			continue
		}
		det := Detection{Detected: true, Family: w.family, Reason: "widget: " + w.selector}
		if key, ok := sel.Attr("data-sitekey"); ok {
			det.SiteKey = strings.TrimSpace(key)
		} else if key := siteKeyFromFrame(sel); key != "" {
			det.SiteKey = key
		} else if key, ok := doc.Find("[data-sitekey]").First().Attr("data-sitekey"); ok {
			det.SiteKey = strings.TrimSpace(key)
		}
		if size, _ := sel.Attr("data-size"); size == "invisible" {
			det.Invisible = true
		}
		return det, true
	}

	// A bare data-sitekey without a recognized container
	if sel := doc.Find("[data-sitekey]").First(); sel.Length() > 0 {
		key, _ := sel.Attr("data-sitekey")
		family := scriptFamily(doc)
		if family == FamilyNone {
			family = FamilyRecaptcha
		}
		size, _ := sel.Attr("data-size")
		return Detection{
			Detected:  true,
			Family:    family,
			SiteKey:   strings.TrimSpace(key),
			Invisible: size == "invisible",
			Reason:    "attribute: data-sitekey",
		}, true
	}

	return Detection{}, false
}

// siteKeyFromFrame reads the k= or sitekey= parameter of a widget iframe
func siteKeyFromFrame(sel *goquery.Selection) string {
	src, ok := sel.Attr("src")
	if !ok {
		return ""
	}
	u, err := url.Parse(src)
	if err != nil {
		return ""
	}
	q := u.Query()
	if k := q.Get("k"); k != "" {
		return k
	}
	if k := q.Get("sitekey"); k != "" {
		return k
	}
	// hcaptcha puts its parameters in the fragment
	if frag, err := url.ParseQuery(u.Fragment); err == nil {
		return frag.Get("sitekey")
	}
	return ""
}

func scriptFamily(doc *goquery.Document) Family {
	family := FamilyNone
	doc.Find("script[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		switch {
		case strings.Contains(src, "recaptcha"):
			family = FamilyRecaptcha
		case strings.Contains(src, "hcaptcha"):
			family = FamilyHCaptcha
		case strings.Contains(src, "challenges.cloudflare"):
			family = FamilyTurnstile
		default:
			return true
		}
		return false
	})
	return family
}
