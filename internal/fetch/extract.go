package fetch

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/law-makers/newsfetch/internal/utils/output"
	urlutil "github.com/law-makers/newsfetch/internal/utils/url"
	"github.com/law-makers/newsfetch/pkg/models"
	"golang.org/x/net/html"
)

// ExtractText returns the readable text of res, one chunk per line. Scripts,
// styles, meta and noscript content are dropped.
func ExtractText(res *models.FetchResult) string {
	if res == nil || res.Body == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.Body))
	if err != nil {
		return ""
	}
	doc.Find("script, style, meta, noscript").Remove()

	var chunks []string
	for _, n := range doc.Nodes {
		collectText(n, &chunks)
	}
	return strings.Join(chunks, "\n")
}

func collectText(n *html.Node, chunks *[]string) {
	if n.Type == html.TextNode {
		for _, line := range strings.Split(n.Data, "\n") {
			// Runs of two spaces separate phrases
			for _, phrase := range strings.Split(line, "  ") {
				phrase = strings.Join(strings.Fields(phrase), " ")
				if phrase != "" {
					*chunks = append(*chunks, phrase)
				}
			}
		}
		return
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, chunks)
	}
}

// ExtractLinks returns the href of every anchor in res resolved against
// base. Empty, fragment-only and javascript: links are skipped. An empty
// base means the final URL of res.
func ExtractLinks(res *models.FetchResult, base string) []string {
	if res == nil || res.Body == "" {
		return nil
	}
	if base == "" {
		base = res.URL
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.Body))
	if err != nil {
		return nil
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}
		links = append(links, urlutil.ResolveURL(base, href))
	})
	return links
}

// ExtractMarkdown converts the body of res to GitHub-flavored Markdown
func ExtractMarkdown(res *models.FetchResult) (string, error) {
	if res == nil || res.Body == "" {
		return "", nil
	}
	return output.Markdown(res.Body, res.URL)
}
