package output

import (
	"os"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"

	urlutil "github.com/law-makers/newsfetch/internal/utils/url"
	"github.com/law-makers/newsfetch/pkg/models"
)

var markdownOptions = md.Options{
	HeadingStyle:     "atx",
	CodeBlockStyle:   "fenced",
	BulletListMarker: "-",
}

// Markdown converts an HTML document to GitHub-flavored Markdown. Relative
// links and images are resolved against base; javascript: links keep only
// their text.
func Markdown(htmlContent, base string) (string, error) {
	cleaned, err := CleanHTML(htmlContent)
	if err != nil {
		return "", err
	}

	opts := markdownOptions
	converter := md.NewConverter("", true, &opts)
	converter.Use(plugin.GitHubFlavored())
	converter.AddRules(anchorRule(base), imageRule(base))

	out, err := converter.ConvertString(cleaned)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func anchorRule(base string) md.Rule {
	return md.Rule{
		Filter: []string{"a"},
		Replacement: func(content string, sel *goquery.Selection, opt *md.Options) *string {
			content = strings.TrimSpace(content)
			href := strings.TrimSpace(sel.AttrOr("href", ""))
			if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
				return &content
			}
			if content == "" {
				empty := ""
				return &empty
			}

			link := "[" + content + "](" + urlutil.ResolveURL(base, href)
			if title := sel.AttrOr("title", ""); title != "" {
				link += ` "` + strings.ReplaceAll(title, `"`, `\"`) + `"`
			}
			link += ")"
			return md.String(link)
		},
	}
}

func imageRule(base string) md.Rule {
	return md.Rule{
		Filter: []string{"img"},
		Replacement: func(_ string, sel *goquery.Selection, opt *md.Options) *string {
			src := strings.TrimSpace(sel.AttrOr("src", ""))
			if src == "" || strings.HasPrefix(src, "data:") {
				empty := ""
				return &empty
			}
			return md.String("![" + sel.AttrOr("alt", "") + "](" + urlutil.ResolveURL(base, src) + ")")
		},
	}
}

// SaveMarkdown converts the fetched page to Markdown and writes it to filepath
func SaveMarkdown(res *models.FetchResult, filepath string) error {
	out, err := Markdown(res.Body, res.URL)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath, []byte(out+"\n"), 0644)
}
