package fetch

import (
	"reflect"
	"strings"
	"testing"

	"github.com/law-makers/newsfetch/pkg/models"
)

const linkPage = `<html><head><meta name="x" content="y"><style>p{color:red}</style></head><body>
<h1>Title</h1>
<p>First   paragraph   here.</p>
<script>var hidden = "nope";</script>
<noscript>enable js</noscript>
<a href="/a">A</a>
<a href="b.html">B</a>
<a href="https://other.com/c">C</a>
<a href="#top">Top</a>
<a href="javascript:void(0)">JS</a>
<a href="">Empty</a>
</body></html>`

func TestExtractText(t *testing.T) {
	res := &models.FetchResult{Body: linkPage}
	text := ExtractText(res)

	for _, unwanted := range []string{"hidden", "color:red", "enable js"} {
		if strings.Contains(text, unwanted) {
			t.Errorf("Text should not contain %q: %q", unwanted, text)
		}
	}

	lines := strings.Split(text, "\n")
	if lines[0] != "Title" {
		t.Errorf("Expected first line Title, got %q", lines[0])
	}
	for _, line := range lines {
		if strings.TrimSpace(line) != line || line == "" {
			t.Errorf("Lines should be trimmed and non-empty, got %q", line)
		}
	}
	if !strings.Contains(text, "First\nparagraph\nhere.") {
		t.Errorf("Double-space runs should split phrases, got %q", text)
	}

	if ExtractText(nil) != "" || ExtractText(&models.FetchResult{}) != "" {
		t.Error("Empty input should give empty text")
	}
}

func TestExtractLinks(t *testing.T) {
	res := &models.FetchResult{URL: "https://example.com/news/index.html", Body: linkPage}

	got := ExtractLinks(res, "")
	want := []string{
		"https://example.com/a",
		"https://example.com/news/b.html",
		"https://other.com/c",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractLinks = %v, want %v", got, want)
	}

	got = ExtractLinks(res, "https://mirror.example.org/")
	if got[0] != "https://mirror.example.org/a" {
		t.Errorf("Explicit base should win, got %v", got)
	}
}

func TestExtractMarkdown(t *testing.T) {
	res := &models.FetchResult{URL: "https://example.com/news/", Body: linkPage}
	md, err := ExtractMarkdown(res)
	if err != nil {
		t.Fatalf("ExtractMarkdown failed: %v", err)
	}
	if !strings.Contains(md, "# Title") {
		t.Errorf("Expected heading, got %q", md)
	}
	if !strings.Contains(md, "[A](https://example.com/a)") {
		t.Errorf("Expected resolved link, got %q", md)
	}
	if strings.Contains(md, "hidden") {
		t.Errorf("Scripts should be dropped, got %q", md)
	}
}
