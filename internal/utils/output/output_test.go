package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/law-makers/newsfetch/pkg/models"
)

const samplePage = `<html><head><title>T</title><script>var x = 1;</script><style>p{}</style></head>
<body><h1 class="big">Headline</h1><p onclick="x()">Body with <a href="/more" class="c">a link</a>.</p></body></html>`

func TestCleanHTML(t *testing.T) {
	cleaned, err := CleanHTML(samplePage)
	if err != nil {
		t.Fatalf("CleanHTML failed: %v", err)
	}
	if strings.Contains(cleaned, "var x") || strings.Contains(cleaned, "p{}") {
		t.Errorf("Scripts and styles should be removed: %s", cleaned)
	}
	if strings.Contains(cleaned, "onclick") || strings.Contains(cleaned, `class="big"`) {
		t.Errorf("Attributes should be stripped: %s", cleaned)
	}
	if !strings.Contains(cleaned, `href="/more"`) {
		t.Errorf("Link href should survive: %s", cleaned)
	}
}

func TestMarkdown_ResolvesLinks(t *testing.T) {
	out, err := Markdown(samplePage, "https://example.com/news/a")
	if err != nil {
		t.Fatalf("Markdown failed: %v", err)
	}
	if !strings.Contains(out, "# Headline") {
		t.Errorf("Expected heading in markdown, got %q", out)
	}
	if !strings.Contains(out, "[a link](https://example.com/more)") {
		t.Errorf("Expected resolved link, got %q", out)
	}
}

func TestSaveJSON(t *testing.T) {
	res := &models.FetchResult{
		URL:        "https://example.com/",
		StatusCode: 200,
		Body:       "<p>x</p>",
		Path:       models.PathLight,
		FetchedAt:  time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	path := filepath.Join(t.TempDir(), "out.json")
	if err := SaveJSON(res, path); err != nil {
		t.Fatalf("SaveJSON failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded models.FetchResult
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Body != "<p>x</p>" || decoded.StatusCode != 200 {
		t.Errorf("Unexpected decoded result: %+v", decoded)
	}
	if !bytes.Contains(raw, []byte("<p>x</p>")) {
		t.Error("HTML should not be escaped in JSON output")
	}
}

func TestSaveHTML(t *testing.T) {
	dir := t.TempDir()
	cleanPath := filepath.Join(dir, "clean.html")
	rawPath := filepath.Join(dir, "raw.html")

	if err := SaveHTML(samplePage, cleanPath, false); err != nil {
		t.Fatal(err)
	}
	if err := SaveHTML(samplePage, rawPath, true); err != nil {
		t.Fatal(err)
	}

	clean, _ := os.ReadFile(cleanPath)
	raw, _ := os.ReadFile(rawPath)
	if strings.Contains(string(clean), "<script>") {
		t.Error("Cleaned output still has script")
	}
	if string(raw) != samplePage {
		t.Error("Raw output should be unchanged")
	}
}

func TestWriteNewsCSV(t *testing.T) {
	var buf bytes.Buffer
	items := []models.NewsItem{
		{URL: "https://example.com/a", Title: "A, with comma", Score: 0.5, FirstSeen: "2025-01-01T00:00:00Z"},
	}
	if err := WriteNewsCSV(&buf, items); err != nil {
		t.Fatalf("WriteNewsCSV failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected header and one row, got %d lines", len(lines))
	}
	if lines[0] != "url,title,source,keyword,category,type,score,first_seen" {
		t.Errorf("Unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"A, with comma"`) || !strings.HasSuffix(lines[1], "0.5,2025-01-01T00:00:00Z") {
		t.Errorf("Unexpected row: %s", lines[1])
	}
}
