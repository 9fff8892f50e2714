package fetch

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/law-makers/newsfetch/internal/engine"
)

func TestDownload(t *testing.T) {
	payload := []byte("\x89PNG fake image bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/img.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))
	defer server.Close()

	c, _ := newTestClient(t, Options{})
	dest := filepath.Join(t.TempDir(), "images", "img.png")

	n, err := c.Download(t.Context(), server.URL+"/img.png", dest)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if n != int64(len(payload)) {
		t.Errorf("Expected %d bytes, got %d", len(payload), n)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if string(got) != string(payload) {
		t.Error("Downloaded content differs")
	}
	if _, err := os.Stat(dest + downloadSuffix); !os.IsNotExist(err) {
		t.Error("Temporary file should be renamed away")
	}
}

func TestDownload_NotFound(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	c, clk := newTestClient(t, Options{})
	dest := filepath.Join(t.TempDir(), "missing.bin")

	if _, err := c.Download(t.Context(), server.URL+"/missing", dest); err == nil {
		t.Fatal("Expected error for 404")
	} else if engine.CodeOf(err) != engine.ErrCodeNetwork {
		t.Errorf("Expected NETWORK code, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("404 should not be retried, got %d requests", hits.Load())
	}
	assertSleeps(t, clk.Sleeps())
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("No file should be written on failure")
	}
}
