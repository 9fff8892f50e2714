package dynamic

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestFindChrome_ExplicitPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable bit not meaningful on windows")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "chrome")
	if err := os.WriteFile(path, []byte("#!/bin/sh\necho 'Chromium 120.0'\n"), 0755); err != nil {
		t.Fatalf("write fake chrome: %v", err)
	}
	t.Setenv("CHROME_PATH", "")

	if got := FindChrome(path); got != path {
		t.Errorf("Expected explicit path %q, got %q", path, got)
	}
}

func TestFindChrome_EnvPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable bit not meaningful on windows")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "chromium")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("write fake chrome: %v", err)
	}
	t.Setenv("CHROME_PATH", path)

	if got := FindChrome(); got != path {
		t.Errorf("Expected CHROME_PATH %q, got %q", path, got)
	}
}

func TestIsExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable bit not meaningful on windows")
	}

	dir := t.TempDir()
	plain := filepath.Join(dir, "plain")
	if err := os.WriteFile(plain, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if isExecutable(plain) {
		t.Error("Non-executable file reported as executable")
	}
	if isExecutable(dir) {
		t.Error("Directory reported as executable")
	}
	if isExecutable(filepath.Join(dir, "missing")) {
		t.Error("Missing file reported as executable")
	}
}

func TestCandidates(t *testing.T) {
	env := map[string]string{"ProgramFiles": `C:\Program Files`}
	getenv := func(k string) string { return env[k] }

	win := candidates("windows", "", getenv)
	if len(win) != 3 || !strings.HasSuffix(win[0], "chrome.exe") {
		t.Errorf("Unexpected windows candidates: %v", win)
	}

	linux := candidates("linux", "/home/u", getenv)
	if linux[0] != "/usr/bin/google-chrome-stable" {
		t.Errorf("Unexpected first linux candidate: %s", linux[0])
	}
	if !strings.Contains(linux[len(linux)-1], "flatpak") {
		t.Errorf("Expected flatpak candidate last, got %s", linux[len(linux)-1])
	}
}

func TestChromeVersion_Empty(t *testing.T) {
	if got := ChromeVersion(t.Context(), ""); got != "unknown" {
		t.Errorf("Expected unknown, got %q", got)
	}
}
