// internal/engine/dynamic/chrome.go
package dynamic

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/law-makers/newsfetch/internal/logging"
)

// pathNames are the Chrome-like binaries looked up in PATH
var pathNames = []string{
	"google-chrome-stable",
	"google-chrome",
	"chromium",
	"chromium-browser",
	"chrome",
	"msedge",
	"brave-browser",
}

// FindChrome locates a Chrome/Chromium executable. An explicit path wins,
// then CHROME_PATH, then the platform's standard locations, then PATH.
// An empty result lets chromedp use its own default.
func FindChrome(preferred ...string) string {
	logger := logging.WithComponent("chrome")

	explicit := append([]string{}, preferred...)
	explicit = append(explicit, os.Getenv("CHROME_PATH"))
	for _, path := range explicit {
		if path == "" {
			continue
		}
		if isExecutable(path) {
			logger.Debug().Str("path", path).Msg("Chrome found via explicit path")
			return path
		}
		logger.Warn().Str("path", path).Msg("Chrome path set but not executable")
	}

	for _, path := range candidates(runtime.GOOS, os.Getenv("HOME"), os.Getenv) {
		if isExecutable(path) {
			logger.Debug().Str("path", path).Str("os", runtime.GOOS).Msg("Chrome found at standard location")
			return path
		}
	}

	for _, name := range pathNames {
		if path, err := exec.LookPath(name); err == nil {
			logger.Debug().Str("path", path).Msg("Chrome found in PATH")
			return path
		}
	}

	logger.Warn().Str("os", runtime.GOOS).Msg("Chrome not found, will use chromedp default (may fail)")
	return ""
}

// candidates lists the standard install locations for goos
func candidates(goos, home string, getenv func(string) string) []string {
	var out []string
	switch goos {
	case "darwin":
		for _, app := range []string{"Google Chrome", "Chromium", "Microsoft Edge", "Brave Browser"} {
			out = append(out, filepath.Join("/Applications", app+".app", "Contents", "MacOS", app))
		}
		if home != "" {
			out = append(out, filepath.Join(home, "Applications", "Google Chrome.app", "Contents", "MacOS", "Google Chrome"))
		}
	case "windows":
		for _, base := range []string{getenv("ProgramFiles"), getenv("ProgramFiles(x86)"), getenv("LocalAppData")} {
			if base == "" {
				continue
			}
			out = append(out,
				filepath.Join(base, "Google", "Chrome", "Application", "chrome.exe"),
				filepath.Join(base, "Chromium", "Application", "chrome.exe"),
				filepath.Join(base, "Microsoft", "Edge", "Application", "msedge.exe"),
			)
		}
	default:
		out = []string{
			"/usr/bin/google-chrome-stable",
			"/usr/bin/google-chrome",
			"/usr/bin/chromium-browser",
			"/usr/bin/chromium",
			"/snap/bin/chromium",
			"/usr/bin/microsoft-edge",
		}
		if home != "" {
			out = append(out,
				filepath.Join(home, ".local/share/flatpak/exports/bin/com.google.Chrome"),
				filepath.Join(home, ".local/share/flatpak/exports/bin/org.chromium.Chromium"),
			)
		}
	}
	return out
}

// isExecutable checks if a file exists and is executable
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0111 != 0
}

// ChromeVersion returns the browser's --version output, or "unknown"
func ChromeVersion(ctx context.Context, chromePath string) string {
	if chromePath == "" {
		return "unknown"
	}
	if runtime.GOOS == "windows" {
		// Windows Chrome doesn't support --version directly
		return "detected"
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, chromePath, "--version").Output()
	if err != nil {
		return "detected"
	}
	return strings.TrimSpace(string(output))
}
