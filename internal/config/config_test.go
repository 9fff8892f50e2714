package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func newRoot() *cobra.Command {
	cmd := &cobra.Command{Use: "newsfetch"}
	RegisterFlags(cmd)
	return cmd
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newRoot())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTPTimeout != DefaultHTTPTimeout {
		t.Errorf("Expected timeout %v, got %v", DefaultHTTPTimeout, cfg.HTTPTimeout)
	}
	if cfg.RotationInterval != DefaultRotationInterval {
		t.Errorf("Expected rotation interval %v, got %v", DefaultRotationInterval, cfg.RotationInterval)
	}
	if cfg.MaxRequestsPerIdentity != DefaultMaxRequestsPerIdentity {
		t.Errorf("Expected %d requests per identity, got %d", DefaultMaxRequestsPerIdentity, cfg.MaxRequestsPerIdentity)
	}
	if cfg.CacheTTL != DefaultCacheTTL {
		t.Errorf("Expected cache ttl %v, got %v", DefaultCacheTTL, cfg.CacheTTL)
	}
	if cfg.MinRequestInterval != time.Second {
		t.Errorf("Expected 1s min interval, got %v", cfg.MinRequestInterval)
	}
	if cfg.ProxyEnabled {
		t.Error("Proxying should be disabled by default")
	}
}

func TestLoad_LegacyEnv(t *testing.T) {
	t.Setenv("USE_PROXY", "true")
	t.Setenv("PROXY_ROTATION_INTERVAL", "120")
	t.Setenv("MAX_REQUESTS_PER_IP", "4")
	t.Setenv("SMARTPROXY_ADDITIONAL_PORTS", "7001, 7002")
	t.Setenv("CACHE_EXPIRATION_SECONDS", "60")
	t.Setenv("TWOCAPTCHA_API_KEY", "abc123")

	cfg, err := Load(newRoot())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !cfg.ProxyEnabled {
		t.Error("USE_PROXY should enable proxying")
	}
	if cfg.RotationInterval != 120*time.Second {
		t.Errorf("Expected 120s rotation, got %v", cfg.RotationInterval)
	}
	if cfg.MaxRequestsPerIdentity != 4 {
		t.Errorf("Expected 4 requests per identity, got %d", cfg.MaxRequestsPerIdentity)
	}
	if len(cfg.SmartproxyExtraPorts) != 2 || cfg.SmartproxyExtraPorts[1] != 7002 {
		t.Errorf("Unexpected extra ports: %v", cfg.SmartproxyExtraPorts)
	}
	if cfg.CacheTTL != time.Minute {
		t.Errorf("Expected 1m cache ttl, got %v", cfg.CacheTTL)
	}
	if cfg.SolverAPIKey != "abc123" {
		t.Errorf("Expected solver key from env, got %q", cfg.SolverAPIKey)
	}
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "newsfetch.yaml")
	content := "http:\n  timeout: 45s\ncache:\n  directory: from-file\nproxy:\n  max_requests_per_ip: 7\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := newRoot()
	if err := cmd.ParseFlags([]string{"--config", path, "--cache-dir", "from-flag", "--no-cache", "-v"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTPTimeout != 45*time.Second {
		t.Errorf("Expected timeout from file, got %v", cfg.HTTPTimeout)
	}
	if cfg.MaxRequestsPerIdentity != 7 {
		t.Errorf("Expected 7 requests per identity from file, got %d", cfg.MaxRequestsPerIdentity)
	}
	if cfg.CacheDir != "from-flag" {
		t.Errorf("Expected cache dir from flag, got %q", cfg.CacheDir)
	}
	if cfg.CacheEnabled {
		t.Error("--no-cache should disable caching")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected debug log level, got %q", cfg.LogLevel)
	}
}

func TestLoad_ProxyFlagEnablesProxying(t *testing.T) {
	cmd := newRoot()
	if err := cmd.ParseFlags([]string{"--proxy", "http://127.0.0.1:8080"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.ProxyEnabled || cfg.Proxy != "http://127.0.0.1:8080" {
		t.Errorf("Expected proxy enabled with flag value, got enabled=%v proxy=%q", cfg.ProxyEnabled, cfg.Proxy)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := validate(cfg); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	cfg.MaxRequestsPerIdentity = 0
	if err := validate(cfg); err == nil {
		t.Error("Expected error for zero requests per identity")
	}

	cfg = Default()
	cfg.SolverAPIKey = "k"
	cfg.SolverService = "anticaptcha"
	if err := validate(cfg); err == nil {
		t.Error("Expected error for unsupported solver service")
	}
}
