package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be > 0")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be >= 1")
	}
	if c.MinRequestInterval < 0 {
		return fmt.Errorf("min request interval must be >= 0")
	}
	if c.PerHostRPS < 0 {
		return fmt.Errorf("per-host rps must be >= 0")
	}
	if c.RotationInterval <= 0 {
		return fmt.Errorf("proxy rotation interval must be > 0")
	}
	if c.MaxRequestsPerIdentity <= 0 {
		return fmt.Errorf("max requests per identity must be > 0")
	}
	if c.BlacklistDuration <= 0 {
		return fmt.Errorf("proxy cooldown must be > 0")
	}
	if c.CacheEnabled && strings.TrimSpace(c.CacheDir) == "" {
		return fmt.Errorf("cache directory is required when caching is enabled")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache expiration must be > 0")
	}
	if c.SolverAPIKey != "" && !strings.EqualFold(c.SolverService, DefaultSolverService) {
		return fmt.Errorf("unsupported captcha service %q", c.SolverService)
	}
	if c.BatchConcurrency <= 0 || c.BatchConcurrency > MaxBatchConcurrency {
		return fmt.Errorf("batch concurrency must be between 1 and %d", MaxBatchConcurrency)
	}
	return nil
}
