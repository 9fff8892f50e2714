package config

import "time"

// Default constants for application configuration
const (
	DefaultLogLevel    = "info"
	DefaultJSONLog     = false
	DefaultUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.6367.91 Safari/537.36"
	DefaultHTTPTimeout = 30 * time.Second
	DefaultMaxRetries  = 3

	DefaultMinRequestInterval = 1 * time.Second
	DefaultPerHostRPS         = 0.0
	DefaultPerHostBurst       = 1

	DefaultProxyEnabled           = false
	DefaultRotationInterval       = 300 * time.Second
	DefaultMaxRequestsPerIdentity = 10
	DefaultBlacklistDuration      = 30 * time.Minute
	DefaultProxyTestURL           = "https://api.ipify.org?format=json"
	DefaultProxyTestTimeout       = 10 * time.Second
	DefaultSmartproxyEndpoint     = "gate.smartproxy.com"
	DefaultSmartproxyPort         = 7000

	DefaultSolverService      = "2captcha"
	DefaultSolverBaseURL      = "https://2captcha.com"
	DefaultSolverTimeout      = 120 * time.Second
	DefaultSolverPollInterval = 5 * time.Second
	DefaultScreenshotDir      = "captcha_screenshots"

	DefaultCacheEnabled  = true
	DefaultCacheDir      = "cache"
	DefaultCacheName     = "fetch"
	DefaultNewsCacheName = "news"
	DefaultCacheTTL      = 86400 * time.Second

	DefaultBrowserHeadless = true
	DefaultBrowserSettle   = 2 * time.Second
	DefaultBrowserTimeout  = 60 * time.Second

	DefaultBatchConcurrency = 4
	MaxBatchConcurrency     = 32
)
