package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds application configuration values
type Config struct {
	// Logging
	LogLevel string
	JSONLog  bool

	// HTTP/Fetching
	HTTPTimeout        time.Duration
	UserAgent          string
	MaxRetries         int
	MinRequestInterval time.Duration
	PerHostRPS         float64
	PerHostBurst       int

	// Proxy rotation
	ProxyEnabled           bool
	Proxy                  string
	RotationInterval       time.Duration
	MaxRequestsPerIdentity int
	BlacklistDuration      time.Duration
	ProxyTestURL           string
	SmartproxyUsername     string
	SmartproxyPassword     string
	SmartproxyEndpoint     string
	SmartproxyPort         int
	SmartproxyExtraPorts   []int
	CustomProxies          string

	// Challenge solving
	SolverService      string
	SolverAPIKey       string
	SolverBaseURL      string
	SolverTimeout      time.Duration
	SolverPollInterval time.Duration
	ScreenshotDir      string

	// Caching
	CacheEnabled  bool
	CacheDir      string
	CacheName     string
	NewsCacheName string
	CacheTTL      time.Duration

	// Browser
	BrowserHeadless bool
	BrowserTimeout  time.Duration
	BrowserSettle   time.Duration
	ChromePath      string

	// Batch + metrics
	BatchConcurrency int
	MetricsAddr      string
}

// envBindings maps config keys to the environment variables that may set them.
// The NEWSFETCH_ prefixed name is always accepted through AutomaticEnv.
var envBindings = map[string][]string{
	"proxy.enabled":                {"USE_PROXY"},
	"proxy.rotation_interval_sec":  {"PROXY_ROTATION_INTERVAL"},
	"proxy.max_requests_per_ip":    {"MAX_REQUESTS_PER_IP"},
	"proxy.cooldown_minutes":       {"IP_COOLDOWN_MINUTES"},
	"proxy.smartproxy.username":    {"SMARTPROXY_USERNAME"},
	"proxy.smartproxy.password":    {"SMARTPROXY_PASSWORD"},
	"proxy.smartproxy.endpoint":    {"SMARTPROXY_ENDPOINT"},
	"proxy.smartproxy.port":        {"SMARTPROXY_PORT"},
	"proxy.smartproxy.extra_ports": {"SMARTPROXY_ADDITIONAL_PORTS"},
	"proxy.custom":                 {"CUSTOM_PROXIES"},
	"solver.service":               {"CAPTCHA_SERVICE"},
	"solver.api_key":               {"TWOCAPTCHA_API_KEY"},
	"cache.enabled":                {"USE_CACHE"},
	"cache.directory":              {"CACHE_DIRECTORY"},
	"cache.expiration_sec":         {"CACHE_EXPIRATION_SECONDS"},
	"browser.chrome_path":          {"CHROME_PATH"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.json", DefaultJSONLog)

	v.SetDefault("http.timeout", DefaultHTTPTimeout.String())
	v.SetDefault("http.user_agent", DefaultUserAgent)
	v.SetDefault("http.max_retries", DefaultMaxRetries)
	v.SetDefault("http.min_request_interval", DefaultMinRequestInterval.String())
	v.SetDefault("http.per_host_rps", DefaultPerHostRPS)
	v.SetDefault("http.per_host_burst", DefaultPerHostBurst)

	v.SetDefault("proxy.enabled", DefaultProxyEnabled)
	v.SetDefault("proxy.rotation_interval_sec", int(DefaultRotationInterval/time.Second))
	v.SetDefault("proxy.max_requests_per_ip", DefaultMaxRequestsPerIdentity)
	v.SetDefault("proxy.cooldown_minutes", int(DefaultBlacklistDuration/time.Minute))
	v.SetDefault("proxy.test_url", DefaultProxyTestURL)
	v.SetDefault("proxy.smartproxy.endpoint", DefaultSmartproxyEndpoint)
	v.SetDefault("proxy.smartproxy.port", DefaultSmartproxyPort)

	v.SetDefault("solver.service", DefaultSolverService)
	v.SetDefault("solver.base_url", DefaultSolverBaseURL)
	v.SetDefault("solver.timeout", DefaultSolverTimeout.String())
	v.SetDefault("solver.poll_interval", DefaultSolverPollInterval.String())
	v.SetDefault("solver.screenshot_dir", DefaultScreenshotDir)

	v.SetDefault("cache.enabled", DefaultCacheEnabled)
	v.SetDefault("cache.directory", DefaultCacheDir)
	v.SetDefault("cache.name", DefaultCacheName)
	v.SetDefault("cache.news_name", DefaultNewsCacheName)
	v.SetDefault("cache.expiration_sec", int(DefaultCacheTTL/time.Second))

	v.SetDefault("browser.headless", DefaultBrowserHeadless)
	v.SetDefault("browser.timeout", DefaultBrowserTimeout.String())
	v.SetDefault("browser.settle", DefaultBrowserSettle.String())

	v.SetDefault("batch.concurrency", DefaultBatchConcurrency)
}

// Load builds a Config by combining defaults, an optional config file, environment variables, and CLI flags.
// Caller should pass the root *cobra.Command so flags can be read.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("NEWSFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envBindings {
		envPrefixed := "NEWSFETCH_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
		args := append([]string{key, envPrefixed}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if cmd != nil {
		bindFlag(v, cmd, "http.user_agent", "user-agent")
		bindFlag(v, cmd, "http.proxy", "proxy")
		bindFlag(v, cmd, "http.timeout", "timeout")
		bindFlag(v, cmd, "cache.directory", "cache-dir")
		bindFlag(v, cmd, "metrics.addr", "metrics-addr")

		if path := flagValue(cmd, "config"); path != "" {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
		}
	}

	cfg, err := fromViper(v)
	if err != nil {
		return nil, err
	}

	if cmd != nil {
		if flagValue(cmd, "json") == "true" {
			cfg.JSONLog = true
		}
		if flagValue(cmd, "verbose") == "true" {
			cfg.LogLevel = "debug"
		} else if flagValue(cmd, "quiet") == "true" {
			cfg.LogLevel = "error"
		}
		if flagValue(cmd, "no-cache") == "true" {
			cfg.CacheEnabled = false
		}
		if flagValue(cmd, "headful") == "true" {
			cfg.BrowserHeadless = false
		}
	}

	// A single --proxy implies proxying is wanted
	if cfg.Proxy != "" {
		cfg.ProxyEnabled = true
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config populated with default values only
func Default() *Config {
	cfg, err := fromViper(func() *viper.Viper {
		v := viper.New()
		setDefaults(v)
		return v
	}())
	if err != nil {
		panic(err)
	}
	return cfg
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		LogLevel:               v.GetString("log.level"),
		JSONLog:                v.GetBool("log.json"),
		UserAgent:              v.GetString("http.user_agent"),
		MaxRetries:             v.GetInt("http.max_retries"),
		PerHostRPS:             v.GetFloat64("http.per_host_rps"),
		PerHostBurst:           v.GetInt("http.per_host_burst"),
		ProxyEnabled:           v.GetBool("proxy.enabled"),
		Proxy:                  v.GetString("http.proxy"),
		RotationInterval:       time.Duration(v.GetInt("proxy.rotation_interval_sec")) * time.Second,
		MaxRequestsPerIdentity: v.GetInt("proxy.max_requests_per_ip"),
		BlacklistDuration:      time.Duration(v.GetInt("proxy.cooldown_minutes")) * time.Minute,
		ProxyTestURL:           v.GetString("proxy.test_url"),
		SmartproxyUsername:     v.GetString("proxy.smartproxy.username"),
		SmartproxyPassword:     v.GetString("proxy.smartproxy.password"),
		SmartproxyEndpoint:     v.GetString("proxy.smartproxy.endpoint"),
		SmartproxyPort:         v.GetInt("proxy.smartproxy.port"),
		CustomProxies:          v.GetString("proxy.custom"),
		SolverService:          v.GetString("solver.service"),
		SolverAPIKey:           v.GetString("solver.api_key"),
		SolverBaseURL:          v.GetString("solver.base_url"),
		ScreenshotDir:          v.GetString("solver.screenshot_dir"),
		CacheEnabled:           v.GetBool("cache.enabled"),
		CacheDir:               v.GetString("cache.directory"),
		CacheName:              v.GetString("cache.name"),
		NewsCacheName:          v.GetString("cache.news_name"),
		CacheTTL:               time.Duration(v.GetInt("cache.expiration_sec")) * time.Second,
		BrowserHeadless:        v.GetBool("browser.headless"),
		ChromePath:             v.GetString("browser.chrome_path"),
		BatchConcurrency:       v.GetInt("batch.concurrency"),
		MetricsAddr:            v.GetString("metrics.addr"),
	}

	var err error
	if cfg.HTTPTimeout, err = parseDuration(v, "http.timeout"); err != nil {
		return nil, err
	}
	if cfg.MinRequestInterval, err = parseDuration(v, "http.min_request_interval"); err != nil {
		return nil, err
	}
	if cfg.SolverTimeout, err = parseDuration(v, "solver.timeout"); err != nil {
		return nil, err
	}
	if cfg.SolverPollInterval, err = parseDuration(v, "solver.poll_interval"); err != nil {
		return nil, err
	}
	if cfg.BrowserTimeout, err = parseDuration(v, "browser.timeout"); err != nil {
		return nil, err
	}
	if cfg.BrowserSettle, err = parseDuration(v, "browser.settle"); err != nil {
		return nil, err
	}
	if cfg.SmartproxyExtraPorts, err = parsePorts(v.GetString("proxy.smartproxy.extra_ports")); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseDuration accepts Go duration strings and bare integers meaning seconds
func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func parsePorts(raw string) ([]int, error) {
	var ports []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy port %q: %w", part, err)
		}
		ports = append(ports, p)
	}
	return ports, nil
}

func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f
	}
	return cmd.PersistentFlags().Lookup(name)
}

func flagValue(cmd *cobra.Command, name string) string {
	if f := lookupFlag(cmd, name); f != nil {
		return f.Value.String()
	}
	return ""
}

// bindFlag binds a flag only when the user changed it, so empty defaults never mask env or file values
func bindFlag(v *viper.Viper, cmd *cobra.Command, key, name string) {
	f := lookupFlag(cmd, name)
	if f == nil || !f.Changed {
		return
	}
	v.Set(key, f.Value.String())
}
