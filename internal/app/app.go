// Package app wires the fetch subsystem together and manages its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/law-makers/newsfetch/internal/auth"
	"github.com/law-makers/newsfetch/internal/cache"
	"github.com/law-makers/newsfetch/internal/challenge"
	"github.com/law-makers/newsfetch/internal/config"
	"github.com/law-makers/newsfetch/internal/content"
	"github.com/law-makers/newsfetch/internal/engine/batch"
	"github.com/law-makers/newsfetch/internal/fetch"
	"github.com/law-makers/newsfetch/internal/logging"
	"github.com/law-makers/newsfetch/internal/metrics"
	"github.com/law-makers/newsfetch/internal/proxy"
)

// Application holds every long-lived dependency.
//
// It is created once at startup and shared across all CLI commands.
// Use Close() to release resources on shutdown.
type Application struct {
	Config   *config.Config
	Logger   *zerolog.Logger
	Secrets  *auth.Secrets
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Proxies  *proxy.Manager
	Solver   *challenge.Solver
	Pages    *cache.Store
	News     *content.Adapter
	Client   *fetch.Client
	Batch    *batch.Runner

	metricsServer *http.Server
	startTime     time.Time
}

// Options let callers and tests replace pieces of the default wiring.
type Options struct {
	Secrets *auth.Secrets
	Browser fetch.BrowserFetcher
}

// New creates and initializes an Application from cfg.
//
// Initialization order:
//   - logging
//   - secrets (fills credentials missing from env and flags)
//   - metrics registry
//   - proxy manager and challenge solver
//   - page and news cache stores
//   - fetch client and batch runner
//   - metrics endpoint, when an address is configured
func New(ctx context.Context, cfg *config.Config, opts Options) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	logger := logging.Setup(cfg.LogLevel, cfg.JSONLog)
	logger.Debug().
		Str("level", cfg.LogLevel).
		Bool("json", cfg.JSONLog).
		Msg("Logger initialized")

	secrets := opts.Secrets
	if secrets == nil {
		s, err := auth.New(auth.Options{})
		if err != nil {
			logger.Warn().Err(err).Msg("Secret storage unavailable")
		}
		secrets = s
	}
	if secrets != nil {
		secrets.Fill(cfg)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	proxies, err := proxy.FromConfig(cfg, m)
	if err != nil {
		return nil, fmt.Errorf("proxy manager: %w", err)
	}
	solver := challenge.FromConfig(cfg, m)

	pages, err := cache.New(cache.Options{
		Dir:     cfg.CacheDir,
		Name:    cfg.CacheName,
		TTL:     cfg.CacheTTL,
		Enabled: cfg.CacheEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("page cache: %w", err)
	}

	// The news ledger drives the pipeline and stays on even when page caching is off.
	newsStore, err := cache.New(cache.Options{
		Dir:     cfg.CacheDir,
		Name:    cfg.NewsCacheName,
		TTL:     cfg.CacheTTL,
		Enabled: true,
	})
	if err != nil {
		return nil, fmt.Errorf("news cache: %w", err)
	}

	client, err := fetch.New(fetch.Options{
		Config:  cfg,
		Proxies: proxies,
		Cache:   pages,
		Solver:  solver,
		Browser: opts.Browser,
		Metrics: m,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch client: %w", err)
	}

	a := &Application{
		Config:    cfg,
		Logger:    &logger,
		Secrets:   secrets,
		Registry:  reg,
		Metrics:   m,
		Proxies:   proxies,
		Solver:    solver,
		Pages:     pages,
		News:      content.New(newsStore),
		Client:    client,
		Batch:     batch.New(client, cfg.BatchConcurrency),
		startTime: time.Now(),
	}

	if cfg.MetricsAddr != "" {
		if err := a.serveMetrics(ctx, cfg.MetricsAddr); err != nil {
			client.Close()
			return nil, err
		}
	}

	logger.Debug().
		Int("proxies", proxies.Count()).
		Bool("solver", solver.Available()).
		Bool("cache", pages.Enabled()).
		Msg("Application initialized")
	return a, nil
}

// serveMetrics binds addr synchronously so a bad address fails startup
func (a *Application) serveMetrics(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	a.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := a.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	a.Logger.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")
	return nil
}

// Close shuts the application down.
//
// A context with a timeout should be provided to bound the metrics server
// shutdown. Errors are logged and do not stop the remaining steps.
func (a *Application) Close(ctx context.Context) error {
	a.Logger.Debug().Msg("Shutting down application")

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Error stopping metrics server")
		}
	}

	if a.Client != nil {
		a.Client.Close()
	}

	a.Logger.Debug().Dur("uptime", a.Uptime()).Msg("Application shutdown complete")
	return nil
}

// Uptime returns how long the application has been running.
func (a *Application) Uptime() time.Duration {
	return time.Since(a.startTime)
}
