package challenge

import (
	"context"
	"strings"
	"time"

	"github.com/law-makers/newsfetch/internal/config"
	"github.com/law-makers/newsfetch/internal/logging"
	"github.com/law-makers/newsfetch/internal/metrics"
)

// Solver obtains challenge tokens from a Service. It never returns errors to
// its callers: every failure is logged and reported as "no token".
type Solver struct {
	service       Service
	timeout       time.Duration
	screenshotDir string
	settle        time.Duration
	metrics       *metrics.Metrics
	now           func() time.Time
}

// SolverOptions configure a Solver
type SolverOptions struct {
	Timeout       time.Duration
	ScreenshotDir string
	Settle        time.Duration
	Metrics       *metrics.Metrics
}

// NewSolver wraps service. A nil service yields a Solver that is never Available.
func NewSolver(service Service, opts SolverOptions) *Solver {
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.ScreenshotDir == "" {
		opts.ScreenshotDir = "captcha_screenshots"
	}
	if opts.Settle <= 0 {
		opts.Settle = 2 * time.Second
	}
	return &Solver{
		service:       service,
		timeout:       opts.Timeout,
		screenshotDir: opts.ScreenshotDir,
		settle:        opts.Settle,
		metrics:       opts.Metrics,
		now:           time.Now,
	}
}

// FromConfig builds the configured solver
func FromConfig(cfg *config.Config, m *metrics.Metrics) *Solver {
	logger := logging.WithComponent("challenge")

	var service Service
	if cfg.SolverAPIKey != "" {
		service = NewTwoCaptcha(cfg.SolverAPIKey, TwoCaptchaOptions{
			BaseURL:      cfg.SolverBaseURL,
			PollInterval: cfg.SolverPollInterval,
		})
		logger.Info().Str("service", service.Name()).Msg("Challenge solver initialized")
	} else {
		logger.Debug().Str("service", cfg.SolverService).Msg("No solver API key, challenge solving unavailable")
	}

	return NewSolver(service, SolverOptions{
		Timeout:       cfg.SolverTimeout,
		ScreenshotDir: cfg.ScreenshotDir,
		Settle:        cfg.BrowserSettle,
		Metrics:       m,
	})
}

// Available reports whether a service with credentials is configured
func (s *Solver) Available() bool {
	return s != nil && s.service != nil
}

// Solve blocks until the service returns a token or gives up
func (s *Solver) Solve(ctx context.Context, req Request) (string, bool) {
	logger := logging.WithComponent("challenge")

	if !s.Available() {
		logger.Warn().Str("variant", string(req.Variant)).Msg("Challenge solving unavailable")
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	logger.Info().
		Str("variant", string(req.Variant)).
		Str("page", req.PageURL).
		Str("site_key", truncate(req.SiteKey, 10)).
		Msg("Solving challenge")

	start := s.now()
	token, err := s.service.Submit(ctx, req)
	family := familyOf(req.Variant)
	if err != nil {
		logger.Error().Err(err).Str("variant", string(req.Variant)).Msg("Challenge solving failed")
		s.metrics.SolverOutcome(family, false)
		return "", false
	}
	if token == "" {
		logger.Warn().Str("variant", string(req.Variant)).Msg("Solver returned an empty token")
		s.metrics.SolverOutcome(family, false)
		return "", false
	}

	logger.Info().
		Str("variant", string(req.Variant)).
		Str("token", truncate(token, 15)).
		Dur("took", s.now().Sub(start)).
		Msg("Challenge solved")
	s.metrics.SolverOutcome(family, true)
	return token, true
}

// Balance returns the service account balance
func (s *Solver) Balance(ctx context.Context) (float64, bool) {
	logger := logging.WithComponent("challenge")
	if !s.Available() {
		logger.Warn().Msg("Challenge solving unavailable, cannot get balance")
		return 0, false
	}

	balance, err := s.service.Balance(ctx)
	if err != nil {
		logger.Error().Err(err).Str("service", s.service.Name()).Msg("Failed to get solver balance")
		return 0, false
	}
	logger.Info().Str("service", s.service.Name()).Float64("balance", balance).Msg("Solver balance")
	return balance, true
}

func familyOf(v Variant) string {
	switch v {
	case VariantRecaptchaV2, VariantRecaptchaV3:
		return string(FamilyRecaptcha)
	case VariantHCaptcha:
		return string(FamilyHCaptcha)
	case VariantTurnstile:
		return string(FamilyTurnstile)
	default:
		return strings.ToLower(string(v))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
