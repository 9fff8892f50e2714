package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/law-makers/newsfetch/internal/logging"
)

// pageProbe reports the live DOM plus any site key the widget runtime knows
// about that the markup does not show
const pageProbe = `(() => {
	let key = null;
	try {
		if (typeof ___grecaptcha_cfg !== 'undefined' && ___grecaptcha_cfg.clients) {
			const seen = new Set();
			const walk = (obj, depth) => {
				if (!obj || typeof obj !== 'object' || depth > 4 || seen.has(obj) || key) return;
				seen.add(obj);
				for (const k of Object.keys(obj)) {
					const v = obj[k];
					if (k === 'sitekey' && typeof v === 'string') { key = v; return; }
					walk(v, depth + 1);
				}
			};
			walk(___grecaptcha_cfg.clients, 0);
		}
	} catch (e) {}
	return { html: document.documentElement.outerHTML, runtimeKey: key };
})()`

type pageState struct {
	HTML       string `json:"html"`
	RuntimeKey string `json:"runtimeKey"`
}

// DetectPage runs Detect against the live page in ctx
func (s *Solver) DetectPage(ctx context.Context) (Detection, error) {
	var state pageState
	if err := chromedp.Run(ctx, chromedp.Evaluate(pageProbe, &state)); err != nil {
		return Detection{}, fmt.Errorf("probe page: %w", err)
	}

	det := Detect(state.HTML)
	if det.Detected && det.SiteKey == "" && state.RuntimeKey != "" {
		det.SiteKey = state.RuntimeKey
		if det.Family == FamilyGeneric {
			det.Family = FamilyRecaptcha
		}
	}
	return det, nil
}

// Apply injects token into the live page and fires any registered widget
// callbacks. The caller waits for the page to settle afterwards.
func (s *Solver) Apply(ctx context.Context, family Family, token string) bool {
	logger := logging.WithComponent("challenge")

	quoted, err := json.Marshal(token)
	if err != nil {
		return false
	}

	script := fmt.Sprintf(`(() => {
	const token = %s;
	const fields = ['g-recaptcha-response', 'h-captcha-response', 'cf-turnstile-response'];
	let applied = false;
	for (const name of fields) {
		document.querySelectorAll('textarea[name="' + name + '"], textarea#' + name + ', input[name="' + name + '"]').forEach(el => {
			el.innerHTML = token;
			el.value = token;
			el.dispatchEvent(new Event('change', { bubbles: true }));
			applied = true;
		});
	}
	const fire = (fn) => {
		try {
			if (typeof fn === 'function') { fn(token); applied = true; }
			else if (typeof fn === 'string' && typeof window[fn] === 'function') { window[fn](token); applied = true; }
		} catch (e) {}
	};
	if (typeof ___grecaptcha_cfg !== 'undefined' && ___grecaptcha_cfg.clients) {
		Object.keys(___grecaptcha_cfg.clients).forEach(key => {
			const client = ___grecaptcha_cfg.clients[key];
			if (client && typeof client === 'object') {
				Object.values(client).forEach(obj => {
					if (obj && typeof obj === 'object') {
						Object.values(obj).forEach(inner => { if (inner && inner.callback) fire(inner.callback); });
						if (obj.callback) fire(obj.callback);
					}
				});
			}
		});
	}
	document.querySelectorAll('[data-callback]').forEach(el => fire(el.getAttribute('data-callback')));
	return applied;
})()`, quoted)

	var applied bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &applied)); err != nil {
		logger.Error().Err(err).Str("family", string(family)).Msg("Failed to apply challenge token")
		return false
	}
	if !applied {
		logger.Warn().Str("family", string(family)).Msg("No response field or callback accepted the token")
		return false
	}

	logger.Info().Str("family", string(family)).Msg("Applied challenge token to page")
	return true
}

// SolvePage detects, solves and applies a challenge in the live page. It
// returns true only when a token was applied.
func (s *Solver) SolvePage(ctx context.Context, pageURL string) bool {
	logger := logging.WithComponent("challenge")

	det, err := s.DetectPage(ctx)
	if err != nil {
		logger.Error().Err(err).Str("url", pageURL).Msg("Challenge detection failed")
		return false
	}
	if !det.Detected {
		return false
	}

	if det.SiteKey == "" {
		logger.Warn().Str("url", pageURL).Str("family", string(det.Family)).Msg("Challenge detected but no site key found")
		s.screenshot(ctx, det.Family)
		return false
	}

	token, ok := s.Solve(ctx, Request{
		Variant:   VariantFor(det),
		SiteKey:   det.SiteKey,
		PageURL:   pageURL,
		Invisible: det.Invisible,
	})
	if !ok {
		return false
	}

	if !s.Apply(ctx, det.Family, token) {
		return false
	}

	// Let callbacks submit and the page re-render
	if err := chromedp.Run(ctx, chromedp.Sleep(s.settle)); err != nil {
		logger.Debug().Err(err).Msg("Settle wait interrupted")
	}
	return true
}

func (s *Solver) screenshot(ctx context.Context, family Family) {
	logger := logging.WithComponent("challenge")

	var buf []byte
	if err := chromedp.Run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		logger.Error().Err(err).Msg("Failed to capture challenge screenshot")
		return
	}
	if err := os.MkdirAll(s.screenshotDir, 0755); err != nil {
		logger.Error().Err(err).Str("dir", s.screenshotDir).Msg("Failed to create screenshot directory")
		return
	}

	if family == FamilyNone {
		family = FamilyGeneric
	}
	path := filepath.Join(s.screenshotDir, fmt.Sprintf("%s_unknown_%d.png", family, time.Now().Unix()))
	if err := os.WriteFile(path, buf, 0644); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Failed to write challenge screenshot")
		return
	}
	logger.Info().Str("path", path).Msg("Saved screenshot of challenge page")
}
