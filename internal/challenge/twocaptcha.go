package challenge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotReady is the poll answer while a worker is still solving
var ErrNotReady = errors.New("CAPCHA_NOT_READY")

// TwoCaptcha implements Service over the 2captcha HTTP API
type TwoCaptcha struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	client       *http.Client
}

// TwoCaptchaOptions configure a TwoCaptcha client
type TwoCaptchaOptions struct {
	BaseURL      string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// NewTwoCaptcha creates a 2captcha client
func NewTwoCaptcha(apiKey string, opts TwoCaptchaOptions) *TwoCaptcha {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://2captcha.com"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TwoCaptcha{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		pollInterval: opts.PollInterval,
		client:       opts.HTTPClient,
	}
}

// Name returns the service name
func (t *TwoCaptcha) Name() string {
	return "2captcha"
}

type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Submit posts the task to in.php and polls res.php until it resolves
func (t *TwoCaptcha) Submit(ctx context.Context, req Request) (string, error) {
	form, err := t.submitForm(req)
	if err != nil {
		return "", err
	}

	resp, err := t.call(ctx, http.MethodPost, "/in.php", form)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	if resp.Status != 1 {
		return "", fmt.Errorf("submit rejected: %s", resp.Request)
	}
	taskID := resp.Request

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("task %s: %w", taskID, ctx.Err())
		case <-ticker.C:
		}

		token, err := t.poll(ctx, taskID)
		if errors.Is(err, ErrNotReady) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("task %s: %w", taskID, err)
		}
		return token, nil
	}
}

// Balance returns the account balance
func (t *TwoCaptcha) Balance(ctx context.Context) (float64, error) {
	q := url.Values{}
	q.Set("action", "getbalance")

	resp, err := t.call(ctx, http.MethodGet, "/res.php", q)
	if err != nil {
		return 0, err
	}
	if resp.Status != 1 {
		return 0, fmt.Errorf("balance: %s", resp.Request)
	}
	balance, err := strconv.ParseFloat(resp.Request, 64)
	if err != nil {
		return 0, fmt.Errorf("balance %q: %w", resp.Request, err)
	}
	return balance, nil
}

func (t *TwoCaptcha) poll(ctx context.Context, taskID string) (string, error) {
	q := url.Values{}
	q.Set("action", "get")
	q.Set("id", taskID)

	resp, err := t.call(ctx, http.MethodGet, "/res.php", q)
	if err != nil {
		return "", err
	}
	if resp.Status == 1 {
		return resp.Request, nil
	}
	if resp.Request == ErrNotReady.Error() {
		return "", ErrNotReady
	}
	return "", fmt.Errorf("solve failed: %s", resp.Request)
}

func (t *TwoCaptcha) submitForm(req Request) (url.Values, error) {
	form := url.Values{}

	switch req.Variant {
	case VariantRecaptchaV2, "":
		form.Set("method", "userrecaptcha")
		form.Set("googlekey", req.SiteKey)
		form.Set("pageurl", req.PageURL)
		if req.Invisible {
			form.Set("invisible", "1")
		}
	case VariantRecaptchaV3:
		form.Set("method", "userrecaptcha")
		form.Set("version", "v3")
		form.Set("googlekey", req.SiteKey)
		form.Set("pageurl", req.PageURL)
		action := req.Action
		if action == "" {
			action = "verify"
		}
		score := req.MinScore
		if score <= 0 {
			score = 0.7
		}
		form.Set("action", action)
		form.Set("min_score", strconv.FormatFloat(score, 'f', 1, 64))
	case VariantHCaptcha:
		form.Set("method", "hcaptcha")
		form.Set("sitekey", req.SiteKey)
		form.Set("pageurl", req.PageURL)
	case VariantTurnstile:
		form.Set("method", "turnstile")
		form.Set("sitekey", req.SiteKey)
		form.Set("pageurl", req.PageURL)
	case VariantImage:
		if len(req.Image) == 0 {
			return nil, fmt.Errorf("image challenge without image body")
		}
		form.Set("method", "base64")
		form.Set("body", base64.StdEncoding.EncodeToString(req.Image))
	default:
		return nil, fmt.Errorf("unsupported variant %q", req.Variant)
	}

	if req.Variant != VariantImage && req.SiteKey == "" {
		return nil, fmt.Errorf("%s challenge without site key", req.Variant)
	}

	for k, v := range req.Params {
		form.Set(k, v)
	}
	return form, nil
}

func (t *TwoCaptcha) call(ctx context.Context, method, path string, params url.Values) (*apiResponse, error) {
	params.Set("key", t.apiKey)
	params.Set("json", "1")

	var (
		req *http.Request
		err error
	)
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, t.baseURL+path, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, t.baseURL+path+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, path)
	}

	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
