package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/law-makers/newsfetch/internal/logging"
)

// TestResult is the outcome of probing one identity
type TestResult struct {
	Identity *Identity
	OK       bool
	IP       string
	Err      error
}

// Test probes id against the configured IP echo endpoint
func (m *Manager) Test(ctx context.Context, id *Identity) bool {
	return m.Probe(ctx, id).OK
}

// Probe is Test with the echoed IP and the failure reason
func (m *Manager) Probe(ctx context.Context, id *Identity) TestResult {
	logger := logging.WithComponent("proxy")
	if id == nil {
		id = m.Current()
	}
	if id == nil {
		logger.Warn().Msg("No proxy available to test")
		return TestResult{Err: fmt.Errorf("no proxy available")}
	}

	res := TestResult{Identity: id}

	ip, err := probe(ctx, id, m.opts.TestURL, m.opts)
	if err != nil {
		logger.Warn().Str("proxy", id.String()).Err(err).Msg("Proxy test failed")
		res.Err = err
		return res
	}

	logger.Info().Str("proxy", id.String()).Str("ip", ip).Msg("Proxy test successful")
	res.OK = true
	res.IP = ip
	return res
}

// TestAll probes every identity in the pool with bounded concurrency
func (m *Manager) TestAll(ctx context.Context, concurrency int) []TestResult {
	ids := m.Identities()
	if concurrency <= 0 {
		concurrency = 4
	}

	results := make([]TestResult, len(ids))
	var g errgroup.Group
	g.SetLimit(concurrency)

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			results[i] = TestResult{Identity: id, Err: err}
			continue
		}
		g.Go(func() error {
			results[i] = m.Probe(ctx, id)
			return nil
		})
	}

	g.Wait()
	return results
}

func probe(ctx context.Context, id *Identity, testURL string, opts Options) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.TestTimeout)
	defer cancel()

	tr, err := Transport(id, opts.TestTimeout)
	if err != nil {
		return "", err
	}
	defer tr.CloseIdleConnections()

	client := &http.Client{Transport: tr, Timeout: opts.TestTimeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, testURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status code %d", resp.StatusCode)
	}

	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return body.IP, nil
}
