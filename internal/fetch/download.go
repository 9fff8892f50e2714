package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/law-makers/newsfetch/internal/engine"
	"github.com/law-makers/newsfetch/internal/reqctx"
	"github.com/law-makers/newsfetch/internal/retry"
	urlutil "github.com/law-makers/newsfetch/internal/utils/url"
)

// downloadSuffix marks a partially written file
const downloadSuffix = ".download"

// Download streams rawURL into dest through the client's session (proxy,
// cookies and rate limit). The body is written to dest.download and renamed
// once complete.
func (c *Client) Download(ctx context.Context, rawURL, dest string) (int64, error) {
	ctx = reqctx.WithRequestContext(ctx, rawURL)
	logger := reqctx.Logger(ctx, "download")

	if err := urlutil.ValidateURL(rawURL); err != nil {
		fe := engine.NewFetchError(engine.ErrCodeValidation, rawURL, err.Error(), engine.ErrInvalidURL)
		return 0, reqctx.NewRequestError(ctx, fe)
	}
	if dir := filepath.Dir(dest); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, reqctx.NewRequestError(ctx, fmt.Errorf("create directory: %w", err))
		}
	}

	o := c.requestOptions(rawURL, nil)
	var written int64

	err := retry.Do(ctx, c.retryConfig(o.Retries), func(ctx context.Context, attempt int) error {
		if err := c.wait(ctx, rawURL); err != nil {
			return retry.Permanent(err)
		}

		id := c.proxies.Get(false)
		resp, err := c.light.Do(ctx, c.request(o, id, o.Timeout))
		if err != nil {
			return c.attemptFailed(err, id)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			httpErr := retry.NewHTTPError(resp.StatusCode, resp.Status, "")
			return engine.NewFetchError(engine.ErrCodeNetwork, rawURL, "download failed", httpErr)
		}

		n, err := writeFile(dest, resp.Body)
		if err != nil {
			return err
		}
		written = n
		return nil
	})
	if err != nil {
		return 0, reqctx.NewRequestError(ctx, err)
	}

	logger.Info().
		Str("url", rawURL).
		Str("path", dest).
		Int64("bytes", written).
		Msg("Download completed")

	return written, nil
}

// writeFile copies r into dest via a temporary file
func writeFile(dest string, r io.Reader) (int64, error) {
	tmp := dest + downloadSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("create file: %w", err))
	}

	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("write %s: %w", dest, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return 0, retry.Permanent(fmt.Errorf("rename %s: %w", tmp, err))
	}
	return n, nil
}

