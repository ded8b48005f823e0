package inpaint

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"fluxfill/core"
	"fluxfill/logging"

	"go.uber.org/zap"
)

// Fetcher downloads inpainting results from the temporary URLs returned by
// the endpoint.
//
// Thread Safety: Fetcher is safe for concurrent use.
// Each download creates its own HTTP request.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
	logger  *logging.Logger
}

// NewFetcher creates a Fetcher. A nil client gets one with the given
// timeout.
func NewFetcher(client *http.Client, timeout time.Duration, logger *logging.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = core.DefaultRequestTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Fetcher{client: client, timeout: timeout, logger: logger.Named("fetch")}
}

// Fetch GETs url and writes the body verbatim to path. A partial file is
// removed on failure. Failures are logged and wrap ErrDownloadFailed.
func (f *Fetcher) Fetch(ctx context.Context, url, path string) error {
	err := f.fetch(ctx, url, path)
	if err != nil {
		f.logger.Warn("Result download failed",
			zap.String("file", path),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return nil
}

func (f *Fetcher) fetch(ctx context.Context, url, path string) error {
	if url == "" {
		return fmt.Errorf("URL cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	n, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("write file: %w", err)
	}

	f.logger.Debug("Downloaded result",
		zap.String("file", path),
		zap.Int64("bytes", n),
		zap.String("content_type", resp.Header.Get("Content-Type")),
	)
	return nil
}
