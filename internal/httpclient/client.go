// Package httpclient implements the retrying download client for remote
// document sources.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ginza777/file-box/internal/document"
)

const (
	chunkSize  = 32 * 1024
	defaultExt = ".bin"
)

// Config controls download behavior.
type Config struct {
	// MediaRoot is the local cache root; downloads land under
	// <MediaRoot>/documents/<id><ext>.
	MediaRoot string
	// Timeout caps a single fetch attempt.
	Timeout time.Duration
	// MaxRetries bounds automatic retries on transient failures.
	MaxRetries int
	// BackoffInitial and BackoffMax shape the inter-attempt delay.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Client downloads remote files into the local media cache, retrying
// connection errors and 429/5xx responses with exponential backoff.
type Client struct {
	http    *http.Client
	cfg     Config
	backoff *document.ExponentialRetryPolicy
	logger  *zap.Logger
}

// New constructs a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.MediaRoot) == "" {
		return nil, fmt.Errorf("media root is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		backoff: document.NewExponentialRetryPolicy(cfg.MaxRetries+1, cfg.BackoffInitial, cfg.BackoffMax),
		logger:  logger,
	}, nil
}

// Download fetches fileURL and streams it to the media cache in fixed-size
// chunks. It returns the media-root-relative path and the byte count.
func (c *Client) Download(ctx context.Context, fileURL string, id uuid.UUID) (string, int64, error) {
	rel := filepath.Join("documents", id.String()+extensionOf(fileURL))
	abs := filepath.Join(c.cfg.MediaRoot, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return "", 0, fmt.Errorf("create cache dir: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying download",
				zap.String("document_id", id.String()),
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
			if err := sleep(ctx, c.backoff.Backoff(attempt-1)); err != nil {
				return "", 0, err
			}
		}

		size, err := c.fetchOnce(ctx, fileURL, abs)
		if err == nil {
			return rel, size, nil
		}
		lastErr = err

		var status *document.StatusError
		if errors.As(err, &status) && !document.RetryableStatus(status.Code) {
			break
		}
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
	}
	return "", 0, fmt.Errorf("download %s: %w", fileURL, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, fileURL, abs string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &document.StatusError{Code: resp.StatusCode, URL: fileURL}
	}

	// Stream to a temp file and rename so a crashed attempt never leaves a
	// half-written file at the final path.
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".download-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	buf := make([]byte, chunkSize)
	written, err := io.CopyBuffer(tmp, resp.Body, buf)
	if closeErr := tmp.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("stream body: %w", err)
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		return 0, fmt.Errorf("finalize file: %w", err)
	}
	return written, nil
}

func extensionOf(fileURL string) string {
	u, err := url.Parse(fileURL)
	if err != nil {
		return defaultExt
	}
	ext := path.Ext(u.Path)
	if ext == "" || len(ext) > 10 {
		return defaultExt
	}
	return ext
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
