// Package fetch downloads remote assets (cover images, inline pictures) to
// local directories for the asset_fetch job kind.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/phrazzld/bookpush/internal/config"
	"github.com/phrazzld/bookpush/internal/task"
)

// ErrNoFileName is returned for URLs whose path has no final segment.
var ErrNoFileName = errors.New("url has no file name")

// Client performs rate-limited GET requests and stores the bodies on disk.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	referer   string
	logger    *slog.Logger
}

var _ task.Fetcher = (*Client)(nil)

// NewClient creates a Client from cfg. A non-positive RequestsPerSecond
// disables the politeness limit.
func NewClient(cfg config.FetchConfig, l *slog.Logger) *Client {
	if l == nil {
		l = slog.Default()
	}
	c := &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		referer:   cfg.Referer,
		logger:    l.With(slog.String("component", "fetch")),
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

// Fetch implements task.Fetcher. The body is written to dir/<last path
// segment of rawURL>, replacing any earlier download of the same asset.
func (c *Client) Fetch(ctx context.Context, rawURL, dir string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid asset url %q: %w", rawURL, err)
	}
	name := FileName(u)
	if name == "" {
		return "", fmt.Errorf("%w: %s", ErrNoFileName, rawURL)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.referer != "" {
		req.Header.Set("Referer", c.referer)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %d from %s", task.ErrStatusCode, resp.StatusCode, rawURL)
	}

	dest := filepath.Join(dir, name)
	n, err := writeFile(dest, resp.Body)
	if err != nil {
		return "", err
	}
	if n == 0 {
		_ = os.Remove(dest)
		return "", fmt.Errorf("%w: %s", task.ErrEmptyResponse, rawURL)
	}

	c.logger.Debug("asset fetched",
		"url", rawURL,
		"path", dest,
		"bytes", n,
		"duration_ms", time.Since(start).Milliseconds())
	return dest, nil
}

// FileName returns the last path segment of u, which is also the name an
// asset is stored under.
func FileName(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return ""
	}
	return name
}

func writeFile(dest string, body io.Reader) (int64, error) {
	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dest, err)
	}
	n, err := io.Copy(f, body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return n, nil
}
