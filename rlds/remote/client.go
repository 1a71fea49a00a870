// Package remote fetches dataset rows and image bytes from HTTP endpoints and
// S3-compatible object storage.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

var (
	ErrHTTPStatus        = errors.New("unexpected HTTP status")
	ErrUnsupportedScheme = errors.New("unsupported URI scheme")
)

// Fetcher returns the full body behind a URI.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// HTTPClient is a Fetcher for http(s) URIs. Transient failures (connection
// errors, 429 and 5xx) are retried up to RetryMax times; other statuses fail
// immediately.
type HTTPClient struct {
	client *retryablehttp.Client
}

// NewHTTPClient creates a client with the given retry budget and timeout.
func NewHTTPClient(retryMax int, timeout time.Duration, logger zerolog.Logger) *HTTPClient {
	c := retryablehttp.NewClient()
	c.RetryMax = max(retryMax, 0)
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 5 * time.Second
	if timeout > 0 {
		c.HTTPClient.Timeout = timeout
	}
	c.Logger = leveledLogger{logger}
	return &HTTPClient{client: c}
}

func (h *HTTPClient) Fetch(ctx context.Context, uri string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", uri, err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", uri, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", uri, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrHTTPStatus, uri, resp.StatusCode, truncate(string(body), 256))
	}
	return body, nil
}

// Router dispatches by URI scheme.
type Router struct {
	HTTP Fetcher
	S3   Fetcher
}

func (r *Router) Fetch(ctx context.Context, uri string) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		if r.HTTP != nil {
			return r.HTTP.Fetch(ctx, uri)
		}
	case strings.HasPrefix(uri, "s3://"):
		if r.S3 != nil {
			return r.S3.Fetch(ctx, uri)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, uri)
}

// IsURI reports whether s names a remote resource the Router understands.
func IsURI(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "s3://")
}

// leveledLogger adapts zerolog to retryablehttp.LeveledLogger.
type leveledLogger struct{ l zerolog.Logger }

func (z leveledLogger) Error(msg string, kv ...interface{}) { z.l.Error().Fields(kv).Msg(msg) }
func (z leveledLogger) Info(msg string, kv ...interface{})  { z.l.Info().Fields(kv).Msg(msg) }
func (z leveledLogger) Debug(msg string, kv ...interface{}) { z.l.Debug().Fields(kv).Msg(msg) }
func (z leveledLogger) Warn(msg string, kv ...interface{})  { z.l.Warn().Fields(kv).Msg(msg) }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
