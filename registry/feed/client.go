package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"relaydir/internal/shared/logger"
)

// ErrUpstreamUnavailable is returned when the feed source cannot be reached
// or answers with a non-success status. Whether that is fatal is the cache's
// decision, not the client's.
var ErrUpstreamUnavailable = errors.New("feed: upstream unavailable")

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"

// Client fetches the raw relay feed. One invocation is one live round trip;
// there is no internal retry and no response caching.
type Client struct {
	url    string
	client *http.Client
}

// NewClient creates a feed client for the given source URL.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// URL returns the configured feed source URL.
func (c *Client) URL() string { return c.url }

// FetchRaw performs a single GET against the feed source and returns the
// body as text. Any transport error or non-2xx status maps to
// ErrUpstreamUnavailable.
func (c *Client) FetchRaw(ctx context.Context) (string, error) {
	l := logger.WithComponent("Registry/Feed")
	l.Debug().Str("url", c.url).Msg("Fetching upstream feed...")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: building request: %v", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("User-Agent", userAgent)
	// Every invocation must be a live round trip; defeat intermediary caches.
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d from %s", ErrUpstreamUnavailable, resp.StatusCode, c.url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading body: %v", ErrUpstreamUnavailable, err)
	}

	l.Debug().Int("bytes", len(body)).Dur("elapsed", time.Since(start)).Msg("Feed fetched.")
	return string(body), nil
}
