package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// MaxBody caps a single response; calendar and article pages are well below it.
const MaxBody = 16 << 20

// ErrBodyTooLarge is returned when a response exceeds MaxBody.
var ErrBodyTooLarge = errors.New("response body too large")

// NetworkError wraps transport failures, including timeouts.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError reports a non-2xx response.
type HTTPError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %s", e.URL, e.Status)
}

// Client fetches pages with a fixed user agent and per-request timeout.
type Client struct {
	http      *http.Client
	userAgent string
	timeout   time.Duration
	log       *slog.Logger
}

// New instantiates a fetch client.
func New(userAgent string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		http:      &http.Client{},
		userAgent: userAgent,
		timeout:   timeout,
		log:       logger,
	}
}

// Fetch returns the body of url.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	started := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &HTTPError{URL: url, StatusCode: res.StatusCode, Status: res.Status}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, MaxBody+1))
	if err != nil {
		return nil, &NetworkError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	if len(body) > MaxBody {
		return nil, fmt.Errorf("fetch %s: %w (limit %d bytes)", url, ErrBodyTooLarge, MaxBody)
	}

	c.log.Debug("fetched",
		slog.String("url", url),
		slog.Int("bytes", len(body)),
		slog.Duration("took", time.Since(started)),
	)
	return body, nil
}
