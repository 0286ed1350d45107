package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/tickvault/tickvault/internal/auth"
)

// APIError represents an error response from a venue REST API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("venue api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// Client is a venue REST client with retry and optional HMAC signing.
type Client struct {
	baseURL    string
	creds      *auth.Credentials
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration

	// Used rate-limit weight reported by the venue on the last response.
	usedWeight atomic.Int64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST client for one venue.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithCredentials sets venue API credentials.
func WithCredentials(creds *auth.Credentials) ClientOption {
	return func(c *Client) {
		c.creds = creds
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// doRequest performs a single HTTP request.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, signed bool) ([]byte, error) {
	if signed {
		if c.creds.Empty() {
			return nil, fmt.Errorf("endpoint %s requires credentials", path)
		}
		var err error
		query, err = c.creds.SignQuery(query)
		if err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	for k, v := range c.creds.Headers() {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if w := resp.Header.Get("X-Mbx-Used-Weight-1m"); w != "" {
		if n, err := strconv.ParseInt(w, 10, 64); err == nil {
			c.usedWeight.Store(n)
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}

// doWithRetry performs a request with jittered exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values, signed bool) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		body, err := c.doRequest(ctx, method, path, query, signed)
		if err == nil {
			return body, nil
		}

		lastErr = err

		apiErr, ok := err.(*APIError)
		if ok && !apiErr.IsRetryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// get performs a GET request with retries and decodes the JSON response.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.doWithRetry(ctx, http.MethodGet, path, query, false)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}

// getOnce performs a single unretried GET, used where the fetcher owns
// the retry policy.
func (c *Client) getOnce(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.doRequest(ctx, http.MethodGet, path, query, false)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}

// ServerTime probes the venue clock and the request weight already
// consumed against the rate limit window. Used at startup to
// sanity-check limiter configuration.
func (c *Client) ServerTime(ctx context.Context) (time.Time, int, error) {
	body, err := c.doWithRetry(ctx, http.MethodGet, "/api/v3/time", nil, false)
	if err != nil {
		return time.Time{}, 0, err
	}

	var wire struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return time.Time{}, 0, fmt.Errorf("unmarshal server time: %w", err)
	}

	return time.UnixMilli(wire.ServerTime), int(c.usedWeight.Load()), nil
}
