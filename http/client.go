// Package http provides the HTTP client used to talk to the extraction
// backend, the byte proxy and upstream media hosts, with per-host rate
// limiting, a circuit breaker and optional retries.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"spectation/internal/retry"
)

// Client wraps an HTTP client with retry logic and rate limit handling.
type Client struct {
	base           *http.Client
	config         *Config
	rateLimiter    *RateLimiter
	circuitBreaker *CircuitBreaker
}

// Config holds HTTP client configuration.
type Config struct {
	// Timeout for individual HTTP requests. Zero disables the client timeout;
	// streamed responses rely on the request context instead.
	Timeout time.Duration

	// Retry configuration. MaxRetries == 0 issues every request exactly once.
	Retry retry.Config

	// UserAgent for HTTP requests.
	UserAgent string

	// Headers are added to every request unless the call sets them explicitly.
	Headers map[string]string

	// RateLimiter configuration.
	RateLimiter RateLimiterConfig

	// CircuitBreaker configuration.
	CircuitBreaker CircuitBreakerConfig

	// Transport configures connection pooling.
	Transport TransportConfig
}

// TransportConfig configures the HTTP transport (connection pooling).
type TransportConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	ForceAttemptHTTP2   bool
	DisableKeepAlives   bool
}

// DefaultConfig returns defaults for talking to the extraction backend.
func DefaultConfig() *Config {
	return &Config{
		Timeout:        30 * time.Second,
		Retry:          retry.DefaultConfig(),
		UserAgent:      "spectation/1.0",
		Headers:        map[string]string{},
		RateLimiter:    DefaultRateLimiterConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		Transport:      DefaultTransportConfig(),
	}
}

// OneShotConfig is DefaultConfig for callers where every request is a user
// action: one attempt, no circuit breaker and no dynamic rate backoff, so a
// failure never affects the next, unrelated request.
func OneShotConfig() *Config {
	cfg := DefaultConfig()
	cfg.Retry = retry.OneShot()
	cfg.CircuitBreaker = CircuitBreakerConfig{Disabled: true}
	cfg.RateLimiter.EnableDynamicBackoff = false
	return cfg
}

// DefaultTransportConfig returns sensible defaults for HTTP transport configuration.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
}

// New creates a new HTTP client with the given configuration.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Transport.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Transport.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.Transport.MaxConnsPerHost,
		IdleConnTimeout:     cfg.Transport.IdleConnTimeout,
		ForceAttemptHTTP2:   cfg.Transport.ForceAttemptHTTP2,
		DisableKeepAlives:   cfg.Transport.DisableKeepAlives,
	}

	return &Client{
		base:           &http.Client{Timeout: cfg.Timeout, Transport: transport},
		config:         cfg,
		rateLimiter:    NewRateLimiter(cfg.RateLimiter),
		circuitBreaker: NewCircuitBreaker(cfg.CircuitBreaker),
	}
}

// Response represents an HTTP response with status code and body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the response body into v.
func (r *Response) DecodeJSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil, nil)
}

// PostJSON marshals payload and POSTs it as application/json.
func (c *Client) PostJSON(ctx context.Context, url string, payload interface{}) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return c.Do(ctx, http.MethodPost, url, body, map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	})
}

// Do performs an HTTP request and reads the whole body. Non-2xx responses
// come back as *HTTPError or *RateLimitError with the body attached.
func (c *Client) Do(ctx context.Context, method, urlStr string, body []byte, headers map[string]string) (*Response, error) {
	var out *Response
	err := c.guard(ctx, urlStr, func(ctx context.Context) error {
		resp, err := c.send(ctx, method, urlStr, body, headers)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		out = &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stream performs a GET and hands back the live response for the caller to
// relay; the caller must close the body. 206 Partial Content counts as success.
// Streams are never retried because part of the body may already be consumed.
func (c *Client) Stream(ctx context.Context, urlStr string, headers map[string]string) (*http.Response, error) {
	host := hostOf(urlStr)
	if err := c.circuitBreaker.Allow(host); err != nil {
		return nil, err
	}
	if err := c.rateLimiter.Wait(ctx, urlStr); err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, http.MethodGet, urlStr, nil, headers)
	if err != nil {
		c.circuitBreaker.RecordFailure(host, err)
		return nil, err
	}
	c.rateLimiter.RecordSuccess(urlStr)
	c.circuitBreaker.RecordSuccess(host)
	return resp, nil
}

// guard runs attempt behind the circuit breaker, backoff and rate limiter,
// retrying per the configured retry policy.
func (c *Client) guard(ctx context.Context, urlStr string, attempt func(context.Context) error) error {
	host := hostOf(urlStr)

	if err := c.circuitBreaker.Allow(host); err != nil {
		return err
	}

	err := retry.Do(ctx, c.config.Retry, c.isRetryableHTTPError, func(ctx context.Context) error {
		if err := c.rateLimiter.WaitForBackoff(ctx, urlStr); err != nil {
			return err
		}
		if err := c.rateLimiter.Wait(ctx, urlStr); err != nil {
			return err
		}
		return attempt(ctx)
	})
	if err != nil {
		c.circuitBreaker.RecordFailure(host, err)
		return err
	}

	c.rateLimiter.RecordSuccess(urlStr)
	c.circuitBreaker.RecordSuccess(host)
	return nil
}

// send issues one request and converts error statuses. On success the
// response body is left open.
func (c *Client) send(ctx context.Context, method, urlStr string, body []byte, headers map[string]string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, urlStr, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", retry.ErrInvalidURL, err)
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		retryAfter := parseRetryAfter(resp.Header)
		if backoff := c.rateLimiter.RecordRateLimitError(urlStr, retryAfter); backoff > retryAfter {
			retryAfter = backoff
		}
		return nil, &RateLimitError{StatusCode: resp.StatusCode, RetryAfter: retryAfter, Body: data}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: data}
	}

	return resp, nil
}

// isRetryableHTTPError retries rate limits, 5xx and network failures.
func (c *Client) isRetryableHTTPError(err error) bool {
	if !retry.IsRetryable(err) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	return true
}

// parseRetryAfter extracts the Retry-After header value.
func parseRetryAfter(header http.Header) time.Duration {
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

// Close releases idle connections.
func (c *Client) Close() error {
	if c.base != nil {
		c.base.CloseIdleConnections()
	}
	return nil
}
