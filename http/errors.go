package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"spectation/internal/retry"
)

// RateLimitError indicates the server rate limited the request (429 or 503).
type RateLimitError struct {
	// StatusCode is the HTTP status code.
	StatusCode int
	// RetryAfter indicates how long to wait before retrying.
	RetryAfter time.Duration
	// Body is the response body, kept so callers can surface server messages.
	Body []byte
}

// Error returns a string representation of the rate limit error.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (status %d): retry after %v", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (status %d)", e.StatusCode)
}

// HTTPError indicates a non-2xx response.
type HTTPError struct {
	// StatusCode is the HTTP status code.
	StatusCode int
	// Body is the response body.
	Body []byte
}

// Error returns a string representation of the HTTP error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error: status %d", e.StatusCode)
}

// Unwrap maps 404 to retry.ErrNotFound.
func (e *HTTPError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return retry.ErrNotFound
	}
	return nil
}

// Sentinel errors for HTTP operations.
var (
	// ErrRequestFailed indicates the request itself failed (network error).
	ErrRequestFailed = errors.New("http request failed")

	// ErrCircuitOpen is returned when the circuit for a host is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// StatusCode extracts the HTTP status from err, or 0 when err carries none.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return rlErr.StatusCode
	}
	return 0
}

// ResponseBody extracts the response body carried by err, if any.
func ResponseBody(err error) []byte {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Body
	}
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return rlErr.Body
	}
	return nil
}
