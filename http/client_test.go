package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"spectation/internal/retry"
)

func testConfig(maxRetries int) *Config {
	cfg := DefaultConfig()
	cfg.Timeout = 5 * time.Second
	cfg.Retry = retry.Config{
		MaxRetries:     maxRetries,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		Multiplier:     2.0,
	}
	cfg.RateLimiter.EnableDynamicBackoff = false
	return cfg
}

func TestNewClientNilConfig(t *testing.T) {
	client := New(nil)
	if client == nil {
		t.Fatal("expected client to be created with default config")
	}
	client.Close()
}

func TestClientGetSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if ua := r.Header.Get("User-Agent"); ua != "spectation/1.0" {
			t.Errorf("expected default User-Agent, got %q", ua)
		}
		w.Write([]byte("test response"))
	}))
	defer server.Close()

	client := New(testConfig(0))
	defer client.Close()

	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if string(resp.Body) != "test response" {
		t.Errorf("expected 'test response', got %q", string(resp.Body))
	}
}

func TestClientHeadersPrecedence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Client"); got != "call" {
			t.Errorf("expected per-call header to win, got %q", got)
		}
		if got := r.Header.Get("X-Static"); got != "static" {
			t.Errorf("expected configured header, got %q", got)
		}
	}))
	defer server.Close()

	cfg := testConfig(0)
	cfg.Headers = map[string]string{"X-Client": "config", "X-Static": "static"}
	client := New(cfg)
	defer client.Close()

	_, err := client.Do(context.Background(), http.MethodGet, server.URL, nil, map[string]string{"X-Client": "call"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClientPostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %q", ct)
		}
		var in map[string]string
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"echo": in["action"]})
	}))
	defer server.Close()

	client := New(testConfig(0))
	defer client.Close()

	resp, err := client.PostJSON(context.Background(), server.URL, map[string]string{"action": "search"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out map[string]string
	if err := resp.DecodeJSON(&out); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if out["echo"] != "search" {
		t.Errorf("expected echo=search, got %q", out["echo"])
	}
}

func TestClientRateLimitRetry(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New(testConfig(2))
	defer client.Close()

	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != "ok" {
		t.Errorf("expected 'ok', got %q", string(resp.Body))
	}
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestClientOneShotServerError(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer server.Close()

	client := New(testConfig(0))
	defer client.Close()

	_, err := client.Get(context.Background(), server.URL)

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %T: %v", err, err)
	}
	if httpErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", httpErr.StatusCode)
	}
	if string(ResponseBody(err)) != `{"error":"boom"}` {
		t.Errorf("expected body to be kept, got %q", ResponseBody(err))
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

func TestClientNotFoundNotRetried(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := New(testConfig(3))
	defer client.Close()

	_, err := client.Get(context.Background(), server.URL)
	if StatusCode(err) != http.StatusNotFound {
		t.Errorf("expected status 404, got %d (%v)", StatusCode(err), err)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("expected 4xx not to be retried, got %d attempts", got)
	}
	if !errors.Is(err, retry.ErrNotFound) {
		t.Errorf("expected 404 to match retry.ErrNotFound, got %v", err)
	}
}

func TestClientInvalidURL(t *testing.T) {
	client := New(testConfig(3))
	defer client.Close()

	_, err := client.Get(context.Background(), "http://bad host/")
	if !errors.Is(err, retry.ErrInvalidURL) {
		t.Fatalf("expected retry.ErrInvalidURL, got %v", err)
	}
	var retryErr *retry.RetryableError
	if errors.As(err, &retryErr) {
		t.Error("invalid url must not be retried")
	}
}

func TestOneShotConfigKeepsNoHostState(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		switch {
		case n <= 6 && n%2 == 0:
			w.WriteHeader(http.StatusServiceUnavailable)
		case n <= 6:
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.Write([]byte("ok"))
		}
	}))
	defer server.Close()

	cfg := OneShotConfig()
	cfg.Timeout = 5 * time.Second
	client := New(cfg)
	defer client.Close()

	for i := 0; i < 6; i++ {
		if _, err := client.Get(context.Background(), server.URL); StatusCode(err) < 500 {
			t.Fatalf("attempt %d: expected a 5xx error, got %v", i, err)
		}
	}
	if state := client.rateLimiter.BackoffFor(server.URL); state != nil {
		t.Errorf("expected no backoff state, got %+v", state)
	}

	start := time.Now()
	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("expected the next request to reach the server, got %v", err)
	}
	if string(resp.Body) != "ok" {
		t.Errorf("unexpected body %q", resp.Body)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("request waited %v, expected no backoff", elapsed)
	}
	if got := atomic.LoadInt32(&attempts); got != 7 {
		t.Errorf("expected 7 requests, got %d", got)
	}
}

func TestClientServerErrorRetriedThenWrapped(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(testConfig(2))
	defer client.Close()

	_, err := client.Get(context.Background(), server.URL)

	var retryErr *retry.RetryableError
	if !errors.As(err, &retryErr) {
		t.Fatalf("expected *retry.RetryableError, got %T", err)
	}
	if StatusCode(err) != http.StatusBadGateway {
		t.Errorf("expected wrapped status 502, got %d", StatusCode(err))
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestClientCircuitOpens(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig(0)
	cfg.CircuitBreaker.FailureThreshold = 2
	cfg.CircuitBreaker.RecoveryTimeout = time.Minute
	client := New(cfg)
	defer client.Close()

	for i := 0; i < 2; i++ {
		if _, err := client.Get(context.Background(), server.URL); StatusCode(err) != 500 {
			t.Fatalf("attempt %d: expected status 500, got %v", i, err)
		}
	}

	_, err := client.Get(context.Background(), server.URL)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Errorf("expected open circuit to short-circuit, server saw %d requests", got)
	}
}

func TestClientStreamPartialContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "bytes=0-3" {
			t.Errorf("expected Range to be forwarded, got %q", r.Header.Get("Range"))
		}
		w.Header().Set("Content-Range", "bytes 0-3/10")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("abcd"))
	}))
	defer server.Close()

	client := New(testConfig(0))
	defer client.Close()

	resp, err := client.Stream(context.Background(), server.URL, map[string]string{"Range": "bytes=0-3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		t.Errorf("expected 206, got %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "abcd" {
		t.Errorf("expected 'abcd', got %q", data)
	}
}

func TestClientStreamErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := New(testConfig(0))
	defer client.Close()

	_, err := client.Stream(context.Background(), server.URL, nil)
	if StatusCode(err) != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestClientContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := New(testConfig(3))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, server.URL)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestClientConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := New(testConfig(0))
	defer client.Close()

	_, err := client.Get(context.Background(), url)
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("expected ErrRequestFailed, got %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "120", 120 * time.Second},
		{"garbage", "soon", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.value != "" {
				h.Set("Retry-After", tt.value)
			}
			if got := parseRetryAfter(h); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}

	h := http.Header{}
	h.Set("Retry-After", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
	if got := parseRetryAfter(h); got < 58*time.Minute || got > time.Hour {
		t.Errorf("parseRetryAfter(http-date) = %v, want about an hour", got)
	}
}

func TestErrorHelpers(t *testing.T) {
	rl := &RateLimitError{StatusCode: 429, RetryAfter: 2 * time.Second, Body: []byte("slow down")}
	if rl.Error() != "rate limited (status 429): retry after 2s" {
		t.Errorf("unexpected message %q", rl.Error())
	}
	if StatusCode(rl) != 429 || string(ResponseBody(rl)) != "slow down" {
		t.Errorf("helpers did not read RateLimitError")
	}
	if StatusCode(errors.New("plain")) != 0 || ResponseBody(errors.New("plain")) != nil {
		t.Errorf("helpers should return zero values for plain errors")
	}
}
