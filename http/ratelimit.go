package http

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Backoff tuning for hosts that answer with 429/503.
const (
	InitialBackoff        = 1 * time.Second
	MaxBackoff            = 60 * time.Second
	BackoffMultiplier     = 2.0
	BackoffCooldownPeriod = 5 * time.Minute
	// MinRPSMultiplier is the floor for dynamic rate reduction (25% of original).
	MinRPSMultiplier = 0.25
)

// RateLimiterConfig defines per-host rate limiting.
type RateLimiterConfig struct {
	// DefaultRPS applies to hosts without a custom rate. 0 means unlimited.
	DefaultRPS float64
	// Burst is the token bucket size. Defaults to 1.
	Burst int
	// CustomRates maps host names to RPS values. 0 means unlimited for that host.
	CustomRates map[string]float64
	// EnableDynamicBackoff lowers a host's rate after rate limit responses.
	EnableDynamicBackoff bool
}

// DefaultRateLimiterConfig leaves the extraction backend unthrottled and keeps
// the public video hosts at a conservative rate.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		DefaultRPS: 0,
		Burst:      1,
		CustomRates: map[string]float64{
			"www.youtube.com":    2.5,
			"youtube.com":        2.5,
			"www.googleapis.com": 1.0,
		},
		EnableDynamicBackoff: true,
	}
}

// BackoffState tracks rate limit backoff for a host.
type BackoffState struct {
	CurrentBackoff    time.Duration
	LastError         time.Time
	ConsecutiveErrors int
	OriginalRPS       float64
	ReducedRPS        float64
}

// RateLimiter manages per-host token buckets and backoff state.
type RateLimiter struct {
	limiters     map[string]*rate.Limiter
	backoffState map[string]*BackoffState
	mu           sync.Mutex
	config       RateLimiterConfig
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.CustomRates == nil {
		cfg.CustomRates = make(map[string]float64)
	}
	return &RateLimiter{
		limiters:     make(map[string]*rate.Limiter),
		backoffState: make(map[string]*BackoffState),
		config:       cfg,
	}
}

// Wait blocks until the host of urlStr may issue another request.
func (rl *RateLimiter) Wait(ctx context.Context, urlStr string) error {
	if rl == nil {
		return nil
	}
	limiter := rl.limiter(hostOf(urlStr))
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

func (rl *RateLimiter) limiter(host string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rps := rl.rps(host)
	if rps <= 0 {
		return nil
	}
	if l, ok := rl.limiters[host]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(rps), rl.config.Burst)
	rl.limiters[host] = l
	return l
}

// rps must be called with mu held.
func (rl *RateLimiter) rps(host string) float64 {
	if rps, ok := rl.config.CustomRates[host]; ok {
		return rps
	}
	return rl.config.DefaultRPS
}

// SetCustomRate sets a custom rate limit for a host.
func (rl *RateLimiter) SetCustomRate(host string, rps float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.config.CustomRates[host] = rps
	delete(rl.limiters, host)
}

// RecordRateLimitError updates backoff state for the host of urlStr and
// returns how long callers should wait before the next attempt.
func (rl *RateLimiter) RecordRateLimitError(urlStr string, retryAfter time.Duration) time.Duration {
	if rl == nil || !rl.config.EnableDynamicBackoff {
		if retryAfter > 0 {
			return retryAfter
		}
		return InitialBackoff
	}

	host := hostOf(urlStr)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.backoffState[host]
	if !ok {
		state = &BackoffState{CurrentBackoff: InitialBackoff, OriginalRPS: rl.rps(host)}
		rl.backoffState[host] = state
	}
	state.LastError = time.Now()
	state.ConsecutiveErrors++

	if state.ConsecutiveErrors > 1 {
		state.CurrentBackoff = time.Duration(float64(state.CurrentBackoff) * BackoffMultiplier)
		if state.CurrentBackoff > MaxBackoff {
			state.CurrentBackoff = MaxBackoff
		}
	}
	if retryAfter > state.CurrentBackoff {
		state.CurrentBackoff = retryAfter
	}

	if state.OriginalRPS > 0 {
		factor := 0.75
		switch {
		case state.ConsecutiveErrors >= 3:
			factor = MinRPSMultiplier
		case state.ConsecutiveErrors == 2:
			factor = 0.5
		}
		state.ReducedRPS = state.OriginalRPS * factor
		if l, ok := rl.limiters[host]; ok {
			l.SetLimit(rate.Limit(state.ReducedRPS))
		}
	}

	return state.CurrentBackoff
}

// RecordSuccess relaxes backoff for the host of urlStr.
func (rl *RateLimiter) RecordSuccess(urlStr string) {
	if rl == nil || !rl.config.EnableDynamicBackoff {
		return
	}

	host := hostOf(urlStr)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.backoffState[host]
	if !ok {
		return
	}

	if time.Since(state.LastError) > BackoffCooldownPeriod || state.ConsecutiveErrors <= 1 {
		if l, ok := rl.limiters[host]; ok && state.ReducedRPS > 0 {
			l.SetLimit(rate.Limit(state.OriginalRPS))
		}
		delete(rl.backoffState, host)
		return
	}
	state.ConsecutiveErrors--
}

// BackoffFor returns a copy of the backoff state for the host of urlStr, or nil.
func (rl *RateLimiter) BackoffFor(urlStr string) *BackoffState {
	if rl == nil {
		return nil
	}
	host := hostOf(urlStr)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.backoffState[host]
	if !ok {
		return nil
	}
	cp := *state
	return &cp
}

// WaitForBackoff waits out any remaining backoff for the host of urlStr.
func (rl *RateLimiter) WaitForBackoff(ctx context.Context, urlStr string) error {
	state := rl.BackoffFor(urlStr)
	if state == nil {
		return nil
	}
	remaining := state.CurrentBackoff - time.Since(state.LastError)
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// hostOf extracts the lowercase host without port, or "unknown".
func hostOf(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
