// Package ratelimit implements fixed-window request admission with two
// interchangeable strategies: an in-process map for single-instance
// deployments and a KV-transactional variant that stays correct across
// concurrent stateless invocations.
package ratelimit

import (
	"context"
	"time"
)

// Result reports the outcome of an admission check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is the contract shared by both strategies.
type Limiter interface {
	// Check admits or rejects one request for the identifier.
	Check(ctx context.Context, identifier string) (Result, error)
	// Remaining reports the quota left in the identifier's current window
	// without consuming any of it.
	Remaining(ctx context.Context, identifier string) (int, error)
}

// Config holds the window parameters shared by both strategies.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

func (c Config) normalized() Config {
	if c.MaxRequests <= 0 {
		c.MaxRequests = 60
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	return c
}

// entry is the persisted per-identifier window state. Windows are
// per-identifier: reset happens lazily on the next check, never on a timer.
type entry struct {
	Count       int   `json:"count"`
	WindowStart int64 `json:"window_start"` // unix millis
	LastRequest int64 `json:"last_request"` // unix millis
}

// advance applies one check to the entry at time nowMs and reports whether
// the request is admitted. A request landing exactly on the window boundary
// still counts against the old window; the reset fires strictly after it.
func (e *entry) advance(cfg Config, nowMs int64) bool {
	windowMs := cfg.Window.Milliseconds()
	if e.WindowStart == 0 || nowMs-e.WindowStart > windowMs {
		e.Count = 1
		e.WindowStart = nowMs
		e.LastRequest = nowMs
		return true
	}
	e.LastRequest = nowMs
	if e.Count >= cfg.MaxRequests {
		return false
	}
	e.Count++
	return true
}

func (e *entry) remaining(cfg Config, nowMs int64) int {
	if e.WindowStart == 0 || nowMs-e.WindowStart > cfg.Window.Milliseconds() {
		return cfg.MaxRequests
	}
	left := cfg.MaxRequests - e.Count
	if left < 0 {
		return 0
	}
	return left
}

func (e *entry) retryAfter(cfg Config, nowMs int64) time.Duration {
	elapsed := nowMs - e.WindowStart
	left := cfg.Window.Milliseconds() - elapsed
	if left < 0 {
		return 0
	}
	return time.Duration(left) * time.Millisecond
}
