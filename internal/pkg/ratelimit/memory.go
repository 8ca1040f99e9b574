package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory is the in-process fixed-window limiter. Entries untouched for twice
// the window are evicted by Sweep to bound memory.
type Memory struct {
	cfg     Config
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

var _ Limiter = (*Memory)(nil)

// MemoryOption customizes a Memory limiter.
type MemoryOption func(*Memory)

// WithMemoryClock overrides the time source, for tests.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an in-process limiter.
func NewMemory(cfg Config, opts ...MemoryOption) *Memory {
	m := &Memory{
		cfg:     cfg.normalized(),
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Check(_ context.Context, identifier string) (Result, error) {
	nowMs := m.now().UnixMilli()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[identifier]
	if !ok {
		e = &entry{}
		m.entries[identifier] = e
	}
	allowed := e.advance(m.cfg, nowMs)
	res := Result{
		Allowed:   allowed,
		Remaining: e.remaining(m.cfg, nowMs),
	}
	if !allowed {
		res.RetryAfter = e.retryAfter(m.cfg, nowMs)
	}
	return res, nil
}

func (m *Memory) Remaining(_ context.Context, identifier string) (int, error) {
	nowMs := m.now().UnixMilli()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[identifier]
	if !ok {
		return m.cfg.MaxRequests, nil
	}
	return e.remaining(m.cfg, nowMs), nil
}

// Sweep evicts identifiers idle for at least twice the window and returns how
// many were removed. Intended to run periodically.
func (m *Memory) Sweep() int {
	cutoff := m.now().Add(-2 * m.cfg.Window).UnixMilli()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, e := range m.entries {
		if e.LastRequest < cutoff {
			delete(m.entries, id)
			removed++
		}
	}
	return removed
}
