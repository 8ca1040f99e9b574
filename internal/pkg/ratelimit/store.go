package ratelimit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/delimatsuo/dressup-core/internal/pkg/kv"
	"go.uber.org/zap"
)

const storeKeyPrefix = "tryon:ratelimit:"

// KVLimiter enforces the same fixed-window semantics as Memory, but each
// check is one atomic read-modify-write against the KV store, so the count
// stays correct across concurrent stateless invocations.
//
// On store failure the limiter fails open by default: availability wins over
// strict enforcement for this gate, and every such failure is logged. A
// stricter deployment can flip FailClosed.
type KVLimiter struct {
	cfg        Config
	store      kv.Store
	logger     *zap.Logger
	failClosed bool
	now        func() time.Time
}

var _ Limiter = (*KVLimiter)(nil)

// KVOption customizes a KVLimiter.
type KVOption func(*KVLimiter)

// WithFailClosed makes store failures deny requests instead of admitting them.
func WithFailClosed(failClosed bool) KVOption {
	return func(l *KVLimiter) { l.failClosed = failClosed }
}

// WithKVLogger sets the logger used for store-failure reporting.
func WithKVLogger(logger *zap.Logger) KVOption {
	return func(l *KVLimiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithKVClock overrides the time source, for tests.
func WithKVClock(now func() time.Time) KVOption {
	return func(l *KVLimiter) { l.now = now }
}

// NewKV creates a KV-transactional limiter.
func NewKV(store kv.Store, cfg Config, opts ...KVOption) *KVLimiter {
	l := &KVLimiter{
		cfg:    cfg.normalized(),
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *KVLimiter) Check(ctx context.Context, identifier string) (Result, error) {
	nowMs := l.now().UnixMilli()
	key := storeKeyPrefix + identifier

	var (
		e       entry
		allowed bool
	)
	_, err := l.store.Update(ctx, key, func(current string, exists bool) (string, time.Duration, error) {
		e = entry{}
		if exists {
			// A corrupt record resets the window rather than poisoning
			// the identifier forever.
			_ = json.Unmarshal([]byte(current), &e)
		}
		allowed = e.advance(l.cfg, nowMs)
		raw, err := json.Marshal(&e)
		if err != nil {
			return "", 0, err
		}
		return string(raw), 2 * l.cfg.Window, nil
	})
	if err != nil {
		l.logger.Warn("rate limit store check failed",
			zap.String("identifier", identifier),
			zap.Bool("fail_closed", l.failClosed),
			zap.Error(err),
		)
		if l.failClosed {
			return Result{Allowed: false, Remaining: 0, RetryAfter: l.cfg.Window}, nil
		}
		return Result{Allowed: true, Remaining: l.cfg.MaxRequests}, nil
	}

	res := Result{
		Allowed:   allowed,
		Remaining: e.remaining(l.cfg, nowMs),
	}
	if !allowed {
		res.RetryAfter = e.retryAfter(l.cfg, nowMs)
	}
	return res, nil
}

func (l *KVLimiter) Remaining(ctx context.Context, identifier string) (int, error) {
	nowMs := l.now().UnixMilli()

	raw, exists, err := l.store.Get(ctx, storeKeyPrefix+identifier)
	if err != nil {
		return l.cfg.MaxRequests, err
	}
	if !exists {
		return l.cfg.MaxRequests, nil
	}
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return l.cfg.MaxRequests, nil
	}
	return e.remaining(l.cfg, nowMs), nil
}
