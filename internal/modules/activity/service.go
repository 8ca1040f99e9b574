package activity

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/delimatsuo/dressup-core/internal/modules/session"
	"github.com/delimatsuo/dressup-core/internal/pkg/apperr"
	"github.com/delimatsuo/dressup-core/internal/pkg/kv"
)

const (
	// LogKeyPrefix namespaces per-session activity logs.
	LogKeyPrefix = "tryon:activity:"
	// DebounceKeyPrefix namespaces the per-action debounce markers.
	DebounceKeyPrefix = "tryon:activity:debounce:"

	maxLogEntries = 100
)

// Entry is one recorded activity event.
type Entry struct {
	Action     string            `json:"action"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	RecordedAt time.Time         `json:"recordedAt"`
}

type Service struct {
	store    kv.Store
	sessions *session.Service
	debounce time.Duration
	logTTL   time.Duration
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store kv.Store, sessions *session.Service, debounce, logTTL time.Duration, opts ...Option) *Service {
	s := &Service{
		store:    store,
		sessions: sessions,
		debounce: debounce,
		logTTL:   logTTL,
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record logs an activity event and bumps the session's LastActivityAt.
// Bursts of the same action within the debounce window coalesce into one
// entry. Recording never renews the session TTL; auto-extension is decided
// elsewhere from LastActivityAt recency.
func (s *Service) Record(ctx context.Context, sessionID, action string, metadata map[string]string) (bool, error) {
	if action == "" {
		return false, apperr.Validation("action is required")
	}
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return false, err
	}

	now := s.now().UTC()
	fresh, err := s.store.SetNX(ctx, DebounceKeyPrefix+sessionID+":"+action, "1", s.debounce)
	if err != nil {
		return false, apperr.Transient("activity debounce", err)
	}
	if !fresh {
		return false, nil
	}

	entry := Entry{Action: action, Metadata: metadata, RecordedAt: now}
	raw, err := json.Marshal(entry)
	if err != nil {
		return false, apperr.Transient("activity encode", err)
	}
	if err := s.store.ListAppend(ctx, LogKeyPrefix+sessionID, string(raw), maxLogEntries, s.logTTL); err != nil {
		return false, apperr.Transient("activity append", err)
	}

	if _, err := s.sessions.TouchActivity(ctx, sessionID, now); err != nil && !apperr.IsNotFound(err) {
		return true, err
	}
	s.log.Debug("activity recorded",
		zap.String("session_id", sessionID),
		zap.String("action", action),
	)
	return true, nil
}

// Recent returns the newest entries for a session, most recent last.
func (s *Service) Recent(ctx context.Context, sessionID string, limit int64) ([]Entry, error) {
	if limit <= 0 {
		limit = maxLogEntries
	}
	raws, err := s.store.ListRange(ctx, LogKeyPrefix+sessionID, -limit, -1)
	if err != nil {
		return nil, apperr.Transient("activity read", err)
	}
	entries := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
