package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/delimatsuo/dressup-core/internal/config"
	"github.com/delimatsuo/dressup-core/internal/pkg/apperr"
	"github.com/delimatsuo/dressup-core/internal/pkg/kv"
)

// BlobCleaner removes every object a session owns. Wired in by the app to
// avoid a dependency from the session store onto the blob coordinator.
type BlobCleaner interface {
	CleanupSessionBlobs(ctx context.Context, sessionID string) error
}

type Service struct {
	store   kv.Store
	cfg     config.SessionConfig
	log     *zap.Logger
	cleaner BlobCleaner
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithBlobCleaner(cleaner BlobCleaner) Option {
	return func(s *Service) { s.cleaner = cleaner }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store kv.Store, cfg config.SessionConfig, opts ...Option) *Service {
	s := &Service{
		store: store,
		cfg:   cfg,
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// isExpired is the single liveness predicate. Every reader and the sweep go
// through it so the read path and the sweep path can never disagree.
func (s *Service) isExpired(sess *Session, now time.Time) bool {
	return !now.Before(sess.ExpiresAt)
}

// storeTTL returns the physical KV TTL for a session record: one logical TTL
// past ExpiresAt, so lazily-expired records stay inspectable until the sweep.
// At creation this equals 2x the session TTL.
func (s *Service) storeTTL(sess *Session, now time.Time) time.Duration {
	ttl := sess.ExpiresAt.Sub(now) + s.cfg.TTL
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func (s *Service) maxExpiry(sess *Session) time.Time {
	return sess.CreatedAt.Add(s.cfg.MaxLifetime)
}

// Create generates a fresh session with ExpiresAt = now + TTL.
func (s *Service) Create(ctx context.Context) (*Session, error) {
	now := s.now().UTC()
	sess := &Session{
		ID:            uuid.NewString(),
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.TTL),
		Status:        StatusActive,
		UserPhotos:    []PhotoRef{},
		GarmentPhotos: []PhotoRef{},
	}
	if err := s.write(ctx, sess, now); err != nil {
		return nil, err
	}
	s.log.Info("session created",
		zap.String("session_id", sess.ID),
		zap.Time("expires_at", sess.ExpiresAt),
	)
	return sess, nil
}

// Get returns the session, or a not-found error when it is missing or
// logically expired. A KV read failure surfaces as a transient error, never
// as absence.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	raw, exists, err := s.store.Get(ctx, KeyPrefix+id)
	if err != nil {
		return nil, apperr.Transient("session read", err)
	}
	if !exists {
		return nil, apperr.NotFound("session %s not found", id)
	}
	sess, err := decode(raw)
	if err != nil {
		return nil, apperr.Transient("session decode", err)
	}
	if s.isExpired(sess, s.now().UTC()) {
		return nil, apperr.NotFound("session %s expired", id)
	}
	return sess, nil
}

// Update merges a partial mutation. Photo slices are appended, and every
// successful mutation renews the sliding window: ExpiresAt is bumped to at
// least now + TTL, never moved backward, never past the absolute lifetime.
func (s *Service) Update(ctx context.Context, id string, dto UpdateDTO) (*Session, error) {
	return s.mutate(ctx, id, func(sess *Session, now time.Time) error {
		sess.UserPhotos = append(sess.UserPhotos, dto.UserPhotos...)
		sess.GarmentPhotos = append(sess.GarmentPhotos, dto.GarmentPhotos...)
		s.renew(sess, now)
		return nil
	})
}

// AttachPhoto appends a single photo reference under the given category.
func (s *Service) AttachPhoto(ctx context.Context, id, category string, photo PhotoRef) (*Session, error) {
	if category != CategoryUser && category != CategoryGarment && category != CategoryGenerated {
		return nil, apperr.Validation("unknown photo category %q", category)
	}
	return s.mutate(ctx, id, func(sess *Session, now time.Time) error {
		switch category {
		case CategoryUser:
			sess.UserPhotos = append(sess.UserPhotos, photo)
		case CategoryGarment:
			sess.GarmentPhotos = append(sess.GarmentPhotos, photo)
		case CategoryGenerated:
			sess.GeneratedPhotos = append(sess.GeneratedPhotos, photo)
		}
		s.renew(sess, now)
		return nil
	})
}

// Extend pushes ExpiresAt forward by the requested duration, clamped to
// CreatedAt + MaxLifetime. ExpiresAt never decreases.
func (s *Service) Extend(ctx context.Context, id string, additional time.Duration) (*Session, error) {
	if additional <= 0 {
		return nil, apperr.Validation("extension must be positive")
	}
	return s.mutate(ctx, id, func(sess *Session, now time.Time) error {
		candidate := sess.ExpiresAt.Add(additional)
		if max := s.maxExpiry(sess); candidate.After(max) {
			candidate = max
		}
		if candidate.After(sess.ExpiresAt) {
			sess.ExpiresAt = candidate
		}
		return nil
	})
}

// SetRestorationToken swaps the stored restoration token without renewing
// the session TTL.
func (s *Service) SetRestorationToken(ctx context.Context, id, token string) (*Session, error) {
	return s.mutate(ctx, id, func(sess *Session, now time.Time) error {
		sess.RestorationToken = token
		return nil
	})
}

// TouchActivity bumps LastActivityAt. Deliberately does not renew the
// session TTL; auto-extension is a separate policy decision.
func (s *Service) TouchActivity(ctx context.Context, id string, at time.Time) (*Session, error) {
	return s.mutate(ctx, id, func(sess *Session, now time.Time) error {
		t := at.UTC()
		sess.LastActivityAt = &t
		return nil
	})
}

// MaybeAutoExtend renews the session by one TTL when it is close to expiry
// and the user was recently active. Returns the (possibly updated) session.
func (s *Service) MaybeAutoExtend(ctx context.Context, sess *Session) (*Session, error) {
	now := s.now().UTC()
	if sess.LastActivityAt == nil {
		return sess, nil
	}
	if sess.ExpiresAt.Sub(now) >= s.cfg.AutoExtendMinLeft {
		return sess, nil
	}
	if now.Sub(*sess.LastActivityAt) > s.cfg.AutoExtendActivity {
		return sess, nil
	}
	updated, err := s.mutate(ctx, sess.ID, func(inner *Session, now time.Time) error {
		s.renew(inner, now)
		return nil
	})
	if err != nil {
		if apperr.IsNotFound(err) {
			return sess, nil
		}
		return sess, err
	}
	s.log.Debug("session auto-extended",
		zap.String("session_id", sess.ID),
		zap.Time("expires_at", updated.ExpiresAt),
	)
	return updated, nil
}

// Delete removes the session record, its restoration token, and all of its
// blobs. Blob cleanup is best effort; a failure is logged, not fatal.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	raw, exists, err := s.store.Get(ctx, KeyPrefix+id)
	if err != nil {
		return false, apperr.Transient("session read", err)
	}
	if !exists {
		return false, nil
	}

	keys := []string{KeyPrefix + id}
	if sess, decodeErr := decode(raw); decodeErr == nil && sess.RestorationToken != "" {
		keys = append(keys, RestoreKeyPrefix+sess.RestorationToken)
	}
	if err := s.store.Del(ctx, keys...); err != nil {
		return false, apperr.Transient("session delete", err)
	}

	if s.cleaner != nil {
		if err := s.cleaner.CleanupSessionBlobs(ctx, id); err != nil {
			s.log.Warn("session blob cleanup failed",
				zap.String("session_id", id),
				zap.Error(err),
			)
		}
	}
	s.log.Info("session deleted", zap.String("session_id", id))
	return true, nil
}

// SweepResult reports one expiry sweep run.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Deleted int `json:"deleted"`
}

// SweepExpired deletes up to batchLimit logically-expired sessions,
// cascading blob cleanup for each. Safe to run concurrently with itself:
// deleting an already-deleted key is a no-op.
func (s *Service) SweepExpired(ctx context.Context, batchLimit int) (SweepResult, error) {
	if batchLimit <= 0 {
		batchLimit = 100
	}
	keys, err := s.store.Keys(ctx, KeyPrefix)
	if err != nil {
		return SweepResult{}, apperr.Transient("session scan", err)
	}

	res := SweepResult{}
	now := s.now().UTC()
	for _, key := range keys {
		if res.Deleted >= batchLimit {
			break
		}
		res.Scanned++

		raw, exists, err := s.store.Get(ctx, key)
		if err != nil || !exists {
			continue
		}
		sess, err := decode(raw)
		if err != nil {
			// Unreadable record: drop it rather than leak it forever.
			_ = s.store.Del(ctx, key)
			res.Deleted++
			continue
		}
		if !s.isExpired(sess, now) {
			continue
		}
		if _, err := s.Delete(ctx, sess.ID); err != nil {
			s.log.Warn("sweep delete failed", zap.String("session_id", sess.ID), zap.Error(err))
			continue
		}
		res.Deleted++
	}
	if res.Deleted > 0 {
		s.log.Info("session sweep", zap.Int("scanned", res.Scanned), zap.Int("deleted", res.Deleted))
	}
	return res, nil
}

// renew bumps ExpiresAt to at least now + TTL, clamped to the absolute
// lifetime. ExpiresAt never moves backward.
func (s *Service) renew(sess *Session, now time.Time) {
	candidate := now.Add(s.cfg.TTL)
	if max := s.maxExpiry(sess); candidate.After(max) {
		candidate = max
	}
	if candidate.After(sess.ExpiresAt) {
		sess.ExpiresAt = candidate
	}
}

// mutate runs fn inside an atomic KV read-modify-write. The callback sees a
// live session; logically expired sessions fail as not found.
func (s *Service) mutate(ctx context.Context, id string, fn func(sess *Session, now time.Time) error) (*Session, error) {
	var result *Session
	_, err := s.store.Update(ctx, KeyPrefix+id, func(current string, exists bool) (string, time.Duration, error) {
		if !exists {
			return "", 0, apperr.NotFound("session %s not found", id)
		}
		sess, err := decode(current)
		if err != nil {
			return "", 0, apperr.Transient("session decode", err)
		}
		now := s.now().UTC()
		if s.isExpired(sess, now) {
			return "", 0, apperr.NotFound("session %s expired", id)
		}
		if err := fn(sess, now); err != nil {
			return "", 0, err
		}
		sess.UpdatedAt = now
		sess.Status = StatusActive
		raw, err := encode(sess)
		if err != nil {
			return "", 0, apperr.Transient("session encode", err)
		}
		result = sess
		return raw, s.storeTTL(sess, now), nil
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, ae
		}
		return nil, apperr.Transient("session update", err)
	}
	return result, nil
}

func (s *Service) write(ctx context.Context, sess *Session, now time.Time) error {
	raw, err := encode(sess)
	if err != nil {
		return apperr.Transient("session encode", err)
	}
	if err := s.store.Set(ctx, KeyPrefix+sess.ID, raw, s.storeTTL(sess, now)); err != nil {
		return apperr.Transient("session write", err)
	}
	return nil
}

func encode(sess *Session) (string, error) {
	raw, err := json.Marshal(sess)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decode(raw string) (*Session, error) {
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}
