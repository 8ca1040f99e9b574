package restore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/delimatsuo/dressup-core/internal/modules/session"
	"github.com/delimatsuo/dressup-core/internal/pkg/apperr"
	"github.com/delimatsuo/dressup-core/internal/pkg/kv"
)

const (
	tokenBytes = 24

	// consumedMarker replaces a redeemed token's mapping so a concurrent
	// redemption of the same token loses the transaction instead of
	// observing the stale sessionID.
	consumedMarker = "\x00consumed"
	consumedTTL    = time.Minute
)

var errTokenSpent = errors.New("restore: token already consumed")

// Service issues and redeems restoration tokens: opaque capabilities that
// map back to a session, with at most one live token per session.
type Service struct {
	store    kv.Store
	sessions *session.Service
	window   time.Duration
	log      *zap.Logger
}

type Option func(*Service)

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func NewService(store kv.Store, sessions *session.Service, window time.Duration, opts ...Option) *Service {
	s := &Service{
		store:    store,
		sessions: sessions,
		window:   window,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue mints a fresh token for a live session and invalidates any token
// issued before it.
func (s *Service) Issue(ctx context.Context, sessionID string) (string, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}

	token, err := newToken()
	if err != nil {
		return "", apperr.Transient("token generate", err)
	}

	if sess.RestorationToken != "" {
		if err := s.store.Del(ctx, session.RestoreKeyPrefix+sess.RestorationToken); err != nil {
			return "", apperr.Transient("token invalidate", err)
		}
	}
	if err := s.store.Set(ctx, session.RestoreKeyPrefix+token, sessionID, s.window); err != nil {
		return "", apperr.Transient("token write", err)
	}
	if _, err := s.sessions.SetRestorationToken(ctx, sessionID, token); err != nil {
		return "", err
	}
	return token, nil
}

// RedeemResult is returned on a successful redemption. The token is rotated
// on every use, so the caller must store the new one.
type RedeemResult struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"restorationToken"`
}

// Redeem resolves a token to its session, checking session liveness at
// redemption time. The presented token is consumed whether or not the
// session is still alive; on success a replacement token is issued.
func (s *Service) Redeem(ctx context.Context, token string) (*RedeemResult, error) {
	if token == "" {
		return nil, apperr.Validation("restoration token is required")
	}

	// Consume the token before anything else: one use per issuance. The
	// read-and-invalidate runs as a single transaction so overlapping
	// redemptions of the same token cannot both win.
	key := session.RestoreKeyPrefix + token
	var sessionID string
	if _, err := s.store.Update(ctx, key, func(current string, exists bool) (string, time.Duration, error) {
		if !exists || current == consumedMarker {
			return "", 0, errTokenSpent
		}
		sessionID = current
		return consumedMarker, consumedTTL, nil
	}); err != nil {
		if errors.Is(err, errTokenSpent) {
			return nil, apperr.NotFound("restoration token is invalid")
		}
		return nil, apperr.Transient("token consume", err)
	}

	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		if apperr.IsNotFound(err) {
			s.log.Info("restoration token rejected, session gone",
				zap.String("session_id", sessionID),
			)
			return nil, apperr.NotFound("restoration token is invalid")
		}
		return nil, err
	}

	next, err := s.Issue(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.log.Info("session restored", zap.String("session_id", sessionID))
	return &RedeemResult{SessionID: sessionID, Token: next}, nil
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.New("entropy source unavailable")
	}
	return hex.EncodeToString(buf), nil
}
