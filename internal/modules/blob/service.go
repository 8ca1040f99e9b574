package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/delimatsuo/dressup-core/internal/config"
	"github.com/delimatsuo/dressup-core/internal/modules/session"
	"github.com/delimatsuo/dressup-core/internal/pkg/apperr"
	"github.com/delimatsuo/dressup-core/internal/pkg/kv"
	"github.com/delimatsuo/dressup-core/internal/pkg/objectstore"
)

const (
	uploadTimeout = 30 * time.Second

	sessionPathPrefix = "sessions/"
)

type Service struct {
	store   kv.Store
	objects objectstore.Store
	cfg     config.BlobConfig
	log     *zap.Logger
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

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store kv.Store, objects objectstore.Store, cfg config.BlobConfig, opts ...Option) *Service {
	s := &Service{
		store:   store,
		objects: objects,
		cfg:     cfg,
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload validates the payload, writes the object, then persists its
// metadata. The write order matters: a crash in between leaves an orphan
// object for the expiry sweep, never a metadata entry pointing at nothing.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*Record, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ttl := s.cfg.DefaultTTL
	if in.CustomExpiry > 0 {
		ttl = in.CustomExpiry
	}
	expiresAt := now.Add(ttl)

	path := s.buildPath(in, now)
	putCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()
	put, err := s.objects.Put(putCtx, path, in.Data, in.MimeType)
	if err != nil {
		return nil, apperr.Transient("blob upload", err)
	}

	rec := &Record{
		URL:         put.URL,
		DownloadURL: put.DownloadURL,
		Metadata: Metadata{
			SessionID:    in.SessionID,
			Category:     in.Category,
			Type:         in.Type,
			OriginalName: in.OriginalName,
			MimeType:     in.MimeType,
			Size:         int64(len(in.Data)),
			UploadedAt:   now,
			ExpiresAt:    expiresAt,
		},
	}
	if err := s.writeMetadata(ctx, rec, ttl); err != nil {
		return nil, err
	}
	if err := s.store.SetAdd(ctx, SetKeyPrefix+in.SessionID, 2*ttl, put.URL); err != nil {
		s.log.Warn("blob set update failed",
			zap.String("session_id", in.SessionID),
			zap.Error(err),
		)
	}

	s.log.Info("blob uploaded",
		zap.String("session_id", in.SessionID),
		zap.String("category", in.Category),
		zap.String("path", path),
		zap.Int("size", len(in.Data)),
		zap.Time("expires_at", expiresAt),
	)
	return rec, nil
}

// Get returns the stored record for an object URL.
func (s *Service) Get(ctx context.Context, url string) (*Record, error) {
	raw, exists, err := s.store.Get(ctx, metaKey(url))
	if err != nil {
		return nil, apperr.Transient("blob metadata read", err)
	}
	if !exists {
		return nil, apperr.NotFound("blob not found")
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, apperr.Transient("blob metadata decode", err)
	}
	return &rec, nil
}

// CleanupExpiredBlobs deletes up to batchLimit blobs whose own expiry has
// passed, along with their thumbnails and metadata. Each deletion is
// attempted independently; failures are counted and logged, never fatal.
// Safe to re-run: the second pass over the same state deletes nothing.
func (s *Service) CleanupExpiredBlobs(ctx context.Context, batchLimit int) (int, error) {
	if batchLimit <= 0 {
		batchLimit = 100
	}
	keys, err := s.store.Keys(ctx, MetaKeyPrefix)
	if err != nil {
		return 0, apperr.Transient("blob metadata scan", err)
	}

	now := s.now().UTC()
	deleted := 0
	failed := 0
	for _, key := range keys {
		if deleted >= batchLimit {
			break
		}
		raw, exists, err := s.store.Get(ctx, key)
		if err != nil || !exists {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			// Unreadable metadata: drop the key, the orphaned object is
			// reclaimed by session cleanup.
			_ = s.store.Del(ctx, key)
			continue
		}
		if now.Before(rec.Metadata.ExpiresAt) {
			continue
		}
		if !s.deleteRecord(ctx, key, &rec) {
			failed++
			continue
		}
		deleted++
	}
	if deleted > 0 || failed > 0 {
		s.log.Info("blob cleanup",
			zap.Int("deleted", deleted),
			zap.Int("failed", failed),
		)
	}
	return deleted, nil
}

// CleanupSessionBlobs removes every object under the session's path prefix
// unconditionally, plus the per-session set and any matching metadata keys.
// Used on explicit session deletion; idempotent.
func (s *Service) CleanupSessionBlobs(ctx context.Context, sessionID string) error {
	objects, err := s.objects.List(ctx, sessionPathPrefix+sessionID+"/")
	if err != nil {
		return apperr.Transient("blob list", err)
	}

	failed := 0
	for _, obj := range objects {
		if err := s.objects.Delete(ctx, obj.URL); err != nil {
			failed++
			s.log.Warn("blob delete failed",
				zap.String("session_id", sessionID),
				zap.String("url", obj.URL),
				zap.Error(err),
			)
			continue
		}
		_ = s.store.Del(ctx, metaKey(obj.URL))
	}

	// Set members may reference objects already gone; clearing the set last
	// keeps a retry able to find them again.
	if members, err := s.store.SetMembers(ctx, SetKeyPrefix+sessionID); err == nil {
		for _, url := range members {
			_ = s.store.Del(ctx, metaKey(url))
		}
	}
	if err := s.store.Del(ctx, SetKeyPrefix+sessionID); err != nil {
		return apperr.Transient("blob set clear", err)
	}

	s.log.Info("session blobs cleaned",
		zap.String("session_id", sessionID),
		zap.Int("deleted", len(objects)-failed),
		zap.Int("failed", failed),
	)
	return nil
}

func (s *Service) validate(in UploadInput) error {
	if in.SessionID == "" {
		return apperr.Validation("sessionId is required")
	}
	switch in.Category {
	case session.CategoryUser, session.CategoryGarment, session.CategoryGenerated:
	default:
		return apperr.Validation("unknown blob category %q", in.Category)
	}
	if _, ok := knownTypes[in.Type]; !ok {
		return apperr.Validation("unknown photo type %q", in.Type)
	}
	if len(in.Data) == 0 {
		return apperr.Validation("file payload is empty")
	}
	if s.cfg.MaxSizeMB > 0 && int64(len(in.Data)) > int64(s.cfg.MaxSizeMB)*1024*1024 {
		return apperr.Validation("file exceeds %dMB limit", s.cfg.MaxSizeMB)
	}
	if !s.formatAllowed(in) {
		return apperr.Validation("file format %q is not allowed", extensionOf(in))
	}
	return nil
}

func (s *Service) formatAllowed(in UploadInput) bool {
	ext := extensionOf(in)
	if ext == "" {
		return false
	}
	for _, allowed := range strings.Split(s.cfg.AllowedFormats, ",") {
		if strings.EqualFold(strings.TrimSpace(allowed), ext) {
			return true
		}
	}
	return false
}

func extensionOf(in UploadInput) string {
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(strings.TrimSpace(in.OriginalName))), "."); ext != "" {
		return ext
	}
	if idx := strings.LastIndex(in.MimeType, "/"); idx >= 0 {
		ext := strings.ToLower(in.MimeType[idx+1:])
		if ext == "jpeg" {
			return "jpg"
		}
		return ext
	}
	return ""
}

// buildPath produces the deterministic object key
// sessions/{sessionId}/{category}/{type}_{timestamp}_{rand}.{ext}.
func (s *Service) buildPath(in UploadInput, now time.Time) string {
	ext := extensionOf(in)
	rand := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s%s/%s/%s_%d_%s.%s",
		sessionPathPrefix, in.SessionID, in.Category, in.Type, now.UnixMilli(), rand, ext)
}

func (s *Service) writeMetadata(ctx context.Context, rec *Record, ttl time.Duration) error {
	stored := *rec
	stored.DownloadURL = "" // presigned links are ephemeral, never persisted
	raw, err := json.Marshal(stored)
	if err != nil {
		return apperr.Transient("blob metadata encode", err)
	}
	// Metadata outlives the blob's own expiry by one TTL so the cleanup
	// sweep can still find and delete the object.
	if err := s.store.Set(ctx, metaKey(rec.URL), string(raw), 2*ttl); err != nil {
		return apperr.Transient("blob metadata write", err)
	}
	return nil
}

func (s *Service) deleteRecord(ctx context.Context, key string, rec *Record) bool {
	if err := s.objects.Delete(ctx, rec.URL); err != nil {
		s.log.Warn("blob delete failed", zap.String("url", rec.URL), zap.Error(err))
		return false
	}
	if rec.ThumbnailURL != "" {
		if err := s.objects.Delete(ctx, rec.ThumbnailURL); err != nil {
			s.log.Warn("thumbnail delete failed", zap.String("url", rec.ThumbnailURL), zap.Error(err))
		}
	}
	_ = s.store.Del(ctx, key)
	_ = s.store.SetRemove(ctx, SetKeyPrefix+rec.Metadata.SessionID, rec.URL)
	return true
}

func metaKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return MetaKeyPrefix + hex.EncodeToString(sum[:])
}
