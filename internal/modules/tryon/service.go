package tryon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/delimatsuo/dressup-core/internal/modules/blob"
	"github.com/delimatsuo/dressup-core/internal/modules/session"
	"github.com/delimatsuo/dressup-core/internal/pkg/apperr"
)

const (
	defaultPrompt = "Render the person from the first image wearing the garment from the second image. " +
		"Keep the pose, body shape, and background unchanged."

	fetchTimeout  = 15 * time.Second
	maxFetchBytes = 20 << 20
)

type Service struct {
	client   *Client
	blobs    *blob.Service
	sessions *session.Service
	fetcher  *http.Client
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

// WithFetcher overrides the HTTP client used to pull source images, for
// tests.
func WithFetcher(hc *http.Client) Option {
	return func(s *Service) {
		if hc != nil {
			s.fetcher = hc
		}
	}
}

func NewService(client *Client, blobs *blob.Service, sessions *session.Service, opts ...Option) *Service {
	s := &Service{
		client:   client,
		blobs:    blobs,
		sessions: sessions,
		fetcher:  &http.Client{Timeout: fetchTimeout},
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Output is the result of one try-on run: a persisted generated image, or a
// text explanation when the model declined to produce one.
type Output struct {
	Blob *blob.Record `json:"blob,omitempty"`
	Text string       `json:"text,omitempty"`
}

// Generate runs the try-on against the session's most recent user and
// garment photos and persists the returned image as a generated blob.
func (s *Service) Generate(ctx context.Context, sessionID, prompt string) (*Output, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(sess.UserPhotos) == 0 {
		return nil, apperr.Validation("session has no user photo to try on")
	}
	if len(sess.GarmentPhotos) == 0 {
		return nil, apperr.Validation("session has no garment photo to try on")
	}
	if prompt == "" {
		prompt = defaultPrompt
	}

	userImg, err := s.fetchImage(ctx, sess.UserPhotos[len(sess.UserPhotos)-1].URL)
	if err != nil {
		return nil, err
	}
	garmentImg, err := s.fetchImage(ctx, sess.GarmentPhotos[len(sess.GarmentPhotos)-1].URL)
	if err != nil {
		return nil, err
	}

	result, err := s.client.Generate(ctx, prompt, []InlineImage{userImg, garmentImg})
	if err != nil {
		return nil, err
	}
	if len(result.ImageData) == 0 {
		s.log.Info("generation returned text fallback", zap.String("session_id", sessionID))
		return &Output{Text: result.Text}, nil
	}

	mime := result.ImageMime
	if mime == "" {
		mime = "image/png"
	}
	rec, err := s.blobs.Upload(ctx, blob.UploadInput{
		SessionID: sessionID,
		Category:  session.CategoryGenerated,
		Type:      "result",
		MimeType:  mime,
		Data:      result.ImageData,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.AttachPhoto(ctx, sessionID, session.CategoryGenerated, session.PhotoRef{
		URL:        rec.URL,
		Type:       "result",
		UploadedAt: rec.Metadata.UploadedAt,
	}); err != nil && !apperr.IsNotFound(err) {
		return nil, err
	}

	s.log.Info("try-on generated",
		zap.String("session_id", sessionID),
		zap.String("url", rec.URL),
	)
	return &Output{Blob: rec, Text: result.Text}, nil
}

func (s *Service) fetchImage(ctx context.Context, url string) (InlineImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return InlineImage{}, apperr.Validation("invalid photo url: %v", err)
	}
	resp, err := s.fetcher.Do(req)
	if err != nil {
		return InlineImage{}, apperr.Transient("photo fetch", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return InlineImage{}, apperr.Transient("photo fetch", fmt.Errorf("status %d for %s", resp.StatusCode, url))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return InlineImage{}, apperr.Transient("photo fetch", err)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "image/jpeg"
	}
	return InlineImage{MimeType: mime, Data: data}, nil
}
