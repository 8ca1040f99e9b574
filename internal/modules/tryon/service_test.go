package tryon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delimatsuo/dressup-core/internal/config"
	"github.com/delimatsuo/dressup-core/internal/modules/blob"
	"github.com/delimatsuo/dressup-core/internal/modules/session"
	"github.com/delimatsuo/dressup-core/internal/pkg/apperr"
	"github.com/delimatsuo/dressup-core/internal/pkg/kv"
	"github.com/delimatsuo/dressup-core/internal/pkg/objectstore"
)

type tryonFixture struct {
	svc      *Service
	sessions *session.Service
	blobs    *blob.Service
	objects  *objectstore.MemoryStore
}

func newFixture(t *testing.T, genEndpoint string) *tryonFixture {
	t.Helper()
	store := kv.NewMemoryStore()
	objects := objectstore.NewMemoryStore("")
	sessions := session.NewService(store, config.SessionConfig{
		TTL:         1800 * time.Second,
		MaxLifetime: 4 * time.Hour,
	})
	blobs := blob.NewService(store, objects, config.BlobConfig{
		DefaultTTL:     time.Hour,
		AllowedFormats: "jpg,jpeg,png,webp",
		MaxSizeMB:      10,
	})
	client := NewClient(config.GenerationConfig{
		Endpoint:   genEndpoint,
		Model:      "image-edit-preview",
		Timeout:    5 * time.Second,
		MaxRetries: 0,
	})
	svc := NewService(client, blobs, sessions)
	return &tryonFixture{svc: svc, sessions: sessions, blobs: blobs, objects: objects}
}

// sourceServer serves fake photo bytes so the service can fetch them back.
func sourceServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg:" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func seedSession(t *testing.T, f *tryonFixture, photoBase string) *session.Session {
	t.Helper()
	ctx := context.Background()
	sess, err := f.sessions.Create(ctx)
	require.NoError(t, err)
	_, err = f.sessions.Update(ctx, sess.ID, session.UpdateDTO{
		UserPhotos:    []session.PhotoRef{{URL: photoBase + "/user.jpg", Type: "front"}},
		GarmentPhotos: []session.PhotoRef{{URL: photoBase + "/garment.jpg", Type: "front"}},
	})
	require.NoError(t, err)
	return sess
}

func TestGeneratePersistsResultBlob(t *testing.T) {
	src := sourceServer(t)
	gen := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(imageResponse(t, "image/png", []byte("rendered")))
	}))
	defer gen.Close()

	f := newFixture(t, gen.URL)
	sess := seedSession(t, f, src.URL)

	out, err := f.svc.Generate(context.Background(), sess.ID, "")
	require.NoError(t, err)
	require.NotNil(t, out.Blob)
	assert.Contains(t, out.Blob.URL, "/generated/result_")
	assert.Equal(t, 1, f.objects.Len())

	// The generated photo is attached to the session.
	got, err := f.sessions.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, got.GeneratedPhotos, 1)
	assert.Equal(t, out.Blob.URL, got.GeneratedPhotos[0].URL)
}

func TestGenerateTextOnlyFallback(t *testing.T) {
	src := sourceServer(t)
	gen := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"no image"}]}}]}`))
	}))
	defer gen.Close()

	f := newFixture(t, gen.URL)
	sess := seedSession(t, f, src.URL)

	out, err := f.svc.Generate(context.Background(), sess.ID, "custom prompt")
	require.NoError(t, err)
	assert.Nil(t, out.Blob)
	assert.Equal(t, "no image", out.Text)
	assert.Equal(t, 0, f.objects.Len())
}

func TestGenerateRequiresBothPhotoCategories(t *testing.T) {
	f := newFixture(t, "http://gen.invalid")
	ctx := context.Background()

	sess, err := f.sessions.Create(ctx)
	require.NoError(t, err)

	_, err = f.svc.Generate(ctx, sess.ID, "")
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)

	_, err = f.sessions.Update(ctx, sess.ID, session.UpdateDTO{
		UserPhotos: []session.PhotoRef{{URL: "http://x.invalid/u.jpg", Type: "front"}},
	})
	require.NoError(t, err)
	_, err = f.svc.Generate(ctx, sess.ID, "")
	require.ErrorAs(t, err, &ae)
}

func TestGenerateUnknownSession(t *testing.T) {
	f := newFixture(t, "http://gen.invalid")
	_, err := f.svc.Generate(context.Background(), "ghost", "")
	assert.True(t, apperr.IsNotFound(err))
}
