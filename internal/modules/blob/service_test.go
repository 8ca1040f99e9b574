package blob

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delimatsuo/dressup-core/internal/config"
	"github.com/delimatsuo/dressup-core/internal/modules/session"
	"github.com/delimatsuo/dressup-core/internal/pkg/apperr"
	"github.com/delimatsuo/dressup-core/internal/pkg/kv"
	"github.com/delimatsuo/dressup-core/internal/pkg/objectstore"
)

func newTestService(t *testing.T) (*Service, *kv.MemoryStore, *objectstore.MemoryStore, *time.Time) {
	t.Helper()
	store := kv.NewMemoryStore()
	objects := objectstore.NewMemoryStore("")
	now := time.Now().UTC()
	store.SetClock(func() time.Time { return now })
	svc := NewService(store, objects, config.BlobConfig{
		DefaultTTL:      3600 * time.Second,
		AllowedFormats:  "jpg,jpeg,png,webp",
		MaxSizeMB:       10,
		SecureURLSecret: "test-secret",
		SecureURLWindow: 15 * time.Minute,
	}, WithClock(func() time.Time { return now }))
	return svc, store, objects, &now
}

func validInput() UploadInput {
	return UploadInput{
		SessionID:    "sess-1",
		Category:     session.CategoryUser,
		Type:         "front",
		OriginalName: "photo.jpg",
		MimeType:     "image/jpeg",
		Data:         []byte("jpegbytes"),
	}
}

func TestUploadStoresObjectAndMetadata(t *testing.T) {
	svc, _, objects, now := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Upload(ctx, validInput())
	require.NoError(t, err)
	assert.Equal(t, 1, objects.Len())
	assert.Contains(t, rec.URL, "/sessions/sess-1/user/front_")
	assert.True(t, strings.HasSuffix(rec.URL, ".jpg"))
	assert.Equal(t, now.Add(3600*time.Second), rec.Metadata.ExpiresAt)
	assert.Equal(t, int64(len("jpegbytes")), rec.Metadata.Size)

	got, err := svc.Get(ctx, rec.URL)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.Metadata.SessionID)
	assert.Empty(t, got.DownloadURL, "presigned links are never persisted")
}

func TestUploadValidation(t *testing.T) {
	svc, _, objects, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(in *UploadInput)
	}{
		{"missing session", func(in *UploadInput) { in.SessionID = "" }},
		{"bad category", func(in *UploadInput) { in.Category = "selfie" }},
		{"bad type", func(in *UploadInput) { in.Type = "profile" }},
		{"empty payload", func(in *UploadInput) { in.Data = nil }},
		{"disallowed format", func(in *UploadInput) {
			in.OriginalName = "doc.gif"
			in.MimeType = "image/gif"
		}},
		{"oversized", func(in *UploadInput) { in.Data = make([]byte, 11*1024*1024) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := svc.Upload(ctx, in)
			var ae *apperr.Error
			require.ErrorAs(t, err, &ae)
		})
	}
	assert.Equal(t, 0, objects.Len(), "rejected uploads never reach the object store")
}

func TestUploadFormatFromMimeType(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	in := validInput()
	in.OriginalName = ""
	in.MimeType = "image/jpeg"
	rec, err := svc.Upload(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(rec.URL, ".jpg"))
}

func TestCleanupExpiredBlobs(t *testing.T) {
	svc, _, objects, now := newTestService(t)
	ctx := context.Background()

	short := validInput()
	short.CustomExpiry = time.Second
	expiring, err := svc.Upload(ctx, short)
	require.NoError(t, err)

	durable, err := svc.Upload(ctx, validInput())
	require.NoError(t, err)
	require.Equal(t, 2, objects.Len())

	*now = now.Add(1500 * time.Millisecond)
	deleted, err := svc.CleanupExpiredBlobs(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 1, objects.Len())

	_, err = svc.Get(ctx, expiring.URL)
	assert.True(t, apperr.IsNotFound(err))
	_, err = svc.Get(ctx, durable.URL)
	assert.NoError(t, err)

	// Second pass over the same state is a no-op.
	deleted, err = svc.CleanupExpiredBlobs(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestCleanupExpiredBlobsBatchLimit(t *testing.T) {
	svc, _, objects, now := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		in := validInput()
		in.CustomExpiry = time.Second
		in.Type = "front"
		_, err := svc.Upload(ctx, in)
		require.NoError(t, err)
	}
	*now = now.Add(1500 * time.Millisecond)

	deleted, err := svc.CleanupExpiredBlobs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Equal(t, 1, objects.Len())

	deleted, err = svc.CleanupExpiredBlobs(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 0, objects.Len())
}

func TestCleanupSessionBlobs(t *testing.T) {
	svc, store, objects, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Upload(ctx, validInput())
	require.NoError(t, err)

	other := validInput()
	other.SessionID = "sess-2"
	kept, err := svc.Upload(ctx, other)
	require.NoError(t, err)
	require.Equal(t, 2, objects.Len())

	require.NoError(t, svc.CleanupSessionBlobs(ctx, "sess-1"))
	assert.Equal(t, 1, objects.Len())

	_, err = svc.Get(ctx, rec.URL)
	assert.True(t, apperr.IsNotFound(err))
	_, err = svc.Get(ctx, kept.URL)
	assert.NoError(t, err)

	members, err := store.SetMembers(ctx, SetKeyPrefix+"sess-1")
	require.NoError(t, err)
	assert.Empty(t, members)

	// Re-running over an already-clean session is fine.
	require.NoError(t, svc.CleanupSessionBlobs(ctx, "sess-1"))
}

func TestSecureURLRoundTrip(t *testing.T) {
	svc, _, _, now := newTestService(t)
	ctx := context.Background()

	signed, err := svc.GenerateSecureURL(ctx, "https://objects.invalid/sessions/s/user/a.jpg", 0)
	require.NoError(t, err)
	assert.Contains(t, signed, "expires=")
	assert.Contains(t, signed, "sig=")

	valid, err := svc.ValidateSecureURL(signed)
	require.NoError(t, err)
	assert.True(t, valid)

	// Valid right up to, but not at, the expiry instant.
	*now = now.Add(15 * time.Minute)
	valid, err = svc.ValidateSecureURL(signed)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestSecureURLTamperedSignature(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	signed, err := svc.GenerateSecureURL(context.Background(), "https://objects.invalid/a.jpg", time.Hour)
	require.NoError(t, err)

	tampered := strings.Replace(signed, "sig=", "sig=00", 1)
	valid, err := svc.ValidateSecureURL(tampered)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestSecureURLPassThroughWithoutExpiry(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	valid, err := svc.ValidateSecureURL("https://objects.invalid/public/logo.png")
	require.NoError(t, err)
	assert.True(t, valid)
}
