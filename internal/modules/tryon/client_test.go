package tryon

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delimatsuo/dressup-core/internal/config"
	"github.com/delimatsuo/dressup-core/internal/pkg/apperr"
)

func newTestClient(endpoint string, maxRetries int) *Client {
	return NewClient(config.GenerationConfig{
		Endpoint:   endpoint,
		APIKey:     "test-key",
		Model:      "image-edit-preview",
		Timeout:    5 * time.Second,
		MaxRetries: maxRetries,
	})
}

func imageResponse(t *testing.T, mime string, data []byte) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"parts": []map[string]any{{
					"inline_data": map[string]string{
						"mime_type": mime,
						"data":      base64.StdEncoding.EncodeToString(data),
					},
				}},
			},
		}},
	})
	require.NoError(t, err)
	return raw
}

func TestGenerateReturnsInlineImage(t *testing.T) {
	var gotPath string
	var gotKey string
	var gotReq generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write(imageResponse(t, "image/png", []byte("pngbytes")))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 0)
	res, err := client.Generate(context.Background(), "swap the garment", []InlineImage{
		{MimeType: "image/jpeg", Data: []byte("person")},
		{MimeType: "image/jpeg", Data: []byte("garment")},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("pngbytes"), res.ImageData)
	assert.Equal(t, "image/png", res.ImageMime)

	assert.Equal(t, "/v1beta/models/image-edit-preview:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)
	require.Len(t, gotReq.Contents, 1)
	require.Len(t, gotReq.Contents[0].Parts, 3)
	assert.Equal(t, "swap the garment", gotReq.Contents[0].Parts[0].Text)
	require.NotNil(t, gotReq.Contents[0].Parts[1].InlineData)
	assert.Equal(t, "image/jpeg", gotReq.Contents[0].Parts[1].InlineData.MimeType)
}

func TestGenerateRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusInternalServerError)
			return
		}
		w.Write(imageResponse(t, "image/png", []byte("ok")))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 2)
	res, err := client.Generate(context.Background(), "p", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), res.ImageData)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad prompt", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 3)
	_, err := client.Generate(context.Background(), "p", nil)
	require.Error(t, err)
	assert.True(t, apperr.IsUpstream(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "try later", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 1)
	_, err := client.Generate(context.Background(), "p", nil)
	require.Error(t, err)
	assert.True(t, apperr.IsUpstream(err))
	assert.Equal(t, int32(2), calls.Load(), "one initial attempt plus one retry")
}

func TestGenerateTextFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := json.Marshal(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"parts": []map[string]any{{"text": "cannot render this garment"}},
				},
			}},
		})
		require.NoError(t, err)
		w.Write(raw)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 0)
	res, err := client.Generate(context.Background(), "p", nil)
	require.NoError(t, err)
	assert.Empty(t, res.ImageData)
	assert.Equal(t, "cannot render this garment", res.Text)
}

func TestGenerateCapsInlineImages(t *testing.T) {
	var gotParts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotParts = len(req.Contents[0].Parts)
		w.Write(imageResponse(t, "image/png", []byte("ok")))
	}))
	defer srv.Close()

	images := make([]InlineImage, 6)
	for i := range images {
		images[i] = InlineImage{MimeType: "image/jpeg", Data: []byte{byte(i)}}
	}
	client := newTestClient(srv.URL, 0)
	_, err := client.Generate(context.Background(), "p", images)
	require.NoError(t, err)
	assert.Equal(t, 5, gotParts, "prompt plus at most four images")
}

func TestGenerateWithoutEndpoint(t *testing.T) {
	client := newTestClient("", 0)
	_, err := client.Generate(context.Background(), "p", nil)
	require.Error(t, err)
	assert.True(t, apperr.IsUpstream(err))
}
