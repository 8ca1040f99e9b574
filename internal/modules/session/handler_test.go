package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delimatsuo/dressup-core/internal/config"
	"github.com/delimatsuo/dressup-core/internal/middleware"
	"github.com/delimatsuo/dressup-core/internal/pkg/kv"
	"github.com/delimatsuo/dressup-core/internal/pkg/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type handlerFixture struct {
	router *gin.Engine
	svc    *Service
	now    *time.Time
}

func newHandlerFixture(t *testing.T, rlCfg ratelimit.Config) *handlerFixture {
	t.Helper()
	store := kv.NewMemoryStore()
	now := time.Now().UTC()
	store.SetClock(func() time.Time { return now })
	svc := NewService(store, config.SessionConfig{
		TTL:         1800 * time.Second,
		MaxLifetime: 4 * time.Hour,
	}, WithClock(func() time.Time { return now }))

	limiter := ratelimit.NewMemory(rlCfg, ratelimit.WithMemoryClock(func() time.Time { return now }))

	router := gin.New()
	api := router.Group("/api/v1")
	NewHandler(svc).RegisterRoutes(api, middleware.RateLimit(limiter))
	return &handlerFixture{router: router, svc: svc, now: &now}
}

func (f *handlerFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	f := newHandlerFixture(t, ratelimit.Config{MaxRequests: 100, Window: time.Minute})

	w := f.do(http.MethodPost, "/api/v1/session", "")
	require.Equal(t, http.StatusCreated, w.Code)
	env := decodeEnvelope(t, w)
	require.True(t, env.Success)

	var created sessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.NotEmpty(t, created.SessionID)
	assert.Equal(t, StatusActive, created.Status)
	assert.NotNil(t, created.UserPhotos, "photo lists serialize as arrays, not null")

	w = f.do(http.MethodGet, "/api/v1/session/"+created.SessionID, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodPut, "/api/v1/session/"+created.SessionID, `{"additionalSeconds":1800}`)
	require.Equal(t, http.StatusOK, w.Code)
	var extended sessionResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &extended))
	assert.Equal(t, created.ExpiresAt.Add(1800*time.Second), extended.ExpiresAt)

	w = f.do(http.MethodDelete, "/api/v1/session/"+created.SessionID, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/api/v1/session/"+created.SessionID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	env = decodeEnvelope(t, w)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "not_found", env.Error.Code)
}

func TestGetExpiredSessionReturns404(t *testing.T) {
	f := newHandlerFixture(t, ratelimit.Config{MaxRequests: 100, Window: time.Minute})

	w := f.do(http.MethodPost, "/api/v1/session", "")
	require.Equal(t, http.StatusCreated, w.Code)
	var created sessionResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &created))

	*f.now = f.now.Add(1801 * time.Second)
	w = f.do(http.MethodGet, "/api/v1/session/"+created.SessionID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExtendRejectsMissingBody(t *testing.T) {
	f := newHandlerFixture(t, ratelimit.Config{MaxRequests: 100, Window: time.Minute})

	w := f.do(http.MethodPost, "/api/v1/session", "")
	var created sessionResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &created))

	w = f.do(http.MethodPut, "/api/v1/session/"+created.SessionID, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimitedRequestGets429(t *testing.T) {
	f := newHandlerFixture(t, ratelimit.Config{MaxRequests: 10, Window: time.Minute})

	w := f.do(http.MethodPost, "/api/v1/session", "")
	require.Equal(t, http.StatusCreated, w.Code)
	var created sessionResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &created))

	path := "/api/v1/session/" + created.SessionID
	for i := 0; i < 10; i++ {
		w = f.do(http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, w.Code)
	}

	// The per-session identifier is now exhausted.
	w = f.do(http.MethodGet, path, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	env := decodeEnvelope(t, w)
	assert.Equal(t, "rate_limited", env.Error.Code)

	// A different session identifier is unaffected.
	w = f.do(http.MethodPost, "/api/v1/session", "")
	assert.Equal(t, http.StatusCreated, w.Code)
}
