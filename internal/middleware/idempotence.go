package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/delimatsuo/dressup-core/internal/pkg/kv"
	"github.com/delimatsuo/dressup-core/internal/pkg/response"
)

const (
	idempotenceHeader    = "x-idempotence"
	idempotenceTTL       = 60 * time.Second
	idempotenceKeyPrefix = "tryon:idempotence:"
)

// Idempotence returns a middleware that rejects duplicate non-GET requests
// observed within the idempotence window.
func Idempotence(store kv.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet {
			c.Next()
			return
		}
		if shouldSkipIdempotence(c.Request.Method, c.Request.URL.Path) {
			c.Next()
			return
		}

		key, err := resolveIdempotenceKey(c)
		if err != nil || key == "" {
			c.Next()
			return
		}

		storeKey := idempotenceKeyPrefix + key
		ctx := c.Request.Context()

		set, err := store.SetNX(ctx, storeKey, "0", idempotenceTTL)
		if err != nil {
			c.Next()
			return
		}
		if !set {
			response.Fail(c, http.StatusConflict, "duplicate_request",
				"an identical request was already accepted within the last minute")
			return
		}

		c.Next()

		status := c.Writer.Status()
		if status >= 200 && status < 300 {
			_ = store.Set(ctx, storeKey, "1", idempotenceTTL)
		} else {
			_ = store.Del(ctx, storeKey)
		}
	}
}

// shouldSkipIdempotence exempts entry-point routes. Session creation carries
// an empty body, so the fallback key degenerates to method|url|UA|IP and a
// second "start session" from the same client would be misread as a replay.
func shouldSkipIdempotence(method, path string) bool {
	if method != http.MethodPost {
		return false
	}
	p := strings.TrimRight(strings.ToLower(strings.TrimSpace(path)), "/")
	return p == "/api/v1/session"
}

// resolveIdempotenceKey returns the idempotence key for the current request.
func resolveIdempotenceKey(c *gin.Context) (string, error) {
	if hdr := c.GetHeader(idempotenceHeader); hdr != "" {
		return hdr, nil
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))

	ua := c.Request.UserAgent()
	ip := c.ClientIP()

	if len(body) == 0 && ua == "" && ip == "" {
		return "", nil
	}

	raw := c.Request.Method + "|" + c.Request.URL.String() + "|" + string(body) + "|" + ua + "|" + ip
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:]), nil
}
