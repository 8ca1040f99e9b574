package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/delimatsuo/dressup-core/internal/pkg/ratelimit"
	"github.com/delimatsuo/dressup-core/internal/pkg/response"
)

// RateLimit returns a middleware that enforces a fixed-window limit per
// client identifier. The identifier is the session ID path param when
// present, otherwise the client IP.
func RateLimit(limiter ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id == "" {
			id = c.ClientIP()
		}
		if id == "" {
			c.Next()
			return
		}

		result, err := limiter.Check(c.Request.Context(), id)
		if err != nil {
			response.Error(c, err)
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			seconds := int(result.RetryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			response.TooManyRequests(c)
			return
		}

		c.Next()
	}
}
