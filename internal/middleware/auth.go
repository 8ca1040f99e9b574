package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/delimatsuo/dressup-core/internal/pkg/jwt"
	"github.com/delimatsuo/dressup-core/internal/pkg/response"
)

const (
	ContextKeyOperator = "operator_id"

	roleAdmin = "admin"
)

// AdminAuth enforces an operator JWT on maintenance routes.
func AdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := jwt.Parse(extractToken(c))
		if err != nil || claims.Role != roleAdmin {
			response.Unauthorized(c)
			return
		}
		c.Set(ContextKeyOperator, claims.Subject)
		c.Next()
	}
}

// CurrentOperator extracts the authenticated operator ID from context.
func CurrentOperator(c *gin.Context) string {
	v, _ := c.Get(ContextKeyOperator)
	id, _ := v.(string)
	return id
}

func extractToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if auth != "" {
		return NormalizeToken(auth)
	}
	return NormalizeToken(c.Query("token"))
}

// NormalizeToken trims spaces and strips optional Bearer prefix.
func NormalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}
