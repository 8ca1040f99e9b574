package response

import (
	"errors"
	"net/http"

	"github.com/delimatsuo/dressup-core/internal/pkg/apperr"
	"github.com/gin-gonic/gin"
)

// envelope is the wire format shared by every endpoint.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *errBody    `json:"error,omitempty"`
}

type errBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OK sends a 200 success envelope.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

// Created sends a 201 success envelope.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, envelope{Success: true, Data: data})
}

// Fail sends an error envelope with an explicit status and code.
func Fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, envelope{Success: false, Error: &errBody{Code: code, Message: message}})
}

// BadRequest sends a 400 error envelope.
func BadRequest(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, "validation_error", message)
}

// NotFound sends a 404 error envelope. Expired sessions surface here with a
// hint to start over, never as a generic 500.
func NotFound(c *gin.Context, message string) {
	if message == "" {
		message = "not found, please start a new session"
	}
	Fail(c, http.StatusNotFound, "not_found", message)
}

// Unauthorized sends a 401 error envelope.
func Unauthorized(c *gin.Context) {
	Fail(c, http.StatusUnauthorized, "unauthorized", "a valid admin token is required")
}

// TooManyRequests sends a 429 error envelope. Quota headers are set by the
// rate-limit middleware before this is called.
func TooManyRequests(c *gin.Context) {
	Fail(c, http.StatusTooManyRequests, "rate_limited", "too many requests, slow down")
}

// MethodNotAllowed sends a 405 error envelope.
func MethodNotAllowed(c *gin.Context) {
	Fail(c, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

// Error maps an application error to the envelope. Unknown errors become 500.
func Error(c *gin.Context, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		Fail(c, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	Fail(c, statusFor(ae), ae.Code, ae.Message)
}

func statusFor(ae *apperr.Error) int {
	switch {
	case errors.Is(ae, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(ae, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(ae, apperr.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(ae, apperr.ErrTransientStore):
		return http.StatusServiceUnavailable
	case errors.Is(ae, apperr.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
