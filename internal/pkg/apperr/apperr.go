package apperr

import (
	"errors"
	"fmt"
)

// Sentinel errors - request classification
var (
	ErrValidation  = errors.New("apperr: invalid input")
	ErrNotFound    = errors.New("apperr: not found")
	ErrRateLimited = errors.New("apperr: rate limited")
)

// Sentinel errors - infrastructure
var (
	ErrTransientStore = errors.New("apperr: store temporarily unavailable")
	ErrUpstream       = errors.New("apperr: upstream generation failed")
)

// Error carries a machine-readable code alongside the wrapped cause. Handlers
// map the sentinel chain to an HTTP status and put Code/Message in the
// response envelope.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation wraps a bad-input failure (HTTP 400).
func Validation(format string, args ...interface{}) *Error {
	return &Error{Code: "validation_error", Message: fmt.Sprintf(format, args...), Err: ErrValidation}
}

// NotFound wraps an absent-or-expired failure (HTTP 404).
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Code: "not_found", Message: fmt.Sprintf(format, args...), Err: ErrNotFound}
}

// RateLimited wraps an admission rejection (HTTP 429).
func RateLimited(format string, args ...interface{}) *Error {
	return &Error{Code: "rate_limited", Message: fmt.Sprintf(format, args...), Err: ErrRateLimited}
}

// Transient wraps a retryable KV/object-store I/O failure (HTTP 503). The
// cause is kept for logging; callers must never collapse this into NotFound.
func Transient(op string, cause error) *Error {
	return &Error{
		Code:    "store_unavailable",
		Message: fmt.Sprintf("%s failed, please retry", op),
		Err:     fmt.Errorf("%w: %s: %v", ErrTransientStore, op, cause),
	}
}

// Upstream wraps a generation failure after retries were exhausted (HTTP 502).
func Upstream(cause error) *Error {
	return &Error{
		Code:    "generation_failed",
		Message: "try-on generation failed",
		Err:     fmt.Errorf("%w: %v", ErrUpstream, cause),
	}
}

// IsTransient reports whether err is (or wraps) a transient store failure.
func IsTransient(err error) bool { return errors.Is(err, ErrTransientStore) }

// IsNotFound reports whether err is (or wraps) an absence failure.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsUpstream reports whether err is (or wraps) a generation API failure.
func IsUpstream(err error) bool { return errors.Is(err, ErrUpstream) }
