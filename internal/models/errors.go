package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies every failure the core can surface. Kinds are stable
// strings so the external HTTP layer can map them without importing internals.
type ErrorKind string

const (
	KindValidationFailed     ErrorKind = "validation_failed"
	KindNotFound             ErrorKind = "not_found"
	KindConflict             ErrorKind = "conflict"
	KindAuthenticationFailed ErrorKind = "authentication_failed"
	KindRateLimited          ErrorKind = "rate_limited"
	KindQueueFull            ErrorKind = "queue_full"
	KindTimeout              ErrorKind = "timeout"
	KindCancelled            ErrorKind = "cancelled"
	KindInvalidURL           ErrorKind = "invalid_url"
	KindUnsupportedPlatform  ErrorKind = "unsupported_platform"
	KindSizeLimitExceeded    ErrorKind = "size_limit_exceeded"
	KindMetadataError        ErrorKind = "metadata_error"
	KindDownloadError        ErrorKind = "download_error"
	KindStorageError         ErrorKind = "storage_error"
	KindWebhookError         ErrorKind = "webhook_error"
)

// Error is the typed error carried across component boundaries.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind so errors.Is(err, models.E(models.KindNotFound, "")) works
// for sentinel-style comparison.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// E creates a typed error
func E(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf creates a typed error with a formatted message
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a typed error
func Wrap(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the error kind, or empty string for untyped errors
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// HTTPStatus suggests an HTTP status for upstream translation. The error stays
// a domain error; this is advisory only.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidationFailed, KindUnsupportedPlatform:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindQueueFull:
		return http.StatusServiceUnavailable
	case KindAuthenticationFailed:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindCancelled:
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}
