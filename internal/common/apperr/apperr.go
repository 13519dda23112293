// Package apperr classifies service errors so handlers can map them to HTTP
// status codes without matching on message text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a service-level error carrying the HTTP status it maps to.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

func newf(status int, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// Validation reports a bad request: missing field, bad enum, malformed date,
// or an illegal state transition.
func Validation(format string, args ...any) *Error {
	return newf(http.StatusBadRequest, format, args...)
}

// Unauthorized reports a missing or unknown API key.
func Unauthorized(format string, args ...any) *Error {
	return newf(http.StatusUnauthorized, format, args...)
}

// Forbidden reports a membership or ownership violation, or a bad admin secret.
func Forbidden(format string, args ...any) *Error {
	return newf(http.StatusForbidden, format, args...)
}

// NotFound reports a missing resource.
func NotFound(format string, args ...any) *Error {
	return newf(http.StatusNotFound, format, args...)
}

// Conflict reports a uniqueness violation or duplicate operation.
func Conflict(format string, args ...any) *Error {
	return newf(http.StatusConflict, format, args...)
}

// TooLarge reports an over-size upload.
func TooLarge(format string, args ...any) *Error {
	return newf(http.StatusRequestEntityTooLarge, format, args...)
}

// InsufficientStorage reports an exhausted disk.
func InsufficientStorage(format string, args ...any) *Error {
	return newf(http.StatusInsufficientStorage, format, args...)
}

// StatusOf returns the HTTP status carried by err, or 0 when err is not an
// *Error (wrapped errors are unwrapped).
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// IsNotFound reports whether err maps to HTTP 404.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// IsConflict reports whether err maps to HTTP 409.
func IsConflict(err error) bool {
	return StatusOf(err) == http.StatusConflict
}
