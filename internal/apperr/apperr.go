package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the request boundary.
type Kind string

const (
	KindNotAuthenticated Kind = "NOT_AUTHENTICATED"
	KindForbidden        Kind = "FORBIDDEN"
	KindValidation       Kind = "VALIDATION_ERROR"
	KindConflict         Kind = "CONFLICT"
	KindNotFound         Kind = "NOT_FOUND"
	KindRateLimited      Kind = "RATE_LIMITED"
	KindInternal         Kind = "INTERNAL"
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotAuthenticated(message string) *Error { return New(KindNotAuthenticated, message) }
func Forbidden(message string) *Error        { return New(KindForbidden, message) }
func Validation(message string) *Error       { return New(KindValidation, message) }
func Conflict(message string) *Error         { return New(KindConflict, message) }
func NotFound(message string) *Error         { return New(KindNotFound, message) }
func RateLimited(message string) *Error      { return New(KindRateLimited, message) }

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to its response status. Conflicts on workflow
// transitions are reported as bad requests.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotAuthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation, KindConflict:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
