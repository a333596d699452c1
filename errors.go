package menuguard

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes written to the "error" field of JSON error bodies
const (
	ErrorCodeUnauthenticated   = "unauthenticated"
	ErrorCodePermissionDenied  = "permission_denied"
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
	ErrorCodeInvalidRequest    = "invalid_request"
	ErrorCodeServerError       = "server_error"
)

// Kind classifies orchestrator errors
type Kind int

const (
	// KindInternal is an unexpected failure. Its message is generic.
	KindInternal Kind = iota
	KindUnauthenticated
	KindPermissionDenied
	KindResourceExhausted
	KindInvalidArgument
)

// String returns the error code of the kind
func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return ErrorCodeUnauthenticated
	case KindPermissionDenied:
		return ErrorCodePermissionDenied
	case KindResourceExhausted:
		return ErrorCodeRateLimitExceeded
	case KindInvalidArgument:
		return ErrorCodeInvalidRequest
	default:
		return ErrorCodeServerError
	}
}

// HTTPStatus maps the kind to a response status
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindResourceExhausted:
		return http.StatusTooManyRequests
	case KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is returned by every Server operation
type Error struct {
	Kind    Kind
	Message string

	// RetryAfter is the number of seconds to wait, set for KindResourceExhausted
	RetryAfter int

	// Details lists individual validation failures for KindInvalidArgument
	Details []string

	// cause is kept for errors.Is/As and server logs. It never reaches clients.
	cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.cause
}

// ErrUnauthenticated indicates the caller carries no valid identity
func ErrUnauthenticated(msg string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: msg}
}

// ErrPermissionDenied indicates the caller is known but not allowed
func ErrPermissionDenied(msg string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: msg}
}

// ErrResourceExhausted indicates a rate limit was hit
func ErrResourceExhausted(msg string, retryAfter int) *Error {
	return &Error{Kind: KindResourceExhausted, Message: msg, RetryAfter: retryAfter}
}

// ErrInvalidArgument indicates the request payload was rejected
func ErrInvalidArgument(msg string, details ...string) *Error {
	return &Error{Kind: KindInvalidArgument, Message: msg, Details: details}
}

// ErrInternal wraps cause behind the generic message "internal error"
func ErrInternal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", cause: cause}
}

// withCause attaches cause to e and returns e
func (e *Error) withCause(cause error) *Error {
	e.cause = cause
	return e
}

// KindOf returns the Kind of err. Errors that are not *Error are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
