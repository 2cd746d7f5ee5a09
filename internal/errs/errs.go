// Package errs defines the error kinds shared across TACOPS components and
// the HTTP/websocket status mappings derived from them.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the purpose of transport-level status mapping.
type Kind int

const (
	// Internal is the zero value: an unexpected fault with no more specific kind.
	Internal Kind = iota
	Validation
	Unauthenticated
	Forbidden
	NotFound
	Conflict
	PreconditionRequired
	RateLimited
	Upstream
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation_error"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case PreconditionRequired:
		return "precondition_required"
	case RateLimited:
		return "rate_limited"
	case Upstream:
		return "upstream_error"
	default:
		return "internal_error"
	}
}

// Error is the error type every layer of TACOPS should return instead of a
// bare error once the failure needs a Kind attached. It wraps an underlying
// cause without discarding it.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an *Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an *Error with the given kind and message, wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, returning Internal if err is nil or
// does not carry a Kind.
func KindOf(err error) Kind {
	if err == nil {
		return Internal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// HTTPStatus maps a Kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Validation:
		return http.StatusBadRequest
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case PreconditionRequired:
		return http.StatusPreconditionRequired
	case RateLimited:
		return http.StatusTooManyRequests
	case Upstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
