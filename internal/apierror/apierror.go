// Package apierror defines the error kinds surfaced to API consumers
// and the JSON envelope they are rendered into. Domain packages wrap
// their failures in an *Error; the HTTP layer writes the envelope and
// keeps internal details out of the response body.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Kind classifies an error into an HTTP status and a wire type string.
type Kind int

const (
	KindInvalidRequest Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindRateLimited
	KindProviderError
	KindProviderUnavailable
	KindTimeout
	KindInternal
)

// HTTPError is the capability domain error types implement so the
// server layer can render them without knowing their concrete type.
type HTTPError interface {
	error
	StatusCode() int
	ErrorType() string
	ClientMessage() string
}

// Error is the standard HTTPError implementation.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// StatusCode maps the kind to an HTTP status.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindProviderError:
		return http.StatusBadGateway
	case KindProviderUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ErrorType returns the machine-readable type string for the envelope.
func (e *Error) ErrorType() string {
	switch e.Kind {
	case KindInvalidRequest:
		return "invalid_request_error"
	case KindUnauthorized:
		return "authentication_error"
	case KindForbidden:
		return "permission_error"
	case KindNotFound:
		return "not_found_error"
	case KindRateLimited:
		return "rate_limited"
	case KindProviderError:
		return "provider_error"
	case KindProviderUnavailable:
		return "provider_unavailable"
	case KindTimeout:
		return "timeout_error"
	default:
		return "internal_error"
	}
}

// ClientMessage returns the message safe to expose to API consumers.
// Internal errors never expose their cause.
func (e *Error) ClientMessage() string {
	if e.Kind == KindInternal && e.Message == "" {
		return "internal server error"
	}
	return e.Message
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidRequest builds a 400 error.
func InvalidRequest(format string, args ...any) *Error {
	return newError(KindInvalidRequest, format, args...)
}

// Unauthorized builds a 401 error.
func Unauthorized(format string, args ...any) *Error {
	return newError(KindUnauthorized, format, args...)
}

// Forbidden builds a 403 error.
func Forbidden(format string, args ...any) *Error {
	return newError(KindForbidden, format, args...)
}

// NotFound builds a 404 error.
func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, format, args...)
}

// RateLimited builds a 429 error carrying a Retry-After hint.
func RateLimited(retryAfter time.Duration, format string, args ...any) *Error {
	e := newError(KindRateLimited, format, args...)
	e.RetryAfter = retryAfter
	return e
}

// Provider builds a 502 error.
func Provider(format string, args ...any) *Error {
	return newError(KindProviderError, format, args...)
}

// ProviderUnavailable builds a 503 error.
func ProviderUnavailable(format string, args ...any) *Error {
	return newError(KindProviderUnavailable, format, args...)
}

// Timeout builds a 504 error.
func Timeout(format string, args ...any) *Error {
	return newError(KindTimeout, format, args...)
}

// Internal builds a 500 error. The cause is kept for logs only.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal server error", cause: cause}
}

// Wrap attaches a cause without changing the client-visible message.
func (e *Error) Wrap(cause error) *Error {
	e.cause = cause
	return e
}

// Envelope is the JSON error body: {"error":{"type":…,"message":…}}.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

// EnvelopeBody is the inner object of the error envelope.
type EnvelopeBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// RetryAfterHint returns the Retry-After value for 429 responses.
func (e *Error) RetryAfterHint() time.Duration {
	if e.Kind != KindRateLimited {
		return 0
	}
	return e.RetryAfter
}

// retryAfterCarrier lets other error types (provider failures) supply
// a Retry-After without this package knowing their concrete type.
type retryAfterCarrier interface {
	RetryAfterHint() time.Duration
}

// Write renders err as the JSON envelope. Errors that do not implement
// HTTPError become opaque 500s.
func Write(w http.ResponseWriter, err error) {
	var he HTTPError
	if !errors.As(err, &he) {
		he = Internal(err)
	}

	var rac retryAfterCarrier
	if errors.As(err, &rac) && rac.RetryAfterHint() > 0 {
		secs := int64(rac.RetryAfterHint() / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.StatusCode())

	_ = json.NewEncoder(w).Encode(Envelope{Error: EnvelopeBody{
		Type:    he.ErrorType(),
		Message: he.ClientMessage(),
	}})
}
