// Package provider owns the upstream HTTP clients. The set of wire
// protocols is closed (openai, anthropic, google), so a single Client
// carries a protocol tag and dispatches to the matching converter
// instead of hiding each upstream behind its own type.
package provider

import (
	"time"

	"github.com/omnidotdev/synapse/internal/apierror"
)

// Capabilities advertises what an upstream supports.
type Capabilities struct {
	SupportsTools     bool
	SupportsStreaming bool
	SupportsVision    bool
}

// Model describes one upstream model for discovery.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// FailureKind classifies an upstream failure for the router.
type FailureKind int

const (
	// FailureTransport covers connection and read errors; the router
	// retries these against the next fallback binding.
	FailureTransport FailureKind = iota
	// FailureAuth means the upstream rejected our credentials; never
	// retried.
	FailureAuth
	// FailureRateLimited propagates an upstream 429 verbatim.
	FailureRateLimited
	// FailureInvalidRequest means the upstream rejected the request
	// shape; never retried.
	FailureInvalidRequest
	// FailureProvider covers upstream 5xx; retried unless this was the
	// last binding.
	FailureProvider
)

// Failure is the error type surfaced to the router.
type Failure struct {
	Kind       FailureKind
	Provider   string
	Status     int
	RetryAfter time.Duration
	Message    string
}

func (f *Failure) Error() string {
	return "provider " + f.Provider + ": " + f.Message
}

// Retryable reports whether the router may fall back to a sibling.
func (f *Failure) Retryable() bool {
	return f.Kind == FailureTransport || f.Kind == FailureProvider
}

// StatusCode implements apierror.HTTPError.
func (f *Failure) StatusCode() int {
	switch f.Kind {
	case FailureAuth:
		return 401
	case FailureRateLimited:
		return 429
	case FailureInvalidRequest:
		return 400
	case FailureTransport:
		return 502
	default:
		return 502
	}
}

// ErrorType implements apierror.HTTPError.
func (f *Failure) ErrorType() string {
	switch f.Kind {
	case FailureAuth:
		return "authentication_error"
	case FailureRateLimited:
		return "rate_limited"
	case FailureInvalidRequest:
		return "invalid_request_error"
	default:
		return "provider_error"
	}
}

// ClientMessage implements apierror.HTTPError. Upstream bodies stay
// out of it; they are span-only.
func (f *Failure) ClientMessage() string {
	return f.Message
}

// RetryAfterHint propagates an upstream Retry-After on 429s.
func (f *Failure) RetryAfterHint() time.Duration {
	if f.Kind != FailureRateLimited {
		return 0
	}
	return f.RetryAfter
}

var _ apierror.HTTPError = (*Failure)(nil)
