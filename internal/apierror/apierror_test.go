package apierror

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_StatusAndType(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		status   int
		wireType string
	}{
		{"invalid request", InvalidRequest("bad"), 400, "invalid_request_error"},
		{"unauthorized", Unauthorized("no key"), 401, "authentication_error"},
		{"forbidden", Forbidden("denied"), 403, "permission_error"},
		{"not found", NotFound("missing"), 404, "not_found_error"},
		{"rate limited", RateLimited(time.Minute, "slow down"), 429, "rate_limited"},
		{"provider error", Provider("upstream 500"), 502, "provider_error"},
		{"provider unavailable", ProviderUnavailable("all down"), 503, "provider_unavailable"},
		{"timeout", Timeout("deadline"), 504, "timeout_error"},
		{"internal", Internal(errors.New("boom")), 500, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.StatusCode())
			assert.Equal(t, tt.wireType, tt.err.ErrorType())
		})
	}
}

func TestInternal_HidesCause(t *testing.T) {
	err := Internal(errors.New("connection string leaked"))
	assert.Equal(t, "internal server error", err.ClientMessage())
	assert.Contains(t, err.Error(), "connection string leaked")
}

func TestWrite_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, InvalidRequest("no STT provider configured"))

	assert.Equal(t, 400, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "invalid_request_error", env.Error.Type)
	assert.Equal(t, "no STT provider configured", env.Error.Message)
}

func TestWrite_RetryAfterHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, RateLimited(42*time.Second, "rate limit exceeded"))

	assert.Equal(t, 429, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))
}

func TestWrite_UnknownErrorBecomesInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, errors.New("secret detail"))

	assert.Equal(t, 500, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret detail")
}

func TestWrite_WrappedError(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), Forbidden("missing CSRF header: X-CSRF"))
	rec := httptest.NewRecorder()
	Write(rec, wrapped)
	assert.Equal(t, 403, rec.Code)
}
