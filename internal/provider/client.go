package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/omnidotdev/synapse/internal/config"
	anthropicconv "github.com/omnidotdev/synapse/internal/convert/anthropic"
	googleconv "github.com/omnidotdev/synapse/internal/convert/google"
	openaiconv "github.com/omnidotdev/synapse/internal/convert/openai"
	"github.com/omnidotdev/synapse/internal/llm"
	"github.com/omnidotdev/synapse/internal/secret"
)

const anthropicVersion = "2023-06-01"

// Client is one upstream binding. Protocol dispatch happens inside its
// methods; the set of protocols is fixed at compile time.
type Client struct {
	id               string
	cfg              config.ProviderConfig
	httpc            *http.Client
	health           *HealthTracker
	maxTokensDefault int
	logger           zerolog.Logger
}

// NewClient builds a client for one configured provider. The HTTP
// client is shared across all providers and owned by the caller.
func NewClient(id string, cfg config.ProviderConfig, maxTokensDefault int, httpc *http.Client, logger zerolog.Logger) *Client {
	return &Client{
		id:               id,
		cfg:              cfg,
		httpc:            httpc,
		health:           NewHealthTracker(),
		maxTokensDefault: maxTokensDefault,
		logger:           logger.With().Str("provider", id).Logger(),
	}
}

// ID returns the configured provider id.
func (c *Client) ID() string { return c.id }

// Protocol returns the wire protocol this binding speaks.
func (c *Client) Protocol() config.Protocol { return c.cfg.Type }

// BYOK reports whether the caller must supply the upstream key.
func (c *Client) BYOK() bool { return c.cfg.BYOK }

// Fallback returns the configured sibling providers, in order.
func (c *Client) Fallback() []string { return c.cfg.Fallback }

// Health exposes the failure-rate window for the router.
func (c *Client) Health() *HealthTracker { return c.health }

// Capabilities reports what the protocol supports.
func (c *Client) Capabilities() Capabilities {
	return Capabilities{
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    true,
	}
}

// UpstreamModel applies configured model aliases.
func (c *Client) UpstreamModel(model string) string {
	if alias, ok := c.cfg.ModelAliases[model]; ok {
		return alias
	}
	return model
}

// Complete performs a buffered completion.
func (c *Client) Complete(ctx context.Context, req *llm.CompletionRequest, key secret.Secret) (*llm.CompletionResponse, error) {
	req.Stream = false

	resp, err := c.send(ctx, req, key)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader, err := decompressReader(resp)
	if err != nil {
		c.health.RecordFailure()
		return nil, c.transportErr("decompress response", err)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		c.health.RecordFailure()
		return nil, c.transportErr("read response", err)
	}

	var parsed *llm.CompletionResponse
	switch c.cfg.Type {
	case config.ProtocolAnthropic:
		parsed, err = anthropicconv.ParseResponse(ctx, body)
	case config.ProtocolGoogle:
		parsed, err = googleconv.ParseResponse(ctx, req.Model, body)
	default:
		parsed, err = openaiconv.ParseResponse(ctx, body)
	}
	if err != nil {
		c.health.RecordFailure()
		return nil, &Failure{
			Kind:     FailureProvider,
			Provider: c.id,
			Message:  "malformed upstream response",
		}
	}

	c.health.RecordSuccess()
	return parsed, nil
}

// Stream performs a streaming completion. The returned stream is
// finite and non-restartable; closing it drops the upstream body,
// which cancels the read.
func (c *Client) Stream(ctx context.Context, req *llm.CompletionRequest, key secret.Secret) (*Stream, error) {
	req.Stream = true

	resp, err := c.send(ctx, req, key)
	if err != nil {
		return nil, err
	}

	c.health.RecordSuccess()
	return newStream(resp.Body, c.cfg.Type), nil
}

// send builds, authenticates, and executes the upstream request,
// classifying failures for the router.
func (c *Client) send(ctx context.Context, req *llm.CompletionRequest, key secret.Secret) (*http.Response, error) {
	body, url, err := c.encode(req)
	if err != nil {
		return nil, &Failure{Kind: FailureInvalidRequest, Provider: c.id, Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Failure{Kind: FailureInvalidRequest, Provider: c.id, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Connection", "keep-alive")
	c.authenticate(httpReq, key)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		c.health.RecordFailure()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Failure{Kind: FailureTransport, Provider: c.id, Message: "upstream timeout"}
		}
		return nil, c.transportErr("upstream request", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.classifyStatus(ctx, resp)
	}

	return resp, nil
}

func (c *Client) encode(req *llm.CompletionRequest) ([]byte, string, error) {
	upstream := *req
	upstream.Model = c.UpstreamModel(req.Model)

	base := strings.TrimSuffix(c.cfg.BaseURL, "/")

	switch c.cfg.Type {
	case config.ProtocolAnthropic:
		body, err := anthropicconv.BuildRequest(&upstream, c.maxTokensDefault)
		return body, base + "/v1/messages", err
	case config.ProtocolGoogle:
		body, err := googleconv.BuildRequest(&upstream)
		verb := "generateContent"
		if upstream.Stream {
			verb = "streamGenerateContent?alt=sse"
		}
		return body, fmt.Sprintf("%s/models/%s:%s", base, upstream.Model, verb), err
	default:
		body, err := openaiconv.BuildRequest(&upstream)
		return body, base + "/chat/completions", err
	}
}

// authenticate sets the provider's auth header. This is the single
// point where the key is exposed.
func (c *Client) authenticate(req *http.Request, key secret.Secret) {
	if key.IsZero() {
		key = c.cfg.APIKey
	}
	switch c.cfg.Type {
	case config.ProtocolAnthropic:
		req.Header.Set("x-api-key", key.Expose())
		req.Header.Set("anthropic-version", anthropicVersion)
	case config.ProtocolGoogle:
		req.Header.Set("x-goog-api-key", key.Expose())
	default:
		req.Header.Set("Authorization", "Bearer "+key.Expose())
	}
}

// classifyStatus turns a non-200 upstream response into a Failure.
// The body goes to the span and log only.
func (c *Client) classifyStatus(ctx context.Context, resp *http.Response) *Failure {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	span := trace.SpanFromContext(ctx)
	span.AddEvent("upstream_error")
	c.logger.Warn().
		Int("status", resp.StatusCode).
		Str("body", string(body)).
		Msg("upstream error response")

	failure := &Failure{Provider: c.id, Status: resp.StatusCode}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		failure.Kind = FailureAuth
		failure.Message = "upstream rejected credentials"
	case resp.StatusCode == http.StatusTooManyRequests:
		failure.Kind = FailureRateLimited
		failure.Message = "upstream rate limit exceeded"
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				failure.RetryAfter = time.Duration(secs) * time.Second
			}
		}
	case resp.StatusCode >= 500:
		c.health.RecordFailure()
		failure.Kind = FailureProvider
		failure.Message = "upstream returned " + resp.Status
	default:
		failure.Kind = FailureInvalidRequest
		failure.Message = upstreamMessage(body, "upstream rejected request")
	}

	return failure
}

// upstreamMessage extracts a client-safe message from an upstream
// error envelope, falling back to a generic one.
func upstreamMessage(body []byte, fallback string) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return fallback
}

func (c *Client) transportErr(op string, err error) *Failure {
	return &Failure{
		Kind:     FailureTransport,
		Provider: c.id,
		Message:  op + " failed",
	}
}
