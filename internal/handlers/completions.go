// Package handlers implements the HTTP surface. Each handler parses
// its protocol at the edge, hands canonical types to the router and
// provider clients, and re-encodes the result in the caller's
// protocol.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/omnidotdev/synapse/internal/apierror"
	"github.com/omnidotdev/synapse/internal/billing"
	anthropicconv "github.com/omnidotdev/synapse/internal/convert/anthropic"
	openaiconv "github.com/omnidotdev/synapse/internal/convert/openai"
	"github.com/omnidotdev/synapse/internal/llm"
	"github.com/omnidotdev/synapse/internal/middleware"
	"github.com/omnidotdev/synapse/internal/provider"
	"github.com/omnidotdev/synapse/internal/router"
)

// callerProtocol selects the response encoding.
type callerProtocol int

const (
	callerOpenAI callerProtocol = iota
	callerAnthropic
)

// LLMHandler serves the completion endpoints.
type LLMHandler struct {
	router *router.ModelRouter
	usage  *billing.Recorder
	logger zerolog.Logger
	tracer trace.Tracer
}

// NewLLMHandler wires the completion pipeline.
func NewLLMHandler(modelRouter *router.ModelRouter, usage *billing.Recorder, logger zerolog.Logger) *LLMHandler {
	return &LLMHandler{
		router: modelRouter,
		usage:  usage,
		logger: logger,
		tracer: otel.Tracer("synapse/llm"),
	}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *LLMHandler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		apierror.Write(w, err)
		return
	}

	req, err := openaiconv.ParseRequest(body)
	if err != nil {
		apierror.Write(w, apierror.InvalidRequest("%s", err.Error()))
		return
	}

	h.serve(w, r, req, callerOpenAI)
}

// Messages handles POST /v1/messages, the Anthropic-shaped endpoint.
func (h *LLMHandler) Messages(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		apierror.Write(w, err)
		return
	}

	req, err := anthropicconv.ParseRequest(body)
	if err != nil {
		apierror.Write(w, apierror.InvalidRequest("%s", err.Error()))
		return
	}

	h.serve(w, r, req, callerAnthropic)
}

// Completions handles POST /v1/completions, the legacy text form. The
// prompt becomes a single user message and the response is reshaped to
// the legacy envelope.
func (h *LLMHandler) Completions(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		apierror.Write(w, err)
		return
	}

	var legacy struct {
		Model       string   `json:"model"`
		Prompt      string   `json:"prompt"`
		MaxTokens   *int     `json:"max_tokens,omitempty"`
		Temperature *float64 `json:"temperature,omitempty"`
		TopP        *float64 `json:"top_p,omitempty"`
		Stop        []string `json:"stop,omitempty"`
	}
	if err := json.Unmarshal(body, &legacy); err != nil {
		apierror.Write(w, apierror.InvalidRequest("invalid completion request"))
		return
	}
	if legacy.Model == "" || legacy.Prompt == "" {
		apierror.Write(w, apierror.InvalidRequest("model and prompt are required"))
		return
	}

	req := &llm.CompletionRequest{
		Model:    legacy.Model,
		Messages: []llm.Message{llm.UserMessage(legacy.Prompt)},
		Params: llm.CompletionParams{
			MaxTokens:   legacy.MaxTokens,
			Temperature: legacy.Temperature,
			TopP:        legacy.TopP,
			Stop:        legacy.Stop,
		},
	}

	resolved, err := h.resolve(r.Context(), req)
	if err != nil {
		apierror.Write(w, err)
		return
	}

	resp, err := h.complete(r.Context(), resolved, req)
	if err != nil {
		apierror.Write(w, err)
		return
	}

	h.record(r.Context(), resolved.Client.ID(), req.Model, resp.Usage, false)

	out := map[string]any{
		"id":      resp.ID,
		"object":  "text_completion",
		"created": resp.Created,
		"model":   req.Model,
		"choices": []map[string]any{{
			"index":         0,
			"text":          resp.Text(),
			"finish_reason": string(resp.Choices[0].FinishReason),
		}},
	}
	if resp.Usage != nil {
		out["usage"] = map[string]int{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// serve runs the shared pipeline: route, call upstream with fallback,
// re-encode in the caller's protocol.
func (h *LLMHandler) serve(w http.ResponseWriter, r *http.Request, req *llm.CompletionRequest, caller callerProtocol) {
	ctx, span := h.tracer.Start(r.Context(), "completion",
		trace.WithAttributes(
			attribute.String("llm.model", req.Model),
			attribute.Bool("llm.stream", req.Stream),
		))
	defer span.End()

	candidates, err := h.candidates(ctx, req)
	if err != nil {
		apierror.Write(w, err)
		return
	}

	if req.Stream {
		h.serveStream(ctx, w, req, candidates, caller)
		return
	}

	resp, servedBy, err := h.completeWithFallback(ctx, candidates, req)
	if err != nil {
		apierror.Write(w, err)
		return
	}

	h.record(ctx, servedBy, resp.Model, resp.Usage, false)

	var out []byte
	switch caller {
	case callerAnthropic:
		out, err = anthropicconv.BuildResponse(resp)
	default:
		out, err = openaiconv.BuildResponse(resp)
	}
	if err != nil {
		apierror.Write(w, apierror.Internal(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (h *LLMHandler) resolve(ctx context.Context, req *llm.CompletionRequest) (*router.ResolvedModel, error) {
	rc := middleware.ContextFrom(ctx)
	return h.router.Resolve(req.Model, rc.ProviderKeys)
}

func (h *LLMHandler) candidates(ctx context.Context, req *llm.CompletionRequest) ([]*router.ResolvedModel, error) {
	rc := middleware.ContextFrom(ctx)
	return h.router.Candidates(req.Model, rc.ProviderKeys)
}

func (h *LLMHandler) complete(ctx context.Context, resolved *router.ResolvedModel, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	upstream := *req
	upstream.Model = resolved.Model

	resp, err := resolved.Client.Complete(ctx, &upstream, resolved.Key)
	if err != nil {
		return nil, err
	}

	normalizeResponse(resp, req.Model)
	return resp, nil
}

// completeWithFallback walks the candidate bindings in declaration
// order, retrying only failures the taxonomy marks retryable. The last
// binding's error goes to the caller as-is.
func (h *LLMHandler) completeWithFallback(ctx context.Context, candidates []*router.ResolvedModel, req *llm.CompletionRequest) (*llm.CompletionResponse, string, error) {
	var lastErr error
	for i, cand := range candidates {
		resp, err := h.complete(ctx, cand, req)
		if err == nil {
			return resp, cand.Client.ID(), nil
		}
		lastErr = err

		if !retryable(err) || i == len(candidates)-1 {
			return nil, "", err
		}
		h.logger.Warn().Err(err).Str("provider", cand.Client.ID()).Msg("falling back to next provider")
	}
	if lastErr == nil {
		lastErr = apierror.ProviderUnavailable("no provider available")
	}
	return nil, "", lastErr
}

func retryable(err error) bool {
	if f, ok := err.(*provider.Failure); ok {
		return f.Retryable()
	}
	return false
}

// normalizeResponse fills fields the upstream omitted and restores the
// caller's model string.
func normalizeResponse(resp *llm.CompletionResponse, callerModel string) {
	if resp.ID == "" {
		resp.ID = "chatcmpl-" + uuid.NewString()
	}
	if resp.Created == 0 {
		resp.Created = time.Now().Unix()
	}
	resp.Model = callerModel
}

func (h *LLMHandler) record(ctx context.Context, servedBy, model string, usage *llm.Usage, estimated bool) {
	rc := middleware.ContextFrom(ctx)
	customer := ""
	if rc.Billing != nil {
		customer = rc.Billing.CustomerID
	}
	h.usage.Record(customer, rc.ClientIdentity.ClientID, servedBy, model, usage, estimated)
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		return nil, apierror.InvalidRequest("failed to read request body")
	}
	if len(body) == 0 {
		return nil, apierror.InvalidRequest("empty request body")
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
