package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/omnidotdev/synapse/internal/llm"
)

// ParseRequest converts an OpenAI chat-completions body to canonical.
func ParseRequest(body []byte) (*llm.CompletionRequest, error) {
	var wire wireRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal chat completion request: %w", err)
	}
	if wire.Model == "" {
		return nil, fmt.Errorf("missing model")
	}
	if len(wire.Messages) == 0 {
		return nil, fmt.Errorf("messages must not be empty")
	}

	messages := make([]llm.Message, 0, len(wire.Messages))
	for i, m := range wire.Messages {
		msg, err := parseMessage(m)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		messages = append(messages, msg)
	}

	req := &llm.CompletionRequest{
		Model:    wire.Model,
		Messages: messages,
		Params: llm.CompletionParams{
			Temperature:      wire.Temperature,
			TopP:             wire.TopP,
			MaxTokens:        wire.MaxTokens,
			Stop:             wire.Stop,
			FrequencyPenalty: wire.FrequencyPenalty,
			PresencePenalty:  wire.PresencePenalty,
			Seed:             wire.Seed,
		},
		Stream: wire.Stream,
	}

	for _, t := range wire.Tools {
		req.Tools = append(req.Tools, llm.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}

	if len(wire.ToolChoice) > 0 {
		tc, err := parseToolChoice(wire.ToolChoice)
		if err != nil {
			return nil, err
		}
		req.ToolChoice = tc
	}

	return req, nil
}

func parseMessage(m wireMessage) (llm.Message, error) {
	msg := llm.Message{
		Role:       llm.Role(m.Role),
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}

	switch msg.Role {
	case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant, llm.RoleTool:
	default:
		return msg, fmt.Errorf("unknown role %q", m.Role)
	}
	if msg.Role == llm.RoleTool && m.ToolCallID == "" {
		return msg, fmt.Errorf("tool message missing tool_call_id")
	}

	content, err := parseContent(m.Content)
	if err != nil {
		return msg, err
	}
	msg.Content = content

	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return msg, nil
}

// parseContent accepts the string form, the typed-part array form, or
// null (assistant messages that only carry tool_calls).
func parseContent(raw json.RawMessage) (llm.Content, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return llm.Content{}, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return llm.TextContent(s), nil
	}

	var parts []wireContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return llm.Content{}, fmt.Errorf("content must be a string or array of parts")
	}

	out := make([]llm.ContentPart, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "text":
			out = append(out, llm.ContentPart{Type: llm.PartText, Text: p.Text})
		case "image_url":
			if p.ImageURL == nil {
				return llm.Content{}, fmt.Errorf("image_url part missing image_url")
			}
			out = append(out, llm.ContentPart{Type: llm.PartImageURL, URL: p.ImageURL.URL})
		default:
			return llm.Content{}, fmt.Errorf("unsupported content part type %q", p.Type)
		}
	}
	return llm.Content{Parts: out}, nil
}

func parseToolChoice(raw json.RawMessage) (*llm.ToolChoice, error) {
	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		switch llm.ToolChoiceMode(mode) {
		case llm.ToolChoiceNone, llm.ToolChoiceAuto, llm.ToolChoiceRequired:
			return &llm.ToolChoice{Mode: llm.ToolChoiceMode(mode)}, nil
		default:
			return nil, fmt.Errorf("unknown tool_choice %q", mode)
		}
	}

	var obj wireToolChoiceObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("tool_choice must be a string or object")
	}
	if obj.Function.Name == "" {
		return nil, fmt.Errorf("tool_choice object missing function name")
	}
	return &llm.ToolChoice{FunctionName: obj.Function.Name}, nil
}

// BuildRequest converts a canonical request to the OpenAI wire form.
func BuildRequest(req *llm.CompletionRequest) ([]byte, error) {
	wire := wireRequest{
		Model:            req.Model,
		Temperature:      req.Params.Temperature,
		TopP:             req.Params.TopP,
		MaxTokens:        req.Params.MaxTokens,
		Stop:             req.Params.Stop,
		FrequencyPenalty: req.Params.FrequencyPenalty,
		PresencePenalty:  req.Params.PresencePenalty,
		Seed:             req.Params.Seed,
		Stream:           req.Stream,
	}
	if req.Stream {
		wire.StreamOptions = &wireStreamOpts{IncludeUsage: true}
	}

	for _, m := range req.Messages {
		wm, err := buildMessage(m)
		if err != nil {
			return nil, err
		}
		wire.Messages = append(wire.Messages, wm)
	}

	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	if req.ToolChoice != nil {
		raw, err := buildToolChoice(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		wire.ToolChoice = raw
	}

	return json.Marshal(wire)
}

func buildMessage(m llm.Message) (wireMessage, error) {
	wm := wireMessage{
		Role:       string(m.Role),
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}

	raw, err := buildContent(m.Content)
	if err != nil {
		return wm, err
	}
	wm.Content = raw

	for _, tc := range m.ToolCalls {
		wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: wireFunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}

	return wm, nil
}

func buildContent(c llm.Content) (json.RawMessage, error) {
	if !c.IsParts() {
		if c.Text == "" {
			return nil, nil
		}
		return json.Marshal(c.Text)
	}

	parts := make([]wireContentPart, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case llm.PartText:
			parts = append(parts, wireContentPart{Type: "text", Text: p.Text})
		case llm.PartImageURL:
			parts = append(parts, wireContentPart{Type: "image_url", ImageURL: &wireImageURL{URL: p.URL}})
		case llm.PartImageBytes:
			// Inline bytes travel as a data URL in this protocol.
			url := fmt.Sprintf("data:%s;base64,%s", p.MimeType, p.Data)
			parts = append(parts, wireContentPart{Type: "image_url", ImageURL: &wireImageURL{URL: url}})
		}
	}
	return json.Marshal(parts)
}

// buildToolChoice re-emits the caller's original form: mode stays a
// string, a forced function stays an object.
func buildToolChoice(tc *llm.ToolChoice) (json.RawMessage, error) {
	if tc.FunctionName != "" {
		obj := wireToolChoiceObject{Type: "function"}
		obj.Function.Name = tc.FunctionName
		return json.Marshal(obj)
	}
	return json.Marshal(string(tc.Mode))
}

// ParseResponse converts a buffered upstream response to canonical.
func ParseResponse(ctx context.Context, body []byte) (*llm.CompletionResponse, error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal chat completion response: %w", err)
	}
	if wire.Error != nil {
		return nil, fmt.Errorf("upstream error (%s): %s", wire.Error.Type, wire.Error.Message)
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("response has no choices")
	}

	resp := &llm.CompletionResponse{
		ID:      wire.ID,
		Created: wire.Created,
		Model:   wire.Model,
	}

	for _, c := range wire.Choices {
		if c.Message == nil {
			continue
		}
		msg, err := parseMessage(*c.Message)
		if err != nil {
			return nil, err
		}
		resp.Choices = append(resp.Choices, llm.Choice{
			Index:        c.Index,
			Message:      msg,
			FinishReason: MapFinishReason(ctx, deref(c.FinishReason)),
		})
	}

	if wire.Usage != nil {
		resp.Usage = &llm.Usage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		}
	}

	return resp, nil
}

// BuildResponse converts a canonical response to the OpenAI wire form.
func BuildResponse(resp *llm.CompletionResponse) ([]byte, error) {
	wire := wireResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.Created,
		Model:   resp.Model,
	}

	for _, c := range resp.Choices {
		wm, err := buildMessage(c.Message)
		if err != nil {
			return nil, err
		}
		fr := string(c.FinishReason)
		wire.Choices = append(wire.Choices, wireChoice{
			Index:        c.Index,
			Message:      &wm,
			FinishReason: &fr,
		})
	}

	if resp.Usage != nil {
		wire.Usage = &wireUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	return json.Marshal(wire)
}

// MapFinishReason maps an OpenAI finish reason to canonical. OpenAI's
// set is the canonical set, plus the legacy function_call which maps to
// tool_calls; anything else maps to stop and records a warning
// attribute on the active span.
func MapFinishReason(ctx context.Context, reason string) llm.FinishReason {
	switch reason {
	case "stop", "":
		return llm.FinishStop
	case "length":
		return llm.FinishLength
	case "tool_calls", "function_call":
		return llm.FinishToolCalls
	case "content_filter":
		return llm.FinishContentFilter
	default:
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.String("llm.finish_reason.unmapped", reason))
		return llm.FinishStop
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
