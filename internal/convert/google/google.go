package google

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/omnidotdev/synapse/internal/llm"
)

// ParseRequest converts a generate-content body to canonical. The
// model is not part of the body in this protocol (it lives in the URL
// path), so the caller passes it in.
func ParseRequest(model string, body []byte) (*llm.CompletionRequest, error) {
	var wire wireRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal generate content request: %w", err)
	}
	if len(wire.Contents) == 0 {
		return nil, fmt.Errorf("contents must not be empty")
	}

	var messages []llm.Message

	if wire.SystemInstruction != nil {
		var texts []string
		for _, p := range wire.SystemInstruction.Parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		if len(texts) > 0 {
			messages = append(messages, llm.SystemMessage(strings.Join(texts, "\n")))
		}
	}

	for i, c := range wire.Contents {
		parsed, err := parseContent(c)
		if err != nil {
			return nil, fmt.Errorf("contents[%d]: %w", i, err)
		}
		messages = append(messages, parsed...)
	}

	req := &llm.CompletionRequest{Model: model, Messages: messages}

	if gc := wire.GenerationConfig; gc != nil {
		req.Params = llm.CompletionParams{
			Temperature: gc.Temperature,
			TopP:        gc.TopP,
			MaxTokens:   gc.MaxOutputTokens,
			Stop:        gc.StopSequences,
			Seed:        gc.Seed,
		}
	}

	for _, group := range wire.Tools {
		for _, fd := range group.FunctionDeclarations {
			req.Tools = append(req.Tools, llm.ToolDefinition{
				Name:        fd.Name,
				Description: fd.Description,
				Parameters:  fd.Parameters,
			})
		}
	}

	if tc := wire.ToolConfig; tc != nil {
		switch tc.FunctionCallingConfig.Mode {
		case "NONE":
			req.ToolChoice = &llm.ToolChoice{Mode: llm.ToolChoiceNone}
		case "ANY":
			if names := tc.FunctionCallingConfig.AllowedFunctionNames; len(names) == 1 {
				req.ToolChoice = &llm.ToolChoice{FunctionName: names[0]}
			} else {
				req.ToolChoice = &llm.ToolChoice{Mode: llm.ToolChoiceRequired}
			}
		case "AUTO", "":
			req.ToolChoice = &llm.ToolChoice{Mode: llm.ToolChoiceAuto}
		default:
			return nil, fmt.Errorf("unknown function calling mode %q", tc.FunctionCallingConfig.Mode)
		}
	}

	return req, nil
}

// parseContent expands one content entry into canonical messages.
// function_call parts become assistant tool calls; function_response
// parts become role=tool messages.
func parseContent(c wireContent) ([]llm.Message, error) {
	role := llm.RoleUser
	if c.Role == "model" {
		role = llm.RoleAssistant
	}

	var out []llm.Message
	var parts []llm.ContentPart
	var toolCalls []llm.ToolCall

	flush := func() {
		if len(parts) == 0 && len(toolCalls) == 0 {
			return
		}
		msg := llm.Message{Role: role, ToolCalls: toolCalls}
		if len(parts) > 0 {
			msg.Content = llm.Content{Parts: parts}
		}
		out = append(out, msg)
		parts = nil
		toolCalls = nil
	}

	for _, p := range c.Parts {
		switch {
		case p.FunctionCall != nil:
			args := "{}"
			if len(p.FunctionCall.Args) > 0 {
				args = string(p.FunctionCall.Args)
			}
			toolCalls = append(toolCalls, llm.ToolCall{
				// This protocol has no call ids; derive a stable one.
				ID:        "call_" + p.FunctionCall.Name,
				Name:      p.FunctionCall.Name,
				Arguments: args,
			})
		case p.FunctionResponse != nil:
			flush()
			out = append(out, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: "call_" + p.FunctionResponse.Name,
				Content:    llm.TextContent(string(p.FunctionResponse.Response)),
			})
		case p.InlineData != nil:
			parts = append(parts, llm.ContentPart{
				Type:     llm.PartImageBytes,
				Data:     p.InlineData.Data,
				MimeType: p.InlineData.MimeType,
			})
		case p.FileData != nil:
			parts = append(parts, llm.ContentPart{Type: llm.PartImageURL, URL: p.FileData.FileURI})
		default:
			parts = append(parts, llm.ContentPart{Type: llm.PartText, Text: p.Text})
		}
	}
	flush()

	return out, nil
}

// BuildRequest converts a canonical request to the generate-content
// wire form. The model travels in the URL, not the body.
func BuildRequest(req *llm.CompletionRequest) ([]byte, error) {
	var wire wireRequest

	var systems []string
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			systems = append(systems, m.Content.Flatten())
		case llm.RoleUser:
			wire.Contents = append(wire.Contents, wireContent{
				Role:  "user",
				Parts: buildParts(m.Content),
			})
		case llm.RoleAssistant:
			content := wireContent{Role: "model", Parts: buildParts(m.Content)}
			for _, tc := range m.ToolCalls {
				args := json.RawMessage(tc.Arguments)
				if tc.Arguments == "" {
					args = json.RawMessage("{}")
				}
				content.Parts = append(content.Parts, wirePart{
					FunctionCall: &wireFunctionCall{Name: tc.Name, Args: args},
				})
			}
			wire.Contents = append(wire.Contents, content)
		case llm.RoleTool:
			response, err := buildFunctionResponse(m.Content.Flatten())
			if err != nil {
				return nil, err
			}
			wire.Contents = append(wire.Contents, wireContent{
				Role: "user",
				Parts: []wirePart{{
					FunctionResponse: &wireFunctionResp{
						Name:     strings.TrimPrefix(m.ToolCallID, "call_"),
						Response: response,
					},
				}},
			})
		}
	}

	if len(systems) > 0 {
		wire.SystemInstruction = &wireContent{
			Parts: []wirePart{{Text: strings.Join(systems, "\n")}},
		}
	}

	if p := req.Params; p.Temperature != nil || p.TopP != nil || p.MaxTokens != nil ||
		len(p.Stop) > 0 || p.Seed != nil {
		wire.GenerationConfig = &wireGenConfig{
			Temperature:     p.Temperature,
			TopP:            p.TopP,
			MaxOutputTokens: p.MaxTokens,
			StopSequences:   p.Stop,
			Seed:            p.Seed,
		}
	}

	if len(req.Tools) > 0 {
		group := wireToolGroup{}
		for _, t := range req.Tools {
			group.FunctionDeclarations = append(group.FunctionDeclarations, wireFunctionDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  RewriteSchema(t.Parameters),
			})
		}
		wire.Tools = []wireToolGroup{group}
	}

	if tc := req.ToolChoice; tc != nil {
		cfg := wireFunctionCallingConfig{Mode: "AUTO"}
		switch {
		case tc.FunctionName != "":
			cfg.Mode = "ANY"
			cfg.AllowedFunctionNames = []string{tc.FunctionName}
		case tc.Mode == llm.ToolChoiceNone:
			cfg.Mode = "NONE"
		case tc.Mode == llm.ToolChoiceRequired:
			cfg.Mode = "ANY"
		}
		wire.ToolConfig = &wireToolConfig{FunctionCallingConfig: cfg}
	}

	return json.Marshal(wire)
}

func buildParts(c llm.Content) []wirePart {
	if !c.IsParts() {
		if c.Text == "" {
			return nil
		}
		return []wirePart{{Text: c.Text}}
	}
	parts := make([]wirePart, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case llm.PartText:
			parts = append(parts, wirePart{Text: p.Text})
		case llm.PartImageURL:
			parts = append(parts, wirePart{FileData: &wireFileData{FileURI: p.URL}})
		case llm.PartImageBytes:
			parts = append(parts, wirePart{InlineData: &wireInlineData{
				MimeType: p.MimeType,
				Data:     p.Data,
			}})
		}
	}
	return parts
}

// buildFunctionResponse wraps plain text results in an object, which
// this protocol requires.
func buildFunctionResponse(content string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}
	return json.Marshal(map[string]string{"result": content})
}

// RewriteSchema converts a JSON-schema document to the restricted
// dialect this protocol accepts: type names are uppercased and
// additionalProperties is dropped, recursively.
func RewriteSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	out := make(map[string]any, len(schema))
	for key, value := range schema {
		switch key {
		case "additionalProperties":
			continue
		case "type":
			if s, ok := value.(string); ok {
				out[key] = strings.ToUpper(s)
				continue
			}
			out[key] = value
		case "properties":
			if props, ok := value.(map[string]any); ok {
				rewritten := make(map[string]any, len(props))
				for name, prop := range props {
					if pm, ok := prop.(map[string]any); ok {
						rewritten[name] = RewriteSchema(pm)
					} else {
						rewritten[name] = prop
					}
				}
				out[key] = rewritten
				continue
			}
			out[key] = value
		case "items":
			if items, ok := value.(map[string]any); ok {
				out[key] = RewriteSchema(items)
				continue
			}
			out[key] = value
		default:
			out[key] = value
		}
	}
	return out
}

// ParseResponse converts a buffered upstream response to canonical.
func ParseResponse(ctx context.Context, model string, body []byte) (*llm.CompletionResponse, error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal generate content response: %w", err)
	}
	if len(wire.Candidates) == 0 {
		return nil, fmt.Errorf("response has no candidates")
	}

	id := wire.ResponseID
	if id == "" {
		id = "gen-" + uuid.NewString()
	}

	resp := &llm.CompletionResponse{ID: id, Model: model}

	for i, cand := range wire.Candidates {
		msg := llm.Message{Role: llm.RoleAssistant}
		var text strings.Builder
		for _, p := range cand.Content.Parts {
			switch {
			case p.FunctionCall != nil:
				args := "{}"
				if len(p.FunctionCall.Args) > 0 {
					args = string(p.FunctionCall.Args)
				}
				msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
					ID:        "call_" + p.FunctionCall.Name,
					Name:      p.FunctionCall.Name,
					Arguments: args,
				})
			default:
				text.WriteString(p.Text)
			}
		}
		msg.Content = llm.TextContent(text.String())

		finish := MapFinishReason(ctx, cand.FinishReason)
		if len(msg.ToolCalls) > 0 && finish == llm.FinishStop {
			finish = llm.FinishToolCalls
		}

		resp.Choices = append(resp.Choices, llm.Choice{
			Index:        i,
			Message:      msg,
			FinishReason: finish,
		})
	}

	if wire.UsageMetadata != nil {
		resp.Usage = &llm.Usage{
			PromptTokens:     wire.UsageMetadata.PromptTokenCount,
			CompletionTokens: wire.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      wire.UsageMetadata.TotalTokenCount,
		}
	}

	return resp, nil
}

// BuildResponse converts a canonical response to the generate-content
// wire form.
func BuildResponse(resp *llm.CompletionResponse) ([]byte, error) {
	wire := wireResponse{ResponseID: resp.ID, ModelVersion: resp.Model}

	for _, c := range resp.Choices {
		content := wireContent{Role: "model"}
		if text := c.Message.Content.Flatten(); text != "" {
			content.Parts = append(content.Parts, wirePart{Text: text})
		}
		for _, tc := range c.Message.ToolCalls {
			args := json.RawMessage(tc.Arguments)
			if tc.Arguments == "" {
				args = json.RawMessage("{}")
			}
			content.Parts = append(content.Parts, wirePart{
				FunctionCall: &wireFunctionCall{Name: tc.Name, Args: args},
			})
		}
		wire.Candidates = append(wire.Candidates, wireCandidate{
			Content:      content,
			FinishReason: buildFinishReason(c.FinishReason),
			Index:        c.Index,
		})
	}

	if resp.Usage != nil {
		wire.UsageMetadata = &wireUsage{
			PromptTokenCount:     resp.Usage.PromptTokens,
			CandidatesTokenCount: resp.Usage.CompletionTokens,
			TotalTokenCount:      resp.Usage.TotalTokens,
		}
	}

	return json.Marshal(wire)
}

// MapFinishReason maps a generate-content finish reason to canonical.
// SAFETY and RECITATION both land on content_filter; unknown reasons
// map to stop and record a warning attribute on the span.
func MapFinishReason(ctx context.Context, reason string) llm.FinishReason {
	switch reason {
	case "STOP", "OTHER", "":
		return llm.FinishStop
	case "MAX_TOKENS":
		return llm.FinishLength
	case "SAFETY", "RECITATION":
		return llm.FinishContentFilter
	default:
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.String("llm.finish_reason.unmapped", reason))
		return llm.FinishStop
	}
}

func buildFinishReason(r llm.FinishReason) string {
	switch r {
	case llm.FinishLength:
		return "MAX_TOKENS"
	case llm.FinishContentFilter:
		return "SAFETY"
	default:
		return "STOP"
	}
}
