package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/omnidotdev/synapse/internal/llm"
)

// ParseRequest converts an Anthropic messages body to canonical. The
// top-level system parameter becomes a synthetic leading system
// message; tool_result blocks become role=tool messages.
func ParseRequest(body []byte) (*llm.CompletionRequest, error) {
	var wire wireRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal messages request: %w", err)
	}
	if wire.Model == "" {
		return nil, fmt.Errorf("missing model")
	}
	if len(wire.Messages) == 0 {
		return nil, fmt.Errorf("messages must not be empty")
	}

	var messages []llm.Message

	if system := parseSystem(wire.System); system != "" {
		messages = append(messages, llm.SystemMessage(system))
	}

	for i, m := range wire.Messages {
		parsed, err := parseMessage(m)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		messages = append(messages, parsed...)
	}

	req := &llm.CompletionRequest{
		Model:    wire.Model,
		Messages: messages,
		Params: llm.CompletionParams{
			Temperature: wire.Temperature,
			TopP:        wire.TopP,
			Stop:        wire.StopSequences,
		},
		Stream: wire.Stream,
	}
	if wire.MaxTokens > 0 {
		mt := wire.MaxTokens
		req.Params.MaxTokens = &mt
	}

	for _, t := range wire.Tools {
		req.Tools = append(req.Tools, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}

	if wire.ToolChoice != nil {
		switch wire.ToolChoice.Type {
		case "auto":
			req.ToolChoice = &llm.ToolChoice{Mode: llm.ToolChoiceAuto}
		case "any":
			req.ToolChoice = &llm.ToolChoice{Mode: llm.ToolChoiceRequired}
		case "none":
			req.ToolChoice = &llm.ToolChoice{Mode: llm.ToolChoiceNone}
		case "tool":
			req.ToolChoice = &llm.ToolChoice{FunctionName: wire.ToolChoice.Name}
		default:
			return nil, fmt.Errorf("unknown tool_choice type %q", wire.ToolChoice.Type)
		}
	}

	return req, nil
}

// parseSystem accepts both the string form and the block-array form.
func parseSystem(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []wireBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// parseMessage expands one wire message into one or more canonical
// messages: a user message whose blocks are all tool_result becomes a
// sequence of role=tool messages.
func parseMessage(m wireMessage) ([]llm.Message, error) {
	// String content is the simple case.
	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		return []llm.Message{{Role: llm.Role(m.Role), Content: llm.TextContent(text)}}, nil
	}

	var blocks []wireBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, fmt.Errorf("content must be a string or array of blocks")
	}

	switch m.Role {
	case "user":
		return parseUserBlocks(blocks)
	case "assistant":
		msg, err := parseAssistantBlocks(blocks)
		if err != nil {
			return nil, err
		}
		return []llm.Message{msg}, nil
	default:
		return nil, fmt.Errorf("unknown role %q", m.Role)
	}
}

func parseUserBlocks(blocks []wireBlock) ([]llm.Message, error) {
	var out []llm.Message
	var parts []llm.ContentPart

	flush := func() {
		if len(parts) > 0 {
			out = append(out, llm.Message{Role: llm.RoleUser, Content: llm.Content{Parts: parts}})
			parts = nil
		}
	}

	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, llm.ContentPart{Type: llm.PartText, Text: b.Text})
		case "image":
			part, err := parseImage(b)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		case "tool_result":
			flush()
			if b.ToolUseID == "" {
				return nil, fmt.Errorf("tool_result missing tool_use_id")
			}
			out = append(out, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: b.ToolUseID,
				Content:    llm.TextContent(flattenToolResult(b.Content)),
			})
		default:
			return nil, fmt.Errorf("unsupported user content block %q", b.Type)
		}
	}
	flush()
	return out, nil
}

func parseImage(b wireBlock) (llm.ContentPart, error) {
	if b.Source == nil {
		return llm.ContentPart{}, fmt.Errorf("image block missing source")
	}
	switch b.Source.Type {
	case "base64":
		return llm.ContentPart{
			Type:     llm.PartImageBytes,
			Data:     b.Source.Data,
			MimeType: b.Source.MediaType,
		}, nil
	case "url":
		return llm.ContentPart{Type: llm.PartImageURL, URL: b.Source.URL}, nil
	default:
		return llm.ContentPart{}, fmt.Errorf("unsupported image source %q", b.Source.Type)
	}
}

// flattenToolResult renders a tool_result content value as plain text.
func flattenToolResult(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []wireBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}

// parseAssistantBlocks flattens text into content and tool_use into a
// tool_calls array on one assistant message.
func parseAssistantBlocks(blocks []wireBlock) (llm.Message, error) {
	msg := llm.Message{Role: llm.RoleAssistant}
	var text strings.Builder

	for _, b := range blocks {
		switch b.Type {
		case "text":
			text.WriteString(b.Text)
		case "tool_use":
			args := "{}"
			if len(b.Input) > 0 {
				args = string(b.Input)
			}
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			})
		default:
			return msg, fmt.Errorf("unsupported assistant content block %q", b.Type)
		}
	}

	msg.Content = llm.TextContent(text.String())
	return msg, nil
}

// BuildRequest converts a canonical request to the Anthropic wire form.
// System messages are hoisted to the top-level parameter; max_tokens is
// mandatory here, so maxTokensDefault fills in when the caller omitted
// it.
func BuildRequest(req *llm.CompletionRequest, maxTokensDefault int) ([]byte, error) {
	wire := wireRequest{
		Model:         req.Model,
		Temperature:   req.Params.Temperature,
		TopP:          req.Params.TopP,
		StopSequences: req.Params.Stop,
		Stream:        req.Stream,
	}

	if req.Params.MaxTokens != nil {
		wire.MaxTokens = *req.Params.MaxTokens
	} else {
		wire.MaxTokens = maxTokensDefault
	}

	var systems []string
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			systems = append(systems, m.Content.Flatten())
		case llm.RoleUser:
			wm, err := buildUserMessage(m)
			if err != nil {
				return nil, err
			}
			wire.Messages = append(wire.Messages, wm)
		case llm.RoleAssistant:
			wm, err := buildAssistantMessage(m)
			if err != nil {
				return nil, err
			}
			wire.Messages = append(wire.Messages, wm)
		case llm.RoleTool:
			// Tool results travel as user messages with a tool_result
			// block in this protocol.
			block := wireBlock{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
			}
			content, err := json.Marshal(m.Content.Flatten())
			if err != nil {
				return nil, err
			}
			block.Content = content
			raw, err := json.Marshal([]wireBlock{block})
			if err != nil {
				return nil, err
			}
			wire.Messages = append(wire.Messages, wireMessage{Role: "user", Content: raw})
		}
	}

	if len(systems) > 0 {
		system, err := json.Marshal(strings.Join(systems, "\n"))
		if err != nil {
			return nil, err
		}
		wire.System = system
	}

	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	if req.ToolChoice != nil {
		wire.ToolChoice = buildToolChoice(req.ToolChoice)
	}

	return json.Marshal(wire)
}

func buildToolChoice(tc *llm.ToolChoice) *wireToolChoice {
	if tc.FunctionName != "" {
		return &wireToolChoice{Type: "tool", Name: tc.FunctionName}
	}
	switch tc.Mode {
	case llm.ToolChoiceRequired:
		return &wireToolChoice{Type: "any"}
	case llm.ToolChoiceNone:
		return &wireToolChoice{Type: "none"}
	default:
		return &wireToolChoice{Type: "auto"}
	}
}

func buildUserMessage(m llm.Message) (wireMessage, error) {
	if !m.Content.IsParts() {
		raw, err := json.Marshal(m.Content.Text)
		if err != nil {
			return wireMessage{}, err
		}
		return wireMessage{Role: "user", Content: raw}, nil
	}

	blocks := make([]wireBlock, 0, len(m.Content.Parts))
	for _, p := range m.Content.Parts {
		switch p.Type {
		case llm.PartText:
			blocks = append(blocks, wireBlock{Type: "text", Text: p.Text})
		case llm.PartImageURL:
			blocks = append(blocks, wireBlock{
				Type:   "image",
				Source: &wireImageSource{Type: "url", URL: p.URL},
			})
		case llm.PartImageBytes:
			blocks = append(blocks, wireBlock{
				Type:   "image",
				Source: &wireImageSource{Type: "base64", MediaType: p.MimeType, Data: p.Data},
			})
		}
	}
	raw, err := json.Marshal(blocks)
	if err != nil {
		return wireMessage{}, err
	}
	return wireMessage{Role: "user", Content: raw}, nil
}

func buildAssistantMessage(m llm.Message) (wireMessage, error) {
	var blocks []wireBlock
	if text := m.Content.Flatten(); text != "" {
		blocks = append(blocks, wireBlock{Type: "text", Text: text})
	}
	for _, tc := range m.ToolCalls {
		input := json.RawMessage(tc.Arguments)
		if tc.Arguments == "" {
			input = json.RawMessage("{}")
		}
		blocks = append(blocks, wireBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Name,
			Input: input,
		})
	}
	raw, err := json.Marshal(blocks)
	if err != nil {
		return wireMessage{}, err
	}
	return wireMessage{Role: "assistant", Content: raw}, nil
}

// ParseResponse converts a buffered upstream response to canonical.
func ParseResponse(ctx context.Context, body []byte) (*llm.CompletionResponse, error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal messages response: %w", err)
	}
	if wire.Error != nil {
		return nil, fmt.Errorf("upstream error (%s): %s", wire.Error.Type, wire.Error.Message)
	}

	msg, err := parseAssistantBlocks(wire.Content)
	if err != nil {
		return nil, err
	}

	resp := &llm.CompletionResponse{
		ID:    wire.ID,
		Model: wire.Model,
		Choices: []llm.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: MapStopReason(ctx, derefStr(wire.StopReason)),
		}},
	}

	if wire.Usage != nil {
		resp.Usage = &llm.Usage{
			PromptTokens:     wire.Usage.InputTokens,
			CompletionTokens: wire.Usage.OutputTokens,
			TotalTokens:      wire.Usage.InputTokens + wire.Usage.OutputTokens,
		}
	}

	return resp, nil
}

// BuildResponse converts a canonical response to the Anthropic wire
// form. Only the first choice is representable.
func BuildResponse(resp *llm.CompletionResponse) ([]byte, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("response has no choices")
	}
	choice := resp.Choices[0]

	wire := wireResponse{
		ID:    resp.ID,
		Type:  "message",
		Role:  "assistant",
		Model: resp.Model,
	}

	if text := choice.Message.Content.Flatten(); text != "" {
		wire.Content = append(wire.Content, wireBlock{Type: "text", Text: text})
	}
	for _, tc := range choice.Message.ToolCalls {
		input := json.RawMessage(tc.Arguments)
		if tc.Arguments == "" {
			input = json.RawMessage("{}")
		}
		wire.Content = append(wire.Content, wireBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Name,
			Input: input,
		})
	}
	if len(wire.Content) == 0 {
		wire.Content = append(wire.Content, wireBlock{Type: "text", Text: ""})
	}

	stop := buildStopReason(choice.FinishReason)
	wire.StopReason = &stop

	if resp.Usage != nil {
		wire.Usage = &wireUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	return json.Marshal(wire)
}

// MapStopReason maps an Anthropic stop reason to canonical. Unknown
// reasons map to stop and record a warning attribute on the span.
func MapStopReason(ctx context.Context, reason string) llm.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence", "":
		return llm.FinishStop
	case "max_tokens":
		return llm.FinishLength
	case "tool_use":
		return llm.FinishToolCalls
	default:
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.String("llm.finish_reason.unmapped", reason))
		return llm.FinishStop
	}
}

func buildStopReason(r llm.FinishReason) string {
	switch r {
	case llm.FinishLength:
		return "max_tokens"
	case llm.FinishToolCalls:
		return "tool_use"
	default:
		return "end_turn"
	}
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
