package google

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidotdev/synapse/internal/llm"
)

func TestParseRequest_Basic(t *testing.T) {
	body := `{
		"system_instruction": {"parts": [{"text": "Be helpful"}]},
		"contents": [
			{"role": "user", "parts": [{"text": "Hi"}]},
			{"role": "model", "parts": [{"text": "Hello!"}]}
		],
		"generation_config": {"temperature": 0.3, "max_output_tokens": 100}
	}`

	req, err := ParseRequest("gemini-2.0-flash", []byte(body))
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.0-flash", req.Model)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "Be helpful", req.Messages[0].Content.Text)
	assert.Equal(t, llm.RoleUser, req.Messages[1].Role)
	assert.Equal(t, llm.RoleAssistant, req.Messages[2].Role)
	require.NotNil(t, req.Params.MaxTokens)
	assert.Equal(t, 100, *req.Params.MaxTokens)
}

func TestParseRequest_FunctionCallAndResponse(t *testing.T) {
	body := `{"contents": [
		{"role": "model", "parts": [{"function_call": {"name": "f", "args": {"x": 1}}}]},
		{"role": "user", "parts": [{"function_response": {"name": "f", "response": {"result": "ok"}}}]}
	]}`

	req, err := ParseRequest("gemini", []byte(body))
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)

	assistant := req.Messages[0]
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "f", assistant.ToolCalls[0].Name)
	assert.JSONEq(t, `{"x":1}`, assistant.ToolCalls[0].Arguments)

	tool := req.Messages[1]
	assert.Equal(t, llm.RoleTool, tool.Role)
	assert.Equal(t, "call_f", tool.ToolCallID)
}

func TestBuildRequest_SystemInstructionAndRoles(t *testing.T) {
	req := &llm.CompletionRequest{
		Model: "gemini",
		Messages: []llm.Message{
			llm.SystemMessage("S"),
			llm.UserMessage("U"),
			llm.AssistantMessage("A"),
		},
	}

	wire, err := BuildRequest(req)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(wire, &decoded))

	system := decoded["system_instruction"].(map[string]any)
	parts := system["parts"].([]any)
	assert.Equal(t, "S", parts[0].(map[string]any)["text"])

	contents := decoded["contents"].([]any)
	require.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0].(map[string]any)["role"])
	assert.Equal(t, "model", contents[1].(map[string]any)["role"])
}

func TestRewriteSchema(t *testing.T) {
	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"count": map[string]any{"type": "integer"},
			"tags": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []any{"count"},
	}

	out := RewriteSchema(schema)

	assert.Equal(t, "OBJECT", out["type"])
	_, hasAdditional := out["additionalProperties"]
	assert.False(t, hasAdditional)

	props := out["properties"].(map[string]any)
	assert.Equal(t, "INTEGER", props["count"].(map[string]any)["type"])

	tags := props["tags"].(map[string]any)
	assert.Equal(t, "ARRAY", tags["type"])
	assert.Equal(t, "STRING", tags["items"].(map[string]any)["type"])
	assert.Equal(t, []any{"count"}, out["required"])
}

func TestParseResponse_Basic(t *testing.T) {
	body := `{
		"candidates": [{
			"content": {"role": "model", "parts": [{"text": "Hello!"}]},
			"finish_reason": "STOP",
			"index": 0
		}],
		"usage_metadata": {"prompt_token_count": 4, "candidates_token_count": 2, "total_token_count": 6}
	}`

	resp, err := ParseResponse(context.Background(), "gemini", []byte(body))
	require.NoError(t, err)

	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Hello!", resp.Choices[0].Message.Content.Text)
	assert.Equal(t, llm.FinishStop, resp.Choices[0].FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
	assert.NotEmpty(t, resp.ID)
}

func TestFinishReasonMapping(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, llm.FinishStop, MapFinishReason(ctx, "STOP"))
	assert.Equal(t, llm.FinishLength, MapFinishReason(ctx, "MAX_TOKENS"))
	assert.Equal(t, llm.FinishContentFilter, MapFinishReason(ctx, "SAFETY"))
	assert.Equal(t, llm.FinishContentFilter, MapFinishReason(ctx, "RECITATION"))
	assert.Equal(t, llm.FinishStop, MapFinishReason(ctx, "OTHER"))
	assert.Equal(t, llm.FinishStop, MapFinishReason(ctx, "NEVER_SEEN"))
}

func TestRequest_RoundTrip(t *testing.T) {
	req := &llm.CompletionRequest{
		Model: "gemini",
		Messages: []llm.Message{
			llm.SystemMessage("S"),
			llm.UserMessage("U"),
		},
		Tools: []llm.ToolDefinition{{
			Name: "f",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"q": map[string]any{"type": "string"},
				},
			},
		}},
		ToolChoice: &llm.ToolChoice{Mode: llm.ToolChoiceRequired},
	}

	wire, err := BuildRequest(req)
	require.NoError(t, err)

	back, err := ParseRequest("gemini", wire)
	require.NoError(t, err)

	assert.Equal(t, req.Model, back.Model)
	require.Len(t, back.Messages, 2)
	assert.Equal(t, "S", back.Messages[0].Content.Text)
	require.Len(t, back.Tools, 1)
	assert.Equal(t, "f", back.Tools[0].Name)
	require.NotNil(t, back.ToolChoice)
	assert.Equal(t, llm.ToolChoiceRequired, back.ToolChoice.Mode)
}

func TestStreamParser_Flow(t *testing.T) {
	parser := &StreamParser{}
	ctx := context.Background()

	chunks := []string{
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"Hel"}]},"index":0}]}`,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"lo"}]},"index":0}]}`,
		`{"candidates":[{"content":{"role":"model","parts":[]},"finish_reason":"STOP","index":0}],
			"usage_metadata":{"prompt_token_count":3,"candidates_token_count":2,"total_token_count":5}}`,
	}

	var events []llm.StreamEvent
	for _, chunk := range chunks {
		evs, err := parser.Parse(ctx, []byte(chunk))
		require.NoError(t, err)
		events = append(events, evs...)
	}
	events = append(events, parser.Finish()...)

	var content string
	var doneCount int
	var usage *llm.Usage
	for _, ev := range events {
		switch {
		case ev.Delta != nil:
			content += ev.Delta.Content
		case ev.Usage != nil:
			usage = ev.Usage
		case ev.Done:
			doneCount++
		}
	}

	assert.Equal(t, "Hello", content)
	assert.Equal(t, 1, doneCount)
	require.NotNil(t, usage)
	assert.Equal(t, 5, usage.TotalTokens)
	assert.True(t, events[len(events)-1].Done)
}

func TestEncoder_UsageAndDone(t *testing.T) {
	enc := &Encoder{Model: "gemini"}

	frame, err := enc.Encode(llm.DeltaEvent(llm.StreamDelta{Content: "hi"}))
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"text":"hi"`)

	frame, err = enc.Encode(llm.DeltaEvent(llm.StreamDelta{FinishReason: llm.FinishStop}))
	require.NoError(t, err)
	assert.Empty(t, frame)

	frame, err = enc.Encode(llm.UsageEvent(llm.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}))
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"finish_reason":"STOP"`)
	assert.Contains(t, string(frame), `"total_token_count":3`)

	// End-of-stream is the terminal condition; Done emits nothing more.
	frame, err = enc.Encode(llm.DoneEvent())
	require.NoError(t, err)
	assert.Empty(t, frame)
}
