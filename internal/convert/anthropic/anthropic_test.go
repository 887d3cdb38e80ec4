package anthropic

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidotdev/synapse/internal/llm"
)

func TestParseRequest_SystemBecomesLeadingMessage(t *testing.T) {
	body := `{"model":"claude","system":"S","max_tokens":100,
		"messages":[{"role":"user","content":"Hi"}]}`

	req, err := ParseRequest([]byte(body))
	require.NoError(t, err)

	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "S", req.Messages[0].Content.Text)
	assert.Equal(t, llm.RoleUser, req.Messages[1].Role)
	assert.Equal(t, "Hi", req.Messages[1].Content.Text)
}

func TestBuildRequest_RestoresTopLevelSystem(t *testing.T) {
	req := &llm.CompletionRequest{
		Model: "claude",
		Messages: []llm.Message{
			llm.SystemMessage("S"),
			llm.UserMessage("Hi"),
		},
	}

	wire, err := BuildRequest(req, 4096)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(wire, &decoded))
	assert.Equal(t, "S", decoded["system"])

	messages := decoded["messages"].([]any)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].(map[string]any)["role"])
}

func TestBuildRequest_MultipleSystemsConcatenated(t *testing.T) {
	req := &llm.CompletionRequest{
		Model: "claude",
		Messages: []llm.Message{
			llm.SystemMessage("A"),
			llm.SystemMessage("B"),
			llm.UserMessage("Hi"),
		},
	}

	wire, err := BuildRequest(req, 4096)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(wire, &decoded))
	assert.Equal(t, "A\nB", decoded["system"])
}

func TestBuildRequest_MaxTokensDefaultSupplied(t *testing.T) {
	req := &llm.CompletionRequest{
		Model:    "claude",
		Messages: []llm.Message{llm.UserMessage("Hi")},
	}

	wire, err := BuildRequest(req, 2048)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(wire, &decoded))
	assert.EqualValues(t, 2048, decoded["max_tokens"])
}

func TestParseRequest_ToolResultBecomesToolMessage(t *testing.T) {
	body := `{"model":"claude","max_tokens":10,"messages":[
		{"role":"assistant","content":[
			{"type":"text","text":"checking"},
			{"type":"tool_use","id":"toolu_1","name":"f","input":{"a":1}}
		]},
		{"role":"user","content":[
			{"type":"tool_result","tool_use_id":"toolu_1","content":"42"}
		]}
	]}`

	req, err := ParseRequest([]byte(body))
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)

	assistant := req.Messages[0]
	assert.Equal(t, "checking", assistant.Content.Text)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "toolu_1", assistant.ToolCalls[0].ID)
	assert.JSONEq(t, `{"a":1}`, assistant.ToolCalls[0].Arguments)

	tool := req.Messages[1]
	assert.Equal(t, llm.RoleTool, tool.Role)
	assert.Equal(t, "toolu_1", tool.ToolCallID)
	assert.Equal(t, "42", tool.Content.Text)
}

func TestBuildRequest_ToolMessageBecomesToolResult(t *testing.T) {
	req := &llm.CompletionRequest{
		Model: "claude",
		Messages: []llm.Message{
			llm.UserMessage("weather?"),
			{
				Role:      llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{{ID: "toolu_1", Name: "f", Arguments: "{}"}},
			},
			llm.ToolMessage("toolu_1", "sunny"),
		},
	}

	wire, err := BuildRequest(req, 100)
	require.NoError(t, err)

	var decoded struct {
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(wire, &decoded))
	require.Len(t, decoded.Messages, 3)

	last := decoded.Messages[2]
	assert.Equal(t, "user", last.Role)

	var blocks []map[string]any
	require.NoError(t, json.Unmarshal(last.Content, &blocks))
	require.Len(t, blocks, 1)
	assert.Equal(t, "tool_result", blocks[0]["type"])
	assert.Equal(t, "toolu_1", blocks[0]["tool_use_id"])
}

func TestRequest_RoundTrip(t *testing.T) {
	body := `{"model":"claude","system":"S","max_tokens":64,
		"messages":[{"role":"user","content":"Hi"}]}`

	req, err := ParseRequest([]byte(body))
	require.NoError(t, err)

	wire, err := BuildRequest(req, 4096)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(wire, &decoded))
	assert.Equal(t, "S", decoded["system"])
	assert.EqualValues(t, 64, decoded["max_tokens"])

	back, err := ParseRequest(wire)
	require.NoError(t, err)
	assert.Equal(t, req.Messages, back.Messages)
}

func TestParseResponse_MixedBlocks(t *testing.T) {
	body := `{"id":"msg_1","type":"message","role":"assistant","model":"claude",
		"content":[
			{"type":"text","text":"Let me check. "},
			{"type":"tool_use","id":"toolu_2","name":"lookup","input":{"q":"x"}}
		],
		"stop_reason":"tool_use",
		"usage":{"input_tokens":10,"output_tokens":20}}`

	resp, err := ParseResponse(context.Background(), []byte(body))
	require.NoError(t, err)

	require.Len(t, resp.Choices, 1)
	choice := resp.Choices[0]
	assert.Equal(t, "Let me check. ", choice.Message.Content.Text)
	require.Len(t, choice.Message.ToolCalls, 1)
	assert.Equal(t, "lookup", choice.Message.ToolCalls[0].Name)
	assert.Equal(t, llm.FinishToolCalls, choice.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 30, resp.Usage.TotalTokens)
}

func TestStopReasonMapping(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, llm.FinishStop, MapStopReason(ctx, "end_turn"))
	assert.Equal(t, llm.FinishLength, MapStopReason(ctx, "max_tokens"))
	assert.Equal(t, llm.FinishToolCalls, MapStopReason(ctx, "tool_use"))
	assert.Equal(t, llm.FinishStop, MapStopReason(ctx, "stop_sequence"))
	assert.Equal(t, llm.FinishStop, MapStopReason(ctx, "brand_new_reason"))
}

func TestBuildResponse_Shape(t *testing.T) {
	resp := &llm.CompletionResponse{
		ID:    "msg_1",
		Model: "claude",
		Choices: []llm.Choice{{
			Message:      llm.AssistantMessage("hello"),
			FinishReason: llm.FinishStop,
		}},
		Usage: &llm.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3},
	}

	wire, err := BuildResponse(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(wire, &decoded))
	assert.Equal(t, "message", decoded["type"])
	assert.Equal(t, "assistant", decoded["role"])
	assert.Equal(t, "end_turn", decoded["stop_reason"])

	blocks := decoded["content"].([]any)
	require.Len(t, blocks, 1)
	assert.Equal(t, "hello", blocks[0].(map[string]any)["text"])
}
