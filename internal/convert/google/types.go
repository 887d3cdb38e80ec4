// Package google converts between the Google generate-content wire
// format and the canonical types. Google splits the system prompt into
// system_instruction, uses user/model roles with typed parts, and
// accepts only a restricted JSON-schema dialect for tool parameters.
package google

import "encoding/json"

type wireRequest struct {
	SystemInstruction *wireContent    `json:"system_instruction,omitempty"`
	Contents          []wireContent   `json:"contents"`
	Tools             []wireToolGroup `json:"tools,omitempty"`
	ToolConfig        *wireToolConfig `json:"tool_config,omitempty"`
	GenerationConfig  *wireGenConfig  `json:"generation_config,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text             string            `json:"text,omitempty"`
	InlineData       *wireInlineData   `json:"inline_data,omitempty"`
	FileData         *wireFileData     `json:"file_data,omitempty"`
	FunctionCall     *wireFunctionCall `json:"function_call,omitempty"`
	FunctionResponse *wireFunctionResp `json:"function_response,omitempty"`
}

type wireInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type wireFileData struct {
	MimeType string `json:"mime_type,omitempty"`
	FileURI  string `json:"file_uri"`
}

type wireFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type wireFunctionResp struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response,omitempty"`
}

type wireToolGroup struct {
	FunctionDeclarations []wireFunctionDecl `json:"function_declarations"`
}

type wireFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireToolConfig struct {
	FunctionCallingConfig wireFunctionCallingConfig `json:"function_calling_config"`
}

type wireFunctionCallingConfig struct {
	Mode                 string   `json:"mode"` // AUTO | ANY | NONE
	AllowedFunctionNames []string `json:"allowed_function_names,omitempty"`
}

type wireGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"top_p,omitempty"`
	MaxOutputTokens *int     `json:"max_output_tokens,omitempty"`
	StopSequences   []string `json:"stop_sequences,omitempty"`
	Seed            *int64   `json:"seed,omitempty"`
}

type wireResponse struct {
	Candidates    []wireCandidate `json:"candidates"`
	UsageMetadata *wireUsage      `json:"usage_metadata,omitempty"`
	ModelVersion  string          `json:"model_version,omitempty"`
	ResponseID    string          `json:"response_id,omitempty"`
}

type wireCandidate struct {
	Content      wireContent `json:"content"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Index        int         `json:"index,omitempty"`
}

type wireUsage struct {
	PromptTokenCount     int `json:"prompt_token_count"`
	CandidatesTokenCount int `json:"candidates_token_count"`
	TotalTokenCount      int `json:"total_token_count"`
}
