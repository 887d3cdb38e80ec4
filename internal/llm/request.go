package llm

// CompletionParams are the generation knobs, all optional. Semantics
// follow OpenAI chat completions.
type CompletionParams struct {
	Temperature      *float64
	TopP             *float64
	MaxTokens        *int
	Stop             []string
	FrequencyPenalty *float64
	PresencePenalty  *float64
	Seed             *int64
}

// ToolChoiceMode is the simple string form of tool selection.
type ToolChoiceMode string

const (
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceRequired ToolChoiceMode = "required"
)

// ToolChoice is either a mode or a forced function name. FunctionName
// set means the function form; otherwise Mode applies.
type ToolChoice struct {
	Mode         ToolChoiceMode
	FunctionName string
}

// ToolDefinition describes a function the model may call.
type ToolDefinition struct {
	Name        string
	Description string
	// Parameters is the JSON-schema document for the arguments,
	// decoded as generic JSON.
	Parameters map[string]any
}

// CompletionRequest is the canonical form of an inbound completion.
type CompletionRequest struct {
	Model      string
	Messages   []Message
	Params     CompletionParams
	Tools      []ToolDefinition
	ToolChoice *ToolChoice
	Stream     bool
}
