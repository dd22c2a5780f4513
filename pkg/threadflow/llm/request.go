package llm

// Request configures a completion call.
type Request struct {
	// Model is the engine name, e.g. "gpt-4o-mini".
	Model    string    `cbor:"model" json:"model"`
	Messages []Message `cbor:"messages" json:"messages"`

	// Tools offered to the model. Handoffs are exposed as tools.
	Tools []Tool `cbor:"tools,omitempty" json:"tools,omitempty"`

	MaxTokens   int     `cbor:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Temperature float32 `cbor:"temperature,omitempty" json:"temperature,omitempty"`
}

// Message is a conversation turn.
type Message struct {
	Role    Role   `cbor:"role" json:"role"`
	Content string `cbor:"content" json:"content"`
	Name    string `cbor:"name,omitempty" json:"name,omitempty"`

	// ToolCalls is set on assistant messages that invoke tools.
	ToolCalls []ToolCall `cbor:"tool_calls,omitempty" json:"tool_calls,omitempty"`
	// ToolCallID is set on tool messages answering a call.
	ToolCallID string `cbor:"tool_call_id,omitempty" json:"tool_call_id,omitempty"`
}

// Role identifies the message sender.
type Role string

// Standard message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Tool defines a function the model may call.
type Tool struct {
	Name        string         `cbor:"name" json:"name"`
	Description string         `cbor:"description" json:"description"`
	Parameters  map[string]any `cbor:"parameters,omitempty" json:"parameters,omitempty"` // JSON Schema
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string `cbor:"id" json:"id"`
	Name      string `cbor:"name" json:"name"`
	Arguments string `cbor:"arguments,omitempty" json:"arguments,omitempty"`
}

// Response is the output of a completion call. It is recorded verbatim
// as a step result, so every field must round-trip through the history
// codec.
type Response struct {
	Model   string   `cbor:"model" json:"model"`
	Choices []Choice `cbor:"choices" json:"choices"`
	Usage   Usage    `cbor:"usage" json:"usage"`
}

// Choice is one candidate completion.
type Choice struct {
	Index        int     `cbor:"index" json:"index"`
	Message      Message `cbor:"message" json:"message"`
	FinishReason string  `cbor:"finish_reason,omitempty" json:"finish_reason,omitempty"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `cbor:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int `cbor:"completion_tokens" json:"completion_tokens"`
	TotalTokens      int `cbor:"total_tokens" json:"total_tokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Message returns the first choice's message, or false if there is none.
func (r *Response) Message() (Message, bool) {
	if r == nil || len(r.Choices) == 0 {
		return Message{}, false
	}
	return r.Choices[0].Message, true
}
