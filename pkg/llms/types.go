package llms

import "encoding/json"

// Conversation roles shared by all providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single conversation turn in provider-neutral form.
// Providers translate it to their own wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`

	// ToolCalls carries the calls requested by an assistant turn.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name link a tool result turn back to the call
	// that produced it.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolResultMessage builds the turn that reports a tool's output back
// to the model.
func ToolResultMessage(toolCallID, name, content string) Message {
	return Message{Role: RoleTool, ToolCallID: toolCallID, Name: name, Content: content}
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ToolDefinition describes a callable tool in JSON Schema form.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// StreamChunk is one unit of a streaming response. Type is one of
// "text", "tool_call", "done" or "error". A "done" chunk carries the
// token count when the provider reported one.
type StreamChunk struct {
	Type     string
	Text     string
	ToolCall *ToolCall
	Tokens   int
	Error    error
}

// StructuredOutputConfig asks a provider to constrain its output.
type StructuredOutputConfig struct {
	// Format is "json" for schema-constrained JSON output.
	Format string

	// Schema is a JSON Schema, either a generic map or raw JSON bytes.
	// Raw bytes keep their property order where the provider embeds
	// the schema as text.
	Schema interface{}

	// Prefill seeds the assistant turn for providers that support it.
	// Defaults to "{" for JSON output.
	Prefill string

	// PropertyOrdering hints field order to providers that honor it.
	PropertyOrdering []string
}

// schemaAsMap coerces the schema forms accepted by
// StructuredOutputConfig into a generic map for providers whose wire
// format needs one. Returns nil when the schema is absent or not an
// object.
func schemaAsMap(schema interface{}) map[string]interface{} {
	switch s := schema.(type) {
	case map[string]interface{}:
		return s
	case json.RawMessage:
		var m map[string]interface{}
		if err := json.Unmarshal(s, &m); err != nil {
			return nil
		}
		return m
	case []byte:
		var m map[string]interface{}
		if err := json.Unmarshal(s, &m); err != nil {
			return nil
		}
		return m
	default:
		return nil
	}
}
