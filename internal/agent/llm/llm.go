// Package llm provides a minimal client for the Anthropic Messages API,
// covering synchronous completions with tool use.
package llm

import "context"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn in a conversation. Tool results use RoleTool with
// ToolCallID referencing the originating call.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a model-requested tool invocation. Arguments is the raw JSON
// input object.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Tool describes a callable tool advertised to the model.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// CompletionRequest is a single completion call.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []Tool
	Temperature *float64
	MaxTokens   int
}

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// CompletionResponse is the parsed result of a completion call.
type CompletionResponse struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason string
	Usage      Usage
}

// Model is the completion interface the agent runs against.
type Model interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
