// Package tools provides the agent's callable tools: a toolset pulled from an
// MCP server plus a custom Elasticsearch index mapping tool.
package tools

import "context"

// Tool is a callable tool advertised to the model. Call returns the tool
// output as text; tool-level failures are reported in the text rather than
// as an error so the model can react to them.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Call(ctx context.Context, args map[string]any) (string, error)
}
