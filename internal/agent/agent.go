// Package agent runs natural-language queries against an LLM with
// Elasticsearch tools pulled from an MCP server.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/searchstack-dev/searchstack/internal/agent/llm"
	"github.com/searchstack-dev/searchstack/internal/agent/tools"
)

const defaultMaxIterations = 10

// Agent is a long-lived session: one model handle and a fixed toolset shared
// by all queries.
type Agent struct {
	model       llm.Model
	modelID     string
	tools       []tools.Tool
	toolsByName map[string]tools.Tool
	toolDefs    []llm.Tool

	defaultTemperature float64
	maxIterations      int
	mcpEnabled         bool
	verbose            bool
}

// Options configures the agent.
type Options struct {
	ModelID            string
	DefaultTemperature float64
	// MaxIterations bounds the tool loop. Zero means the default of 10.
	MaxIterations int
	// MCPEnabled records whether an MCP session backs part of the toolset.
	MCPEnabled bool
	Verbose    bool
}

// New builds an agent over the given model and toolset.
func New(model llm.Model, toolset []tools.Tool, opts Options) *Agent {
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	byName := make(map[string]tools.Tool, len(toolset))
	defs := make([]llm.Tool, 0, len(toolset))
	for _, t := range toolset {
		byName[t.Name()] = t
		defs = append(defs, llm.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}

	return &Agent{
		model:              model,
		modelID:            opts.ModelID,
		tools:              toolset,
		toolsByName:        byName,
		toolDefs:           defs,
		defaultTemperature: opts.DefaultTemperature,
		maxIterations:      maxIter,
		mcpEnabled:         opts.MCPEnabled,
		verbose:            opts.Verbose,
	}
}

// Tools returns the agent's toolset.
func (a *Agent) Tools() []tools.Tool {
	return a.tools
}

// MCPEnabled reports whether MCP tools are part of the toolset.
func (a *Agent) MCPEnabled() bool {
	return a.mcpEnabled
}

// Query runs one query through the tool loop and returns the model's final
// text. A nil temperature uses the agent default.
func (a *Agent) Query(ctx context.Context, query string, temperature *float64) (string, error) {
	temp := a.defaultTemperature
	if temperature != nil {
		temp = *temperature
	}

	messages := []llm.Message{{Role: llm.RoleUser, Content: query}}

	for i := 0; i < a.maxIterations; i++ {
		resp, err := a.model.Complete(ctx, llm.CompletionRequest{
			Model:       a.modelID,
			System:      systemPrompt,
			Messages:    messages,
			Tools:       a.toolDefs,
			Temperature: &temp,
		})
		if err != nil {
			return "", fmt.Errorf("completion failed: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			if resp.Content == "" {
				return emptyResponseFallback, nil
			}
			return resp.Content, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: tc.ID,
				Content:    a.runTool(ctx, tc),
			})
		}
	}

	return maxIterationsResponse, nil
}

// runTool executes one tool call; failures come back as text so the model
// can react instead of the whole query erroring out.
func (a *Agent) runTool(ctx context.Context, tc llm.ToolCall) string {
	tool, ok := a.toolsByName[tc.Name]
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", tc.Name)
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
		args = map[string]any{}
	}

	if a.verbose {
		log.Printf("Calling tool %s with args %s", tc.Name, tc.Arguments)
	}

	out, err := tool.Call(ctx, args)
	if err != nil {
		return fmt.Sprintf("Error executing tool %s: %v", tc.Name, err)
	}
	return out
}
