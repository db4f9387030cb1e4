package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/searchstack-dev/searchstack/internal/version"
)

// apiKeyTransport injects the Elasticsearch ApiKey authorization header into
// every request to the MCP server.
type apiKeyTransport struct {
	encodedKey string
	base       http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if t.encodedKey != "" {
		clone.Header.Set("Authorization", "ApiKey "+t.encodedKey)
	}
	return t.base.RoundTrip(clone)
}

// MCPToolset holds a live MCP session and the tools it serves.
type MCPToolset struct {
	session mcpSession
	tools   []Tool
}

// mcpSession is the part of *mcp.ClientSession the toolset uses.
type mcpSession interface {
	ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	Close() error
}

// ConnectMCP connects to the MCP server over streamable HTTP and lists its
// tools. The encoded key, when set, is sent as an ApiKey authorization header.
func ConnectMCP(ctx context.Context, url, encodedKey string) (*MCPToolset, error) {
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &apiKeyTransport{
			encodedKey: encodedKey,
			base:       http.DefaultTransport,
		},
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "searchstack-agent",
		Version: version.Version,
	}, nil)

	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint:   url,
		HTTPClient: httpClient,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MCP server at %s: %w", url, err)
	}

	ts := &MCPToolset{session: session}
	if err := ts.loadTools(ctx); err != nil {
		_ = session.Close()
		return nil, err
	}
	return ts, nil
}

func (ts *MCPToolset) loadTools(ctx context.Context) error {
	res, err := ts.session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return fmt.Errorf("failed to list MCP tools: %w", err)
	}
	ts.tools = ts.tools[:0]
	for _, t := range res.Tools {
		ts.tools = append(ts.tools, &mcpTool{session: ts.session, tool: t})
	}
	return nil
}

// Tools returns the tools served by the MCP session.
func (ts *MCPToolset) Tools() []Tool {
	return ts.tools
}

// Close shuts down the MCP session.
func (ts *MCPToolset) Close() error {
	return ts.session.Close()
}

// mcpTool adapts one MCP tool to the Tool interface.
type mcpTool struct {
	session mcpSession
	tool    *mcp.Tool
}

func (t *mcpTool) Name() string        { return t.tool.Name }
func (t *mcpTool) Description() string { return t.tool.Description }

func (t *mcpTool) InputSchema() map[string]any {
	if t.tool.InputSchema == nil {
		return map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(t.tool.InputSchema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return map[string]any{"type": "object"}
	}
	return schema
}

func (t *mcpTool) Call(ctx context.Context, args map[string]any) (string, error) {
	res, err := t.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      t.tool.Name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("MCP tool %s failed: %w", t.tool.Name, err)
	}

	text := joinTextContent(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return fmt.Sprintf("Error from tool %s: %s", t.tool.Name, text), nil
	}
	return text, nil
}

// joinTextContent concatenates the text blocks of a tool result.
func joinTextContent(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
