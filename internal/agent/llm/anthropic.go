package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicAPIBaseURL = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"

	defaultMaxTokens = 4096
)

// APIError is a non-2xx response from the Anthropic API.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("anthropic: %s (status %d, type %s)", e.Message, e.StatusCode, e.Type)
}

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// AnthropicOption customizes the client.
type AnthropicOption func(*AnthropicClient)

// WithBaseURL overrides the API base URL, mainly for tests.
func WithBaseURL(url string) AnthropicOption {
	return func(c *AnthropicClient) { c.baseURL = strings.TrimSuffix(url, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) AnthropicOption {
	return func(c *AnthropicClient) { c.httpClient = hc }
}

// NewAnthropicClient creates a Messages API client.
func NewAnthropicClient(apiKey string, opts ...AnthropicOption) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	c := &AnthropicClient{
		apiKey:  apiKey,
		baseURL: anthropicAPIBaseURL,
		httpClient: &http.Client{
			// LLM requests can take a while.
			Timeout: 120 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Wire format for the Messages API.
type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content []any  `json:"content"`
}

type anthropicTextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicToolResultContent struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string           `json:"id"`
	Role       string           `json:"role"`
	Content    []map[string]any `json:"content"`
	Model      string           `json:"model"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a synchronous completion request.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: completion request must have at least one message")
	}

	apiReq, err := buildAPIRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, apiReq)
	if err != nil {
		return nil, err
	}

	return parseResponse(resp), nil
}

func buildAPIRequest(req CompletionRequest) (*anthropicRequest, error) {
	var apiMessages []anthropicMessage

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleUser:
			apiMessages = append(apiMessages, anthropicMessage{
				Role:    "user",
				Content: []any{anthropicTextContent{Type: "text", Text: msg.Content}},
			})

		case RoleAssistant:
			var content []any
			if msg.Content != "" {
				content = append(content, anthropicTextContent{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
					input = map[string]any{}
				}
				content = append(content, map[string]any{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Name,
					"input": input,
				})
			}
			if len(content) > 0 {
				apiMessages = append(apiMessages, anthropicMessage{Role: "assistant", Content: content})
			}

		case RoleTool:
			// Tool results ride in a user message.
			apiMessages = append(apiMessages, anthropicMessage{
				Role: "user",
				Content: []any{anthropicToolResultContent{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})

		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", msg.Role)
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	tools := make([]anthropicTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		tools = append(tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}

	return &anthropicRequest{
		Model:       req.Model,
		Messages:    apiMessages,
		MaxTokens:   maxTokens,
		System:      req.System,
		Temperature: req.Temperature,
		Tools:       tools,
	}, nil
}

func (c *AnthropicClient) doRequest(ctx context.Context, apiReq *anthropicRequest) (*anthropicResponse, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp anthropicErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Type:       errResp.Error.Type,
				Message:    errResp.Error.Message,
			}
		}
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("anthropic: failed to parse response: %w", err)
	}
	return &apiResp, nil
}

func parseResponse(resp *anthropicResponse) *CompletionResponse {
	var textContent strings.Builder
	var toolCalls []ToolCall

	for _, block := range resp.Content {
		blockType, _ := block["type"].(string)
		switch blockType {
		case "text":
			if text, ok := block["text"].(string); ok {
				if textContent.Len() > 0 {
					textContent.WriteString("\n")
				}
				textContent.WriteString(text)
			}
		case "tool_use":
			id, _ := block["id"].(string)
			name, _ := block["name"].(string)
			inputJSON, err := json.Marshal(block["input"])
			if err != nil {
				inputJSON = []byte("{}")
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:        id,
				Name:      name,
				Arguments: string(inputJSON),
			})
		}
	}

	return &CompletionResponse{
		Content:    textContent.String(),
		ToolCalls:  toolCalls,
		StopReason: resp.StopReason,
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
}
