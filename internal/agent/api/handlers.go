// Package api exposes the agent's REST interface.
package api

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/searchstack-dev/searchstack/internal/agent/tools"
)

// Querier is the agent surface the handlers need.
type Querier interface {
	Query(ctx context.Context, query string, temperature *float64) (string, error)
	Tools() []tools.Tool
	MCPEnabled() bool
}

// Handlers wires the agent endpoints. Agent is nil when initialization
// failed; query endpoints then answer 503.
type Handlers struct {
	Agent Querier
	Pool  *Pool
}

// NewHandlers builds the endpoint handlers.
func NewHandlers(a Querier, pool *Pool) *Handlers {
	return &Handlers{Agent: a, Pool: pool}
}

// RootResponse is the liveness body.
type RootResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (h *Handlers) handleRoot(ctx context.Context, input *struct{}) (*struct{ Body RootResponse }, error) {
	return &struct{ Body RootResponse }{Body: RootResponse{
		Message: "Doc Agent API is running",
		Status:  "healthy",
	}}, nil
}

// HealthResponse is the detailed health body.
type HealthResponse struct {
	Status           string `json:"status"`
	AgentInitialized bool   `json:"agent_initialized"`
	MCPEnabled       bool   `json:"mcp_enabled"`
	ToolsCount       int    `json:"tools_count"`
}

func (h *Handlers) handleHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthResponse }, error) {
	resp := HealthResponse{Status: "healthy"}
	if h.Agent != nil {
		resp.AgentInitialized = true
		resp.MCPEnabled = h.Agent.MCPEnabled()
		resp.ToolsCount = len(h.Agent.Tools())
	}
	return &struct{ Body HealthResponse }{Body: resp}, nil
}

// QueryRequest is the POST /query body.
type QueryRequest struct {
	Query       string   `json:"query" doc:"Natural-language query for the agent"`
	Temperature *float64 `json:"temperature,omitempty" minimum:"0" maximum:"1" doc:"Sampling temperature override"`
}

// QueryResponse carries the agent's answer, or a structured error when the
// query failed downstream.
type QueryResponse struct {
	Response string `json:"response"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

type queryInput struct {
	Body QueryRequest
}

// validate rejects empty queries before looking at agent state, so a bad
// request is reported as such even when initialization failed.
func (h *Handlers) validate(input *queryInput) error {
	if strings.TrimSpace(input.Body.Query) == "" {
		return huma.Error400BadRequest("Query cannot be empty")
	}
	if h.Agent == nil {
		return huma.Error503ServiceUnavailable("Agent not initialized")
	}
	return nil
}

func (h *Handlers) runQuery(ctx context.Context, input *queryInput) *QueryResponse {
	query := strings.TrimSpace(input.Body.Query)
	log.Printf("Processing query: %s", query)

	response, err := h.Agent.Query(ctx, query, input.Body.Temperature)
	if err != nil {
		log.Printf("Error processing query: %v", err)
		return &QueryResponse{Status: "error", Error: err.Error()}
	}
	return &QueryResponse{Response: response, Status: "success"}
}

func (h *Handlers) handleQuery(ctx context.Context, input *queryInput) (*struct{ Body QueryResponse }, error) {
	if err := h.validate(input); err != nil {
		return nil, err
	}
	return &struct{ Body QueryResponse }{Body: *h.runQuery(ctx, input)}, nil
}

// handleQueryAsync runs the query on the worker pool so slow tool loops do
// not pile up on the request goroutines.
func (h *Handlers) handleQueryAsync(ctx context.Context, input *queryInput) (*struct{ Body QueryResponse }, error) {
	if err := h.validate(input); err != nil {
		return nil, err
	}

	result := make(chan *QueryResponse, 1)
	err := h.Pool.Submit(ctx, func() {
		result <- h.runQuery(ctx, input)
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("request cancelled", err)
	}

	select {
	case resp := <-result:
		return &struct{ Body QueryResponse }{Body: *resp}, nil
	case <-ctx.Done():
		return nil, huma.Error500InternalServerError("request cancelled", ctx.Err())
	}
}

// ToolInfo describes one tool for the listing endpoint.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ToolsResponse is the GET /tools body.
type ToolsResponse struct {
	Tools      []ToolInfo `json:"tools"`
	Count      int        `json:"count"`
	MCPEnabled bool       `json:"mcp_enabled"`
}

func (h *Handlers) handleTools(ctx context.Context, input *struct{}) (*struct{ Body ToolsResponse }, error) {
	if h.Agent == nil {
		return nil, huma.Error503ServiceUnavailable("Agent not initialized")
	}

	agentTools := h.Agent.Tools()
	infos := make([]ToolInfo, 0, len(agentTools))
	for _, t := range agentTools {
		infos = append(infos, ToolInfo{Name: t.Name(), Description: t.Description()})
	}
	return &struct{ Body ToolsResponse }{Body: ToolsResponse{
		Tools:      infos,
		Count:      len(infos),
		MCPEnabled: h.Agent.MCPEnabled(),
	}}, nil
}

// Register wires all agent operations into the API.
func (h *Handlers) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "root",
		Method:      http.MethodGet,
		Path:        "/",
		Summary:     "Liveness check",
		Tags:        []string{"health"},
	}, h.handleRoot)

	huma.Register(api, huma.Operation{
		OperationID: "agent-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Detailed agent health",
		Tags:        []string{"health"},
	}, h.handleHealth)

	huma.Register(api, huma.Operation{
		OperationID: "query",
		Method:      http.MethodPost,
		Path:        "/query",
		Summary:     "Run a query through the Elasticsearch agent",
		Tags:        []string{"queries"},
	}, h.handleQuery)

	huma.Register(api, huma.Operation{
		OperationID: "query-async",
		Method:      http.MethodPost,
		Path:        "/query-async",
		Summary:     "Run a query on the worker pool",
		Tags:        []string{"queries"},
	}, h.handleQueryAsync)

	huma.Register(api, huma.Operation{
		OperationID: "list-tools",
		Method:      http.MethodGet,
		Path:        "/tools",
		Summary:     "List the agent's available tools",
		Tags:        []string{"tools"},
	}, h.handleTools)
}
