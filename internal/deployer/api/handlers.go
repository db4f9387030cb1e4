package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/searchstack-dev/searchstack/internal/deployer/compose"
	"github.com/searchstack-dev/searchstack/internal/deployer/config"
	"github.com/searchstack-dev/searchstack/internal/deployer/ports"
	"github.com/searchstack-dev/searchstack/internal/deployer/store"
	"github.com/searchstack-dev/searchstack/internal/netutil"
	"github.com/searchstack-dev/searchstack/pkg/models"
)

// Runner drives the compose lifecycle for one deployment.
type Runner interface {
	Deploy(ctx context.Context, rec *models.Deployment) error
	Stop(ctx context.Context, id string) (string, error)
	Logs(ctx context.Context, id string, tail int) (string, error)
	GenerateAPIKey(ctx context.Context, id string) (string, bool, error)
}

// Handlers wires the deployment endpoints to the store and orchestrator.
type Handlers struct {
	Config    *config.Config
	Store     *store.Store
	Runner    Runner
	Generator *compose.Generator

	// HostIP resolves the externally reachable address used in endpoint URLs.
	HostIP func() string

	// PollInterval is how often wait loops re-check deployment status.
	PollInterval time.Duration
}

// NewHandlers builds the endpoint handlers with production defaults.
func NewHandlers(cfg *config.Config, s *store.Store, runner Runner) *Handlers {
	return &Handlers{
		Config:       cfg,
		Store:        s,
		Runner:       runner,
		Generator:    compose.NewGenerator(cfg.ComposeTemplate, cfg.ComposeDir),
		HostIP:       netutil.HostIP,
		PollInterval: 2 * time.Second,
	}
}

// PortsSpec is the optional caller-provided port assignment. Either all of
// elasticsearch, mcp and ai_agent ports are given, or ports are allocated
// automatically.
type PortsSpec struct {
	Elasticsearch          int `json:"elasticsearch_port,omitempty" doc:"Host port for Elasticsearch HTTP"`
	ElasticsearchTransport int `json:"elasticsearch_transport_port,omitempty" doc:"Host port for Elasticsearch transport, defaults to elasticsearch_port+100"`
	MCPServer              int `json:"mcp_port,omitempty" doc:"Host port for the MCP server"`
	AIAgent                int `json:"ai_agent_port,omitempty" doc:"Host port for the agent API"`
}

// DeployRequest is the POST /deploy body.
type DeployRequest struct {
	Ports   *PortsSpec `json:"ports,omitempty"`
	Timeout int        `json:"timeout,omitempty" minimum:"1" doc:"Seconds to wait for services to become healthy (sync deploy only, default 300)"`
}

// DeployResponse reports a started or completed deployment.
type DeployResponse struct {
	Message        string                  `json:"message"`
	InstanceID     string                  `json:"instance_id"`
	Ports          models.Ports            `json:"ports"`
	Endpoints      models.Endpoints        `json:"endpoints"`
	Status         models.DeploymentStatus `json:"status"`
	ServicesHealth models.ServicesHealth   `json:"services_health,omitempty"`
	APIKey         string                  `json:"elasticsearch_api_key,omitempty"`
	EncodedKey     string                  `json:"elasticsearch_encoded_key,omitempty"`
	DeploymentTime float64                 `json:"deployment_time,omitempty" doc:"Seconds spent waiting"`
	TimeoutReached bool                    `json:"timeout_reached,omitempty"`
	Note           string                  `json:"note,omitempty"`
}

// DeployOutput wraps DeployResponse with a dynamic status code: 201 when the
// stack became healthy, 202 when it is still starting at the sync timeout.
type DeployOutput struct {
	Status int
	Body   DeployResponse
}

// prepare allocates ports, renders the compose file and registers the record.
func (h *Handlers) prepare(spec *PortsSpec) (*models.Deployment, error) {
	id := store.NewInstanceID()

	var p models.Ports
	if spec != nil && spec.Elasticsearch != 0 && spec.MCPServer != 0 && spec.AIAgent != 0 {
		p = models.Ports{
			Elasticsearch:          spec.Elasticsearch,
			ElasticsearchTransport: spec.ElasticsearchTransport,
			MCPServer:              spec.MCPServer,
			AIAgent:                spec.AIAgent,
		}
		if p.ElasticsearchTransport == 0 {
			p.ElasticsearchTransport = p.Elasticsearch + 100
		}
		for _, port := range p.List() {
			if !ports.IsAvailable(port) {
				return nil, huma.Error400BadRequest(fmt.Sprintf("Port %d is not available", port))
			}
		}
	} else {
		found, err := ports.Find(h.Config.PortScanStart, 4)
		if err != nil {
			return nil, huma.Error503ServiceUnavailable("no free ports available", err)
		}
		p = models.Ports{
			Elasticsearch:          found[0],
			ElasticsearchTransport: found[1],
			MCPServer:              found[2],
			AIAgent:                found[3],
		}
	}

	composeFile, err := h.Generator.Generate(id, p)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to create compose file", err)
	}

	host := h.HostIP()
	rec := &models.Deployment{
		InstanceID:  id,
		Ports:       p,
		ComposeFile: composeFile,
		Endpoints: models.Endpoints{
			Elasticsearch: fmt.Sprintf("http://%s:%d", host, p.Elasticsearch),
			MCPServer:     fmt.Sprintf("http://%s:%d", host, p.MCPServer),
			AIAgent:       fmt.Sprintf("http://%s:%d", host, p.AIAgent),
		},
	}
	h.Store.Create(rec)
	return rec, nil
}

// discard removes a deployment record and its compose file after a failed
// synchronous deploy.
func (h *Handlers) discard(rec *models.Deployment) {
	if err := h.Store.Delete(rec.InstanceID); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("Failed to remove deployment record %s: %v", rec.InstanceID, err)
	}
	if err := os.Remove(rec.ComposeFile); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to remove compose file %s: %v", rec.ComposeFile, err)
	}
}

func (h *Handlers) handleDeploy(ctx context.Context, input *struct {
	Body *DeployRequest
}) (*DeployOutput, error) {
	var req DeployRequest
	if input.Body != nil {
		req = *input.Body
	}

	rec, err := h.prepare(req.Ports)
	if err != nil {
		return nil, err
	}

	if err := h.Runner.Deploy(ctx, rec); err != nil {
		h.discard(rec)
		return nil, huma.Error500InternalServerError(
			fmt.Sprintf("Deployment %s failed", rec.InstanceID), err)
	}

	timeout := time.Duration(req.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	start := time.Now()
	deadline := start.Add(timeout)
	for time.Now().Before(deadline) {
		cur, err := h.Store.Get(rec.InstanceID)
		if err != nil {
			return nil, huma.Error500InternalServerError(
				fmt.Sprintf("Deployment %s was removed during health check", rec.InstanceID))
		}

		switch cur.Status {
		case models.StatusRunning:
			return &DeployOutput{
				Status: http.StatusCreated,
				Body: DeployResponse{
					Message:        "Deployment completed successfully",
					InstanceID:     cur.InstanceID,
					Ports:          cur.Ports,
					Endpoints:      cur.Endpoints,
					Status:         cur.Status,
					ServicesHealth: cur.ServicesHealth,
					APIKey:         cur.APIKey,
					EncodedKey:     cur.EncodedKey,
					DeploymentTime: time.Since(start).Seconds(),
				},
			}, nil
		case models.StatusFailed:
			h.discard(cur)
			return nil, huma.Error500InternalServerError(
				fmt.Sprintf("Deployment %s failed during health check: %s", cur.InstanceID, cur.Error))
		}

		select {
		case <-ctx.Done():
			return nil, huma.Error500InternalServerError("request cancelled", ctx.Err())
		case <-time.After(h.PollInterval):
		}
	}

	cur, err := h.Store.Get(rec.InstanceID)
	if err != nil {
		return nil, huma.Error500InternalServerError(
			fmt.Sprintf("Deployment %s was removed during health check", rec.InstanceID))
	}
	return &DeployOutput{
		Status: http.StatusAccepted,
		Body: DeployResponse{
			Message:        "Deployment started but did not complete within timeout",
			InstanceID:     cur.InstanceID,
			Ports:          cur.Ports,
			Endpoints:      cur.Endpoints,
			Status:         cur.Status,
			TimeoutReached: true,
			DeploymentTime: timeout.Seconds(),
			Note:           "Deployment continues in background. Use /deployments/{id} to check status.",
		},
	}, nil
}

func (h *Handlers) handleDeployAsync(ctx context.Context, input *struct {
	Body *DeployRequest
}) (*DeployOutput, error) {
	var req DeployRequest
	if input.Body != nil {
		req = *input.Body
	}

	rec, err := h.prepare(req.Ports)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := h.Runner.Deploy(context.Background(), rec); err != nil {
			log.Printf("Deployment failed for %s: %v", rec.InstanceID, err)
		}
	}()

	return &DeployOutput{
		Status: http.StatusCreated,
		Body: DeployResponse{
			Message:    "Deployment started successfully",
			InstanceID: rec.InstanceID,
			Ports:      rec.Ports,
			Endpoints:  rec.Endpoints,
			Status:     models.StatusDeploying,
		},
	}, nil
}

// ListResponse is the GET /deployments body.
type ListResponse struct {
	Deployments []*models.Deployment `json:"deployments"`
	Count       int                  `json:"count"`
}

func (h *Handlers) handleList(ctx context.Context, input *struct{}) (*struct{ Body ListResponse }, error) {
	deployments := h.Store.List()
	return &struct{ Body ListResponse }{Body: ListResponse{
		Deployments: deployments,
		Count:       len(deployments),
	}}, nil
}

type instanceInput struct {
	InstanceID string `path:"instance_id" doc:"Deployment instance id"`
}

func (h *Handlers) handleGet(ctx context.Context, input *instanceInput) (*struct{ Body *models.Deployment }, error) {
	rec, err := h.Store.Get(input.InstanceID)
	if err != nil {
		return nil, huma.Error404NotFound("Deployment not found")
	}
	return &struct{ Body *models.Deployment }{Body: rec}, nil
}

// StopResponse reports a stopped deployment.
type StopResponse struct {
	Message      string `json:"message"`
	InstanceID   string `json:"instance_id"`
	DockerOutput string `json:"docker_output,omitempty"`
}

func (h *Handlers) handleStop(ctx context.Context, input *instanceInput) (*struct{ Body StopResponse }, error) {
	output, err := h.Runner.Stop(ctx, input.InstanceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, huma.Error404NotFound("Deployment not found")
		}
		return nil, huma.Error500InternalServerError(
			fmt.Sprintf("Failed to stop deployment %s", input.InstanceID), err)
	}
	return &struct{ Body StopResponse }{Body: StopResponse{
		Message:      "Deployment stopped successfully",
		InstanceID:   input.InstanceID,
		DockerOutput: output,
	}}, nil
}

type logsInput struct {
	InstanceID string `path:"instance_id" doc:"Deployment instance id"`
	Tail       int    `query:"tail" default:"100" minimum:"1" doc:"Number of trailing log lines per service"`
}

// LogsResponse carries the combined compose logs of one deployment.
type LogsResponse struct {
	InstanceID string `json:"instance_id"`
	Logs       string `json:"logs"`
}

func (h *Handlers) handleLogs(ctx context.Context, input *logsInput) (*struct{ Body LogsResponse }, error) {
	logs, err := h.Runner.Logs(ctx, input.InstanceID, input.Tail)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, huma.Error404NotFound("Deployment not found")
		}
		return nil, huma.Error500InternalServerError(
			fmt.Sprintf("Failed to get logs for %s", input.InstanceID), err)
	}
	return &struct{ Body LogsResponse }{Body: LogsResponse{
		InstanceID: input.InstanceID,
		Logs:       logs,
	}}, nil
}

type waitInput struct {
	InstanceID string `path:"instance_id" doc:"Deployment instance id"`
	Timeout    int    `query:"timeout" default:"300" minimum:"1" doc:"Seconds to wait before giving up"`
}

// WaitResponse reports readiness, or the in-flight status when the wait
// timed out.
type WaitResponse struct {
	InstanceID     string                  `json:"instance_id"`
	Status         string                  `json:"status" doc:"ready or timeout"`
	Message        string                  `json:"message"`
	Endpoints      *models.Endpoints       `json:"endpoints,omitempty"`
	ServicesHealth models.ServicesHealth   `json:"services_health,omitempty"`
	APIKey         string                  `json:"elasticsearch_api_key,omitempty"`
	CurrentStatus  models.DeploymentStatus `json:"current_status,omitempty"`
	WaitTime       float64                 `json:"wait_time"`
}

// WaitOutput wraps WaitResponse with a dynamic status code: 200 when ready,
// 408 when the caller timeout elapsed first.
type WaitOutput struct {
	Status int
	Body   WaitResponse
}

func (h *Handlers) handleWait(ctx context.Context, input *waitInput) (*WaitOutput, error) {
	if _, err := h.Store.Get(input.InstanceID); err != nil {
		return nil, huma.Error404NotFound("Deployment not found")
	}

	timeout := time.Duration(input.Timeout) * time.Second
	start := time.Now()
	deadline := start.Add(timeout)

	for time.Now().Before(deadline) {
		rec, err := h.Store.Get(input.InstanceID)
		if err != nil {
			return nil, huma.Error404NotFound("Deployment was removed while waiting")
		}

		switch rec.Status {
		case models.StatusRunning:
			endpoints := rec.Endpoints
			return &WaitOutput{
				Status: http.StatusOK,
				Body: WaitResponse{
					InstanceID:     rec.InstanceID,
					Status:         "ready",
					Message:        "All services are running and healthy",
					Endpoints:      &endpoints,
					ServicesHealth: rec.ServicesHealth,
					APIKey:         rec.APIKey,
					WaitTime:       time.Since(start).Seconds(),
				},
			}, nil
		case models.StatusFailed:
			return nil, huma.Error500InternalServerError(
				fmt.Sprintf("Deployment %s failed: %s", rec.InstanceID, rec.Error))
		}

		select {
		case <-ctx.Done():
			return nil, huma.Error500InternalServerError("request cancelled", ctx.Err())
		case <-time.After(h.PollInterval):
		}
	}

	rec, err := h.Store.Get(input.InstanceID)
	if err != nil {
		return nil, huma.Error404NotFound("Deployment was removed while waiting")
	}
	return &WaitOutput{
		Status: http.StatusRequestTimeout,
		Body: WaitResponse{
			InstanceID:    rec.InstanceID,
			Status:        "timeout",
			Message:       fmt.Sprintf("Deployment did not complete within %d seconds", input.Timeout),
			CurrentStatus: rec.Status,
			WaitTime:      timeout.Seconds(),
		},
	}, nil
}

// APIKeyResponse reports a manually generated Elasticsearch API key.
type APIKeyResponse struct {
	InstanceID string `json:"instance_id"`
	Message    string `json:"message"`
	APIKey     string `json:"api_key,omitempty"`
	MCPUpdated bool   `json:"mcp_updated"`
}

func (h *Handlers) handleGenerateAPIKey(ctx context.Context, input *instanceInput) (*struct{ Body APIKeyResponse }, error) {
	apiKey, mcpUpdated, err := h.Runner.GenerateAPIKey(ctx, input.InstanceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, huma.Error404NotFound("Deployment not found")
		}
		return nil, huma.Error500InternalServerError(
			fmt.Sprintf("Failed to generate API key for %s", input.InstanceID), err)
	}
	return &struct{ Body APIKeyResponse }{Body: APIKeyResponse{
		InstanceID: input.InstanceID,
		Message:    "API key generated successfully",
		APIKey:     apiKey,
		MCPUpdated: mcpUpdated,
	}}, nil
}

// HealthResponse is the service health body.
type HealthResponse struct {
	Status            string `json:"status"`
	ActiveDeployments int    `json:"active_deployments"`
	Timestamp         string `json:"timestamp"`
}

func (h *Handlers) handleHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthResponse }, error) {
	return &struct{ Body HealthResponse }{Body: HealthResponse{
		Status:            "healthy",
		ActiveDeployments: h.Store.Count(),
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}}, nil
}

// Register wires all deployer operations into the API.
func (h *Handlers) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "deploy",
		Method:        http.MethodPost,
		Path:          "/deploy",
		Summary:       "Deploy a new stack instance and wait for it to become healthy",
		Tags:          []string{"deployments"},
		DefaultStatus: http.StatusCreated,
	}, h.handleDeploy)

	huma.Register(api, huma.Operation{
		OperationID:   "deploy-async",
		Method:        http.MethodPost,
		Path:          "/deploy-async",
		Summary:       "Deploy a new stack instance in the background",
		Tags:          []string{"deployments"},
		DefaultStatus: http.StatusCreated,
	}, h.handleDeployAsync)

	huma.Register(api, huma.Operation{
		OperationID: "list-deployments",
		Method:      http.MethodGet,
		Path:        "/deployments",
		Summary:     "List all active deployments",
		Tags:        []string{"deployments"},
	}, h.handleList)

	huma.Register(api, huma.Operation{
		OperationID: "get-deployment",
		Method:      http.MethodGet,
		Path:        "/deployments/{instance_id}",
		Summary:     "Get one deployment record",
		Tags:        []string{"deployments"},
	}, h.handleGet)

	huma.Register(api, huma.Operation{
		OperationID: "stop-deployment",
		Method:      http.MethodPost,
		Path:        "/deployments/{instance_id}/stop",
		Summary:     "Stop a deployment and remove its compose file",
		Tags:        []string{"deployments"},
	}, h.handleStop)

	huma.Register(api, huma.Operation{
		OperationID: "deployment-logs",
		Method:      http.MethodGet,
		Path:        "/deployments/{instance_id}/logs",
		Summary:     "Get combined compose logs for a deployment",
		Tags:        []string{"deployments"},
	}, h.handleLogs)

	huma.Register(api, huma.Operation{
		OperationID: "wait-deployment",
		Method:      http.MethodGet,
		Path:        "/deployments/{instance_id}/wait",
		Summary:     "Block until a deployment is healthy or the timeout elapses",
		Tags:        []string{"deployments"},
	}, h.handleWait)

	huma.Register(api, huma.Operation{
		OperationID: "generate-api-key",
		Method:      http.MethodPost,
		Path:        "/deployments/{instance_id}/generate-api-key",
		Summary:     "Generate an Elasticsearch API key and restart dependent services",
		Tags:        []string{"deployments"},
	}, h.handleGenerateAPIKey)

	huma.Register(api, huma.Operation{
		OperationID: "deployer-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Service health",
		Tags:        []string{"health"},
	}, h.handleHealth)
}
