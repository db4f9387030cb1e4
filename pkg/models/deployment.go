package models

import "time"

// DeploymentStatus tracks the lifecycle of a compose stack instance.
type DeploymentStatus string

const (
	StatusDeploying         DeploymentStatus = "deploying"
	StatusServicesStarting  DeploymentStatus = "services_starting"
	StatusRunning           DeploymentStatus = "running"
	StatusPartiallyRunning  DeploymentStatus = "partially_running"
	StatusFailed            DeploymentStatus = "failed"
	StatusHealthCheckFailed DeploymentStatus = "health_check_failed"
)

// Terminal reports whether no further automatic transitions happen from s.
func (s DeploymentStatus) Terminal() bool {
	switch s {
	case StatusRunning, StatusPartiallyRunning, StatusFailed, StatusHealthCheckFailed:
		return true
	}
	return false
}

// Ports holds the four host ports assigned to one stack instance.
type Ports struct {
	Elasticsearch          int `json:"elasticsearch" doc:"Elasticsearch HTTP port"`
	ElasticsearchTransport int `json:"elasticsearch_transport" doc:"Elasticsearch transport port"`
	MCPServer              int `json:"mcp_server" doc:"MCP server port"`
	AIAgent                int `json:"ai_agent" doc:"Agent API port"`
}

// List returns the ports in allocation order.
func (p Ports) List() []int {
	return []int{p.Elasticsearch, p.ElasticsearchTransport, p.MCPServer, p.AIAgent}
}

// Endpoints holds the externally reachable base URLs for one stack instance.
type Endpoints struct {
	Elasticsearch string `json:"elasticsearch" doc:"Elasticsearch base URL"`
	MCPServer     string `json:"mcp_server" doc:"MCP server base URL"`
	AIAgent       string `json:"ai_agent" doc:"Agent API base URL"`
}

// ServicesHealth maps a service name to "healthy", "unhealthy" or "starting".
type ServicesHealth map[string]string

// Deployment is one deployed compose stack tracked by the deployer.
type Deployment struct {
	InstanceID      string           `json:"instance_id"`
	Ports           Ports            `json:"ports"`
	ComposeFile     string           `json:"compose_file"`
	Status          DeploymentStatus `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	Endpoints       Endpoints        `json:"endpoints"`
	APIKey          string           `json:"elasticsearch_api_key,omitempty"`
	EncodedKey      string           `json:"elasticsearch_encoded_key,omitempty"`
	ServicesHealth  ServicesHealth   `json:"services_health,omitempty"`
	Error           string           `json:"error,omitempty"`
	HealthError     string           `json:"health_error,omitempty"`
	DockerOutput    string           `json:"docker_output,omitempty"`
	APIKeyError     string           `json:"api_key_error,omitempty"`
	MCPKeyRestartOK bool             `json:"mcp_updated_with_api_key,omitempty"`
}
