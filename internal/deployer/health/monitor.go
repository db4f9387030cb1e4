// Package health polls a deployed stack's service endpoints and aggregates
// the results into a deployment status.
package health

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/searchstack-dev/searchstack/internal/deployer/store"
	"github.com/searchstack-dev/searchstack/pkg/models"
)

// mcpMarker must appear in the MCP server's root response body for the
// probe to count as healthy.
const mcpMarker = "Elasticsearch MCP server"

// Monitor runs one bounded health polling pass per deployment.
type Monitor struct {
	Store *store.Store

	// Host the probes connect to. Defaults to localhost.
	Host string

	// Basic auth for the Elasticsearch cluster health probe. Empty
	// password sends unauthenticated requests.
	ESUsername string
	ESPassword string

	// PollInterval and WaitTimeout bound the polling pass; ProbeTimeout
	// bounds each individual request.
	PollInterval time.Duration
	WaitTimeout  time.Duration
	ProbeTimeout time.Duration

	client *http.Client
}

// NewMonitor returns a monitor with the usual probe timings.
func NewMonitor(s *store.Store, esUser, esPassword string, waitTimeout time.Duration) *Monitor {
	m := &Monitor{
		Store:        s,
		Host:         "localhost",
		ESUsername:   esUser,
		ESPassword:   esPassword,
		PollInterval: 2 * time.Second,
		WaitTimeout:  waitTimeout,
		ProbeTimeout: 5 * time.Second,
	}
	m.client = &http.Client{Timeout: m.ProbeTimeout}
	return m
}

// Watch spawns the polling pass for one deployment in the background.
func (m *Monitor) Watch(instanceID string) {
	go m.run(instanceID)
}

// run polls the three service endpoints until all are healthy or the window
// closes, then writes the aggregate status. It runs once; the recorded
// status is not refreshed afterwards.
func (m *Monitor) run(instanceID string) {
	rec, err := m.Store.Get(instanceID)
	if err != nil {
		return
	}

	var esHealthy, mcpHealthy, aiHealthy bool
	deadline := time.Now().Add(m.WaitTimeout)
	for {
		esHealthy = m.probeElasticsearch(rec.Ports.Elasticsearch)
		mcpHealthy = m.probeMCP(rec.Ports.MCPServer)
		aiHealthy = m.probeAgent(rec.Ports.AIAgent)

		if esHealthy && mcpHealthy && aiHealthy {
			break
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(m.PollInterval)
		// Stopped while we were polling.
		if _, err := m.Store.Get(instanceID); err != nil {
			return
		}
	}

	status, healthMap := Aggregate(esHealthy, mcpHealthy, aiHealthy)

	healthErr := ""
	if status == models.StatusHealthCheckFailed {
		healthErr = fmt.Sprintf("no service responded within %s", m.WaitTimeout)
	}
	if err := m.Store.SetHealth(instanceID, status, healthMap, healthErr); err != nil {
		log.Printf("health check for %s: %v", instanceID, err)
		return
	}
	log.Printf("health check for %s completed: %s", instanceID, status)
}

// Aggregate maps the three probe outcomes to a composite deployment status
// and per-service health map.
func Aggregate(esHealthy, mcpHealthy, aiHealthy bool) (models.DeploymentStatus, models.ServicesHealth) {
	switch {
	case esHealthy && mcpHealthy && aiHealthy:
		return models.StatusRunning, models.ServicesHealth{
			"elasticsearch": "healthy",
			"mcp_server":    "healthy",
			"ai_agent":      "healthy",
		}
	case esHealthy && mcpHealthy:
		return models.StatusPartiallyRunning, models.ServicesHealth{
			"elasticsearch": "healthy",
			"mcp_server":    "healthy",
			"ai_agent":      "starting",
		}
	case esHealthy || mcpHealthy || aiHealthy:
		return models.StatusPartiallyRunning, models.ServicesHealth{
			"elasticsearch": healthString(esHealthy),
			"mcp_server":    healthString(mcpHealthy),
			"ai_agent":      healthString(aiHealthy),
		}
	default:
		return models.StatusHealthCheckFailed, models.ServicesHealth{
			"elasticsearch": "unhealthy",
			"mcp_server":    "unhealthy",
			"ai_agent":      "unhealthy",
		}
	}
}

func healthString(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}

func (m *Monitor) probeElasticsearch(port int) bool {
	req, err := http.NewRequest(http.MethodGet,
		fmt.Sprintf("http://%s:%d/_cluster/health", m.Host, port), nil)
	if err != nil {
		return false
	}
	if m.ESPassword != "" {
		req.SetBasicAuth(m.ESUsername, m.ESPassword)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func (m *Monitor) probeMCP(port int) bool {
	resp, err := m.client.Get(fmt.Sprintf("http://%s:%d/", m.Host, port))
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false
	}
	return strings.Contains(string(body), mcpMarker)
}

func (m *Monitor) probeAgent(port int) bool {
	resp, err := m.client.Get(fmt.Sprintf("http://%s:%d/health", m.Host, port))
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}
