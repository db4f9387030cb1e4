package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchstack-dev/searchstack/internal/deployer/api"
	"github.com/searchstack-dev/searchstack/internal/deployer/compose"
	"github.com/searchstack-dev/searchstack/internal/deployer/config"
	"github.com/searchstack-dev/searchstack/internal/deployer/store"
	"github.com/searchstack-dev/searchstack/pkg/models"
)

// fakeRunner stands in for the orchestrator. Deploy drives the record to
// finalStatus through the store so handler poll loops observe a realistic
// lifecycle.
type fakeRunner struct {
	store       *store.Store
	finalStatus models.DeploymentStatus
	deployErr   error
	deployed    chan string

	stopOutput string
	stopErr    error

	logsOutput string
	logsErr    error
	gotTail    int

	apiKey    string
	restarted bool
	keyErr    error
}

func (f *fakeRunner) Deploy(ctx context.Context, rec *models.Deployment) error {
	if f.deployed != nil {
		defer func() { f.deployed <- rec.InstanceID }()
	}
	if f.deployErr != nil {
		_ = f.store.SetFailed(rec.InstanceID, f.deployErr.Error())
		return f.deployErr
	}
	if f.finalStatus != "" {
		_ = f.store.UpdateStatus(rec.InstanceID, models.StatusServicesStarting)
		if f.finalStatus == models.StatusRunning {
			_ = f.store.SetHealth(rec.InstanceID, models.StatusRunning, models.ServicesHealth{
				"elasticsearch": "healthy",
				"mcp-server":    "healthy",
				"ai-agent":      "healthy",
			}, "")
		} else if f.finalStatus != models.StatusServicesStarting {
			_ = f.store.UpdateStatus(rec.InstanceID, f.finalStatus)
		}
	}
	return nil
}

func (f *fakeRunner) Stop(ctx context.Context, id string) (string, error) {
	if f.stopErr != nil {
		return "", f.stopErr
	}
	if _, err := f.store.Get(id); err != nil {
		return "", err
	}
	_ = f.store.Delete(id)
	return f.stopOutput, nil
}

func (f *fakeRunner) Logs(ctx context.Context, id string, tail int) (string, error) {
	f.gotTail = tail
	if f.logsErr != nil {
		return "", f.logsErr
	}
	if _, err := f.store.Get(id); err != nil {
		return "", err
	}
	return f.logsOutput, nil
}

func (f *fakeRunner) GenerateAPIKey(ctx context.Context, id string) (string, bool, error) {
	if f.keyErr != nil {
		return "", false, f.keyErr
	}
	if _, err := f.store.Get(id); err != nil {
		return "", false, err
	}
	return f.apiKey, f.restarted, nil
}

const testTemplate = `services:
  elasticsearch-${INSTANCE_ID}:
    image: docker.elastic.co/elasticsearch/elasticsearch:8.15.0
    ports:
      - "${ELASTICSEARCH_PORT}:9200"
      - "${ELASTICSEARCH_TRANSPORT_PORT}:9300"
  mcp-server-${INSTANCE_ID}:
    environment:
      - ES_API_KEY=${ES_API_KEY}
      - ES_ENCODED_KEY=${ES_ENCODED_KEY}
    ports:
      - "${MCP_PORT}:8080"
  doc-agent-api-${INSTANCE_ID}:
    ports:
      - "${AI_AGENT_PORT}:8000"
networks:
  default:
    ipam:
      config:
        - subnet: 172.${SUBNET_OCTET}.0.0/24
`

type testEnv struct {
	mux        *http.ServeMux
	store      *store.Store
	runner     *fakeRunner
	composeDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	templatePath := filepath.Join(dir, "docker-compose.template.yml")
	require.NoError(t, os.WriteFile(templatePath, []byte(testTemplate), 0644))

	cfg := &config.Config{
		ComposeTemplate: templatePath,
		ComposeDir:      dir,
		PortScanStart:   36000,
		Version:         "test",
	}
	s := store.New()
	runner := &fakeRunner{store: s, finalStatus: models.StatusRunning}

	h := api.NewHandlers(cfg, s, runner)
	h.Generator = compose.NewGenerator(templatePath, dir)
	h.HostIP = func() string { return "127.0.0.1" }
	h.PollInterval = 10 * time.Millisecond

	mux := http.NewServeMux()
	humaAPI := humago.New(mux, huma.DefaultConfig("test", "0.0.0"))
	h.Register(humaAPI)

	return &testEnv{mux: mux, store: s, runner: runner, composeDir: dir}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func freePorts(t *testing.T, n int) []int {
	t.Helper()
	found := make([]int, 0, n)
	listeners := make([]net.Listener, 0, n)
	for i := 0; i < n; i++ {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		listeners = append(listeners, l)
		found = append(found, l.Addr().(*net.TCPAddr).Port)
	}
	for _, l := range listeners {
		_ = l.Close()
	}
	return found
}

func TestDeploySyncSuccess(t *testing.T) {
	env := newTestEnv(t)
	p := freePorts(t, 3)
	body := fmt.Sprintf(`{"ports":{"elasticsearch_port":%d,"mcp_port":%d,"ai_agent_port":%d}}`, p[0], p[1], p[2])

	rec := env.do(t, http.MethodPost, "/deploy", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp api.DeployResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Deployment completed successfully", resp.Message)
	assert.NotEmpty(t, resp.InstanceID)
	assert.Equal(t, models.StatusRunning, resp.Status)
	assert.Equal(t, p[0], resp.Ports.Elasticsearch)
	assert.Equal(t, p[0]+100, resp.Ports.ElasticsearchTransport)
	assert.Equal(t, p[1], resp.Ports.MCPServer)
	assert.Equal(t, p[2], resp.Ports.AIAgent)
	assert.Equal(t, fmt.Sprintf("http://127.0.0.1:%d", p[0]), resp.Endpoints.Elasticsearch)
	assert.Equal(t, fmt.Sprintf("http://127.0.0.1:%d", p[1]), resp.Endpoints.MCPServer)
	assert.Equal(t, fmt.Sprintf("http://127.0.0.1:%d", p[2]), resp.Endpoints.AIAgent)
	assert.Equal(t, "healthy", resp.ServicesHealth["elasticsearch"])
	assert.Greater(t, resp.DeploymentTime, 0.0)

	composeFile := filepath.Join(env.composeDir, "docker-compose-"+resp.InstanceID+".yml")
	content, err := os.ReadFile(composeFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), fmt.Sprintf(`"%d:9200"`, p[0]))
}

func TestDeployAllocatesPortsWhenNoneGiven(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/deploy", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp api.DeployResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotZero(t, resp.Ports.Elasticsearch)
	assert.NotZero(t, resp.Ports.ElasticsearchTransport)
	assert.NotZero(t, resp.Ports.MCPServer)
	assert.NotZero(t, resp.Ports.AIAgent)
	assert.GreaterOrEqual(t, resp.Ports.Elasticsearch, 36000)
}

func TestDeployRejectsUnavailablePort(t *testing.T) {
	env := newTestEnv(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	held := l.Addr().(*net.TCPAddr).Port

	extra := freePorts(t, 2)
	body := fmt.Sprintf(`{"ports":{"elasticsearch_port":%d,"elasticsearch_transport_port":%d,"mcp_port":%d,"ai_agent_port":%d}}`,
		held, extra[0], extra[1], held)

	rec := env.do(t, http.MethodPost, "/deploy", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), fmt.Sprintf("Port %d is not available", held))
	assert.Zero(t, env.store.Count())
}

func TestDeploySyncFailureDiscardsRecord(t *testing.T) {
	env := newTestEnv(t)
	env.runner.deployErr = fmt.Errorf("docker compose up failed")

	rec := env.do(t, http.MethodPost, "/deploy", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, env.store.Count())

	entries, err := os.ReadDir(env.composeDir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasPrefix(entry.Name(), "docker-compose-"),
			"compose file %s should have been removed", entry.Name())
	}
}

func TestDeploySyncTimeout(t *testing.T) {
	env := newTestEnv(t)
	// Keep the record in services_starting so the poll loop never
	// observes a terminal state.
	env.runner.finalStatus = models.StatusServicesStarting

	rec := env.do(t, http.MethodPost, "/deploy", `{"timeout":1}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp api.DeployResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.TimeoutReached)
	assert.Equal(t, models.StatusServicesStarting, resp.Status)
	assert.NotEmpty(t, resp.Note)
	assert.Equal(t, 1, env.store.Count())
}

func TestDeployAsync(t *testing.T) {
	env := newTestEnv(t)
	env.runner.deployed = make(chan string, 1)

	rec := env.do(t, http.MethodPost, "/deploy-async", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp api.DeployResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Deployment started successfully", resp.Message)
	assert.Equal(t, models.StatusDeploying, resp.Status)

	select {
	case id := <-env.runner.deployed:
		assert.Equal(t, resp.InstanceID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("background deploy was never started")
	}
}

func TestGetDeployment(t *testing.T) {
	env := newTestEnv(t)
	env.store.Create(&models.Deployment{InstanceID: "abc12345"})

	rec := env.do(t, http.MethodGet, "/deployments/abc12345", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.Deployment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "abc12345", resp.InstanceID)
	assert.Equal(t, models.StatusDeploying, resp.Status)
}

func TestGetDeploymentNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/deployments/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Deployment not found")
}

func TestListDeployments(t *testing.T) {
	env := newTestEnv(t)
	env.store.Create(&models.Deployment{InstanceID: "abc12345"})
	env.store.Create(&models.Deployment{InstanceID: "def67890"})

	rec := env.do(t, http.MethodGet, "/deployments", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Len(t, resp.Deployments, 2)
}

func TestStopDeployment(t *testing.T) {
	env := newTestEnv(t)
	env.store.Create(&models.Deployment{InstanceID: "abc12345"})
	env.runner.stopOutput = "Stopping elasticsearch-abc12345 ... done"

	rec := env.do(t, http.MethodPost, "/deployments/abc12345/stop", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp api.StopResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Deployment stopped successfully", resp.Message)
	assert.Equal(t, "abc12345", resp.InstanceID)
	assert.NotEmpty(t, resp.DockerOutput)
	assert.Zero(t, env.store.Count())
}

func TestStopDeploymentNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/deployments/missing/stop", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeploymentLogs(t *testing.T) {
	env := newTestEnv(t)
	env.store.Create(&models.Deployment{InstanceID: "abc12345"})
	env.runner.logsOutput = "elasticsearch-abc12345  | started"

	rec := env.do(t, http.MethodGet, "/deployments/abc12345/logs", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp api.LogsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "abc12345", resp.InstanceID)
	assert.Contains(t, resp.Logs, "started")
	assert.Equal(t, 100, env.runner.gotTail)
}

func TestDeploymentLogsTailQuery(t *testing.T) {
	env := newTestEnv(t)
	env.store.Create(&models.Deployment{InstanceID: "abc12345"})

	rec := env.do(t, http.MethodGet, "/deployments/abc12345/logs?tail=25", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 25, env.runner.gotTail)
}

func TestWaitReady(t *testing.T) {
	env := newTestEnv(t)
	env.store.Create(&models.Deployment{
		InstanceID: "abc12345",
		Endpoints:  models.Endpoints{Elasticsearch: "http://127.0.0.1:9200"},
	})
	require.NoError(t, env.store.UpdateStatus("abc12345", models.StatusServicesStarting))
	require.NoError(t, env.store.UpdateStatus("abc12345", models.StatusRunning))

	rec := env.do(t, http.MethodGet, "/deployments/abc12345/wait?timeout=5", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp api.WaitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "abc12345", resp.InstanceID)
	require.NotNil(t, resp.Endpoints)
	assert.Equal(t, "http://127.0.0.1:9200", resp.Endpoints.Elasticsearch)
}

func TestWaitTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.store.Create(&models.Deployment{InstanceID: "abc12345"})

	rec := env.do(t, http.MethodGet, "/deployments/abc12345/wait?timeout=1", "")
	require.Equal(t, http.StatusRequestTimeout, rec.Code, rec.Body.String())

	var resp api.WaitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "timeout", resp.Status)
	assert.Equal(t, models.StatusDeploying, resp.CurrentStatus)
}

func TestWaitFailedDeployment(t *testing.T) {
	env := newTestEnv(t)
	env.store.Create(&models.Deployment{InstanceID: "abc12345"})
	require.NoError(t, env.store.SetFailed("abc12345", "container exited"))

	rec := env.do(t, http.MethodGet, "/deployments/abc12345/wait?timeout=5", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "container exited")
}

func TestWaitNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/deployments/missing/wait", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerateAPIKeyEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.store.Create(&models.Deployment{InstanceID: "abc12345"})
	env.runner.apiKey = "fresh-key"
	env.runner.restarted = true

	rec := env.do(t, http.MethodPost, "/deployments/abc12345/generate-api-key", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp api.APIKeyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "abc12345", resp.InstanceID)
	assert.Equal(t, "fresh-key", resp.APIKey)
	assert.True(t, resp.MCPUpdated)
}

func TestGenerateAPIKeyEndpointNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/deployments/missing/generate-api-key", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.store.Create(&models.Deployment{InstanceID: "abc12345"})

	rec := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 1, resp.ActiveDeployments)
	_, err := time.Parse(time.RFC3339, resp.Timestamp)
	assert.NoError(t, err)
}
