// Package orchestrator drives the staged startup, teardown and credential
// handling of per-instance compose stacks.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/searchstack-dev/searchstack/internal/deployer/compose"
	"github.com/searchstack-dev/searchstack/internal/deployer/dockercli"
	"github.com/searchstack-dev/searchstack/internal/deployer/health"
	"github.com/searchstack-dev/searchstack/internal/deployer/store"
	"github.com/searchstack-dev/searchstack/pkg/models"
)

// Log lines emitted by the init container once it has created the
// Elasticsearch credential pair.
const (
	apiKeyLogPrefix     = "Generated API Key: "
	encodedKeyLogPrefix = "Generated Encoded Key: "
)

// keyPollInterval is how often the init container logs are re-read while
// waiting for the credential lines to appear.
const keyPollInterval = 2 * time.Second

// Orchestrator sequences docker compose operations for one deployer process.
type Orchestrator struct {
	Store   *store.Store
	Monitor *health.Monitor

	ESUsername     string
	ESPassword     string
	KeyWaitTimeout time.Duration
	Verbose        bool

	// ContainerLogs is swappable for tests; defaults to the docker CLI.
	ContainerLogs func(ctx context.Context, name string) (string, error)

	httpClient *http.Client
}

// New returns an orchestrator wired to the given store and monitor.
func New(s *store.Store, m *health.Monitor, esUser, esPassword string, keyWait time.Duration, verbose bool) *Orchestrator {
	return &Orchestrator{
		Store:          s,
		Monitor:        m,
		ESUsername:     esUser,
		ESPassword:     esPassword,
		KeyWaitTimeout: keyWait,
		Verbose:        verbose,
		ContainerLogs:  dockercli.ContainerLogs,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
	}
}

func serviceElasticsearch(id string) string { return "elasticsearch-" + id }
func serviceESInit(id string) string        { return "elasticsearch-init-" + id }
func serviceMCP(id string) string           { return "mcp-server-" + id }
func serviceAgent(id string) string         { return "doc-agent-api-" + id }

// initContainerName is the container_name the template assigns to the init
// service; docker logs is addressed by container name, not service name.
func initContainerName(id string) string { return "search_ai_elasticsearch_init_" + id }

// Deploy runs the staged startup for an already registered deployment:
// Elasticsearch and its init container first, then, once the generated
// credentials are scraped from the init logs and substituted into the
// compose file, the MCP server and agent API. Failures are captured into
// the registry and returned.
func (o *Orchestrator) Deploy(ctx context.Context, rec *models.Deployment) error {
	id := rec.InstanceID
	exec := dockercli.NewExecutor(o.Verbose, rec.ComposeFile)

	// A structural check before handing anything to docker: the template
	// must have produced the four expected services.
	names, err := compose.ServiceNames(ctx, rec.ComposeFile)
	if err != nil {
		_ = o.Store.SetFailed(id, err.Error())
		return err
	}
	for _, want := range []string{serviceElasticsearch(id), serviceESInit(id), serviceMCP(id), serviceAgent(id)} {
		if !slices.Contains(names, want) {
			err := fmt.Errorf("compose file %s is missing service %s", rec.ComposeFile, want)
			_ = o.Store.SetFailed(id, err.Error())
			return err
		}
	}

	output, err := exec.Up(ctx, serviceElasticsearch(id), serviceESInit(id))
	if err != nil {
		_ = o.Store.SetFailed(id, err.Error())
		return err
	}

	apiKey, encodedKey, found := o.waitForGeneratedKeys(ctx, id)
	if found {
		if err := compose.SetCredentials(rec.ComposeFile, apiKey, encodedKey); err != nil {
			_ = o.Store.SetFailed(id, err.Error())
			return err
		}
		_ = o.Store.SetCredentials(id, apiKey, encodedKey)

		output, err = exec.Up(ctx, serviceMCP(id), serviceAgent(id))
		if err != nil {
			_ = o.Store.SetFailed(id, err.Error())
			return err
		}
		log.Printf("keys generated successfully for %s", id)
	} else {
		log.Printf("warning: no generated keys found for %s within %s; dependent services not started", id, o.KeyWaitTimeout)
	}

	o.Store.SetDockerOutput(id, output)
	if err := o.Store.UpdateStatus(id, models.StatusServicesStarting); err != nil {
		return err
	}
	o.Monitor.Watch(id)
	return nil
}

// waitForGeneratedKeys polls the init container logs until both credential
// lines appear or the window closes.
func (o *Orchestrator) waitForGeneratedKeys(ctx context.Context, id string) (apiKey, encodedKey string, found bool) {
	deadline := time.Now().Add(o.KeyWaitTimeout)
	for {
		logs, err := o.ContainerLogs(ctx, initContainerName(id))
		if err == nil {
			apiKey, encodedKey, found = ParseGeneratedKeys(logs)
			if found {
				return apiKey, encodedKey, true
			}
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return "", "", false
		}
		time.Sleep(keyPollInterval)
	}
}

// ParseGeneratedKeys extracts the credential pair from init container logs.
// Both lines must be present for the pair to count.
func ParseGeneratedKeys(logs string) (apiKey, encodedKey string, ok bool) {
	for _, line := range strings.Split(logs, "\n") {
		if idx := strings.Index(line, apiKeyLogPrefix); idx >= 0 {
			apiKey = strings.TrimSpace(line[idx+len(apiKeyLogPrefix):])
		} else if idx := strings.Index(line, encodedKeyLogPrefix); idx >= 0 {
			encodedKey = strings.TrimSpace(line[idx+len(encodedKeyLogPrefix):])
		}
	}
	return apiKey, encodedKey, apiKey != "" && encodedKey != ""
}

// Stop tears down a deployment, removes its compose file and drops the
// registry entry. A partially failed teardown leaves the record in place.
func (o *Orchestrator) Stop(ctx context.Context, id string) (string, error) {
	rec, err := o.Store.Get(id)
	if err != nil {
		return "", err
	}

	exec := dockercli.NewExecutor(o.Verbose, rec.ComposeFile)
	output, err := exec.Down(ctx)
	if err != nil {
		return output, err
	}

	if err := os.Remove(rec.ComposeFile); err != nil && !os.IsNotExist(err) {
		log.Printf("removing compose file for %s: %v", id, err)
	}
	if err := o.Store.Delete(id); err != nil {
		return output, err
	}
	return output, nil
}

// Logs returns the tail of the stack's aggregated compose logs.
func (o *Orchestrator) Logs(ctx context.Context, id string, tail int) (string, error) {
	rec, err := o.Store.Get(id)
	if err != nil {
		return "", err
	}
	exec := dockercli.NewExecutor(o.Verbose, rec.ComposeFile)
	return exec.Logs(ctx, tail)
}

// apiKeyRequest is the Elasticsearch _security/api_key payload.
type apiKeyRequest struct {
	Name            string         `json:"name"`
	Expiration      string         `json:"expiration"`
	RoleDescriptors map[string]any `json:"role_descriptors"`
}

// GenerateAPIKey asks the deployed Elasticsearch for a fresh API key, stores
// it on the record and restarts the dependent services so they pick it up.
func (o *Orchestrator) GenerateAPIKey(ctx context.Context, id string) (string, bool, error) {
	rec, err := o.Store.Get(id)
	if err != nil {
		return "", false, err
	}
	if o.ESPassword == "" {
		err := fmt.Errorf("elasticsearch password is not configured")
		o.Store.SetAPIKeyResult(id, "", err.Error(), false)
		return "", false, err
	}

	payload := apiKeyRequest{
		Name:       fmt.Sprintf("searchstack-agent-%s", id),
		Expiration: "30d",
		RoleDescriptors: map[string]any{
			"searchstack_agent_role": map[string]any{
				"cluster": []string{"all"},
				"index": []map[string]any{{
					"names":      []string{"*"},
					"privileges": []string{"read", "write"},
				}},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", false, err
	}

	url := fmt.Sprintf("http://%s:%d/_security/api_key", o.Monitor.Host, rec.Ports.Elasticsearch)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(o.ESUsername, o.ESPassword)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.Store.SetAPIKeyResult(id, "", err.Error(), false)
		return "", false, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, err
	}
	if resp.StatusCode != http.StatusOK {
		genErr := fmt.Errorf("failed to generate API key: %s", strings.TrimSpace(string(respBody)))
		o.Store.SetAPIKeyResult(id, "", genErr.Error(), false)
		return "", false, genErr
	}

	var keyResp struct {
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(respBody, &keyResp); err != nil {
		return "", false, fmt.Errorf("decode API key response: %w", err)
	}

	// Restart the consumers so they pick the key up from the shared file.
	exec := dockercli.NewExecutor(o.Verbose, rec.ComposeFile)
	_, restartErr := exec.Restart(ctx, serviceMCP(id), serviceAgent(id))
	restarted := restartErr == nil
	if restartErr != nil {
		log.Printf("failed to restart services for %s: %v", id, restartErr)
	}

	o.Store.SetAPIKeyResult(id, keyResp.APIKey, "", restarted)
	return keyResp.APIKey, restarted, nil
}
