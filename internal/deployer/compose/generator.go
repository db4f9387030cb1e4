// Package compose renders per-instance docker compose files from a template.
package compose

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"

	"github.com/searchstack-dev/searchstack/pkg/models"
)

// Template placeholder tokens. Credential tokens are substituted later,
// once the init container has produced the keys.
const (
	TokenInstanceID   = "${INSTANCE_ID}"
	TokenESPort       = "${ELASTICSEARCH_PORT}"
	TokenESTransport  = "${ELASTICSEARCH_TRANSPORT_PORT}"
	TokenMCPPort      = "${MCP_PORT}"
	TokenAIAgentPort  = "${AI_AGENT_PORT}"
	TokenSubnetOctet  = "${SUBNET_OCTET}"
	TokenESAPIKey     = "${ES_API_KEY}"
	TokenESEncodedKey = "${ES_ENCODED_KEY}"
)

// Generator renders instance compose files into OutputDir.
type Generator struct {
	TemplatePath string
	OutputDir    string
}

// NewGenerator returns a generator reading TemplatePath and writing
// per-instance files into outputDir.
func NewGenerator(templatePath, outputDir string) *Generator {
	return &Generator{TemplatePath: templatePath, OutputDir: outputDir}
}

// SubnetOctet derives a stable 1..254 octet from the instance id so each
// stack gets its own compose network subnet.
func SubnetOctet(instanceID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(instanceID))
	return int(h.Sum32()%254) + 1
}

// Generate substitutes the instance id, ports and subnet octet into the
// template and writes docker-compose-<id>.yml. Tokens absent from the
// template are left untouched. Output is deterministic for equal inputs.
func (g *Generator) Generate(instanceID string, ports models.Ports) (string, error) {
	raw, err := os.ReadFile(g.TemplatePath)
	if err != nil {
		return "", fmt.Errorf("read compose template: %w", err)
	}

	content := string(raw)
	content = strings.ReplaceAll(content, TokenInstanceID, instanceID)
	content = strings.ReplaceAll(content, TokenESPort, strconv.Itoa(ports.Elasticsearch))
	content = strings.ReplaceAll(content, TokenESTransport, strconv.Itoa(ports.ElasticsearchTransport))
	content = strings.ReplaceAll(content, TokenMCPPort, strconv.Itoa(ports.MCPServer))
	content = strings.ReplaceAll(content, TokenAIAgentPort, strconv.Itoa(ports.AIAgent))
	content = strings.ReplaceAll(content, TokenSubnetOctet, strconv.Itoa(SubnetOctet(instanceID)))

	path := filepath.Join(g.OutputDir, fmt.Sprintf("docker-compose-%s.yml", instanceID))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("write compose file: %w", err)
	}
	return path, nil
}

// SetCredentials rewrites the credential placeholder tokens in an already
// generated compose file with the keys scraped from the init container.
func SetCredentials(path, apiKey, encodedKey string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read compose file: %w", err)
	}
	content := strings.ReplaceAll(string(raw), TokenESAPIKey, apiKey)
	content = strings.ReplaceAll(content, TokenESEncodedKey, encodedKey)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write compose file: %w", err)
	}
	return nil
}

// ServiceNames loads a generated compose file and returns its service names
// sorted. The load doubles as a structural sanity check before anything is
// handed to the docker CLI. Interpolation is skipped because credential
// tokens may still be unsubstituted at this point.
func ServiceNames(ctx context.Context, path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compose file: %w", err)
	}

	project, err := loader.LoadWithContext(ctx, types.ConfigDetails{
		WorkingDir: filepath.Dir(path),
		ConfigFiles: []types.ConfigFile{
			{Filename: path, Content: raw},
		},
		Environment: types.Mapping{},
	}, func(o *loader.Options) {
		o.SetProjectName("searchstack", true)
		o.SkipInterpolation = true
		o.SkipValidation = true
		o.SkipConsistencyCheck = true
	})
	if err != nil {
		return nil, fmt.Errorf("load compose file: %w", err)
	}

	names := project.ServiceNames()
	sort.Strings(names)
	return names, nil
}
