package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MappingTool fetches Elasticsearch index mappings directly, replacing the
// denied MCP get_mappings tool.
type MappingTool struct {
	// Endpoint is the Elasticsearch base URL.
	Endpoint string
	// EncodedKey is sent as "Authorization: ApiKey <key>" when non-empty.
	EncodedKey string

	HTTPClient *http.Client
}

// NewMappingTool builds the mapping tool against the given Elasticsearch
// endpoint.
func NewMappingTool(endpoint, encodedKey string) *MappingTool {
	return &MappingTool{
		Endpoint:   strings.TrimSuffix(endpoint, "/"),
		EncodedKey: encodedKey,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *MappingTool) Name() string { return "get_elastic_index_mapping" }

func (t *MappingTool) Description() string {
	return "Get Elasticsearch index mapping for the specified index or all indices. Use '*' for all indices."
}

func (t *MappingTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"index_name": map[string]any{
				"type":        "string",
				"description": "Name of the index to get the mapping for. Use '*' for all indices.",
				"default":     "*",
			},
		},
	}
}

// Call fetches the mapping. HTTP and transport failures are reported in the
// returned text so the model can recover.
func (t *MappingTool) Call(ctx context.Context, args map[string]any) (string, error) {
	indexName := "*"
	if v, ok := args["index_name"].(string); ok && v != "" {
		indexName = v
	}

	url := fmt.Sprintf("%s/%s/_mapping", t.Endpoint, indexName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Sprintf("Failed to get Elasticsearch mapping: %v", err), nil
	}
	if t.EncodedKey != "" {
		req.Header.Set("Authorization", "ApiKey "+t.EncodedKey)
	}

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return fmt.Sprintf("Failed to get Elasticsearch mapping: %v", err), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Sprintf("Failed to get Elasticsearch mapping: %v", err), nil
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Error getting mapping for index '%s': %d - %s",
			indexName, resp.StatusCode, strings.TrimSpace(string(body))), nil
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		return string(body), nil
	}
	return pretty.String(), nil
}
