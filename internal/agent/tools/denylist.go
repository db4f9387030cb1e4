package tools

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultDenylist names MCP tools the agent never exposes to the model.
// These overlap with the custom mapping tool or misbehave against the
// bundled Elasticsearch MCP server.
func DefaultDenylist() []string {
	return []string{"get_mappings", "esql"}
}

type agentFile struct {
	DeniedTools []string `yaml:"denied_tools"`
}

// LoadDenylist reads the denied tool names from a YAML file. A missing file
// falls back to the default denylist; a malformed file is an error.
func LoadDenylist(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultDenylist(), nil
		}
		return nil, fmt.Errorf("failed to read agent config %s: %w", path, err)
	}

	var cfg agentFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse agent config %s: %w", path, err)
	}
	if cfg.DeniedTools == nil {
		return DefaultDenylist(), nil
	}
	return cfg.DeniedTools, nil
}

// FilterDenied drops tools whose normalized name appears in the denylist.
func FilterDenied(ts []Tool, denied []string) []Tool {
	deny := make(map[string]bool, len(denied))
	for _, name := range denied {
		deny[normalizeName(name)] = true
	}

	var kept []Tool
	for _, t := range ts {
		if deny[normalizeName(t.Name())] {
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
