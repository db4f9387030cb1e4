// Package config loads the agent service configuration from the environment.
package config

import (
	"log"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the agent service configuration.
// See .env.example for more documentation.
type Config struct {
	ServerAddress string `env:"AGENT_SERVER_ADDRESS" envDefault:":8000"`
	Version       string `env:"VERSION" envDefault:"dev"`

	// MCP server the agent pulls Elasticsearch tools from.
	MCPURL string `env:"MCP_URL" envDefault:"http://elastic-mcp-server:8080/mcp"`

	// Encoded Elasticsearch API key sent as "Authorization: ApiKey <key>" to
	// the MCP server and the mapping endpoint. Empty means unauthenticated.
	ESEncodedKey string `env:"ES_ENCODED_KEY" envDefault:""`

	// Elasticsearch base URL for the index mapping tool.
	ESEndpoint string `env:"ES_ENDPOINT" envDefault:"http://localhost:9200"`

	// Anthropic Messages API credentials and model selection.
	AnthropicAPIKey string  `env:"ANTHROPIC_API_KEY" envDefault:""`
	Model           string  `env:"AGENT_MODEL" envDefault:"claude-haiku-4-5"`
	Temperature     float64 `env:"AGENT_TEMPERATURE" envDefault:"0.3"`

	// Tool loop bound before the agent gives up on a query.
	MaxIterations int `env:"AGENT_MAX_ITERATIONS" envDefault:"10"`

	// Optional YAML file overriding the denied tool names.
	AgentConfigPath string `env:"AGENT_CONFIG" envDefault:"agent.yaml"`

	// Number of workers serving offloaded queries.
	QueryWorkers int `env:"AGENT_QUERY_WORKERS" envDefault:"4"`

	Verbose bool `env:"VERBOSE" envDefault:"false"`
}

// NewConfig loads configuration from the environment, with .env support.
func NewConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env file: %v", err)
	}
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "SEARCHSTACK_"}); err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return &cfg
}
