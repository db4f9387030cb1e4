package config

import (
	"log"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the deployer service configuration.
// See .env.example for more documentation.
type Config struct {
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:":9000"`
	Version       string `env:"VERSION" envDefault:"dev"`

	// Compose template and where instance files are written.
	ComposeTemplate string `env:"COMPOSE_TEMPLATE" envDefault:"docker-compose.template.yml"`
	ComposeDir      string `env:"COMPOSE_DIR" envDefault:"."`

	// Port scan window for automatic allocation.
	PortScanStart int `env:"PORT_SCAN_START" envDefault:"9000"`

	// Elasticsearch credentials used for health probes and API key generation.
	// Empty password disables authenticated calls.
	ESUsername string `env:"ES_USERNAME" envDefault:"elastic"`
	ESPassword string `env:"ES_PASSWORD" envDefault:""`

	// How long to poll the init container for generated credentials before
	// continuing without them.
	KeyWaitTimeout time.Duration `env:"KEY_WAIT_TIMEOUT" envDefault:"90s"`

	// Overall window for the post-start health polling pass.
	HealthWaitTimeout time.Duration `env:"HEALTH_WAIT_TIMEOUT" envDefault:"120s"`

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
