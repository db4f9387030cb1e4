package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/searchstack-dev/searchstack/internal/agent/api"
	"github.com/searchstack-dev/searchstack/internal/agent/config"
	"github.com/searchstack-dev/searchstack/internal/agent/llm"
	"github.com/searchstack-dev/searchstack/internal/agent/tools"
	"github.com/searchstack-dev/searchstack/internal/telemetry"
	"github.com/searchstack-dev/searchstack/internal/version"
)

// BuildToolset connects to the MCP server and assembles the agent's tools:
// the denylist-filtered MCP tools plus the custom mapping tool. An
// unreachable MCP server degrades to the mapping tool only.
func BuildToolset(ctx context.Context, cfg *config.Config) ([]tools.Tool, *tools.MCPToolset, error) {
	denied, err := tools.LoadDenylist(cfg.AgentConfigPath)
	if err != nil {
		return nil, nil, err
	}

	var toolset []tools.Tool
	mcpToolset, err := tools.ConnectMCP(ctx, cfg.MCPURL, cfg.ESEncodedKey)
	if err != nil {
		log.Printf("MCP client not available: %v", err)
		log.Printf("Continuing without MCP tools...")
		mcpToolset = nil
	} else {
		mcpTools := mcpToolset.Tools()
		filtered := tools.FilterDenied(mcpTools, denied)
		log.Printf("Found %d MCP tools, filtered out %d denied tools", len(mcpTools), len(mcpTools)-len(filtered))
		toolset = append(toolset, filtered...)
	}

	toolset = append(toolset, tools.NewMappingTool(cfg.ESEndpoint, cfg.ESEncodedKey))
	log.Printf("Available tools: %d total", len(toolset))
	return toolset, mcpToolset, nil
}

// Initialize builds the singleton agent from configuration. The returned
// toolset owner must be closed on shutdown when non-nil.
func Initialize(ctx context.Context, cfg *config.Config) (*Agent, *tools.MCPToolset, error) {
	model, err := llm.NewAnthropicClient(cfg.AnthropicAPIKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create model client: %w", err)
	}

	toolset, mcpToolset, err := BuildToolset(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	a := New(model, toolset, Options{
		ModelID:            cfg.Model,
		DefaultTemperature: cfg.Temperature,
		MaxIterations:      cfg.MaxIterations,
		MCPEnabled:         mcpToolset != nil,
		Verbose:            cfg.Verbose,
	})
	log.Println("Agent initialized successfully")
	return a, mcpToolset, nil
}

// App runs the agent service until an interrupt arrives.
func App(ctx context.Context) error {
	cfg := config.NewConfig()

	log.Printf("Starting searchstack agent %s (commit: %s)", version.Version, version.GitCommit)

	shutdownTelemetry, metrics, err := telemetry.InitMetrics(cfg.Version)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %v", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Printf("Failed to shutdown telemetry: %v", err)
		}
	}()

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a, mcpToolset, err := Initialize(initCtx, cfg)
	cancel()
	if err != nil {
		log.Printf("Failed to initialize agent: %v", err)
		a = nil
	}
	if mcpToolset != nil {
		defer func() {
			if err := mcpToolset.Close(); err != nil {
				log.Printf("Error closing MCP client: %v", err)
			}
		}()
	}

	pool := api.NewPool(cfg.QueryWorkers)
	defer pool.Close()

	var querier api.Querier
	if a != nil {
		querier = a
	}
	handlers := api.NewHandlers(querier, pool)
	server := api.NewServer(cfg, handlers, metrics)

	// Start server in a goroutine so it doesn't block signal handling.
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Failed to start server: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()

	if err := server.Shutdown(sctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting")
	return nil
}
