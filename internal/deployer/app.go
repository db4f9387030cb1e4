// Package deployer wires the deployment service together.
package deployer

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

	"github.com/searchstack-dev/searchstack/internal/deployer/api"
	"github.com/searchstack-dev/searchstack/internal/deployer/config"
	"github.com/searchstack-dev/searchstack/internal/deployer/dockercli"
	"github.com/searchstack-dev/searchstack/internal/deployer/health"
	"github.com/searchstack-dev/searchstack/internal/deployer/orchestrator"
	"github.com/searchstack-dev/searchstack/internal/deployer/store"
	"github.com/searchstack-dev/searchstack/internal/telemetry"
	"github.com/searchstack-dev/searchstack/internal/version"
)

// App runs the deployer service until an interrupt arrives.
func App(_ context.Context) error {
	cfg := config.NewConfig()

	if err := dockercli.CheckAvailability(); err != nil {
		return fmt.Errorf("docker is required to run the deployer: %w", err)
	}
	if _, err := os.Stat(cfg.ComposeTemplate); err != nil {
		return fmt.Errorf("compose template %s not found: %w", cfg.ComposeTemplate, err)
	}

	log.Printf("Starting searchstack deployer %s (commit: %s)", version.Version, version.GitCommit)

	shutdownTelemetry, metrics, err := telemetry.InitMetrics(cfg.Version)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %v", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Printf("Failed to shutdown telemetry: %v", err)
		}
	}()

	deployments := store.New()
	monitor := health.NewMonitor(deployments, cfg.ESUsername, cfg.ESPassword, cfg.HealthWaitTimeout)
	orch := orchestrator.New(deployments, monitor, cfg.ESUsername, cfg.ESPassword, cfg.KeyWaitTimeout, cfg.Verbose)

	handlers := api.NewHandlers(cfg, deployments, orch)
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
