// Package dockercli wraps the docker and docker compose CLIs.
package dockercli

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"
)

// Executor runs docker CLI operations against a single compose file.
type Executor struct {
	Verbose     bool
	ComposeFile string

	composeCmd []string
}

// NewExecutor returns a configured executor for the given compose file.
func NewExecutor(verbose bool, composeFile string) *Executor {
	return &Executor{
		Verbose:     verbose,
		ComposeFile: composeFile,
		composeCmd:  ComposeCommand(),
	}
}

// CheckAvailability ensures the docker CLI and daemon are reachable.
func CheckAvailability() error {
	if _, err := exec.LookPath("docker"); err != nil {
		return fmt.Errorf("docker command not found in PATH. Please install Docker")
	}
	cmd := exec.Command("docker", "version", "--format", "{{.Server.Version}}")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker daemon is not running or not accessible. Please start Docker Desktop or the Docker daemon")
	}
	return nil
}

// ComposeCommand returns the docker compose invocation (docker compose vs docker-compose).
func ComposeCommand() []string {
	if _, err := exec.LookPath("docker"); err == nil {
		cmd := exec.Command("docker", "compose", "version")
		if err := cmd.Run(); err == nil {
			return []string{"docker", "compose"}
		}
	}
	return []string{"docker-compose"}
}

// compose runs a docker compose subcommand against the executor's compose
// file and returns the combined output. A non-zero exit wraps the captured
// output so callers can surface it.
func (e *Executor) compose(ctx context.Context, args ...string) (string, error) {
	full := append([]string{}, e.composeCmd[1:]...)
	full = append(full, "-f", e.ComposeFile)
	full = append(full, args...)

	if e.Verbose {
		log.Printf("Running: %s %s", e.composeCmd[0], strings.Join(full, " "))
	}

	cmd := exec.CommandContext(ctx, e.composeCmd[0], full...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%s %s: %w: %s",
			e.composeCmd[0], strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// Up starts the named services detached.
func (e *Executor) Up(ctx context.Context, services ...string) (string, error) {
	args := append([]string{"up", "-d"}, services...)
	return e.compose(ctx, args...)
}

// Restart restarts the named services.
func (e *Executor) Restart(ctx context.Context, services ...string) (string, error) {
	args := append([]string{"restart"}, services...)
	return e.compose(ctx, args...)
}

// Down tears the stack down, removing volumes.
func (e *Executor) Down(ctx context.Context) (string, error) {
	return e.compose(ctx, "down", "-v")
}

// Logs returns the tail of the stack's aggregated logs.
func (e *Executor) Logs(ctx context.Context, tail int) (string, error) {
	return e.compose(ctx, "logs", fmt.Sprintf("--tail=%d", tail))
}

// ContainerLogs returns the logs of a single container by name, outside of
// compose. Used to scrape the init container for generated credentials.
func ContainerLogs(ctx context.Context, containerName string) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", "logs", containerName)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("docker logs %s: %w: %s", containerName, err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}
