package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/searchstack-dev/searchstack/internal/agent"
	"github.com/searchstack-dev/searchstack/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agent-api",
		Short: "Elasticsearch AI agent service",
		Long:  `agent-api answers natural-language queries against Elasticsearch through an LLM agent with MCP tools.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return agent.App(cmd.Context())
		},
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agent-api %s (commit: %s, built: %s)\n",
				version.Version, version.GitCommit, version.BuildDate)
		},
	})

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}
