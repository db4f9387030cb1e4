package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/searchstack-dev/searchstack/internal/deployer"
	"github.com/searchstack-dev/searchstack/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "deployer-api",
		Short: "Search stack deployment service",
		Long:  `deployer-api launches per-instance Elasticsearch + MCP + agent compose stacks on dynamic ports and tracks their lifecycle over a REST API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return deployer.App(cmd.Context())
		},
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("deployer-api %s (commit: %s, built: %s)\n",
				version.Version, version.GitCommit, version.BuildDate)
		},
	})

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}
