// Package main is the entry point for the docmeter binary.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for docmeter
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "docmeter",
		Short: "Metered document store service",
		Long: `docmeter serves documents from an in-memory document store and reports
the cost of every backend call as response headers, Prometheus series,
OpenTelemetry metrics and span events.`,
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			// Load .env file if present
			_ = godotenv.Load()
		},
	}

	rootCmd.AddCommand(newServeCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the data and admin HTTP servers",
		Example: `  docmeter serve --config docmeter.yaml
  docmeter serve --data-listen :8080 --otel-endpoint localhost:4317`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML); watched for backend limit changes")
	cmd.Flags().String("data-listen", "", "HTTP listen address for the document API")
	cmd.Flags().String("admin-listen", "", "HTTP listen address for /metrics and /healthz")
	cmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	cmd.Flags().String("otel-endpoint", "", "OTLP gRPC endpoint for traces")

	return cmd
}
