// Package main implements the recall CLI: hook entrypoints invoked by the
// host coding assistant, plus manual worker and graph operations.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/logging"
)

// version information (set via ldflags during build)
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Local memory layer for AI coding sessions",
	Long: `recall captures coding-session events, injects recalled context into
prompts, and manages the background analysis worker (recalld).

Hook subcommands are wired into the host assistant's lifecycle and read a
JSON payload from stdin. Worker and graph subcommands are for manual
operation.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(statsCmd)
}

// loadConfig loads configuration and a stderr logger for CLI use. Stdout
// stays clean for hook output the host consumes.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	return cfg, logger, nil
}
