package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/hooks"
	"github.com/fyrsmithlabs/recalld/internal/supervisor"
	"github.com/fyrsmithlabs/recalld/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage the background analysis worker",
}

func init() {
	workerCmd.AddCommand(workerStartCmd)
	workerCmd.AddCommand(workerStopCmd)
	workerCmd.AddCommand(workerStatusCmd)
}

var workerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the worker if it is not already running",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		sup, err := newSupervisor(cfg, logger)
		if err != nil {
			return err
		}
		if err := sup.EnsureRunning(cmd.Context()); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		fmt.Printf("Worker running at %s\n", cfg.WorkerBaseURL())
		return nil
	},
}

var workerStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		sup, err := newSupervisor(cfg, logger)
		if err != nil {
			return err
		}
		if err := sup.Stop(cmd.Context()); err != nil {
			return fmt.Errorf("stop worker: %w", err)
		}
		fmt.Println("Worker stopped")
		return nil
	},
}

var workerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show worker health and log statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(cfg.WorkerBaseURL() + "/health")
		if err != nil {
			fmt.Printf("Worker: not running (%s)\n", cfg.WorkerBaseURL())
			return nil
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("worker returned status %d: %s", resp.StatusCode, string(body))
		}

		var health worker.Health
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			return fmt.Errorf("decode health response: %w", err)
		}

		fmt.Printf("Worker: %s (%s)\n", health.Status, cfg.WorkerBaseURL())
		fmt.Printf("Queue size: %d\n", health.QueueSize)
		fmt.Printf("Processing: %v\n", health.IsProcessing)
		fmt.Printf("Uptime: %.0fs\n", health.Uptime)
		if health.Stats != nil {
			fmt.Printf("Events: %d total, %d sessions, %d summaries, %d observations\n",
				health.Stats.Total, health.Stats.Sessions,
				health.Stats.Summaries, health.Stats.Observations)
		}
		return nil
	},
}

func newSupervisor(cfg *config.Config, logger *zap.Logger) (*supervisor.Supervisor, error) {
	return supervisor.New(supervisor.Config{
		BaseURL:     cfg.WorkerBaseURL(),
		PIDPath:     cfg.PIDPath(),
		Command:     hooks.WorkerBinary(),
		StartupWait: cfg.Worker.StartupWait.Duration(),
	}, logger)
}
