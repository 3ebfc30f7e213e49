// Recalld is the background memory worker for an AI coding assistant.
//
// It serves a loopback HTTP surface for health checks, record browsing,
// and session-analysis submissions, and consumes a FIFO analysis queue
// that turns captured sessions into summaries, observations, and
// knowledge graph entries.
//
// Configuration is loaded from ~/.config/recalld/config.yaml and
// RECALLD_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the worker with defaults
//	recalld
//
//	# Configure via environment
//	RECALLD_WORKER_PORT=57777 RECALLD_LLM_API_KEY=... recalld
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/eventlog"
	"github.com/fyrsmithlabs/recalld/internal/graph"
	"github.com/fyrsmithlabs/recalld/internal/llm"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/server"
	"github.com/fyrsmithlabs/recalld/internal/session"
	"github.com/fyrsmithlabs/recalld/internal/supervisor"
	"github.com/fyrsmithlabs/recalld/internal/worker"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  recalld           Start the memory worker\n")
			fmt.Fprintf(os.Stderr, "  recalld version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Worker error: %v", err)
	}

	log.Println("Worker shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("recalld by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the worker and blocks until the context is cancelled or the
// worker's self-supervision decides to exit.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting recalld",
		zap.String("version", version),
		zap.Int("port", cfg.Worker.Port),
		zap.String("data_dir", cfg.DataDir))

	events, err := eventlog.NewStore(cfg.EventLogPath())
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	g, err := graph.NewStore(cfg.GraphPath())
	if err != nil {
		return fmt.Errorf("failed to open knowledge graph: %w", err)
	}
	sessions, err := session.NewManager(cfg.SessionDir())
	if err != nil {
		return fmt.Errorf("failed to prepare session directory: %w", err)
	}

	client, err := llm.NewClient(llm.Config{
		AuthToken:     cfg.LLM.AuthToken.Value(),
		APIKey:        cfg.LLM.APIKey.Value(),
		BaseURL:       cfg.LLM.BaseURL,
		Model:         cfg.LLM.Model,
		UseBearerAuth: cfg.LLM.UseBearerAuth,
		SkipTLSVerify: cfg.LLM.SkipTLSVerify,
		MaxTokens:     cfg.LLM.MaxTokens,
		Timeout:       cfg.LLM.Timeout.Duration(),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to configure llm client: %w", err)
	}
	if !client.Enabled() {
		logger.Warn("no llm credentials configured, analysis tasks will be dropped")
	}

	// A freshly spawned worker must not time out before the first hook
	// arrives.
	if err := supervisor.TouchHeartbeat(cfg.HeartbeatPath()); err != nil {
		logger.Warn("failed to seed heartbeat", zap.Error(err))
	}

	w, err := worker.New(events, g, sessions, client, worker.Config{
		ParentPID:         parentPID(),
		HeartbeatPath:     cfg.HeartbeatPath(),
		SuperviseInterval: cfg.Worker.SuperviseInterval.Duration(),
		IdleThreshold:     cfg.Worker.IdleThreshold.Duration(),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	srv, err := server.NewServer(w, events, logger, &server.Config{
		Host: cfg.Worker.Host,
		Port: cfg.Worker.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- w.Run(ctx)
	}()

	var runErr error
	select {
	case err := <-serverErr:
		runErr = fmt.Errorf("http server failed: %w", err)
	case err := <-workerDone:
		runErr = err
	case <-ctx.Done():
		runErr = <-workerDone // wait for the in-flight task
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}

	supervisor.RemovePIDFile(cfg.PIDPath())
	return runErr
}

// parentPID reads the spawning process recorded by the supervisor.
func parentPID() int {
	raw := os.Getenv("RECALLD_PARENT_PID")
	if raw == "" {
		return 0
	}
	pid, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return pid
}
