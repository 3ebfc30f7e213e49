// Package supervisor implements idempotent start/stop/health-check logic
// for the worker daemon. The HTTP health probe is the primary truth
// source; the PID file is only a fallback and cleanup aid.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

const (
	healthProbeTimeout = 1 * time.Second
	startupPollStep    = 250 * time.Millisecond
	stopGraceWait      = 3 * time.Second
	stopPollStep       = 100 * time.Millisecond
)

// Config tells the supervisor where the worker lives and how to spawn it.
type Config struct {
	// BaseURL is the worker HTTP surface, e.g. http://127.0.0.1:37777.
	BaseURL string

	// PIDPath is the worker PID file.
	PIDPath string

	// Command and Args spawn a new worker. A bare command name is
	// resolved against PATH.
	Command string
	Args    []string

	// StartupWait bounds health polling after a spawn.
	StartupWait time.Duration
}

// Supervisor manages a single local worker instance.
type Supervisor struct {
	cfg    Config
	logger *zap.Logger
	client *http.Client
}

// New creates a supervisor.
func New(cfg Config, logger *zap.Logger) (*Supervisor, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("worker base URL cannot be empty")
	}
	if cfg.PIDPath == "" {
		return nil, fmt.Errorf("pid path cannot be empty")
	}
	if cfg.Command == "" {
		return nil, fmt.Errorf("worker command cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StartupWait <= 0 {
		cfg.StartupWait = 5 * time.Second
	}
	return &Supervisor{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: healthProbeTimeout},
	}, nil
}

// Healthy probes the worker health endpoint with a short timeout.
func (s *Supervisor) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// EnsureRunning makes sure a worker is serving: no-op when healthy,
// otherwise clears any stale PID record and spawns a detached worker.
//
// A worker that fails to come up within StartupWait is reported as an
// error, but callers treat it as a non-fatal warning: their own operation
// continues without background analysis.
func (s *Supervisor) EnsureRunning(ctx context.Context) error {
	if s.Healthy(ctx) {
		return nil
	}

	// Unhealthy but PID file present: a live process that stopped
	// serving is left alone (it may be mid-shutdown); a dead one is a
	// stale record to clean up.
	if pid := ReadPIDFile(s.cfg.PIDPath); pid != 0 && !IsProcessAlive(pid) {
		s.logger.Debug("removing stale pid file", zap.Int("pid", pid))
		RemovePIDFile(s.cfg.PIDPath)
	}

	pid, err := s.spawn()
	if err != nil {
		return fmt.Errorf("spawn worker: %w", err)
	}
	if err := WritePIDFile(s.cfg.PIDPath, pid); err != nil {
		s.logger.Warn("failed to record worker pid", zap.Error(err))
	}
	s.logger.Info("spawned worker", zap.Int("pid", pid))

	deadline := time.Now().Add(s.cfg.StartupWait)
	for time.Now().Before(deadline) {
		if s.Healthy(ctx) {
			return nil
		}
		select {
		case <-time.After(startupPollStep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("worker did not become healthy within %s", s.cfg.StartupWait)
}

// spawnEnv builds the detached worker's environment. The supervision
// parent is the spawner's own parent — the host assistant for hooks, the
// invoking shell for the CLI. The spawner itself exits within
// milliseconds of the spawn, so recording its PID would make the worker
// see a dead parent on its first supervision tick.
func spawnEnv() []string {
	return append(os.Environ(), fmt.Sprintf("RECALLD_PARENT_PID=%d", os.Getppid()))
}

// spawn starts the worker as a detached process.
func (s *Supervisor) spawn() (int, error) {
	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Env = spawnEnv()
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid

	// Release so the detached worker is not waited on.
	_ = cmd.Process.Release()
	return pid, nil
}

// Stop sends a graceful termination signal, waits briefly, escalates to a
// forceful kill, and always removes the PID file.
func (s *Supervisor) Stop(ctx context.Context) error {
	defer RemovePIDFile(s.cfg.PIDPath)

	pid := ReadPIDFile(s.cfg.PIDPath)
	if pid == 0 || !IsProcessAlive(pid) {
		return nil
	}

	if err := terminate(pid); err != nil {
		return fmt.Errorf("signal worker %d: %w", pid, err)
	}

	deadline := time.Now().Add(stopGraceWait)
	for time.Now().Before(deadline) {
		if !IsProcessAlive(pid) {
			return nil
		}
		select {
		case <-time.After(stopPollStep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.logger.Warn("worker did not exit gracefully, killing", zap.Int("pid", pid))
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	_ = proc.Kill()
	return nil
}
