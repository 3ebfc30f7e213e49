// Package worker implements the analysis queue: a long-lived local
// service that serializes session batches through a FIFO queue, invokes
// the LLM analysis client one task at a time, and persists results to the
// event log and knowledge graph.
//
// The queue is owned by a single consumer goroutine. Tasks are
// at-most-once: a failed analysis is logged and dropped, never retried.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/eventlog"
	"github.com/fyrsmithlabs/recalld/internal/graph"
	"github.com/fyrsmithlabs/recalld/internal/llm"
	"github.com/fyrsmithlabs/recalld/internal/session"
	"github.com/fyrsmithlabs/recalld/internal/supervisor"
)

// queueCapacity bounds pending tasks. Sessions arrive at human speed; a
// full queue means something is badly wrong and dropping is safer than
// unbounded growth.
const queueCapacity = 128

// Task is one queued session-analysis request.
type Task struct {
	SessionID string
	Events    []eventlog.Record
	Submitted time.Time
}

// Config tunes worker supervision.
type Config struct {
	// ParentPID is the process that spawned the worker; 0 disables the
	// parent-liveness check.
	ParentPID int

	// HeartbeatPath is the hook-touched heartbeat file.
	HeartbeatPath string

	// SuperviseInterval is the supervision check period.
	SuperviseInterval time.Duration

	// IdleThreshold is the maximum heartbeat age before self-shutdown.
	IdleThreshold time.Duration
}

// Worker consumes the analysis queue.
type Worker struct {
	events   *eventlog.Store
	graph    *graph.Store
	sessions *session.Manager
	client   *llm.Client
	cfg      Config
	logger   *zap.Logger

	tasks      chan Task
	pending    atomic.Int64
	processing atomic.Bool
	started    time.Time
}

// New creates a worker.
func New(events *eventlog.Store, g *graph.Store, sessions *session.Manager,
	client *llm.Client, cfg Config, logger *zap.Logger) (*Worker, error) {

	if events == nil || g == nil {
		return nil, fmt.Errorf("event log and graph stores are required")
	}
	if client == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SuperviseInterval <= 0 {
		cfg.SuperviseInterval = 10 * time.Second
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = time.Hour
	}

	return &Worker{
		events:   events,
		graph:    g,
		sessions: sessions,
		client:   client,
		cfg:      cfg,
		logger:   logger,
		tasks:    make(chan Task, queueCapacity),
		started:  time.Now(),
	}, nil
}

// Submit enqueues a session batch and returns its queue position
// (1-based, counting the in-flight task). Safe to call while another task
// is processing.
func (w *Worker) Submit(sessionID string, events []eventlog.Record) (int, error) {
	if sessionID == "" {
		return 0, fmt.Errorf("session ID cannot be empty")
	}

	task := Task{SessionID: sessionID, Events: events, Submitted: time.Now()}
	select {
	case w.tasks <- task:
		pos := int(w.pending.Add(1))
		tasksQueued.Inc()
		queueDepth.Set(float64(pos))
		w.logger.Info("queued analysis task",
			zap.String("session_id", sessionID),
			zap.Int("events", len(events)),
			zap.Int("queue_position", pos))
		return pos, nil
	default:
		return 0, fmt.Errorf("analysis queue full (%d tasks)", queueCapacity)
	}
}

// Health is the worker health snapshot.
type Health struct {
	Status       string          `json:"status"`
	QueueSize    int             `json:"queueSize"`
	IsProcessing bool            `json:"isProcessing"`
	Uptime       float64         `json:"uptime"`
	Stats        *eventlog.Stats `json:"stats"`
}

// Health reports queue depth, processing state, uptime, and event log
// statistics. Stats come from a full scan; fine at the expected log size.
func (w *Worker) Health() *Health {
	stats, err := w.events.Stats()
	if err != nil {
		w.logger.Warn("stats scan failed", zap.Error(err))
		stats = &eventlog.Stats{ByType: map[eventlog.Kind]int{}}
	}
	return &Health{
		Status:       "ok",
		QueueSize:    int(w.pending.Load()),
		IsProcessing: w.processing.Load(),
		Uptime:       time.Since(w.started).Seconds(),
		Stats:        stats,
	}
}

// Run owns the queue: it consumes tasks in submission order, one in
// flight at a time, and runs the supervision checks. Returns when ctx is
// cancelled or supervision decides the worker has outlived its purpose.
// The in-flight task always finishes before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	supervise := time.NewTicker(w.cfg.SuperviseInterval)
	defer supervise.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping", zap.Error(ctx.Err()))
			return ctx.Err()

		case task := <-w.tasks:
			w.process(ctx, task)

		case <-supervise.C:
			if reason := w.shouldShutdown(); reason != "" {
				w.logger.Info("worker self-terminating", zap.String("reason", reason))
				return nil
			}
		}
	}
}

// process runs one task to completion. Panics and errors are contained:
// the task is dropped and the worker keeps serving.
func (w *Worker) process(ctx context.Context, task Task) {
	w.processing.Store(true)
	defer func() {
		w.processing.Store(false)
		depth := w.pending.Add(-1)
		queueDepth.Set(float64(depth))

		if r := recover(); r != nil {
			tasksFailed.Inc()
			w.logger.Error("analysis task panicked",
				zap.String("session_id", task.SessionID),
				zap.Any("panic", r))
		}
	}()

	analysis, err := w.client.AnalyzeSession(ctx, task.Events)
	if err != nil || analysis == nil {
		tasksFailed.Inc()
		w.logger.Warn("analysis unavailable, dropping task",
			zap.String("session_id", task.SessionID),
			zap.Error(err))
		w.cleanup(task.SessionID)
		return
	}

	project := ProjectOf(task.Events)
	if err := SaveAnalysis(w.events, w.graph, analysis, project,
		"worker", w.client.Model(), CountMessages(task.Events)); err != nil {
		tasksFailed.Inc()
		w.logger.Error("failed to persist analysis",
			zap.String("session_id", task.SessionID),
			zap.Error(err))
		w.cleanup(task.SessionID)
		return
	}

	tasksSaved.Inc()
	w.logger.Info("analysis saved",
		zap.String("session_id", task.SessionID),
		zap.Int("observations", len(analysis.Observations)),
		zap.Duration("queued_for", time.Since(task.Submitted)))
	w.cleanup(task.SessionID)
}

// cleanup deletes the session scratch buffer once analysis completed or
// failed irrecoverably (analysis is at-most-once, so any failure is
// irrecoverable).
func (w *Worker) cleanup(sessionID string) {
	if w.sessions == nil {
		return
	}
	if err := w.sessions.Delete(sessionID); err != nil {
		w.logger.Warn("failed to delete session buffer",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}

// shouldShutdown returns a reason when the detached worker should exit:
// its supervision parent is gone, or no hook has touched the heartbeat
// for longer than the idle threshold. The heartbeat is the primary
// signal; the parent probe is best-effort. Accepted tasks always finish:
// shutdown is deferred while anything is queued or in flight.
func (w *Worker) shouldShutdown() string {
	if w.pending.Load() > 0 || w.processing.Load() || len(w.tasks) > 0 {
		return ""
	}
	if w.cfg.HeartbeatPath != "" {
		if age := supervisor.HeartbeatAge(w.cfg.HeartbeatPath); age > w.cfg.IdleThreshold {
			return fmt.Sprintf("heartbeat idle for %s", age.Truncate(time.Second))
		}
	}
	if w.cfg.ParentPID > 0 && !supervisor.IsProcessAlive(w.cfg.ParentPID) {
		return fmt.Sprintf("parent process %d is gone", w.cfg.ParentPID)
	}
	return ""
}
