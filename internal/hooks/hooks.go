// Package hooks implements the capture-side logic invoked by the host
// coding assistant on each lifecycle event. Hook invocations are
// short-lived processes on the host's critical path: every operation here
// is best-effort, aggressively bounded, and must never block or fail the
// host. Errors are logged and swallowed at the command layer.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/eventlog"
	"github.com/fyrsmithlabs/recalld/internal/graph"
	"github.com/fyrsmithlabs/recalld/internal/llm"
	"github.com/fyrsmithlabs/recalld/internal/query"
	"github.com/fyrsmithlabs/recalld/internal/redact"
	"github.com/fyrsmithlabs/recalld/internal/session"
	"github.com/fyrsmithlabs/recalld/internal/supervisor"
	"github.com/fyrsmithlabs/recalld/internal/worker"
)

// Payload is the hook input read from the host on stdin. Fields are
// populated per hook type; unknown fields are ignored.
type Payload struct {
	SessionID  string `json:"session_id"`
	Prompt     string `json:"prompt,omitempty"`
	Response   string `json:"response,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ToolResult string `json:"tool_result,omitempty"`
	Cwd        string `json:"cwd,omitempty"`
}

// Runner wires the stores and collaborators one hook invocation needs.
type Runner struct {
	cfg      *config.Config
	events   *eventlog.Store
	graph    *graph.Store
	sessions *session.Manager
	client   *llm.Client
	sup      *supervisor.Supervisor
	logger   *zap.Logger
}

// NewRunner builds a hook runner from configuration.
func NewRunner(cfg *config.Config, logger *zap.Logger) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	events, err := eventlog.NewStore(cfg.EventLogPath())
	if err != nil {
		return nil, err
	}
	g, err := graph.NewStore(cfg.GraphPath())
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewManager(cfg.SessionDir())
	if err != nil {
		return nil, err
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
		// A broken LLM endpoint disables analysis, not capture.
		logger.Warn("llm client unavailable", zap.Error(err))
		client, _ = llm.NewClient(llm.Config{}, logger)
	}
	sup, err := supervisor.New(supervisor.Config{
		BaseURL:     cfg.WorkerBaseURL(),
		PIDPath:     cfg.PIDPath(),
		Command:     WorkerBinary(),
		StartupWait: cfg.Worker.StartupWait.Duration(),
	}, logger)
	if err != nil {
		return nil, err
	}

	return &Runner{
		cfg:      cfg,
		events:   events,
		graph:    g,
		sessions: sessions,
		client:   client,
		sup:      sup,
		logger:   logger,
	}, nil
}

// touch updates the heartbeat; failure is logged, never fatal.
func (r *Runner) touch() {
	if err := supervisor.TouchHeartbeat(r.cfg.HeartbeatPath()); err != nil {
		r.logger.Warn("heartbeat update failed", zap.Error(err))
	}
}

// capture appends a record to the event log and the session buffer.
func (r *Runner) capture(sessionID string, rec eventlog.Record) error {
	if err := r.events.Append(rec); err != nil {
		return err
	}
	if sessionID != "" {
		if err := r.sessions.Append(sessionID, rec); err != nil {
			r.logger.Warn("session buffer append failed", zap.Error(err))
		}
	}
	return nil
}

// SessionStart records the session boundary, creates the scratch buffer,
// and makes sure a worker is available for the session's eventual
// analysis.
func (r *Runner) SessionStart(ctx context.Context, p Payload) error {
	r.touch()
	if err := r.events.Append(eventlog.NewSessionEvent(eventlog.SessionStart)); err != nil {
		return err
	}
	if p.SessionID != "" {
		if err := r.sessions.Start(p.SessionID); err != nil {
			r.logger.Warn("session buffer create failed", zap.Error(err))
		}
	}
	if err := r.sup.EnsureRunning(ctx); err != nil {
		r.logger.Warn("worker not available", zap.Error(err))
	}
	return nil
}

// UserPrompt captures the prompt and returns it with the relevant memory
// context injected. On any failure the prompt comes back unchanged.
func (r *Runner) UserPrompt(ctx context.Context, p Payload) (string, error) {
	r.touch()

	// The persisted copy is scrubbed; the host gets the original back.
	rec := eventlog.NewUserMessage(r.cfg.ProjectTag(), redact.String(p.Prompt))
	if err := r.capture(p.SessionID, rec); err != nil {
		return p.Prompt, err
	}

	engine, err := query.NewEngine(r.graph, r.client, query.Config{
		TopK:           r.cfg.Query.TopK,
		MinScore:       r.cfg.Query.MinScore,
		MaxRelations:   r.cfg.Query.MaxRelations,
		Project:        r.projectFilter(),
		UseLLMKeywords: r.cfg.Query.UseLLMKeywords,
		KeywordTimeout: r.cfg.Query.KeywordTimeout.Duration(),
	}, r.logger)
	if err != nil {
		return p.Prompt, nil
	}
	return engine.Inject(ctx, p.Prompt), nil
}

// AssistantResponse captures the assistant's reply.
func (r *Runner) AssistantResponse(p Payload) error {
	r.touch()
	return r.capture(p.SessionID, eventlog.NewAssistantMessage(redact.String(p.Response)))
}

// ToolResult captures one tool execution.
func (r *Runner) ToolResult(p Payload) error {
	r.touch()
	return r.capture(p.SessionID, eventlog.NewToolExecution(p.ToolName, redact.String(p.ToolResult)))
}

// SessionEnd records the boundary and hands the buffered session to the
// worker. If the worker cannot be reached within the submit timeout the
// analysis runs inline as a synchronous fallback.
func (r *Runner) SessionEnd(ctx context.Context, p Payload) error {
	r.touch()
	if err := r.events.Append(eventlog.NewSessionEvent(eventlog.SessionEnd)); err != nil {
		return err
	}
	if p.SessionID == "" {
		return nil
	}

	events, err := r.sessions.Events(p.SessionID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return r.sessions.Delete(p.SessionID)
	}

	if err := r.sup.EnsureRunning(ctx); err != nil {
		r.logger.Warn("worker not available", zap.Error(err))
	}

	if err := r.submit(ctx, p.SessionID, events); err != nil {
		r.logger.Info("worker submit failed, analyzing locally", zap.Error(err))
		r.analyzeLocally(ctx, p.SessionID, events)
	}
	return nil
}

// submit POSTs the session batch to the worker queue with an aggressive
// timeout so a wedged worker cannot stall the host.
func (r *Runner) submit(ctx context.Context, sessionID string, events []eventlog.Record) error {
	data := make([]json.RawMessage, 0, len(events))
	for _, rec := range events {
		raw, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		data = append(data, raw)
	}

	body, err := json.Marshal(map[string]any{
		"sessionId":   sessionID,
		"sessionData": data,
	})
	if err != nil {
		return err
	}

	submitCtx, cancel := context.WithTimeout(ctx, r.cfg.Worker.SubmitTimeout.Duration())
	defer cancel()

	req, err := http.NewRequestWithContext(submitCtx, http.MethodPost,
		r.cfg.WorkerBaseURL()+"/api/analyze", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("worker rejected submission: %s", resp.Status)
	}
	return nil
}

// analyzeLocally runs the analysis pipeline inline. Absence of analysis is
// silent: the memory layer is an enhancement, not a feature the user
// waits on.
func (r *Runner) analyzeLocally(ctx context.Context, sessionID string, events []eventlog.Record) {
	defer func() {
		if err := r.sessions.Delete(sessionID); err != nil {
			r.logger.Warn("failed to delete session buffer", zap.Error(err))
		}
	}()

	analysis, err := r.client.AnalyzeSession(ctx, events)
	if err != nil || analysis == nil {
		r.logger.Info("local analysis unavailable", zap.Error(err))
		return
	}

	if err := worker.SaveAnalysis(r.events, r.graph, analysis, worker.ProjectOf(events),
		"hook-fallback", r.client.Model(), worker.CountMessages(events)); err != nil {
		r.logger.Error("failed to persist local analysis", zap.Error(err))
	}
}

// projectFilter returns the project tag when isolation is enabled.
func (r *Runner) projectFilter() string {
	if !r.cfg.Query.ProjectFilter {
		return ""
	}
	return r.cfg.ProjectTag()
}

// WorkerBinary locates the recalld daemon: next to the current executable
// when installed together, otherwise resolved against PATH.
func WorkerBinary() string {
	exe, err := os.Executable()
	if err != nil {
		return "recalld"
	}
	sibling := filepath.Join(filepath.Dir(exe), "recalld")
	if _, err := os.Stat(sibling); err == nil {
		return sibling
	}
	return "recalld"
}
