package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/hooks"
)

// maxHookPayload bounds the stdin payload a hook will read. Assistant
// responses can be large but anything past this is not worth persisting.
const maxHookPayload = 10 << 20 // 10 MiB

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Lifecycle hooks invoked by the host assistant",
	Long: `Hook subcommands read a JSON payload from stdin and record the event.

They sit on the host assistant's critical path, so they always exit 0:
a memory-layer failure must never break a coding session. Errors are
reported on stderr only.

Payload fields by hook:
  session-start       session_id, cwd
  user-prompt         session_id, prompt
  assistant-response  session_id, response
  tool-result         session_id, tool_name, tool_result
  session-end         session_id`,
}

func init() {
	hookCmd.AddCommand(&cobra.Command{
		Use:   "session-start",
		Short: "Record a session start and ensure the worker is running",
		Run: hookRun(func(cmd *cobra.Command, r *hooks.Runner, p hooks.Payload) error {
			return r.SessionStart(cmd.Context(), p)
		}),
	})

	hookCmd.AddCommand(&cobra.Command{
		Use:     "user-prompt",
		Aliases: []string{"inject"},
		Short:   "Record a user prompt and print it with recalled context injected",
		Run: hookRun(func(cmd *cobra.Command, r *hooks.Runner, p hooks.Payload) error {
			out, err := r.UserPrompt(cmd.Context(), p)
			fmt.Print(out)
			return err
		}),
	})

	hookCmd.AddCommand(&cobra.Command{
		Use:   "assistant-response",
		Short: "Record an assistant response",
		Run: hookRun(func(cmd *cobra.Command, r *hooks.Runner, p hooks.Payload) error {
			return r.AssistantResponse(p)
		}),
	})

	hookCmd.AddCommand(&cobra.Command{
		Use:   "tool-result",
		Short: "Record a tool execution",
		Run: hookRun(func(cmd *cobra.Command, r *hooks.Runner, p hooks.Payload) error {
			return r.ToolResult(p)
		}),
	})

	hookCmd.AddCommand(&cobra.Command{
		Use:   "session-end",
		Short: "Record a session end and queue the session for analysis",
		Run: hookRun(func(cmd *cobra.Command, r *hooks.Runner, p hooks.Payload) error {
			return r.SessionEnd(cmd.Context(), p)
		}),
	})
}

// hookRun wraps a hook handler with payload parsing and the never-fail
// contract. For user-prompt the original prompt is echoed back even when
// setup fails, so the host always gets its input back.
func hookRun(fn func(*cobra.Command, *hooks.Runner, hooks.Payload) error) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		p, err := readPayload(cmd.InOrStdin())
		if err != nil {
			hookWarn(cmd, "invalid hook payload", err)
			echoPrompt(cmd, p)
			return
		}

		cfg, logger, err := loadConfig()
		if err != nil {
			hookWarn(cmd, "hook setup failed", err)
			echoPrompt(cmd, p)
			return
		}
		defer func() { _ = logger.Sync() }()

		runner, err := hooks.NewRunner(cfg, logger)
		if err != nil {
			hookWarn(cmd, "hook setup failed", err)
			echoPrompt(cmd, p)
			return
		}

		if err := fn(cmd, runner, p); err != nil {
			logger.Warn("hook failed", zap.String("hook", cmd.Name()), zap.Error(err))
		}
	}
}

// readPayload decodes the hook payload from stdin. A partially decoded
// payload is returned even on error so the prompt can be echoed back.
func readPayload(in io.Reader) (hooks.Payload, error) {
	var p hooks.Payload
	raw, err := io.ReadAll(io.LimitReader(in, maxHookPayload))
	if err != nil {
		return p, fmt.Errorf("read stdin: %w", err)
	}
	if len(raw) == 0 {
		return p, fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

// echoPrompt returns the prompt unchanged when user-prompt cannot run.
func echoPrompt(cmd *cobra.Command, p hooks.Payload) {
	if cmd.Name() == "user-prompt" && p.Prompt != "" {
		fmt.Print(p.Prompt)
	}
}

func hookWarn(cmd *cobra.Command, msg string, err error) {
	fmt.Fprintf(os.Stderr, "[recall] %s: %v\n", msg, err)
}
