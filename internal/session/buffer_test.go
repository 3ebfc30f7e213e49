package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/eventlog"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "sessions"))
	require.NoError(t, err)
	return m
}

func TestManagerLifecycle(t *testing.T) {
	t.Run("start creates an empty buffer", func(t *testing.T) {
		m := newTestManager(t)
		require.NoError(t, m.Start("sess-1"))

		events, err := m.Events("sess-1")
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("append preserves capture order", func(t *testing.T) {
		m := newTestManager(t)
		require.NoError(t, m.Start("sess-1"))
		require.NoError(t, m.Append("sess-1", eventlog.NewUserMessage("", "first")))
		require.NoError(t, m.Append("sess-1", eventlog.NewAssistantMessage("second")))
		require.NoError(t, m.Append("sess-1", eventlog.NewToolExecution("Bash", "third")))

		events, err := m.Events("sess-1")
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, "first", events[0].(*eventlog.UserMessage).Content)
		assert.Equal(t, "second", events[1].(*eventlog.AssistantMessage).Content)
		assert.Equal(t, "third", events[2].(*eventlog.ToolExecution).Result)
	})

	t.Run("append without start creates the buffer", func(t *testing.T) {
		m := newTestManager(t)
		require.NoError(t, m.Append("late-start", eventlog.NewUserMessage("", "hi")))

		events, err := m.Events("late-start")
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("restart truncates an existing buffer", func(t *testing.T) {
		m := newTestManager(t)
		require.NoError(t, m.Start("sess-1"))
		require.NoError(t, m.Append("sess-1", eventlog.NewUserMessage("", "old")))
		require.NoError(t, m.Start("sess-1"))

		events, err := m.Events("sess-1")
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		m := newTestManager(t)
		require.NoError(t, m.Start("sess-1"))
		require.NoError(t, m.Delete("sess-1"))
		require.NoError(t, m.Delete("sess-1"))

		events, err := m.Events("sess-1")
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestManagerCorruption(t *testing.T) {
	t.Run("corrupt buffer is abandoned not fatal", func(t *testing.T) {
		m := newTestManager(t)
		require.NoError(t, m.Start("sess-1"))
		require.NoError(t, os.WriteFile(m.path("sess-1"), []byte("{corrupt"), 0o600))

		events, err := m.Events("sess-1")
		require.NoError(t, err)
		assert.Empty(t, events)

		// Capture continues by rewriting the abandoned buffer.
		require.NoError(t, m.Append("sess-1", eventlog.NewUserMessage("", "fresh")))
		events, err = m.Events("sess-1")
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("undecodable entries are skipped", func(t *testing.T) {
		m := newTestManager(t)
		require.NoError(t, os.WriteFile(m.path("sess-1"),
			[]byte(`[{"type":"user_message","content":"good"},{"type":"mystery"}]`), 0o600))

		events, err := m.Events("sess-1")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "good", events[0].(*eventlog.UserMessage).Content)
	})
}

func TestManagerPathSafety(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Start("../../etc/passwd"))

	path := m.path("../../etc/passwd")
	assert.Equal(t, m.dir, filepath.Dir(path), "sanitized IDs must stay inside the scratch directory")
}
