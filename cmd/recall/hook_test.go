package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/hooks"
)

func TestHookInjectAlias(t *testing.T) {
	cmd, _, err := hookCmd.Find([]string{"inject"})
	require.NoError(t, err)
	assert.Equal(t, "user-prompt", cmd.Name(), "inject runs the prompt-time injection hook")
}

func TestReadPayload(t *testing.T) {
	t.Run("decodes a hook payload", func(t *testing.T) {
		p, err := readPayload(strings.NewReader(`{"session_id":"s1","prompt":"hi"}`))
		require.NoError(t, err)
		assert.Equal(t, "s1", p.SessionID)
		assert.Equal(t, "hi", p.Prompt)
	})

	t.Run("rejects empty input", func(t *testing.T) {
		_, err := readPayload(strings.NewReader(""))
		assert.Error(t, err)
	})

	t.Run("returns the partial payload on decode failure", func(t *testing.T) {
		p, err := readPayload(strings.NewReader("{not json"))
		assert.Error(t, err)
		assert.Equal(t, hooks.Payload{}, p)
	})
}
