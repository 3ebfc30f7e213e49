// Package session manages per-session scratch buffers: a JSON-array file
// per session, created at session start and deleted once analysis
// completes or is abandoned. The buffer exists so the analysis worker can
// receive exactly the events of one session without re-scanning the main
// event log.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/recalld/internal/eventlog"
)

// Manager owns the scratch-buffer directory.
type Manager struct {
	dir string
}

// NewManager prepares the scratch directory.
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("session directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Manager{dir: dir}, nil
}

// path maps a session ID to its buffer file. IDs are sanitized so a hook
// payload cannot write outside the scratch directory.
func (m *Manager) path(sessionID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, sessionID)
	return filepath.Join(m.dir, safe+".json")
}

// Start creates an empty buffer for the session. Restarting an existing
// session truncates its buffer.
func (m *Manager) Start(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	return os.WriteFile(m.path(sessionID), []byte("[]"), 0o600)
}

// Append adds one captured event to the session buffer, creating the
// buffer if the start hook was missed.
func (m *Manager) Append(sessionID string, rec eventlog.Record) error {
	if sessionID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}

	raws, err := m.readRaw(sessionID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	raws = append(raws, data)

	out, err := json.Marshal(raws)
	if err != nil {
		return fmt.Errorf("marshal buffer: %w", err)
	}
	return os.WriteFile(m.path(sessionID), out, 0o600)
}

// Events returns the buffered events in capture order. A missing buffer
// is an empty session. Entries that no longer decode are skipped.
func (m *Manager) Events(sessionID string) ([]eventlog.Record, error) {
	raws, err := m.readRaw(sessionID)
	if err != nil {
		return nil, err
	}

	events := make([]eventlog.Record, 0, len(raws))
	for _, raw := range raws {
		rec := eventlog.Decode(raw)
		if rec.Kind() == eventlog.KindUnparseable {
			continue
		}
		events = append(events, rec)
	}
	return events, nil
}

// Delete removes the session buffer. Missing buffers are fine.
func (m *Manager) Delete(sessionID string) error {
	err := os.Remove(m.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session buffer: %w", err)
	}
	return nil
}

func (m *Manager) readRaw(sessionID string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(m.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session buffer: %w", err)
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		// A corrupt buffer is abandoned rather than blocking capture.
		return nil, nil
	}
	return raws, nil
}
