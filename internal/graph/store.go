package graph

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/recalld/internal/eventlog"
	"github.com/fyrsmithlabs/recalld/internal/flock"
)

// Store is the knowledge graph store: an append-only JSONL file of entity
// and relation lines, rebuildable from the event log at any time.
type Store struct {
	path string
}

// NewStore opens (or prepares) the graph store at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("graph path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", path, err)
	}
	return &Store{path: path}, nil
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Load reads the whole graph, merging duplicate entity names (observation
// lists appended) and deduplicating relations by triple. Corrupt lines are
// skipped. A missing file is an empty graph.
func (s *Store) Load() ([]*Entity, []*Relation, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("open graph: %w", err)
	}
	defer f.Close()

	acc := newFold()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		e, r, _ := decodeLine(line)
		if e != nil {
			acc.addEntity(e)
		}
		if r != nil {
			acc.addRelation(r)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan graph: %w", err)
	}
	return acc.Entities(), acc.Relations(), nil
}

// append writes entity and relation lines under one advisory lock.
func (s *Store) append(entities []*Entity, relations []*Relation) error {
	if len(entities) == 0 && len(relations) == 0 {
		return nil
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open graph: %w", err)
	}
	defer f.Close()

	return flock.WithLock(f, func() error {
		w := bufio.NewWriter(f)
		for _, e := range entities {
			if err := writeLine(w, e); err != nil {
				return err
			}
		}
		for _, r := range relations {
			if err := writeLine(w, r); err != nil {
				return err
			}
		}
		return w.Flush()
	})
}

func writeLine(w *bufio.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal graph line: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write graph line: %w", err)
	}
	return nil
}

// Rebuild recomputes the entire graph by replaying the event log, then
// atomically replaces the graph file (temp file + rename). Rebuilding
// twice from an unchanged log yields the same entity and relation sets;
// only the order of merged observations is unspecified.
func (s *Store) Rebuild(events *eventlog.Store) (entities, relations int, err error) {
	acc := newFold()
	if err := events.Scan(func(rec eventlog.Record) { acc.Record(rec) }); err != nil {
		return 0, 0, fmt.Errorf("replay event log: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".graph-rebuild-*")
	if err != nil {
		return 0, 0, fmt.Errorf("create temp graph: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	w := bufio.NewWriter(tmp)
	es, rs := acc.Entities(), acc.Relations()
	for _, e := range es {
		if err := writeLine(w, e); err != nil {
			return 0, 0, err
		}
	}
	for _, r := range rs {
		if err := writeLine(w, r); err != nil {
			return 0, 0, err
		}
	}
	if err := w.Flush(); err != nil {
		return 0, 0, fmt.Errorf("flush temp graph: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, 0, fmt.Errorf("close temp graph: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return 0, 0, fmt.Errorf("replace graph: %w", err)
	}
	return len(es), len(rs), nil
}

// IncrementalUpdate folds event log summaries not yet reflected in the
// graph, appending new entities and relations without touching existing
// lines.
//
// A summary is considered processed when any existing entity name contains
// its short id prefix. Known limitation, kept deliberately: observations
// folded by a later pass are appended as fresh entity lines rather than
// merged into entities written by an earlier pass; only a full Rebuild
// performs the retroactive merge.
func (s *Store) IncrementalUpdate(events *eventlog.Store) (entities, relations int, err error) {
	existing, _, err := s.Load()
	if err != nil {
		return 0, 0, err
	}
	var names strings.Builder
	for _, e := range existing {
		names.WriteString(e.Name)
		names.WriteByte('\x00')
	}
	processed := names.String()

	acc := newFold()
	skipping := false
	err = events.Scan(func(rec eventlog.Record) {
		switch r := rec.(type) {
		case *eventlog.SessionSummary:
			skipping = strings.Contains(processed, idPrefix(r.ID))
			if !skipping {
				acc.Record(rec)
			}
		case *eventlog.Observation:
			// Observations belong to the most recent summary; leading
			// observations with no summary are left for a full rebuild.
			if !skipping && acc.lastSession != "" {
				acc.Record(rec)
			}
		}
	})
	if err != nil {
		return 0, 0, fmt.Errorf("replay event log: %w", err)
	}

	es, rs := acc.Entities(), acc.Relations()
	if err := s.append(es, rs); err != nil {
		return 0, 0, err
	}
	return len(es), len(rs), nil
}
