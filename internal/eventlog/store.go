package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/recalld/internal/flock"
)

// StorageError wraps an underlying I/O failure. Callers must log and
// continue: the host assistant is never crashed over a failed append.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store is the append-only event log backed by a JSONL file.
//
// Appends take an advisory file lock for the duration of a single-line
// write so concurrent hook processes cannot interleave bytes. Records are
// never rewritten or removed.
type Store struct {
	path string
}

// NewStore opens (or prepares) the event log at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("event log path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: path, Err: err}
	}
	return &Store{path: path}, nil
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Append writes one record as a single JSONL line. The only validation is
// that the record carries a kind; schema correctness is the producer's
// problem. Fails only on I/O error.
func (s *Store) Append(rec Record) error {
	if rec == nil || rec.Kind() == "" {
		return fmt.Errorf("record must have a type")
	}
	if rec.Kind() == KindUnparseable {
		return fmt.Errorf("unparseable records cannot be appended")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return &StorageError{Op: "open", Path: s.path, Err: err}
	}
	defer f.Close()

	return flock.WithLock(f, func() error {
		if _, err := f.Write(data); err != nil {
			return &StorageError{Op: "append", Path: s.path, Err: err}
		}
		return nil
	})
}

// ReadAll returns the last limit parseable records in file order.
// limit <= 0 returns everything. Corrupt lines are skipped here; use
// Scan to observe them.
func (s *Store) ReadAll(limit int) ([]Record, error) {
	var records []Record
	err := s.Scan(func(rec Record) {
		if rec.Kind() == KindUnparseable {
			return
		}
		records = append(records, rec)
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// ReadByKind returns the last limit records of one kind, in file order.
func (s *Store) ReadByKind(kind Kind, limit int) ([]Record, error) {
	var records []Record
	err := s.Scan(func(rec Record) {
		if rec.Kind() == kind {
			records = append(records, rec)
		}
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// maxRecordLen bounds a single decodable log line. Longer lines surface
// as Unparseable so one oversized record cannot poison every later read.
const maxRecordLen = 4 * 1024 * 1024

// Scan streams every line of the log through fn, including Unparseable
// variants. A missing file is an empty log, not an error.
func (s *Store) Scan(fn func(Record)) error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &StorageError{Op: "open", Path: s.path, Err: err}
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		line, readErr := r.ReadBytes('\n')
		line = bytes.TrimSuffix(line, []byte("\n"))
		switch {
		case len(line) == 0:
		case len(line) > maxRecordLen:
			fn(&Unparseable{
				Line: string(line[:80]),
				Err:  fmt.Errorf("record is %d bytes, limit %d", len(line), maxRecordLen),
			})
		default:
			fn(Decode(line))
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return &StorageError{Op: "scan", Path: s.path, Err: readErr}
		}
	}
}

// Stats summarizes the log by a full scan. Fine for logs in the
// thousands-of-lines range; the read strategy would need to change
// before this scales further.
type Stats struct {
	Total        int          `json:"total"`
	ByType       map[Kind]int `json:"byType"`
	Sessions     int          `json:"sessions"`
	Summaries    int          `json:"summaries"`
	Observations int          `json:"observations"`
	Unparseable  int          `json:"unparseable"`
}

// Stats counts records by type.
func (s *Store) Stats() (*Stats, error) {
	stats := &Stats{ByType: make(map[Kind]int)}
	err := s.Scan(func(rec Record) {
		if rec.Kind() == KindUnparseable {
			stats.Unparseable++
			return
		}
		stats.Total++
		stats.ByType[rec.Kind()]++
		switch r := rec.(type) {
		case *SessionEvent:
			if r.Event == SessionStart {
				stats.Sessions++
			}
		case *SessionSummary:
			stats.Summaries++
		case *Observation:
			stats.Observations++
		}
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
