// Package flock provides advisory file locking around append writes.
//
// Hook processes and the worker can race on the shared JSONL files. An
// exclusive advisory lock held for the duration of a single-line append
// keeps writes from interleaving at the byte level. On platforms without
// flock support the lock degrades to a no-op, restoring the original
// single-writer assumption.
package flock

import "os"

// Lock acquires a blocking exclusive advisory lock on f.
func Lock(f *os.File) error {
	return lock(f)
}

// Unlock releases a lock previously acquired with Lock. Safe to call on
// an unlocked file.
func Unlock(f *os.File) error {
	return unlock(f)
}

// WithLock runs fn while holding an exclusive lock on f.
func WithLock(f *os.File, fn func() error) error {
	if err := Lock(f); err != nil {
		return err
	}
	defer Unlock(f)
	return fn()
}
