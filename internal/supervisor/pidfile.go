package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ReadPIDFile returns the recorded worker PID, or 0 when the file is
// missing or malformed.
func ReadPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// WritePIDFile records the worker PID.
func WritePIDFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir pid dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o600); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// RemovePIDFile deletes the PID file. Missing files are fine.
func RemovePIDFile(path string) {
	_ = os.Remove(path)
}

// IsProcessAlive reports whether pid refers to a live process. The PID
// file plus this probe is only a fallback: the health endpoint is the
// primary truth source for whether a worker is running.
func IsProcessAlive(pid int) bool {
	return isProcessAlive(pid)
}
