package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// TouchHeartbeat overwrites the heartbeat file with the current unix
// timestamp. Every hook invocation touches it; the worker uses its age to
// decide when it has been idle long enough to exit.
func TouchHeartbeat(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir heartbeat dir: %w", err)
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	if err := os.WriteFile(path, []byte(ts), 0o600); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return nil
}

// HeartbeatAge returns how long ago the heartbeat was touched. A missing
// or unreadable file reports an arbitrarily old age so a worker spawned
// without any hook activity still times out.
func HeartbeatAge(path string) time.Duration {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Duration(1<<62 - 1)
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return time.Duration(1<<62 - 1)
	}
	return time.Since(time.Unix(ts, 0))
}
