package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHeartbeat(t *testing.T) {
	t.Run("touch then age", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "heartbeat")
		require.NoError(t, TouchHeartbeat(path))

		age := HeartbeatAge(path)
		assert.Less(t, age, 5*time.Second)
	})

	t.Run("missing heartbeat reports arbitrarily old", func(t *testing.T) {
		age := HeartbeatAge(filepath.Join(t.TempDir(), "nope"))
		assert.Greater(t, age, 24*time.Hour)
	})

	t.Run("corrupt heartbeat reports arbitrarily old", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "heartbeat")
		require.NoError(t, os.WriteFile(path, []byte("not-a-timestamp"), 0o600))
		assert.Greater(t, HeartbeatAge(path), 24*time.Hour)
	})

	t.Run("touch creates parent directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "deep", "nested", "heartbeat")
		require.NoError(t, TouchHeartbeat(path))
		assert.Less(t, HeartbeatAge(path), 5*time.Second)
	})
}

func TestPIDFile(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "recalld.pid")
		require.NoError(t, WritePIDFile(path, 4242))
		assert.Equal(t, 4242, ReadPIDFile(path))
	})

	t.Run("missing file reads as zero", func(t *testing.T) {
		assert.Equal(t, 0, ReadPIDFile(filepath.Join(t.TempDir(), "nope")))
	})

	t.Run("malformed content reads as zero", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "recalld.pid")
		require.NoError(t, os.WriteFile(path, []byte("abc"), 0o600))
		assert.Equal(t, 0, ReadPIDFile(path))

		require.NoError(t, os.WriteFile(path, []byte("-5"), 0o600))
		assert.Equal(t, 0, ReadPIDFile(path))
	})

	t.Run("remove tolerates a missing file", func(t *testing.T) {
		RemovePIDFile(filepath.Join(t.TempDir(), "nope"))
	})
}

func TestIsProcessAlive(t *testing.T) {
	assert.True(t, IsProcessAlive(os.Getpid()))
	assert.False(t, IsProcessAlive(0))
}

func TestSupervisorHealthy(t *testing.T) {
	t.Run("healthy worker", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(srv.Close)

		sup := newTestSupervisor(t, srv.URL)
		assert.True(t, sup.Healthy(context.Background()))
	})

	t.Run("nothing listening", func(t *testing.T) {
		sup := newTestSupervisor(t, "http://127.0.0.1:1")
		assert.False(t, sup.Healthy(context.Background()))
	})

	t.Run("non-200 is unhealthy", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		t.Cleanup(srv.Close)

		sup := newTestSupervisor(t, srv.URL)
		assert.False(t, sup.Healthy(context.Background()))
	})
}

func TestEnsureRunning(t *testing.T) {
	t.Run("already healthy is a no-op", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(srv.Close)

		pidPath := filepath.Join(t.TempDir(), "recalld.pid")
		sup, err := New(Config{
			BaseURL: srv.URL,
			PIDPath: pidPath,
			Command: "/nonexistent/binary", // must never be spawned
		}, zap.NewNop())
		require.NoError(t, err)

		assert.NoError(t, sup.EnsureRunning(context.Background()))
	})

	t.Run("stale pid of a dead process is cleaned up", func(t *testing.T) {
		pidPath := filepath.Join(t.TempDir(), "recalld.pid")
		// PIDs this large are rejected by the kernel, so the probe fails.
		require.NoError(t, os.WriteFile(pidPath, []byte(strconv.Itoa(1<<30)), 0o600))

		sup, err := New(Config{
			BaseURL:     "http://127.0.0.1:1",
			PIDPath:     pidPath,
			Command:     "/nonexistent/binary",
			StartupWait: 300 * time.Millisecond,
		}, zap.NewNop())
		require.NoError(t, err)

		err = sup.EnsureRunning(context.Background())
		assert.Error(t, err, "spawning a nonexistent binary must fail")
		assert.Equal(t, 0, ReadPIDFile(pidPath), "stale pid file must be removed")
	})
}

func TestSpawnEnvSurvivesSpawnerExit(t *testing.T) {
	// The spawning CLI process is gone milliseconds after the spawn, so
	// the supervision parent handed to the worker must be the spawner's
	// own parent, never the spawner itself.
	want := "RECALLD_PARENT_PID=" + strconv.Itoa(os.Getppid())
	assert.Contains(t, spawnEnv(), want)
	assert.NotContains(t, spawnEnv(), "RECALLD_PARENT_PID="+strconv.Itoa(os.Getpid()))
}

func newTestSupervisor(t *testing.T, baseURL string) *Supervisor {
	t.Helper()
	sup, err := New(Config{
		BaseURL: baseURL,
		PIDPath: filepath.Join(t.TempDir(), "recalld.pid"),
		Command: "recalld",
	}, zap.NewNop())
	require.NoError(t, err)
	return sup
}
