package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/eventlog"
	"github.com/fyrsmithlabs/recalld/internal/graph"
	"github.com/fyrsmithlabs/recalld/internal/llm"
	"github.com/fyrsmithlabs/recalld/internal/worker"
)

func newTestServer(t *testing.T) (*Server, *eventlog.Store) {
	t.Helper()
	dir := t.TempDir()

	events, err := eventlog.NewStore(filepath.Join(dir, "events.jsonl"))
	require.NoError(t, err)
	g, err := graph.NewStore(filepath.Join(dir, "graph.jsonl"))
	require.NoError(t, err)

	// A disabled client is enough: these tests never drain the queue.
	client, err := llm.NewClient(llm.Config{}, zap.NewNop())
	require.NoError(t, err)

	w, err := worker.New(events, g, nil, client, worker.Config{}, zap.NewNop())
	require.NoError(t, err)

	srv, err := NewServer(w, events, zap.NewNop(), &Config{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)
	return srv, events
}

func doRequest(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echoContentType, "application/json")
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func TestNewServer(t *testing.T) {
	t.Run("requires worker, events, and logger", func(t *testing.T) {
		srv, events := newTestServer(t)
		assert.NotNil(t, srv)

		_, err := NewServer(nil, events, zap.NewNop(), nil)
		assert.Error(t, err)
		_, err = NewServer(srv.worker, nil, zap.NewNop(), nil)
		assert.Error(t, err)
		_, err = NewServer(srv.worker, events, nil, nil)
		assert.Error(t, err)
	})

	t.Run("nil config gets loopback defaults", func(t *testing.T) {
		srv, _ := newTestServer(t)
		withDefaults, err := NewServer(srv.worker, srv.events, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", withDefaults.config.Host)
		assert.Equal(t, 37777, withDefaults.config.Port)
	})
}

func TestHandleHealth(t *testing.T) {
	srv, events := newTestServer(t)
	require.NoError(t, events.Append(eventlog.NewSessionEvent(eventlog.SessionStart)))

	rec := doRequest(srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var health worker.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 0, health.QueueSize)
	assert.False(t, health.IsProcessing)
	require.NotNil(t, health.Stats)
	assert.Equal(t, 1, health.Stats.Total)
}

func TestHandleRecords(t *testing.T) {
	seed := func(t *testing.T, events *eventlog.Store, n int) {
		t.Helper()
		for i := 0; i < n; i++ {
			require.NoError(t, events.Append(eventlog.NewUserMessage("", fmt.Sprintf("msg %d", i))))
		}
	}

	t.Run("empty log returns an empty array", func(t *testing.T) {
		srv, _ := newTestServer(t)
		rec := doRequest(srv, http.MethodGet, "/api/records", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"records":[]`)
	})

	// RecordsResponse.Records is []eventlog.Record, an interface type
	// encoding/json cannot unmarshal into; decode only the fields the
	// assertions use.
	type recordsTotal struct {
		Total int `json:"total"`
	}

	t.Run("returns the most recent records up to the limit", func(t *testing.T) {
		srv, events := newTestServer(t)
		seed(t, events, 5)

		rec := doRequest(srv, http.MethodGet, "/api/records?limit=2", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp recordsTotal
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Total)
	})

	t.Run("filters by type", func(t *testing.T) {
		srv, events := newTestServer(t)
		seed(t, events, 2)
		require.NoError(t, events.Append(eventlog.NewSessionEvent(eventlog.SessionStart)))

		rec := doRequest(srv, http.MethodGet, "/api/records?type=session_event", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp recordsTotal
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Total)
	})

	t.Run("rejects a non-positive limit", func(t *testing.T) {
		srv, _ := newTestServer(t)
		rec := doRequest(srv, http.MethodGet, "/api/records?limit=0", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = doRequest(srv, http.MethodGet, "/api/records?limit=abc", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = doRequest(srv, http.MethodGet, "/api/records?limit=12abc", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "trailing garbage is not a number")
	})
}

func TestHandleStats(t *testing.T) {
	srv, events := newTestServer(t)
	require.NoError(t, events.Append(eventlog.NewSessionEvent(eventlog.SessionStart)))
	require.NoError(t, events.Append(eventlog.NewUserMessage("", "q")))

	rec := doRequest(srv, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats eventlog.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Sessions)
}

func TestHandleAnalyze(t *testing.T) {
	validBody := `{"sessionId":"s1","sessionData":[{"type":"user_message","content":"hi"}]}`

	t.Run("queues a valid batch", func(t *testing.T) {
		srv, _ := newTestServer(t)
		rec := doRequest(srv, http.MethodPost, "/api/analyze", validBody)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp AnalyzeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "queued", resp.Status)
		assert.Equal(t, 1, resp.QueuePosition)
	})

	t.Run("missing session id is a 400", func(t *testing.T) {
		srv, _ := newTestServer(t)
		rec := doRequest(srv, http.MethodPost, "/api/analyze",
			`{"sessionData":[{"type":"user_message","content":"hi"}]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing session data is a 400", func(t *testing.T) {
		srv, _ := newTestServer(t)
		rec := doRequest(srv, http.MethodPost, "/api/analyze", `{"sessionId":"s1"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body is a 400", func(t *testing.T) {
		srv, _ := newTestServer(t)
		rec := doRequest(srv, http.MethodPost, "/api/analyze", `{not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("undecodable events are skipped but a fully invalid batch is a 400", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doRequest(srv, http.MethodPost, "/api/analyze",
			`{"sessionId":"s1","sessionData":[{"type":"mystery"},{"type":"user_message","content":"ok"}]}`)
		assert.Equal(t, http.StatusAccepted, rec.Code)

		rec = doRequest(srv, http.MethodPost, "/api/analyze",
			`{"sessionId":"s1","sessionData":[{"type":"mystery"}]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("full queue is a 503", func(t *testing.T) {
		srv, _ := newTestServer(t)
		var rec *httptest.ResponseRecorder
		for i := 0; ; i++ {
			rec = doRequest(srv, http.MethodPost, "/api/analyze", validBody)
			if rec.Code != http.StatusAccepted {
				break
			}
			require.Less(t, i, 1000, "queue never filled")
		}
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "recalld_tasks_queued_total")
}
