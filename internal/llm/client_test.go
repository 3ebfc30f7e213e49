package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/eventlog"
)

// fakeProvider returns an httptest server that answers the messages
// endpoint with the given text content.
func fakeProvider(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func textResponse(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": text}},
		})
	}
}

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Model:   "claude-3-5-haiku-20241022",
		Timeout: 5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	// Retry backoff is irrelevant for local fakes.
	client.maxRetries = 1
	return client
}

func sampleEvents() []eventlog.Record {
	return []eventlog.Record{
		eventlog.NewUserMessage("proj", "why does the cache miss?"),
		eventlog.NewAssistantMessage("the TTL is shorter than the refresh interval"),
	}
}

func TestNewClient(t *testing.T) {
	t.Run("no credentials yields a disabled client", func(t *testing.T) {
		client, err := NewClient(Config{BaseURL: "https://api.anthropic.com"}, zap.NewNop())
		require.NoError(t, err)
		assert.False(t, client.Enabled())
	})

	t.Run("auth token wins over api key", func(t *testing.T) {
		client, err := NewClient(Config{
			AuthToken: "host-token",
			APIKey:    "user-key",
			BaseURL:   "https://api.anthropic.com",
		}, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, "host-token", client.credential)
	})

	t.Run("invalid base url is a configuration error", func(t *testing.T) {
		_, err := NewClient(Config{APIKey: "k", BaseURL: "not a url"}, zap.NewNop())
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("empty base url with credentials is a configuration error", func(t *testing.T) {
		_, err := NewClient(Config{APIKey: "k"}, zap.NewNop())
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
	})
}

func TestResolveEndpoint(t *testing.T) {
	tests := []struct {
		name string
		base string
		want string
	}{
		{"appends messages path", "https://api.anthropic.com", "https://api.anthropic.com/v1/messages"},
		{"strips trailing slash", "https://api.anthropic.com/", "https://api.anthropic.com/v1/messages"},
		{"full path used verbatim", "https://proxy.internal/v1/messages", "https://proxy.internal/v1/messages"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveEndpoint(tt.base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAnalyzeSession(t *testing.T) {
	t.Run("disabled client returns nil without network", func(t *testing.T) {
		client, err := NewClient(Config{}, zap.NewNop())
		require.NoError(t, err)

		analysis, err := client.AnalyzeSession(context.Background(), sampleEvents())
		assert.NoError(t, err)
		assert.Nil(t, analysis)
	})

	t.Run("empty event batch returns nil", func(t *testing.T) {
		srv := fakeProvider(t, textResponse("{}"))
		client := testClient(t, srv.URL)

		analysis, err := client.AnalyzeSession(context.Background(), nil)
		assert.NoError(t, err)
		assert.Nil(t, analysis)
	})

	t.Run("parses analysis wrapped in prose", func(t *testing.T) {
		srv := fakeProvider(t, textResponse(
			`Here you go: {"investigated":"cache misses","learned":"ttl mismatch",`+
				`"completed":"raised ttl","next_steps":"monitor hit rate",`+
				`"observations":[{"type":"bugfix","title":"ttl shorter than refresh",`+
				`"insight":"cache expired before reuse","concepts":["gotcha"],"files":["cache/ttl.go"]}]}`))
		client := testClient(t, srv.URL)

		analysis, err := client.AnalyzeSession(context.Background(), sampleEvents())
		require.NoError(t, err)
		require.NotNil(t, analysis)
		assert.Equal(t, "cache misses", analysis.Investigated)
		require.Len(t, analysis.Observations, 1)
		assert.Equal(t, "ttl shorter than refresh", analysis.Observations[0].Title)
	})

	t.Run("no balanced object is a parse error", func(t *testing.T) {
		srv := fakeProvider(t, textResponse("sorry, I cannot produce JSON today"))
		client := testClient(t, srv.URL)

		_, err := client.AnalyzeSession(context.Background(), sampleEvents())
		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
	})

	t.Run("sends provider headers", func(t *testing.T) {
		var gotKey, gotVersion string
		srv := fakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
			gotKey = r.Header.Get("X-API-Key")
			gotVersion = r.Header.Get("Anthropic-Version")
			textResponse("{}").ServeHTTP(w, r)
		})
		client := testClient(t, srv.URL)

		_, err := client.AnalyzeSession(context.Background(), sampleEvents())
		require.NoError(t, err)
		assert.Equal(t, "test-key", gotKey)
		assert.Equal(t, anthropicVersion, gotVersion)
	})

	t.Run("bearer auth replaces provider headers", func(t *testing.T) {
		var gotAuth, gotKey string
		srv := fakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotKey = r.Header.Get("X-API-Key")
			textResponse("{}").ServeHTTP(w, r)
		})
		client, err := NewClient(Config{
			AuthToken:     "proxy-token",
			BaseURL:       srv.URL,
			UseBearerAuth: true,
		}, zap.NewNop())
		require.NoError(t, err)

		_, err = client.AnalyzeSession(context.Background(), sampleEvents())
		require.NoError(t, err)
		assert.Equal(t, "Bearer proxy-token", gotAuth)
		assert.Empty(t, gotKey)
	})

	t.Run("retries transient server errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := fakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			textResponse(`{"investigated":"retry works"}`).ServeHTTP(w, r)
		})
		client := testClient(t, srv.URL)

		analysis, err := client.AnalyzeSession(context.Background(), sampleEvents())
		require.NoError(t, err)
		assert.Equal(t, "retry works", analysis.Investigated)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := fakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad model"}}`))
		})
		client := testClient(t, srv.URL)

		_, err := client.AnalyzeSession(context.Background(), sampleEvents())
		var transportErr *TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.Contains(t, err.Error(), "bad model")
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestExtractKeywords(t *testing.T) {
	t.Run("parses and caps the keyword list", func(t *testing.T) {
		srv := fakeProvider(t, textResponse(
			`["a","b","c","d","e","f","g","h","i","j","k","l"]`))
		client := testClient(t, srv.URL)

		keywords, err := client.ExtractKeywords(context.Background(), "some prompt")
		require.NoError(t, err)
		assert.Len(t, keywords, maxKeywords)
		assert.Equal(t, "a", keywords[0])
	})

	t.Run("disabled client reports a configuration error", func(t *testing.T) {
		client, err := NewClient(Config{}, zap.NewNop())
		require.NoError(t, err)

		_, err = client.ExtractKeywords(context.Background(), "text")
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("prose without an array is a parse error", func(t *testing.T) {
		srv := fakeProvider(t, textResponse("keywords are hard"))
		client := testClient(t, srv.URL)

		_, err := client.ExtractKeywords(context.Background(), "text")
		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
	})
}

func TestBuildAnalysisPrompt(t *testing.T) {
	prompt := buildAnalysisPrompt([]eventlog.Record{
		eventlog.NewUserMessage("proj", "fix the flaky test"),
		eventlog.NewToolExecution("Bash", "1 test failed"),
		eventlog.NewSessionEvent(eventlog.SessionStart), // ignored
	})

	assert.Contains(t, prompt, "USER: fix the flaky test")
	assert.Contains(t, prompt, "TOOL Bash: 1 test failed")
	assert.NotContains(t, prompt, "session_event")
	assert.Contains(t, prompt, "bugfix, feature, refactor, discovery, decision, change")
	assert.Contains(t, prompt, "gotcha")
}
