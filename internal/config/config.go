package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration for recalld.
type Config struct {
	// DataDir is the per-user directory holding the event log, knowledge
	// graph, session buffers, heartbeat and PID files.
	DataDir string `koanf:"data_dir"`

	// ProjectRoot is used to derive the project tag stamped on captured
	// records. Defaults to the current working directory.
	ProjectRoot string `koanf:"project_root"`

	Worker WorkerConfig `koanf:"worker"`
	LLM    LLMConfig    `koanf:"llm"`
	Query  QueryConfig  `koanf:"query"`
	Log    LogConfig    `koanf:"log"`
}

// WorkerConfig configures the analysis worker daemon and its supervision.
type WorkerConfig struct {
	// Host and Port for the worker HTTP surface. Loopback only.
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// SuperviseInterval is how often the worker checks parent liveness
	// and heartbeat age.
	SuperviseInterval Duration `koanf:"supervise_interval"`

	// IdleThreshold is the maximum heartbeat age before the worker
	// decides nobody needs it anymore and exits.
	IdleThreshold Duration `koanf:"idle_threshold"`

	// SubmitTimeout bounds hook-side calls to POST /api/analyze. Hooks
	// run inside the host assistant and must never stall it.
	SubmitTimeout Duration `koanf:"submit_timeout"`

	// StartupWait bounds how long the supervisor polls the health
	// endpoint after spawning a new worker.
	StartupWait Duration `koanf:"startup_wait"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LLMConfig configures the analysis client.
//
// Credential precedence: AuthToken (host-provided, paired with the
// host-configured model and base URL) wins over APIKey (user-supplied,
// paired with the default model). With neither set, analysis is disabled.
type LLMConfig struct {
	AuthToken Secret `koanf:"auth_token"`
	APIKey    Secret `koanf:"api_key"`

	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`

	// UseBearerAuth selects "Authorization: Bearer" instead of the
	// provider-native X-API-Key header.
	UseBearerAuth bool `koanf:"use_bearer_auth"`

	// SkipTLSVerify disables certificate verification. Only for
	// internal proxies with self-signed certificates.
	SkipTLSVerify bool `koanf:"skip_tls_verify"`

	MaxTokens int      `koanf:"max_tokens"`
	Timeout   Duration `koanf:"timeout"`
}

// QueryConfig configures the graph query engine.
type QueryConfig struct {
	// TopK is the maximum number of entities returned per query.
	TopK int `koanf:"top_k"`

	// MinScore is the relevance threshold below which entities are dropped.
	MinScore int `koanf:"min_score"`

	// MaxRelations caps the relation list attached to a result.
	MaxRelations int `koanf:"max_relations"`

	// ProjectFilter restricts results to entities tagged with the current
	// project. Unset means permissive (all projects).
	ProjectFilter bool `koanf:"project_filter"`

	// UseLLMKeywords enables LLM-backed keyword extraction with a short
	// timeout; the stopword tokenizer remains the fallback.
	UseLLMKeywords bool `koanf:"use_llm_keywords"`

	// KeywordTimeout bounds the LLM keyword extraction call.
	KeywordTimeout Duration `koanf:"keyword_timeout"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `koanf:"level"`  // trace, debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// Default values. The port matches the local deployment variant.
const (
	DefaultPort         = 37777
	defaultModel        = "claude-3-5-haiku-20241022"
	defaultBaseURL      = "https://api.anthropic.com"
	defaultMaxTokens    = 1024
	defaultTopK         = 5
	defaultMinScore     = 1
	defaultMaxRelations = 5
)

// applyDefaults fills zero-valued fields with defaults.
func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(home, ".recalld")
		}
	}
	if cfg.ProjectRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.ProjectRoot = wd
		}
	}
	if cfg.Worker.Host == "" {
		cfg.Worker.Host = "127.0.0.1"
	}
	if cfg.Worker.Port == 0 {
		cfg.Worker.Port = DefaultPort
	}
	if cfg.Worker.SuperviseInterval == 0 {
		cfg.Worker.SuperviseInterval = Duration(10 * time.Second)
	}
	if cfg.Worker.IdleThreshold == 0 {
		cfg.Worker.IdleThreshold = Duration(time.Hour)
	}
	if cfg.Worker.SubmitTimeout == 0 {
		cfg.Worker.SubmitTimeout = Duration(2 * time.Second)
	}
	if cfg.Worker.StartupWait == 0 {
		cfg.Worker.StartupWait = Duration(5 * time.Second)
	}
	if cfg.Worker.ShutdownTimeout == 0 {
		cfg.Worker.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = defaultBaseURL
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = defaultModel
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = defaultMaxTokens
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(60 * time.Second)
	}
	if cfg.Query.TopK == 0 {
		cfg.Query.TopK = defaultTopK
	}
	if cfg.Query.MinScore == 0 {
		cfg.Query.MinScore = defaultMinScore
	}
	if cfg.Query.MaxRelations == 0 {
		cfg.Query.MaxRelations = defaultMaxRelations
	}
	if cfg.Query.KeywordTimeout == 0 {
		cfg.Query.KeywordTimeout = Duration(3 * time.Second)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if c.Worker.Port < 1 || c.Worker.Port > 65535 {
		return fmt.Errorf("worker port must be 1-65535, got %d", c.Worker.Port)
	}
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q", c.Log.Format)
	}
	if c.Query.TopK < 1 {
		return fmt.Errorf("query top_k must be positive, got %d", c.Query.TopK)
	}
	return nil
}

// Paths for the files recalld keeps under DataDir.

// EventLogPath returns the append-only event log location.
func (c *Config) EventLogPath() string {
	return filepath.Join(c.DataDir, "events.jsonl")
}

// GraphPath returns the knowledge graph store location.
func (c *Config) GraphPath() string {
	return filepath.Join(c.DataDir, "graph.jsonl")
}

// SessionDir returns the scratch-buffer directory.
func (c *Config) SessionDir() string {
	return filepath.Join(c.DataDir, "sessions")
}

// HeartbeatPath returns the heartbeat file location.
func (c *Config) HeartbeatPath() string {
	return filepath.Join(c.DataDir, "heartbeat")
}

// PIDPath returns the worker PID file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDir, "recalld.pid")
}

// ProjectTag derives the project tag from the project root basename.
// Returns "" when no root is configured.
func (c *Config) ProjectTag() string {
	if c.ProjectRoot == "" {
		return ""
	}
	return filepath.Base(c.ProjectRoot)
}

// WorkerBaseURL returns the worker HTTP surface base URL.
func (c *Config) WorkerBaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Worker.Host, c.Worker.Port)
}
