// Package config provides configuration loading for recalld.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// envPrefix namespaces recalld environment variables.
	envPrefix = "RECALLD_"
)

// Load loads configuration from the default YAML file and environment.
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (RECALLD_WORKER_PORT, RECALLD_LLM_API_KEY, ...)
//  2. YAML config file (~/.config/recalld/config.yaml by default)
//  3. Hardcoded defaults
//
// Environment variables drop the RECALLD_ prefix and split on the first
// underscore into section.field:
//
//	RECALLD_WORKER_PORT       -> worker.port
//	RECALLD_LLM_API_KEY       -> llm.api_key
//	RECALLD_LLM_USE_BEARER_AUTH -> llm.use_bearer_auth
//	RECALLD_DATA_DIR          -> data_dir (root fields keep one level)
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "recalld", "config.yaml")
	}

	// Load from YAML file if it exists.
	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Override with environment variables.
	if err := k.Load(env.Provider(envPrefix, ".", transformEnvKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// rootEnvFields are top-level config keys that must not be split into
// section.field form.
var rootEnvFields = map[string]bool{
	"data_dir":     true,
	"project_root": true,
}

// transformEnvKey maps RECALLD_SECTION_FIELD_NAME to section.field_name.
//
// The split happens on the first underscore only, so compound field names
// keep their underscores: RECALLD_LLM_SKIP_TLS_VERIFY -> llm.skip_tls_verify.
func transformEnvKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))

	if rootEnvFields[lower] {
		return lower
	}

	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}
