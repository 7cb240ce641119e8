// Package config provides configuration for the mnema retrieval engine.
// Settings load from an optional YAML file overridden by environment
// variables with the MNEMA_ prefix, with sensible defaults for everything.
//
// The resulting Config is an explicit value passed to constructors — search
// weights and thresholds are never ambient process-wide state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all settings for the retrieval engine.
type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	RemoteKeyword RemoteKeywordConfig `yaml:"remote_keyword"`
	Search        SearchConfig        `yaml:"search"`
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	// Engine selects the vector store backend: sqlite or postgres.
	Engine string `yaml:"engine"`

	// DataPath is the directory holding the SQLite database files.
	DataPath string `yaml:"data_path"`

	// PostgresDSN is the lib/pq connection string for the pgvector backend.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "10s"
// (yaml.v3 has no native duration support) as well as raw nanosecond
// integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: invalid duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a plain time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// EmbeddingConfig contains embedding service configuration.
type EmbeddingConfig struct {
	BaseURL   string   `yaml:"base_url"`
	APIKey    string   `yaml:"api_key"`
	Model     string   `yaml:"model"`
	Dimension int      `yaml:"dimension"`
	Timeout   Duration `yaml:"timeout"`
}

// RemoteKeywordConfig contains the remote NLP keyword service configuration.
// An empty BaseURL disables the remote tier entirely; extraction then always
// uses the local heuristic.
type RemoteKeywordConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// SearchConfig contains the hybrid search tuning knobs.
type SearchConfig struct {
	// KeywordWeight scales the lexical path's contribution to fused scores.
	KeywordWeight float64 `yaml:"keyword_weight"`

	// VectorWeight scales the semantic path's contribution to fused scores.
	// The two weights are not required to sum to 1 and fused scores are not
	// renormalized when they don't.
	VectorWeight float64 `yaml:"vector_weight"`

	// Threshold is the minimum score below which candidates are excluded.
	Threshold float64 `yaml:"threshold"`

	// DefaultLimit applies when a caller passes no limit.
	DefaultLimit int `yaml:"default_limit"`
}

// Load reads configuration from the optional YAML file at path (skipped when
// path is empty or the file does not exist), then applies MNEMA_ environment
// variables, then fills remaining zero values with defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects out-of-range search settings before they reach the engine.
func (c *Config) Validate() error {
	if c.Search.KeywordWeight < 0 || c.Search.VectorWeight < 0 {
		return fmt.Errorf("config: search weights must be non-negative")
	}
	if c.Search.Threshold < 0 || c.Search.Threshold > 1 {
		return fmt.Errorf("config: search threshold %v outside [0,1]", c.Search.Threshold)
	}
	if c.Storage.Engine != "sqlite" && c.Storage.Engine != "postgres" {
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Storage.Engine = getEnv("MNEMA_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DataPath = getEnv("MNEMA_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("MNEMA_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.Embedding.BaseURL = getEnv("MNEMA_EMBEDDING_URL", cfg.Embedding.BaseURL)
	cfg.Embedding.APIKey = getEnv("MNEMA_EMBEDDING_API_KEY", cfg.Embedding.APIKey)
	cfg.Embedding.Model = getEnv("MNEMA_EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.Dimension = getEnvInt("MNEMA_EMBEDDING_DIMENSION", cfg.Embedding.Dimension)
	cfg.Embedding.Timeout = Duration(getEnvDuration("MNEMA_EMBEDDING_TIMEOUT", cfg.Embedding.Timeout.Std()))

	cfg.RemoteKeyword.BaseURL = getEnv("MNEMA_KEYWORD_URL", cfg.RemoteKeyword.BaseURL)
	cfg.RemoteKeyword.Timeout = Duration(getEnvDuration("MNEMA_KEYWORD_TIMEOUT", cfg.RemoteKeyword.Timeout.Std()))

	cfg.Search.KeywordWeight = getEnvFloat("MNEMA_KEYWORD_WEIGHT", cfg.Search.KeywordWeight)
	cfg.Search.VectorWeight = getEnvFloat("MNEMA_VECTOR_WEIGHT", cfg.Search.VectorWeight)
	cfg.Search.Threshold = getEnvFloat("MNEMA_SEARCH_THRESHOLD", cfg.Search.Threshold)
	cfg.Search.DefaultLimit = getEnvInt("MNEMA_SEARCH_LIMIT", cfg.Search.DefaultLimit)
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Engine == "" {
		cfg.Storage.Engine = "sqlite"
	}
	if cfg.Storage.DataPath == "" {
		cfg.Storage.DataPath = "./data"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = 1536
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = Duration(10 * time.Second)
	}
	if cfg.RemoteKeyword.Timeout == 0 {
		cfg.RemoteKeyword.Timeout = Duration(10 * time.Second)
	}
	if cfg.Search.KeywordWeight == 0 && cfg.Search.VectorWeight == 0 {
		cfg.Search.KeywordWeight = 0.3
		cfg.Search.VectorWeight = 0.7
	}
	if cfg.Search.Threshold == 0 {
		cfg.Search.Threshold = 0.3
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
}

// getEnv retrieves a string environment variable or returns the fallback.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable or returns the
// fallback; unparseable values also return the fallback.
func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
