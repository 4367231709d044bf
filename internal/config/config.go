// Package config provides configuration loading and structs for the tabwise server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	Matching  MatchingConfig  `yaml:"matching"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Expiry    ExpiryConfig    `yaml:"expiry"`
	Search    SearchConfig    `yaml:"search"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the database and indices. An empty bleve_index_path keeps
// the keyword index in memory; an empty vector_index_path disables snapshots.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path"`
	BleveIndexPath  string `yaml:"bleve_index_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider    string        `yaml:"provider"`
	ModelPath   string        `yaml:"model_path"`
	Dimensions  int           `yaml:"dimensions"`
	MaxTokens   int           `yaml:"max_tokens"`
	CacheSize   int           `yaml:"cache_size"`
	OllamaHost  string        `yaml:"ollama_host"`
	OllamaModel string        `yaml:"ollama_model"`
	Timeout     time.Duration `yaml:"timeout"`
}

// VectorConfig selects the vector index implementation.
type VectorConfig struct {
	IndexType string `yaml:"index_type"`
}

// MatchingConfig holds the similarity thresholds.
type MatchingConfig struct {
	RoutingThreshold float64 `yaml:"routing_threshold"`
	OverlapThreshold float64 `yaml:"overlap_threshold"`
}

// ReconcileConfig controls the background reconciliation loop.
type ReconcileConfig struct {
	Enabled       bool            `yaml:"enabled"`
	Interval      time.Duration   `yaml:"interval"`
	PromptTimeout time.Duration   `yaml:"prompt_timeout"`
	Interactive   bool            `yaml:"interactive"`
	TabSource     TabSourceConfig `yaml:"tab_source"`
}

// TabSourceConfig selects where open tabs come from.
type TabSourceConfig struct {
	Type  string `yaml:"type"`
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// ExpiryConfig controls observation expiry. A zero sweep_interval disables the timer.
type ExpiryConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// SearchConfig holds search result limits.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// Load reads and parses the config file at path, applies .env and TABWISE_* overrides,
// applies defaults and expands paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	if err := LoadDotEnv(filepath.Join(configDir, ".env")); err != nil {
		return nil, err
	}
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Reconcile.TabSource.Path = expandPath(cfg.Reconcile.TabSource.Path, configDir)

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty stays empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
