package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables that override the config file.
const (
	EnvDebug             = "TABWISE_DEBUG"
	EnvServerPort        = "TABWISE_SERVER_PORT"
	EnvDatabasePath      = "TABWISE_DATABASE_PATH"
	EnvOllamaHost        = "TABWISE_OLLAMA_HOST"
	EnvEmbeddingProvider = "TABWISE_EMBEDDING_PROVIDER"
)

// LoadDotEnv loads variables from path into the environment without overriding ones that
// are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg fields from TABWISE_* variables.
func ApplyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv(EnvDebug); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvDebug, err)
		}
		cfg.Debug = b
	}
	if v, ok := os.LookupEnv(EnvServerPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvServerPort, err)
		}
		cfg.Server.Port = port
	}
	if v, ok := os.LookupEnv(EnvDatabasePath); ok && v != "" {
		cfg.Storage.DatabasePath = v
	}
	if v, ok := os.LookupEnv(EnvOllamaHost); ok && v != "" {
		cfg.Embedding.OllamaHost = v
	}
	if v, ok := os.LookupEnv(EnvEmbeddingProvider); ok && v != "" {
		cfg.Embedding.Provider = v
	}
	return nil
}
