// Package config provides YAML-based configuration for lawrag.
// Values are layered: defaults → YAML file → env vars. Environment variables
// always win, so a deployment can override any single key without editing
// the file.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. LAWRAG_CONFIG environment variable
//  3. ~/.lawrag/config.yaml
//  4. ./lawrag.yaml
//
// If no file is found the process runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
type Config struct {
	// Corpus configures the legal corpus and its vector index.
	Corpus CorpusConfig `yaml:"corpus"`

	// Retrieval tunes the orchestrator.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// History configures the conversation history provider and ranker.
	History HistoryConfig `yaml:"history"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Qdrant configures the managed vector index.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// CorpusConfig holds corpus file and local index settings.
type CorpusConfig struct {
	// Path is the JSON file holding the section records.
	Path string `yaml:"path"`
	// StoreDir is the directory of the linear fallback index.
	StoreDir string `yaml:"store_dir"`
	// BatchSize is the number of sections embedded per indexing batch.
	BatchSize int `yaml:"batch_size"`
}

// RetrievalConfig holds orchestrator settings.
type RetrievalConfig struct {
	// TopK is the number of sections returned by a vector search.
	TopK int `yaml:"top_k"`
}

// HistoryConfig holds conversation history settings.
type HistoryConfig struct {
	// URL is the base URL of the conversation history service.
	URL string `yaml:"url"`
	// TopN is the number of ranked messages kept.
	TopN int `yaml:"top_n"`
	// RecencyWeight blends recency into the ranking score (0.0 to 1.0).
	RecencyWeight float32 `yaml:"recency_weight"`
	// ContextBudget is the character budget of the assembled context block.
	ContextBudget int `yaml:"context_budget"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure, gemini).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// CacheDB is the SQLite embedding cache path. "disabled" turns it off.
	CacheDB string `yaml:"cache_db"`
}

// QdrantConfig holds Qdrant settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Empty selects the linear index.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// envMapping maps YAML config fields to their env var names.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"LAWRAG_CORPUS_PATH", func(c *Config) string { return c.Corpus.Path }},
	{"LAWRAG_STORE_DIR", func(c *Config) string { return c.Corpus.StoreDir }},
	{"LAWRAG_INDEX_BATCH_SIZE", func(c *Config) string { return intStr(c.Corpus.BatchSize) }},
	{"LAWRAG_TOP_K", func(c *Config) string { return intStr(c.Retrieval.TopK) }},
	{"LAWRAG_HISTORY_URL", func(c *Config) string { return c.History.URL }},
	{"LAWRAG_HISTORY_TOP_N", func(c *Config) string { return intStr(c.History.TopN) }},
	{"LAWRAG_RECENCY_WEIGHT", func(c *Config) string { return float32Str(c.History.RecencyWeight) }},
	{"LAWRAG_CONTEXT_BUDGET", func(c *Config) string { return intStr(c.History.ContextBudget) }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_CACHE_DB", func(c *Config) string { return c.Embedding.CacheDB }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"LAWRAG_HOST", func(c *Config) string { return c.Server.Host }},
	{"LAWRAG_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten.
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env wins
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("LAWRAG_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".lawrag", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("lawrag.yaml"); err == nil {
		return "lawrag.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
