// Package config provides YAML-based configuration for cograg.
// Configuration is loaded with a layered precedence: defaults → .env → YAML file → env vars.
// Environment variables always win, so container deployments stay env-driven.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. COGRAG_CONFIG environment variable
//  3. ~/.cograg/config.yaml
//  4. ./cograg.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the LLM chat model provider.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider and gateway.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Qdrant configures the Qdrant vector index connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Chunking configures the parent/child splitter.
	Chunking ChunkingConfig `yaml:"chunking"`

	// Summary configures the cognitive summarizer.
	Summary SummaryConfig `yaml:"summary"`

	// Retrieval configures the retrieval orchestrator defaults.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Rerank configures the cross-encoder rerank service.
	Rerank RerankConfig `yaml:"rerank"`

	// Worker configures the ingestion worker pool.
	Worker WorkerConfig `yaml:"worker"`

	// Store configures the metadata store.
	Store StoreConfig `yaml:"store"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds LLM chat model settings.
type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	Name        string  `yaml:"name"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
	// Azure holds Azure OpenAI-specific settings.
	Azure AzureConfig `yaml:"azure"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Dimensions  int     `yaml:"dimensions"`
	APIKey      string  `yaml:"api_key"`
	Endpoint    string  `yaml:"endpoint"`
	BatchSize   int     `yaml:"batch_size"`
	Concurrency int     `yaml:"concurrency"`
	RPS         float64 `yaml:"rps"`
}

// QdrantConfig holds Qdrant vector index settings.
type QdrantConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	CollectionPrefix string `yaml:"collection_prefix"`
	APIKey           string `yaml:"api_key"`
	TLS              bool   `yaml:"tls"`
	UpsertBatch      int    `yaml:"upsert_batch"`
	// Index selects the backend: qdrant (default) or memory.
	Index string `yaml:"index"`
}

// ChunkingConfig holds parent/child splitter settings.
type ChunkingConfig struct {
	ParentSize          int  `yaml:"parent_size"`
	ParentOverlap       int  `yaml:"parent_overlap"`
	ChildSize           int  `yaml:"child_size"`
	ChildOverlap        int  `yaml:"child_overlap"`
	StreamThreshold     int  `yaml:"stream_threshold"`
	WindowSize          int  `yaml:"window_size"`
	NormalizeWhitespace bool `yaml:"normalize_whitespace"`
	StripURLs           bool `yaml:"strip_urls"`
}

// SummaryConfig holds cognitive summarizer settings.
type SummaryConfig struct {
	Model     string `yaml:"model"`
	MaxWindow int    `yaml:"max_window"`
	MaxTokens int    `yaml:"max_tokens"`
	Stream    bool   `yaml:"stream"`
}

// RetrievalConfig holds retrieval defaults.
type RetrievalConfig struct {
	ScoreThreshold   float32 `yaml:"score_threshold"`
	DocLimit         int     `yaml:"doc_limit"`
	DocTopK          int     `yaml:"doc_top_k"`
	ChildLimitDocs   int     `yaml:"child_limit_docs"`
	ChildLimitGlobal int     `yaml:"child_limit_global"`
	ChildTopK        int     `yaml:"child_top_k"`
	DocRouting       bool    `yaml:"doc_routing"`
}

// RerankConfig holds cross-encoder rerank service settings.
type RerankConfig struct {
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	Timeout  string `yaml:"timeout"`
}

// WorkerConfig holds ingestion worker settings.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// StoreConfig holds metadata store settings.
type StoreConfig struct {
	// DBPath is the SQLite database path.
	DBPath string `yaml:"db_path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var COGRAG_API_KEY.
	APIKey string `yaml:"api_key"`
	// RateLimit is the per-IP request rate on write and retrieve routes.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
	// MaxUploadBytes bounds POST /api/documents bodies.
	MaxUploadBytes int `yaml:"max_upload_bytes"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	PublicKey string `yaml:"public_key"`
	SecretKey string `yaml:"secret_key"`
	Host      string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_NAME", func(c *Config) string { return c.Model.Name }},
	{"MODEL_BASE_URL", func(c *Config) string { return c.Model.BaseURL }},
	{"MODEL_API_KEY", func(c *Config) string { return c.Model.APIKey }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"AZURE_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_BATCH_SIZE", func(c *Config) string { return intStr(c.Embedding.BatchSize) }},
	{"EMBEDDING_CONCURRENCY", func(c *Config) string { return intStr(c.Embedding.Concurrency) }},
	{"EMBEDDING_RPS", func(c *Config) string { return float64Str(c.Embedding.RPS) }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION_PREFIX", func(c *Config) string { return c.Qdrant.CollectionPrefix }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"QDRANT_UPSERT_BATCH", func(c *Config) string { return intStr(c.Qdrant.UpsertBatch) }},
	{"VECTOR_INDEX", func(c *Config) string { return c.Qdrant.Index }},
	{"CHUNK_PARENT_SIZE", func(c *Config) string { return intStr(c.Chunking.ParentSize) }},
	{"CHUNK_PARENT_OVERLAP", func(c *Config) string { return intStr(c.Chunking.ParentOverlap) }},
	{"CHUNK_CHILD_SIZE", func(c *Config) string { return intStr(c.Chunking.ChildSize) }},
	{"CHUNK_CHILD_OVERLAP", func(c *Config) string { return intStr(c.Chunking.ChildOverlap) }},
	{"CHUNK_STREAM_THRESHOLD", func(c *Config) string { return intStr(c.Chunking.StreamThreshold) }},
	{"CHUNK_WINDOW_SIZE", func(c *Config) string { return intStr(c.Chunking.WindowSize) }},
	{"CHUNK_NORMALIZE_WHITESPACE", func(c *Config) string { return boolStr(c.Chunking.NormalizeWhitespace) }},
	{"CHUNK_STRIP_URLS", func(c *Config) string { return boolStr(c.Chunking.StripURLs) }},
	{"SUMMARY_MODEL", func(c *Config) string { return c.Summary.Model }},
	{"SUMMARY_MAX_WINDOW", func(c *Config) string { return intStr(c.Summary.MaxWindow) }},
	{"SUMMARY_MAX_TOKENS", func(c *Config) string { return intStr(c.Summary.MaxTokens) }},
	{"SUMMARY_STREAM", func(c *Config) string { return boolStr(c.Summary.Stream) }},
	{"RETRIEVAL_SCORE_THRESHOLD", func(c *Config) string { return float32Str(c.Retrieval.ScoreThreshold) }},
	{"RETRIEVAL_DOC_LIMIT", func(c *Config) string { return intStr(c.Retrieval.DocLimit) }},
	{"RETRIEVAL_DOC_TOPK", func(c *Config) string { return intStr(c.Retrieval.DocTopK) }},
	{"RETRIEVAL_CHILD_LIMIT_DOCS", func(c *Config) string { return intStr(c.Retrieval.ChildLimitDocs) }},
	{"RETRIEVAL_CHILD_LIMIT_GLOBAL", func(c *Config) string { return intStr(c.Retrieval.ChildLimitGlobal) }},
	{"RETRIEVAL_CHILD_TOPK", func(c *Config) string { return intStr(c.Retrieval.ChildTopK) }},
	{"RETRIEVAL_DOC_ROUTING", func(c *Config) string { return boolStr(c.Retrieval.DocRouting) }},
	{"RERANK_ENDPOINT", func(c *Config) string { return c.Rerank.Endpoint }},
	{"RERANK_MODEL", func(c *Config) string { return c.Rerank.Model }},
	{"RERANK_API_KEY", func(c *Config) string { return c.Rerank.APIKey }},
	{"RERANK_TIMEOUT", func(c *Config) string { return c.Rerank.Timeout }},
	{"WORKER_CONCURRENCY", func(c *Config) string { return intStr(c.Worker.Concurrency) }},
	{"COGRAG_DB", func(c *Config) string { return c.Store.DBPath }},
	{"SERVER_HOST", func(c *Config) string { return c.Server.Host }},
	{"SERVER_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"COGRAG_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"SERVER_RATE_LIMIT", func(c *Config) string { return float64Str(c.Server.RateLimit) }},
	{"SERVER_RATE_BURST", func(c *Config) string { return intStr(c.Server.RateBurst) }},
	{"SERVER_MAX_UPLOAD_BYTES", func(c *Config) string { return intStr(c.Server.MaxUploadBytes) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// LoadDotEnv loads a .env file from the working directory if one exists.
// Variables already present in the environment are left untouched.
func LoadDotEnv(log *slog.Logger) error {
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to load .env: %w", err)
	}
	log.Debug("config: loaded .env file")
	return nil
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
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
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: failed to set %s: %w", m.envKey, err)
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

	if envPath := os.Getenv("COGRAG_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".cograg", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("cograg.yaml"); err == nil {
		return "cograg.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// float64Str converts a float64 to string, returning "" for zero values.
func float64Str(v float64) string {
	return float32Str(float32(v))
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
