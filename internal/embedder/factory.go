package embedder

import (
	"fmt"

	"github.com/54b3r/cograg-go/internal/config"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"

	defaultOllamaDimensions = 768
	defaultOpenAIDimensions = 1536
)

// DefaultDimensions returns the vector size to create collections with for
// backend. EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v := config.Int("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	if backend == "ollama" {
		return defaultOllamaDimensions
	}
	return defaultOpenAIDimensions
}

// Backend returns the effective embedding backend: EMBEDDING_PROVIDER, else
// MODEL_PROVIDER, else ollama.
func Backend() string {
	return config.String("EMBEDDING_PROVIDER", config.String("MODEL_PROVIDER", "ollama"))
}

// NewFromEnv constructs the backend client, inheriting chat provider
// settings where embedding-specific ones are unset.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER, else MODEL_PROVIDER (default: ollama)
//  2. EMBEDDING_ENDPOINT, else MODEL_BASE_URL
//  3. EMBEDDING_API_KEY, else MODEL_API_KEY
//  4. EMBEDDING_MODEL, else the backend default
//  5. EMBEDDING_DIMENSIONS, else the backend default
func NewFromEnv() (Embedder, error) {
	backend := Backend()
	endpoint := config.String("EMBEDDING_ENDPOINT", config.String("MODEL_BASE_URL", ""))
	apiKey := config.String("EMBEDDING_API_KEY", config.String("MODEL_API_KEY", ""))

	switch backend {
	case "ollama":
		if endpoint == "" {
			endpoint = "http://localhost:11434"
		}
		return NewOllamaEmbedder(&OllamaConfig{
			Host:  endpoint,
			Model: config.String("EMBEDDING_MODEL", defaultOllamaModel),
		}), nil

	case "openai":
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires EMBEDDING_API_KEY or MODEL_API_KEY")
		}
		if endpoint == "" {
			endpoint = "https://api.openai.com/v1"
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    endpoint,
			APIKey:     apiKey,
			Model:      config.String("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: config.Int("EMBEDDING_DIMENSIONS", 0),
		}), nil

	case "azure":
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires EMBEDDING_API_KEY or MODEL_API_KEY")
		}
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires EMBEDDING_ENDPOINT or MODEL_BASE_URL")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    endpoint + "/openai",
			APIKey:     apiKey,
			Model:      config.String("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: config.Int("EMBEDDING_DIMENSIONS", 0),
			Azure:      true,
			APIVersion: config.String("AZURE_OPENAI_API_VERSION", "2024-10-21"),
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q, valid values: ollama, openai, azure", backend)
	}
}

// GatewayConfigFromEnv reads EMBEDDING_BATCH_SIZE, EMBEDDING_CONCURRENCY,
// EMBEDDING_RPS, and the effective dimensions.
func GatewayConfigFromEnv() GatewayConfig {
	return GatewayConfig{
		BatchSize:   config.Int("EMBEDDING_BATCH_SIZE", DefaultBatchSize),
		Concurrency: config.Int("EMBEDDING_CONCURRENCY", DefaultConcurrency),
		RPS:         config.Float64("EMBEDDING_RPS", 0),
		Dimensions:  DefaultDimensions(Backend()),
		Timeout:     config.Duration("EMBEDDING_TIMEOUT", DefaultTimeout),
	}
}

// NewGatewayFromEnv builds the backend and wraps it in a Gateway.
func NewGatewayFromEnv() (*Gateway, error) {
	backend, err := NewFromEnv()
	if err != nil {
		return nil, err
	}
	return NewGateway(backend, GatewayConfigFromEnv()), nil
}
