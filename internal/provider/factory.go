package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/cograg-go/internal/config"
)

// ConfigFromEnv resolves a Config from environment variables.
//
// Environment variables:
//
//	MODEL_PROVIDER           = ollama | openai | azure | ark | gemini (default: ollama)
//	MODEL_NAME               (default: qwen2.5:7b for ollama)
//	MODEL_BASE_URL, MODEL_API_KEY
//	AZURE_DEPLOYMENT, AZURE_OPENAI_API_VERSION (default: 2024-10-21)
//	MODEL_MAX_TOKENS         (default: 4096)
//	MODEL_TEMPERATURE        (default: 0.3)
func ConfigFromEnv() *Config {
	backend := Backend(config.String("MODEL_PROVIDER", string(BackendOllama)))
	defaultModel := ""
	if backend == BackendOllama {
		defaultModel = "qwen2.5:7b"
	}
	return &Config{
		Backend:         backend,
		Model:           config.String("MODEL_NAME", defaultModel),
		BaseURL:         config.String("MODEL_BASE_URL", ""),
		APIKey:          config.String("MODEL_API_KEY", ""),
		AzureDeployment: config.String("AZURE_DEPLOYMENT", ""),
		AzureAPIVersion: config.String("AZURE_OPENAI_API_VERSION", "2024-10-21"),
		MaxTokens:       config.Int("MODEL_MAX_TOKENS", 4096),
		Temperature:     config.Float32("MODEL_TEMPERATURE", 0.3),
	}
}

// NewFromEnv constructs a chat model from [ConfigFromEnv].
func NewFromEnv(ctx context.Context) (model.BaseChatModel, *Config, error) {
	cfg := ConfigFromEnv()
	m, err := New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return m, cfg, nil
}

// New validates cfg and constructs the matching backend, so misconfiguration
// fails at startup rather than on the first summary.
func New(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var (
		m   model.BaseChatModel
		err error
	)
	switch cfg.Backend {
	case BackendOllama:
		m, err = newOllama(ctx, cfg)
	case BackendOpenAI:
		m, err = newOpenAI(ctx, cfg)
	case BackendAzure:
		m, err = newAzure(ctx, cfg)
	case BackendArk:
		m, err = newArk(ctx, cfg)
	case BackendGemini:
		m, err = newGemini(ctx, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("provider: build %s model: %w", cfg.Backend, err)
	}
	return m, nil
}
