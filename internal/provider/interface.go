// Package provider constructs the eino chat model that backs every LLM call
// cograg makes: cognitive summaries and document routing.
// Supported backends: Ollama, OpenAI, Azure OpenAI, Ark (Volcano Engine), Google Gemini.
package provider

import (
	"fmt"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API or any OpenAI-compatible endpoint.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects Volcano Engine Ark.
	BackendArk Backend = "ark"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// Config holds provider-level configuration resolved from environment
// variables or supplied by the caller.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	// Model is the model name or deployment ID (e.g. "gpt-4o", "qwen2.5:14b").
	Model string

	// BaseURL overrides the default API endpoint. Required for Azure.
	BaseURL string

	// APIKey is the authentication credential for the selected provider.
	APIKey string

	// AzureDeployment is the Azure OpenAI deployment name (Azure only).
	AzureDeployment string

	// AzureAPIVersion is the Azure OpenAI REST API version (Azure only).
	AzureAPIVersion string

	// MaxTokens caps generated tokens per response unless a call overrides it.
	MaxTokens int

	// Temperature is the default sampling temperature; calls may override it.
	Temperature float32
}

// Validate reports the first missing or invalid field for the selected
// backend, naming the env var that sets it.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOllama:
		if c.Model == "" {
			return fmt.Errorf("provider: MODEL_NAME is required for ollama backend")
		}
	case BackendOpenAI, BackendGemini, BackendArk:
		if c.APIKey == "" {
			return fmt.Errorf("provider: MODEL_API_KEY is required for %s backend", c.Backend)
		}
		if c.Model == "" {
			return fmt.Errorf("provider: MODEL_NAME is required for %s backend", c.Backend)
		}
	case BackendAzure:
		if c.APIKey == "" {
			return fmt.Errorf("provider: MODEL_API_KEY is required for azure backend")
		}
		if c.BaseURL == "" {
			return fmt.Errorf("provider: MODEL_BASE_URL (Azure endpoint) is required for azure backend")
		}
		if c.AzureDeployment == "" {
			return fmt.Errorf("provider: AZURE_DEPLOYMENT is required for azure backend")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q, valid values: ollama, openai, azure, ark, gemini", c.Backend)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("provider: MODEL_MAX_TOKENS must not be negative, got %d", c.MaxTokens)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("provider: MODEL_TEMPERATURE must be in [0, 2], got %v", c.Temperature)
	}
	return nil
}
