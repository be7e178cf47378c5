package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Pinger probes the configured backend without spending tokens: Ollama's
// /api/tags, or the /models listing of OpenAI-compatible endpoints.
type Pinger struct {
	cfg    *Config
	client *http.Client
}

// NewPinger returns a Pinger for cfg, or nil when the backend has no
// zero-cost health endpoint (Azure, Ark, Gemini).
func NewPinger(cfg *Config) *Pinger {
	switch cfg.Backend {
	case BackendOllama, BackendOpenAI:
		return &Pinger{cfg: cfg, client: &http.Client{}}
	default:
		return nil
	}
}

// Name returns the backend label used in readiness responses.
func (p *Pinger) Name() string { return string(p.cfg.Backend) }

// Ping issues a GET against the backend's listing endpoint.
func (p *Pinger) Ping(ctx context.Context) error {
	url := p.url()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("provider: build health request: %w", err)
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: health request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only probe

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider: %s health check returned status %d", p.cfg.Backend, resp.StatusCode)
	}
	return nil
}

func (p *Pinger) url() string {
	base := strings.TrimRight(p.cfg.BaseURL, "/")
	if p.cfg.Backend == BackendOllama {
		if base == "" {
			base = defaultOllamaURL
		}
		return base + "/api/tags"
	}
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	return base + "/models"
}
