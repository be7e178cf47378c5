package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/cograg-go/internal/llm"
	"github.com/54b3r/cograg-go/internal/logging"
	"github.com/54b3r/cograg-go/internal/provider"
)

// LLMPinger probes the summarization model for GET /api/ready.
type LLMPinger struct {
	// health is the zero-cost listing probe; nil for backends without one.
	health *provider.Pinger
	// completer is used when health is nil. Every probe spends a token.
	completer llm.Completer
	name      string
}

// NewLLMPinger prefers cfg's zero-cost health endpoint and falls back to a
// one-token completion through c.
func NewLLMPinger(cfg *provider.Config, c llm.Completer) *LLMPinger {
	return &LLMPinger{health: provider.NewPinger(cfg), completer: c, name: string(cfg.Backend)}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping checks that the backend answers.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.health != nil {
		return p.health.Ping(ctx)
	}
	if p.completer == nil {
		return fmt.Errorf("%s: no health endpoint and no completer", p.name)
	}

	logging.FromContext(ctx).Debug("pinger: completion-based health check",
		slog.String("backend", p.name),
	)
	_, err := p.completer.Complete(ctx, &llm.Request{
		Messages:  []*schema.Message{schema.UserMessage("ping")},
		MaxTokens: 1,
	})
	if err != nil {
		return fmt.Errorf("completion probe failed: %w", err)
	}
	return nil
}
