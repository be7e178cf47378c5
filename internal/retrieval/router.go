package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/cograg-go/internal/budget"
	"github.com/54b3r/cograg-go/internal/llm"
	"github.com/54b3r/cograg-go/internal/logging"
	"github.com/54b3r/cograg-go/internal/vectorindex"
)

// ErrNoRoute is returned when the router picks no known document.
var ErrNoRoute = errors.New("retrieval: router selected no documents")

const routerPrompt = `You route a search query to the documents most likely to answer it.
You are given the query and a numbered list of candidate documents, each with
its id and a distilled summary. Pick the documents that are relevant, most
relevant first. Ignore documents that are off-topic.

Respond with JSON: {"doc_ids": ["<id>", ...]}`

// Router picks relevant documents by letting an LLM read their distilled
// summaries instead of trusting document-layer vector scores.
type Router struct {
	llm         llm.Completer
	model       string
	tokenBudget int
}

// NewRouter returns a Router. model may be empty to use the client default.
func NewRouter(c llm.Completer, model string) *Router {
	return &Router{llm: c, model: model, tokenBudget: budget.DefaultRouterTokens}
}

type routeAnswer struct {
	DocIDs []string `json:"doc_ids"`
}

// Route returns up to limit document IDs from candidates, in the order the
// model ranked them. IDs the model invents are discarded.
func (r *Router) Route(ctx context.Context, query string, candidates []vectorindex.Hit, limit int) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	per := budget.Share(r.tokenBudget, len(candidates), 64)

	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nCandidates:\n", query)
	known := make(map[string]bool, len(candidates))
	for i, c := range candidates {
		known[c.Payload.DocID] = true
		summary := strings.Join(strings.Fields(c.Payload.Content), " ")
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, c.Payload.DocID, budget.Truncate(summary, per))
	}

	resp, err := r.llm.Complete(ctx, &llm.Request{
		Model: r.model,
		Messages: []*schema.Message{
			schema.SystemMessage(routerPrompt),
			schema.UserMessage(b.String()),
		},
		Temperature:    llm.Float32(0),
		MaxTokens:      512,
		ResponseFormat: llm.FormatJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: route: %w", err)
	}

	ids, err := parseRoute(resp.Content)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, min(len(ids), limit))
	for _, id := range ids {
		if !known[id] || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if len(out) == limit {
			break
		}
	}
	if len(out) == 0 {
		return nil, ErrNoRoute
	}
	logging.FromContext(ctx).Debug("retrieval: routed documents",
		slog.Int("candidates", len(candidates)),
		slog.Any("doc_ids", out),
	)
	return out, nil
}

// parseRoute accepts the JSON object, optionally wrapped in prose or a
// code fence.
func parseRoute(raw string) ([]string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("retrieval: route: no JSON object in response")
	}
	var ans routeAnswer
	if err := json.Unmarshal([]byte(raw[start:end+1]), &ans); err != nil {
		return nil, fmt.Errorf("retrieval: route: decode: %w", err)
	}
	return ans.DocIDs, nil
}
