// Package rerank calls an external cross-encoder service that re-scores a
// small candidate set against a query. The wire format is the one shared by
// Jina, Cohere-compatible gateways, TEI, and SiliconFlow:
//
//	POST {endpoint}/rerank {"model", "query", "documents", "top_n"}
//	-> {"results": [{"index", "relevance_score"}]}
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/cograg-go/internal/config"
)

// ErrRerank wraps every failure returned by [Client.Rerank].
var ErrRerank = errors.New("rerank: request failed")

// DefaultTimeout bounds one rerank call.
const DefaultTimeout = 10 * time.Second

// Result is one re-scored candidate, identified by its position in the
// documents slice passed to Rerank.
type Result struct {
	Index int
	Score float64
}

// Reranker re-scores documents against query and returns at most topN
// results ordered by descending relevance.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error)
}

// Config holds the settings for a [Client].
type Config struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// ConfigFromEnv reads RERANK_ENDPOINT, RERANK_MODEL, RERANK_API_KEY, and
// RERANK_TIMEOUT.
func ConfigFromEnv() Config {
	return Config{
		Endpoint: config.String("RERANK_ENDPOINT", ""),
		Model:    config.String("RERANK_MODEL", "bge-reranker-v2-m3"),
		APIKey:   config.String("RERANK_API_KEY", ""),
		Timeout:  config.Duration("RERANK_TIMEOUT", DefaultTimeout),
	}
}

// Client is an HTTP [Reranker].
type Client struct {
	endpoint string
	model    string
	apiKey   string
	http     *http.Client
}

// New returns a Client, or nil when no endpoint is configured so callers can
// treat reranking as disabled.
func New(cfg Config) *Client {
	if cfg.Endpoint == "" {
		return nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: cfg.Timeout},
	}
}

type request struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type response struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank implements [Reranker]. Results with an out-of-range index are
// rejected rather than silently dropped.
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if topN <= 0 || topN > len(documents) {
		topN = len(documents)
	}

	payload, err := json.Marshal(request{Model: c.model, Query: query, Documents: documents, TopN: topN})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal: %w", ErrRerank, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRerank, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRerank, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrRerank, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrRerank, err)
	}

	results := make([]Result, 0, len(out.Results))
	for _, r := range out.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, fmt.Errorf("%w: index %d out of range [0, %d)", ErrRerank, r.Index, len(documents))
		}
		results = append(results, Result{Index: r.Index, Score: r.RelevanceScore})
	}
	return results, nil
}
