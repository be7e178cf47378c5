// Package retrieval assembles layered context for a query: matching
// documents, the child passages that matched best, and the parent sections
// those passages came from.
package retrieval

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/54b3r/cograg-go/internal/embedder"
	"github.com/54b3r/cograg-go/internal/logging"
	"github.com/54b3r/cograg-go/internal/metrics"
	"github.com/54b3r/cograg-go/internal/rerank"
	"github.com/54b3r/cograg-go/internal/vectorindex"
)

// Orchestrator runs the retrieval pipeline. It is safe for concurrent use.
type Orchestrator struct {
	embedder embedder.Embedder
	index    vectorindex.Index
	reranker rerank.Reranker
	router   *Router
	metrics  *metrics.Metrics
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithReranker enables cross-encoder reranking at the document and child
// layers. A nil reranker leaves vector order unchanged.
func WithReranker(r rerank.Reranker) Option {
	return func(o *Orchestrator) {
		if c, ok := r.(*rerank.Client); ok && c == nil {
			return
		}
		o.reranker = r
	}
}

// WithRouter enables LLM document routing for calls with Options.DocRouting.
func WithRouter(r *Router) Option {
	return func(o *Orchestrator) { o.router = r }
}

// WithMetrics records latency, fallback-widen, and rerank failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New returns an Orchestrator.
func New(e embedder.Embedder, idx vectorindex.Index, opts ...Option) (*Orchestrator, error) {
	if e == nil {
		return nil, fmt.Errorf("retrieval: embedder must not be nil")
	}
	if idx == nil {
		return nil, fmt.Errorf("retrieval: index must not be nil")
	}
	o := &Orchestrator{embedder: e, index: idx}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// routerCandidates is the number of document-layer hits shown to the router.
const routerCandidates = 20

// Retrieve embeds query once and searches every layer of tenant's
// collection. A tenant with nothing indexed yields an empty Context.
func (o *Orchestrator) Retrieve(ctx context.Context, tenant, query string, opts Options) (*Context, error) {
	start := time.Now()
	defer func() { o.metrics.ObserveRetrieve(time.Since(start)) }()

	opts = opts.normalize()
	log := logging.FromContext(ctx).With(slog.String("tenant", tenant))

	vecs, err := o.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("retrieval: embedder returned %d vectors for the query", len(vecs))
	}
	vec := vecs[0]

	docs, err := o.documents(ctx, tenant, query, vec, opts)
	if err != nil {
		return nil, err
	}

	children, err := o.children(ctx, tenant, query, vec, docs, opts)
	if err != nil {
		return nil, err
	}

	parents, err := o.parents(ctx, tenant, children)
	if err != nil {
		return nil, err
	}

	log.Debug("retrieval: assembled context",
		slog.Int("documents", len(docs)),
		slog.Int("parents", len(parents)),
		slog.Int("children", len(children)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return &Context{Documents: docs, Parents: parents, Children: children}, nil
}

func (o *Orchestrator) documents(ctx context.Context, tenant, query string, vec []float32, opts Options) ([]vectorindex.Hit, error) {
	base := vectorindex.SearchOptions{Layer: vectorindex.LayerDocument, OwnerID: opts.OwnerID}

	if opts.DocRouting && o.router != nil {
		docs, err := o.routeDocuments(ctx, tenant, query, vec, base, opts)
		if err == nil {
			return docs, nil
		}
		logging.FromContext(ctx).Warn("retrieval: router failed, using vector ranking",
			slog.String("error", err.Error()),
		)
	}

	hits, err := o.searchWithFallback(ctx, tenant, vec, base, opts.DocLimit, opts.ScoreThreshold)
	if err != nil {
		return nil, err
	}
	return o.rerank(ctx, query, hits, opts.DocTopK), nil
}

// routeDocuments returns the router's picks in its order. The router already
// ranks, so no cross-encoder pass follows.
func (o *Orchestrator) routeDocuments(ctx context.Context, tenant, query string, vec []float32, base vectorindex.SearchOptions, opts Options) ([]vectorindex.Hit, error) {
	base.Limit = max(routerCandidates, opts.DocLimit)
	candidates, err := o.index.Search(ctx, tenant, vec, base)
	if err != nil {
		return nil, fmt.Errorf("retrieval: router candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	ids, err := o.router.Route(ctx, query, candidates, opts.DocTopK)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]vectorindex.Hit, len(candidates))
	for _, c := range candidates {
		if _, ok := byID[c.Payload.DocID]; !ok {
			byID[c.Payload.DocID] = c
		}
	}
	out := make([]vectorindex.Hit, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out, nil
}

func (o *Orchestrator) children(ctx context.Context, tenant, query string, vec []float32, docs []vectorindex.Hit, opts Options) ([]vectorindex.Hit, error) {
	base := vectorindex.SearchOptions{Layer: vectorindex.LayerChild, OwnerID: opts.OwnerID}
	var lists [][]vectorindex.Hit

	for _, d := range docs {
		scoped := base
		scoped.DocID = d.Payload.DocID
		hits, err := o.searchWithFallback(ctx, tenant, vec, scoped, opts.ChildLimitDocs, opts.ScoreThreshold)
		if err != nil {
			return nil, err
		}
		lists = append(lists, hits)
	}

	hits, err := o.searchWithFallback(ctx, tenant, vec, base, opts.ChildLimitGlobal, opts.ScoreThreshold)
	if err != nil {
		return nil, fmt.Errorf("retrieval: global: %w", err)
	}
	lists = append(lists, hits)

	merged := mergeHits(opts.ChildLimitDocs*len(docs)+opts.ChildLimitGlobal, lists...)
	return o.rerank(ctx, query, merged, opts.ChildTopK), nil
}

// parents resolves each child's parent_index against its document's parent
// layer. Parents are fetched once per document; dangling indices are
// skipped. A parent carries the score of its best-ranked child.
func (o *Orchestrator) parents(ctx context.Context, tenant string, children []vectorindex.Hit) ([]vectorindex.Hit, error) {
	cache := make(map[string]map[int]vectorindex.Hit)
	seen := make(map[vectorindex.Key]bool)
	var out []vectorindex.Hit

	for _, c := range children {
		if c.Payload.ParentIndex == nil {
			continue
		}
		docID := c.Payload.DocID
		byIndex, ok := cache[docID]
		if !ok {
			all, err := o.index.FetchAllByLayer(ctx, tenant, docID, vectorindex.LayerParent)
			if err != nil {
				return nil, fmt.Errorf("retrieval: fetch parents of %s: %w", docID, err)
			}
			byIndex = make(map[int]vectorindex.Hit, len(all))
			for _, p := range all {
				byIndex[p.Payload.ChunkIndex] = p
			}
			cache[docID] = byIndex
		}

		p, ok := byIndex[*c.Payload.ParentIndex]
		if !ok {
			logging.FromContext(ctx).Debug("retrieval: dangling parent index",
				slog.String("doc_id", docID),
				slog.Int("parent_index", *c.Payload.ParentIndex),
			)
			continue
		}
		if seen[p.Key()] {
			continue
		}
		seen[p.Key()] = true
		p.Score = c.Score
		out = append(out, p)
	}
	return out, nil
}

// searchWithFallback searches with threshold and, when fewer than limit hits
// pass it, searches again without one and merges the two.
func (o *Orchestrator) searchWithFallback(ctx context.Context, tenant string, vec []float32, opts vectorindex.SearchOptions, limit int, threshold *float32) ([]vectorindex.Hit, error) {
	opts.Limit = limit
	opts.ScoreThreshold = threshold
	hits, err := o.index.Search(ctx, tenant, vec, opts)
	if err != nil {
		return nil, fmt.Errorf("retrieval: %s search: %w", opts.Layer, err)
	}
	if threshold == nil || len(hits) >= limit {
		return hits, nil
	}

	o.metrics.FallbackWiden(string(opts.Layer))
	opts.ScoreThreshold = nil
	wide, err := o.index.Search(ctx, tenant, vec, opts)
	if err != nil {
		return nil, fmt.Errorf("retrieval: %s widened search: %w", opts.Layer, err)
	}
	return mergeHits(limit, hits, wide), nil
}

// mergeHits dedups by chunk key keeping the higher score, sorts by score
// descending, and truncates to limit.
func mergeHits(limit int, lists ...[]vectorindex.Hit) []vectorindex.Hit {
	best := make(map[vectorindex.Key]int)
	var out []vectorindex.Hit
	for _, list := range lists {
		for _, h := range list {
			k := h.Key()
			if i, ok := best[k]; ok {
				if h.Score > out[i].Score {
					out[i] = h
				}
				continue
			}
			best[k] = len(out)
			out = append(out, h)
		}
	}
	slices.SortStableFunc(out, func(a, b vectorindex.Hit) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// rerank reorders hits by cross-encoder relevance and keeps topN. Any
// rerank failure keeps the vector order.
func (o *Orchestrator) rerank(ctx context.Context, query string, hits []vectorindex.Hit, topN int) []vectorindex.Hit {
	if len(hits) == 0 {
		return hits
	}
	if o.reranker == nil {
		return hits[:min(topN, len(hits))]
	}

	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Payload.Content
	}
	results, err := o.reranker.Rerank(ctx, query, texts, topN)
	if err == nil && len(results) == 0 {
		err = errors.New("rerank returned no results")
	}
	if err != nil {
		o.metrics.RerankFailed()
		logging.FromContext(ctx).Warn("retrieval: rerank failed, keeping vector order",
			slog.String("layer", string(hits[0].Payload.Layer)),
			slog.String("error", err.Error()),
		)
		return hits[:min(topN, len(hits))]
	}

	slices.SortStableFunc(results, func(a, b rerank.Result) int {
		return cmp.Compare(b.Score, a.Score)
	})
	used := make(map[int]bool, len(results))
	out := make([]vectorindex.Hit, 0, min(topN, len(results)))
	for _, r := range results {
		if used[r.Index] || r.Index < 0 || r.Index >= len(hits) {
			continue
		}
		used[r.Index] = true
		h := hits[r.Index]
		h.Score = float32(r.Score)
		out = append(out, h)
		if len(out) == topN {
			break
		}
	}
	return out
}
