package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/54b3r/cograg-go/internal/logging"
)

// GatewayConfig tunes a [Gateway].
type GatewayConfig struct {
	// BatchSize is the number of texts per backend call.
	BatchSize int
	// Concurrency is the number of batches in flight at once.
	Concurrency int
	// RPS caps backend calls per second. Zero disables throttling.
	RPS float64
	// Dimensions, when set, is enforced on every returned vector.
	Dimensions int
	// Timeout bounds each backend call.
	Timeout time.Duration
}

// Gateway defaults.
const (
	DefaultBatchSize   = 32
	DefaultConcurrency = 4
	DefaultTimeout     = 60 * time.Second
)

// Gateway batches texts and fans the batches out to a backend [Embedder]
// with bounded parallelism, preserving input order in the result.
type Gateway struct {
	backend Embedder
	cfg     GatewayConfig
	limiter *rate.Limiter
	// dims is learned from the first response when cfg.Dimensions is unset.
	dims atomic.Int64
}

// NewGateway wraps backend.
func NewGateway(backend Embedder, cfg GatewayConfig) *Gateway {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	g := &Gateway{backend: backend, cfg: cfg}
	if cfg.RPS > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), max(1, int(cfg.RPS)))
	}
	if cfg.Dimensions > 0 {
		g.dims.Store(int64(cfg.Dimensions))
	}
	return g
}

// Dimensions returns the configured or learned vector size, zero if unknown.
func (g *Gateway) Dimensions() int { return int(g.dims.Load()) }

// Embed implements [Embedder]. Any failure is wrapped in ErrEmbedding and
// no partial result is returned.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	log := logging.FromContext(ctx)
	out := make([][]float32, len(texts))
	batches := (len(texts) + g.cfg.BatchSize - 1) / g.cfg.BatchSize

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for b := range batches {
		start := b * g.cfg.BatchSize
		end := min(start+g.cfg.BatchSize, len(texts))
		eg.Go(func() error {
			vecs, err := g.embedBatch(egCtx, texts[start:end])
			if err != nil {
				return fmt.Errorf("batch %d/%d: %w", b+1, batches, err)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}

	log.Debug("embedder: embedded texts",
		slog.Int("texts", len(texts)),
		slog.Int("batches", batches),
	)
	return out, nil
}

// EmbedQuery embeds a single query string.
func (g *Gateway) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := g.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (g *Gateway) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	vecs, err := g.backend.Embed(callCtx, batch)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("backend returned %d vectors for %d texts", len(vecs), len(batch))
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, fmt.Errorf("empty vector at position %d", i)
		}
		want := g.dims.Load()
		if want == 0 && g.dims.CompareAndSwap(0, int64(len(v))) {
			continue
		}
		if want = g.dims.Load(); int64(len(v)) != want {
			return nil, fmt.Errorf("dimension mismatch at position %d: got %d, want %d", i, len(v), want)
		}
	}
	return vecs, nil
}
