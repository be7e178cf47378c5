package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/cograg-go/internal/chunker"
	"github.com/54b3r/cograg-go/internal/config"
	"github.com/54b3r/cograg-go/internal/embedder"
	"github.com/54b3r/cograg-go/internal/ingestion"
	"github.com/54b3r/cograg-go/internal/llm"
	"github.com/54b3r/cograg-go/internal/logging"
	"github.com/54b3r/cograg-go/internal/metrics"
	"github.com/54b3r/cograg-go/internal/provider"
	"github.com/54b3r/cograg-go/internal/queue"
	"github.com/54b3r/cograg-go/internal/rerank"
	"github.com/54b3r/cograg-go/internal/retrieval"
	"github.com/54b3r/cograg-go/internal/safety"
	"github.com/54b3r/cograg-go/internal/server"
	"github.com/54b3r/cograg-go/internal/store"
	"github.com/54b3r/cograg-go/internal/summarizer"
	"github.com/54b3r/cograg-go/internal/tracing"
	"github.com/54b3r/cograg-go/internal/vectorindex"
)

// runtime holds the process-wide services every command draws from. Fields
// are built on first use so `delete` never touches the LLM and `query`
// never opens the summarizer.
type runtime struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	docs  *store.SQLiteStore
	queue *store.SQLiteQueue
	index vectorindex.Index

	gateway     *embedder.Gateway
	providerCfg *provider.Config
	completer   llm.Completer

	closers []func() error
	flush   func()
}

// openRuntime opens the document store, queue, and vector index. reg
// receives the pipeline metrics; nil skips registration.
func openRuntime(ctx context.Context, reg prometheus.Registerer) (*runtime, error) {
	log := logging.FromContext(ctx)
	rt := &runtime{log: log, flush: func() {}}
	if reg != nil {
		rt.metrics = metrics.New(reg)
	}

	dbPath := config.String("COGRAG_DB", "")
	if dbPath == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("runtime: %w", err)
		}
		dbPath = p
	}
	docs, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	rt.docs = docs
	rt.closers = append(rt.closers, docs.Close)
	rt.queue = store.NewQueue(docs, config.Duration("QUEUE_LEASE", queue.DefaultLease), store.DefaultPollInterval)
	log.Info("document store opened", slog.String("path", dbPath))

	gw, err := embedder.NewGatewayFromEnv()
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("runtime: embedder: %w", err)
	}
	embedder.WarnMisconfiguration(log)
	rt.gateway = gw

	switch kind := strings.ToLower(config.String("VECTOR_INDEX", "qdrant")); kind {
	case "memory":
		log.Warn("using in-memory vector index; points are lost on exit")
		rt.index = vectorindex.NewMemoryIndex(gw.Dimensions())
	case "qdrant":
		cfg := vectorindex.QdrantConfigFromEnv()
		cfg.Dimensions = uint64(gw.Dimensions()) //nolint:gosec // dimensions are positive and small
		idx, err := vectorindex.NewQdrantIndex(cfg)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("runtime: qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
		}
		rt.index = idx
		log.Info("qdrant index ready", slog.String("host", cfg.Host), slog.Int("port", cfg.Port))
	default:
		rt.Close()
		return nil, fmt.Errorf("runtime: unknown VECTOR_INDEX %q (want qdrant or memory)", kind)
	}
	rt.closers = append(rt.closers, rt.index.Close)

	return rt, nil
}

// chat builds the completion client once and enables tracing with it.
func (rt *runtime) chat(ctx context.Context) (llm.Completer, error) {
	if rt.completer != nil {
		return rt.completer, nil
	}
	flush, _ := tracing.Setup(rt.log)
	rt.flush = flush

	m, cfg, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("runtime: model provider: %w", err)
	}
	rt.providerCfg = cfg
	rt.completer = llm.NewClient(m, llm.WithTimeout(config.Duration("LLM_TIMEOUT", llm.DefaultTimeout)))
	rt.log.Info("provider initialised", slog.String("provider", string(cfg.Backend)))
	return rt.completer, nil
}

// intake returns the document write path.
func (rt *runtime) intake() *ingestion.Intake {
	return ingestion.NewIntake(rt.docs, rt.queue, rt.index)
}

// orchestrator wires the ingestion pipeline.
func (rt *runtime) orchestrator(ctx context.Context, opts ...ingestion.Option) (*ingestion.Orchestrator, error) {
	c, err := rt.chat(ctx)
	if err != nil {
		return nil, err
	}
	summ := summarizer.New(c, safety.NewDefaultDetector(), summarizer.ConfigFromEnv(), summarizer.WithMetrics(rt.metrics))
	opts = append([]ingestion.Option{ingestion.WithMetrics(rt.metrics)}, opts...)
	return ingestion.New(rt.docs, summ, chunker.HierarchyOptionsFromEnv(), rt.gateway, rt.index, opts...)
}

// pool wires a worker pool over the durable queue.
func (rt *runtime) pool(ctx context.Context, opts ...ingestion.PoolOption) (*ingestion.Pool, error) {
	orch, err := rt.orchestrator(ctx, ingestion.WithProgress(logProgress(rt.log)))
	if err != nil {
		return nil, err
	}
	opts = append([]ingestion.PoolOption{ingestion.WithPoolMetrics(rt.metrics)}, opts...)
	return ingestion.NewPool(rt.queue, orch, ingestion.PoolConfigFromEnv(), opts...)
}

// retriever wires retrieval with the reranker and router when configured.
// A provider that fails to initialise disables routing only.
func (rt *runtime) retriever(ctx context.Context) (*retrieval.Orchestrator, error) {
	opts := []retrieval.Option{retrieval.WithMetrics(rt.metrics)}

	if rcfg := rerank.ConfigFromEnv(); rcfg.Endpoint != "" {
		opts = append(opts, retrieval.WithReranker(rerank.New(rcfg)))
		rt.log.Info("reranker enabled", slog.String("endpoint", rcfg.Endpoint), slog.String("model", rcfg.Model))
	}

	c, err := rt.chat(ctx)
	if err != nil {
		rt.log.Warn("document routing unavailable", slog.String("error", err.Error()))
	} else {
		opts = append(opts, retrieval.WithRouter(retrieval.NewRouter(c, config.String("ROUTER_MODEL", ""))))
	}
	return retrieval.New(rt.gateway, rt.index, opts...)
}

// pingers lists the readiness probes for the server.
func (rt *runtime) pingers(ctx context.Context) []server.Pinger {
	ps := []server.Pinger{rt.docs}
	if p, ok := rt.index.(server.Pinger); ok {
		ps = append(ps, p)
	}
	if c, err := rt.chat(ctx); err == nil {
		ps = append(ps, server.NewLLMPinger(rt.providerCfg, c))
	}
	return ps
}

// Close releases everything in reverse order of opening.
func (rt *runtime) Close() {
	rt.flush()
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		rt.log.Warn("shutdown: close failed", slog.String("error", err.Error()))
	}
}

// logProgress reports pipeline stages at debug level.
func logProgress(log *slog.Logger) ingestion.ProgressFunc {
	return func(p ingestion.Progress) error {
		log.Debug("ingestion progress",
			slog.String("doc_id", p.DocID),
			slog.String("stage", p.Stage),
			slog.Int("percent", p.Percent),
		)
		return nil
	}
}

// logResults drains pool results into the log until ch closes.
func logResults(log *slog.Logger, ch <-chan ingestion.TaskResult) {
	for r := range ch {
		switch {
		case r.Skipped:
			log.Debug("task skipped", slog.String("doc_id", r.Task.DocID))
		case r.Err != nil:
			log.Warn("task failed", slog.String("doc_id", r.Task.DocID), slog.String("error", r.Err.Error()))
		default:
			log.Info("task completed",
				slog.String("doc_id", r.Task.DocID),
				slog.Int("chunks", r.Result.ChunkCount),
				slog.Duration("duration", r.Result.Duration.Round(time.Millisecond)),
			)
		}
	}
}
