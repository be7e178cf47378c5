package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/54b3r/cograg-go/internal/config"
	"github.com/54b3r/cograg-go/internal/logging"
	"github.com/54b3r/cograg-go/internal/metrics"
	"github.com/54b3r/cograg-go/internal/queue"
	"github.com/54b3r/cograg-go/internal/store"
)

// DefaultConcurrency is the default number of documents processed at once.
// Each task makes several slow LLM calls, so this stays low.
const DefaultConcurrency = 2

// dequeueBackoff is how long Run waits after a queue error.
const dequeueBackoff = time.Second

// Processor ingests one document. [*Orchestrator] implements it.
type Processor interface {
	Process(ctx context.Context, docID string) (*Result, error)
}

// TaskResult reports the outcome of one dequeued task.
type TaskResult struct {
	Task   queue.Task
	Result *Result
	Err    error
	// Skipped is set when the task was acknowledged without running, because
	// the document was in flight, already settled, or deleted.
	Skipped bool
}

// PoolConfig configures a [Pool].
type PoolConfig struct {
	// Concurrency bounds simultaneous tasks. Defaults to DefaultConcurrency.
	Concurrency int
}

// PoolConfigFromEnv reads WORKER_CONCURRENCY.
func PoolConfigFromEnv() PoolConfig {
	return PoolConfig{Concurrency: config.Int("WORKER_CONCURRENCY", DefaultConcurrency)}
}

// Pool consumes a queue and runs each task through a Processor.
type Pool struct {
	queue   queue.Queue
	proc    Processor
	size    int
	metrics *metrics.Metrics
	results chan<- TaskResult

	mu sync.Mutex
	// inflight maps a running document to its task ID.
	inflight map[string]string
}

// PoolOption configures a [Pool].
type PoolOption func(*Pool)

// WithPoolMetrics reports the busy-worker gauge on m.
func WithPoolMetrics(m *metrics.Metrics) PoolOption {
	return func(p *Pool) { p.metrics = m }
}

// WithResults delivers one TaskResult per settled task on ch. Sends block,
// so the caller must keep receiving; Run closes ch when it returns.
func WithResults(ch chan<- TaskResult) PoolOption {
	return func(p *Pool) { p.results = ch }
}

// NewPool constructs a Pool.
func NewPool(q queue.Queue, proc Processor, cfg PoolConfig, opts ...PoolOption) (*Pool, error) {
	if q == nil {
		return nil, fmt.Errorf("ingestion: queue must not be nil")
	}
	if proc == nil {
		return nil, fmt.Errorf("ingestion: processor must not be nil")
	}
	size := cfg.Concurrency
	if size <= 0 {
		size = DefaultConcurrency
	}
	p := &Pool{queue: q, proc: proc, size: size, inflight: make(map[string]string)}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run processes tasks until ctx is cancelled, then stops dequeuing and waits
// for running tasks to finish. It returns nil after a graceful drain.
func (p *Pool) Run(ctx context.Context) error {
	if p.results != nil {
		defer close(p.results)
	}
	log := logging.FromContext(ctx)

	workers, err := ants.NewPool(p.size, ants.WithPanicHandler(func(r any) {
		log.Error("ingestion task panicked", slog.Any("panic", r))
	}))
	if err != nil {
		return fmt.Errorf("ingestion: create worker pool: %w", err)
	}
	defer workers.Release()

	// slots gates Dequeue so a task is only leased when a worker is free.
	slots := make(chan struct{}, p.size)
	var wg sync.WaitGroup
	defer wg.Wait()

	log.Info("worker pool started", slog.Int("concurrency", p.size))
	for {
		select {
		case <-ctx.Done():
			log.Info("worker pool draining")
			return nil
		case slots <- struct{}{}:
		}

		task, err := p.queue.Dequeue(ctx)
		if err != nil {
			<-slots
			if ctx.Err() != nil {
				log.Info("worker pool draining")
				return nil
			}
			log.Warn("dequeue failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
			case <-time.After(dequeueBackoff):
			}
			continue
		}

		if !p.claim(task) {
			<-slots
			continue
		}

		wg.Add(1)
		// ctx is only used for values from here on; Process detaches it.
		submitErr := workers.Submit(func() {
			defer wg.Done()
			defer func() { <-slots }()
			defer p.release(task.DocID)
			p.handle(ctx, task)
		})
		if submitErr != nil {
			wg.Done()
			<-slots
			p.release(task.DocID)
			log.Error("could not submit task", slog.String("doc_id", task.DocID), slog.String("error", submitErr.Error()))
		}
	}
}

// claim registers task's document as running. A redelivery of the running
// task is dropped; the original's Ack settles it. A different task for a
// running document is acknowledged as skipped.
func (p *Pool) claim(task queue.Task) bool {
	p.mu.Lock()
	running, busy := p.inflight[task.DocID]
	if !busy {
		p.inflight[task.DocID] = task.ID
	}
	p.mu.Unlock()

	if !busy {
		return true
	}
	if running != task.ID {
		p.settle(context.Background(), TaskResult{Task: task, Skipped: true})
	}
	return false
}

func (p *Pool) release(docID string) {
	p.mu.Lock()
	delete(p.inflight, docID)
	p.mu.Unlock()
}

func (p *Pool) handle(ctx context.Context, task queue.Task) {
	p.metrics.WorkerStarted()
	defer p.metrics.WorkerDone()

	log := logging.FromContext(ctx).With(
		slog.String("task_id", task.ID),
		slog.String("doc_id", task.DocID),
		slog.Int("attempt", task.Attempt),
	)
	res, err := p.proc.Process(logging.WithLogger(ctx, log), task.DocID)

	out := TaskResult{Task: task, Result: res, Err: err}
	if skippable(err) {
		log.Info("task skipped", slog.String("reason", err.Error()))
		out = TaskResult{Task: task, Skipped: true}
	}
	p.settle(ctx, out)
}

// settle acknowledges the task and publishes the result. Acks survive
// cancellation so a drain does not leave leases behind.
func (p *Pool) settle(ctx context.Context, out TaskResult) {
	ctx = context.WithoutCancel(ctx)
	if err := p.queue.Ack(ctx, out.Task.ID, out.Err); err != nil {
		logging.FromContext(ctx).Warn("ack failed",
			slog.String("task_id", out.Task.ID),
			slog.String("error", err.Error()),
		)
	}
	if p.results != nil {
		p.results <- out
	}
}

// skippable reports errors meaning the task has nothing left to do.
func skippable(err error) bool {
	return errors.Is(err, ErrInFlight) ||
		errors.Is(err, store.ErrInvalidTransition) ||
		errors.Is(err, store.ErrNotFound)
}
