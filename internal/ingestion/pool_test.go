package ingestion

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/cograg-go/internal/queue"
	"github.com/54b3r/cograg-go/internal/store"
)

// gatedProcessor blocks every Process call until release is closed and
// tracks peak concurrency.
type gatedProcessor struct {
	release chan struct{}
	started chan string
	running atomic.Int32
	peak    atomic.Int32
	err     error
}

func newGatedProcessor() *gatedProcessor {
	return &gatedProcessor{release: make(chan struct{}), started: make(chan string, 16)}
}

func (g *gatedProcessor) Process(_ context.Context, docID string) (*Result, error) {
	n := g.running.Add(1)
	defer g.running.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	g.started <- docID
	<-g.release
	if g.err != nil {
		return nil, g.err
	}
	return &Result{DocID: docID, Status: store.StatusCompleted}, nil
}

func startPool(t *testing.T, q queue.Queue, proc Processor, concurrency int) (context.CancelFunc, <-chan TaskResult, <-chan error) {
	t.Helper()
	results := make(chan TaskResult, 16)
	pool, err := NewPool(q, proc, PoolConfig{Concurrency: concurrency}, WithResults(results))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, results, done
}

func receive(t *testing.T, ch <-chan TaskResult) TaskResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a task result")
		return TaskResult{}
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	t.Parallel()
	q := queue.NewMemory(time.Minute)
	proc := newGatedProcessor()
	for i := range 5 {
		_, err := q.Enqueue(context.Background(), fmt.Sprintf("d%d", i))
		require.NoError(t, err)
	}

	_, results, _ := startPool(t, q, proc, 2)
	<-proc.started
	<-proc.started
	// A third task must not start while two are running.
	select {
	case id := <-proc.started:
		t.Fatalf("third task %s started above the concurrency bound", id)
	case <-time.After(50 * time.Millisecond):
	}

	close(proc.release)
	for range 5 {
		r := receive(t, results)
		assert.NoError(t, r.Err)
		assert.False(t, r.Skipped)
	}
	assert.Equal(t, int32(2), proc.peak.Load())
	assert.Zero(t, q.Len(), "every task is acknowledged")
}

func TestPool_SameDocumentSkippedWhileRunning(t *testing.T) {
	t.Parallel()
	q := queue.NewMemory(time.Minute)
	proc := newGatedProcessor()
	ctx := context.Background()
	first, err := q.Enqueue(ctx, "d1")
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, "d1")
	require.NoError(t, err)

	_, results, _ := startPool(t, q, proc, 2)
	<-proc.started

	skipped := receive(t, results)
	assert.True(t, skipped.Skipped)
	assert.Equal(t, second.ID, skipped.Task.ID)

	close(proc.release)
	done := receive(t, results)
	assert.Equal(t, first.ID, done.Task.ID)
	assert.False(t, done.Skipped)
}

func TestPool_DrainsRunningTasksOnCancel(t *testing.T) {
	t.Parallel()
	q := queue.NewMemory(time.Minute)
	proc := newGatedProcessor()
	_, err := q.Enqueue(context.Background(), "d1")
	require.NoError(t, err)

	cancel, results, done := startPool(t, q, proc, 1)
	<-proc.started
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned before the running task finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(proc.release)
	r := receive(t, results)
	assert.Equal(t, "d1", r.Task.DocID)
	assert.NoError(t, r.Err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after draining")
	}
	_, open := <-results
	assert.False(t, open, "results channel is closed after Run returns")
	assert.Zero(t, q.Len())
}

func TestPool_FailureIsReportedAndAcked(t *testing.T) {
	t.Parallel()
	q := queue.NewMemory(time.Minute)
	proc := newGatedProcessor()
	proc.err = fmt.Errorf("embed: %w", assert.AnError)
	close(proc.release)
	_, err := q.Enqueue(context.Background(), "d1")
	require.NoError(t, err)

	_, results, _ := startPool(t, q, proc, 1)
	r := receive(t, results)
	require.ErrorIs(t, r.Err, assert.AnError)
	assert.False(t, r.Skipped)
	assert.Zero(t, q.Len())
}

// countingProcessor returns a fixed error without blocking.
type countingProcessor struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (c *countingProcessor) Process(_ context.Context, docID string) (*Result, error) {
	c.mu.Lock()
	c.seen = append(c.seen, docID)
	c.mu.Unlock()
	return nil, c.err
}

func TestPool_SkippableErrorsAreNotFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
	}{
		{"in flight elsewhere", fmt.Errorf("%w: d1", ErrInFlight)},
		{"already settled", fmt.Errorf("ingestion: %w", store.ErrInvalidTransition)},
		{"deleted", fmt.Errorf("ingestion: load document: %w", store.ErrNotFound)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			q := queue.NewMemory(time.Minute)
			_, err := q.Enqueue(context.Background(), "d1")
			require.NoError(t, err)

			_, results, _ := startPool(t, q, &countingProcessor{err: tc.err}, 1)
			r := receive(t, results)
			assert.True(t, r.Skipped)
			assert.NoError(t, r.Err)
		})
	}
}

func TestNewPool_Validates(t *testing.T) {
	t.Parallel()
	_, err := NewPool(nil, &countingProcessor{}, PoolConfig{})
	assert.Error(t, err)
	_, err = NewPool(queue.NewMemory(0), nil, PoolConfig{})
	assert.Error(t, err)

	p, err := NewPool(queue.NewMemory(0), &countingProcessor{}, PoolConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultConcurrency, p.size)
}

func TestPool_EndToEndWithOrchestrator(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.create(t, "d1")
	f.create(t, "d2")
	q := queue.NewMemory(time.Minute)
	for _, id := range []string{"d1", "d2"} {
		_, err := q.Enqueue(context.Background(), id)
		require.NoError(t, err)
	}

	_, results, _ := startPool(t, q, f.orch, 2)
	for range 2 {
		r := receive(t, results)
		require.NoError(t, r.Err)
		assert.Equal(t, store.StatusCompleted, r.Result.Status)
	}
	for _, id := range []string{"d1", "d2"} {
		doc, err := f.docs.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, store.StatusCompleted, doc.Status)
	}
}
