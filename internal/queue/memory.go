package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process [Queue]. Tasks are lost on restart.
type Memory struct {
	mu      sync.Mutex
	lease   time.Duration
	pending []Task
	leased  map[string]leasedTask
	// notify wakes one blocked Dequeue; it is buffered so Enqueue never blocks.
	notify chan struct{}
	now    func() time.Time
}

type leasedTask struct {
	task  Task
	until time.Time
}

// NewMemory returns an empty queue. A non-positive lease selects
// [DefaultLease].
func NewMemory(lease time.Duration) *Memory {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &Memory{
		lease:  lease,
		leased: make(map[string]leasedTask),
		notify: make(chan struct{}, 1),
		now:    time.Now,
	}
}

// Enqueue implements [Queue].
func (m *Memory) Enqueue(_ context.Context, docID string) (Task, error) {
	t := Task{ID: uuid.NewString(), DocID: docID, EnqueuedAt: m.now()}
	m.mu.Lock()
	m.pending = append(m.pending, t)
	m.mu.Unlock()
	m.wake()
	return t, nil
}

// Dequeue implements [Queue]. Expired leases are delivered again before new
// tasks.
func (m *Memory) Dequeue(ctx context.Context) (Task, error) {
	for {
		if t, ok := m.take(); ok {
			return t, nil
		}
		// Re-check periodically so expired leases surface without an Enqueue.
		timer := time.NewTimer(min(m.lease, time.Second))
		select {
		case <-ctx.Done():
			timer.Stop()
			return Task{}, ctx.Err()
		case <-m.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (m *Memory) take() (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	var t Task
	found := false
	for id, lt := range m.leased {
		if now.After(lt.until) {
			delete(m.leased, id)
			t, found = lt.task, true
			break
		}
	}
	if !found {
		if len(m.pending) == 0 {
			return Task{}, false
		}
		t = m.pending[0]
		m.pending = m.pending[1:]
	}
	t.Attempt++
	m.leased[t.ID] = leasedTask{task: t, until: now.Add(m.lease)}
	if len(m.pending) > 0 {
		m.wake()
	}
	return t, true
}

// Ack implements [Queue]. Failed tasks are not retried here; callers
// re-enqueue through reprocessing.
func (m *Memory) Ack(_ context.Context, taskID string, _ error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.leased[taskID]; !ok {
		return ErrUnknownTask
	}
	delete(m.leased, taskID)
	return nil
}

// Len returns the number of pending and leased tasks.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending) + len(m.leased)
}

func (m *Memory) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}
