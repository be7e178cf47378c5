package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemory_FIFOAndAck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := NewMemory(time.Minute)

	for _, id := range []string{"a", "b", "c"} {
		if _, err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		task, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if task.DocID != want || task.Attempt != 1 {
			t.Errorf("got %s attempt %d, want %s attempt 1", task.DocID, task.Attempt, want)
		}
		if err := q.Ack(ctx, task.ID, nil); err != nil {
			t.Errorf("Ack: %v", err)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after acking everything", q.Len())
	}
}

func TestMemory_AckUnknown(t *testing.T) {
	t.Parallel()
	q := NewMemory(0)
	if err := q.Ack(context.Background(), "nope", nil); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("Ack(unknown) = %v, want ErrUnknownTask", err)
	}
}

func TestMemory_DequeueBlocksUntilEnqueue(t *testing.T) {
	t.Parallel()
	q := NewMemory(time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		wg  sync.WaitGroup
		got Task
		err error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, err = q.Dequeue(ctx)
	}()
	time.Sleep(20 * time.Millisecond)
	if _, e := q.Enqueue(ctx, "late"); e != nil {
		t.Fatalf("Enqueue: %v", e)
	}
	wg.Wait()
	if err != nil || got.DocID != "late" {
		t.Fatalf("Dequeue() = %+v, %v", got, err)
	}
}

func TestMemory_DequeueHonoursCancel(t *testing.T) {
	t.Parallel()
	q := NewMemory(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Dequeue() error = %v, want context.Canceled", err)
	}
}

func TestMemory_ExpiredLeaseRedelivered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := NewMemory(time.Minute)
	now := time.Now()
	q.now = func() time.Time { return now }

	if _, err := q.Enqueue(ctx, "doc"); err != nil {
		t.Fatal(err)
	}
	first, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Minute)
	second, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID || second.Attempt != 2 {
		t.Errorf("redelivery = %+v, want same task with attempt 2", second)
	}
	if err := q.Ack(ctx, first.ID, nil); err != nil {
		t.Errorf("Ack after redelivery: %v", err)
	}
}
