// Package queue defines the at-least-once task queue feeding the ingestion
// worker pool, and an in-memory implementation of it.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownTask is returned by Ack for a task that is not leased.
var ErrUnknownTask = errors.New("queue: unknown task")

// DefaultLease is how long a dequeued task stays invisible before it is
// delivered again.
const DefaultLease = 15 * time.Minute

// Task asks a worker to process one document.
type Task struct {
	ID    string
	DocID string
	// Attempt counts deliveries, starting at 1.
	Attempt    int
	EnqueuedAt time.Time
}

// Queue delivers tasks at least once. A task that is not acknowledged within
// its lease is delivered again.
type Queue interface {
	// Enqueue adds a task for docID.
	Enqueue(ctx context.Context, docID string) (Task, error)
	// Dequeue blocks until a task is available or ctx is done.
	Dequeue(ctx context.Context) (Task, error)
	// Ack settles a leased task. A nil procErr records success.
	Ack(ctx context.Context, taskID string, procErr error) error
}
