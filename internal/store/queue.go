package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/cograg-go/internal/queue"
)

// DefaultPollInterval is how often an idle Dequeue checks the tasks table.
const DefaultPollInterval = 500 * time.Millisecond

// SQLiteQueue is a durable [queue.Queue] stored in the same database as the
// documents. Tasks survive restarts; a task leased by a crashed worker is
// delivered again once its lease expires.
type SQLiteQueue struct {
	db    *sql.DB
	lease time.Duration
	poll  time.Duration
	now   func() time.Time
}

var _ queue.Queue = (*SQLiteQueue)(nil)

// NewQueue returns a queue sharing s's connection. Non-positive lease and
// poll select [queue.DefaultLease] and [DefaultPollInterval].
func NewQueue(s *SQLiteStore, lease, poll time.Duration) *SQLiteQueue {
	if lease <= 0 {
		lease = queue.DefaultLease
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &SQLiteQueue{db: s.db, lease: lease, poll: poll, now: s.now}
}

// Enqueue implements [queue.Queue].
func (q *SQLiteQueue) Enqueue(ctx context.Context, docID string) (queue.Task, error) {
	now := q.now()
	t := queue.Task{ID: uuid.NewString(), DocID: docID, EnqueuedAt: time.UnixMilli(now.UnixMilli())}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO tasks (id, doc_id, state, enqueued_at, updated_at) VALUES (?, ?, 'pending', ?, ?)`,
		t.ID, docID, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return queue.Task{}, fmt.Errorf("store: enqueue %s: %w", docID, err)
	}
	return t, nil
}

// Dequeue implements [queue.Queue]. It polls until a pending or lease-expired
// task is available or ctx is done.
func (q *SQLiteQueue) Dequeue(ctx context.Context) (queue.Task, error) {
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()
	for {
		t, ok, err := q.claim(ctx)
		if err != nil {
			return queue.Task{}, err
		}
		if ok {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return queue.Task{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *SQLiteQueue) claim(ctx context.Context) (queue.Task, bool, error) {
	if err := ctx.Err(); err != nil {
		return queue.Task{}, false, err
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return queue.Task{}, false, fmt.Errorf("store: dequeue begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := q.now().UnixMilli()
	var (
		t        queue.Task
		enqueued int64
	)
	err = tx.QueryRowContext(ctx, `
SELECT id, doc_id, attempts, enqueued_at FROM tasks
WHERE state = 'pending' OR (state = 'leased' AND lease_until < ?)
ORDER BY CASE state WHEN 'leased' THEN 0 ELSE 1 END, enqueued_at, rowid
LIMIT 1`, now).Scan(&t.ID, &t.DocID, &t.Attempt, &enqueued)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Task{}, false, nil
	}
	if err != nil {
		return queue.Task{}, false, fmt.Errorf("store: dequeue select: %w", err)
	}

	t.Attempt++
	t.EnqueuedAt = time.UnixMilli(enqueued)
	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET state = 'leased', attempts = ?, lease_until = ?, updated_at = ? WHERE id = ?`,
		t.Attempt, now+q.lease.Milliseconds(), now, t.ID)
	if err != nil {
		return queue.Task{}, false, fmt.Errorf("store: dequeue lease %s: %w", t.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return queue.Task{}, false, fmt.Errorf("store: dequeue commit: %w", err)
	}
	return t, true, nil
}

// Ack implements [queue.Queue]. The task row is kept with its final state for
// inspection.
func (q *SQLiteQueue) Ack(ctx context.Context, taskID string, procErr error) error {
	state, msg := "done", ""
	if procErr != nil {
		state, msg = "failed", procErr.Error()
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE tasks SET state = ?, error = ?, updated_at = ? WHERE id = ? AND state = 'leased'`,
		state, msg, q.now().UnixMilli(), taskID)
	if err != nil {
		return fmt.Errorf("store: ack %s: %w", taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", queue.ErrUnknownTask, taskID)
	}
	return nil
}

// Pending returns the number of tasks not yet settled.
func (q *SQLiteQueue) Pending(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE state IN ('pending', 'leased')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count tasks: %w", err)
	}
	return n, nil
}
