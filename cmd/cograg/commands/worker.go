package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/cograg-go/internal/ingestion"
	"github.com/54b3r/cograg-go/internal/logging"
)

// NewWorkerCmd constructs the `cograg worker` command, which drains the
// durable ingestion queue until interrupted.
func NewWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process queued documents until interrupted",
		Long: `Run an ingestion worker pool against the shared SQLite queue.

Concurrency is set by WORKER_CONCURRENCY. Tasks whose lease expires (for
example after a crash) are delivered again; completed documents are skipped.
On SIGINT or SIGTERM the pool stops claiming and finishes running tasks.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := logging.FromContext(ctx)

			rt, err := openRuntime(ctx, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}
			defer rt.Close()

			results := make(chan ingestion.TaskResult, 16)
			pool, err := rt.pool(ctx, ingestion.WithResults(results))
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}
			go logResults(log, results)

			if n, err := rt.queue.Pending(ctx); err == nil {
				log.Info("worker started", slog.Int("pending", n))
			}
			return pool.Run(ctx)
		},
	}
}
