package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/cograg-go/internal/ingestion"
	"github.com/54b3r/cograg-go/internal/logging"
)

// NewIngestCmd constructs the `cograg ingest` command, which submits files
// to the ingestion queue and optionally waits for them to finish.
func NewIngestCmd() *cobra.Command {
	var (
		tenant string
		owner  string
		id     string
		wait   bool
	)

	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Submit text files for ingestion",
		Long: `Submit one or more UTF-8 text files for ingestion.

Each file becomes a queued document. Without --wait the command returns once
the files are queued and a running 'cograg serve' or 'cograg worker' picks
them up. With --wait it runs a worker pool in this process until every
submitted document has finished.

Examples:
  cograg ingest --tenant acme docs/*.md
  cograg ingest --wait --owner alice runbook.txt
  cograg ingest --id 6f1c... runbook.txt   # replace an existing document`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)
			if id != "" && len(args) > 1 {
				return fmt.Errorf("ingest: --id replaces one document; got %d files", len(args))
			}

			rt, err := openRuntime(ctx, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer rt.Close()

			// Build the pool before submitting so a misconfigured provider
			// fails fast instead of leaving queued documents behind.
			var pool *ingestion.Pool
			results := make(chan ingestion.TaskResult, len(args))
			if wait {
				if pool, err = rt.pool(ctx, ingestion.WithResults(results)); err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
			}

			intake := rt.intake()
			pending := make(map[string]string, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				doc, err := intake.Submit(ctx, ingestion.Upload{
					ID:       id,
					TenantID: tenant,
					OwnerID:  owner,
					Filename: filepath.Base(path),
					Data:     data,
				})
				if err != nil {
					return fmt.Errorf("ingest: %s: %w", path, err)
				}
				pending[doc.ID] = path
				fmt.Fprintf(cmd.OutOrStdout(), "queued %s %s\n", doc.ID, path)
			}

			if !wait {
				return nil
			}
			return awaitDocuments(ctx, log, pool, results, pending, cmd)
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "Tenant ID (default: \"default\")")
	cmd.Flags().StringVar(&owner, "owner", "", "Owner ID recorded on the document")
	cmd.Flags().StringVar(&id, "id", "", "Existing document ID to replace")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Process the documents in this process and wait for them")

	return cmd
}

// awaitDocuments runs pool until every ID in pending has a result. Tasks for
// other documents that the pool happens to claim are processed as usual.
func awaitDocuments(ctx context.Context, log *slog.Logger, pool *ingestion.Pool, results <-chan ingestion.TaskResult, pending map[string]string, cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	var failed int
	for r := range results {
		path, ours := pending[r.Task.DocID]
		if !ours {
			continue
		}
		switch {
		case r.Skipped:
			// Another worker holds it; its outcome is visible via the API.
			fmt.Fprintf(cmd.OutOrStdout(), "skipped %s %s (processed elsewhere)\n", r.Task.DocID, path)
		case r.Err != nil:
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "failed %s %s: %v\n", r.Task.DocID, path, r.Err)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "completed %s %s (%d parents, %d children, %s)\n",
				r.Task.DocID, path, r.Result.ParentCount, r.Result.ChunkCount, r.Result.Duration.Round(time.Millisecond))
		}
		delete(pending, r.Task.DocID)
		if len(pending) == 0 {
			cancel()
		}
	}

	if err := <-done; err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if len(pending) > 0 {
		log.Warn("ingest interrupted", slog.Int("unfinished", len(pending)))
		return ctx.Err()
	}
	if failed > 0 {
		return fmt.Errorf("ingest: %d document(s) failed", failed)
	}
	return nil
}
