package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/cograg-go/internal/ingestion"
	"github.com/54b3r/cograg-go/internal/logging"
	"github.com/54b3r/cograg-go/internal/watcher"
)

// NewWatchCmd constructs the `cograg watch` command, which keeps a
// directory's text files ingested as they are created and edited.
func NewWatchCmd() *cobra.Command {
	var (
		tenant      string
		owner       string
		extensions  []string
		initialScan bool
		withWorker  bool
	)

	cmd := &cobra.Command{
		Use:   "watch DIR",
		Short: "Ingest a directory's text files and re-ingest them on change",
		Long: `Watch DIR recursively. Each matching file maps to a stable document ID,
so saving a file replaces its document rather than adding a new one.
Hidden files and directories are ignored.

Examples:
  cograg watch --tenant acme --initial-scan ./docs
  cograg watch --worker --ext .md --ext .txt ./notes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := logging.FromContext(ctx)

			rt, err := openRuntime(ctx, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			defer rt.Close()

			w, err := watcher.New(watcher.Config{
				Dir:         args[0],
				TenantID:    tenant,
				OwnerID:     owner,
				Extensions:  extensions,
				InitialScan: initialScan,
			}, rt.intake())
			if err != nil {
				return fmt.Errorf("watch: %w", err)
			}

			g, gctx := errgroup.WithContext(ctx)
			if withWorker {
				results := make(chan ingestion.TaskResult, 16)
				pool, err := rt.pool(ctx, ingestion.WithResults(results))
				if err != nil {
					return fmt.Errorf("watch: %w", err)
				}
				go logResults(log, results)
				g.Go(func() error { return pool.Run(gctx) })
			}
			g.Go(func() error { return w.Run(gctx) })
			return g.Wait()
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "default", "Tenant ID for submitted documents")
	cmd.Flags().StringVar(&owner, "owner", "", "Owner ID recorded on submitted documents")
	cmd.Flags().StringSliceVar(&extensions, "ext", nil, "File extensions to watch (default: common text formats)")
	cmd.Flags().BoolVar(&initialScan, "initial-scan", false, "Submit every matching file already present")
	cmd.Flags().BoolVar(&withWorker, "worker", false, "Also process the queue in this process")

	return cmd
}
