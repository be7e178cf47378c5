package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/cograg-go/internal/ingestion"
	"github.com/54b3r/cograg-go/internal/logging"
	"github.com/54b3r/cograg-go/internal/retrieval"
	"github.com/54b3r/cograg-go/internal/server"
)

// NewServeCmd constructs the `cograg serve` command: the HTTP API plus, by
// default, an in-process worker pool draining the ingestion queue.
func NewServeCmd() *cobra.Command {
	var (
		host     string
		port     int
		noWorker bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and ingestion workers",
		Long: `Start the cograg HTTP API.

Endpoints:
  POST   /api/documents                 upload (multipart "file" or raw body + ?filename=)
  GET    /api/documents                 list the tenant's documents
  GET    /api/documents/{id}            document status and cognitive report
  POST   /api/documents/{id}/reprocess  re-run ingestion
  DELETE /api/documents/{id}            remove the document and its points
  POST   /api/retrieve                  layered context for a query
  GET    /api/health, /api/ready, /metrics

The tenant is taken from the X-Tenant-ID header.

Examples:
  cograg serve
  cograg serve --port 9090
  cograg serve --no-worker   # run workers separately with 'cograg worker'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := logging.FromContext(ctx)

			rt, err := openRuntime(ctx, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer rt.Close()

			ret, err := rt.retriever(ctx)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			cfg := server.ConfigFromEnv()
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			cfg.Logger = log
			cfg.Pingers = rt.pingers(ctx)

			srv, err := server.New(server.Deps{
				Intake:            rt.intake(),
				Documents:         rt.docs,
				Retriever:         ret,
				RetrievalDefaults: retrieval.OptionsFromEnv(),
			}, cfg)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			var pool *ingestion.Pool
			results := make(chan ingestion.TaskResult, 16)
			if noWorker {
				log.Info("in-process workers disabled")
			} else if pool, err = rt.pool(ctx, ingestion.WithResults(results)); err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Start(gctx) })
			if pool != nil {
				go logResults(log, results)
				g.Go(func() error { return pool.Run(gctx) })
			}

			err = g.Wait()
			log.Info("serve stopped", slog.Bool("error", err != nil))
			return err
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (overrides SERVER_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (overrides SERVER_PORT)")
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "Do not run ingestion workers in this process")

	return cmd
}
