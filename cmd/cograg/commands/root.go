// Package commands defines all Cobra CLI commands for the cograg binary.
package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/54b3r/cograg-go/internal/audit"
	"github.com/54b3r/cograg-go/internal/config"
	"github.com/54b3r/cograg-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cograg",
		Short: "cograg: layered document ingestion and retrieval",
		Long: `cograg summarizes documents with an LLM, splits them into parent and
child chunks, and indexes all three layers per tenant in a vector store.
Queries return a layered context: matching documents, their sections, and
the passages inside them.

Configuration comes from environment variables, a .env file in the working
directory, and a YAML file (~/.cograg/config.yaml). Environment wins.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			boot := logging.New()
			if err := config.LoadDotEnv(boot); err != nil {
				return err
			}
			path, err := config.Load(configPath, boot)
			if err != nil {
				return err
			}

			// LOG_LEVEL and LOG_FORMAT may have come from the files just loaded.
			log := logging.New()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(logging.WithLogger(ctx, log))

			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.cograg/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewWorkerCmd(),
		NewIngestCmd(),
		NewQueryCmd(),
		NewReprocessCmd(),
		NewDeleteCmd(),
		NewWatchCmd(),
		NewVersionCmd(),
	)

	return root
}
