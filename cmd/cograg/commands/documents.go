package commands

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// NewReprocessCmd constructs the `cograg reprocess` command.
func NewReprocessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess DOC_ID...",
		Short: "Queue completed or failed documents for another ingestion run",
		Long: `Move each document back to queued and enqueue it. The next run reuses
the stored extracted text and replaces the document's points.

Documents that are queued or processing are refused.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("reprocess: %w", err)
			}
			defer rt.Close()

			intake := rt.intake()
			for _, id := range args {
				if _, err := intake.Reprocess(ctx, id); err != nil {
					return fmt.Errorf("reprocess: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", id)
			}
			return nil
		},
	}
}

// NewDeleteCmd constructs the `cograg delete` command.
func NewDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete DOC_ID...",
		Short: "Delete documents and all their indexed points",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			defer rt.Close()

			intake := rt.intake()
			for _, id := range args {
				if err := intake.Delete(ctx, id); err != nil {
					return fmt.Errorf("delete: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return nil
		},
	}
}
