package commands

import (
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/cograg-go/internal/retrieval"
	"github.com/54b3r/cograg-go/internal/vectorindex"
)

// NewQueryCmd constructs the `cograg query` command, which prints the
// layered context retrieved for a question.
func NewQueryCmd() *cobra.Command {
	var (
		tenant      string
		owner       string
		threshold   float32
		noThreshold bool
		route       bool
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "query QUESTION",
		Short: "Retrieve layered context for a question",
		Long: `Embed a question and print the matching documents, sections, and
passages of one tenant, coarsest layer first.

Examples:
  cograg query --tenant acme "how do we rotate signing keys?"
  cograg query --route --json "incident review for the March outage"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := openRuntime(ctx, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer rt.Close()

			ret, err := rt.retriever(ctx)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			opts := retrieval.OptionsFromEnv()
			opts.OwnerID = owner
			switch {
			case noThreshold:
				opts.ScoreThreshold = nil
			case cmd.Flags().Changed("threshold"):
				opts.ScoreThreshold = &threshold
			}
			if cmd.Flags().Changed("route") {
				opts.DocRouting = route
			}
			if tenant == "" {
				tenant = vectorindex.DefaultTenant
			}

			rc, err := ret.Retrieve(ctx, tenant, args[0], opts)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rc)
			}
			if rc.Empty() {
				fmt.Fprintln(out, "no matching context")
				return nil
			}
			fmt.Fprint(out, rc.Render())
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "Tenant ID (default: \"default\")")
	cmd.Flags().StringVar(&owner, "owner", "", "Restrict results to one owner")
	cmd.Flags().Float32Var(&threshold, "threshold", retrieval.DefaultScoreThreshold, "Minimum similarity for the first search at each layer")
	cmd.Flags().BoolVar(&noThreshold, "no-threshold", false, "Disable score thresholding")
	cmd.Flags().BoolVar(&route, "route", false, "Select documents with the LLM router instead of vector rank")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the context as JSON")

	return cmd
}
