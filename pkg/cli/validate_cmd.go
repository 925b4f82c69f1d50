package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"ev-pipeline/internal/service/ingestion"
	"ev-pipeline/internal/store"
)

func newValidateCmd(a *app) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the pipeline and the source without writing anything",
		Long: "Parses the pipeline definition and validates every source row, " +
			"reporting how many rows would be routed to each table. No tables are touched.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close() //nolint:errcheck

			p, err := a.loadPipeline()
			if err != nil {
				return err
			}
			// Validation never queries the store; an in-memory one keeps the
			// configured database file untouched.
			st, err := store.Open(cmd.Context(), "", a.logger)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, st)

			sum, err := ingestion.NewService(st, nil, a.logger).DryRun(cmd.Context(), p)
			if err != nil {
				return err
			}
			if err := printSummary(cmd.OutOrStdout(), a.outputFormat(cmd), toSummaryView(sum, nil)); err != nil {
				return err
			}
			if strict && sum.Faulty > 0 {
				return fmt.Errorf("%d of %d rows failed validation", sum.Faulty, sum.Total)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when any row fails validation")
	return cmd
}
