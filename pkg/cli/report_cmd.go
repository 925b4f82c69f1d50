package cli

import (
	"github.com/spf13/cobra"
)

func newReportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "report [name...]",
		Short: "Rewrite reports from the current clean table",
		Long: "Writes the named reports, or all configured reports when none are named, " +
			"from the clean table left by the last run. Nothing is recorded in the run ledger.",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close() //nolint:errcheck

			p, err := a.loadPipeline()
			if err != nil {
				return err
			}
			svc, _, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			results, err := svc.Reports(cmd.Context(), p, args...)
			if err != nil {
				return err
			}

			views := toReportViews(results)
			if a.outputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), views)
			}
			return printReports(cmd.OutOrStdout(), views)
		},
	}
}
