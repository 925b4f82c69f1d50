package cli

import (
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"ev-pipeline/internal/service/ingestion"
)

type reportView struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Format    string `json:"format"`
	Rows      int64  `json:"rows"`
	Published string `json:"published,omitempty"`
}

type summaryView struct {
	RunID       string       `json:"run_id,omitempty"`
	Source      string       `json:"source"`
	CleanTable  string       `json:"clean_table"`
	FaultyTable string       `json:"faulty_table"`
	Total       int          `json:"total_rows"`
	Clean       int          `json:"clean_rows"`
	Faulty      int          `json:"faulty_rows"`
	DurationMS  int64        `json:"duration_ms"`
	Reports     []reportView `json:"reports,omitempty"`
	Error       string       `json:"error,omitempty"`
}

func toReportViews(results []ingestion.ReportResult) []reportView {
	out := make([]reportView, len(results))
	for i, r := range results {
		out[i] = reportView{Name: r.Name, Path: r.Path, Format: r.Format, Rows: r.Rows, Published: r.Published}
	}
	return out
}

func toSummaryView(sum *ingestion.Summary, runErr error) summaryView {
	v := summaryView{
		RunID:       sum.RunID,
		Source:      sum.Source,
		CleanTable:  sum.CleanTable,
		FaultyTable: sum.FaultyTable,
		Total:       sum.Total,
		Clean:       sum.Clean,
		Faulty:      sum.Faulty,
		DurationMS:  sum.Duration.Milliseconds(),
		Reports:     toReportViews(sum.Reports),
	}
	if runErr != nil {
		v.Error = runErr.Error()
	}
	return v
}

func printSummary(w io.Writer, format string, v summaryView) error {
	if format == "json" {
		return printJSON(w, v)
	}
	pairs := [][2]string{}
	if v.RunID != "" {
		pairs = append(pairs, [2]string{"Run", v.RunID})
	}
	pairs = append(pairs,
		[2]string{"Source", v.Source},
		[2]string{"Rows", strconv.Itoa(v.Total)},
		[2]string{"Clean", strconv.Itoa(v.Clean) + " -> " + v.CleanTable},
		[2]string{"Faulty", strconv.Itoa(v.Faulty) + " -> " + v.FaultyTable},
		[2]string{"Duration", strconv.FormatInt(v.DurationMS, 10) + "ms"},
	)
	if err := printDetail(w, pairs); err != nil {
		return err
	}
	if len(v.Reports) == 0 {
		return nil
	}
	_, _ = io.WriteString(w, "\n")
	return printReports(w, v.Reports)
}

func printReports(w io.Writer, reports []reportView) error {
	rows := make([][]string, len(reports))
	for i, r := range reports {
		pub := r.Published
		if pub == "" {
			pub = "-"
		}
		rows[i] = []string{r.Name, r.Format, strconv.FormatInt(r.Rows, 10), r.Path, pub}
	}
	return printTable(w, []string{"report", "format", "rows", "path", "published"}, rows)
}

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Validate the source, load both tables and write every report",
		Long: "Reads the source CSV, validates each row against the pipeline schema, " +
			"replaces the clean and faulty tables and writes the configured reports. " +
			"The run is recorded in the run ledger whether it succeeds or fails.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close() //nolint:errcheck

			p, err := a.loadPipeline()
			if err != nil {
				return err
			}
			svc, _, err := a.service(cmd.Context())
			if err != nil {
				return err
			}

			sum, runErr := svc.Run(cmd.Context(), p)
			if sum == nil {
				return runErr
			}
			if err := printSummary(cmd.OutOrStdout(), a.outputFormat(cmd), toSummaryView(sum, runErr)); err != nil {
				return err
			}
			return runErr
		},
	}
}
