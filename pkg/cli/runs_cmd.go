package cli

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"ev-pipeline/internal/domain"
)

type runView struct {
	ID           string       `json:"id"`
	Source       string       `json:"source"`
	CleanTable   string       `json:"clean_table"`
	FaultyTable  string       `json:"faulty_table"`
	Status       string       `json:"status"`
	TotalRows    int64        `json:"total_rows"`
	CleanRows    int64        `json:"clean_rows"`
	FaultyRows   int64        `json:"faulty_rows"`
	ErrorMessage *string      `json:"error_message,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
	Reports      []reportView `json:"reports,omitempty"`
}

func toRunView(r domain.LoadRun) runView {
	return runView{
		ID:           r.ID,
		Source:       r.Source,
		CleanTable:   r.CleanTable,
		FaultyTable:  r.FaultyTable,
		Status:       r.Status,
		TotalRows:    r.TotalRows,
		CleanRows:    r.CleanRows,
		FaultyRows:   r.FaultyRows,
		ErrorMessage: r.ErrorMessage,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
	}
}

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run ledger",
	}
	cmd.AddCommand(newRunsListCmd(a))
	cmd.AddCommand(newRunsGetCmd(a))
	return cmd
}

func newRunsListCmd(a *app) *cobra.Command {
	var page domain.PageRequest

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close() //nolint:errcheck

			runs, err := a.openRuns(cmd.Context())
			if err != nil {
				return err
			}
			list, total, err := runs.List(cmd.Context(), page)
			if err != nil {
				return err
			}
			next := domain.NextPageToken(page.Offset(), page.Limit(), total)

			out := cmd.OutOrStdout()
			if a.outputFormat(cmd) == "json" {
				views := make([]runView, len(list))
				for i, r := range list {
					views[i] = toRunView(r)
				}
				return printJSON(out, map[string]any{
					"runs":            views,
					"total":           total,
					"next_page_token": next,
					"ledger_version":  a.ledgerVersion,
				})
			}

			rows := make([][]string, len(list))
			for i, r := range list {
				rows[i] = []string{
					r.ID, r.Status, formatTime(r.StartedAt),
					strconv.FormatInt(r.TotalRows, 10),
					strconv.FormatInt(r.CleanRows, 10),
					strconv.FormatInt(r.FaultyRows, 10),
				}
			}
			if err := printTable(out, []string{"id", "status", "started", "rows", "clean", "faulty"}, rows); err != nil {
				return err
			}
			if next != "" {
				cmd.PrintErrf("More runs available: --page-token %s\n", next)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&page.MaxResults, "max-results", domain.DefaultMaxResults, "Maximum runs per page")
	cmd.Flags().StringVar(&page.PageToken, "page-token", "", "Token from a previous listing")
	return cmd
}

func newRunsGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show one run and the reports it wrote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close() //nolint:errcheck

			runs, err := a.openRuns(cmd.Context())
			if err != nil {
				return err
			}
			run, err := runs.GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			reports, err := runs.ListReports(cmd.Context(), run.ID)
			if err != nil {
				return err
			}

			v := toRunView(*run)
			for _, rep := range reports {
				pub := ""
				if rep.Published != nil {
					pub = *rep.Published
				}
				v.Reports = append(v.Reports, reportView{Name: rep.Name, Path: rep.Path, Rows: rep.Rows, Published: pub})
			}

			out := cmd.OutOrStdout()
			if a.outputFormat(cmd) == "json" {
				return printJSON(out, v)
			}
			finished := "-"
			if v.FinishedAt != nil {
				finished = formatTime(*v.FinishedAt)
			}
			if err := printDetail(out, [][2]string{
				{"Run", v.ID},
				{"Status", v.Status},
				{"Source", v.Source},
				{"Clean", strconv.FormatInt(v.CleanRows, 10) + " -> " + v.CleanTable},
				{"Faulty", strconv.FormatInt(v.FaultyRows, 10) + " -> " + v.FaultyTable},
				{"Started", formatTime(v.StartedAt)},
				{"Finished", finished},
				{"Error", deref(v.ErrorMessage)},
			}); err != nil {
				return err
			}
			if len(v.Reports) == 0 {
				return nil
			}
			_, _ = out.Write([]byte("\n"))
			return printReports(out, v.Reports)
		},
	}
}
