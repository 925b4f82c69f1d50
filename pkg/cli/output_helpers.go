package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"ev-pipeline/internal/domain"
)

func validateOutputFormat(output string) error {
	if output != "" && output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

// resolveOutputFormat picks table for interactive terminals and json for
// pipes and files when no format was requested.
func resolveOutputFormat(requested string, w io.Writer) string {
	if requested != "" {
		return requested
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) { //nolint:gosec // fd fits in int
		return "table"
	}
	return "json"
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes an aligned table with upper-cased headers.
func printTable(w io.Writer, headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	upper := make([]string, len(headers))
	for i, h := range headers {
		upper[i] = strings.ToUpper(h)
	}
	fmt.Fprintln(tw, strings.Join(upper, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

// printDetail writes key/value pairs, one per line.
func printDetail(w io.Writer, pairs [][2]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, p := range pairs {
		fmt.Fprintf(tw, "%s:\t%s\n", p[0], p[1])
	}
	return tw.Flush()
}

func errorObject(err error) map[string]any {
	obj := map[string]any{"error": err.Error()}
	var valErr *domain.ValidationError
	var nfErr *domain.NotFoundError
	var confErr *domain.ConflictError
	switch {
	case errors.As(err, &valErr):
		obj["code"] = "VALIDATION"
	case errors.As(err, &nfErr):
		obj["code"] = "NOT_FOUND"
	case errors.As(err, &confErr):
		obj["code"] = "CONFLICT"
	}
	return obj
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func deref(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
