// Package ingest reads source files into untracked batches.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"ev-pipeline/internal/domain"
)

// Options controls how a CSV source is read.
type Options struct {
	// Delimiter defaults to ','.
	Delimiter rune
	// Rename maps raw header names to column names. Headers without an entry
	// are normalized with NormalizeHeader.
	Rename map[string]string
}

var nonWordRe = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeHeader lower-cases a header and replaces every run of
// non-alphanumeric characters with a single underscore.
func NormalizeHeader(h string) string {
	n := nonWordRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(h)), "_")
	return strings.Trim(n, "_")
}

// ReadFile reads a CSV file.
func ReadFile(ctx context.Context, path string, opts Options) (domain.Batch, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the pipeline definition
	if err != nil {
		return domain.Batch{}, fmt.Errorf("open source: %w", err)
	}
	defer f.Close() //nolint:errcheck

	return Read(ctx, f, opts)
}

// Read parses CSV with a header line into a batch. Every value stays a
// string; empty cells become null. A record with a different number of
// fields than the header is an error.
func Read(ctx context.Context, r io.Reader, opts Options) (domain.Batch, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return domain.Batch{}, domain.ErrValidation("source is empty: a header line is required")
	}
	if err != nil {
		return domain.Batch{}, fmt.Errorf("read header: %w", err)
	}
	columns, err := columnNames(header, opts.Rename)
	if err != nil {
		return domain.Batch{}, err
	}

	var rows []domain.Row
	for {
		if len(rows)%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return domain.Batch{}, err
			}
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) && errors.Is(pe.Err, csv.ErrFieldCount) {
				return domain.Batch{}, domain.ErrValidation("line %d: expected %d fields, got %d", pe.Line, len(columns), len(record))
			}
			return domain.Batch{}, fmt.Errorf("read source: %w", err)
		}

		values := make(map[string]any, len(columns))
		for i, col := range columns {
			if record[i] == "" {
				values[col] = nil
				continue
			}
			values[col] = strings.Clone(record[i])
		}
		rows = append(rows, domain.NewRow(values))
	}

	return domain.NewBatch(columns, rows), nil
}

func columnNames(header []string, rename map[string]string) ([]string, error) {
	columns := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		name, ok := rename[h]
		if !ok {
			name = NormalizeHeader(h)
		}
		if name == "" {
			return nil, domain.ErrValidation("header column %d has no usable name", i+1)
		}
		if seen[name] {
			return nil, domain.ErrValidation("duplicate column %q after renaming header %q", name, h)
		}
		seen[name] = true
		columns[i] = name
	}
	return columns, nil
}
