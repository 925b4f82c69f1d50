// Package loader routes a processed batch into its clean and faulty
// destinations.
package loader

import (
	"context"
	"fmt"
	"log/slog"

	"ev-pipeline/internal/domain"
)

// Store is the subset of the table store the loader writes through.
type Store interface {
	domain.DestinationManager
	domain.Committer
}

// Destination names a target table and its column layout.
type Destination struct {
	Name   string
	Schema domain.Schema
}

// Result reports how many rows went to each destination.
type Result struct {
	Clean  int
	Faulty int
}

// Total returns Clean + Faulty.
func (r Result) Total() int { return r.Clean + r.Faulty }

// Option configures a Loader.
type Option func(*Loader)

// WithErrorField sets the column that receives the serialized row errors.
func WithErrorField(name string) Option {
	return func(l *Loader) {
		if name != "" {
			l.errorField = name
		}
	}
}

// WithSeparator sets the string joining multiple row errors.
func WithSeparator(sep string) Option {
	return func(l *Loader) {
		if sep != "" {
			l.separator = sep
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Loader partitions batches by error state and commits each partition.
type Loader struct {
	store      Store
	errorField string
	separator  string
	logger     *slog.Logger
}

// New creates a Loader writing through store.
func New(store Store, opts ...Option) *Loader {
	l := &Loader{
		store:      store,
		errorField: domain.DefaultErrorField,
		separator:  domain.ErrorSeparator,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// ErrorField returns the configured error column name.
func (l *Loader) ErrorField() string { return l.errorField }

// Prepare creates (or recreates) both destination tables.
func (l *Loader) Prepare(ctx context.Context, clean, faulty Destination, dropIfExists bool) error {
	if err := l.store.CreateDestination(ctx, clean.Name, clean.Schema, dropIfExists); err != nil {
		return fmt.Errorf("prepare clean destination: %w", err)
	}
	if err := l.store.CreateDestination(ctx, faulty.Name, faulty.Schema, dropIfExists); err != nil {
		return fmt.Errorf("prepare faulty destination: %w", err)
	}
	return nil
}

// Load writes the batch. A batch that never went through validation goes to
// clean as is. A validated batch is split: rows with at least one error go
// to faulty with their errors rendered into the error field, the rest go to
// clean without it. Every row lands in exactly one destination.
func (l *Loader) Load(ctx context.Context, batch domain.Batch, clean, faulty Destination) (Result, error) {
	if err := l.conforms(batch, clean, false); err != nil {
		return Result{}, err
	}
	if batch.Tracked {
		if err := l.conforms(batch, faulty, true); err != nil {
			return Result{}, err
		}
	}

	var good, bad []domain.Row
	if !batch.Tracked {
		good = batch.Rows
	} else {
		for _, r := range batch.Rows {
			if r.HasErrors() {
				bad = append(bad, r)
			} else {
				good = append(good, r)
			}
		}
	}

	cleanRows, err := l.project(good, clean.Schema, false)
	if err != nil {
		return Result{}, fmt.Errorf("clean destination %s: %w", clean.Name, err)
	}
	faultyRows, err := l.project(bad, faulty.Schema, true)
	if err != nil {
		return Result{}, fmt.Errorf("faulty destination %s: %w", faulty.Name, err)
	}

	if err := l.store.Commit(ctx, clean.Name, clean.Schema.Names(), cleanRows); err != nil {
		return Result{}, fmt.Errorf("load clean rows: %w", err)
	}
	if batch.Tracked {
		if err := l.store.Commit(ctx, faulty.Name, faulty.Schema.Names(), faultyRows); err != nil {
			return Result{}, fmt.Errorf("load faulty rows: %w", err)
		}
	}

	res := Result{Clean: len(cleanRows), Faulty: len(faultyRows)}
	l.logger.Info("batch loaded",
		"clean_table", clean.Name, "faulty_table", faulty.Name,
		"rows", batch.Len(), "clean", res.Clean, "faulty", res.Faulty)
	return res, nil
}

// conforms checks that every destination column exists in the batch. The
// faulty destination may additionally name the error field; the clean one
// must not.
func (l *Loader) conforms(batch domain.Batch, dst Destination, faulty bool) error {
	if dst.Name == "" {
		return domain.ErrValidation("destination name is required")
	}
	if err := dst.Schema.Validate(); err != nil {
		return domain.ErrValidation("destination %q: %v", dst.Name, err)
	}
	for _, c := range dst.Schema {
		if c.Name == l.errorField {
			if !faulty {
				return domain.ErrValidation("destination %q must not contain the error field %q", dst.Name, c.Name)
			}
			continue
		}
		if !batch.HasColumn(c.Name) {
			return domain.ErrValidation("destination %q column %q is not in the batch", dst.Name, c.Name)
		}
	}
	return nil
}

// project lays rows out in schema column order, coercing each value to its
// column type.
func (l *Loader) project(rows []domain.Row, schema domain.Schema, withErrors bool) ([][]any, error) {
	out := make([][]any, 0, len(rows))
	for i, r := range rows {
		vals := make([]any, len(schema))
		for j, c := range schema {
			if withErrors && c.Name == l.errorField {
				if text := r.ErrorText(l.separator); text != nil {
					vals[j] = *text
				}
				continue
			}
			v, err := c.Type.Coerce(r.Value(c.Name))
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i, c.Name, err)
			}
			vals[j] = v
		}
		out = append(out, vals)
	}
	return out, nil
}
