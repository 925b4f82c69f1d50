// Package export materializes report relations to files and publishes them
// to object storage.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"ev-pipeline/internal/analytics"
	"ev-pipeline/internal/config"
	"ev-pipeline/internal/ddl"
	"ev-pipeline/internal/domain"
)

// DefaultWorkers bounds how many reports are written concurrently.
const DefaultWorkers = 4

// Copier writes the result of a query to a file. Implemented by store.Store.
type Copier interface {
	CopyTo(ctx context.Context, query, path string, opts ddl.CopyOptions) error
}

// Output describes one written report.
type Output struct {
	Name   string
	Path   string
	Format string
	Rows   int64
}

// Reporter turns report definitions into files under an output directory.
type Reporter struct {
	engine    *analytics.Engine
	copier    Copier
	outputDir string
	workers   int
	logger    *slog.Logger
}

// NewReporter creates a Reporter. workers <= 0 means DefaultWorkers.
func NewReporter(engine *analytics.Engine, copier Copier, outputDir string, workers int, logger *slog.Logger) *Reporter {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reporter{
		engine:    engine,
		copier:    copier,
		outputDir: outputDir,
		workers:   workers,
		logger:    logger,
	}
}

// Build runs the analytics chain of a report: group and count, then rank
// and top-n when asked for, then ordering.
func (r *Reporter) Build(ctx context.Context, rep config.ReportConfig) (*domain.Relation, error) {
	rel, err := r.engine.GroupAndCount(ctx, rep.GroupBy)
	if err != nil {
		return nil, err
	}
	if rep.Ranked() {
		if rel, err = r.engine.RankByCount(ctx, rel, rep.RankPartition); err != nil {
			return nil, err
		}
	}
	if rep.Top > 0 {
		if rel, err = r.engine.TopN(ctx, rel, rep.Top); err != nil {
			return nil, err
		}
	}
	if len(rep.OrderBy) > 0 {
		if rel, err = r.engine.OrderBy(ctx, rel, rep.OrderBy); err != nil {
			return nil, err
		}
	}
	return rel, nil
}

// Path returns where a report is written. Partitioned parquet reports are
// directories; everything else is a single file.
func (r *Reporter) Path(rep config.ReportConfig) string {
	if rep.Format == ddl.FormatParquet && len(rep.PartitionBy) > 0 {
		return filepath.Join(r.outputDir, rep.Name)
	}
	return filepath.Join(r.outputDir, rep.Name+"."+formatOrDefault(rep.Format))
}

// Write builds and writes one report.
func (r *Reporter) Write(ctx context.Context, rep config.ReportConfig) (Output, error) {
	start := time.Now()

	rel, err := r.Build(ctx, rep)
	if err != nil {
		return Output{}, fmt.Errorf("report %s: %w", rep.Name, err)
	}

	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	out := Output{
		Name:   rep.Name,
		Path:   r.Path(rep),
		Format: formatOrDefault(rep.Format),
		Rows:   int64(rel.Len()),
	}
	opts := ddl.CopyOptions{
		Format:      out.Format,
		PartitionBy: rep.PartitionBy,
		Overwrite:   len(rep.PartitionBy) > 0,
	}
	if err := r.copier.CopyTo(ctx, rel.Query(), out.Path, opts); err != nil {
		return Output{}, fmt.Errorf("report %s: %w", rep.Name, err)
	}

	r.logger.Info("report written",
		"report", out.Name, "path", out.Path, "rows", out.Rows,
		"duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

// WriteAll writes every report, at most workers at a time. Outputs are
// returned in definition order. The first failure cancels the rest.
func (r *Reporter) WriteAll(ctx context.Context, reports []config.ReportConfig) ([]Output, error) {
	outputs := make([]Output, len(reports))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, rep := range reports {
		g.Go(func() error {
			out, err := r.Write(gctx, rep)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

func formatOrDefault(format string) string {
	if format == "" {
		return ddl.FormatCSV
	}
	return format
}
