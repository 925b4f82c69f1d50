// Package ingestion runs a pipeline definition end to end: read the source,
// validate it, route rows into the clean and faulty tables, derive reports
// and record the run in the ledger.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"ev-pipeline/internal/analytics"
	"ev-pipeline/internal/config"
	"ev-pipeline/internal/domain"
	"ev-pipeline/internal/export"
	"ev-pipeline/internal/ingest"
	"ev-pipeline/internal/loader"
	"ev-pipeline/internal/processor"
)

// Store is everything the service needs from the table store.
// Implemented by store.Store.
type Store interface {
	loader.Store
	domain.RelationQuerier
	export.Copier
}

// ReportResult is a written report and, when published, its object URI.
type ReportResult struct {
	export.Output
	Published string
}

// Summary describes one completed run.
type Summary struct {
	RunID       string
	Source      string
	CleanTable  string
	FaultyTable string
	Total       int
	Clean       int
	Faulty      int
	Reports     []ReportResult
	Duration    time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher uploads every written report below prefix.
func WithPublisher(p export.Publisher, prefix string) Option {
	return func(s *Service) {
		s.publisher = p
		s.publishPrefix = prefix
	}
}

// WithReportWorkers bounds concurrent report writes.
func WithReportWorkers(n int) Option {
	return func(s *Service) { s.workers = n }
}

// Service orchestrates ingestion runs.
type Service struct {
	store         Store
	runs          domain.LoadRunRepository
	publisher     export.Publisher
	publishPrefix string
	workers       int
	logger        *slog.Logger
}

// NewService creates a Service.
func NewService(store Store, runs domain.LoadRunRepository, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Service{
		store:  store,
		runs:   runs,
		logger: logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run executes the pipeline and records it as a load run. The run is marked
// FAILED, with the error text, when any step fails.
func (s *Service) Run(ctx context.Context, p *config.Pipeline) (*Summary, error) {
	start := time.Now()
	run := &domain.LoadRun{
		ID:          domain.NewID(),
		Source:      p.Source.Path,
		CleanTable:  p.Destinations.Clean,
		FaultyTable: p.Destinations.Faulty,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}
	logger := s.logger.With("run_id", run.ID, "pipeline", p.Name)
	logger.Info("run started", "source", run.Source)

	sum := &Summary{
		RunID:       run.ID,
		Source:      run.Source,
		CleanTable:  run.CleanTable,
		FaultyTable: run.FaultyTable,
	}

	res, err := s.load(ctx, p, logger)
	if err == nil {
		sum.Total, sum.Clean, sum.Faulty = res.Total(), res.Clean, res.Faulty
		sum.Reports, err = s.reports(ctx, run.ID, p, p.Reports, logger)
	}
	sum.Duration = time.Since(start)

	result := domain.LoadRunResult{
		Status:     domain.LoadRunStatusSuccess,
		TotalRows:  int64(sum.Total),
		CleanRows:  int64(sum.Clean),
		FaultyRows: int64(sum.Faulty),
	}
	if err != nil {
		msg := err.Error()
		result.Status = domain.LoadRunStatusFailed
		result.ErrorMessage = &msg
	}
	// The ledger is updated even when ctx was cancelled mid-run.
	if ferr := s.runs.Finish(context.WithoutCancel(ctx), run.ID, result); ferr != nil {
		logger.Error("record run outcome", "error", ferr)
	}

	if err != nil {
		logger.Error("run failed", "error", err, "duration_ms", sum.Duration.Milliseconds())
		return sum, err
	}
	logger.Info("run finished",
		"rows", sum.Total, "clean", sum.Clean, "faulty", sum.Faulty,
		"reports", len(sum.Reports), "duration_ms", sum.Duration.Milliseconds())
	return sum, nil
}

// DryRun reads and validates the source without writing anything.
func (s *Service) DryRun(ctx context.Context, p *config.Pipeline) (*Summary, error) {
	start := time.Now()
	batch, _, err := s.validate(ctx, p, s.logger)
	if err != nil {
		return nil, err
	}
	failed := batch.Failed()
	return &Summary{
		Source:      p.Source.Path,
		CleanTable:  p.Destinations.Clean,
		FaultyTable: p.Destinations.Faulty,
		Total:       batch.Len(),
		Clean:       batch.Len() - failed,
		Faulty:      failed,
		Duration:    time.Since(start),
	}, nil
}

// Reports writes the named reports (all when names is empty) from the
// current clean table, without recording a run.
func (s *Service) Reports(ctx context.Context, p *config.Pipeline, names ...string) ([]ReportResult, error) {
	reps := p.Reports
	if len(names) > 0 {
		reps = make([]config.ReportConfig, 0, len(names))
		for _, n := range names {
			r, err := p.Report(n)
			if err != nil {
				return nil, err
			}
			reps = append(reps, r)
		}
	}
	return s.reports(ctx, "", p, reps, s.logger)
}

// Engine returns an analytics engine over the pipeline's clean table.
func (s *Service) Engine(p *config.Pipeline) (*analytics.Engine, error) {
	return analytics.New(s.store, p.Destinations.Clean, s.logger)
}

func (s *Service) load(ctx context.Context, p *config.Pipeline, logger *slog.Logger) (loader.Result, error) {
	batch, schema, err := s.validate(ctx, p, logger)
	if err != nil {
		return loader.Result{}, err
	}

	clean := loader.Destination{Name: p.Destinations.Clean, Schema: schema}
	faulty := loader.Destination{Name: p.Destinations.Faulty, Schema: schema.Quarantine(p.ErrorField)}
	l := loader.New(s.store, loader.WithErrorField(p.ErrorField), loader.WithLogger(logger))

	if err := l.Prepare(ctx, clean, faulty, p.DropIfExists()); err != nil {
		return loader.Result{}, err
	}
	return l.Load(ctx, batch, clean, faulty)
}

// validate reads the source and runs it through the processors derived from
// the declared schema. Splitter source columns marked drop_source are
// removed afterwards.
func (s *Service) validate(ctx context.Context, p *config.Pipeline, logger *slog.Logger) (domain.Batch, domain.Schema, error) {
	schema, err := p.DomainSchema()
	if err != nil {
		return domain.Batch{}, nil, err
	}

	opts := ingest.Options{Rename: p.Source.Rename}
	if p.Source.Delimiter != "" {
		opts.Delimiter, _ = utf8.DecodeRuneInString(p.Source.Delimiter)
	}
	batch, err := ingest.ReadFile(ctx, p.Source.Path, opts)
	if err != nil {
		return domain.Batch{}, nil, fmt.Errorf("read %s: %w", p.Source.Path, err)
	}
	logger.Debug("source read", "rows", batch.Len(), "columns", len(batch.Columns))

	specs := make([]processor.SplitterSpec, len(p.Splitters))
	for i, sp := range p.Splitters {
		specs[i] = processor.SplitterSpec{Source: sp.Source, Lat: sp.Lat, Long: sp.Long, Separator: sp.Separator}
	}
	procs, err := processor.ForSchema(schema, specs)
	if err != nil {
		return domain.Batch{}, nil, err
	}

	batch = processor.NewPipeline(logger, procs...).Run(batch)
	for _, sp := range p.Splitters {
		if sp.DropSource {
			batch = batch.DropColumn(sp.Source)
		}
	}
	return batch, schema, nil
}

func (s *Service) reports(ctx context.Context, runID string, p *config.Pipeline, reps []config.ReportConfig, logger *slog.Logger) ([]ReportResult, error) {
	if len(reps) == 0 {
		return nil, nil
	}
	engine, err := analytics.New(s.store, p.Destinations.Clean, logger)
	if err != nil {
		return nil, err
	}
	outputs, err := export.NewReporter(engine, s.store, p.OutputDir, s.workers, logger).WriteAll(ctx, reps)
	if err != nil {
		return nil, err
	}

	results := make([]ReportResult, len(outputs))
	for i, out := range outputs {
		results[i] = ReportResult{Output: out}
		if s.publisher != nil {
			url, err := export.PublishPath(ctx, s.publisher, out.Path, s.publishPrefix)
			if err != nil {
				return nil, err
			}
			results[i].Published = url
			logger.Info("report published", "report", out.Name, "url", url)
		}
		if runID == "" {
			continue
		}
		rec := &domain.LoadRunReport{RunID: runID, Name: out.Name, Path: out.Path, Rows: out.Rows}
		if results[i].Published != "" {
			rec.Published = &results[i].Published
		}
		if err := s.runs.AddReport(ctx, rec); err != nil {
			return nil, fmt.Errorf("record report %s: %w", out.Name, err)
		}
	}
	return results, nil
}
