package processor

import (
	"log/slog"

	"ev-pipeline/internal/domain"
)

// Pipeline applies an ordered list of processors to every row of a batch.
type Pipeline struct {
	processors []ValueProcessor
	logger     *slog.Logger
}

// NewPipeline creates a pipeline. A nil logger discards output.
func NewPipeline(logger *slog.Logger, processors ...ValueProcessor) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{processors: processors, logger: logger}
}

// Run folds the batch through the processors, one processor across the whole
// batch before the next starts. The result has the same row count, any
// processor output columns added, and is marked as tracked. Rows are copied
// first; the input batch is left as it was.
func (p *Pipeline) Run(batch domain.Batch) domain.Batch {
	rows := make([]domain.Row, len(batch.Rows))
	for i, r := range batch.Rows {
		rows[i] = r.Clone()
	}
	batch.Rows = rows

	for _, proc := range p.processors {
		for _, col := range proc.OutputColumns() {
			batch = batch.AddColumn(col)
		}

		failed := 0
		for i, row := range batch.Rows {
			before := len(row.Errors)
			row = Apply(proc, row)
			if len(row.Errors) > before {
				failed++
			}
			batch.Rows[i] = row
		}
		p.logger.Debug("processor finished", "processor", proc.Name(), "rows", batch.Len(), "failed", failed)
	}
	batch.Tracked = true
	return batch
}

// SplitterSpec declares a coordinate split for ForSchema.
type SplitterSpec struct {
	Source    string
	Lat       string
	Long      string
	Separator string
}

// ForSchema builds the processor list for a destination schema: the given
// splitters first, then an IntChecker for every integer column and a
// FloatChecker for every floating column, in schema order. Each checker is
// bound to its column's declared width. An unsupported
// type tag is a usage error.
func ForSchema(schema domain.Schema, splitters []SplitterSpec) ([]ValueProcessor, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	procs := make([]ValueProcessor, 0, len(splitters)+len(schema))
	for _, s := range splitters {
		if s.Source == "" || s.Lat == "" || s.Long == "" {
			return nil, domain.ErrValidation("coordinate splitter needs source, lat and long columns")
		}
		procs = append(procs, LatLongSplitter{
			Source:    s.Source,
			Lat:       s.Lat,
			Long:      s.Long,
			Separator: s.Separator,
		})
	}
	for _, c := range schema {
		if c.Type.IsInteger() {
			procs = append(procs, IntChecker{Column: c.Name, Type: c.Type})
		}
	}
	for _, c := range schema {
		if c.Type.IsFloat() {
			procs = append(procs, FloatChecker{Column: c.Name, Type: c.Type})
		}
	}
	return procs, nil
}
