// Package processor implements the per-row validation steps and the pipeline
// that folds a batch through them.
//
// A ValueProcessor never aborts a row: whatever its step fails with is
// recorded on the row and the row is handed on. The set of processors is
// closed; the interface carries an unexported method so only this package can
// add variants.
package processor

import (
	"fmt"

	"ev-pipeline/internal/domain"
)

// ValueProcessor is a single fallible row transformation.
type ValueProcessor interface {
	// Name identifies the processor in logs.
	Name() string

	// OutputColumns lists columns the processor may add to a row.
	OutputColumns() []string

	kind() domain.ErrorKind
	step(row domain.Row) (domain.Row, error)
}

// Apply runs p against row. A failure (error or panic) inside the step is
// appended to the row's error log; partial changes the step made before
// failing are kept. Apply always returns the row.
func Apply(p ValueProcessor, row domain.Row) (out domain.Row) {
	out = row
	defer func() {
		if r := recover(); r != nil {
			out = out.AppendError(domain.ErrorKindPanic, fmt.Sprintf("%s: panic: %v", p.Name(), r))
		}
	}()

	next, err := p.step(row)
	out = next
	if err != nil {
		out = out.AppendError(p.kind(), err.Error())
	}
	return out
}
