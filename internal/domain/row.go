package domain

import (
	"slices"
	"strings"
)

// DefaultErrorField is the column name used for the accumulated row errors
// when a destination is written.
const DefaultErrorField = "errors"

// ErrorSeparator joins row errors at the serialization boundary.
const ErrorSeparator = ";"

// ErrorKind classifies a row-level failure.
type ErrorKind string

// Row error kinds.
const (
	ErrorKindCoordinateFormat ErrorKind = "coordinate_format"
	ErrorKindIntegerParse     ErrorKind = "integer_parse"
	ErrorKindFloatParse       ErrorKind = "float_parse"
	ErrorKindPanic            ErrorKind = "panic"
	// ErrorKindExternal marks errors that arrived with the row, e.g. from an
	// earlier run.
	ErrorKindExternal ErrorKind = "external"
)

// RowError is a single non-fatal failure recorded against a row.
type RowError struct {
	Kind    ErrorKind
	Message string
}

// Row is one logical record. Values are keyed by column name; the column
// order belongs to the owning Batch. A nil value is a null.
//
// Errors is append-only and ordered by the processor that raised them.
type Row struct {
	values map[string]any
	Errors []RowError
}

// NewRow creates a row from a value map. The map is owned by the row afterwards.
func NewRow(values map[string]any) Row {
	if values == nil {
		values = make(map[string]any)
	}
	return Row{values: values}
}

// Get returns the value of a field and whether the field is present.
func (r Row) Get(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Value returns the value of a field, or nil when absent.
func (r Row) Value(name string) any {
	return r.values[name]
}

// Set assigns a field value and returns the updated row.
func (r Row) Set(name string, v any) Row {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	r.values[name] = v
	return r
}

// Delete removes a field and returns the updated row.
func (r Row) Delete(name string) Row {
	delete(r.values, name)
	return r
}

// AppendError records a failure and returns the updated row.
func (r Row) AppendError(kind ErrorKind, msg string) Row {
	r.Errors = append(r.Errors, RowError{Kind: kind, Message: msg})
	return r
}

// HasErrors reports whether at least one failure was recorded.
func (r Row) HasErrors() bool {
	return len(r.Errors) > 0
}

// ErrorText renders the error log as text. It returns nil for a row without
// errors so the destination column stays null.
func (r Row) ErrorText(sep string) *string {
	if len(r.Errors) == 0 {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Message
	}
	s := strings.Join(msgs, sep)
	return &s
}

// Clone returns a deep copy of the row's value map and error log.
func (r Row) Clone() Row {
	values := make(map[string]any, len(r.values))
	for k, v := range r.values {
		values[k] = v
	}
	return Row{values: values, Errors: slices.Clone(r.Errors)}
}

// Batch is an ordered collection of rows sharing one column set.
type Batch struct {
	Columns []string
	Rows    []Row

	// Tracked is set once the batch carries the error field, i.e. after it
	// went through validation, whether or not any row failed.
	Tracked bool
}

// NewBatch creates an untracked batch.
func NewBatch(columns []string, rows []Row) Batch {
	return Batch{Columns: columns, Rows: rows}
}

// Len returns the number of rows.
func (b Batch) Len() int {
	return len(b.Rows)
}

// HasColumn reports whether the batch column set contains name.
func (b Batch) HasColumn(name string) bool {
	return slices.Contains(b.Columns, name)
}

// AddColumn appends a column to the column set if it is not already present.
// Rows are left untouched; a missing value reads as null.
func (b Batch) AddColumn(name string) Batch {
	if b.HasColumn(name) {
		return b
	}
	b.Columns = append(slices.Clone(b.Columns), name)
	return b
}

// DropColumn returns a batch without the column. The receiver's rows are
// not modified.
func (b Batch) DropColumn(name string) Batch {
	idx := slices.Index(b.Columns, name)
	if idx < 0 {
		return b
	}
	b.Columns = slices.Delete(slices.Clone(b.Columns), idx, idx+1)
	rows := make([]Row, len(b.Rows))
	for i, r := range b.Rows {
		rows[i] = r.Clone().Delete(name)
	}
	b.Rows = rows
	return b
}

// Failed returns the number of rows carrying at least one error.
func (b Batch) Failed() int {
	n := 0
	for _, r := range b.Rows {
		if r.HasErrors() {
			n++
		}
	}
	return n
}
