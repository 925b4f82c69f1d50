package domain

import "slices"

// Relation is an immutable tabular result. It keeps the SQL that defines it so
// further relational steps can be layered on top without re-materializing.
type Relation struct {
	query   string
	columns []string
	rows    [][]any
}

// NewRelation creates a relation. The slices are copied.
func NewRelation(query string, columns []string, rows [][]any) *Relation {
	cp := make([][]any, len(rows))
	for i, r := range rows {
		cp[i] = slices.Clone(r)
	}
	return &Relation{query: query, columns: slices.Clone(columns), rows: cp}
}

// Query returns the SQL that defines the relation.
func (r *Relation) Query() string { return r.query }

// Columns returns the column names.
func (r *Relation) Columns() []string { return slices.Clone(r.columns) }

// Len returns the number of tuples.
func (r *Relation) Len() int { return len(r.rows) }

// HasColumn reports whether the relation has a column with the given name.
func (r *Relation) HasColumn(name string) bool {
	return slices.Contains(r.columns, name)
}

// Row returns a copy of the i-th tuple.
func (r *Relation) Row(i int) []any {
	return slices.Clone(r.rows[i])
}

// Rows returns a copy of every tuple.
func (r *Relation) Rows() [][]any {
	out := make([][]any, len(r.rows))
	for i, row := range r.rows {
		out[i] = slices.Clone(row)
	}
	return out
}

// Records returns the tuples as column-keyed maps.
func (r *Relation) Records() []map[string]any {
	out := make([]map[string]any, len(r.rows))
	for i, row := range r.rows {
		rec := make(map[string]any, len(r.columns))
		for j, c := range r.columns {
			rec[c] = row[j]
		}
		out[i] = rec
	}
	return out
}
