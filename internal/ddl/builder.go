// Package ddl builds DuckDB statements for destination tables, row inserts
// and file exports.
package ddl

import (
	"fmt"
	"strings"

	"ev-pipeline/internal/domain"
)

// CreateTable returns a DuckDB DDL statement:
// CREATE TABLE "<table>" ("<col1>" TYPE1, "<col2>" TYPE2, ...).
func CreateTable(table string, schema domain.Schema) (string, error) {
	name, err := QualifiedName(table)
	if err != nil {
		return "", err
	}
	if len(schema) == 0 {
		return "", fmt.Errorf("at least one column is required")
	}

	colDefs := make([]string, 0, len(schema))
	for _, c := range schema {
		if err := ValidateIdentifier(c.Name); err != nil {
			return "", fmt.Errorf("invalid column name %q: %w", c.Name, err)
		}
		if !c.Type.Valid() {
			return "", fmt.Errorf("invalid column type for %q: unsupported type %q", c.Name, c.Type)
		}
		colDefs = append(colDefs, fmt.Sprintf("%s %s", QuoteIdentifier(c.Name), c.Type))
	}

	return fmt.Sprintf("CREATE TABLE %s (%s)", name, strings.Join(colDefs, ", ")), nil
}

// DropTable returns a DuckDB DDL statement: DROP TABLE "<table>".
// There is no IF EXISTS; callers filter missing-table errors themselves.
func DropTable(table string) (string, error) {
	name, err := QualifiedName(table)
	if err != nil {
		return "", err
	}
	return "DROP TABLE " + name, nil
}

// InsertInto returns a parameterized insert:
// INSERT INTO "<table>" ("<a>", "<b>") VALUES (?, ?).
func InsertInto(table string, columns []string) (string, error) {
	name, err := QualifiedName(table)
	if err != nil {
		return "", err
	}
	if err := ValidateColumns(columns); err != nil {
		return "", err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", name, QuoteIdentifiers(columns), placeholders), nil
}

// Export file formats.
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// CopyOptions controls a COPY ... TO export.
type CopyOptions struct {
	Format      string   // csv (default) or parquet
	PartitionBy []string // hive-style partition columns, parquet and csv
	Overwrite   bool
}

// CopyTo wraps a query in a DuckDB export:
//
//	COPY (<query>) TO '<path>' (FORMAT parquet, PARTITION_BY ("model_year"))
func CopyTo(query, path string, opts CopyOptions) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("query is required")
	}
	if path == "" {
		return "", fmt.Errorf("output path is required")
	}

	format := strings.ToLower(opts.Format)
	var options []string
	switch format {
	case FormatCSV, "":
		options = append(options, "FORMAT csv", "HEADER true")
	case FormatParquet:
		options = append(options, "FORMAT parquet")
	default:
		return "", fmt.Errorf("unsupported file format: %q", opts.Format)
	}
	if len(opts.PartitionBy) > 0 {
		if err := ValidateColumns(opts.PartitionBy); err != nil {
			return "", fmt.Errorf("invalid partition column: %w", err)
		}
		options = append(options, fmt.Sprintf("PARTITION_BY (%s)", QuoteIdentifiers(opts.PartitionBy)))
		if opts.Overwrite {
			options = append(options, "OVERWRITE_OR_IGNORE true")
		}
	}

	return fmt.Sprintf("COPY (%s) TO %s (%s)", query, QuoteLiteral(path), strings.Join(options, ", ")), nil
}
