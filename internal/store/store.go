// Package store is the DuckDB-backed table store used for destinations,
// analytics queries and file exports.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duckdb/duckdb-go/v2"

	"ev-pipeline/internal/ddl"
	"ev-pipeline/internal/domain"
)

// Store executes destination and query operations against a DuckDB database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	owned  bool
}

// Open opens a DuckDB database at path. An empty path or ":memory:" opens
// an in-memory database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if path == ":memory:" {
		path = ""
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	s := New(db, logger)
	s.owned = true
	return s, nil
}

// New wraps an existing DuckDB handle. Close does not close a wrapped handle.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{db: db, logger: logger}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database when the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// CreateDestination creates the table name with the given schema. With
// dropIfExists an existing table is dropped first; a drop that fails because
// the table is missing is ignored, any other failure is returned. Creating a
// table that already exists returns a *domain.ConflictError.
func (s *Store) CreateDestination(ctx context.Context, name string, schema domain.Schema, dropIfExists bool) error {
	create, err := ddl.CreateTable(name, schema)
	if err != nil {
		return domain.ErrValidation("destination %q: %v", name, err)
	}

	if dropIfExists {
		drop, err := ddl.DropTable(name)
		if err != nil {
			return domain.ErrValidation("destination %q: %v", name, err)
		}
		if _, err := s.db.ExecContext(ctx, drop); err != nil {
			if !IsNotExist(err) {
				return fmt.Errorf("drop table %s: %w", name, err)
			}
			s.logger.Debug("drop skipped, table does not exist", "table", name)
		}
	}

	if _, err := s.db.ExecContext(ctx, create); err != nil {
		if isAlreadyExists(err) {
			return domain.ErrConflict("table %q already exists", name)
		}
		return fmt.Errorf("create table %s: %w", name, err)
	}
	s.logger.Debug("destination created", "table", name, "columns", len(schema))
	return nil
}

// Commit inserts rows into destination inside one transaction. Every row
// must hold one value per column. Nothing is written if any insert fails.
func (s *Store) Commit(ctx context.Context, destination string, columns []string, rows [][]any) (err error) {
	insert, err := ddl.InsertInto(destination, columns)
	if err != nil {
		return domain.ErrValidation("destination %q: %v", destination, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", destination, err)
	}
	defer stmt.Close() //nolint:errcheck

	for i, row := range rows {
		if len(row) != len(columns) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(row), len(columns))
		}
		if _, err = stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("insert row %d into %s: %w", i, destination, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", destination, err)
	}
	s.logger.Debug("rows committed", "table", destination, "rows", len(rows))
	return nil
}

// Query runs a statement and materializes the result as a relation that
// remembers its defining SQL.
func (s *Store) Query(ctx context.Context, query string) (*domain.Relation, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return domain.NewRelation(query, cols, out), nil
}

// CopyTo exports the result of query to a file or, when partitioned, a
// directory tree.
func (s *Store) CopyTo(ctx context.Context, query, path string, opts ddl.CopyOptions) error {
	stmt, err := ddl.CopyTo(query, path, opts)
	if err != nil {
		return domain.ErrValidation("export %q: %v", path, err)
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("copy to %s: %w", path, err)
	}
	return nil
}

// IsNotExist reports whether err is DuckDB's catalog error for a missing
// table or view.
func IsNotExist(err error) bool {
	return isCatalogError(err, "does not exist")
}

func isAlreadyExists(err error) bool {
	return isCatalogError(err, "already exists")
}

func isCatalogError(err error, fragment string) bool {
	if err == nil {
		return false
	}
	var dErr *duckdb.Error
	if errors.As(err, &dErr) {
		return dErr.Type == duckdb.ErrorTypeCatalog && strings.Contains(dErr.Msg, fragment)
	}
	msg := err.Error()
	return strings.Contains(msg, "Catalog Error") && strings.Contains(msg, fragment)
}
