package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ev-pipeline/internal/domain"
)

// Compile-time check.
var _ domain.LoadRunRepository = (*LoadRunRepo)(nil)

// LoadRunRepo implements LoadRunRepository using SQLite. Writes go through
// the single-connection write pool, reads through the read pool.
type LoadRunRepo struct {
	write *sql.DB
	read  *sql.DB
	now   func() time.Time
}

// NewLoadRunRepo creates a new LoadRunRepo. read may be nil to use write for
// everything.
func NewLoadRunRepo(write, read *sql.DB) *LoadRunRepo {
	if read == nil {
		read = write
	}
	return &LoadRunRepo{write: write, read: read, now: time.Now}
}

const loadRunColumns = `id, source, clean_table, faulty_table, status, total_rows, clean_rows,
	faulty_rows, error_message, started_at, finished_at`

// Create inserts a run in RUNNING state. An empty ID or start time is filled in.
func (r *LoadRunRepo) Create(ctx context.Context, run *domain.LoadRun) error {
	if run.ID == "" {
		run.ID = domain.NewID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = r.now()
	}
	if run.Status == "" {
		run.Status = domain.LoadRunStatusRunning
	}

	_, err := r.write.ExecContext(ctx, `INSERT INTO load_runs
		(id, source, clean_table, faulty_table, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.CleanTable, run.FaultyTable, run.Status, formatTime(run.StartedAt))
	return mapDBError(err)
}

// Finish records the outcome of a run.
func (r *LoadRunRepo) Finish(ctx context.Context, id string, res domain.LoadRunResult) error {
	result, err := r.write.ExecContext(ctx, `UPDATE load_runs
		SET status = ?, total_rows = ?, clean_rows = ?, faulty_rows = ?, error_message = ?, finished_at = ?
		WHERE id = ?`,
		res.Status, res.TotalRows, res.CleanRows, res.FaultyRows, nullStringPtr(res.ErrorMessage),
		formatTime(r.now()), id)
	if err != nil {
		return mapDBError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound("load run %q not found", id)
	}
	return nil
}

// GetByID returns a run by its ID.
func (r *LoadRunRepo) GetByID(ctx context.Context, id string) (*domain.LoadRun, error) {
	row := r.read.QueryRowContext(ctx, `SELECT `+loadRunColumns+` FROM load_runs WHERE id = ?`, id)
	run, err := scanLoadRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("load run %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// List returns runs, newest first, one page at a time, with the total count.
func (r *LoadRunRepo) List(ctx context.Context, page domain.PageRequest) ([]domain.LoadRun, int64, error) {
	var total int64
	if err := r.read.QueryRowContext(ctx, `SELECT count(*) FROM load_runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count load runs: %w", err)
	}

	rows, err := r.read.QueryContext(ctx, `SELECT `+loadRunColumns+` FROM load_runs
		ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list load runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	runs := make([]domain.LoadRun, 0, page.Limit())
	for rows.Next() {
		run, err := scanLoadRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, *run)
	}
	return runs, total, rows.Err()
}

// AddReport records a report produced by a run.
func (r *LoadRunRepo) AddReport(ctx context.Context, rep *domain.LoadRunReport) error {
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = r.now()
	}
	_, err := r.write.ExecContext(ctx, `INSERT INTO load_run_reports
		(run_id, name, path, rows, published, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rep.RunID, rep.Name, rep.Path, rep.Rows, nullStringPtr(rep.Published), formatTime(rep.CreatedAt))
	return mapDBError(err)
}

// ListReports returns the reports of a run in name order.
func (r *LoadRunRepo) ListReports(ctx context.Context, runID string) ([]domain.LoadRunReport, error) {
	rows, err := r.read.QueryContext(ctx, `SELECT run_id, name, path, rows, published, created_at
		FROM load_run_reports WHERE run_id = ? ORDER BY name`, runID)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.LoadRunReport
	for rows.Next() {
		var (
			rep       domain.LoadRunReport
			published sql.NullString
			created   string
		)
		if err := rows.Scan(&rep.RunID, &rep.Name, &rep.Path, &rep.Rows, &published, &created); err != nil {
			return nil, err
		}
		rep.Published = ptrFromNullString(published)
		rep.CreatedAt = parseTime(created)
		out = append(out, rep)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLoadRun(s scanner) (*domain.LoadRun, error) {
	var (
		run      domain.LoadRun
		errMsg   sql.NullString
		started  string
		finished sql.NullString
	)
	if err := s.Scan(&run.ID, &run.Source, &run.CleanTable, &run.FaultyTable, &run.Status,
		&run.TotalRows, &run.CleanRows, &run.FaultyRows, &errMsg, &started, &finished); err != nil {
		return nil, err
	}
	run.ErrorMessage = ptrFromNullString(errMsg)
	run.StartedAt = parseTime(started)
	run.FinishedAt = parseNullTime(finished)
	return &run, nil
}
