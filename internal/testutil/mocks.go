// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"

	"ev-pipeline/internal/ddl"
	"ev-pipeline/internal/domain"
)

// === Store Mock ===

// Commit is one recorded MockStore.Commit call.
type Commit struct {
	Destination string
	Columns     []string
	Rows        [][]any
}

// MockStore implements domain.DestinationManager, domain.Committer,
// domain.RelationQuerier and export.Copier for testing. Successful commits are collected.
type MockStore struct {
	CreateDestinationFn func(ctx context.Context, name string, schema domain.Schema, dropIfExists bool) error
	CommitFn            func(ctx context.Context, destination string, columns []string, rows [][]any) error
	QueryFn             func(ctx context.Context, sqlQuery string) (*domain.Relation, error)
	CopyToFn            func(ctx context.Context, query, path string, opts ddl.CopyOptions) error

	mu      sync.Mutex
	Commits []Commit
	Queries []string
	Copies  []string // export paths
}

// CreateDestination implements the interface method for testing.
func (m *MockStore) CreateDestination(ctx context.Context, name string, schema domain.Schema, dropIfExists bool) error {
	if m.CreateDestinationFn != nil {
		return m.CreateDestinationFn(ctx, name, schema, dropIfExists)
	}
	return nil
}

// Commit implements the interface method for testing.
func (m *MockStore) Commit(ctx context.Context, destination string, columns []string, rows [][]any) error {
	if m.CommitFn != nil {
		if err := m.CommitFn(ctx, destination, columns, rows); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Commits = append(m.Commits, Commit{Destination: destination, Columns: columns, Rows: rows})
	return nil
}

// Query implements the interface method for testing.
func (m *MockStore) Query(ctx context.Context, sqlQuery string) (*domain.Relation, error) {
	m.mu.Lock()
	m.Queries = append(m.Queries, sqlQuery)
	m.mu.Unlock()
	if m.QueryFn != nil {
		return m.QueryFn(ctx, sqlQuery)
	}
	panic("unexpected call to MockStore.Query")
}

// CopyTo implements the interface method for testing.
func (m *MockStore) CopyTo(ctx context.Context, query, path string, opts ddl.CopyOptions) error {
	m.mu.Lock()
	m.Copies = append(m.Copies, path)
	m.mu.Unlock()
	if m.CopyToFn != nil {
		return m.CopyToFn(ctx, query, path, opts)
	}
	return nil
}

// CommitsTo returns the recorded commits for one destination.
func (m *MockStore) CommitsTo(destination string) []Commit {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Commit
	for _, c := range m.Commits {
		if c.Destination == destination {
			out = append(out, c)
		}
	}
	return out
}

// === Load Run Repository Mock ===

// MockLoadRunRepo implements domain.LoadRunRepository for testing.
type MockLoadRunRepo struct {
	CreateFn  func(ctx context.Context, run *domain.LoadRun) error
	FinishFn  func(ctx context.Context, id string, res domain.LoadRunResult) error
	GetByIDFn func(ctx context.Context, id string) (*domain.LoadRun, error)
	ListFn    func(ctx context.Context, page domain.PageRequest) ([]domain.LoadRun, int64, error)

	AddReportFn   func(ctx context.Context, report *domain.LoadRunReport) error
	ListReportsFn func(ctx context.Context, runID string) ([]domain.LoadRunReport, error)

	mu       sync.Mutex
	Created  []*domain.LoadRun
	Finished map[string]domain.LoadRunResult
	Reports  []domain.LoadRunReport
}

// Create implements the interface method for testing.
func (m *MockLoadRunRepo) Create(ctx context.Context, run *domain.LoadRun) error {
	if m.CreateFn != nil {
		if err := m.CreateFn(ctx, run); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Created = append(m.Created, run)
	return nil
}

// Finish implements the interface method for testing.
func (m *MockLoadRunRepo) Finish(ctx context.Context, id string, res domain.LoadRunResult) error {
	if m.FinishFn != nil {
		if err := m.FinishFn(ctx, id, res); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Finished == nil {
		m.Finished = make(map[string]domain.LoadRunResult)
	}
	m.Finished[id] = res
	return nil
}

// GetByID implements the interface method for testing.
func (m *MockLoadRunRepo) GetByID(ctx context.Context, id string) (*domain.LoadRun, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	panic("unexpected call to MockLoadRunRepo.GetByID")
}

// List implements the interface method for testing.
func (m *MockLoadRunRepo) List(ctx context.Context, page domain.PageRequest) ([]domain.LoadRun, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, page)
	}
	panic("unexpected call to MockLoadRunRepo.List")
}

// AddReport implements the interface method for testing.
func (m *MockLoadRunRepo) AddReport(ctx context.Context, report *domain.LoadRunReport) error {
	if m.AddReportFn != nil {
		if err := m.AddReportFn(ctx, report); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reports = append(m.Reports, *report)
	return nil
}

// ListReports implements the interface method for testing.
func (m *MockLoadRunRepo) ListReports(ctx context.Context, runID string) ([]domain.LoadRunReport, error) {
	if m.ListReportsFn != nil {
		return m.ListReportsFn(ctx, runID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LoadRunReport
	for _, r := range m.Reports {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	return out, nil
}
