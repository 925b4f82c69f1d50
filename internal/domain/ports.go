package domain

import "context"

// DestinationManager materializes typed destination tables.
// Implemented by store.Store.
type DestinationManager interface {
	CreateDestination(ctx context.Context, name string, schema Schema, dropIfExists bool) error
}

// Committer writes a set of rows to a destination in one all-or-nothing step.
// Implemented by store.Store.
type Committer interface {
	Commit(ctx context.Context, destination string, columns []string, rows [][]any) error
}

// RelationQuerier runs a relational query and materializes the result.
// Implemented by store.Store.
type RelationQuerier interface {
	Query(ctx context.Context, sqlQuery string) (*Relation, error)
}

// LoadRunRepository persists the run ledger.
// Implemented by repository.LoadRunRepo.
type LoadRunRepository interface {
	Create(ctx context.Context, run *LoadRun) error
	Finish(ctx context.Context, id string, res LoadRunResult) error
	GetByID(ctx context.Context, id string) (*LoadRun, error)
	List(ctx context.Context, page PageRequest) ([]LoadRun, int64, error)
	AddReport(ctx context.Context, report *LoadRunReport) error
	ListReports(ctx context.Context, runID string) ([]LoadRunReport, error)
}
