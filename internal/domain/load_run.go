package domain

import "time"

// Load run status constants.
const (
	LoadRunStatusRunning = "RUNNING"
	LoadRunStatusSuccess = "SUCCESS"
	LoadRunStatusFailed  = "FAILED"
)

// LoadRun is one validate-then-route cycle recorded in the run ledger.
type LoadRun struct {
	ID           string
	Source       string
	CleanTable   string
	FaultyTable  string
	Status       string
	TotalRows    int64
	CleanRows    int64
	FaultyRows   int64
	ErrorMessage *string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// LoadRunResult carries the outcome written when a run finishes.
type LoadRunResult struct {
	Status       string
	TotalRows    int64
	CleanRows    int64
	FaultyRows   int64
	ErrorMessage *string
}

// LoadRunReport is one report file produced by a run.
type LoadRunReport struct {
	RunID     string
	Name      string
	Path      string
	Rows      int64
	Published *string // object-store URL when uploaded
	CreatedAt time.Time
}
