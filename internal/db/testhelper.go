package db

import (
	"context"
	"path/filepath"
	"testing"
)

// OpenTestRunLog opens a migrated run ledger in t.TempDir() and registers
// cleanup.
func OpenTestRunLog(t *testing.T) *RunLog {
	t.Helper()

	path := filepath.Join(t.TempDir(), "runs.sqlite")
	rl, err := OpenRunLog(context.Background(), path)
	if err != nil {
		t.Fatalf("open test run log: %v", err)
	}
	t.Cleanup(func() { _ = rl.Close() })

	return rl
}
