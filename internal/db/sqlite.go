// Package db opens the SQLite run ledger and applies its migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
)

// SQLite DSN parameters.
const (
	defaultBusyTimeout = "5000" // 5 seconds
	defaultSynchronous = "NORMAL"
	defaultJournalMode = "WAL"
)

// Pool modes.
const (
	ModeRead  = "read"
	ModeWrite = "write"
)

// OpenSQLite opens a *sql.DB pool for the given SQLite file path.
//
// mode controls write-safety and pool sizing:
//   - "write": a single connection with _txlock=immediate
//   - "read":  maxOpen connections (0 means 4)
//
// Both modes use WAL journaling, busy_timeout=5000ms, synchronous=NORMAL
// and enforce foreign keys.
func OpenSQLite(ctx context.Context, path, mode string, maxOpen int) (*sql.DB, error) {
	if mode != ModeRead && mode != ModeWrite {
		return nil, fmt.Errorf("invalid SQLite mode %q: must be %q or %q", mode, ModeRead, ModeWrite)
	}

	db, err := sql.Open("sqlite3", buildDSN(path, mode))
	if err != nil {
		return nil, fmt.Errorf("open sqlite (%s): %w", mode, err)
	}

	if mode == ModeWrite {
		maxOpen = 1
	} else if maxOpen <= 0 {
		maxOpen = 4
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite (%s): %w", mode, err)
	}

	return db, nil
}

// RunLog holds the write and read pools of the run ledger.
type RunLog struct {
	Write *sql.DB
	Read  *sql.DB
}

// OpenRunLog opens the ledger at path with one writer and a small reader
// pool, and migrates it to the latest schema.
func OpenRunLog(ctx context.Context, path string) (*RunLog, error) {
	writeDB, err := OpenSQLite(ctx, path, ModeWrite, 0)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(writeDB); err != nil {
		_ = writeDB.Close()
		return nil, err
	}

	readDB, err := OpenSQLite(ctx, path, ModeRead, 0)
	if err != nil {
		_ = writeDB.Close()
		return nil, err
	}
	return &RunLog{Write: writeDB, Read: readDB}, nil
}

// Close closes both pools.
func (r *RunLog) Close() error {
	rerr := r.Read.Close()
	if err := r.Write.Close(); err != nil {
		return err
	}
	return rerr
}

// buildDSN constructs a SQLite DSN for the given mode.
func buildDSN(path, mode string) string {
	params := url.Values{}
	params.Set("_journal_mode", defaultJournalMode)
	params.Set("_busy_timeout", defaultBusyTimeout)
	params.Set("_synchronous", defaultSynchronous)
	params.Set("_foreign_keys", "on")

	if mode == ModeWrite {
		params.Set("_txlock", "immediate")
	}

	return path + "?" + params.Encode()
}
