package db

import "embed"

// EmbedMigrations contains the run ledger's SQL migrations.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS
