package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"ev-pipeline/internal/config"
	internaldb "ev-pipeline/internal/db"
	"ev-pipeline/internal/db/repository"
	"ev-pipeline/internal/export"
	"ev-pipeline/internal/service/ingestion"
	"ev-pipeline/internal/store"
)

// globalFlags are shared by every command. Flags win over environment
// variables, which win over .env entries.
type globalFlags struct {
	envFile  string
	pipeline string
	duckdb   string
	runlog   string
	output   string
	logLevel string
}

func (f *globalFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.envFile, "env-file", ".env", "Dotenv file read before the environment")
	fs.StringVarP(&f.pipeline, "pipeline", "f", "", "Pipeline definition (env PIPELINE_FILE, default pipeline.yaml)")
	fs.StringVar(&f.duckdb, "duckdb", "", "DuckDB database file (env DUCKDB_PATH)")
	fs.StringVar(&f.runlog, "runlog", "", "SQLite run ledger (env RUNLOG_PATH)")
	fs.StringVarP(&f.output, "output", "o", "", "Output format (table, json); default table on a terminal, json otherwise")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error (env LOG_LEVEL)")
}

// app carries resolved configuration and the resources a command opened.
type app struct {
	flags   globalFlags
	cfg     *config.Config
	logger  *slog.Logger
	closers []io.Closer

	ledgerVersion int64
}

func (a *app) setup(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(a.flags.envFile); err != nil {
		return err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fs := cmd.Flags()
	if fs.Changed("pipeline") {
		cfg.PipelinePath = a.flags.pipeline
	}
	if fs.Changed("duckdb") {
		cfg.DuckDBPath = a.flags.duckdb
	}
	if fs.Changed("runlog") {
		cfg.RunLogPath = a.flags.runlog
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = a.flags.logLevel
	}

	a.cfg = cfg
	a.logger = cfg.NewLogger()
	for _, w := range cfg.Warnings {
		a.logger.Warn(w)
	}
	return nil
}

func (a *app) outputFormat(cmd *cobra.Command) string {
	return resolveOutputFormat(a.flags.output, cmd.OutOrStdout())
}

func (a *app) loadPipeline() (*config.Pipeline, error) {
	return config.LoadPipeline(a.cfg.PipelinePath)
}

func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	s, err := store.Open(ctx, a.cfg.DuckDBPath, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, s)
	return s, nil
}

func (a *app) openRuns(ctx context.Context) (*repository.LoadRunRepo, error) {
	rl, err := internaldb.OpenRunLog(ctx, a.cfg.RunLogPath)
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	a.closers = append(a.closers, rl)

	v, err := internaldb.SchemaVersion(rl.Write)
	if err != nil {
		return nil, fmt.Errorf("run ledger version: %w", err)
	}
	a.ledgerVersion = v
	a.logger.Debug("run ledger opened", "path", a.cfg.RunLogPath, "schema_version", v)
	return repository.NewLoadRunRepo(rl.Write, rl.Read), nil
}

// service opens the table store, the ledger and, when configured, the
// publish target.
func (a *app) service(ctx context.Context) (*ingestion.Service, *repository.LoadRunRepo, error) {
	st, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	runs, err := a.openRuns(ctx)
	if err != nil {
		return nil, nil, err
	}

	var opts []ingestion.Option
	pub, err := export.NewPublisher(ctx, a.cfg.Publish)
	if err != nil {
		return nil, nil, fmt.Errorf("publisher: %w", err)
	}
	if pub != nil {
		if c, ok := pub.(io.Closer); ok {
			a.closers = append(a.closers, c)
		}
		opts = append(opts, ingestion.WithPublisher(pub, a.cfg.Publish.Prefix))
	}
	return ingestion.NewService(st, runs, a.logger, opts...), runs, nil
}

// close releases opened resources in reverse order.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
