package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ev-pipeline/internal/api"
	"ev-pipeline/internal/middleware"
	"ev-pipeline/internal/scheduler"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		addr       string
		schedule   string
		noSchedule bool
		runOnStart bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analytics API and re-run the pipeline on its schedule",
		Long: "Starts the read-only HTTP API over the clean table and the run ledger. " +
			"When the pipeline declares a schedule (or --schedule is given) the pipeline " +
			"is re-run in the background; a run still in progress skips the next tick.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			p, err := a.loadPipeline()
			if err != nil {
				return err
			}
			svc, runs, err := a.service(ctx)
			if err != nil {
				return err
			}
			engine, err := svc.Engine(p)
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("schedule") {
				schedule = p.Schedule
			}
			if noSchedule {
				schedule = ""
			}
			var sched *scheduler.Scheduler
			if schedule != "" {
				sched = scheduler.New(ctx, a.logger)
				job := func(ctx context.Context) error {
					_, err := svc.Run(ctx, p)
					return err
				}
				if err := sched.Add(p.Name, schedule, job); err != nil {
					return err
				}
				sched.Start()
			}
			if runOnStart {
				if _, err := svc.Run(ctx, p); err != nil {
					a.logger.Warn("initial run failed", "error", err)
				}
			}

			if cmd.Flags().Changed("addr") {
				a.cfg.ListenAddr = addr
			}
			h := api.NewHandler(engine, runs, a.logger)
			srv := &http.Server{
				Addr: a.cfg.ListenAddr,
				Handler: api.NewRouter(ctx, h, api.RouterConfig{
					RateLimit: middleware.RateLimitConfig{
						RequestsPerSecond: a.cfg.RateLimitRPS,
						Burst:             a.cfg.RateLimitBurst,
					},
					CORSAllowedOrigins: a.cfg.CORSAllowedOrigins,
					Logger:             a.logger,
				}),
				ReadHeaderTimeout: 10 * time.Second,
				BaseContext:       func(net.Listener) context.Context { return ctx },
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("listening", "addr", srv.Addr, "table", p.Destinations.Clean, "schedule", schedule)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serve: %w", err)
				}
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if sched != nil {
				select {
				case <-sched.Stop().Done():
				case <-shutdownCtx.Done():
					a.logger.Warn("scheduled run still in progress at shutdown")
				}
			}
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (env LISTEN_ADDR, default :8080)")
	cmd.Flags().StringVar(&schedule, "schedule", "", "Cron schedule overriding the pipeline's own")
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "Serve without scheduled runs")
	cmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "Run the pipeline once before serving")
	return cmd
}
