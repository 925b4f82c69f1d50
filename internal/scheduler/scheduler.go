// Package scheduler re-runs ingestion jobs on cron schedules.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ev-pipeline/internal/domain"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Entry describes a registered job.
type Entry struct {
	Name     string
	Schedule string
	Next     time.Time
}

// Scheduler manages cron-based job execution. A job that is still running
// when its next tick fires is skipped for that tick.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	logger  *slog.Logger
	mu      sync.Mutex
	entries map[string]cron.EntryID
	specs   map[string]string
}

// New creates a scheduler. Jobs receive ctx; cancel it to abort running
// jobs on shutdown.
func New(ctx context.Context, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		ctx:     ctx,
		logger:  logger,
		entries: make(map[string]cron.EntryID),
		specs:   make(map[string]string),
	}
}

// Add registers job under name. Standard five-field expressions and
// descriptors such as "@daily" or "@every 1h" are accepted. Adding a name
// twice replaces the earlier entry.
func (s *Scheduler) Add(name, schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(schedule, func() {
		start := time.Now()
		s.logger.Info("scheduled job started", "job", name)
		if err := job(s.ctx); err != nil {
			s.logger.Warn("scheduled job failed", "job", name, "error", err)
			return
		}
		s.logger.Info("scheduled job finished", "job", name, "duration_ms", time.Since(start).Milliseconds())
	})
	if err != nil {
		return domain.ErrValidation("invalid schedule %q for %s: %v", schedule, name, err)
	}

	if old, ok := s.entries[name]; ok {
		s.cron.Remove(old)
	}
	s.entries[name] = id
	s.specs[name] = schedule
	s.logger.Info("job scheduled", "job", name, "schedule", schedule)
	return nil
}

// Remove unregisters a job. Unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
		delete(s.specs, name)
	}
}

// Entries lists registered jobs with their next activation time. Next is
// zero until the scheduler is started.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for name, id := range s.entries {
		out = append(out, Entry{Name: name, Schedule: s.specs[name], Next: s.cron.Entry(id).Next})
	}
	return out
}

// Start starts the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.entries))
}

// Stop stops scheduling new runs. The returned context is done once the
// running jobs have returned.
func (s *Scheduler) Stop() context.Context {
	done := s.cron.Stop()
	s.logger.Info("scheduler stopped")
	return done
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
