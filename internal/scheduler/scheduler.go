// Package scheduler runs periodic maintenance on the ledger database.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mmynk/splitledger/internal/config"
)

// Scheduler manages cron job scheduling
type Scheduler struct {
	cron *cron.Cron
	jobs *Jobs
}

// New creates a scheduler and registers every maintenance job. Specs use the
// six-field format with seconds and are evaluated in UTC.
func New(jobs *Jobs, cfg config.SchedulerConfig) (*Scheduler, error) {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
	)

	s := &Scheduler{
		cron: c,
		jobs: jobs,
	}
	if err := s.registerJobs(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) registerJobs(cfg config.SchedulerConfig) error {
	if _, err := s.cron.AddFunc(cfg.PruneOutbox, s.jobs.PruneOutbox); err != nil {
		return fmt.Errorf("failed to register PruneOutbox job: %w", err)
	}
	if _, err := s.cron.AddFunc(cfg.PurgeShareLinks, s.jobs.PurgeShareLinks); err != nil {
		return fmt.Errorf("failed to register PurgeShareLinks job: %w", err)
	}
	slog.Info("Maintenance jobs registered", "count", len(s.cron.Entries()))
	return nil
}

// Start begins the cron scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("Cron scheduler started")
}

// Stop waits for running jobs and stops the scheduler.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("Cron scheduler stopped")
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
