/**
 * @description
 * Cron scheduler setup for the background sweeps.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/homevia/subscription-service/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	s.add("subscription expiry sweep", s.config.ExpirySweepSchedule, s.jobs.ExpireDueSubscriptions)
	s.add("expiring-soon notices", s.config.ExpiringSoonSchedule, s.jobs.NotifyExpiringSoon)
	s.add("add-on deactivation sweep", s.config.AddonSweepSchedule, s.jobs.DeactivateLapsedAddons)
	s.add("duplicate-active reconciliation", s.config.ReconcileSchedule, s.jobs.ReconcileDuplicateActives)

	s.cron.Start()
}

func (s *Scheduler) add(name, schedule string, job func()) {
	if _, err := s.cron.AddFunc(schedule, job); err != nil {
		s.logger.Error("failed to schedule job", "job", name, "schedule", schedule, "error", err)
		return
	}
	s.logger.Info("scheduled job", "job", name, "schedule", schedule)
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
