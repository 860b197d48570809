/**
 * @description
 * Cron scheduler setup for the payment-service background jobs.
 */
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/afripatron/payment-service/internal/config"
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
	if _, err := s.cron.AddFunc(s.config.RenewalCronSpec, s.jobs.ProcessDueRenewals); err != nil {
		s.logger.Error("failed to schedule renewal job", "error", err)
	} else {
		s.logger.Info("scheduled renewal job", "schedule", s.config.RenewalCronSpec)
	}

	if _, err := s.cron.AddFunc(s.config.ExpiryCronSpec, s.jobs.ProcessGraceExpiry); err != nil {
		s.logger.Error("failed to schedule grace expiry job", "error", err)
	} else {
		s.logger.Info("scheduled grace expiry job", "schedule", s.config.ExpiryCronSpec)
	}

	if _, err := s.cron.AddFunc(s.config.RiskRecomputeCronSpec, s.jobs.RecomputeRiskProfiles); err != nil {
		s.logger.Error("failed to schedule risk recompute job", "error", err)
	} else {
		s.logger.Info("scheduled risk recompute job", "schedule", s.config.RiskRecomputeCronSpec)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
