/**
 * @description
 * Scheduled job implementations: subscription renewals, grace period expiry
 * and periodic risk profile recomputation.
 */
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/afripatron/payment-service/internal/domain"
)

// Repository defines database operations needed by the jobs.
type Repository interface {
	FindDueRenewals(ctx context.Context, now time.Time, limit int) ([]domain.Subscription, error)
	ExpireLapsedSubscriptions(ctx context.Context, now time.Time, grace time.Duration) (int64, error)
	ListRiskRecomputeCandidates(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// Renewer initiates renewal charges.
type Renewer interface {
	StartRenewal(ctx context.Context, sub domain.Subscription) (*domain.PaymentInitiationResult, error)
}

// RiskRecomputer recomputes a creator's risk profile.
type RiskRecomputer interface {
	ComputeProfile(ctx context.Context, userID uuid.UUID) (*domain.RiskProfile, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo    Repository
	renewer Renewer
	risk    RiskRecomputer
	logger  *slog.Logger

	renewalBatchSize int
	gracePeriod      time.Duration
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo Repository, renewer Renewer, risk RiskRecomputer, logger *slog.Logger, renewalBatchSize int, gracePeriod time.Duration) *Jobs {
	return &Jobs{
		repo:             repo,
		renewer:          renewer,
		risk:             risk,
		logger:           logger,
		renewalBatchSize: renewalBatchSize,
		gracePeriod:      gracePeriod,
	}
}

// ProcessDueRenewals charges one bounded batch of due subscriptions. A failed
// renewal is logged and skipped; the subscription stays active through the
// grace period and the next tick retries it.
func (j *Jobs) ProcessDueRenewals() {
	j.logger.Info("starting subscription renewal job")
	ctx := context.Background()

	due, err := j.repo.FindDueRenewals(ctx, time.Now().UTC(), j.renewalBatchSize)
	if err != nil {
		j.logger.Error("failed to load due renewals", "error", err)
		return
	}

	initiated := 0
	for _, sub := range due {
		if _, err := j.renewer.StartRenewal(ctx, sub); err != nil {
			j.logger.Warn("renewal initiation failed", "subscription_id", sub.ID, "fan_id", sub.FanID, "error", err)
			continue
		}
		initiated++
	}

	j.logger.Info("subscription renewal job finished", "due", len(due), "initiated", initiated)
}

// ProcessGraceExpiry expires subscriptions whose billing date has been missed
// for longer than the grace period.
func (j *Jobs) ProcessGraceExpiry() {
	j.logger.Info("starting grace expiry job")
	ctx := context.Background()

	expired, err := j.repo.ExpireLapsedSubscriptions(ctx, time.Now().UTC(), j.gracePeriod)
	if err != nil {
		j.logger.Error("failed to expire lapsed subscriptions", "error", err)
		return
	}

	j.logger.Info("grace expiry job finished", "expired", expired)
}

// RecomputeRiskProfiles refreshes profiles for recently active creators so
// limits track reality between withdrawals.
func (j *Jobs) RecomputeRiskProfiles() {
	j.logger.Info("starting risk recompute job")
	ctx := context.Background()

	candidates, err := j.repo.ListRiskRecomputeCandidates(ctx, 200)
	if err != nil {
		j.logger.Error("failed to list risk recompute candidates", "error", err)
		return
	}

	recomputed := 0
	for _, userID := range candidates {
		if _, err := j.risk.ComputeProfile(ctx, userID); err != nil {
			j.logger.Warn("risk recompute failed", "user_id", userID, "error", err)
			continue
		}
		recomputed++
	}

	j.logger.Info("risk recompute job finished", "candidates", len(candidates), "recomputed", recomputed)
}
