/**
 * @description
 * Creator risk scoring and payout limit enforcement. The engine turns raw
 * account signals into an additive score, maps the score to a limit tier, and
 * checks withdrawal requests against rolling daily and monthly payout totals.
 *
 * Scoring, additive:
 *   +30  KYC not approved
 *   +15  per open chargeback
 *   +20  more than 5 failed payments in 7 days
 *   +25  subscriber growth spike (this week > 5x last week, last week > 0)
 *
 * Tiers by score: <30 low, <60 medium, <80 high, >=80 blocked (zero limits).
 * Payouts in pending, processing and completed states all consume limit
 * headroom; failed and rejected ones do not.
 *
 * @dependencies
 * - internal/store: signal gathering, profile persistence, payout sums.
 */

package risk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/afripatron/payment-service/internal/domain"
	"github.com/afripatron/payment-service/internal/store"
)

// Limit tiers in minor units (USD cents).
const (
	lowDailyLimit      = 100_000   // $1,000
	lowMonthlyLimit    = 1_000_000 // $10,000
	mediumDailyLimit   = 50_000    // $500
	mediumMonthlyLimit = 500_000   // $5,000
	highDailyLimit     = 10_000    // $100
	highMonthlyLimit   = 100_000   // $1,000
)

// ErrPayoutsBlocked denies all payouts for creators in the blocked tier.
var ErrPayoutsBlocked = errors.New("payouts are blocked for this account")

// LimitExceededError reports which rolling limit a withdrawal would breach.
type LimitExceededError struct {
	Scope     string // "daily" | "monthly"
	Limit     int64
	Used      int64
	Requested int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s payout limit exceeded: limit=%d used=%d requested=%d", e.Scope, e.Limit, e.Used, e.Requested)
}

// Engine computes risk profiles and enforces payout limits.
type Engine struct {
	repo store.Repository
	now  func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(repo store.Repository) *Engine {
	return &Engine{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// score turns raw signals into the additive risk score and flag list.
func score(signals *domain.RiskSignals) (int, []string) {
	total := 0
	var flags []string

	if signals.KYCStatus != domain.KYCStatusApproved {
		total += 30
		flags = append(flags, "kyc_not_approved")
	}
	if signals.OpenChargebacks > 0 {
		total += 15 * signals.OpenChargebacks
		flags = append(flags, fmt.Sprintf("open_chargebacks:%d", signals.OpenChargebacks))
	}
	if signals.FailedPayments7d > 5 {
		total += 20
		flags = append(flags, "failed_payment_cluster")
	}
	if signals.SubscribersLastWeek > 0 && signals.SubscribersThisWeek > 5*signals.SubscribersLastWeek {
		total += 25
		flags = append(flags, "subscriber_growth_spike")
	}

	return total, flags
}

// limitsForScore maps a score to its tier's limits. Blocked creators get zeros.
func limitsForScore(riskScore int) (daily, monthly int64) {
	switch {
	case riskScore < 30:
		return lowDailyLimit, lowMonthlyLimit
	case riskScore < 60:
		return mediumDailyLimit, mediumMonthlyLimit
	case riskScore < 80:
		return highDailyLimit, highMonthlyLimit
	default:
		return 0, 0
	}
}

// ComputeProfile gathers signals, scores them and persists the new profile.
func (e *Engine) ComputeProfile(ctx context.Context, userID uuid.UUID) (*domain.RiskProfile, error) {
	signals, err := e.repo.GetRiskSignals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("gather risk signals: %w", err)
	}

	riskScore, flags := score(signals)
	daily, monthly := limitsForScore(riskScore)

	profile := &domain.RiskProfile{
		UserID:       userID,
		RiskScore:    riskScore,
		DailyLimit:   daily,
		MonthlyLimit: monthly,
		Flags:        flags,
		KYCStatus:    signals.KYCStatus,
		ComputedAt:   e.now(),
	}
	if err := e.repo.SaveRiskProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("save risk profile: %w", err)
	}

	log.Printf("level=info component=risk msg=\"risk profile recomputed\" user_id=%s score=%d daily_limit=%d monthly_limit=%d",
		userID, riskScore, daily, monthly)
	return profile, nil
}

// Profile returns the stored profile, computing one on first use.
func (e *Engine) Profile(ctx context.Context, userID uuid.UUID) (*domain.RiskProfile, error) {
	profile, err := e.repo.FindRiskProfileByUserID(ctx, userID)
	if errors.Is(err, store.ErrRiskProfileNotFound) {
		return e.ComputeProfile(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// CheckWithdrawalAllowed verifies a withdrawal against the creator's tier
// limits. Both windows are checked; the daily breach reports first.
func (e *Engine) CheckWithdrawalAllowed(ctx context.Context, userID uuid.UUID, amount int64) error {
	profile, err := e.Profile(ctx, userID)
	if err != nil {
		return err
	}
	if profile.DailyLimit == 0 && profile.MonthlyLimit == 0 {
		return ErrPayoutsBlocked
	}

	now := e.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	usedToday, err := e.repo.SumPayoutsSince(ctx, userID, dayStart)
	if err != nil {
		return fmt.Errorf("sum daily payouts: %w", err)
	}
	if usedToday+amount > profile.DailyLimit {
		return &LimitExceededError{Scope: "daily", Limit: profile.DailyLimit, Used: usedToday, Requested: amount}
	}

	usedThisMonth, err := e.repo.SumPayoutsSince(ctx, userID, monthStart)
	if err != nil {
		return fmt.Errorf("sum monthly payouts: %w", err)
	}
	if usedThisMonth+amount > profile.MonthlyLimit {
		return &LimitExceededError{Scope: "monthly", Limit: profile.MonthlyLimit, Used: usedThisMonth, Requested: amount}
	}

	return nil
}
