package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/afripatron/payment-service/internal/domain"
	"github.com/afripatron/payment-service/internal/store"
)

type riskRepoStub struct {
	store.Repository

	signals      *domain.RiskSignals
	profile      *domain.RiskProfile
	savedProfile *domain.RiskProfile

	payoutSums map[time.Time]int64
	sumAlways  int64
}

func (s *riskRepoStub) GetRiskSignals(ctx context.Context, userID uuid.UUID) (*domain.RiskSignals, error) {
	return s.signals, nil
}

func (s *riskRepoStub) SaveRiskProfile(ctx context.Context, profile *domain.RiskProfile) error {
	s.savedProfile = profile
	return nil
}

func (s *riskRepoStub) FindRiskProfileByUserID(ctx context.Context, userID uuid.UUID) (*domain.RiskProfile, error) {
	if s.profile == nil {
		return nil, store.ErrRiskProfileNotFound
	}
	return s.profile, nil
}

func (s *riskRepoStub) SumPayoutsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	if s.payoutSums != nil {
		if sum, ok := s.payoutSums[since]; ok {
			return sum, nil
		}
	}
	return s.sumAlways, nil
}

func cleanSignals() *domain.RiskSignals {
	return &domain.RiskSignals{KYCStatus: domain.KYCStatusApproved}
}

func TestComputeProfile_CleanAccountScoresZero(t *testing.T) {
	repo := &riskRepoStub{signals: cleanSignals()}
	engine := NewEngine(repo)

	profile, err := engine.ComputeProfile(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ComputeProfile returned error: %v", err)
	}
	if profile.RiskScore != 0 {
		t.Fatalf("expected score 0 for clean account, got %d", profile.RiskScore)
	}
	if profile.DailyLimit != lowDailyLimit || profile.MonthlyLimit != lowMonthlyLimit {
		t.Fatalf("expected low-tier limits, got daily=%d monthly=%d", profile.DailyLimit, profile.MonthlyLimit)
	}
	if repo.savedProfile == nil {
		t.Fatal("expected profile to be persisted")
	}
}

func TestComputeProfile_Scoring(t *testing.T) {
	cases := []struct {
		name      string
		signals   domain.RiskSignals
		wantScore int
	}{
		{
			name:      "kyc not approved",
			signals:   domain.RiskSignals{KYCStatus: domain.KYCStatusPending},
			wantScore: 30,
		},
		{
			name:      "two open chargebacks",
			signals:   domain.RiskSignals{KYCStatus: domain.KYCStatusApproved, OpenChargebacks: 2},
			wantScore: 30,
		},
		{
			name:      "failed payment cluster",
			signals:   domain.RiskSignals{KYCStatus: domain.KYCStatusApproved, FailedPayments7d: 6},
			wantScore: 20,
		},
		{
			name:      "exactly five failures does not score",
			signals:   domain.RiskSignals{KYCStatus: domain.KYCStatusApproved, FailedPayments7d: 5},
			wantScore: 0,
		},
		{
			name:      "growth spike",
			signals:   domain.RiskSignals{KYCStatus: domain.KYCStatusApproved, SubscribersThisWeek: 60, SubscribersLastWeek: 10},
			wantScore: 25,
		},
		{
			name:      "growth from zero is not a spike",
			signals:   domain.RiskSignals{KYCStatus: domain.KYCStatusApproved, SubscribersThisWeek: 100, SubscribersLastWeek: 0},
			wantScore: 0,
		},
		{
			name:      "exactly five times last week is not a spike",
			signals:   domain.RiskSignals{KYCStatus: domain.KYCStatusApproved, SubscribersThisWeek: 50, SubscribersLastWeek: 10},
			wantScore: 0,
		},
		{
			name: "everything at once",
			signals: domain.RiskSignals{
				KYCStatus:           domain.KYCStatusNone,
				OpenChargebacks:     1,
				FailedPayments7d:    10,
				SubscribersThisWeek: 51,
				SubscribersLastWeek: 10,
			},
			wantScore: 90,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			signals := tc.signals
			repo := &riskRepoStub{signals: &signals}
			engine := NewEngine(repo)

			profile, err := engine.ComputeProfile(context.Background(), uuid.New())
			if err != nil {
				t.Fatalf("ComputeProfile returned error: %v", err)
			}
			if profile.RiskScore != tc.wantScore {
				t.Fatalf("expected score %d, got %d", tc.wantScore, profile.RiskScore)
			}
		})
	}
}

func TestLimitsForScore_TierBoundaries(t *testing.T) {
	cases := []struct {
		score       int
		wantDaily   int64
		wantMonthly int64
	}{
		{0, lowDailyLimit, lowMonthlyLimit},
		{29, lowDailyLimit, lowMonthlyLimit},
		{30, mediumDailyLimit, mediumMonthlyLimit},
		{59, mediumDailyLimit, mediumMonthlyLimit},
		{60, highDailyLimit, highMonthlyLimit},
		{79, highDailyLimit, highMonthlyLimit},
		{80, 0, 0},
		{120, 0, 0},
	}
	for _, tc := range cases {
		daily, monthly := limitsForScore(tc.score)
		if daily != tc.wantDaily || monthly != tc.wantMonthly {
			t.Fatalf("score %d: expected limits (%d, %d), got (%d, %d)", tc.score, tc.wantDaily, tc.wantMonthly, daily, monthly)
		}
	}
}

func TestCheckWithdrawalAllowed_BlockedTierDeniesEverything(t *testing.T) {
	repo := &riskRepoStub{
		profile: &domain.RiskProfile{UserID: uuid.New(), RiskScore: 85, DailyLimit: 0, MonthlyLimit: 0},
	}
	engine := NewEngine(repo)

	if err := engine.CheckWithdrawalAllowed(context.Background(), uuid.New(), 1); !errors.Is(err, ErrPayoutsBlocked) {
		t.Fatalf("expected ErrPayoutsBlocked, got %v", err)
	}
}

func TestCheckWithdrawalAllowed_DailyLimitBoundary(t *testing.T) {
	repo := &riskRepoStub{
		profile:   &domain.RiskProfile{UserID: uuid.New(), DailyLimit: 10_000, MonthlyLimit: 1_000_000},
		sumAlways: 9_000,
	}
	engine := NewEngine(repo)

	// Exactly reaching the limit is allowed.
	if err := engine.CheckWithdrawalAllowed(context.Background(), uuid.New(), 1_000); err != nil {
		t.Fatalf("withdrawal reaching the exact limit should pass, got %v", err)
	}

	// One unit over is denied.
	err := engine.CheckWithdrawalAllowed(context.Background(), uuid.New(), 1_001)
	var limitErr *LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected LimitExceededError, got %v", err)
	}
	if limitErr.Scope != "daily" || limitErr.Used != 9_000 || limitErr.Requested != 1_001 {
		t.Fatalf("unexpected limit error detail: %+v", limitErr)
	}
}

func TestCheckWithdrawalAllowed_MonthlyLimitChecked(t *testing.T) {
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	repo := &riskRepoStub{
		profile: &domain.RiskProfile{UserID: uuid.New(), DailyLimit: 100_000, MonthlyLimit: 150_000},
		payoutSums: map[time.Time]int64{
			dayStart:   0,
			monthStart: 149_000,
		},
	}
	engine := NewEngine(repo)

	err := engine.CheckWithdrawalAllowed(context.Background(), uuid.New(), 2_000)
	var limitErr *LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected monthly LimitExceededError, got %v", err)
	}
	if limitErr.Scope != "monthly" {
		t.Fatalf("expected monthly scope, got %s", limitErr.Scope)
	}
}

func TestProfile_ComputesOnFirstUse(t *testing.T) {
	repo := &riskRepoStub{signals: cleanSignals()}
	engine := NewEngine(repo)

	profile, err := engine.Profile(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("Profile returned error: %v", err)
	}
	if profile == nil || repo.savedProfile == nil {
		t.Fatal("expected a profile to be computed and saved on first use")
	}
}
