package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/afripatron/payment-service/internal/domain"
	"github.com/afripatron/payment-service/internal/risk"
	"github.com/afripatron/payment-service/internal/store"
	"github.com/afripatron/payment-service/pkg/processor"
)

func healthyWallet(creatorID uuid.UUID) *domain.Wallet {
	return &domain.Wallet{
		CreatorID:      creatorID,
		Balance:        100_000,
		PendingPayouts: 0,
		Currency:       "NGN",
	}
}

func approvedProfile(creatorID uuid.UUID) *domain.RiskProfile {
	return &domain.RiskProfile{
		UserID:       creatorID,
		RiskScore:    0,
		DailyLimit:   1_000_000,
		MonthlyLimit: 10_000_000,
		KYCStatus:    domain.KYCStatusApproved,
	}
}

func TestRequestWithdrawal_HappyPath(t *testing.T) {
	creatorID := uuid.New()
	repo := newPaymentRepoStub()
	repo.wallet = healthyWallet(creatorID)
	repo.riskProfile = approvedProfile(creatorID)

	paystack := &stubProcessor{name: "paystack"}
	svc := newTestService(repo, processor.Registry{"paystack": paystack}, nil)

	payout, err := svc.RequestWithdrawal(context.Background(), creatorID, domain.WithdrawalRequest{
		Amount:      50_000,
		Destination: "0123456789:GTB",
	})
	if err != nil {
		t.Fatalf("RequestWithdrawal returned error: %v", err)
	}
	if payout.Provider != "paystack" {
		t.Fatalf("NGN wallet should pay out through paystack, got %s", payout.Provider)
	}
	if payout.Status != domain.PayoutStatusProcessing {
		t.Fatalf("expected processing after provider handoff, got %s", payout.Status)
	}
	if payout.ProviderRef == nil || *payout.ProviderRef == "" {
		t.Fatal("expected provider reference recorded")
	}
}

func TestRequestWithdrawal_FrozenWalletIsDenied(t *testing.T) {
	creatorID := uuid.New()
	repo := newPaymentRepoStub()
	repo.wallet = healthyWallet(creatorID)
	repo.wallet.Frozen = true
	reason := "chargeback investigation"
	repo.wallet.FrozenReason = &reason
	repo.riskProfile = approvedProfile(creatorID)

	svc := newTestService(repo, processor.Registry{}, nil)

	_, err := svc.RequestWithdrawal(context.Background(), creatorID, domain.WithdrawalRequest{Amount: 1, Destination: "x"})
	if !errors.Is(err, store.ErrWalletFrozen) {
		t.Fatalf("expected ErrWalletFrozen, got %v", err)
	}
	var frozen *store.WalletFrozenError
	if !errors.As(err, &frozen) || frozen.Reason != reason {
		t.Fatalf("expected freeze reason %q on the error, got %v", reason, err)
	}
	if len(repo.payouts) != 0 {
		t.Fatal("frozen wallet must not create payouts")
	}
}

func TestRequestWithdrawal_KYCRequired(t *testing.T) {
	creatorID := uuid.New()
	repo := newPaymentRepoStub()
	repo.wallet = healthyWallet(creatorID)
	profile := approvedProfile(creatorID)
	profile.KYCStatus = domain.KYCStatusPending
	repo.riskProfile = profile

	svc := newTestService(repo, processor.Registry{}, nil)

	_, err := svc.RequestWithdrawal(context.Background(), creatorID, domain.WithdrawalRequest{Amount: 1, Destination: "x"})
	if !errors.Is(err, ErrKYCRequired) {
		t.Fatalf("expected ErrKYCRequired, got %v", err)
	}
}

func TestRequestWithdrawal_RiskLimitBlocks(t *testing.T) {
	creatorID := uuid.New()
	repo := newPaymentRepoStub()
	repo.wallet = healthyWallet(creatorID)
	profile := approvedProfile(creatorID)
	profile.DailyLimit = 10_000
	repo.riskProfile = profile

	svc := newTestService(repo, processor.Registry{}, nil)

	_, err := svc.RequestWithdrawal(context.Background(), creatorID, domain.WithdrawalRequest{Amount: 20_000, Destination: "x"})
	var limitErr *risk.LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected LimitExceededError, got %v", err)
	}
}

func TestRequestWithdrawal_PendingPayoutsReduceAvailable(t *testing.T) {
	creatorID := uuid.New()
	repo := newPaymentRepoStub()
	wallet := healthyWallet(creatorID)
	wallet.PendingPayouts = 90_000 // only 10_000 available
	repo.wallet = wallet
	repo.riskProfile = approvedProfile(creatorID)

	svc := newTestService(repo, processor.Registry{}, nil)

	_, err := svc.RequestWithdrawal(context.Background(), creatorID, domain.WithdrawalRequest{Amount: 20_000, Destination: "x"})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestRequestWithdrawal_ProviderFailureReleasesReservation(t *testing.T) {
	creatorID := uuid.New()
	repo := newPaymentRepoStub()
	repo.wallet = healthyWallet(creatorID)
	repo.riskProfile = approvedProfile(creatorID)

	paystack := &stubProcessor{name: "paystack", payoutErr: &processor.ProviderError{
		Provider: "paystack", Kind: processor.KindUnavailable, Message: "transfer api down",
	}}
	svc := newTestService(repo, processor.Registry{"paystack": paystack}, nil)

	_, err := svc.RequestWithdrawal(context.Background(), creatorID, domain.WithdrawalRequest{Amount: 10_000, Destination: "x"})
	if err == nil {
		t.Fatal("expected provider failure to surface")
	}
	if len(repo.payoutsMarkFailed) != 1 {
		t.Fatalf("expected the payout to be marked failed (releasing the reservation), got %d", len(repo.payoutsMarkFailed))
	}
}

func TestRequestWithdrawal_RejectsNonPositiveAmount(t *testing.T) {
	svc := newTestService(newPaymentRepoStub(), processor.Registry{}, nil)
	_, err := svc.RequestWithdrawal(context.Background(), uuid.New(), domain.WithdrawalRequest{Amount: 0, Destination: "x"})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
