/**
 * @description
 * Creator withdrawal flow. Every payout runs the full gate sequence: frozen
 * wallet, KYC, risk tier limits, then available balance — and the balance is
 * re-checked under a row lock inside the store when the reservation commits.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/afripatron/payment-service/internal/domain"
	"github.com/afripatron/payment-service/internal/risk"
	"github.com/afripatron/payment-service/internal/store"
	"github.com/afripatron/payment-service/pkg/processor"
)

// ErrKYCRequired denies payouts until the creator's identity is verified.
var ErrKYCRequired = errors.New("kyc approval required before withdrawing")

// RequestWithdrawal validates and initiates a creator payout.
func (s *Service) RequestWithdrawal(ctx context.Context, creatorID uuid.UUID, req domain.WithdrawalRequest) (*domain.Payout, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	wallet, err := s.repo.FindWalletByCreatorID(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	if wallet.Frozen {
		frozen := &store.WalletFrozenError{}
		if wallet.FrozenReason != nil {
			frozen.Reason = *wallet.FrozenReason
		}
		return nil, frozen
	}

	profile, err := s.riskEngine.Profile(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("load risk profile: %w", err)
	}
	if profile.KYCStatus != domain.KYCStatusApproved {
		return nil, ErrKYCRequired
	}

	if err := s.riskEngine.CheckWithdrawalAllowed(ctx, creatorID, req.Amount); err != nil {
		return nil, err
	}

	if wallet.AvailableBalance() < req.Amount {
		return nil, store.ErrInsufficientFunds
	}

	payout := &domain.Payout{
		CreatorID:   creatorID,
		Amount:      req.Amount,
		Currency:    wallet.Currency,
		Destination: req.Destination,
		Provider:    payoutProviderFor(wallet.Currency),
	}
	if err := s.repo.CreatePayout(ctx, payout); err != nil {
		return nil, err
	}

	proc, ok := s.processors.Get(payout.Provider)
	if !ok {
		_ = s.repo.MarkPayoutFailed(ctx, payout.ID, "payout provider not registered")
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, payout.Provider)
	}

	result, err := proc.CreatePayout(ctx, processor.PayoutRequest{
		MinorAmount: payout.Amount,
		Currency:    payout.Currency,
		Destination: payout.Destination,
		Reference:   payout.ID.String(),
	})
	if err != nil {
		if markErr := s.repo.MarkPayoutFailed(ctx, payout.ID, err.Error()); markErr != nil {
			log.Printf("level=error component=withdrawals msg=\"failed to mark payout failed\" payout_id=%s err=%v", payout.ID, markErr)
		}
		return nil, fmt.Errorf("provider payout: %w", err)
	}

	if err := s.repo.UpdatePayoutProviderRef(ctx, payout.ID, result.PayoutID, domain.PayoutStatusProcessing); err != nil {
		log.Printf("level=error component=withdrawals msg=\"failed to record payout provider ref\" payout_id=%s err=%v", payout.ID, err)
	}
	payout.Status = domain.PayoutStatusProcessing
	providerRef := result.PayoutID
	payout.ProviderRef = &providerRef

	log.Printf("level=info component=withdrawals msg=\"payout initiated\" payout_id=%s creator_id=%s amount=%d currency=%s provider=%s",
		payout.ID, creatorID, payout.Amount, payout.Currency, payout.Provider)
	return payout, nil
}

// GetWallet returns a creator's wallet with recent earnings.
func (s *Service) GetWallet(ctx context.Context, creatorID uuid.UUID) (*domain.Wallet, []domain.Earning, error) {
	wallet, err := s.repo.FindWalletByCreatorID(ctx, creatorID)
	if err != nil {
		return nil, nil, err
	}
	earnings, err := s.repo.ListRecentEarnings(ctx, creatorID, 20)
	if err != nil {
		return nil, nil, err
	}
	return wallet, earnings, nil
}

// GetRiskProfile exposes the stored (or first-time computed) risk profile.
func (s *Service) GetRiskProfile(ctx context.Context, userID uuid.UUID) (*domain.RiskProfile, error) {
	return s.riskEngine.Profile(ctx, userID)
}

// RiskEngine exposes the engine for scheduler jobs.
func (s *Service) RiskEngine() *risk.Engine {
	return s.riskEngine
}

// payoutProviderFor picks the transfer rail for a wallet currency: Paystack
// moves naira, Flutterwave covers the other African corridors, Stripe handles
// the rest.
func payoutProviderFor(walletCurrency string) string {
	switch walletCurrency {
	case "NGN":
		return "paystack"
	case "KES", "GHS", "TZS", "UGX", "XAF", "XOF", "ZAR", "EGP":
		return "flutterwave"
	default:
		return "stripe"
	}
}
