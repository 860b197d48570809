/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the payment-service needs. The interface decouples business logic
 * from PostgreSQL and is what package tests stub out.
 *
 * The persistence layer is the single synchronization point of the service:
 * every multi-row money mutation happens inside one repository method that
 * commits atomically or not at all.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/afripatron/payment-service/internal/domain"
)

var (
	ErrIntentNotFound        = errors.New("payment intent not found")
	ErrEventAlreadyProcessed = errors.New("event already processed")
	ErrIntentNotCancellable  = errors.New("payment intent cannot be cancelled")
	ErrWalletNotFound        = errors.New("wallet not found")
	ErrSubscriptionNotFound  = errors.New("subscription not found")
	ErrReferralNotFound      = errors.New("referral not found")
	ErrUserNotFound          = errors.New("user not found")
	ErrConfigNotFound        = errors.New("config key not found")
	ErrRiskProfileNotFound   = errors.New("risk profile not found")
	ErrInsufficientFunds     = errors.New("insufficient available balance")
	ErrWalletFrozen          = errors.New("wallet is frozen")
)

// WalletFrozenError denies payouts from a frozen wallet and carries the
// freeze reason recorded on the wallet row.
type WalletFrozenError struct {
	Reason string
}

func (e *WalletFrozenError) Error() string {
	if e.Reason == "" {
		return ErrWalletFrozen.Error()
	}
	return fmt.Sprintf("wallet is frozen: %s", e.Reason)
}

// Is lets errors.Is(err, ErrWalletFrozen) keep matching the typed error.
func (e *WalletFrozenError) Is(target error) bool { return target == ErrWalletFrozen }

// FinalizeResult reports what a successful finalization committed, so the
// caller can emit post-commit notifications without re-reading the ledger.
type FinalizeResult struct {
	Intent                *domain.PaymentIntent
	SubscriptionActivated bool
	TierName              string
	CreatorEarnings       int64
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Identity
	FindUserIDByAuthSubject(ctx context.Context, subject string) (uuid.UUID, error)

	// Payment intents
	CreatePaymentIntent(ctx context.Context, intent *domain.PaymentIntent) error
	UpdateIntentReference(ctx context.Context, intentID uuid.UUID, provider, reference, currency string, minorAmount int64) error
	MarkIntentFailed(ctx context.Context, intentID uuid.UUID, reason string) error
	CancelPaymentIntent(ctx context.Context, intentID, payerID uuid.UUID) error
	FindIntentByID(ctx context.Context, intentID uuid.UUID) (*domain.PaymentIntent, error)
	FindIntentByReference(ctx context.Context, reference string) (*domain.PaymentIntent, error)

	// Ledger finalization. Both methods are single atomic units; replayed
	// events surface ErrEventAlreadyProcessed and leave the ledger untouched.
	FinalizePaymentSuccess(ctx context.Context, params domain.FinalizeSuccessParams) (*FinalizeResult, error)
	FinalizePaymentFailure(ctx context.Context, params domain.FinalizeFailureParams) error

	// Fraud
	CreateFraudLog(ctx context.Context, entry domain.FraudLog) error
	CountRecentPaymentsByUser(ctx context.Context, userID uuid.UUID, window time.Duration) (int, error)
	HasRecentDuplicateIntent(ctx context.Context, payerID, creatorID uuid.UUID, minorAmount int64, currency string, window time.Duration) (bool, error)
	CountFailedPaymentsByUser(ctx context.Context, userID uuid.UUID, window time.Duration) (int, error)
	FlagAccountForSuspension(ctx context.Context, userID uuid.UUID, reason string) error
	CountAccountsByPhoneNumber(ctx context.Context, phoneNumber string) (int, error)
	CountRecentPaymentsByPhone(ctx context.Context, phoneNumber string, window time.Duration) (int, error)
	HasBlockedFraudLogForIP(ctx context.Context, ip string, window time.Duration) (bool, error)

	// Risk
	GetRiskSignals(ctx context.Context, userID uuid.UUID) (*domain.RiskSignals, error)
	SaveRiskProfile(ctx context.Context, profile *domain.RiskProfile) error
	FindRiskProfileByUserID(ctx context.Context, userID uuid.UUID) (*domain.RiskProfile, error)
	SumPayoutsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error)
	ListRiskRecomputeCandidates(ctx context.Context, limit int) ([]uuid.UUID, error)

	// Wallets and payouts
	FindWalletByCreatorID(ctx context.Context, creatorID uuid.UUID) (*domain.Wallet, error)
	ListRecentEarnings(ctx context.Context, creatorID uuid.UUID, limit int) ([]domain.Earning, error)
	CreatePayout(ctx context.Context, payout *domain.Payout) error
	UpdatePayoutProviderRef(ctx context.Context, payoutID uuid.UUID, providerRef, status string) error
	MarkPayoutFailed(ctx context.Context, payoutID uuid.UUID, reason string) error

	// Subscriptions
	FindOrCreatePendingSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error)
	FindSubscriptionByID(ctx context.Context, subID uuid.UUID) (*domain.Subscription, error)
	FindDueRenewals(ctx context.Context, now time.Time, limit int) ([]domain.Subscription, error)
	ExpireLapsedSubscriptions(ctx context.Context, now time.Time, grace time.Duration) (int64, error)

	// Referrals
	FindReferralByCode(ctx context.Context, code string) (*domain.Referral, error)

	// Platform configuration (key-value, read-through cached by callers)
	GetPlatformConfig(ctx context.Context, key string) (string, error)
	SetPlatformConfig(ctx context.Context, key, value string) error
}
