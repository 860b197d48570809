/**
 * @description
 * This file contains the payment orchestration logic. The Service coordinates
 * fraud screening, provider routing, fee snapshotting and the provider charge
 * loop for both fan-initiated payments and scheduler-driven renewals.
 *
 * Ordering invariant: the pending PaymentIntent row is committed BEFORE any
 * external provider call, so a crash mid-charge leaves a reconcilable record
 * instead of an untracked provider charge.
 *
 * @dependencies
 * - internal/store: persistence.
 * - internal/fraud, internal/routing, internal/fees, internal/currency,
 *   internal/risk: the policy services orchestrated here.
 * - pkg/processor: provider adapters.
 * - pkg/rabbitmq: post-commit event notifications.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/afripatron/payment-service/internal/currency"
	"github.com/afripatron/payment-service/internal/domain"
	"github.com/afripatron/payment-service/internal/fees"
	"github.com/afripatron/payment-service/internal/fraud"
	"github.com/afripatron/payment-service/internal/risk"
	"github.com/afripatron/payment-service/internal/routing"
	"github.com/afripatron/payment-service/internal/store"
	"github.com/afripatron/payment-service/pkg/processor"
	"github.com/afripatron/payment-service/pkg/rabbitmq"
)

var (
	// ErrNoProviderAvailable means every routing candidate declined the charge.
	ErrNoProviderAvailable = errors.New("no payment provider could accept the charge")
	// ErrInvalidAmount rejects non-positive charge amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrUnknownProvider is returned for webhook or charge requests naming an
	// unregistered provider.
	ErrUnknownProvider = errors.New("unknown payment provider")
)

// Service orchestrates the payment lifecycle.
type Service struct {
	repo       store.Repository
	guard      *fraud.Guard
	router     *routing.Router
	feeCalc    *fees.Calculator
	rates      *currency.Service
	riskEngine *risk.Engine
	processors processor.Registry
	publisher  rabbitmq.Publisher

	referralPercent  float64
	subscriptionTerm time.Duration
}

// NewService creates the payment Service.
func NewService(
	repo store.Repository,
	guard *fraud.Guard,
	router *routing.Router,
	feeCalc *fees.Calculator,
	rates *currency.Service,
	riskEngine *risk.Engine,
	processors processor.Registry,
	publisher rabbitmq.Publisher,
	referralPercent float64,
	subscriptionTerm time.Duration,
) *Service {
	return &Service{
		repo:             repo,
		guard:            guard,
		router:           router,
		feeCalc:          feeCalc,
		rates:            rates,
		riskEngine:       riskEngine,
		processors:       processors,
		publisher:        publisher,
		referralPercent:  referralPercent,
		subscriptionTerm: subscriptionTerm,
	}
}

// StartPayment screens, routes and initiates a fan-facing charge, returning
// the provider handoff (redirect URL or client token) on success.
func (s *Service) StartPayment(ctx context.Context, payerID uuid.UUID, req domain.StartPaymentRequest) (*domain.PaymentInitiationResult, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	requested := strings.ToUpper(strings.TrimSpace(req.Currency))
	if requested == "" {
		requested = currency.ForCountry(req.CountryCode)
	}
	if !s.rates.Supported(requested) {
		return nil, fmt.Errorf("%w: %s", currency.ErrUnsupportedCurrency, requested)
	}
	requestedMinor := currency.ToMinorUnit(req.Amount, requested)

	if err := s.guard.Check(ctx, fraud.CheckInput{
		PayerID:     payerID,
		CreatorID:   req.CreatorID,
		MinorAmount: requestedMinor,
		Currency:    requested,
		PhoneNumber: req.PhoneNumber,
		ClientIP:    req.ClientIP,
	}); err != nil {
		return nil, err
	}

	candidates, err := s.router.Select(req.CountryCode, requested, req.Provider)
	if err != nil {
		return nil, err
	}

	intent := &domain.PaymentIntent{
		PayerID:         payerID,
		CreatorID:       req.CreatorID,
		ProductClass:    req.ProductClass,
		Provider:        candidates[0].Provider,
		RequestedAmount: req.Amount,
		Currency:        requested,
		MinorUnitAmount: requestedMinor,
		Status:          domain.IntentStatusPending,
		FeePercent:      s.feeCalc.EffectivePercent(ctx),
		CountryCode:     strings.ToUpper(strings.TrimSpace(req.CountryCode)),
	}
	if req.PostID != nil {
		intent.PostID = req.PostID
	}
	if req.TierName != "" {
		tierName := req.TierName
		intent.TierName = &tierName
	}

	if req.ProductClass == domain.ProductClassTier {
		sub, err := s.prepareSubscription(ctx, payerID, req, requested, requestedMinor, candidates[0].Provider)
		if err != nil {
			return nil, err
		}
		intent.SubscriptionID = &sub.ID
	}

	// Persist the pending intent before any external call.
	if err := s.repo.CreatePaymentIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	return s.chargeThroughCandidates(ctx, intent, candidates, req.PhoneNumber)
}

// prepareSubscription resolves the referral code (if any) and creates or
// refreshes the pending subscription the charge will activate.
func (s *Service) prepareSubscription(ctx context.Context, payerID uuid.UUID, req domain.StartPaymentRequest, chargeCurrency string, tierPrice int64, provider string) (*domain.Subscription, error) {
	var referralID *uuid.UUID
	if code := strings.TrimSpace(req.ReferralCode); code != "" {
		referral, err := s.repo.FindReferralByCode(ctx, code)
		switch {
		case err == nil:
			referralID = &referral.ID
		case errors.Is(err, store.ErrReferralNotFound):
			log.Printf("level=warn component=payments msg=\"unknown referral code ignored\" code=%q", code)
		default:
			return nil, fmt.Errorf("resolve referral code: %w", err)
		}
	}

	sub, err := s.repo.FindOrCreatePendingSubscription(ctx, &domain.Subscription{
		FanID:       payerID,
		CreatorID:   req.CreatorID,
		TierName:    req.TierName,
		TierPrice:   tierPrice,
		Currency:    chargeCurrency,
		AutoRenew:   true,
		Provider:    provider,
		CountryCode: strings.ToUpper(strings.TrimSpace(req.CountryCode)),
		ReferralID:  referralID,
	})
	if err != nil {
		return nil, fmt.Errorf("prepare subscription: %w", err)
	}
	return sub, nil
}

// chargeThroughCandidates walks the routing order. A currency rejection earns
// one retry in the candidate's fallback currency; any other failure moves on
// to the next candidate. When every candidate is exhausted the intent is
// marked failed.
func (s *Service) chargeThroughCandidates(ctx context.Context, intent *domain.PaymentIntent, candidates []routing.Candidate, phoneNumber string) (*domain.PaymentInitiationResult, error) {
	var lastErr error

	for _, candidate := range candidates {
		proc, ok := s.processors.Get(candidate.Provider)
		if !ok {
			log.Printf("level=warn component=payments msg=\"routed provider not registered\" provider=%s", candidate.Provider)
			continue
		}

		result, usedCurrency, usedMinor, err := s.attemptCharge(ctx, proc, intent, candidate.Currency, phoneNumber)
		if processor.IsCurrencyRejected(err) && candidate.FallbackCurrency != "" && candidate.FallbackCurrency != candidate.Currency {
			log.Printf("level=info component=payments msg=\"currency rejected; retrying in fallback currency\" provider=%s currency=%s fallback=%s intent_id=%s",
				candidate.Provider, candidate.Currency, candidate.FallbackCurrency, intent.ID)
			result, usedCurrency, usedMinor, err = s.attemptCharge(ctx, proc, intent, candidate.FallbackCurrency, phoneNumber)
		}
		if err != nil {
			log.Printf("level=warn component=payments msg=\"provider declined charge\" provider=%s intent_id=%s err=%v",
				candidate.Provider, intent.ID, err)
			lastErr = err
			continue
		}

		if err := s.repo.UpdateIntentReference(ctx, intent.ID, candidate.Provider, result.Reference, usedCurrency, usedMinor); err != nil {
			return nil, fmt.Errorf("record provider reference: %w", err)
		}

		log.Printf("level=info component=payments msg=\"charge initiated\" provider=%s intent_id=%s reference=%s currency=%s amount=%d",
			candidate.Provider, intent.ID, result.Reference, usedCurrency, usedMinor)

		return &domain.PaymentInitiationResult{
			IntentID:    intent.ID,
			Provider:    candidate.Provider,
			Reference:   result.Reference,
			Currency:    usedCurrency,
			MinorAmount: usedMinor,
			RedirectURL: result.RedirectURL,
			ClientToken: result.ClientToken,
		}, nil
	}

	reason := "all routing candidates exhausted"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	if err := s.repo.MarkIntentFailed(ctx, intent.ID, reason); err != nil {
		log.Printf("level=error component=payments msg=\"failed to mark exhausted intent as failed\" intent_id=%s err=%v", intent.ID, err)
	}
	return nil, ErrNoProviderAvailable
}

// attemptCharge converts the intent amount into the charge currency and calls
// the provider once.
func (s *Service) attemptCharge(ctx context.Context, proc processor.Processor, intent *domain.PaymentIntent, chargeCurrency, phoneNumber string) (*processor.ChargeResult, string, int64, error) {
	converted, err := s.rates.Convert(intent.RequestedAmount, intent.Currency, chargeCurrency)
	if err != nil {
		return nil, "", 0, err
	}
	minor := currency.ToMinorUnit(converted, chargeCurrency)

	result, err := proc.CreateCharge(ctx, processor.ChargeRequest{
		MinorAmount: minor,
		Currency:    chargeCurrency,
		PayerRef:    intent.PayerID.String(),
		PayeeRef:    intent.CreatorID.String(),
		PhoneNumber: phoneNumber,
		Metadata: map[string]string{
			"intent_id":     intent.ID.String(),
			"product_class": intent.ProductClass,
		},
	})
	if err != nil {
		return nil, "", 0, err
	}
	return result, chargeCurrency, minor, nil
}

// StartRenewal initiates a renewal charge for a due subscription. Renewals are
// system-initiated, so the request-level fraud checks (phone, IP) do not apply.
func (s *Service) StartRenewal(ctx context.Context, sub domain.Subscription) (*domain.PaymentInitiationResult, error) {
	// Prefer the provider that accepted the original charge; fall back to the
	// full routing order if it is no longer valid for this corridor.
	candidates, err := s.router.Select(sub.CountryCode, sub.Currency, sub.Provider)
	if err != nil {
		candidates, err = s.router.Select(sub.CountryCode, sub.Currency, "")
		if err != nil {
			return nil, err
		}
	}

	tierName := sub.TierName
	intent := &domain.PaymentIntent{
		PayerID:         sub.FanID,
		CreatorID:       sub.CreatorID,
		SubscriptionID:  &sub.ID,
		ProductClass:    domain.ProductClassTier,
		Provider:        candidates[0].Provider,
		RequestedAmount: currency.FromMinorUnit(sub.TierPrice, sub.Currency),
		Currency:        sub.Currency,
		MinorUnitAmount: sub.TierPrice,
		Status:          domain.IntentStatusPending,
		FeePercent:      s.feeCalc.EffectivePercent(ctx),
		CountryCode:     sub.CountryCode,
		TierName:        &tierName,
	}
	if err := s.repo.CreatePaymentIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("create renewal intent: %w", err)
	}

	return s.chargeThroughCandidates(ctx, intent, candidates, "")
}

// CancelPayment cancels a pending intent that has not yet reached a provider.
func (s *Service) CancelPayment(ctx context.Context, intentID, payerID uuid.UUID) error {
	return s.repo.CancelPaymentIntent(ctx, intentID, payerID)
}

// GetPayment returns a payment intent visible to its payer or payee.
func (s *Service) GetPayment(ctx context.Context, intentID, requesterID uuid.UUID) (*domain.PaymentIntent, error) {
	intent, err := s.repo.FindIntentByID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.PayerID != requesterID && intent.CreatorID != requesterID {
		return nil, store.ErrIntentNotFound
	}
	return intent, nil
}

// ResolveUserID maps the auth provider's subject claim to the internal user id.
func (s *Service) ResolveUserID(ctx context.Context, subject string) (uuid.UUID, error) {
	return s.repo.FindUserIDByAuthSubject(ctx, subject)
}

// Fees exposes the fee calculator for the admin surface.
func (s *Service) Fees() *fees.Calculator {
	return s.feeCalc
}
