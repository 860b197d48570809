/**
 * @description
 * Webhook processing. This is the only path on which money becomes real:
 * ledger balances, subscription activation and entitlements all happen here,
 * inside the store's atomic finalization, after the provider signature has
 * been verified.
 *
 * The webhook payload is treated as a trigger, never as a source of amounts.
 * A mismatch between the reported amount and the stored intent is logged for
 * investigation, but the split is always computed from the stored row.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/afripatron/payment-service/internal/domain"
	"github.com/afripatron/payment-service/internal/store"
	"github.com/afripatron/payment-service/pkg/rabbitmq"
)

// HandleWebhook verifies and applies one provider webhook delivery. The error
// contract matters for provider retries: a nil return acknowledges the event
// (including duplicates and ignorable types); processor.ErrWebhookAuth means
// the signature failed; any other error asks the provider to redeliver.
func (s *Service) HandleWebhook(ctx context.Context, providerName string, payload []byte, signature string) error {
	proc, ok := s.processors.Get(providerName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, providerName)
	}

	event, err := proc.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}
	if event == nil || event.Status == "" {
		// Event type this service does not act on.
		return nil
	}

	intent, err := s.repo.FindIntentByReference(ctx, event.Reference)
	if errors.Is(err, store.ErrIntentNotFound) {
		// References from other environments or other services land here.
		log.Printf("level=warn component=webhooks msg=\"event for unknown reference acknowledged\" provider=%s reference=%s", providerName, event.Reference)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load intent for reference: %w", err)
	}

	if event.MinorAmount > 0 && event.MinorAmount != intent.MinorUnitAmount {
		log.Printf("level=warn component=webhooks msg=\"webhook amount disagrees with stored intent; using stored amount\" provider=%s intent_id=%s reported=%d stored=%d",
			providerName, intent.ID, event.MinorAmount, intent.MinorUnitAmount)
	}

	switch event.Status {
	case "success":
		return s.applySuccess(ctx, intent, event.Reference, event.Raw)
	case "failed":
		return s.applyFailure(ctx, intent, event.Reference, event.EventType, event.Raw)
	default:
		log.Printf("level=warn component=webhooks msg=\"unrecognized event status acknowledged\" provider=%s status=%s", providerName, event.Status)
		return nil
	}
}

func (s *Service) applySuccess(ctx context.Context, intent *domain.PaymentIntent, reference, rawEvent string) error {
	result, err := s.repo.FinalizePaymentSuccess(ctx, domain.FinalizeSuccessParams{
		IntentID:         intent.ID,
		Reference:        reference,
		ReferralPercent:  s.referralPercent,
		SubscriptionTerm: s.subscriptionTerm,
		RawEvent:         rawEvent,
	})
	if errors.Is(err, store.ErrEventAlreadyProcessed) {
		log.Printf("level=info component=webhooks msg=\"duplicate success event acknowledged\" intent_id=%s reference=%s", intent.ID, reference)
		return nil
	}
	if err != nil {
		return fmt.Errorf("finalize success: %w", err)
	}

	log.Printf("level=info component=webhooks msg=\"payment finalized\" intent_id=%s reference=%s earnings=%d currency=%s",
		intent.ID, reference, result.CreatorEarnings, result.Intent.Currency)

	// Post-commit, best-effort: a lost notification is an inconvenience, a
	// rolled-back ledger write would be an incident.
	if result.SubscriptionActivated && s.publisher != nil {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err := s.publisher.Publish(notifyCtx, rabbitmq.EventsExchange, "subscription.activated", rabbitmq.NewSubscriberEvent{
			CreatorID: result.Intent.CreatorID,
			FanID:     result.Intent.PayerID,
			TierName:  result.TierName,
			Amount:    result.Intent.MinorUnitAmount,
			Currency:  result.Intent.Currency,
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			log.Printf("level=warn component=webhooks msg=\"failed to publish subscriber event\" intent_id=%s err=%v", intent.ID, err)
		}
	}
	return nil
}

func (s *Service) applyFailure(ctx context.Context, intent *domain.PaymentIntent, reference, reason, rawEvent string) error {
	err := s.repo.FinalizePaymentFailure(ctx, domain.FinalizeFailureParams{
		IntentID:  intent.ID,
		Reference: reference,
		Reason:    reason,
		RawEvent:  rawEvent,
	})
	if errors.Is(err, store.ErrEventAlreadyProcessed) {
		log.Printf("level=info component=webhooks msg=\"duplicate failure event acknowledged\" intent_id=%s reference=%s", intent.ID, reference)
		return nil
	}
	if err != nil {
		return fmt.Errorf("finalize failure: %w", err)
	}
	log.Printf("level=info component=webhooks msg=\"payment marked failed\" intent_id=%s reference=%s reason=%q", intent.ID, reference, reason)
	return nil
}
