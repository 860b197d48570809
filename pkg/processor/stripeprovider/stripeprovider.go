/**
 * @description
 * Stripe adapter for the processor capability interface. Cards are the default
 * rail for countries without a preferred regional provider; checkout happens
 * client-side against the payment intent's client secret.
 *
 * @dependencies
 * - github.com/stripe/stripe-go/v80: Stripe SDK (payment intents, payouts,
 *   signed webhook construction).
 */

package stripeprovider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/paymentintent"
	"github.com/stripe/stripe-go/v80/payout"
	"github.com/stripe/stripe-go/v80/webhook"

	"github.com/afripatron/payment-service/pkg/processor"
)

const providerName = "stripe"

// Provider implements processor.Processor on top of the Stripe SDK.
type Provider struct {
	webhookSecret string
}

// New configures the global Stripe key and returns the provider.
func New(secretKey, webhookSecret string) *Provider {
	stripe.Key = secretKey
	return &Provider{webhookSecret: webhookSecret}
}

func (p *Provider) Name() string { return providerName }

// CreateCharge opens a Stripe payment intent and returns its client secret.
func (p *Provider) CreateCharge(ctx context.Context, req processor.ChargeRequest) (*processor.ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.MinorAmount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddMetadata("payer_ref", req.PayerRef)
	params.AddMetadata("payee_ref", req.PayeeRef)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, translateError(err)
	}

	return &processor.ChargeResult{
		Reference:   pi.ID,
		ClientToken: pi.ClientSecret,
	}, nil
}

// VerifyCharge fetches the payment intent and normalizes its status.
func (p *Provider) VerifyCharge(ctx context.Context, reference string) (*processor.ChargeStatus, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(reference, params)
	if err != nil {
		return nil, translateError(err)
	}

	return &processor.ChargeStatus{
		Reference:   pi.ID,
		Status:      normalizeIntentStatus(pi.Status),
		MinorAmount: pi.Amount,
		Currency:    strings.ToUpper(string(pi.Currency)),
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header and normalizes the event.
func (p *Provider) ParseWebhook(payload []byte, signature string) (*processor.WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		return nil, processor.ErrWebhookAuth
	}

	var obj struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return nil, &processor.ProviderError{Provider: providerName, Kind: processor.KindUnavailable, Message: "unreadable event object"}
	}

	var status string
	switch event.Type {
	case "payment_intent.succeeded":
		status = "success"
	case "payment_intent.payment_failed", "payment_intent.canceled":
		status = "failed"
	default:
		status = "ignored"
	}

	return &processor.WebhookEvent{
		EventType:   string(event.Type),
		Reference:   obj.ID,
		Status:      status,
		MinorAmount: obj.Amount,
		Currency:    strings.ToUpper(obj.Currency),
		Raw:         string(payload),
	}, nil
}

// CreatePayout initiates a Stripe payout to the creator's connected account.
func (p *Provider) CreatePayout(ctx context.Context, req processor.PayoutRequest) (*processor.PayoutResult, error) {
	params := &stripe.PayoutParams{
		Amount:   stripe.Int64(req.MinorAmount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	params.Context = ctx
	params.SetStripeAccount(req.Destination)
	params.AddMetadata("payout_ref", req.Reference)

	po, err := payout.New(params)
	if err != nil {
		return nil, translateError(err)
	}

	return &processor.PayoutResult{PayoutID: po.ID, Status: string(po.Status)}, nil
}

func normalizeIntentStatus(status stripe.PaymentIntentStatus) string {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return "success"
	case stripe.PaymentIntentStatusCanceled:
		return "failed"
	default:
		return "pending"
	}
}

// translateError maps SDK errors to the shared provider error taxonomy.
func translateError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		kind := processor.KindDeclined
		switch {
		case stripeErr.Param == "currency" || strings.Contains(strings.ToLower(stripeErr.Msg), "currency"):
			kind = processor.KindCurrencyRejected
		case stripeErr.HTTPStatusCode >= 500:
			kind = processor.KindUnavailable
		}
		return &processor.ProviderError{Provider: providerName, Kind: kind, Message: stripeErr.Msg}
	}
	return &processor.ProviderError{Provider: providerName, Kind: processor.KindUnavailable, Message: err.Error()}
}
