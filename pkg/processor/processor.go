/**
 * @description
 * This package defines the capability interface every external payment
 * processor is adapted to. The orchestrator and webhook processor depend only
 * on this interface, never on a concrete provider, so providers can be added
 * or removed without touching orchestration logic.
 *
 * @notes
 * - Amounts are int64 minor units throughout.
 * - ParseWebhook authenticates the payload against the provider's shared
 *   secret before returning an event; an unverifiable signature returns
 *   ErrWebhookAuth and the caller must not touch the ledger.
 */

package processor

import (
	"context"
	"errors"
	"fmt"
)

// Provider error kinds. CurrencyRejected drives the orchestrator's one-shot
// fallback-currency retry; everything else falls through to the next candidate.
const (
	KindCurrencyRejected = "currency_rejected"
	KindDeclined         = "declined"
	KindUnavailable      = "unavailable"
)

// ErrWebhookAuth is returned when a webhook signature cannot be verified.
var ErrWebhookAuth = errors.New("webhook signature verification failed")

// ProviderError is a typed failure from an external processor call.
type ProviderError struct {
	Provider string
	Kind     string
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Kind)
}

// IsCurrencyRejected reports whether err is a provider currency rejection.
func IsCurrencyRejected(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == KindCurrencyRejected
}

// ChargeRequest is the provider-agnostic input for creating a charge.
type ChargeRequest struct {
	MinorAmount int64
	Currency    string
	PayerRef    string
	PayeeRef    string
	PhoneNumber string // mobile-money rails only
	Metadata    map[string]string
}

// ChargeResult is returned after a provider accepts a charge. Exactly one of
// RedirectURL or ClientToken is populated.
type ChargeResult struct {
	Reference   string
	RedirectURL string
	ClientToken string
}

// ChargeStatus is the provider's view of a charge, used for reconciliation.
type ChargeStatus struct {
	Reference   string
	Status      string // pending | success | failed
	MinorAmount int64
	Currency    string
}

// WebhookEvent is a verified, normalized provider confirmation event. The
// amount fields are informational only; fee computation never reads them.
type WebhookEvent struct {
	EventType   string
	Reference   string
	Status      string // success | failed
	MinorAmount int64
	Currency    string
	Raw         string
}

// PayoutRequest is the provider-agnostic input for a creator payout.
type PayoutRequest struct {
	MinorAmount int64
	Currency    string
	Destination string
	Reference   string
}

// PayoutResult reports the provider-side payout id and initial status.
type PayoutResult struct {
	PayoutID string
	Status   string
}

// Processor is the capability contract each concrete provider implements.
type Processor interface {
	Name() string
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	VerifyCharge(ctx context.Context, reference string) (*ChargeStatus, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
	CreatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
}

// Registry maps provider names to processors for dynamic dispatch.
type Registry map[string]Processor

// Get returns the processor registered under name.
func (r Registry) Get(name string) (Processor, bool) {
	p, ok := r[name]
	return p, ok
}
