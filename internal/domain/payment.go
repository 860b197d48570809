/**
 * @description
 * This file defines the core payment domain models for the payment-service.
 * These structs represent the financial entities used throughout the service's
 * business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (minor units),
 *   which avoids floating-point inaccuracies with financial data.
 * - PaymentIntent is the record of truth for a charge and is never deleted;
 *   terminal statuses are reached only through verified webhook events.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentIntent statuses. pending is the only non-terminal state.
const (
	IntentStatusPending   = "pending"
	IntentStatusSuccess   = "success"
	IntentStatusFailed    = "failed"
	IntentStatusCancelled = "cancelled"
)

// Product classes carried on a PaymentIntent. The platform_subscription class
// routes the full amount to the platform fee with zero creator payout.
const (
	ProductClassTier         = "tier_subscription"
	ProductClassPPV          = "ppv_unlock"
	ProductClassPlatformOnly = "platform_subscription"
)

// PaymentIntent is the durable record of one attempted charge, from initiation
// to terminal status. This struct maps directly to the `payment_intents` table.
type PaymentIntent struct {
	ID                uuid.UUID  `json:"id"`
	PayerID           uuid.UUID  `json:"payer_id"`
	CreatorID         uuid.UUID  `json:"creator_id"`
	SubscriptionID    *uuid.UUID `json:"subscription_id,omitempty"`
	PostID            *uuid.UUID `json:"post_id,omitempty"`
	ProductClass      string     `json:"product_class"`
	Provider          string     `json:"provider"`
	ExternalReference *string    `json:"external_reference,omitempty"`
	RequestedAmount   float64    `json:"requested_amount"`
	Currency          string     `json:"currency"`
	MinorUnitAmount   int64      `json:"minor_unit_amount"`
	Status            string     `json:"status"`
	FeePercent        float64    `json:"fee_percent"` // snapshot taken at initiation
	PlatformFee       int64      `json:"platform_fee"`
	CreatorEarnings   int64      `json:"creator_earnings"`
	TaxAmount         int64      `json:"tax_amount"`
	TaxRate           float64    `json:"tax_rate"`
	CountryCode       string     `json:"country_code"`
	TierName          *string    `json:"tier_name,omitempty"`
	Metadata          map[string]string
	FinalizedAt       *time.Time `json:"finalized_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// PaymentTransaction is an append-only ledger line for one provider interaction
// attempt, keyed by the provider reference so replayed webhook deliveries are
// upserted idempotently instead of duplicated.
type PaymentTransaction struct {
	ID          uuid.UUID `json:"id"`
	IntentID    uuid.UUID `json:"intent_id"`
	Provider    string    `json:"provider"`
	Reference   string    `json:"reference"`
	Status      string    `json:"status"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	RawEvent    *string   `json:"-"`
	ProcessedAt time.Time `json:"processed_at"`
}

// StartPaymentRequest is the DTO for incoming payment initiation API requests.
type StartPaymentRequest struct {
	CreatorID    uuid.UUID  `json:"creator_id"`
	ProductClass string     `json:"product_class"`
	TierName     string     `json:"tier_name,omitempty"`
	PostID       *uuid.UUID `json:"post_id,omitempty"`
	Amount       float64    `json:"amount"`
	Currency     string     `json:"currency"`
	CountryCode  string     `json:"country_code"`
	Provider     string     `json:"provider,omitempty"` // explicit provider request, optional
	PhoneNumber  string     `json:"phone_number,omitempty"`
	ReferralCode string     `json:"referral_code,omitempty"`
	ClientIP     string     `json:"-"`
}

// PaymentInitiationResult is returned to the client after a charge has been
// accepted by a provider. Exactly one of RedirectURL or ClientToken is set,
// depending on the provider's checkout model.
type PaymentInitiationResult struct {
	IntentID    uuid.UUID `json:"intent_id"`
	Provider    string    `json:"provider"`
	Reference   string    `json:"reference"`
	Currency    string    `json:"currency"`
	MinorAmount int64     `json:"minor_amount"`
	RedirectURL string    `json:"redirect_url,omitempty"`
	ClientToken string    `json:"client_token,omitempty"`
}

// FinalizeSuccessParams carries everything the store needs to commit a verified
// success event atomically. Fee recomputation inside the commit reads only the
// stored intent row (amount and fee percent snapshot); no amount or rate from
// the webhook payload appears here.
type FinalizeSuccessParams struct {
	IntentID         uuid.UUID
	Reference        string
	ReferralPercent  float64
	SubscriptionTerm time.Duration
	RawEvent         string
}

// FinalizeFailureParams carries the inputs for committing a failed event.
type FinalizeFailureParams struct {
	IntentID  uuid.UUID
	Reference string
	Reason    string
	RawEvent  string
}
