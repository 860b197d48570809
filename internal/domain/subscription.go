/**
 * @description
 * Subscription, PPV entitlement and referral models. Subscriptions transition to
 * `active` only inside the same atomic commit as the successful PaymentIntent
 * that paid for them; they are never activated independently.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Subscription statuses.
const (
	SubscriptionStatusPending   = "pending"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
)

// Subscription represents a fan's recurring subscription to a creator tier.
type Subscription struct {
	ID              uuid.UUID  `json:"id"`
	FanID           uuid.UUID  `json:"fan_id"`
	CreatorID       uuid.UUID  `json:"creator_id"`
	TierName        string     `json:"tier_name"`
	TierPrice       int64      `json:"tier_price"` // minor units
	Currency        string     `json:"currency"`
	Status          string     `json:"status"`
	AutoRenew       bool       `json:"auto_renew"`
	NextBillingDate *time.Time `json:"next_billing_date,omitempty"`
	LastPaymentRef  *string    `json:"last_payment_ref,omitempty"`
	Provider        string     `json:"provider"`
	CountryCode     string     `json:"country_code"`
	ReferralID      *uuid.UUID `json:"referral_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// PPVEntitlement unlocks a single pay-per-view post for a fan. Created only
// inside the atomic commit of the successful payment that bought it.
type PPVEntitlement struct {
	ID        uuid.UUID `json:"id"`
	FanID     uuid.UUID `json:"fan_id"`
	PostID    uuid.UUID `json:"post_id"`
	IntentID  uuid.UUID `json:"intent_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Referral links a subscription to the referrer owed a credit on each
// successful payment under it.
type Referral struct {
	ID         uuid.UUID `json:"id"`
	ReferrerID uuid.UUID `json:"referrer_id"`
	Code       string    `json:"code"`
	CreatedAt  time.Time `json:"created_at"`
}

// ReferralCredit is the append-only award written alongside a finalized
// payment when the paying subscription carries a referral.
type ReferralCredit struct {
	ID         uuid.UUID `json:"id"`
	ReferralID uuid.UUID `json:"referral_id"`
	ReferrerID uuid.UUID `json:"referrer_id"`
	IntentID   uuid.UUID `json:"intent_id"`
	Amount     int64     `json:"amount"`
	CreatedAt  time.Time `json:"created_at"`
}
