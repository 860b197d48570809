/**
 * @description
 * Wallet, earnings and payout models. The wallet balance is mutated exclusively
 * inside the same atomic unit as the PaymentIntent finalization (or withdrawal)
 * that caused the change, and must always equal the sum of earnings minus
 * withdrawals for the creator.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payout statuses. Failed and rejected payouts do not count toward risk limits.
const (
	PayoutStatusPending    = "pending"
	PayoutStatusProcessing = "processing"
	PayoutStatusCompleted  = "completed"
	PayoutStatusFailed     = "failed"
	PayoutStatusRejected   = "rejected"
)

// Wallet holds a creator's ledger balance in minor units.
type Wallet struct {
	CreatorID      uuid.UUID `json:"creator_id"`
	Balance        int64     `json:"balance"`
	PendingPayouts int64     `json:"pending_payouts"`
	Currency       string    `json:"currency"`
	Frozen         bool      `json:"frozen"`
	FrozenReason   *string   `json:"frozen_reason,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AvailableBalance is the amount a creator may withdraw right now.
func (w *Wallet) AvailableBalance() int64 {
	return w.Balance - w.PendingPayouts
}

// Earning is an immutable audit record appended for every wallet credit.
// BalanceAfter is a monotonic checkpoint that must match the wallet balance at
// the time of insert.
type Earning struct {
	ID           uuid.UUID `json:"id"`
	CreatorID    uuid.UUID `json:"creator_id"`
	IntentID     uuid.UUID `json:"intent_id"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

// Payout is a creator withdrawal request and its provider-side progress.
type Payout struct {
	ID          uuid.UUID `json:"id"`
	CreatorID   uuid.UUID `json:"creator_id"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Destination string    `json:"destination"`
	Provider    string    `json:"provider"`
	ProviderRef *string   `json:"provider_ref,omitempty"`
	Status      string    `json:"status"`
	FailReason  *string   `json:"fail_reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WithdrawalRequest is the DTO for incoming payout API requests.
type WithdrawalRequest struct {
	Amount      int64  `json:"amount"` // minor units
	Destination string `json:"destination"`
}
