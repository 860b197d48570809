/**
 * @description
 * Risk and fraud domain models: per-user AML risk profiles, payout limit tiers,
 * and the append-only fraud log used for velocity/IP lookups and audit.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// KYC statuses as reported by the identity collaborator.
const (
	KYCStatusApproved = "approved"
	KYCStatusPending  = "pending"
	KYCStatusRejected = "rejected"
	KYCStatusNone     = "none"
)

// RiskProfile gates payout size for a user. Recomputed periodically and
// on-demand; limits are in minor units per window.
type RiskProfile struct {
	UserID       uuid.UUID `json:"user_id"`
	RiskScore    int       `json:"risk_score"`
	DailyLimit   int64     `json:"daily_limit"`
	MonthlyLimit int64     `json:"monthly_limit"`
	Flags        []string  `json:"flags,omitempty"`
	KYCStatus    string    `json:"kyc_status"`
	ComputedAt   time.Time `json:"computed_at"`
}

// RiskSignals are the raw inputs the risk engine scores. They are gathered by
// the store in one pass so a recompute is a single round trip.
type RiskSignals struct {
	KYCStatus           string
	OpenChargebacks     int
	FailedPayments7d    int
	SubscribersThisWeek int
	SubscribersLastWeek int
}

// Fraud log severities.
const (
	FraudSeverityLow      = "low"
	FraudSeverityMedium   = "medium"
	FraudSeverityHigh     = "high"
	FraudSeverityCritical = "critical"
)

// FraudLog is an append-only record of every blocked or flagged attempt. It is
// written before the caller is denied so a crash cannot lose the audit trail.
type FraudLog struct {
	ID          uuid.UUID  `json:"id"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	CheckName   string     `json:"check_name"`
	Action      string     `json:"action"` // blocked | flagged
	Severity    string     `json:"severity"`
	Reason      string     `json:"reason"`
	IPAddress   *string    `json:"ip_address,omitempty"`
	PhoneNumber *string    `json:"phone_number,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Fraud log actions.
const (
	FraudActionBlocked = "blocked"
	FraudActionFlagged = "flagged"
)
