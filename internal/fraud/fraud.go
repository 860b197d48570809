/**
 * @description
 * Pre-charge fraud screening. The guard runs a fixed sequence of checks
 * against every payment initiation and denies the attempt on the first hit.
 * Every denial (and every soft flag) is written to the fraud log BEFORE the
 * caller sees the error, so the audit trail survives the denial path.
 *
 * Checks, in order:
 *   1. velocity        — too many initiations by one payer per hour
 *   2. duplicate       — identical payer/creator/amount/currency in a short window
 *   3. failed_lockout  — repeated failed charges; also flags the account
 *   4. phone_abuse     — one mobile money number spread across many accounts,
 *                        or hammered with charges
 *   5. ip_reputation   — IP already blocked in the recent past
 *
 * @dependencies
 * - internal/store: fraud log writes and database-backed counts.
 * - redis (via VelocityCounter): distributed velocity counting.
 */

package fraud

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/afripatron/payment-service/internal/domain"
	"github.com/afripatron/payment-service/internal/store"
)

// BlockedError denies a payment attempt. CheckName identifies which check hit.
type BlockedError struct {
	CheckName string
	Reason    string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("payment blocked by %s check: %s", e.CheckName, e.Reason)
}

// Thresholds are the tunable limits for each check.
type Thresholds struct {
	VelocityPerHour     int
	FailedLockoutCount  int
	PhoneAccountLimit   int
	PhoneChargesPerHour int
}

// CheckInput is everything the guard inspects about one payment attempt.
type CheckInput struct {
	PayerID     uuid.UUID
	CreatorID   uuid.UUID
	MinorAmount int64
	Currency    string
	PhoneNumber string
	ClientIP    string
}

// Guard runs the fraud checks.
type Guard struct {
	repo       store.Repository
	counter    VelocityCounter
	thresholds Thresholds
}

// NewGuard creates a Guard. counter may be nil; velocity then counts from the
// database instead of Redis.
func NewGuard(repo store.Repository, counter VelocityCounter, thresholds Thresholds) *Guard {
	return &Guard{repo: repo, counter: counter, thresholds: thresholds}
}

const (
	velocityWindow  = time.Hour
	duplicateWindow = 5 * time.Minute
	lockoutWindow   = 24 * time.Hour
	phoneWindow     = time.Hour
	ipWindow        = 30 * 24 * time.Hour
)

// Check screens one payment attempt. A nil return clears the attempt; a
// *BlockedError denies it. Infrastructure failures inside a check are logged
// and skipped rather than blocking legitimate payments.
func (g *Guard) Check(ctx context.Context, input CheckInput) error {
	if err := g.checkVelocity(ctx, input); err != nil {
		return err
	}
	if err := g.checkDuplicate(ctx, input); err != nil {
		return err
	}
	if err := g.checkFailedLockout(ctx, input); err != nil {
		return err
	}
	if input.PhoneNumber != "" {
		if err := g.checkPhoneAbuse(ctx, input); err != nil {
			return err
		}
	}
	if input.ClientIP != "" {
		if err := g.checkIPReputation(ctx, input); err != nil {
			return err
		}
	}
	return nil
}

func (g *Guard) checkVelocity(ctx context.Context, input CheckInput) error {
	count := 0
	if g.counter != nil {
		redisCount, err := g.counter.Increment(ctx, "payments", input.PayerID.String(), velocityWindow)
		if err != nil {
			log.Printf("level=warn component=fraud msg=\"velocity counter unavailable; falling back to database\" err=%v", err)
		} else {
			count = redisCount
		}
	}
	if count == 0 {
		dbCount, err := g.repo.CountRecentPaymentsByUser(ctx, input.PayerID, velocityWindow)
		if err != nil {
			log.Printf("level=warn component=fraud msg=\"velocity count failed; skipping check\" err=%v", err)
			return nil
		}
		count = dbCount + 1 // include the attempt being screened
	}
	if count > g.thresholds.VelocityPerHour {
		return g.deny(ctx, input, "velocity", domain.FraudSeverityHigh,
			fmt.Sprintf("%d payment attempts in the last hour (limit %d)", count, g.thresholds.VelocityPerHour))
	}
	return nil
}

func (g *Guard) checkDuplicate(ctx context.Context, input CheckInput) error {
	duplicate, err := g.repo.HasRecentDuplicateIntent(ctx, input.PayerID, input.CreatorID, input.MinorAmount, input.Currency, duplicateWindow)
	if err != nil {
		log.Printf("level=warn component=fraud msg=\"duplicate check failed; skipping\" err=%v", err)
		return nil
	}
	if duplicate {
		return g.deny(ctx, input, "duplicate", domain.FraudSeverityMedium,
			"identical charge already open for this creator, amount and currency")
	}
	return nil
}

func (g *Guard) checkFailedLockout(ctx context.Context, input CheckInput) error {
	failed, err := g.repo.CountFailedPaymentsByUser(ctx, input.PayerID, lockoutWindow)
	if err != nil {
		log.Printf("level=warn component=fraud msg=\"failed-payment count failed; skipping\" err=%v", err)
		return nil
	}
	if failed >= g.thresholds.FailedLockoutCount {
		reason := fmt.Sprintf("%d failed charges in 24h (limit %d)", failed, g.thresholds.FailedLockoutCount)
		if err := g.repo.FlagAccountForSuspension(ctx, input.PayerID, reason); err != nil {
			log.Printf("level=error component=fraud msg=\"failed to flag account for suspension\" payer_id=%s err=%v", input.PayerID, err)
		}
		return g.deny(ctx, input, "failed_lockout", domain.FraudSeverityHigh, reason)
	}
	return nil
}

func (g *Guard) checkPhoneAbuse(ctx context.Context, input CheckInput) error {
	accounts, err := g.repo.CountAccountsByPhoneNumber(ctx, input.PhoneNumber)
	if err != nil {
		log.Printf("level=warn component=fraud msg=\"phone account count failed; skipping\" err=%v", err)
		return nil
	}
	if accounts > g.thresholds.PhoneAccountLimit {
		return g.deny(ctx, input, "phone_abuse", domain.FraudSeverityCritical,
			fmt.Sprintf("phone number registered on %d accounts (limit %d)", accounts, g.thresholds.PhoneAccountLimit))
	}

	charges, err := g.repo.CountRecentPaymentsByPhone(ctx, input.PhoneNumber, phoneWindow)
	if err != nil {
		log.Printf("level=warn component=fraud msg=\"phone charge count failed; skipping\" err=%v", err)
		return nil
	}
	if charges > g.thresholds.PhoneChargesPerHour {
		return g.deny(ctx, input, "phone_abuse", domain.FraudSeverityHigh,
			fmt.Sprintf("%d charges from one phone number in the last hour (limit %d)", charges, g.thresholds.PhoneChargesPerHour))
	}
	return nil
}

func (g *Guard) checkIPReputation(ctx context.Context, input CheckInput) error {
	blocked, err := g.repo.HasBlockedFraudLogForIP(ctx, input.ClientIP, ipWindow)
	if err != nil {
		log.Printf("level=warn component=fraud msg=\"ip reputation check failed; skipping\" err=%v", err)
		return nil
	}
	if blocked {
		return g.deny(ctx, input, "ip_reputation", domain.FraudSeverityMedium,
			"ip address was blocked in the last 30 days")
	}
	return nil
}

// deny writes the fraud log entry, then returns the block. The log write comes
// first so a crash between the two cannot lose the audit record.
func (g *Guard) deny(ctx context.Context, input CheckInput, checkName, severity, reason string) error {
	entry := domain.FraudLog{
		UserID:    &input.PayerID,
		CheckName: checkName,
		Action:    domain.FraudActionBlocked,
		Severity:  severity,
		Reason:    reason,
	}
	if input.ClientIP != "" {
		ip := input.ClientIP
		entry.IPAddress = &ip
	}
	if input.PhoneNumber != "" {
		phone := input.PhoneNumber
		entry.PhoneNumber = &phone
	}
	if err := g.repo.CreateFraudLog(ctx, entry); err != nil {
		log.Printf("level=error component=fraud msg=\"failed to write fraud log\" check=%s err=%v", checkName, err)
	}
	log.Printf("level=warn component=fraud msg=\"payment blocked\" check=%s payer_id=%s reason=%q", checkName, input.PayerID, reason)
	return &BlockedError{CheckName: checkName, Reason: reason}
}
