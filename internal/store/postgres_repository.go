/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL for payment intents, the transaction ledger, wallets,
 * subscriptions, fraud logs, risk profiles and payouts.
 *
 * The two finalization methods are the core of the service: each opens one
 * database transaction, locks the intent row with FOR UPDATE, applies the
 * idempotency barrier on (reference, status), and commits every downstream
 * mutation (fees, wallet, earnings, entitlement, referral) or none of them.
 *
 * @dependencies
 * - context, time, errors, math: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/afripatron/payment-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindUserIDByAuthSubject resolves the internal UUID from the auth provider's
// subject claim. Users are provisioned by the identity service during onboarding.
func (r *PostgresRepository) FindUserIDByAuthSubject(ctx context.Context, subject string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, "SELECT id FROM users WHERE auth_subject = $1", subject).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return uuid.Nil, ErrUserNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

// CreatePaymentIntent inserts a new pending intent and fills in the generated
// ID and timestamps.
func (r *PostgresRepository) CreatePaymentIntent(ctx context.Context, intent *domain.PaymentIntent) error {
	query := `
		INSERT INTO payment_intents (
			payer_id, creator_id, subscription_id, post_id, product_class, provider,
			requested_amount, currency, minor_unit_amount, status, fee_percent,
			platform_fee, creator_earnings, tax_amount, tax_rate, country_code, tier_name
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		intent.PayerID, intent.CreatorID, intent.SubscriptionID, intent.PostID,
		intent.ProductClass, intent.Provider,
		intent.RequestedAmount, intent.Currency, intent.MinorUnitAmount, intent.Status,
		intent.FeePercent, intent.PlatformFee, intent.CreatorEarnings, intent.TaxAmount, intent.TaxRate,
		intent.CountryCode, intent.TierName,
	).Scan(&intent.ID, &intent.CreatedAt, &intent.UpdatedAt)
}

// UpdateIntentReference records the provider reference returned by a successful
// charge initiation, along with the currency and amount actually sent to the
// provider (which may differ from the requested currency after a fallback).
func (r *PostgresRepository) UpdateIntentReference(ctx context.Context, intentID uuid.UUID, provider, reference, currency string, minorAmount int64) error {
	query := `
		UPDATE payment_intents
		SET provider = $2, external_reference = $3, currency = $4, minor_unit_amount = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	result, err := r.db.Exec(ctx, query, intentID, provider, reference, currency, minorAmount)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// MarkIntentFailed transitions a pending intent to failed without touching the
// ledger. Used when every routing candidate was exhausted before any provider
// accepted the charge.
func (r *PostgresRepository) MarkIntentFailed(ctx context.Context, intentID uuid.UUID, reason string) error {
	query := `
		UPDATE payment_intents
		SET status = 'failed', failure_reason = $2, finalized_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	result, err := r.db.Exec(ctx, query, intentID, reason)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// CancelPaymentIntent cancels a pending intent owned by payerID. Intents that
// already hold a provider reference stay open; their terminal status must come
// from the provider's webhook, not the client.
func (r *PostgresRepository) CancelPaymentIntent(ctx context.Context, intentID, payerID uuid.UUID) error {
	query := `
		UPDATE payment_intents
		SET status = 'cancelled', finalized_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND payer_id = $2 AND status = 'pending' AND external_reference IS NULL
	`
	result, err := r.db.Exec(ctx, query, intentID, payerID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		// Distinguish "not yours / not found" from "exists but not cancellable".
		var status string
		err := r.db.QueryRow(ctx, "SELECT status FROM payment_intents WHERE id = $1 AND payer_id = $2", intentID, payerID).Scan(&status)
		if err == pgx.ErrNoRows {
			return ErrIntentNotFound
		}
		if err != nil {
			return err
		}
		return ErrIntentNotCancellable
	}
	return nil
}

const intentColumns = `
	id, payer_id, creator_id, subscription_id, post_id, product_class, provider,
	external_reference, requested_amount, currency, minor_unit_amount, status,
	fee_percent, platform_fee, creator_earnings, tax_amount, tax_rate, country_code, tier_name,
	finalized_at, created_at, updated_at
`

func scanIntent(row pgx.Row) (*domain.PaymentIntent, error) {
	var intent domain.PaymentIntent
	err := row.Scan(
		&intent.ID, &intent.PayerID, &intent.CreatorID, &intent.SubscriptionID, &intent.PostID,
		&intent.ProductClass, &intent.Provider, &intent.ExternalReference,
		&intent.RequestedAmount, &intent.Currency, &intent.MinorUnitAmount, &intent.Status,
		&intent.FeePercent, &intent.PlatformFee, &intent.CreatorEarnings, &intent.TaxAmount, &intent.TaxRate,
		&intent.CountryCode, &intent.TierName,
		&intent.FinalizedAt, &intent.CreatedAt, &intent.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return &intent, nil
}

// FindIntentByID retrieves a payment intent by its ID.
func (r *PostgresRepository) FindIntentByID(ctx context.Context, intentID uuid.UUID) (*domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE id = $1`
	return scanIntent(r.db.QueryRow(ctx, query, intentID))
}

// FindIntentByReference retrieves a payment intent by its provider reference.
func (r *PostgresRepository) FindIntentByReference(ctx context.Context, reference string) (*domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE external_reference = $1`
	return scanIntent(r.db.QueryRow(ctx, query, reference))
}

// splitMinorAmount computes the fee split for a stored intent amount. All
// divisions floor, so the creator share absorbs rounding remainders upward and
// the platform never over-collects by a sub-unit.
func splitMinorAmount(amount int64, productClass string, feePercent, taxRate float64) (platformFee, tax, earnings int64) {
	if productClass == domain.ProductClassPlatformOnly {
		return amount, 0, 0
	}
	platformFee = int64(math.Floor(float64(amount) * feePercent / 100))
	tax = int64(math.Floor(float64(amount) * taxRate / 100))
	earnings = amount - platformFee - tax
	if earnings < 0 {
		earnings = 0
	}
	return platformFee, tax, earnings
}

// FinalizePaymentSuccess commits a verified success event as one atomic unit:
// intent lock, idempotency barrier, fee recomputation from the stored amount,
// wallet credit with earnings checkpoint, product fulfillment, referral credit.
//
// The webhook's amount never enters this method. Fees are recomputed here from
// the locked intent row and the fee percent snapshot taken at initiation, so a
// forged or truncated payload cannot skew the split.
func (r *PostgresRepository) FinalizePaymentSuccess(ctx context.Context, params domain.FinalizeSuccessParams) (*FinalizeResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin finalize tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the intent row for the duration of the commit.
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE id = $1 FOR UPDATE`
	intent, err := scanIntent(tx.QueryRow(ctx, query, params.IntentID))
	if err != nil {
		return nil, err
	}

	// Idempotency barrier: one ledger line per (reference, status). A replayed
	// delivery conflicts here and the whole transaction rolls back untouched.
	insertTx := `
		INSERT INTO payment_transactions (intent_id, provider, reference, status, amount, currency, raw_event)
		VALUES ($1, $2, $3, 'success', $4, $5, $6)
		ON CONFLICT (reference, status) DO NOTHING
	`
	result, err := tx.Exec(ctx, insertTx,
		intent.ID, intent.Provider, params.Reference, intent.MinorUnitAmount, intent.Currency, params.RawEvent)
	if err != nil {
		return nil, fmt.Errorf("insert transaction ledger line: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, ErrEventAlreadyProcessed
	}

	// Terminal intents never reopen. A success landing after a failed or
	// cancelled finalization keeps its ledger line for the audit trail but
	// must not credit the wallet or flip the intent back.
	if intent.Status != domain.IntentStatusPending {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit late ledger line: %w", err)
		}
		return nil, ErrEventAlreadyProcessed
	}

	platformFee, tax, earnings := splitMinorAmount(intent.MinorUnitAmount, intent.ProductClass, intent.FeePercent, intent.TaxRate)

	updateIntent := `
		UPDATE payment_intents
		SET status = 'success', platform_fee = $2, creator_earnings = $3, tax_amount = $4,
		    external_reference = $5, finalized_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, updateIntent, intent.ID, platformFee, earnings, tax, params.Reference); err != nil {
		return nil, fmt.Errorf("finalize intent: %w", err)
	}
	intent.Status = domain.IntentStatusSuccess
	intent.PlatformFee = platformFee
	intent.TaxAmount = tax
	intent.CreatorEarnings = earnings

	if earnings > 0 {
		var balanceAfter int64
		creditWallet := `
			INSERT INTO wallets (creator_id, balance, pending_payouts, currency)
			VALUES ($1, $2, 0, $3)
			ON CONFLICT (creator_id) DO UPDATE
			SET balance = wallets.balance + EXCLUDED.balance, updated_at = NOW()
			RETURNING balance
		`
		if err := tx.QueryRow(ctx, creditWallet, intent.CreatorID, earnings, intent.Currency).Scan(&balanceAfter); err != nil {
			return nil, fmt.Errorf("credit wallet: %w", err)
		}

		insertEarning := `
			INSERT INTO earnings (creator_id, intent_id, amount, balance_after)
			VALUES ($1, $2, $3, $4)
		`
		if _, err := tx.Exec(ctx, insertEarning, intent.CreatorID, intent.ID, earnings, balanceAfter); err != nil {
			return nil, fmt.Errorf("insert earnings record: %w", err)
		}
	}

	out := &FinalizeResult{Intent: intent, CreatorEarnings: earnings}

	switch intent.ProductClass {
	case domain.ProductClassTier:
		if intent.SubscriptionID != nil {
			var tierName string
			var referralID *uuid.UUID
			activate := `
				UPDATE subscriptions
				SET status = 'active', next_billing_date = $2, last_payment_ref = $3, updated_at = NOW()
				WHERE id = $1
				RETURNING tier_name, referral_id
			`
			nextBilling := time.Now().UTC().Add(params.SubscriptionTerm)
			err := tx.QueryRow(ctx, activate, *intent.SubscriptionID, nextBilling, params.Reference).Scan(&tierName, &referralID)
			if err != nil {
				if err == pgx.ErrNoRows {
					return nil, ErrSubscriptionNotFound
				}
				return nil, fmt.Errorf("activate subscription: %w", err)
			}
			out.SubscriptionActivated = true
			out.TierName = tierName

			if referralID != nil && params.ReferralPercent > 0 {
				credit := int64(math.Floor(float64(platformFee) * params.ReferralPercent / 100))
				if credit > 0 {
					insertCredit := `
						INSERT INTO referral_credits (referral_id, referrer_id, intent_id, amount)
						SELECT r.id, r.referrer_id, $2, $3 FROM referrals r WHERE r.id = $1
					`
					if _, err := tx.Exec(ctx, insertCredit, *referralID, intent.ID, credit); err != nil {
						return nil, fmt.Errorf("insert referral credit: %w", err)
					}
				}
			}
		}
	case domain.ProductClassPPV:
		if intent.PostID != nil {
			insertEntitlement := `
				INSERT INTO ppv_entitlements (fan_id, post_id, intent_id)
				VALUES ($1, $2, $3)
				ON CONFLICT (fan_id, post_id) DO NOTHING
			`
			if _, err := tx.Exec(ctx, insertEntitlement, intent.PayerID, *intent.PostID, intent.ID); err != nil {
				return nil, fmt.Errorf("insert ppv entitlement: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit finalize tx: %w", err)
	}
	return out, nil
}

// FinalizePaymentFailure records a verified failure event. The ledger line is
// still written idempotently, but only a pending intent transitions; a failure
// arriving after a success is recorded and otherwise ignored.
func (r *PostgresRepository) FinalizePaymentFailure(ctx context.Context, params domain.FinalizeFailureParams) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin finalize tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE id = $1 FOR UPDATE`
	intent, err := scanIntent(tx.QueryRow(ctx, query, params.IntentID))
	if err != nil {
		return err
	}

	insertTx := `
		INSERT INTO payment_transactions (intent_id, provider, reference, status, amount, currency, raw_event)
		VALUES ($1, $2, $3, 'failed', $4, $5, $6)
		ON CONFLICT (reference, status) DO NOTHING
	`
	result, err := tx.Exec(ctx, insertTx,
		intent.ID, intent.Provider, params.Reference, intent.MinorUnitAmount, intent.Currency, params.RawEvent)
	if err != nil {
		return fmt.Errorf("insert transaction ledger line: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrEventAlreadyProcessed
	}

	if intent.Status == domain.IntentStatusPending {
		updateIntent := `
			UPDATE payment_intents
			SET status = 'failed', failure_reason = $2, finalized_at = NOW(), updated_at = NOW()
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, updateIntent, intent.ID, params.Reason); err != nil {
			return fmt.Errorf("fail intent: %w", err)
		}

		// A subscription still waiting on its first charge dies with the charge.
		// Active subscriptions keep their grace period and are retried by the
		// renewal job.
		if intent.SubscriptionID != nil {
			cancelSub := `
				UPDATE subscriptions
				SET status = 'cancelled', updated_at = NOW()
				WHERE id = $1 AND status = 'pending'
			`
			if _, err := tx.Exec(ctx, cancelSub, *intent.SubscriptionID); err != nil {
				return fmt.Errorf("cancel pending subscription: %w", err)
			}
		}
	}

	return tx.Commit(ctx)
}

// CreateFraudLog appends a fraud log entry. Log rows are written before the
// caller is denied, so the audit trail survives the denial path.
func (r *PostgresRepository) CreateFraudLog(ctx context.Context, entry domain.FraudLog) error {
	query := `
		INSERT INTO fraud_logs (user_id, check_name, action, severity, reason, ip_address, phone_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		entry.UserID, entry.CheckName, entry.Action, entry.Severity, entry.Reason, entry.IPAddress, entry.PhoneNumber)
	return err
}

// CountRecentPaymentsByUser counts payment initiations by a payer inside the window.
func (r *PostgresRepository) CountRecentPaymentsByUser(ctx context.Context, userID uuid.UUID, window time.Duration) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM payment_intents WHERE payer_id = $1 AND created_at > NOW() - $2::interval`
	err := r.db.QueryRow(ctx, query, userID, window).Scan(&count)
	return count, err
}

// HasRecentDuplicateIntent reports whether the payer already opened an intent
// for the same creator, amount and currency inside the window.
func (r *PostgresRepository) HasRecentDuplicateIntent(ctx context.Context, payerID, creatorID uuid.UUID, minorAmount int64, currency string, window time.Duration) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM payment_intents
			WHERE payer_id = $1 AND creator_id = $2 AND minor_unit_amount = $3 AND currency = $4
			  AND status IN ('pending', 'success')
			  AND created_at > NOW() - $5::interval
		)
	`
	err := r.db.QueryRow(ctx, query, payerID, creatorID, minorAmount, currency, window).Scan(&exists)
	return exists, err
}

// CountFailedPaymentsByUser counts failed intents for a payer inside the window.
func (r *PostgresRepository) CountFailedPaymentsByUser(ctx context.Context, userID uuid.UUID, window time.Duration) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM payment_intents WHERE payer_id = $1 AND status = 'failed' AND created_at > NOW() - $2::interval`
	err := r.db.QueryRow(ctx, query, userID, window).Scan(&count)
	return count, err
}

// FlagAccountForSuspension marks a user account for manual review.
func (r *PostgresRepository) FlagAccountForSuspension(ctx context.Context, userID uuid.UUID, reason string) error {
	query := `
		UPDATE users
		SET flagged_for_suspension = TRUE, suspension_reason = $2, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, userID, reason)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CountAccountsByPhoneNumber counts distinct user accounts registered with the
// same mobile money phone number.
func (r *PostgresRepository) CountAccountsByPhoneNumber(ctx context.Context, phoneNumber string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM users WHERE phone_number = $1`
	err := r.db.QueryRow(ctx, query, phoneNumber).Scan(&count)
	return count, err
}

// CountRecentPaymentsByPhone counts mobile money charges initiated from one
// phone number inside the window, across all accounts.
func (r *PostgresRepository) CountRecentPaymentsByPhone(ctx context.Context, phoneNumber string, window time.Duration) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM payment_intents pi
		JOIN users u ON u.id = pi.payer_id
		WHERE u.phone_number = $1 AND pi.created_at > NOW() - $2::interval
	`
	err := r.db.QueryRow(ctx, query, phoneNumber, window).Scan(&count)
	return count, err
}

// HasBlockedFraudLogForIP reports whether the IP was blocked inside the window.
func (r *PostgresRepository) HasBlockedFraudLogForIP(ctx context.Context, ip string, window time.Duration) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM fraud_logs
			WHERE ip_address = $1 AND action = 'blocked' AND created_at > NOW() - $2::interval
		)
	`
	err := r.db.QueryRow(ctx, query, ip, window).Scan(&exists)
	return exists, err
}

// GetRiskSignals gathers every raw input the risk engine scores in one round trip.
func (r *PostgresRepository) GetRiskSignals(ctx context.Context, userID uuid.UUID) (*domain.RiskSignals, error) {
	var signals domain.RiskSignals
	query := `
		SELECT
			COALESCE((SELECT kyc_status FROM users WHERE id = $1), 'none'),
			(SELECT COUNT(*) FROM chargebacks WHERE creator_id = $1 AND status = 'open'),
			(SELECT COUNT(*) FROM payment_intents WHERE payer_id = $1 AND status = 'failed' AND created_at > NOW() - INTERVAL '7 days'),
			(SELECT COUNT(*) FROM subscriptions WHERE creator_id = $1 AND created_at >= NOW() - INTERVAL '7 days'),
			(SELECT COUNT(*) FROM subscriptions WHERE creator_id = $1 AND created_at >= NOW() - INTERVAL '14 days' AND created_at < NOW() - INTERVAL '7 days')
	`
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&signals.KYCStatus,
		&signals.OpenChargebacks,
		&signals.FailedPayments7d,
		&signals.SubscribersThisWeek,
		&signals.SubscribersLastWeek,
	)
	if err != nil {
		return nil, err
	}
	return &signals, nil
}

// SaveRiskProfile upserts a recomputed risk profile.
func (r *PostgresRepository) SaveRiskProfile(ctx context.Context, profile *domain.RiskProfile) error {
	query := `
		INSERT INTO risk_profiles (user_id, risk_score, daily_limit, monthly_limit, flags, kyc_status, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE
		SET risk_score = EXCLUDED.risk_score, daily_limit = EXCLUDED.daily_limit,
		    monthly_limit = EXCLUDED.monthly_limit, flags = EXCLUDED.flags,
		    kyc_status = EXCLUDED.kyc_status, computed_at = EXCLUDED.computed_at
	`
	_, err := r.db.Exec(ctx, query,
		profile.UserID, profile.RiskScore, profile.DailyLimit, profile.MonthlyLimit,
		profile.Flags, profile.KYCStatus, profile.ComputedAt)
	return err
}

// FindRiskProfileByUserID retrieves the stored risk profile for a user.
func (r *PostgresRepository) FindRiskProfileByUserID(ctx context.Context, userID uuid.UUID) (*domain.RiskProfile, error) {
	var profile domain.RiskProfile
	query := `
		SELECT user_id, risk_score, daily_limit, monthly_limit, flags, kyc_status, computed_at
		FROM risk_profiles
		WHERE user_id = $1
	`
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&profile.UserID, &profile.RiskScore, &profile.DailyLimit, &profile.MonthlyLimit,
		&profile.Flags, &profile.KYCStatus, &profile.ComputedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRiskProfileNotFound
		}
		return nil, err
	}
	return &profile, nil
}

// SumPayoutsSince totals the payouts that count against risk limits. Failed and
// rejected payouts are excluded; pending and processing still reserve headroom.
func (r *PostgresRepository) SumPayoutsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	var total int64
	query := `
		SELECT COALESCE(SUM(amount), 0) FROM payouts
		WHERE creator_id = $1 AND status IN ('pending', 'processing', 'completed') AND created_at >= $2
	`
	err := r.db.QueryRow(ctx, query, userID, since).Scan(&total)
	return total, err
}

// ListRiskRecomputeCandidates returns creators with recent financial activity,
// most recently active first, for the periodic risk recompute job.
func (r *PostgresRepository) ListRiskRecomputeCandidates(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT creator_id FROM (
			SELECT creator_id, MAX(created_at) AS last_activity
			FROM earnings
			WHERE created_at > NOW() - INTERVAL '30 days'
			GROUP BY creator_id
		) recent
		ORDER BY last_activity DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindWalletByCreatorID retrieves a creator's wallet.
func (r *PostgresRepository) FindWalletByCreatorID(ctx context.Context, creatorID uuid.UUID) (*domain.Wallet, error) {
	var wallet domain.Wallet
	query := `
		SELECT creator_id, balance, pending_payouts, currency, frozen, frozen_reason, updated_at
		FROM wallets
		WHERE creator_id = $1
	`
	err := r.db.QueryRow(ctx, query, creatorID).Scan(
		&wallet.CreatorID, &wallet.Balance, &wallet.PendingPayouts, &wallet.Currency,
		&wallet.Frozen, &wallet.FrozenReason, &wallet.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// ListRecentEarnings returns the creator's latest earnings records, newest first.
func (r *PostgresRepository) ListRecentEarnings(ctx context.Context, creatorID uuid.UUID, limit int) ([]domain.Earning, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	query := `
		SELECT id, creator_id, intent_id, amount, balance_after, created_at
		FROM earnings
		WHERE creator_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, creatorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var earnings []domain.Earning
	for rows.Next() {
		var e domain.Earning
		if err := rows.Scan(&e.ID, &e.CreatorID, &e.IntentID, &e.Amount, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		earnings = append(earnings, e)
	}
	return earnings, rows.Err()
}

// CreatePayout atomically reserves the payout amount against the wallet and
// inserts the pending payout row. The wallet is locked FOR UPDATE so two
// concurrent withdrawals cannot both pass the balance check.
func (r *PostgresRepository) CreatePayout(ctx context.Context, payout *domain.Payout) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin payout tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance, pending int64
	var frozen bool
	var frozenReason *string
	err = tx.QueryRow(ctx,
		"SELECT balance, pending_payouts, frozen, frozen_reason FROM wallets WHERE creator_id = $1 FOR UPDATE",
		payout.CreatorID).Scan(&balance, &pending, &frozen, &frozenReason)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrWalletNotFound
		}
		return err
	}
	if frozen {
		frozenErr := &WalletFrozenError{}
		if frozenReason != nil {
			frozenErr.Reason = *frozenReason
		}
		return frozenErr
	}
	if balance-pending < payout.Amount {
		return ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx,
		"UPDATE wallets SET pending_payouts = pending_payouts + $2, updated_at = NOW() WHERE creator_id = $1",
		payout.CreatorID, payout.Amount); err != nil {
		return fmt.Errorf("reserve payout amount: %w", err)
	}

	insert := `
		INSERT INTO payouts (creator_id, amount, currency, destination, provider, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRow(ctx, insert,
		payout.CreatorID, payout.Amount, payout.Currency, payout.Destination, payout.Provider,
	).Scan(&payout.ID, &payout.CreatedAt, &payout.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payout: %w", err)
	}
	payout.Status = domain.PayoutStatusPending

	return tx.Commit(ctx)
}

// UpdatePayoutProviderRef records the provider-side transfer reference once the
// payout has been handed to a provider.
func (r *PostgresRepository) UpdatePayoutProviderRef(ctx context.Context, payoutID uuid.UUID, providerRef, status string) error {
	query := `UPDATE payouts SET provider_ref = $2, status = $3, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, payoutID, providerRef, status)
	return err
}

// MarkPayoutFailed fails an in-flight payout and releases its wallet reservation
// in one transaction. Failed payouts stop counting against risk limits.
func (r *PostgresRepository) MarkPayoutFailed(ctx context.Context, payoutID uuid.UUID, reason string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin payout tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var creatorID uuid.UUID
	var amount int64
	fail := `
		UPDATE payouts
		SET status = 'failed', fail_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
		RETURNING creator_id, amount
	`
	err = tx.QueryRow(ctx, fail, payoutID, reason).Scan(&creatorID, &amount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil // already terminal, nothing to release
		}
		return err
	}

	if _, err := tx.Exec(ctx,
		"UPDATE wallets SET pending_payouts = pending_payouts - $2, updated_at = NOW() WHERE creator_id = $1",
		creatorID, amount); err != nil {
		return fmt.Errorf("release payout reservation: %w", err)
	}

	return tx.Commit(ctx)
}

const subscriptionColumns = `
	id, fan_id, creator_id, tier_name, tier_price, currency, status, auto_renew,
	next_billing_date, last_payment_ref, provider, country_code, referral_id,
	created_at, updated_at
`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID, &sub.FanID, &sub.CreatorID, &sub.TierName, &sub.TierPrice, &sub.Currency,
		&sub.Status, &sub.AutoRenew, &sub.NextBillingDate, &sub.LastPaymentRef,
		&sub.Provider, &sub.CountryCode, &sub.ReferralID, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// FindOrCreatePendingSubscription returns the (fan, creator) subscription,
// creating it in pending status if absent. Re-subscribing refreshes the tier
// fields but never downgrades an already-active status.
func (r *PostgresRepository) FindOrCreatePendingSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	query := `
		INSERT INTO subscriptions (
			fan_id, creator_id, tier_name, tier_price, currency, status, auto_renew,
			provider, country_code, referral_id
		)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $8, $9)
		ON CONFLICT (fan_id, creator_id) DO UPDATE
		SET tier_name = EXCLUDED.tier_name, tier_price = EXCLUDED.tier_price,
		    currency = EXCLUDED.currency, provider = EXCLUDED.provider,
		    auto_renew = EXCLUDED.auto_renew, updated_at = NOW()
		RETURNING ` + subscriptionColumns
	return scanSubscription(r.db.QueryRow(ctx, query,
		sub.FanID, sub.CreatorID, sub.TierName, sub.TierPrice, sub.Currency,
		sub.AutoRenew, sub.Provider, sub.CountryCode, sub.ReferralID))
}

// FindSubscriptionByID retrieves a subscription by its ID.
func (r *PostgresRepository) FindSubscriptionByID(ctx context.Context, subID uuid.UUID) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	return scanSubscription(r.db.QueryRow(ctx, query, subID))
}

// FindDueRenewals returns active auto-renewing subscriptions whose billing date
// has arrived, oldest first, bounded so one scheduler tick cannot flood the
// providers.
func (r *PostgresRepository) FindDueRenewals(ctx context.Context, now time.Time, limit int) ([]domain.Subscription, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = 'active' AND auto_renew = TRUE AND next_billing_date <= $1
		ORDER BY next_billing_date ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// ExpireLapsedSubscriptions expires active subscriptions whose billing date is
// further in the past than the grace window. Renewal attempts continue during
// grace; expiry is the separate terminal sweep.
func (r *PostgresRepository) ExpireLapsedSubscriptions(ctx context.Context, now time.Time, grace time.Duration) (int64, error) {
	query := `
		UPDATE subscriptions
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'active' AND next_billing_date IS NOT NULL AND next_billing_date < $1
	`
	result, err := r.db.Exec(ctx, query, now.Add(-grace))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// FindReferralByCode resolves a referral code to its record.
func (r *PostgresRepository) FindReferralByCode(ctx context.Context, code string) (*domain.Referral, error) {
	var ref domain.Referral
	query := `SELECT id, referrer_id, code, created_at FROM referrals WHERE code = $1`
	err := r.db.QueryRow(ctx, query, code).Scan(&ref.ID, &ref.ReferrerID, &ref.Code, &ref.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrReferralNotFound
		}
		return nil, err
	}
	return &ref, nil
}

// GetPlatformConfig reads one platform configuration value by key.
func (r *PostgresRepository) GetPlatformConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRow(ctx, "SELECT value FROM platform_config WHERE key = $1", key).Scan(&value)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrConfigNotFound
		}
		return "", err
	}
	return value, nil
}

// SetPlatformConfig upserts one platform configuration value.
func (r *PostgresRepository) SetPlatformConfig(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO platform_config (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, key, value)
	return err
}
