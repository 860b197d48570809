/**
 * @description
 * This file contains the HTTP handlers for the payment-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/afripatron/payment-service/internal/app"
	"github.com/afripatron/payment-service/internal/currency"
	"github.com/afripatron/payment-service/internal/domain"
	"github.com/afripatron/payment-service/internal/fraud"
	"github.com/afripatron/payment-service/internal/risk"
	"github.com/afripatron/payment-service/internal/routing"
	"github.com/afripatron/payment-service/internal/store"
	"github.com/afripatron/payment-service/pkg/processor"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Webhook payloads larger than this are rejected before parsing.
const maxWebhookBody = 1 << 20

// PaymentHandlers holds the application service that handlers will use.
type PaymentHandlers struct {
	service *app.Service
}

// NewPaymentHandlers creates a new instance of PaymentHandlers.
func NewPaymentHandlers(service *app.Service) *PaymentHandlers {
	return &PaymentHandlers{service: service}
}

// resolveUser maps the authenticated subject on the request context to the
// internal user id, writing the error response itself on failure.
func (h *PaymentHandlers) resolveUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	subject, ok := GetAuthSubject(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return uuid.Nil, false
	}

	userID, err := h.service.ResolveUserID(r.Context(), subject)
	if err != nil {
		log.Printf("level=warn component=api outcome=reject reason=user_resolution_failed auth_subject=%s err=%v", subject, err)
		h.writeError(w, http.StatusBadRequest, "User not found")
		return uuid.Nil, false
	}
	return userID, true
}

// clientIP extracts the originating address, preferring the first
// X-Forwarded-For hop set by the edge proxy.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// StartPaymentHandler handles requests to initiate a charge.
func (h *PaymentHandlers) StartPaymentHandler(w http.ResponseWriter, r *http.Request) {
	payerID, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	var req domain.StartPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=start_payment outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	req.ClientIP = clientIP(r)

	log.Printf("level=info component=api endpoint=start_payment outcome=accepted payer_id=%s creator_id=%s product_class=%s amount=%.2f",
		payerID, req.CreatorID, req.ProductClass, req.Amount)

	result, err := h.service.StartPayment(r.Context(), payerID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=start_payment outcome=failed payer_id=%s err=%v", payerID, err)

		var blocked *fraud.BlockedError
		if errors.As(err, &blocked) {
			// Full context lives in the fraud log; the caller gets no detail
			// to probe the checks with.
			h.writeError(w, http.StatusForbidden, "Payment could not be processed.")
			return
		}
		var badRoute *routing.InvalidRouteError
		if errors.As(err, &badRoute) {
			h.writeError(w, http.StatusBadRequest, badRoute.Error())
			return
		}
		if errors.Is(err, app.ErrInvalidAmount) || errors.Is(err, currency.ErrUnsupportedCurrency) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, app.ErrNoProviderAvailable) {
			h.writeError(w, http.StatusBadGateway, "No payment provider could accept the charge. Please try again later.")
			return
		}
		if errors.Is(err, store.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, "Creator not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Could not start payment")
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

// CancelPaymentHandler handles requests to cancel a pending payment intent.
func (h *PaymentHandlers) CancelPaymentHandler(w http.ResponseWriter, r *http.Request) {
	payerID, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	intentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payment ID")
		return
	}

	if err := h.service.CancelPayment(r.Context(), intentID, payerID); err != nil {
		if errors.Is(err, store.ErrIntentNotFound) {
			h.writeError(w, http.StatusNotFound, "Payment not found")
			return
		}
		if errors.Is(err, store.ErrIntentNotCancellable) {
			h.writeError(w, http.StatusConflict, "Payment can no longer be cancelled")
			return
		}
		log.Printf("level=error component=api endpoint=cancel_payment msg=\"cancel failed\" intent_id=%s err=%v", intentID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not cancel payment")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": domain.IntentStatusCancelled})
}

// GetPaymentHandler returns a single payment intent visible to the requester.
func (h *PaymentHandlers) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	intentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payment ID")
		return
	}

	intent, err := h.service.GetPayment(r.Context(), intentID, userID)
	if err != nil {
		if errors.Is(err, store.ErrIntentNotFound) {
			h.writeError(w, http.StatusNotFound, "Payment not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_payment msg=\"lookup failed\" intent_id=%s err=%v", intentID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not fetch payment")
		return
	}

	h.writeJSON(w, http.StatusOK, intent)
}

// signatureHeaders maps each provider to the header carrying its webhook signature.
var signatureHeaders = map[string]string{
	routing.ProviderStripe:      "Stripe-Signature",
	routing.ProviderPaystack:    "x-paystack-signature",
	routing.ProviderFlutterwave: "verif-hash",
}

// WebhookHandler receives provider event notifications. It is unauthenticated;
// each payload is verified against the provider's signing secret before any
// state changes. A 2xx acknowledges the event, anything else makes the
// provider retry.
func (h *PaymentHandlers) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	header, known := signatureHeaders[providerName]
	if !known {
		h.writeError(w, http.StatusNotFound, "Unknown provider")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	err = h.service.HandleWebhook(r.Context(), providerName, payload, r.Header.Get(header))
	if err != nil {
		if errors.Is(err, processor.ErrWebhookAuth) {
			log.Printf("level=warn component=api endpoint=webhook outcome=reject reason=bad_signature provider=%s", providerName)
			h.writeError(w, http.StatusUnauthorized, "Invalid webhook signature")
			return
		}
		if errors.Is(err, app.ErrUnknownProvider) {
			h.writeError(w, http.StatusNotFound, "Unknown provider")
			return
		}
		// Transient failure: signal the provider to retry the delivery.
		log.Printf("level=error component=api endpoint=webhook msg=\"webhook processing failed\" provider=%s err=%v", providerName, err)
		h.writeError(w, http.StatusInternalServerError, "Could not process webhook")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// WithdrawalHandler handles creator payout requests.
func (h *PaymentHandlers) WithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	var req domain.WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=withdrawal outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	payout, err := h.service.RequestWithdrawal(r.Context(), creatorID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=withdrawal outcome=failed creator_id=%s err=%v", creatorID, err)

		var limit *risk.LimitExceededError
		if errors.As(err, &limit) {
			h.writeError(w, http.StatusForbidden, limit.Error())
			return
		}
		var frozen *store.WalletFrozenError
		if errors.As(err, &frozen) {
			msg := "Wallet is frozen. Contact support."
			if frozen.Reason != "" {
				msg = fmt.Sprintf("Wallet is frozen: %s. Contact support.", frozen.Reason)
			}
			h.writeError(w, http.StatusForbidden, msg)
			return
		}
		switch {
		case errors.Is(err, app.ErrInvalidAmount):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, app.ErrKYCRequired):
			h.writeError(w, http.StatusForbidden, "Complete KYC verification before withdrawing.")
		case errors.Is(err, risk.ErrPayoutsBlocked):
			h.writeError(w, http.StatusForbidden, "Payouts are blocked for this account. Contact support.")
		case errors.Is(err, store.ErrWalletFrozen):
			h.writeError(w, http.StatusForbidden, "Wallet is frozen. Contact support.")
		case errors.Is(err, store.ErrInsufficientFunds):
			h.writeError(w, http.StatusPaymentRequired, "Insufficient available balance.")
		case errors.Is(err, store.ErrWalletNotFound):
			h.writeError(w, http.StatusNotFound, "Wallet not found")
		default:
			h.writeError(w, http.StatusInternalServerError, "Could not request withdrawal")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, payout)
}

// walletResponse pairs the wallet snapshot with its most recent credits.
type walletResponse struct {
	Wallet         *domain.Wallet   `json:"wallet"`
	RecentEarnings []domain.Earning `json:"recent_earnings"`
}

// GetWalletHandler returns the creator's wallet and recent earnings.
func (h *PaymentHandlers) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	wallet, earnings, err := h.service.GetWallet(r.Context(), creatorID)
	if err != nil {
		if errors.Is(err, store.ErrWalletNotFound) {
			h.writeError(w, http.StatusNotFound, "Wallet not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_wallet msg=\"lookup failed\" creator_id=%s err=%v", creatorID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not fetch wallet")
		return
	}

	h.writeJSON(w, http.StatusOK, walletResponse{Wallet: wallet, RecentEarnings: earnings})
}

// GetRiskProfileHandler returns the requester's risk profile, computing it on
// first access.
func (h *PaymentHandlers) GetRiskProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	profile, err := h.service.GetRiskProfile(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=get_risk_profile msg=\"lookup failed\" user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not fetch risk profile")
		return
	}

	h.writeJSON(w, http.StatusOK, profile)
}

type setPlatformFeeRequest struct {
	Percent float64 `json:"percent"`
}

// SetPlatformFeeHandler updates the platform-wide fee percentage. Admin only.
func (h *PaymentHandlers) SetPlatformFeeHandler(w http.ResponseWriter, r *http.Request) {
	var req setPlatformFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if err := h.service.Fees().SetPercent(r.Context(), req.Percent); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Printf("level=info component=api endpoint=set_platform_fee outcome=updated percent=%.2f", req.Percent)
	h.writeJSON(w, http.StatusOK, map[string]float64{"percent": req.Percent})
}

// writeJSON is a helper for writing JSON responses.
func (h *PaymentHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PaymentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
