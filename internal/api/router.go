/**
 * @description
 * This file sets up the HTTP router for the payment-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// PaymentRoutes creates and returns a new router for the payment service.
// Webhook delivery sits outside the auth group: providers sign their payloads
// instead of carrying bearer tokens.
func PaymentRoutes(h *PaymentHandlers, jwksURL, adminAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Provider webhooks are verified by signature, not bearer token.
	r.Post("/payments/webhooks/{provider}", h.WebhookHandler)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		r.Post("/payments", h.StartPaymentHandler)
		r.Get("/payments/{id}", h.GetPaymentHandler)
		r.Post("/payments/{id}/cancel", h.CancelPaymentHandler)

		r.Post("/withdrawals", h.WithdrawalHandler)
		r.Get("/wallet", h.GetWalletHandler)
		r.Get("/risk/profile", h.GetRiskProfileHandler)
	})

	// Operator surface, gated by a static API key.
	r.Group(func(r chi.Router) {
		r.Use(AdminKeyMiddleware(adminAPIKey))

		r.Put("/admin/platform-fee", h.SetPlatformFeeHandler)
	})

	return r
}
