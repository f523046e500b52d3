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
func PaymentRoutes(h *PaymentHandlers, webhook *WebhookHandler, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Provider webhooks authenticate with a signature, not a bearer token.
	r.Post("/webhooks/stripe", webhook.ServeHTTP)

	// Public pricing lookups.
	r.Get("/pricing/quote", h.QuoteHandler)
	r.Get("/pricing/tiers", h.ListTiersHandler)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		// Tier administration (operator role enforced in the handlers).
		r.Post("/pricing/tiers", h.CreateTierHandler)
		r.Put("/pricing/tiers/{tierID}", h.UpdateTierHandler)
		r.Delete("/pricing/tiers/{tierID}", h.DeleteTierHandler)

		// Webhook delivery audit (operator role enforced in the handler).
		r.Get("/webhooks/stripe/events", h.ListWebhookEventsHandler)

		// Escrow transactions.
		r.Post("/transactions", h.CreateTransactionHandler)
		r.Get("/transactions/{transactionID}", h.GetTransactionHandler)
		r.Post("/transactions/{transactionID}/release", h.ReleaseFundsHandler)
	})

	return r
}
