/**
 * @description
 * This file sets up the HTTP router for the subscription-service using the
 * go-chi/chi router. It defines the API routes, applies middleware for
 * logging, CORS, and authentication, and maps the routes to their
 * corresponding handler functions. Activation and renewal live behind the
 * internal shared key because they are driven by the payment webhook
 * processor, never by vendors directly.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the subscription-service routes.
func NewRouter(h *Handler, jwtSecret, internalAPIKey string) *chi.Mux {
	r := chi.NewRouter()

	// Setup middleware
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
		w.Write([]byte("Subscription service is healthy"))
	})

	// Vendor-facing routes that require authentication
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		r.Post("/subscriptions", h.handleCreateSubscription)
		r.Get("/subscriptions/current", h.handleCurrentSubscription)
		r.Get("/entitlements", h.handleEntitlements)
		r.Post("/subscriptions/{id}/cancel", h.handleCancel)
		r.Post("/subscriptions/{id}/addons", h.handleAttachAddon)
		r.Get("/subscriptions/{id}/payments", h.handlePaymentHistory)
	})

	// Internal routes driven by the payment webhook processor
	r.Group(func(r chi.Router) {
		r.Use(InternalKeyMiddleware(internalAPIKey))

		r.Post("/internal/subscriptions/{id}/activate", h.handleActivate)
		r.Post("/internal/subscriptions/{id}/renew", h.handleRenew)
	})

	return r
}
