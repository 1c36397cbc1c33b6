/**
 * @description
 * This file contains the HTTP handler functions for the subscription-service.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate business logic in the service layer, and writing the HTTP
 * response. Error mapping follows the domain taxonomy: validation failures
 * are 400s, transition/race conflicts are 409s, unresolved references 404s.
 */
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/homevia/subscription-service/internal/app"
	"github.com/homevia/subscription-service/internal/domain"
)

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service *app.Service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service *app.Service) *Handler {
	return &Handler{service: service}
}

// handleCreateSubscription starts a checkout: it creates a subscription in
// the pending state for the authenticated user.
func (h *Handler) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		PlanID        string               `json:"plan_id"`
		Amount        int64                `json:"amount"`
		Currency      domain.Currency      `json:"currency"`
		PaymentMethod domain.PaymentMethod `json:"payment_method"`
		AutoRenew     bool                 `json:"auto_renew"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sub, err := h.service.CreatePending(r.Context(), app.CreatePendingParams{
		UserID:        userID,
		PlanID:        req.PlanID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		PaymentMethod: req.PaymentMethod,
		AutoRenew:     req.AutoRenew,
	})
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, sub)
}

// handleActivate is called by the payment webhook processor once a payment
// has been verified. It is internal-only; the transaction reference arrives
// already validated.
func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionRef string `json:"transaction_ref"`
		OrderRef       string `json:"order_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sub, err := h.service.Activate(r.Context(), chi.URLParam(r, "id"), req.TransactionRef, req.OrderRef)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sub)
}

// handleRenew extends a subscription's period after a verified renewal or
// upgrade payment. Internal-only, like activation.
func (h *Handler) handleRenew(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewEndDate     time.Time `json:"new_end_date"`
		TransactionRef string    `json:"transaction_ref"`
		Amount         int64     `json:"amount"`
		NewPlanID      string    `json:"new_plan_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sub, err := h.service.Renew(r.Context(), chi.URLParam(r, "id"), app.RenewParams{
		NewEndDate:     req.NewEndDate,
		TransactionRef: req.TransactionRef,
		Amount:         req.Amount,
		NewPlanID:      req.NewPlanID,
	})
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sub)
}

// handleCancel cancels the caller's subscription.
func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	// An empty body is fine; cancellation does not require a reason.
	_ = json.NewDecoder(r.Body).Decode(&req)

	sub := h.fetchOwned(w, r, userID)
	if sub == nil {
		return
	}
	cancelled, err := h.service.Cancel(r.Context(), sub.ID, req.Reason)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, cancelled)
}

// handleAttachAddon purchases an add-on onto the caller's subscription.
func (h *Handler) handleAttachAddon(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		AddonID            string `json:"addon_id"`
		BillingCycleMonths int    `json:"billing_cycle_months"`
		Amount             int64  `json:"amount"`
		PaymentRef         string `json:"payment_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sub := h.fetchOwned(w, r, userID)
	if sub == nil {
		return
	}
	updated, err := h.service.AttachAddon(r.Context(), sub.ID, req.AddonID, req.BillingCycleMonths, req.Amount, req.PaymentRef)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

// handleCurrentSubscription returns a summary of the caller's newest
// subscription.
func (h *Handler) handleCurrentSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	view, err := h.service.CurrentSubscription(r.Context(), userID)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

// handleEntitlements returns the caller's resolved entitlement set. This is
// the endpoint feature-gated flows (property posting, dashboard) consult.
func (h *Handler) handleEntitlements(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	respondWithJSON(w, http.StatusOK, h.service.Entitlements(r.Context(), userID))
}

// handlePaymentHistory returns the append-only ledger for one of the caller's
// subscriptions.
func (h *Handler) handlePaymentHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sub := h.fetchOwned(w, r, userID)
	if sub == nil {
		return
	}
	respondWithJSON(w, http.StatusOK, sub.PaymentHistory)
}

// fetchOwned loads the subscription in the URL and verifies the caller owns
// it. A nil return means the error response has already been written.
func (h *Handler) fetchOwned(w http.ResponseWriter, r *http.Request, userID string) *domain.Subscription {
	sub, err := h.service.Subscription(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, err)
		return nil
	}
	if sub.UserID != userID {
		// Do not leak other users' subscription ids.
		http.Error(w, "Not found", http.StatusNotFound)
		return nil
	}
	return sub
}

func respondWithError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case domain.IsInvalidTransition(err), errors.Is(err, domain.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrSubscriptionNotFound),
		errors.Is(err, domain.ErrPlanNotFound),
		errors.Is(err, domain.ErrAddonNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// respondWithJSON is a helper function to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
