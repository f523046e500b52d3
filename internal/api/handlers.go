/**
 * @description
 * This file contains the HTTP handlers for the payment-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application services, and writing the HTTP response. They act as
 * the bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gohappygo/payment-service/internal/app"
	"github.com/gohappygo/payment-service/internal/domain"
	"github.com/gohappygo/payment-service/internal/store"
)

// PaymentHandlers holds the application services that handlers will use.
type PaymentHandlers struct {
	pricing  *app.PricingService
	escrow   *app.EscrowService
	webhooks *app.WebhookProcessor
}

// NewPaymentHandlers creates a new instance of PaymentHandlers.
func NewPaymentHandlers(pricing *app.PricingService, escrow *app.EscrowService, webhooks *app.WebhookProcessor) *PaymentHandlers {
	return &PaymentHandlers{pricing: pricing, escrow: escrow, webhooks: webhooks}
}

// transactionResponse is sent back to the client after transaction operations.
type transactionResponse struct {
	TransactionID   string  `json:"transaction_id"`
	RequestID       string  `json:"request_id"`
	Status          string  `json:"status"`
	Amount          float64 `json:"amount"`
	TravelerPayment float64 `json:"traveler_payment"`
	Fee             float64 `json:"fee"`
	TVAAmount       float64 `json:"tva_amount"`
	CurrencyCode    string  `json:"currency_code"`
	TransferID      *string `json:"transfer_id,omitempty"`
	FailureReason   *string `json:"failure_reason,omitempty"`
}

func buildTransactionResponse(tx *domain.Transaction) transactionResponse {
	return transactionResponse{
		TransactionID:   tx.ID.String(),
		RequestID:       tx.RequestID.String(),
		Status:          tx.Status,
		Amount:          tx.Amount,
		TravelerPayment: tx.TravelerPayment,
		Fee:             tx.Fee,
		TVAAmount:       tx.TVAAmount,
		CurrencyCode:    tx.CurrencyCode,
		TransferID:      tx.StripeTransferID,
		FailureReason:   tx.FailureReason,
	}
}

// QuoteHandler returns the fee breakdown for a traveler-payment amount.
// GET /quote?amount=24.00
func (h *PaymentHandlers) QuoteHandler(w http.ResponseWriter, r *http.Request) {
	amountStr := r.URL.Query().Get("amount")
	amount, err := strconv.ParseFloat(amountStr, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid amount")
		return
	}

	breakdown, err := h.pricing.CalculateTotalAmount(r.Context(), amount)
	if err != nil {
		if errors.Is(err, app.ErrTierGap) {
			h.writeError(w, http.StatusUnprocessableEntity, "No pricing tier covers this amount")
			return
		}
		log.Printf("level=error component=api msg=\"quote failed\" amount=%v err=%v", amount, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, breakdown)
}

// ListTiersHandler returns the configured pricing tier table.
func (h *PaymentHandlers) ListTiersHandler(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.pricing.ListTiers(r.Context())
	if err != nil {
		log.Printf("level=error component=api msg=\"failed to list tiers\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, tiers)
}

// CreateTierHandler creates a pricing tier. Operator role required.
func (h *PaymentHandlers) CreateTierHandler(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var payload domain.PricingTierPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tier, err := h.pricing.CreateTier(r.Context(), payload)
	if err != nil {
		h.writeTierError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tier)
}

// UpdateTierHandler updates a pricing tier. Operator role required.
func (h *PaymentHandlers) UpdateTierHandler(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	tierID, err := uuid.Parse(chi.URLParam(r, "tierID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid tier ID format")
		return
	}

	var payload domain.PricingTierPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tier, err := h.pricing.UpdateTier(r.Context(), tierID, payload)
	if err != nil {
		h.writeTierError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tier)
}

// DeleteTierHandler removes a pricing tier. Operator role required.
func (h *PaymentHandlers) DeleteTierHandler(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	tierID, err := uuid.Parse(chi.URLParam(r, "tierID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid tier ID format")
		return
	}

	if err := h.pricing.DeleteTier(r.Context(), tierID); err != nil {
		h.writeTierError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateTransactionHandler opens an escrow transaction for an accepted
// shipping request.
func (h *PaymentHandlers) CreateTransactionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := AuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var payload domain.CreateTransactionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if payload.RequestID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "request_id is required")
		return
	}

	tx, err := h.escrow.CreateTransactionFromRequest(r.Context(), userID, payload)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrNotTransactionPayer):
			h.writeError(w, http.StatusForbidden, "Only the requester may open this transaction")
		case errors.Is(err, store.ErrRequestNotFound):
			h.writeError(w, http.StatusNotFound, "Shipping request not found")
		case errors.Is(err, store.ErrTravelNotFound):
			h.writeError(w, http.StatusNotFound, "Travel not found")
		case errors.Is(err, app.ErrTierGap):
			h.writeError(w, http.StatusUnprocessableEntity, "No pricing tier covers this amount")
		default:
			log.Printf("level=error component=api msg=\"transaction creation failed\" user_id=%s err=%v", userID, err)
			h.writeError(w, http.StatusInternalServerError, "Unable to create transaction")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, buildTransactionResponse(tx))
}

// GetTransactionHandler returns one transaction visible to the caller.
func (h *PaymentHandlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := AuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	transactionID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction ID format")
		return
	}

	tx, err := h.escrow.GetTransaction(r.Context(), userID, transactionID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTransactionNotFound):
			h.writeError(w, http.StatusNotFound, "Transaction not found")
		case errors.Is(err, app.ErrNotTransactionPayer):
			h.writeError(w, http.StatusForbidden, "Not a party to this transaction")
		default:
			log.Printf("level=error component=api msg=\"transaction lookup failed\" transaction_id=%s err=%v", transactionID, err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, buildTransactionResponse(tx))
}

// ReleaseFundsHandler releases the traveler's share of a settled transaction
// to their connected account.
func (h *PaymentHandlers) ReleaseFundsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := AuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	transactionID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction ID format")
		return
	}

	tx, err := h.escrow.ReleaseFunds(r.Context(), userID, transactionID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTransactionNotFound):
			h.writeError(w, http.StatusNotFound, "Transaction not found")
		case errors.Is(err, app.ErrNotTransactionPayer):
			h.writeError(w, http.StatusForbidden, "Only the payer may release funds")
		case errors.Is(err, app.ErrInvalidTransactionStatus):
			h.writeError(w, http.StatusConflict, "Transaction is not in a releasable state")
		case errors.Is(err, app.ErrPayeeNotPayable):
			h.writeError(w, http.StatusPreconditionFailed, "Payee cannot receive transfers yet; release will be retried after onboarding")
		default:
			log.Printf("level=error component=api msg=\"fund release failed\" transaction_id=%s err=%v", transactionID, err)
			h.writeError(w, http.StatusInternalServerError, "Unable to release funds")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, buildTransactionResponse(tx))
}

// ListWebhookEventsHandler returns recent provider webhook deliveries for
// operator inspection. Operator role required.
func (h *PaymentHandlers) ListWebhookEventsHandler(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	events, err := h.webhooks.RecentEvents(r.Context(), limit)
	if err != nil {
		log.Printf("level=error component=api msg=\"failed to list webhook events\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, events)
}

func (h *PaymentHandlers) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if AuthRole(r.Context()) != "admin" {
		h.writeError(w, http.StatusForbidden, "Operator access required")
		return false
	}
	return true
}

func (h *PaymentHandlers) writeTierError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrTierNotFound):
		h.writeError(w, http.StatusNotFound, "Pricing tier not found")
	case errors.Is(err, app.ErrInvalidTierBounds), errors.Is(err, app.ErrTierOverlap):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.Printf("level=error component=api msg=\"tier operation failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *PaymentHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("level=error component=api msg=\"failed to encode response\" err=%v", err)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PaymentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
