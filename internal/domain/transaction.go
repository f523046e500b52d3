/**
 * @description
 * This file defines the core domain models for the payment-service. These
 * structs represent the entities used throughout the service's business
 * logic, database interactions, and API layers.
 *
 * @notes
 * - Monetary amounts are float64 currency units because the fee arithmetic
 *   (tier bounds, half-unit rounding, TVA percentages) is defined on decimal
 *   currency. Conversion to integer minor units happens only at the Stripe
 *   boundary.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transaction statuses. Transitions are forward-only: a transaction never
// moves back to pending, and refunded/cancelled are terminal.
const (
	TransactionStatusPending          = "pending"
	TransactionStatusPaid             = "paid"
	TransactionStatusAwaitingTransfer = "awaiting_transfer"
	TransactionStatusRefunded         = "refunded"
	TransactionStatusCancelled        = "cancelled"
)

var allowedTransitions = map[string][]string{
	TransactionStatusPending:          {TransactionStatusPaid, TransactionStatusCancelled},
	TransactionStatusPaid:             {TransactionStatusAwaitingTransfer, TransactionStatusRefunded},
	TransactionStatusAwaitingTransfer: {TransactionStatusPaid, TransactionStatusRefunded},
}

// CanTransition reports whether a transaction status may move from one state
// to another. Setting the same status again is allowed (idempotent replays).
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transaction is the escrow ledger record for one accepted shipping request.
// `Amount` is the total charged to the payer (traveler payment + fee + tax);
// `TravelerPayment` is the portion owed to the payee after the platform's
// cut; `ConvertedAmount` is `OriginalAmount` normalized to USD for Stripe
// processing. Rows are never hard-deleted; refund/cancel are status
// transitions.
type Transaction struct {
	ID                    uuid.UUID `json:"id"`
	PayerID               uuid.UUID `json:"payer_id"`
	PayeeID               uuid.UUID `json:"payee_id"`
	RequestID             uuid.UUID `json:"request_id"`
	Amount                float64   `json:"amount"`
	OriginalAmount        float64   `json:"original_amount"`
	ConvertedAmount       float64   `json:"converted_amount"`
	TravelerPayment       float64   `json:"traveler_payment"`
	Fee                   float64   `json:"fee"`
	TVAAmount             float64   `json:"tva_amount"`
	Status                string    `json:"status"`
	PaymentMethod         string    `json:"payment_method,omitempty"`
	CurrencyCode          string    `json:"currency_code"`
	StripePaymentIntentID *string   `json:"stripe_payment_intent_id,omitempty"`
	StripeTransferID      *string   `json:"stripe_transfer_id,omitempty"`
	FailureReason         *string   `json:"failure_reason,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// CreateTransactionPayload is the DTO for opening an escrow transaction when
// a shipping request is accepted.
type CreateTransactionPayload struct {
	RequestID       uuid.UUID `json:"request_id"`
	Amount          float64   `json:"amount"`
	PaymentMethodID *string   `json:"payment_method_id,omitempty"`
}

// ShippingRequest is the slice of a marketplace request this service needs:
// who pays, who carries, and the agreed cargo weight.
type ShippingRequest struct {
	ID          uuid.UUID  `json:"id"`
	RequesterID uuid.UUID  `json:"requester_id"`
	TravelerID  uuid.UUID  `json:"traveler_id"`
	TravelID    uuid.UUID  `json:"travel_id"`
	DemandID    *uuid.UUID `json:"demand_id,omitempty"`
	Weight      float64    `json:"weight"`
	Status      string     `json:"status"`
}

// Travel is a traveler's posted luggage capacity.
type Travel struct {
	ID           uuid.UUID `json:"id"`
	PricePerKg   float64   `json:"price_per_kg"`
	CurrencyCode string    `json:"currency_code"`
}

// Demand is a requester's posted shipping need.
type Demand struct {
	ID           uuid.UUID `json:"id"`
	CurrencyCode string    `json:"currency_code"`
}

// User is a simplified view of a marketplace user, containing only the
// payment-related fields this service reads and writes.
type User struct {
	ID                  uuid.UUID `json:"id"`
	Email               string    `json:"email"`
	StripeAccountID     *string   `json:"stripe_account_id,omitempty"`
	StripeAccountStatus *string   `json:"stripe_account_status,omitempty"`
	StripeCustomerID    *string   `json:"stripe_customer_id,omitempty"`
}
