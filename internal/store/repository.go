/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the payment-service. By
 * defining an interface, we decouple the application's business logic from
 * the specific database implementation (PostgreSQL), making the code more
 * modular and easier to test.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/gohappygo/payment-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Pricing tier methods
	ListPricingTiers(ctx context.Context) ([]domain.PricingTier, error)
	GetPricingTierByID(ctx context.Context, tierID uuid.UUID) (*domain.PricingTier, error)
	CreatePricingTier(ctx context.Context, tier *domain.PricingTier) error
	UpdatePricingTier(ctx context.Context, tier *domain.PricingTier) error
	DeletePricingTier(ctx context.Context, tierID uuid.UUID) error

	// User and marketplace view methods
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	UpdateUserStripeAccountStatus(ctx context.Context, stripeAccountID, status string) error
	FindShippingRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.ShippingRequest, error)
	FindTravelByID(ctx context.Context, travelID uuid.UUID) (*domain.Travel, error)
	FindDemandByID(ctx context.Context, demandID uuid.UUID) (*domain.Demand, error)

	// Transaction methods. Status mutations are guarded in SQL so stale or
	// backward transitions are no-ops rather than corruption.
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)
	FindTransactionByPaymentIntentID(ctx context.Context, paymentIntentID string) (*domain.Transaction, error)
	MarkTransactionPaid(ctx context.Context, transactionID uuid.UUID) (bool, error)
	MarkTransactionCancelled(ctx context.Context, transactionID uuid.UUID, failureReason string) (bool, error)
	MarkTransactionRefunded(ctx context.Context, transactionID uuid.UUID) (bool, error)
	SetTransactionAwaitingTransfer(ctx context.Context, transactionID uuid.UUID) error
	SetTransactionTransfer(ctx context.Context, transactionID uuid.UUID, stripeTransferID string) (bool, error)

	// Webhook event methods
	RecordWebhookEvent(ctx context.Context, eventID, eventType, payload string) error
	ClaimWebhookEvent(ctx context.Context, eventID string) (bool, error)
	ReleaseWebhookEvent(ctx context.Context, eventID string) error
	ListRecentWebhookEvents(ctx context.Context, limit int) ([]domain.StripeWebhookEvent, error)
}
