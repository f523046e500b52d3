/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL needed to interact with the tables
 * owned or read by the payment-service: pricing tiers, transactions,
 * webhook events, plus read-only views of users, requests, travels and
 * demands.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/gohappygo/payment-service/internal/domain"
)

var (
	ErrTierNotFound        = errors.New("pricing tier not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrRequestNotFound     = errors.New("shipping request not found")
	ErrTravelNotFound      = errors.New("travel not found")
	ErrDemandNotFound      = errors.New("demand not found")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// PostgresRepository is a concrete implementation of the Repository
// interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// --- Pricing tiers ---

// ListPricingTiers returns all tiers ordered by lower bound ascending, the
// order the fee resolver scans them in.
func (r *PostgresRepository) ListPricingTiers(ctx context.Context) ([]domain.PricingTier, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, lower_bound, upper_bound, fee, created_at, updated_at
		FROM pricing_tiers
		ORDER BY lower_bound ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pricing tiers: %w", err)
	}
	defer rows.Close()

	var tiers []domain.PricingTier
	for rows.Next() {
		var t domain.PricingTier
		if err := rows.Scan(&t.ID, &t.LowerBound, &t.UpperBound, &t.Fee, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pricing tier: %w", err)
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

func (r *PostgresRepository) GetPricingTierByID(ctx context.Context, tierID uuid.UUID) (*domain.PricingTier, error) {
	var t domain.PricingTier
	err := r.db.QueryRow(ctx, `
		SELECT id, lower_bound, upper_bound, fee, created_at, updated_at
		FROM pricing_tiers WHERE id = $1`, tierID).
		Scan(&t.ID, &t.LowerBound, &t.UpperBound, &t.Fee, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTierNotFound
		}
		return nil, fmt.Errorf("failed to get pricing tier: %w", err)
	}
	return &t, nil
}

func (r *PostgresRepository) CreatePricingTier(ctx context.Context, tier *domain.PricingTier) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO pricing_tiers (id, lower_bound, upper_bound, fee, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING created_at, updated_at`,
		tier.ID, tier.LowerBound, tier.UpperBound, tier.Fee).
		Scan(&tier.CreatedAt, &tier.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create pricing tier: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdatePricingTier(ctx context.Context, tier *domain.PricingTier) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE pricing_tiers
		SET lower_bound = $2, upper_bound = $3, fee = $4, updated_at = NOW()
		WHERE id = $1`,
		tier.ID, tier.LowerBound, tier.UpperBound, tier.Fee)
	if err != nil {
		return fmt.Errorf("failed to update pricing tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTierNotFound
	}
	return nil
}

func (r *PostgresRepository) DeletePricingTier(ctx context.Context, tierID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM pricing_tiers WHERE id = $1", tierID)
	if err != nil {
		return fmt.Errorf("failed to delete pricing tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTierNotFound
	}
	return nil
}

// --- Users and marketplace views ---

func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := r.db.QueryRow(ctx, `
		SELECT id, email, stripe_account_id, stripe_account_status, stripe_customer_id
		FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.Email, &u.StripeAccountID, &u.StripeAccountStatus, &u.StripeCustomerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &u, nil
}

// UpdateUserStripeAccountStatus resyncs the cached connected-account status
// onto the user record, keyed by the Stripe account id carried in the
// account.updated webhook.
func (r *PostgresRepository) UpdateUserStripeAccountStatus(ctx context.Context, stripeAccountID, status string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET stripe_account_status = $2, updated_at = NOW()
		WHERE stripe_account_id = $1`, stripeAccountID, status)
	if err != nil {
		return fmt.Errorf("failed to update stripe account status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PostgresRepository) FindShippingRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.ShippingRequest, error) {
	var req domain.ShippingRequest
	err := r.db.QueryRow(ctx, `
		SELECT id, requester_id, traveler_id, travel_id, demand_id, weight, status
		FROM requests WHERE id = $1`, requestID).
		Scan(&req.ID, &req.RequesterID, &req.TravelerID, &req.TravelID, &req.DemandID, &req.Weight, &req.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to find shipping request: %w", err)
	}
	return &req, nil
}

func (r *PostgresRepository) FindTravelByID(ctx context.Context, travelID uuid.UUID) (*domain.Travel, error) {
	var t domain.Travel
	err := r.db.QueryRow(ctx, `
		SELECT id, price_per_kg, currency_code FROM travels WHERE id = $1`, travelID).
		Scan(&t.ID, &t.PricePerKg, &t.CurrencyCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTravelNotFound
		}
		return nil, fmt.Errorf("failed to find travel: %w", err)
	}
	return &t, nil
}

func (r *PostgresRepository) FindDemandByID(ctx context.Context, demandID uuid.UUID) (*domain.Demand, error) {
	var d domain.Demand
	err := r.db.QueryRow(ctx, `
		SELECT id, currency_code FROM demands WHERE id = $1`, demandID).
		Scan(&d.ID, &d.CurrencyCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDemandNotFound
		}
		return nil, fmt.Errorf("failed to find demand: %w", err)
	}
	return &d, nil
}

// --- Transactions ---

func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO transactions (
			id, payer_id, payee_id, request_id,
			amount, original_amount, converted_amount, traveler_payment,
			fee, tva_amount, status, payment_method, currency_code,
			stripe_payment_intent_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		RETURNING created_at, updated_at`,
		tx.ID, tx.PayerID, tx.PayeeID, tx.RequestID,
		tx.Amount, tx.OriginalAmount, tx.ConvertedAmount, tx.TravelerPayment,
		tx.Fee, tx.TVAAmount, tx.Status, tx.PaymentMethod, tx.CurrencyCode,
		tx.StripePaymentIntentID).
		Scan(&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

const transactionColumns = `
	id, payer_id, payee_id, request_id,
	amount, original_amount, converted_amount, traveler_payment,
	fee, tva_amount, status, payment_method, currency_code,
	stripe_payment_intent_id, stripe_transfer_id, failure_reason,
	created_at, updated_at`

func (r *PostgresRepository) scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(
		&tx.ID, &tx.PayerID, &tx.PayeeID, &tx.RequestID,
		&tx.Amount, &tx.OriginalAmount, &tx.ConvertedAmount, &tx.TravelerPayment,
		&tx.Fee, &tx.TVAAmount, &tx.Status, &tx.PaymentMethod, &tx.CurrencyCode,
		&tx.StripePaymentIntentID, &tx.StripeTransferID, &tx.FailureReason,
		&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	return &tx, nil
}

func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = $1", transactionID)
	return r.scanTransaction(row)
}

func (r *PostgresRepository) FindTransactionByPaymentIntentID(ctx context.Context, paymentIntentID string) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE stripe_payment_intent_id = $1", paymentIntentID)
	return r.scanTransaction(row)
}

// MarkTransactionPaid moves a pending transaction to paid. Returns false when
// no row was in a state that allows the transition (stale webhook replay).
func (r *PostgresRepository) MarkTransactionPaid(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		transactionID, domain.TransactionStatusPaid, domain.TransactionStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark transaction paid: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) MarkTransactionCancelled(ctx context.Context, transactionID uuid.UUID, failureReason string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions SET status = $2, failure_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4`,
		transactionID, domain.TransactionStatusCancelled, failureReason, domain.TransactionStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark transaction cancelled: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) MarkTransactionRefunded(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)`,
		transactionID, domain.TransactionStatusRefunded,
		[]string{domain.TransactionStatusPaid, domain.TransactionStatusAwaitingTransfer})
	if err != nil {
		return false, fmt.Errorf("failed to mark transaction refunded: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) SetTransactionAwaitingTransfer(ctx context.Context, transactionID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE transactions SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		transactionID, domain.TransactionStatusAwaitingTransfer, domain.TransactionStatusPaid)
	if err != nil {
		return fmt.Errorf("failed to mark transaction awaiting transfer: %w", err)
	}
	return nil
}

// SetTransactionTransfer records the released transfer and settles the row
// back to paid (covers the awaiting_transfer retry path).
func (r *PostgresRepository) SetTransactionTransfer(ctx context.Context, transactionID uuid.UUID, stripeTransferID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions SET stripe_transfer_id = $2, status = $3, updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)`,
		transactionID, stripeTransferID, domain.TransactionStatusPaid,
		[]string{domain.TransactionStatusPaid, domain.TransactionStatusAwaitingTransfer})
	if err != nil {
		return false, fmt.Errorf("failed to set transaction transfer: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// --- Webhook events ---

// RecordWebhookEvent inserts the event row once; redeliveries hit the unique
// event_id constraint and are ignored.
func (r *PostgresRepository) RecordWebhookEvent(ctx context.Context, eventID, eventType, payload string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO stripe_webhook_events (id, event_id, event_type, processed, payload, created_at)
		VALUES ($1, $2, $3, false, $4, NOW())
		ON CONFLICT (event_id) DO NOTHING`,
		uuid.New(), eventID, eventType, payload)
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

// ClaimWebhookEvent atomically flips processed to true. Exactly one of any
// set of concurrent deliveries of the same event observes true; the rest see
// false and skip handling.
func (r *PostgresRepository) ClaimWebhookEvent(ctx context.Context, eventID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE stripe_webhook_events SET processed = true, processed_at = NOW()
		WHERE event_id = $1 AND processed = false`, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to claim webhook event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseWebhookEvent resets the processed marker after a failed handler so
// Stripe's redelivery can retry the event.
func (r *PostgresRepository) ReleaseWebhookEvent(ctx context.Context, eventID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE stripe_webhook_events SET processed = false, processed_at = NULL
		WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("failed to release webhook event: %w", err)
	}
	return nil
}

// ListRecentWebhookEvents returns the newest webhook deliveries, payload
// included, for operator inspection.
func (r *PostgresRepository) ListRecentWebhookEvents(ctx context.Context, limit int) ([]domain.StripeWebhookEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, event_id, event_type, processed, payload, created_at, processed_at
		FROM stripe_webhook_events
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	defer rows.Close()

	var events []domain.StripeWebhookEvent
	for rows.Next() {
		var event domain.StripeWebhookEvent
		if err := rows.Scan(&event.ID, &event.EventID, &event.EventType, &event.Processed, &event.Payload, &event.CreatedAt, &event.ProcessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
