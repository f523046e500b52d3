/**
 * @description
 * Stripe webhook processing. Events drive the escrow ledger: a transaction
 * only becomes paid, cancelled, or refunded when the provider says so. Each
 * event is recorded and claimed exactly once before its handler runs, so
 * provider retries and concurrent deliveries cannot double-apply.
 *
 * @notes
 * - A handler failure releases the claim so the provider's retry can
 *   reprocess; unknown event types are acknowledged and kept claimed.
 */
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gohappygo/payment-service/internal/domain"
	"github.com/gohappygo/payment-service/pkg/rabbitmq"
	"github.com/gohappygo/payment-service/pkg/stripeclient"
)

// WebhookRepository is the slice of the store the webhook processor needs.
type WebhookRepository interface {
	RecordWebhookEvent(ctx context.Context, eventID, eventType, payload string) error
	ClaimWebhookEvent(ctx context.Context, eventID string) (bool, error)
	ReleaseWebhookEvent(ctx context.Context, eventID string) error
	FindTransactionByPaymentIntentID(ctx context.Context, paymentIntentID string) (*domain.Transaction, error)
	MarkTransactionPaid(ctx context.Context, transactionID uuid.UUID) (bool, error)
	MarkTransactionCancelled(ctx context.Context, transactionID uuid.UUID, failureReason string) (bool, error)
	MarkTransactionRefunded(ctx context.Context, transactionID uuid.UUID) (bool, error)
	SetTransactionTransfer(ctx context.Context, transactionID uuid.UUID, stripeTransferID string) (bool, error)
	UpdateUserStripeAccountStatus(ctx context.Context, stripeAccountID, status string) error
	ListRecentWebhookEvents(ctx context.Context, limit int) ([]domain.StripeWebhookEvent, error)
}

// WebhookProcessor applies provider events to the escrow ledger.
type WebhookProcessor struct {
	repo     WebhookRepository
	producer rabbitmq.Publisher
	exchange string
}

// NewWebhookProcessor creates a webhook processor.
func NewWebhookProcessor(repo WebhookRepository, producer rabbitmq.Publisher, exchange string) *WebhookProcessor {
	return &WebhookProcessor{repo: repo, producer: producer, exchange: exchange}
}

// Event payload shapes. Only the fields the handlers read are decoded.

type webhookPaymentIntent struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"last_payment_error"`
}

type webhookTransfer struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
	Reversed bool              `json:"reversed"`
}

type webhookAccount struct {
	ID             string `json:"id"`
	ChargesEnabled bool   `json:"charges_enabled"`
	PayoutsEnabled bool   `json:"payouts_enabled"`
	Capabilities   struct {
		Transfers string `json:"transfers"`
	} `json:"capabilities"`
}

// ProcessEvent records, claims, and dispatches one webhook event. Redelivered
// or concurrently delivered copies of an already-processed event return nil
// without touching the ledger. A handler error releases the claim so the
// provider's retry gets another attempt.
func (p *WebhookProcessor) ProcessEvent(ctx context.Context, event stripeclient.Event) error {
	if err := p.repo.RecordWebhookEvent(ctx, event.ID, event.Type, string(event.Raw)); err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}

	claimed, err := p.repo.ClaimWebhookEvent(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("failed to claim webhook event: %w", err)
	}
	if !claimed {
		log.Printf("level=info component=webhook_processor msg=\"skipping already-processed event\" event_id=%s type=%s", event.ID, event.Type)
		return nil
	}

	if err := p.dispatch(ctx, event); err != nil {
		if releaseErr := p.repo.ReleaseWebhookEvent(ctx, event.ID); releaseErr != nil {
			log.Printf("level=error component=webhook_processor msg=\"failed to release claim after handler error\" event_id=%s err=%v", event.ID, releaseErr)
		}
		return err
	}

	return nil
}

// RecentEvents returns the newest webhook deliveries for operator
// inspection. limit is clamped to a sane page size.
func (p *WebhookProcessor) RecentEvents(ctx context.Context, limit int) ([]domain.StripeWebhookEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return p.repo.ListRecentWebhookEvents(ctx, limit)
}

func (p *WebhookProcessor) dispatch(ctx context.Context, event stripeclient.Event) error {
	switch event.Type {
	case "payment_intent.succeeded":
		return p.handlePaymentSucceeded(ctx, event)
	case "payment_intent.payment_failed":
		return p.handlePaymentFailed(ctx, event)
	case "transfer.created", "transfer.updated":
		return p.handleTransferUpdated(ctx, event)
	case "transfer.reversed":
		return p.handleTransferReversed(ctx, event)
	case "account.updated":
		return p.handleAccountUpdated(ctx, event)
	default:
		log.Printf("level=info component=webhook_processor msg=\"ignoring unhandled event type\" event_id=%s type=%s", event.ID, event.Type)
		return nil
	}
}

func (p *WebhookProcessor) handlePaymentSucceeded(ctx context.Context, event stripeclient.Event) error {
	var intent webhookPaymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return fmt.Errorf("failed to decode payment intent payload: %w", err)
	}

	tx, err := p.repo.FindTransactionByPaymentIntentID(ctx, intent.ID)
	if err != nil {
		return fmt.Errorf("no transaction for payment intent %s: %w", intent.ID, err)
	}

	updated, err := p.repo.MarkTransactionPaid(ctx, tx.ID)
	if err != nil {
		return err
	}
	if !updated {
		// The row already left pending (replay or a racing delivery).
		log.Printf("level=info component=webhook_processor msg=\"transaction already past pending\" transaction_id=%s status=%s", tx.ID, tx.Status)
		return nil
	}

	log.Printf("level=info component=webhook_processor msg=\"transaction marked paid\" transaction_id=%s intent_id=%s", tx.ID, intent.ID)
	tx.Status = domain.TransactionStatusPaid
	p.publishTransactionEvent(ctx, tx)
	return nil
}

func (p *WebhookProcessor) handlePaymentFailed(ctx context.Context, event stripeclient.Event) error {
	var intent webhookPaymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return fmt.Errorf("failed to decode payment intent payload: %w", err)
	}

	tx, err := p.repo.FindTransactionByPaymentIntentID(ctx, intent.ID)
	if err != nil {
		return fmt.Errorf("no transaction for payment intent %s: %w", intent.ID, err)
	}

	reason := "payment failed"
	if intent.LastPaymentError != nil && intent.LastPaymentError.Message != "" {
		reason = intent.LastPaymentError.Message
	}

	updated, err := p.repo.MarkTransactionCancelled(ctx, tx.ID, reason)
	if err != nil {
		return err
	}
	if !updated {
		log.Printf("level=info component=webhook_processor msg=\"transaction already past pending, not cancelling\" transaction_id=%s status=%s", tx.ID, tx.Status)
		return nil
	}

	log.Printf("level=warn component=webhook_processor msg=\"transaction cancelled after payment failure\" transaction_id=%s reason=%q", tx.ID, reason)
	tx.Status = domain.TransactionStatusCancelled
	p.publishTransactionEvent(ctx, tx)
	return nil
}

// handleTransferUpdated backfills the transfer id on the transaction in case
// the release call recorded the transfer at the provider but failed to
// persist it locally.
func (p *WebhookProcessor) handleTransferUpdated(ctx context.Context, event stripeclient.Event) error {
	var transfer webhookTransfer
	if err := json.Unmarshal(event.Data.Object, &transfer); err != nil {
		return fmt.Errorf("failed to decode transfer payload: %w", err)
	}

	transactionID, err := uuid.Parse(transfer.Metadata["transaction_id"])
	if err != nil {
		log.Printf("level=info component=webhook_processor msg=\"transfer event without transaction metadata\" event_type=%s transfer_id=%s", event.Type, transfer.ID)
		return nil
	}

	updated, err := p.repo.SetTransactionTransfer(ctx, transactionID, transfer.ID)
	if err != nil {
		return err
	}
	log.Printf("level=info component=webhook_processor msg=\"transfer event\" event_type=%s transfer_id=%s transaction_id=%s backfilled=%t",
		event.Type, transfer.ID, transactionID, updated)
	return nil
}

func (p *WebhookProcessor) handleTransferReversed(ctx context.Context, event stripeclient.Event) error {
	var transfer webhookTransfer
	if err := json.Unmarshal(event.Data.Object, &transfer); err != nil {
		return fmt.Errorf("failed to decode transfer payload: %w", err)
	}

	transactionID, err := uuid.Parse(transfer.Metadata["transaction_id"])
	if err != nil {
		return fmt.Errorf("transfer %s carries no usable transaction_id metadata: %w", transfer.ID, err)
	}

	updated, err := p.repo.MarkTransactionRefunded(ctx, transactionID)
	if err != nil {
		return err
	}
	if !updated {
		log.Printf("level=info component=webhook_processor msg=\"transaction not in a refundable state\" transaction_id=%s", transactionID)
		return nil
	}

	log.Printf("level=warn component=webhook_processor msg=\"transaction refunded after transfer reversal\" transaction_id=%s transfer_id=%s", transactionID, transfer.ID)
	p.publishTransactionEvent(ctx, &domain.Transaction{ID: transactionID, Status: domain.TransactionStatusRefunded})
	return nil
}

func (p *WebhookProcessor) handleAccountUpdated(ctx context.Context, event stripeclient.Event) error {
	var account webhookAccount
	if err := json.Unmarshal(event.Data.Object, &account); err != nil {
		return fmt.Errorf("failed to decode account payload: %w", err)
	}

	status := "pending"
	switch {
	case account.Capabilities.Transfers == "active" && account.PayoutsEnabled:
		status = "active"
	case !account.ChargesEnabled && !account.PayoutsEnabled:
		status = "restricted"
	}

	if err := p.repo.UpdateUserStripeAccountStatus(ctx, account.ID, status); err != nil {
		return err
	}

	log.Printf("level=info component=webhook_processor msg=\"connected account status synced\" account_id=%s status=%s", account.ID, status)

	if p.producer != nil {
		payload := rabbitmq.AccountStatusEvent{
			StripeAccountID: account.ID,
			Status:          status,
			Timestamp:       time.Now().UTC(),
		}
		if err := p.producer.Publish(ctx, p.exchange, routingKeyAccountStatus, payload); err != nil {
			log.Printf("level=error component=webhook_processor msg=\"failed to publish account status event\" account_id=%s err=%v", account.ID, err)
		}
	}
	return nil
}

func (p *WebhookProcessor) publishTransactionEvent(ctx context.Context, tx *domain.Transaction) {
	if p.producer == nil {
		return
	}
	event := rabbitmq.TransactionEvent{
		TransactionID: tx.ID,
		RequestID:     tx.RequestID,
		Status:        tx.Status,
		Amount:        tx.Amount,
		CurrencyCode:  tx.CurrencyCode,
		Timestamp:     time.Now().UTC(),
	}
	if err := p.producer.Publish(ctx, p.exchange, routingKeyTransactionStatus, event); err != nil {
		log.Printf("level=error component=webhook_processor msg=\"failed to publish transaction event\" transaction_id=%s err=%v", tx.ID, err)
	}
}
