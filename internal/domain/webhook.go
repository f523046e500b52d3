/**
 * @description
 * Persistence model for Stripe webhook events. Each event is stored once,
 * keyed by Stripe's event id, and carries a processed marker used for
 * idempotent handling: a redelivered event whose row is already processed is
 * a no-op.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// StripeWebhookEvent records one webhook delivery from Stripe.
type StripeWebhookEvent struct {
	ID          uuid.UUID  `json:"id"`
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	Processed   bool       `json:"processed"`
	Payload     string     `json:"payload"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}
