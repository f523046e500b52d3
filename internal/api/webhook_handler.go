/**
 * @description
 * HTTP endpoint for Stripe webhook deliveries. The handler verifies the
 * Stripe-Signature header against the raw request body before handing the
 * event to the processor; the response code tells the provider whether to
 * retry.
 */

package api

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gohappygo/payment-service/pkg/stripeclient"
)

// maxWebhookBodyBytes bounds the webhook payload size, matching the
// provider's documented maximum.
const maxWebhookBodyBytes = 65536

// EventProcessor applies a verified webhook event to the ledger.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, event stripeclient.Event) error
}

// WebhookHandler verifies and dispatches provider webhook deliveries.
type WebhookHandler struct {
	processor EventProcessor
	secret    string
	tolerance time.Duration
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(processor EventProcessor, secret string, tolerance time.Duration) *WebhookHandler {
	return &WebhookHandler{processor: processor, secret: secret, tolerance: tolerance}
}

// ServeHTTP handles POST /webhooks/stripe. A bad signature is a 400 and will
// not be retried; a processing failure is a 500 so the provider redelivers.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	event, err := stripeclient.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.secret, h.tolerance)
	if err != nil {
		if errors.Is(err, stripeclient.ErrInvalidSignature) || errors.Is(err, stripeclient.ErrTimestampTooOld) {
			log.Printf("level=warn component=webhook_handler msg=\"rejected webhook delivery\" err=%v", err)
			http.Error(w, "Invalid signature", http.StatusBadRequest)
			return
		}
		http.Error(w, "Malformed webhook payload", http.StatusBadRequest)
		return
	}

	if err := h.processor.ProcessEvent(r.Context(), event); err != nil {
		log.Printf("level=error component=webhook_handler msg=\"event processing failed\" event_id=%s type=%s err=%v", event.ID, event.Type, err)
		http.Error(w, "Event processing failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"received": true}`))
}
