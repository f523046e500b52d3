package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gohappygo/payment-service/pkg/stripeclient"
)

type stubProcessor struct {
	events []stripeclient.Event
	err    error
}

func (s *stubProcessor) ProcessEvent(ctx context.Context, event stripeclient.Event) error {
	s.events = append(s.events, event)
	return s.err
}

const testWebhookSecret = "whsec_test"

func deliverWebhook(t *testing.T, handler *WebhookHandler, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhookHandlerAcceptsSignedDelivery(t *testing.T) {
	processor := &stubProcessor{}
	handler := NewWebhookHandler(processor, testWebhookSecret, 5*time.Minute)

	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)
	sig := stripeclient.SignPayload(payload, testWebhookSecret, time.Now())

	rec := deliverWebhook(t, handler, payload, sig)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	if len(processor.events) != 1 {
		t.Fatalf("expected one processed event, got %d", len(processor.events))
	}
	if processor.events[0].ID != "evt_1" || processor.events[0].Type != "payment_intent.succeeded" {
		t.Errorf("unexpected event: %+v", processor.events[0])
	}
}

func TestWebhookHandlerRejectsBadSignature(t *testing.T) {
	processor := &stubProcessor{}
	handler := NewWebhookHandler(processor, testWebhookSecret, 5*time.Minute)

	payload := []byte(`{"id":"evt_2","type":"payment_intent.succeeded"}`)
	sig := stripeclient.SignPayload(payload, "whsec_other", time.Now())

	rec := deliverWebhook(t, handler, payload, sig)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(processor.events) != 0 {
		t.Errorf("unverified event must not reach the processor")
	}
}

func TestWebhookHandlerRejectsMissingSignature(t *testing.T) {
	processor := &stubProcessor{}
	handler := NewWebhookHandler(processor, testWebhookSecret, 5*time.Minute)

	rec := deliverWebhook(t, handler, []byte(`{"id":"evt_3"}`), "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookHandlerRejectsStaleTimestamp(t *testing.T) {
	processor := &stubProcessor{}
	handler := NewWebhookHandler(processor, testWebhookSecret, 5*time.Minute)

	payload := []byte(`{"id":"evt_4","type":"transfer.created"}`)
	sig := stripeclient.SignPayload(payload, testWebhookSecret, time.Now().Add(-time.Hour))

	rec := deliverWebhook(t, handler, payload, sig)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookHandlerReturns500OnProcessingFailure(t *testing.T) {
	processor := &stubProcessor{err: errors.New("db down")}
	handler := NewWebhookHandler(processor, testWebhookSecret, 5*time.Minute)

	payload := []byte(`{"id":"evt_5","type":"payment_intent.succeeded","data":{"object":{"id":"pi_5"}}}`)
	sig := stripeclient.SignPayload(payload, testWebhookSecret, time.Now())

	// A 500 tells the provider to redeliver.
	rec := deliverWebhook(t, handler, payload, sig)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
