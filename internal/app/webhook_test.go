package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/gohappygo/payment-service/internal/domain"
	"github.com/gohappygo/payment-service/internal/store"
	"github.com/gohappygo/payment-service/pkg/stripeclient"
)

// stubWebhookRepo tracks event claims and transaction mutations in memory.
type stubWebhookRepo struct {
	recorded  map[string]bool
	processed map[string]bool

	txByIntent map[string]*domain.Transaction

	paid       []uuid.UUID
	cancelled  map[uuid.UUID]string
	refunded         []uuid.UUID
	accountSet       map[string]string
	transferBackfill map[uuid.UUID]string

	markPaidErr error
}

func newStubWebhookRepo() *stubWebhookRepo {
	return &stubWebhookRepo{
		recorded:   make(map[string]bool),
		processed:  make(map[string]bool),
		txByIntent: make(map[string]*domain.Transaction),
		cancelled:  make(map[uuid.UUID]string),
		accountSet: make(map[string]string),
	}
}

func (s *stubWebhookRepo) RecordWebhookEvent(ctx context.Context, eventID, eventType, payload string) error {
	s.recorded[eventID] = true
	return nil
}

func (s *stubWebhookRepo) ClaimWebhookEvent(ctx context.Context, eventID string) (bool, error) {
	if s.processed[eventID] {
		return false, nil
	}
	s.processed[eventID] = true
	return true, nil
}

func (s *stubWebhookRepo) ReleaseWebhookEvent(ctx context.Context, eventID string) error {
	s.processed[eventID] = false
	return nil
}

func (s *stubWebhookRepo) FindTransactionByPaymentIntentID(ctx context.Context, paymentIntentID string) (*domain.Transaction, error) {
	if tx, ok := s.txByIntent[paymentIntentID]; ok {
		copied := *tx
		return &copied, nil
	}
	return nil, store.ErrTransactionNotFound
}

func (s *stubWebhookRepo) MarkTransactionPaid(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	if s.markPaidErr != nil {
		return false, s.markPaidErr
	}
	s.paid = append(s.paid, transactionID)
	return true, nil
}

func (s *stubWebhookRepo) MarkTransactionCancelled(ctx context.Context, transactionID uuid.UUID, failureReason string) (bool, error) {
	s.cancelled[transactionID] = failureReason
	return true, nil
}

func (s *stubWebhookRepo) MarkTransactionRefunded(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	s.refunded = append(s.refunded, transactionID)
	return true, nil
}

func (s *stubWebhookRepo) SetTransactionTransfer(ctx context.Context, transactionID uuid.UUID, stripeTransferID string) (bool, error) {
	if s.transferBackfill == nil {
		s.transferBackfill = make(map[uuid.UUID]string)
	}
	s.transferBackfill[transactionID] = stripeTransferID
	return true, nil
}

func (s *stubWebhookRepo) UpdateUserStripeAccountStatus(ctx context.Context, stripeAccountID, status string) error {
	s.accountSet[stripeAccountID] = status
	return nil
}

func (s *stubWebhookRepo) ListRecentWebhookEvents(ctx context.Context, limit int) ([]domain.StripeWebhookEvent, error) {
	var events []domain.StripeWebhookEvent
	for eventID := range s.recorded {
		events = append(events, domain.StripeWebhookEvent{EventID: eventID, Processed: s.processed[eventID]})
	}
	return events, nil
}

func makeEvent(t *testing.T, id, eventType string, object interface{}) stripeclient.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("failed to marshal event object: %v", err)
	}
	event := stripeclient.Event{ID: id, Type: eventType}
	event.Data.Object = raw
	event.Raw = []byte(fmt.Sprintf(`{"id":%q,"type":%q}`, id, eventType))
	return event
}

func TestProcessEventPaymentSucceeded(t *testing.T) {
	repo := newStubWebhookRepo()
	txID := uuid.New()
	repo.txByIntent["pi_ok"] = &domain.Transaction{ID: txID, Status: domain.TransactionStatusPending}
	proc := NewWebhookProcessor(repo, nil, "payment.events")

	event := makeEvent(t, "evt_1", "payment_intent.succeeded", map[string]interface{}{"id": "pi_ok"})
	if err := proc.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("ProcessEvent returned error: %v", err)
	}

	if len(repo.paid) != 1 || repo.paid[0] != txID {
		t.Errorf("expected transaction marked paid once, got %v", repo.paid)
	}
	if !repo.recorded["evt_1"] {
		t.Error("expected event recorded")
	}
}

func TestProcessEventDuplicateAppliesOnce(t *testing.T) {
	repo := newStubWebhookRepo()
	txID := uuid.New()
	repo.txByIntent["pi_dup"] = &domain.Transaction{ID: txID, Status: domain.TransactionStatusPending}
	proc := NewWebhookProcessor(repo, nil, "payment.events")

	event := makeEvent(t, "evt_dup", "payment_intent.succeeded", map[string]interface{}{"id": "pi_dup"})
	for i := 0; i < 3; i++ {
		if err := proc.ProcessEvent(context.Background(), event); err != nil {
			t.Fatalf("delivery %d returned error: %v", i, err)
		}
	}

	if len(repo.paid) != 1 {
		t.Errorf("expected one ledger mutation across redeliveries, got %d", len(repo.paid))
	}
}

func TestProcessEventHandlerErrorReleasesClaim(t *testing.T) {
	repo := newStubWebhookRepo()
	txID := uuid.New()
	repo.txByIntent["pi_err"] = &domain.Transaction{ID: txID, Status: domain.TransactionStatusPending}
	repo.markPaidErr = errors.New("db down")
	proc := NewWebhookProcessor(repo, nil, "payment.events")

	event := makeEvent(t, "evt_err", "payment_intent.succeeded", map[string]interface{}{"id": "pi_err"})
	if err := proc.ProcessEvent(context.Background(), event); err == nil {
		t.Fatal("expected handler error to propagate")
	}
	if repo.processed["evt_err"] {
		t.Error("expected claim released after handler error")
	}

	// The provider retry succeeds once the failure clears.
	repo.markPaidErr = nil
	if err := proc.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("retry returned error: %v", err)
	}
	if len(repo.paid) != 1 {
		t.Errorf("expected exactly one mutation after retry, got %d", len(repo.paid))
	}
}

func TestProcessEventPaymentFailedRecordsReason(t *testing.T) {
	repo := newStubWebhookRepo()
	txID := uuid.New()
	repo.txByIntent["pi_fail"] = &domain.Transaction{ID: txID, Status: domain.TransactionStatusPending}
	proc := NewWebhookProcessor(repo, nil, "payment.events")

	event := makeEvent(t, "evt_fail", "payment_intent.payment_failed", map[string]interface{}{
		"id": "pi_fail",
		"last_payment_error": map[string]string{
			"message": "Your card was declined.",
			"code":    "card_declined",
		},
	})
	if err := proc.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("ProcessEvent returned error: %v", err)
	}

	if got := repo.cancelled[txID]; got != "Your card was declined." {
		t.Errorf("failure reason = %q, want the provider message", got)
	}
}

func TestProcessEventTransferReversed(t *testing.T) {
	repo := newStubWebhookRepo()
	txID := uuid.New()
	proc := NewWebhookProcessor(repo, nil, "payment.events")

	event := makeEvent(t, "evt_rev", "transfer.reversed", map[string]interface{}{
		"id":       "tr_9",
		"reversed": true,
		"metadata": map[string]string{"transaction_id": txID.String()},
	})
	if err := proc.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("ProcessEvent returned error: %v", err)
	}

	if len(repo.refunded) != 1 || repo.refunded[0] != txID {
		t.Errorf("expected transaction refunded, got %v", repo.refunded)
	}
}

func TestProcessEventTransferCreatedBackfillsID(t *testing.T) {
	repo := newStubWebhookRepo()
	txID := uuid.New()
	proc := NewWebhookProcessor(repo, nil, "payment.events")

	event := makeEvent(t, "evt_tr", "transfer.created", map[string]interface{}{
		"id":       "tr_5",
		"metadata": map[string]string{"transaction_id": txID.String()},
	})
	if err := proc.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("ProcessEvent returned error: %v", err)
	}
	if got := repo.transferBackfill[txID]; got != "tr_5" {
		t.Errorf("expected transfer id backfilled, got %q", got)
	}

	// A transfer without metadata is acknowledged without a ledger write.
	event = makeEvent(t, "evt_tr2", "transfer.created", map[string]interface{}{"id": "tr_6"})
	if err := proc.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("ProcessEvent returned error: %v", err)
	}
	if len(repo.transferBackfill) != 1 {
		t.Errorf("expected no backfill without metadata, got %v", repo.transferBackfill)
	}
}

func TestProcessEventAccountUpdated(t *testing.T) {
	repo := newStubWebhookRepo()
	proc := NewWebhookProcessor(repo, nil, "payment.events")

	event := makeEvent(t, "evt_acct", "account.updated", map[string]interface{}{
		"id":              "acct_7",
		"charges_enabled": true,
		"payouts_enabled": true,
		"capabilities":    map[string]string{"transfers": "active"},
	})
	if err := proc.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("ProcessEvent returned error: %v", err)
	}
	if got := repo.accountSet["acct_7"]; got != "active" {
		t.Errorf("account status = %q, want active", got)
	}

	event = makeEvent(t, "evt_acct2", "account.updated", map[string]interface{}{
		"id":              "acct_8",
		"charges_enabled": false,
		"payouts_enabled": false,
	})
	if err := proc.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("ProcessEvent returned error: %v", err)
	}
	if got := repo.accountSet["acct_8"]; got != "restricted" {
		t.Errorf("account status = %q, want restricted", got)
	}
}

func TestProcessEventUnknownTypeIsAcknowledged(t *testing.T) {
	repo := newStubWebhookRepo()
	proc := NewWebhookProcessor(repo, nil, "payment.events")

	event := makeEvent(t, "evt_misc", "customer.created", map[string]string{"id": "cus_1"})
	if err := proc.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("unknown event types should be acknowledged, got %v", err)
	}
	if !repo.processed["evt_misc"] {
		t.Error("expected unknown event to stay claimed")
	}
}
