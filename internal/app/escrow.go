/**
 * @description
 * Escrow settlement coordination. The service opens a Stripe Payment Intent
 * when a shipping request is accepted (holding the requester's funds), and
 * releases the traveler's share to their connected account once delivery is
 * confirmed by the payer.
 *
 * @dependencies
 * - pkg/stripeclient: REST client for the payment provider.
 * - pkg/currency: Exchange-rate conversion to the processing currency.
 * - pkg/rabbitmq: Event publishing for downstream services.
 *
 * @notes
 * - Payment confirmation is fire-and-forget: the source of truth for a
 *   transaction becoming paid is the provider webhook, never the synchronous
 *   confirm call.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gohappygo/payment-service/internal/domain"
	"github.com/gohappygo/payment-service/pkg/rabbitmq"
	"github.com/gohappygo/payment-service/pkg/stripeclient"
)

const (
	// defaultCurrencyCode applies when neither the travel nor the demand
	// carries a currency.
	defaultCurrencyCode = "EUR"
	// processingCurrencyCode is the currency all Payment Intents are opened
	// in; other currencies are converted before charging.
	processingCurrencyCode = "USD"

	routingKeyTransactionCreated = "payment.transaction.created"
	routingKeyTransactionStatus  = "payment.transaction.status"
	routingKeyTransferReleased   = "payment.transfer.released"
	routingKeyAccountStatus      = "payment.account.status"
)

var (
	// ErrNotTransactionPayer means the caller is not the payer on the
	// transaction and may not act on it.
	ErrNotTransactionPayer = errors.New("caller is not the payer on this transaction")
	// ErrInvalidTransactionStatus means the transaction is not in a state
	// that permits the requested operation.
	ErrInvalidTransactionStatus = errors.New("transaction status does not permit this operation")
	// ErrPayeeNotPayable means the payee has no connected account able to
	// receive transfers; the transaction is parked as awaiting_transfer.
	ErrPayeeNotPayable = errors.New("payee cannot receive transfers yet")
	// ErrMissingPaymentIntent means the transaction has no Payment Intent to
	// settle from.
	ErrMissingPaymentIntent = errors.New("transaction has no payment intent")
)

// StripeAPI is the slice of the provider client the escrow service uses.
type StripeAPI interface {
	CreatePaymentIntent(ctx context.Context, params stripeclient.PaymentIntentParams) (*stripeclient.PaymentIntent, error)
	ConfirmPaymentIntent(ctx context.Context, intentID, paymentMethodID string) (*stripeclient.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, intentID string) (*stripeclient.PaymentIntent, error)
	GetCharge(ctx context.Context, chargeID string) (*stripeclient.Charge, error)
	GetBalanceTransaction(ctx context.Context, balanceTxID string) (*stripeclient.BalanceTransaction, error)
	GetAccount(ctx context.Context, accountID string) (*stripeclient.Account, error)
	CreateTransfer(ctx context.Context, params stripeclient.TransferParams) (*stripeclient.Transfer, error)
}

// CurrencyConverter normalizes amounts to the processing currency.
type CurrencyConverter interface {
	ConvertToUSD(ctx context.Context, amount float64, fromCurrencyCode string) (float64, error)
}

// EscrowRepository is the slice of the store the escrow service needs.
type EscrowRepository interface {
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	FindShippingRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.ShippingRequest, error)
	FindTravelByID(ctx context.Context, travelID uuid.UUID) (*domain.Travel, error)
	FindDemandByID(ctx context.Context, demandID uuid.UUID) (*domain.Demand, error)
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)
	SetTransactionAwaitingTransfer(ctx context.Context, transactionID uuid.UUID) error
	SetTransactionTransfer(ctx context.Context, transactionID uuid.UUID, stripeTransferID string) (bool, error)
}

// EscrowService coordinates payment holds and fund releases.
type EscrowService struct {
	repo      EscrowRepository
	stripe    StripeAPI
	converter CurrencyConverter
	pricing   *PricingService
	producer  rabbitmq.Publisher
	exchange  string
}

// NewEscrowService creates an escrow service.
func NewEscrowService(repo EscrowRepository, stripe StripeAPI, converter CurrencyConverter, pricing *PricingService, producer rabbitmq.Publisher, exchange string) *EscrowService {
	return &EscrowService{
		repo:      repo,
		stripe:    stripe,
		converter: converter,
		pricing:   pricing,
		producer:  producer,
		exchange:  exchange,
	}
}

// toCents converts a decimal currency amount to integer minor units.
func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// CreateTransactionFromRequest opens an escrow transaction for an accepted
// shipping request: it derives the traveler payment and fee breakdown,
// normalizes the total to the processing currency, opens a Payment Intent
// with the provider, persists the pending transaction, and kicks off an
// asynchronous confirmation when a payment method was supplied.
func (s *EscrowService) CreateTransactionFromRequest(ctx context.Context, payerID uuid.UUID, payload domain.CreateTransactionPayload) (*domain.Transaction, error) {
	request, err := s.repo.FindShippingRequestByID(ctx, payload.RequestID)
	if err != nil {
		return nil, err
	}
	if request.RequesterID != payerID {
		return nil, ErrNotTransactionPayer
	}

	travel, err := s.repo.FindTravelByID(ctx, request.TravelID)
	if err != nil {
		return nil, err
	}

	currencyCode := travel.CurrencyCode
	if currencyCode == "" && request.DemandID != nil {
		demand, err := s.repo.FindDemandByID(ctx, *request.DemandID)
		if err == nil && demand.CurrencyCode != "" {
			currencyCode = demand.CurrencyCode
		}
	}
	if currencyCode == "" {
		currencyCode = defaultCurrencyCode
	}

	// The traveler's share comes from the agreed weight and per-kg price.
	// Older requests predate per-kg pricing; for those the share is
	// reverse-derived from the supplied total via the flat multiplier.
	var travelerPayment float64
	if request.Weight > 0 && travel.PricePerKg > 0 {
		travelerPayment = round2(request.Weight * travel.PricePerKg)
	} else {
		travelerPayment = round2(payload.Amount / s.pricing.FlatMultiplier())
	}

	breakdown, err := s.pricing.CalculateTotalAmount(ctx, travelerPayment)
	if err != nil {
		return nil, fmt.Errorf("failed to derive fee breakdown: %w", err)
	}

	convertedAmount := breakdown.TotalAmount
	if !strings.EqualFold(currencyCode, processingCurrencyCode) {
		convertedAmount, err = s.converter.ConvertToUSD(ctx, breakdown.TotalAmount, currencyCode)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s amount to %s: %w", currencyCode, processingCurrencyCode, err)
		}
		convertedAmount = round2(convertedAmount)
	}

	tx := &domain.Transaction{
		ID:              uuid.New(),
		PayerID:         request.RequesterID,
		PayeeID:         request.TravelerID,
		RequestID:       request.ID,
		Amount:          breakdown.TotalAmount,
		OriginalAmount:  breakdown.TotalAmount,
		ConvertedAmount: convertedAmount,
		TravelerPayment: breakdown.TravelerPayment,
		Fee:             breakdown.Fee,
		TVAAmount:       breakdown.TVAAmount,
		Status:          domain.TransactionStatusPending,
		CurrencyCode:    strings.ToUpper(currencyCode),
	}

	params := stripeclient.PaymentIntentParams{
		Amount:   toCents(convertedAmount),
		Currency: strings.ToLower(processingCurrencyCode),
		Metadata: map[string]string{
			"transaction_id": tx.ID.String(),
			"request_id":     tx.RequestID.String(),
		},
	}
	if payload.PaymentMethodID != nil {
		params.PaymentMethodID = *payload.PaymentMethodID
		tx.PaymentMethod = *payload.PaymentMethodID
	}

	intent, err := s.stripe.CreatePaymentIntent(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}
	tx.StripePaymentIntentID = &intent.ID
	if intent.Status == "succeeded" {
		// Some payment methods settle synchronously at creation; the webhook
		// marking is then a no-op replay.
		tx.Status = domain.TransactionStatusPaid
	}

	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}

	log.Printf("level=info component=escrow_service msg=\"escrow transaction opened\" transaction_id=%s request_id=%s intent_id=%s amount=%.2f currency=%s",
		tx.ID, tx.RequestID, intent.ID, tx.Amount, tx.CurrencyCode)

	// Confirmation is fire-and-forget: the webhook decides whether the
	// transaction becomes paid.
	if payload.PaymentMethodID != nil {
		go s.confirmAsync(intent.ID, *payload.PaymentMethodID)
	}

	s.publishTransactionEvent(ctx, routingKeyTransactionCreated, tx)
	return tx, nil
}

func (s *EscrowService) confirmAsync(intentID, paymentMethodID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.stripe.ConfirmPaymentIntent(ctx, intentID, paymentMethodID); err != nil {
		log.Printf("level=warn component=escrow_service msg=\"payment intent confirmation failed, awaiting webhook\" intent_id=%s err=%v", intentID, err)
	}
}

// GetTransaction returns a transaction visible to the caller. Only the payer
// and the payee on a transaction may read it.
func (s *EscrowService) GetTransaction(ctx context.Context, callerID, transactionID uuid.UUID) (*domain.Transaction, error) {
	tx, err := s.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.PayerID != callerID && tx.PayeeID != callerID {
		return nil, ErrNotTransactionPayer
	}
	return tx, nil
}

// ReleaseFunds moves the traveler's share of a settled charge to their
// connected account. Only the payer may release, and only from a paid or
// awaiting_transfer transaction. When the payee cannot receive transfers the
// transaction is parked as awaiting_transfer and the release can be retried
// after onboarding completes.
func (s *EscrowService) ReleaseFunds(ctx context.Context, callerID, transactionID uuid.UUID) (*domain.Transaction, error) {
	tx, err := s.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.PayerID != callerID {
		return nil, ErrNotTransactionPayer
	}
	if tx.Status != domain.TransactionStatusPaid && tx.Status != domain.TransactionStatusAwaitingTransfer {
		return nil, fmt.Errorf("%w: status is %s", ErrInvalidTransactionStatus, tx.Status)
	}
	if tx.StripePaymentIntentID == nil {
		return nil, ErrMissingPaymentIntent
	}

	payee, err := s.repo.FindUserByID(ctx, tx.PayeeID)
	if err != nil {
		return nil, err
	}
	if payee.StripeAccountID == nil {
		s.parkAwaitingTransfer(ctx, tx)
		return nil, fmt.Errorf("%w: no connected account", ErrPayeeNotPayable)
	}

	account, err := s.stripe.GetAccount(ctx, *payee.StripeAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch connected account: %w", err)
	}
	if !account.CanReceiveTransfers() {
		s.parkAwaitingTransfer(ctx, tx)
		return nil, fmt.Errorf("%w: transfers capability inactive", ErrPayeeNotPayable)
	}

	share := tx.TravelerPayment
	if share <= 0 {
		// Legacy rows predate the stored breakdown; recover the share by
		// stripping the fee and tax, or via the flat multiplier when even
		// those are missing.
		if tx.Fee > 0 || tx.TVAAmount > 0 {
			share = round2(tx.Amount - tx.Fee - tx.TVAAmount)
		} else {
			share = round2(tx.Amount / s.pricing.FlatMultiplier())
		}
	}

	// The intent was opened in the processing currency; a share recorded in
	// another currency converts at the current rate before scaling.
	if !strings.EqualFold(tx.CurrencyCode, processingCurrencyCode) {
		share, err = s.converter.ConvertToUSD(ctx, share, tx.CurrencyCode)
		if err != nil {
			return nil, fmt.Errorf("failed to convert payee share to %s: %w", processingCurrencyCode, err)
		}
		share = round2(share)
	}

	intent, err := s.stripe.GetPaymentIntent(ctx, *tx.StripePaymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payment intent: %w", err)
	}
	if intent.LatestCharge == "" {
		return nil, fmt.Errorf("payment intent %s has no settled charge", intent.ID)
	}
	charge, err := s.stripe.GetCharge(ctx, intent.LatestCharge)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch charge: %w", err)
	}
	balanceTx, err := s.stripe.GetBalanceTransaction(ctx, charge.BalanceTransaction)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balance transaction: %w", err)
	}

	// The charge settles in the platform's balance currency, which may
	// differ from the intent currency. The balance-transaction to intent
	// amount ratio converts the payee's share into settlement minor units.
	shareCents := toCents(share)
	if intent.Amount > 0 && balanceTx.Amount != intent.Amount {
		ratio := float64(balanceTx.Amount) / float64(intent.Amount)
		shareCents = int64(math.Round(float64(shareCents) * ratio))
	}
	if shareCents <= 0 {
		return nil, fmt.Errorf("computed transfer amount is not positive: %d", shareCents)
	}

	transfer, err := s.stripe.CreateTransfer(ctx, stripeclient.TransferParams{
		Amount:            shareCents,
		Currency:          strings.ToLower(balanceTx.Currency),
		Destination:       account.ID,
		SourceTransaction: charge.ID,
		Metadata: map[string]string{
			"transaction_id": tx.ID.String(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer: %w", err)
	}

	updated, err := s.repo.SetTransactionTransfer(ctx, tx.ID, transfer.ID)
	if err != nil {
		return nil, err
	}
	if !updated {
		log.Printf("level=warn component=escrow_service msg=\"transfer recorded but status row was not updated\" transaction_id=%s transfer_id=%s", tx.ID, transfer.ID)
	}

	tx.StripeTransferID = &transfer.ID
	tx.Status = domain.TransactionStatusPaid

	log.Printf("level=info component=escrow_service msg=\"funds released\" transaction_id=%s transfer_id=%s amount_cents=%d currency=%s",
		tx.ID, transfer.ID, shareCents, balanceTx.Currency)

	s.publishTransactionEvent(ctx, routingKeyTransferReleased, tx)
	return tx, nil
}

func (s *EscrowService) parkAwaitingTransfer(ctx context.Context, tx *domain.Transaction) {
	if tx.Status == domain.TransactionStatusAwaitingTransfer {
		return
	}
	if err := s.repo.SetTransactionAwaitingTransfer(ctx, tx.ID); err != nil {
		log.Printf("level=error component=escrow_service msg=\"failed to park transaction as awaiting_transfer\" transaction_id=%s err=%v", tx.ID, err)
		return
	}
	tx.Status = domain.TransactionStatusAwaitingTransfer
}

func (s *EscrowService) publishTransactionEvent(ctx context.Context, routingKey string, tx *domain.Transaction) {
	if s.producer == nil {
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
	if err := s.producer.Publish(ctx, s.exchange, routingKey, event); err != nil {
		log.Printf("level=error component=escrow_service msg=\"failed to publish transaction event\" transaction_id=%s routing_key=%s err=%v", tx.ID, routingKey, err)
	}
}
