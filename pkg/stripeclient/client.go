/**
 * @description
 * This package provides a client for the Stripe REST API. It encapsulates
 * the logic for making authenticated, form-encoded HTTP requests to the
 * Stripe endpoints the escrow flow needs (payment intents, transfers,
 * connected accounts, charges, balance transactions), and for parsing
 * responses and Stripe's error envelope.
 *
 * @dependencies
 * - context, encoding/json, net/http, net/url, strings, time: Standard Go libraries.
 */
package stripeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a client for the Stripe API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new Stripe API client. baseURL is normally
// "https://api.stripe.com" and is overridable for tests.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PaymentIntent represents a Stripe Payment Intent. Amount is in the
// currency's minor unit, as on the wire.
type PaymentIntent struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	LatestCharge     string    `json:"latest_charge"`
	LastPaymentError *APIError `json:"last_payment_error,omitempty"`
}

// Charge represents a completed capture.
type Charge struct {
	ID                 string `json:"id"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	BalanceTransaction string `json:"balance_transaction"`
}

// BalanceTransaction is the ledger entry recording a capture's net
// settlement currency and amount. Its currency is authoritative for
// transfers sourced from the charge.
type BalanceTransaction struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Transfer represents a move of held funds to a connected account.
type Transfer struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Destination string `json:"destination"`
	Reversed    bool   `json:"reversed"`
}

// AccountCapabilities reports per-capability activation on a connected
// account. Transfers only require the "transfers" capability to be active,
// which is distinct from full KYC completion.
type AccountCapabilities struct {
	Transfers string `json:"transfers"`
}

// Account represents a payee's connected account.
type Account struct {
	ID               string              `json:"id"`
	ChargesEnabled   bool                `json:"charges_enabled"`
	PayoutsEnabled   bool                `json:"payouts_enabled"`
	DetailsSubmitted bool                `json:"details_submitted"`
	Capabilities     AccountCapabilities `json:"capabilities"`
}

// CanReceiveTransfers reports whether funds can be transferred to the
// account right now.
func (a *Account) CanReceiveTransfers() bool {
	return a.Capabilities.Transfers == "active"
}

// APIError is the inner error object of Stripe's error envelope.
type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse represents an error returned by the Stripe API. The original
// message is preserved for diagnostics and user-facing failures.
type ErrorResponse struct {
	StatusCode int      `json:"-"`
	Err        APIError `json:"error"`
}

func (e *ErrorResponse) Error() string {
	if e.Err.Message != "" {
		return fmt.Sprintf("stripe api error: %s", e.Err.Message)
	}
	return fmt.Sprintf("stripe api error: status %d", e.StatusCode)
}

// PaymentIntentParams are the inputs for creating a Payment Intent. Amount
// is in minor units.
type PaymentIntentParams struct {
	Amount               int64
	Currency             string
	PaymentMethodID      string
	ApplicationFeeAmount int64
	Metadata             map[string]string
}

// TransferParams are the inputs for creating a Transfer. Amount is in minor
// units; SourceTransaction keys the transfer off the original charge so the
// funds move from that charge's settlement balance.
type TransferParams struct {
	Amount            int64
	Currency          string
	Destination       string
	SourceTransaction string
	Metadata          map[string]string
}

// CreatePaymentIntent opens a payment hold for the given amount.
func (c *Client) CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(params.Amount, 10))
	form.Set("currency", strings.ToLower(params.Currency))
	if params.PaymentMethodID != "" {
		form.Set("payment_method", params.PaymentMethodID)
	}
	if params.ApplicationFeeAmount > 0 {
		form.Set("application_fee_amount", strconv.FormatInt(params.ApplicationFeeAmount, 10))
	}
	for k, v := range params.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var intent PaymentIntent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", form, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// ConfirmPaymentIntent attempts to confirm a previously created intent.
func (c *Client) ConfirmPaymentIntent(ctx context.Context, intentID, paymentMethodID string) (*PaymentIntent, error) {
	form := url.Values{}
	if paymentMethodID != "" {
		form.Set("payment_method", paymentMethodID)
	}

	var intent PaymentIntent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents/"+intentID+"/confirm", form, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// GetPaymentIntent retrieves a Payment Intent by id.
func (c *Client) GetPaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.do(ctx, http.MethodGet, "/v1/payment_intents/"+intentID, nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// GetCharge retrieves a Charge by id.
func (c *Client) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	var charge Charge
	if err := c.do(ctx, http.MethodGet, "/v1/charges/"+chargeID, nil, &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

// GetBalanceTransaction retrieves the settlement ledger entry for a charge.
func (c *Client) GetBalanceTransaction(ctx context.Context, balanceTxID string) (*BalanceTransaction, error) {
	var bt BalanceTransaction
	if err := c.do(ctx, http.MethodGet, "/v1/balance_transactions/"+balanceTxID, nil, &bt); err != nil {
		return nil, err
	}
	return &bt, nil
}

// GetAccount retrieves a connected account.
func (c *Client) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	var account Account
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+accountID, nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// CreateTransfer moves held funds to a connected account.
func (c *Client) CreateTransfer(ctx context.Context, params TransferParams) (*Transfer, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(params.Amount, 10))
	form.Set("currency", strings.ToLower(params.Currency))
	form.Set("destination", params.Destination)
	if params.SourceTransaction != "" {
		form.Set("source_transaction", params.SourceTransaction)
	}
	for k, v := range params.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var transfer Transfer
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", form, &transfer); err != nil {
		return nil, err
	}
	return &transfer, nil
}

// do executes one request against the Stripe API and decodes the response
// into out. Non-2xx responses are returned as *ErrorResponse with Stripe's
// message preserved.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create stripe request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute stripe request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read stripe response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, errResp); err != nil {
			log.Printf("level=warn component=stripe_client path=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			return fmt.Errorf("failed to decode stripe error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=stripe_client path=%s status=%d code=%q msg=%q", path, resp.StatusCode, errResp.Err.Code, errResp.Err.Message)
		return errResp
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode stripe response: %w", err)
		}
	}

	return nil
}
