/**
 * @description
 * This package provides a client for the exchange-rate service used to
 * normalize charge amounts to USD before Stripe processing.
 *
 * @dependencies
 * - context, encoding/json, net/http, time: Standard Go libraries.
 */
package currency

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

// Client is a client for the currency conversion API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new conversion client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type conversionResponse struct {
	Result float64 `json:"result"`
}

// ConvertToUSD converts an amount from the given currency into USD. Amounts
// already denominated in USD pass through without a network call.
func (c *Client) ConvertToUSD(ctx context.Context, amount float64, fromCurrencyCode string) (float64, error) {
	from := strings.ToUpper(strings.TrimSpace(fromCurrencyCode))
	if from == "" || from == "USD" {
		return amount, nil
	}

	query := url.Values{}
	query.Set("from", from)
	query.Set("to", "USD")
	query.Set("amount", strconv.FormatFloat(amount, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/convert?"+query.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create conversion request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("apikey", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute conversion request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read conversion response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=currency_client from=%s status=%d msg=\"non-2xx response\"", from, resp.StatusCode)
		return 0, fmt.Errorf("conversion request failed (status %d)", resp.StatusCode)
	}

	var parsed conversionResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return 0, fmt.Errorf("failed to decode conversion response: %w", err)
	}

	return parsed.Result, nil
}
