/**
 * @description
 * This package provides a client for the FX rates feed. It fetches a
 * USD-pivoted rate table used by the currency service; the feed is polled on a
 * background cadence and a fetch failure never fails a payment request.
 *
 * @dependencies
 * - context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package fxclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the FX rates feed.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// New creates a new FX rates client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ratesResponse is the feed's payload: units of each currency per 1 USD.
type ratesResponse struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

// FetchRates returns the current USD-pivoted rate table.
func (c *Client) FetchRates(ctx context.Context) (map[string]float64, error) {
	url := c.BaseURL + "/latest?base=USD"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create rates request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("apikey", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute rates request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rates response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=fx_client status=%d msg=\"non-2xx rates response\"", resp.StatusCode)
		return nil, fmt.Errorf("rates feed returned status %d", resp.StatusCode)
	}

	var parsed ratesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode rates response: %w", err)
	}
	if parsed.Base != "" && parsed.Base != "USD" {
		return nil, fmt.Errorf("rates feed returned unexpected base %q", parsed.Base)
	}
	if len(parsed.Rates) == 0 {
		return nil, fmt.Errorf("rates feed returned empty table")
	}

	return parsed.Rates, nil
}
