/**
 * @description
 * Paystack adapter for the processor capability interface. Paystack settles to
 * a Nigerian merchant account, so charges are NGN-only; the router never
 * offers it outside Nigeria and the client refuses other currencies outright.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - crypto/hmac, crypto/sha512: webhook signature verification.
 */
package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/afripatron/payment-service/pkg/processor"
)

const providerName = "paystack"

// Client is a client for the Paystack API.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// New creates a new Paystack API client.
func New(baseURL, secretKey string) *Client {
	return &Client{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Name() string { return providerName }

type initializeRequest struct {
	Email     string            `json:"email"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Reference string            `json:"reference,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
	} `json:"data"`
}

type transferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Recipient string `json:"recipient"`
	Reference string `json:"reference"`
	Reason    string `json:"reason,omitempty"`
}

type transferResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		TransferCode string `json:"transfer_code"`
		Status       string `json:"status"`
	} `json:"data"`
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
	} `json:"data"`
}

// CreateCharge initializes a Paystack transaction and returns the checkout URL.
func (c *Client) CreateCharge(ctx context.Context, req processor.ChargeRequest) (*processor.ChargeResult, error) {
	if !strings.EqualFold(req.Currency, "NGN") {
		return nil, &processor.ProviderError{
			Provider: providerName,
			Kind:     processor.KindCurrencyRejected,
			Message:  fmt.Sprintf("merchant account settles NGN only, got %s", req.Currency),
		}
	}

	payload := initializeRequest{
		Email:    req.PayerRef,
		Amount:   req.MinorAmount,
		Currency: "NGN",
		Metadata: req.Metadata,
	}

	var resp initializeResponse
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", payload, &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, c.apiError("initialize", resp.Message)
	}

	return &processor.ChargeResult{
		Reference:   resp.Data.Reference,
		RedirectURL: resp.Data.AuthorizationURL,
	}, nil
}

// VerifyCharge fetches the transaction state for a reference.
func (c *Client) VerifyCharge(ctx context.Context, reference string) (*processor.ChargeStatus, error) {
	var resp verifyResponse
	if err := c.do(ctx, http.MethodGet, "/transaction/verify/"+reference, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, c.apiError("verify", resp.Message)
	}

	return &processor.ChargeStatus{
		Reference:   resp.Data.Reference,
		Status:      normalizeStatus(resp.Data.Status),
		MinorAmount: resp.Data.Amount,
		Currency:    strings.ToUpper(resp.Data.Currency),
	}, nil
}

// ParseWebhook verifies the x-paystack-signature HMAC and normalizes the event.
func (c *Client) ParseWebhook(payload []byte, signature string) (*processor.WebhookEvent, error) {
	mac := hmac.New(sha512.New, []byte(c.SecretKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature))) {
		return nil, processor.ErrWebhookAuth
	}

	var event webhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}

	var status string
	switch event.Event {
	case "charge.success":
		status = "success"
	case "charge.failed":
		status = "failed"
	default:
		status = "ignored"
	}

	return &processor.WebhookEvent{
		EventType:   event.Event,
		Reference:   event.Data.Reference,
		Status:      status,
		MinorAmount: event.Data.Amount,
		Currency:    strings.ToUpper(event.Data.Currency),
		Raw:         string(payload),
	}, nil
}

// CreatePayout initiates a transfer to a previously created recipient code.
func (c *Client) CreatePayout(ctx context.Context, req processor.PayoutRequest) (*processor.PayoutResult, error) {
	payload := transferRequest{
		Source:    "balance",
		Amount:    req.MinorAmount,
		Currency:  strings.ToUpper(req.Currency),
		Recipient: req.Destination,
		Reference: req.Reference,
		Reason:    "creator payout",
	}

	var resp transferResponse
	if err := c.do(ctx, http.MethodPost, "/transfer", payload, &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, c.apiError("transfer", resp.Message)
	}

	return &processor.PayoutResult{PayoutID: resp.Data.TransferCode, Status: resp.Data.Status}, nil
}

// do executes an authenticated request and decodes the response body.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", path, err)
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &processor.ProviderError{Provider: providerName, Kind: processor.KindUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		log.Printf("level=warn component=paystack_client op=%s status=%d detail=%q", path, resp.StatusCode, apiErr.Message)
		kind := processor.KindDeclined
		if resp.StatusCode >= 500 {
			kind = processor.KindUnavailable
		}
		if strings.Contains(strings.ToLower(apiErr.Message), "currency") {
			kind = processor.KindCurrencyRejected
		}
		return &processor.ProviderError{Provider: providerName, Kind: kind, Message: apiErr.Message}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) apiError(op, message string) error {
	log.Printf("level=warn component=paystack_client op=%s msg=\"api rejected request\" detail=%q", op, message)
	return &processor.ProviderError{Provider: providerName, Kind: processor.KindDeclined, Message: message}
}

func normalizeStatus(status string) string {
	switch strings.ToLower(status) {
	case "success":
		return "success"
	case "failed", "abandoned", "reversed":
		return "failed"
	default:
		return "pending"
	}
}
