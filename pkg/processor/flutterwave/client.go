/**
 * @description
 * Flutterwave adapter for the processor capability interface. Flutterwave is
 * the mobile-money-native rail: charges in mobile-money countries are always
 * denominated in the local carrier-wallet currency and addressed by phone
 * number. Webhooks carry a verif-hash header matched against a shared secret.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - crypto/hmac: constant-time webhook hash comparison.
 */
package flutterwave

import (
	"bytes"
	"context"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/afripatron/payment-service/pkg/processor"
)

const providerName = "flutterwave"

// Client is a client for the Flutterwave v3 API.
type Client struct {
	BaseURL    string
	SecretKey  string
	VerifHash  string
	HTTPClient *http.Client
}

// New creates a new Flutterwave API client.
func New(baseURL, secretKey, verifHash string) *Client {
	return &Client{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		VerifHash: verifHash,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Name() string { return providerName }

type chargeRequest struct {
	TxRef       string            `json:"tx_ref"`
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	Email       string            `json:"email"`
	PhoneNumber string            `json:"phone_number,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
}

type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID        int64  `json:"id"`
		TxRef     string `json:"tx_ref"`
		FlwRef    string `json:"flw_ref"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Link      string `json:"link"`
		Reference string `json:"reference"`
	} `json:"data"`
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		TxRef    string `json:"tx_ref"`
		FlwRef   string `json:"flw_ref"`
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"data"`
}

// CreateCharge starts a mobile-money (or hosted) charge and returns either the
// redirect link or the provider reference for an STK push.
func (c *Client) CreateCharge(ctx context.Context, req processor.ChargeRequest) (*processor.ChargeResult, error) {
	payload := chargeRequest{
		TxRef:       fmt.Sprintf("apn-%d", time.Now().UnixNano()),
		Amount:      fmt.Sprintf("%d", req.MinorAmount),
		Currency:    strings.ToUpper(req.Currency),
		Email:       req.PayerRef,
		PhoneNumber: req.PhoneNumber,
		Meta:        req.Metadata,
	}

	var resp apiResponse
	if err := c.do(ctx, http.MethodPost, "/v3/payments", payload, &resp); err != nil {
		return nil, err
	}
	if !strings.EqualFold(resp.Status, "success") {
		return nil, c.apiError("payments", resp.Message)
	}

	reference := resp.Data.TxRef
	if reference == "" {
		reference = payload.TxRef
	}

	return &processor.ChargeResult{
		Reference:   reference,
		RedirectURL: resp.Data.Link,
	}, nil
}

// VerifyCharge resolves a transaction by reference.
func (c *Client) VerifyCharge(ctx context.Context, reference string) (*processor.ChargeStatus, error) {
	var resp apiResponse
	path := "/v3/transactions/verify_by_reference?tx_ref=" + reference
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if !strings.EqualFold(resp.Status, "success") {
		return nil, c.apiError("verify", resp.Message)
	}

	return &processor.ChargeStatus{
		Reference:   resp.Data.TxRef,
		Status:      normalizeStatus(resp.Data.Status),
		MinorAmount: resp.Data.Amount,
		Currency:    strings.ToUpper(resp.Data.Currency),
	}, nil
}

// ParseWebhook matches the verif-hash header against the shared secret before
// normalizing the event.
func (c *Client) ParseWebhook(payload []byte, signature string) (*processor.WebhookEvent, error) {
	if c.VerifHash == "" || !hmac.Equal([]byte(c.VerifHash), []byte(strings.TrimSpace(signature))) {
		return nil, processor.ErrWebhookAuth
	}

	var event webhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}

	var status string
	switch normalizeStatus(event.Data.Status) {
	case "success":
		status = "success"
	case "failed":
		status = "failed"
	default:
		status = "ignored"
	}

	return &processor.WebhookEvent{
		EventType:   event.Event,
		Reference:   event.Data.TxRef,
		Status:      status,
		MinorAmount: event.Data.Amount,
		Currency:    strings.ToUpper(event.Data.Currency),
		Raw:         string(payload),
	}, nil
}

// CreatePayout initiates a transfer to a mobile-money wallet or bank account.
func (c *Client) CreatePayout(ctx context.Context, req processor.PayoutRequest) (*processor.PayoutResult, error) {
	payload := map[string]interface{}{
		"account_number": req.Destination,
		"amount":         req.MinorAmount,
		"currency":       strings.ToUpper(req.Currency),
		"reference":      req.Reference,
		"narration":      "creator payout",
	}

	var resp apiResponse
	if err := c.do(ctx, http.MethodPost, "/v3/transfers", payload, &resp); err != nil {
		return nil, err
	}
	if !strings.EqualFold(resp.Status, "success") {
		return nil, c.apiError("transfers", resp.Message)
	}

	return &processor.PayoutResult{
		PayoutID: fmt.Sprintf("%d", resp.Data.ID),
		Status:   normalizeStatus(resp.Data.Status),
	}, nil
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
		log.Printf("level=warn component=flutterwave_client op=%s status=%d detail=%q", path, resp.StatusCode, apiErr.Message)
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
	log.Printf("level=warn component=flutterwave_client op=%s msg=\"api rejected request\" detail=%q", op, message)
	return &processor.ProviderError{Provider: providerName, Kind: processor.KindDeclined, Message: message}
}

func normalizeStatus(status string) string {
	switch strings.ToLower(status) {
	case "successful", "success", "completed":
		return "success"
	case "failed", "failure", "cancelled":
		return "failed"
	default:
		return "pending"
	}
}
