package paystack

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/afripatron/payment-service/pkg/processor"
)

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestParseWebhookVerifiesSignature(t *testing.T) {
	client := New("https://api.paystack.co", "sk_test_abc")
	payload := []byte(`{"event":"charge.success","data":{"reference":"ps-ref-1","status":"success","amount":500000,"currency":"ngn"}}`)

	event, err := client.ParseWebhook(payload, sign("sk_test_abc", payload))
	if err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if event.Status != "success" || event.Reference != "ps-ref-1" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Currency != "NGN" {
		t.Fatalf("expected uppercased currency, got %q", event.Currency)
	}

	if _, err := client.ParseWebhook(payload, sign("sk_wrong", payload)); !errors.Is(err, processor.ErrWebhookAuth) {
		t.Fatalf("expected ErrWebhookAuth for forged signature, got %v", err)
	}
}

func TestParseWebhookIgnoresUnhandledEvents(t *testing.T) {
	client := New("https://api.paystack.co", "sk_test_abc")
	payload := []byte(`{"event":"subscription.create","data":{"reference":"ps-ref-2"}}`)

	event, err := client.ParseWebhook(payload, sign("sk_test_abc", payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Status != "ignored" {
		t.Fatalf("expected ignored status, got %q", event.Status)
	}
}

func TestCreateChargeRejectsNonNaira(t *testing.T) {
	client := New("https://api.paystack.co", "sk_test_abc")

	_, err := client.CreateCharge(context.Background(), processor.ChargeRequest{
		MinorAmount: 1000,
		Currency:    "USD",
	})
	if !processor.IsCurrencyRejected(err) {
		t.Fatalf("expected currency rejection, got %v", err)
	}
}

func TestCreateChargeReturnsCheckoutURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/initialize" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test_abc" {
			t.Fatalf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":true,"data":{"authorization_url":"https://checkout.paystack.com/xyz","reference":"ps-ref-3"}}`))
	}))
	defer server.Close()

	client := New(server.URL, "sk_test_abc")
	result, err := client.CreateCharge(context.Background(), processor.ChargeRequest{
		MinorAmount: 500000,
		Currency:    "NGN",
		PayerRef:    "fan@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Reference != "ps-ref-3" {
		t.Fatalf("expected reference ps-ref-3, got %q", result.Reference)
	}
	if result.RedirectURL != "https://checkout.paystack.com/xyz" {
		t.Fatalf("unexpected redirect url %q", result.RedirectURL)
	}
}
