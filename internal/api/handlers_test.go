package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/afripatron/payment-service/internal/app"
	"github.com/afripatron/payment-service/internal/currency"
	"github.com/afripatron/payment-service/internal/domain"
	"github.com/afripatron/payment-service/internal/fees"
	"github.com/afripatron/payment-service/internal/fraud"
	"github.com/afripatron/payment-service/internal/risk"
	"github.com/afripatron/payment-service/internal/routing"
	"github.com/afripatron/payment-service/internal/store"
	"github.com/afripatron/payment-service/pkg/processor"
)

// apiRepoStub provides just the repository surface the HTTP tests exercise.
// Calling anything else panics through the embedded nil interface.
type apiRepoStub struct {
	store.Repository

	users    map[string]uuid.UUID
	intents  map[uuid.UUID]*domain.PaymentIntent
	byRef    map[string]*domain.PaymentIntent
	wallet   *domain.Wallet
	profile  *domain.RiskProfile
	earnings []domain.Earning

	duplicateIntent bool

	finalizedSuccess []domain.FinalizeSuccessParams
	fraudLogs        []domain.FraudLog
	configValues     map[string]string
}

func newAPIRepoStub() *apiRepoStub {
	return &apiRepoStub{
		users:        make(map[string]uuid.UUID),
		intents:      make(map[uuid.UUID]*domain.PaymentIntent),
		byRef:        make(map[string]*domain.PaymentIntent),
		configValues: make(map[string]string),
	}
}

func (s *apiRepoStub) FindUserIDByAuthSubject(_ context.Context, subject string) (uuid.UUID, error) {
	id, ok := s.users[subject]
	if !ok {
		return uuid.Nil, store.ErrUserNotFound
	}
	return id, nil
}

func (s *apiRepoStub) FindIntentByID(_ context.Context, intentID uuid.UUID) (*domain.PaymentIntent, error) {
	intent, ok := s.intents[intentID]
	if !ok {
		return nil, store.ErrIntentNotFound
	}
	return intent, nil
}

func (s *apiRepoStub) FindIntentByReference(_ context.Context, reference string) (*domain.PaymentIntent, error) {
	intent, ok := s.byRef[reference]
	if !ok {
		return nil, store.ErrIntentNotFound
	}
	return intent, nil
}

func (s *apiRepoStub) FinalizePaymentSuccess(_ context.Context, params domain.FinalizeSuccessParams) (*store.FinalizeResult, error) {
	s.finalizedSuccess = append(s.finalizedSuccess, params)
	intent := s.intents[params.IntentID]
	return &store.FinalizeResult{Intent: intent, CreatorEarnings: intent.MinorUnitAmount}, nil
}

func (s *apiRepoStub) FindWalletByCreatorID(_ context.Context, _ uuid.UUID) (*domain.Wallet, error) {
	if s.wallet == nil {
		return nil, store.ErrWalletNotFound
	}
	return s.wallet, nil
}

func (s *apiRepoStub) ListRecentEarnings(_ context.Context, _ uuid.UUID, _ int) ([]domain.Earning, error) {
	return s.earnings, nil
}

func (s *apiRepoStub) FindRiskProfileByUserID(_ context.Context, _ uuid.UUID) (*domain.RiskProfile, error) {
	if s.profile == nil {
		return nil, store.ErrRiskProfileNotFound
	}
	return s.profile, nil
}

func (s *apiRepoStub) CreateFraudLog(_ context.Context, entry domain.FraudLog) error {
	s.fraudLogs = append(s.fraudLogs, entry)
	return nil
}

func (s *apiRepoStub) CountRecentPaymentsByUser(context.Context, uuid.UUID, time.Duration) (int, error) {
	return 0, nil
}

func (s *apiRepoStub) HasRecentDuplicateIntent(context.Context, uuid.UUID, uuid.UUID, int64, string, time.Duration) (bool, error) {
	return s.duplicateIntent, nil
}

func (s *apiRepoStub) CountFailedPaymentsByUser(context.Context, uuid.UUID, time.Duration) (int, error) {
	return 0, nil
}

func (s *apiRepoStub) CountAccountsByPhoneNumber(context.Context, string) (int, error) {
	return 1, nil
}

func (s *apiRepoStub) CountRecentPaymentsByPhone(context.Context, string, time.Duration) (int, error) {
	return 0, nil
}

func (s *apiRepoStub) HasBlockedFraudLogForIP(context.Context, string, time.Duration) (bool, error) {
	return false, nil
}

func (s *apiRepoStub) GetPlatformConfig(_ context.Context, key string) (string, error) {
	value, ok := s.configValues[key]
	if !ok {
		return "", store.ErrConfigNotFound
	}
	return value, nil
}

func (s *apiRepoStub) SetPlatformConfig(_ context.Context, key, value string) error {
	s.configValues[key] = value
	return nil
}

// apiProcessorStub returns canned webhook parses for the webhook endpoint tests.
type apiProcessorStub struct {
	name         string
	webhookEvent *processor.WebhookEvent
	webhookErr   error
}

func (p *apiProcessorStub) Name() string { return p.name }

func (p *apiProcessorStub) CreateCharge(context.Context, processor.ChargeRequest) (*processor.ChargeResult, error) {
	return &processor.ChargeResult{Reference: p.name + "-ref", RedirectURL: "https://checkout.test/" + p.name}, nil
}

func (p *apiProcessorStub) VerifyCharge(context.Context, string) (*processor.ChargeStatus, error) {
	return nil, nil
}

func (p *apiProcessorStub) ParseWebhook([]byte, string) (*processor.WebhookEvent, error) {
	return p.webhookEvent, p.webhookErr
}

func (p *apiProcessorStub) CreatePayout(context.Context, processor.PayoutRequest) (*processor.PayoutResult, error) {
	return &processor.PayoutResult{PayoutID: p.name + "-payout", Status: "processing"}, nil
}

type apiCounterStub struct{}

func (apiCounterStub) Increment(context.Context, string, string, time.Duration) (int, error) {
	return 1, nil
}

func newTestHandlers(repo *apiRepoStub, registry processor.Registry) *PaymentHandlers {
	guard := fraud.NewGuard(repo, apiCounterStub{}, fraud.Thresholds{
		VelocityPerHour:     10,
		FailedLockoutCount:  5,
		PhoneAccountLimit:   3,
		PhoneChargesPerHour: 5,
	})
	svc := app.NewService(
		repo,
		guard,
		routing.NewRouter(),
		fees.NewCalculator(repo, 10),
		currency.NewService(nil),
		risk.NewEngine(repo),
		registry,
		nil,
		5,
		30*24*time.Hour,
	)
	return NewPaymentHandlers(svc)
}

// authedRequest builds a request carrying the auth subject and a chi route
// context, the way the router would deliver it to the handler.
func authedRequest(method, target, subject string, body []byte, params map[string]string) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	ctx := context.WithValue(r.Context(), authSubjectKey, subject)

	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHandlers(newAPIRepoStub(), processor.Registry{})
	router := PaymentRoutes(h, "http://jwks.invalid", "admin-key")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "healthy" {
		t.Fatalf("unexpected body: %q", w.Body.String())
	}
}

func TestWebhookUnknownProvider(t *testing.T) {
	h := newTestHandlers(newAPIRepoStub(), processor.Registry{})
	router := PaymentRoutes(h, "http://jwks.invalid", "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/payments/webhooks/mpesa", bytes.NewReader([]byte(`{}`))))

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown provider, got %d", w.Code)
	}
}

func TestWebhookBadSignatureRejected(t *testing.T) {
	repo := newAPIRepoStub()
	registry := processor.Registry{
		routing.ProviderPaystack: &apiProcessorStub{name: routing.ProviderPaystack, webhookErr: processor.ErrWebhookAuth},
	}
	h := newTestHandlers(repo, registry)
	router := PaymentRoutes(h, "http://jwks.invalid", "")

	req := httptest.NewRequest(http.MethodPost, "/payments/webhooks/paystack", bytes.NewReader([]byte(`{"event":"charge.success"}`)))
	req.Header.Set("x-paystack-signature", "forged")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", w.Code)
	}
	if len(repo.finalizedSuccess) != 0 {
		t.Fatal("unverified webhook must not touch the ledger")
	}
}

func TestWebhookSuccessAcknowledged(t *testing.T) {
	repo := newAPIRepoStub()
	intent := &domain.PaymentIntent{
		ID:              uuid.New(),
		PayerID:         uuid.New(),
		CreatorID:       uuid.New(),
		ProductClass:    domain.ProductClassPPV,
		Status:          "pending",
		Currency:        "NGN",
		MinorUnitAmount: 500000,
	}
	repo.intents[intent.ID] = intent
	repo.byRef["ps-ref-99"] = intent

	registry := processor.Registry{
		routing.ProviderPaystack: &apiProcessorStub{
			name: routing.ProviderPaystack,
			webhookEvent: &processor.WebhookEvent{
				EventType: "charge.success",
				Reference: "ps-ref-99",
				Status:    "success",
			},
		},
	}
	h := newTestHandlers(repo, registry)
	router := PaymentRoutes(h, "http://jwks.invalid", "")

	req := httptest.NewRequest(http.MethodPost, "/payments/webhooks/paystack", bytes.NewReader([]byte(`{"event":"charge.success"}`)))
	req.Header.Set("x-paystack-signature", "valid")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(repo.finalizedSuccess) != 1 {
		t.Fatalf("expected one finalization, got %d", len(repo.finalizedSuccess))
	}
	if repo.finalizedSuccess[0].IntentID != intent.ID {
		t.Fatal("finalized the wrong intent")
	}
}

func TestStartPaymentRejectsNonPositiveAmount(t *testing.T) {
	repo := newAPIRepoStub()
	repo.users["idp_fan_1"] = uuid.New()
	h := newTestHandlers(repo, processor.Registry{})

	body, _ := json.Marshal(domain.StartPaymentRequest{
		CreatorID:    uuid.New(),
		ProductClass: domain.ProductClassPPV,
		Amount:       0,
		CountryCode:  "NG",
	})
	w := httptest.NewRecorder()
	h.StartPaymentHandler(w, authedRequest(http.MethodPost, "/payments", "idp_fan_1", body, nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestStartPaymentBlockedByFraudCheck(t *testing.T) {
	repo := newAPIRepoStub()
	repo.users["idp_fan_1"] = uuid.New()
	repo.duplicateIntent = true
	h := newTestHandlers(repo, processor.Registry{})

	body, _ := json.Marshal(domain.StartPaymentRequest{
		CreatorID:    uuid.New(),
		ProductClass: domain.ProductClassPPV,
		Amount:       50,
		CountryCode:  "NG",
	})
	w := httptest.NewRecorder()
	h.StartPaymentHandler(w, authedRequest(http.MethodPost, "/payments", "idp_fan_1", body, nil))

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for blocked payment, got %d", w.Code)
	}
	if len(repo.fraudLogs) != 1 {
		t.Fatalf("expected one fraud log, got %d", len(repo.fraudLogs))
	}
}

func TestStartPaymentUnknownUser(t *testing.T) {
	h := newTestHandlers(newAPIRepoStub(), processor.Registry{})

	w := httptest.NewRecorder()
	h.StartPaymentHandler(w, authedRequest(http.MethodPost, "/payments", "idp_stranger", []byte(`{}`), nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown subject, got %d", w.Code)
	}
}

func TestGetPaymentHiddenFromThirdParties(t *testing.T) {
	repo := newAPIRepoStub()
	outsiderID := uuid.New()
	repo.users["idp_outsider"] = outsiderID

	intent := &domain.PaymentIntent{
		ID:        uuid.New(),
		PayerID:   uuid.New(),
		CreatorID: uuid.New(),
		Status:    "pending",
	}
	repo.intents[intent.ID] = intent

	h := newTestHandlers(repo, processor.Registry{})
	w := httptest.NewRecorder()
	h.GetPaymentHandler(w, authedRequest(http.MethodGet, "/payments/"+intent.ID.String(), "idp_outsider", nil,
		map[string]string{"id": intent.ID.String()}))

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a third party, got %d", w.Code)
	}
}

func TestGetPaymentVisibleToPayer(t *testing.T) {
	repo := newAPIRepoStub()
	payerID := uuid.New()
	repo.users["idp_fan_1"] = payerID

	intent := &domain.PaymentIntent{
		ID:        uuid.New(),
		PayerID:   payerID,
		CreatorID: uuid.New(),
		Status:    "pending",
		Currency:  "NGN",
	}
	repo.intents[intent.ID] = intent

	h := newTestHandlers(repo, processor.Registry{})
	w := httptest.NewRecorder()
	h.GetPaymentHandler(w, authedRequest(http.MethodGet, "/payments/"+intent.ID.String(), "idp_fan_1", nil,
		map[string]string{"id": intent.ID.String()}))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got domain.PaymentIntent
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != intent.ID {
		t.Fatalf("expected intent %s, got %s", intent.ID, got.ID)
	}
}

func TestWithdrawalFrozenWalletForbidden(t *testing.T) {
	repo := newAPIRepoStub()
	creatorID := uuid.New()
	repo.users["idp_creator_1"] = creatorID
	reason := "chargeback investigation"
	repo.wallet = &domain.Wallet{
		CreatorID:    creatorID,
		Balance:      100_000,
		Currency:     "NGN",
		Frozen:       true,
		FrozenReason: &reason,
	}

	h := newTestHandlers(repo, processor.Registry{})
	body, _ := json.Marshal(domain.WithdrawalRequest{Amount: 10_000, Destination: "bank:058:0123456789"})
	w := httptest.NewRecorder()
	h.WithdrawalHandler(w, authedRequest(http.MethodPost, "/withdrawals", "idp_creator_1", body, nil))

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for frozen wallet, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), reason) {
		t.Fatalf("expected freeze reason in the response body, got %s", w.Body.String())
	}
}

func TestGetWalletReturnsSnapshotAndEarnings(t *testing.T) {
	repo := newAPIRepoStub()
	creatorID := uuid.New()
	repo.users["idp_creator_1"] = creatorID
	repo.wallet = &domain.Wallet{CreatorID: creatorID, Balance: 250_000, Currency: "NGN"}
	repo.earnings = []domain.Earning{
		{ID: uuid.New(), CreatorID: creatorID, Amount: 42_500, BalanceAfter: 250_000},
	}

	h := newTestHandlers(repo, processor.Registry{})
	w := httptest.NewRecorder()
	h.GetWalletHandler(w, authedRequest(http.MethodGet, "/wallet", "idp_creator_1", nil, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got walletResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Wallet.Balance != 250_000 {
		t.Fatalf("expected balance 250000, got %d", got.Wallet.Balance)
	}
	if len(got.RecentEarnings) != 1 {
		t.Fatalf("expected one earning, got %d", len(got.RecentEarnings))
	}
}

func TestAdminFeeRequiresKey(t *testing.T) {
	repo := newAPIRepoStub()
	h := newTestHandlers(repo, processor.Registry{})
	router := PaymentRoutes(h, "http://jwks.invalid", "s3cret")

	body := []byte(`{"percent":12.5}`)

	req := httptest.NewRequest(http.MethodPut, "/admin/platform-fee", bytes.NewReader(body))
	req.Header.Set("X-Admin-Api-Key", "wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong key, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/admin/platform-fee", bytes.NewReader(body))
	req.Header.Set("X-Admin-Api-Key", "s3cret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with correct key, got %d: %s", w.Code, w.Body.String())
	}
	if repo.configValues[fees.ConfigKeyFeePercent] != "12.5" {
		t.Fatalf("expected persisted fee 12.5, got %q", repo.configValues[fees.ConfigKeyFeePercent])
	}
}

func TestAdminFeeRejectsOutOfRange(t *testing.T) {
	h := newTestHandlers(newAPIRepoStub(), processor.Registry{})
	router := PaymentRoutes(h, "http://jwks.invalid", "s3cret")

	req := httptest.NewRequest(http.MethodPut, "/admin/platform-fee", bytes.NewReader([]byte(`{"percent":140}`)))
	req.Header.Set("X-Admin-Api-Key", "s3cret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range percent, got %d", w.Code)
	}
}

func TestAdminDisabledWithoutConfiguredKey(t *testing.T) {
	h := newTestHandlers(newAPIRepoStub(), processor.Registry{})
	router := PaymentRoutes(h, "http://jwks.invalid", "")

	req := httptest.NewRequest(http.MethodPut, "/admin/platform-fee", bytes.NewReader([]byte(`{"percent":12}`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when no admin key is configured, got %d", w.Code)
	}
}

func TestAuthMiddlewareRejectsMissingHeader(t *testing.T) {
	mw := AuthMiddleware("http://jwks.invalid")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run without credentials")
	})

	w := httptest.NewRecorder()
	mw(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/wallet", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w = httptest.NewRecorder()
	mw(next).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for non-bearer header, got %d", w.Code)
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/payments", nil)
	r.RemoteAddr = "10.0.0.9:51234"
	r.Header.Set("X-Forwarded-For", "197.210.53.10, 10.0.0.1")

	if got := clientIP(r); got != "197.210.53.10" {
		t.Fatalf("expected forwarded address, got %q", got)
	}

	r.Header.Del("X-Forwarded-For")
	if got := clientIP(r); got != "10.0.0.9" {
		t.Fatalf("expected remote host, got %q", got)
	}
}

func TestWebhookIgnorableEventAcknowledged(t *testing.T) {
	repo := newAPIRepoStub()
	registry := processor.Registry{
		routing.ProviderStripe: &apiProcessorStub{
			name:         routing.ProviderStripe,
			webhookEvent: &processor.WebhookEvent{EventType: "customer.updated"},
		},
	}
	h := newTestHandlers(repo, registry)
	router := PaymentRoutes(h, "http://jwks.invalid", "")

	req := httptest.NewRequest(http.MethodPost, "/payments/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for ignorable event, got %d", w.Code)
	}
	if len(repo.finalizedSuccess) != 0 {
		t.Fatal("ignorable event must not finalize anything")
	}
}
