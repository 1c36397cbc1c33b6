package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/homevia/subscription-service/internal/app"
	"github.com/homevia/subscription-service/internal/domain"
)

const (
	testJWTSecret   = "test-secret"
	testInternalKey = "internal-key"
)

// repoStub is the minimal in-memory repository the handler tests need.
type repoStub struct {
	subs map[string]*domain.Subscription
}

func newRepoStub() *repoStub { return &repoStub{subs: map[string]*domain.Subscription{}} }

func (s *repoStub) put(sub *domain.Subscription) {
	cp := *sub
	s.subs[sub.ID] = &cp
}

func (s *repoStub) Create(ctx context.Context, sub *domain.Subscription) error {
	sub.CreatedAt = time.Now()
	s.put(sub)
	return nil
}

func (s *repoStub) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	stored, ok := s.subs[id]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	cp := *stored
	return &cp, nil
}

func (s *repoStub) FindActiveByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	now := time.Now()
	for _, sub := range s.subs {
		if sub.UserID == userID && sub.Status == domain.StatusActive && sub.EndDate.After(now) {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, domain.ErrSubscriptionNotFound
}

func (s *repoStub) ListActiveByUserID(ctx context.Context, userID string) ([]domain.Subscription, error) {
	return nil, nil
}

func (s *repoStub) ListByUserID(ctx context.Context, userID string) ([]domain.Subscription, error) {
	var out []domain.Subscription
	for _, sub := range s.subs {
		if sub.UserID == userID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (s *repoStub) UpdateGuarded(ctx context.Context, sub *domain.Subscription, allowedPrior ...domain.SubscriptionStatus) error {
	stored, ok := s.subs[sub.ID]
	if !ok {
		return domain.ErrConflict
	}
	for _, status := range allowedPrior {
		if stored.Status == status && stored.UpdatedAt.Equal(sub.UpdatedAt) {
			sub.UpdatedAt = time.Now()
			s.put(sub)
			return nil
		}
	}
	return domain.ErrConflict
}

func (s *repoStub) ExpireDue(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	return nil, nil
}

func (s *repoStub) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]domain.Subscription, error) {
	return nil, nil
}

func (s *repoStub) ListWithLapsedAddons(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	return nil, nil
}

func (s *repoStub) UpdateAddonActivity(ctx context.Context, id string, details []domain.AddonDetail) error {
	return nil
}

func (s *repoStub) ListDuplicateActiveUserIDs(ctx context.Context) ([]string, error) {
	return nil, nil
}

// catalogStub serves a single pro plan and no add-ons.
type catalogStub struct{}

func (catalogStub) GetPlan(ctx context.Context, planID string) (*domain.Plan, error) {
	if planID != "plan-pro" {
		return nil, domain.ErrPlanNotFound
	}
	return &domain.Plan{
		ID:                "plan-pro",
		Name:              "Pro",
		Price:             9900,
		Currency:          domain.CurrencyUSD,
		BillingPeriodDays: 30,
		Limits:            domain.PlanLimits{Properties: 10},
	}, nil
}

func (catalogStub) GetAddon(ctx context.Context, addonID string) (*domain.Addon, error) {
	return nil, domain.ErrAddonNotFound
}

type publisherStub struct{}

func (publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return nil
}

type apiFixture struct {
	repo   *repoStub
	router http.Handler
}

func newAPIFixture() *apiFixture {
	repo := newRepoStub()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := app.NewService(repo, catalogStub{}, publisherStub{}, nil, logger, 30)
	return &apiFixture{
		repo:   repo,
		router: NewRouter(NewHandler(service), testJWTSecret, testInternalKey),
	}
}

func bearerToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return "Bearer " + signed
}

func (f *apiFixture) do(t *testing.T, method, path, auth string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func (f *apiFixture) doInternal(t *testing.T, method, path, key string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if key != "" {
		req.Header.Set("X-Internal-Api-Key", key)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func (f *apiFixture) seedSub(userID string, status domain.SubscriptionStatus) *domain.Subscription {
	now := time.Now()
	sub := &domain.Subscription{
		ID:        uuid.NewString(),
		UserID:    userID,
		PlanID:    "plan-pro",
		Status:    status,
		StartDate: now.AddDate(0, 0, -1),
		EndDate:   now.AddDate(0, 0, 29),
		Amount:    9900,
		Currency:  domain.CurrencyUSD,
		CreatedAt: now,
	}
	f.repo.put(sub)
	return sub
}

func TestCreateSubscription_RequiresAuth(t *testing.T) {
	f := newAPIFixture()

	rr := f.do(t, http.MethodPost, "/subscriptions", "", map[string]string{"plan_id": "plan-pro"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/subscriptions", "Bearer not-a-token", map[string]string{"plan_id": "plan-pro"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a garbage token, got %d", rr.Code)
	}
}

func TestCreateSubscription_CreatesPending(t *testing.T) {
	f := newAPIFixture()

	rr := f.do(t, http.MethodPost, "/subscriptions", bearerToken(t, "user-1"), map[string]interface{}{
		"plan_id": "plan-pro",
		"amount":  9900,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var sub domain.Subscription
	if err := json.Unmarshal(rr.Body.Bytes(), &sub); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if sub.Status != domain.StatusPending || sub.UserID != "user-1" {
		t.Fatalf("unexpected subscription in response: %+v", sub)
	}
}

func TestCreateSubscription_ValidationMapsTo400(t *testing.T) {
	f := newAPIFixture()

	rr := f.do(t, http.MethodPost, "/subscriptions", bearerToken(t, "user-1"), map[string]interface{}{
		"plan_id": "plan-pro",
		"amount":  -5,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a negative amount, got %d", rr.Code)
	}
}

func TestActivate_InternalKeyRequired(t *testing.T) {
	f := newAPIFixture()
	sub := f.seedSub("user-1", domain.StatusPending)
	path := fmt.Sprintf("/internal/subscriptions/%s/activate", sub.ID)
	body := map[string]string{"transaction_ref": "txn-1"}

	if rr := f.doInternal(t, http.MethodPost, path, "", body); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without the internal key, got %d", rr.Code)
	}
	if rr := f.doInternal(t, http.MethodPost, path, "wrong-key", body); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a wrong internal key, got %d", rr.Code)
	}
	if rr := f.doInternal(t, http.MethodPost, path, testInternalKey, body); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with the internal key, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestActivate_DuplicateMapsTo409(t *testing.T) {
	f := newAPIFixture()
	sub := f.seedSub("user-1", domain.StatusPending)
	path := fmt.Sprintf("/internal/subscriptions/%s/activate", sub.ID)
	body := map[string]string{"transaction_ref": "txn-1"}

	if rr := f.doInternal(t, http.MethodPost, path, testInternalKey, body); rr.Code != http.StatusOK {
		t.Fatalf("first activation failed: %d %s", rr.Code, rr.Body.String())
	}
	if rr := f.doInternal(t, http.MethodPost, path, testInternalKey, body); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a duplicate activation, got %d", rr.Code)
	}
}

func TestActivate_UnknownSubscriptionMapsTo404(t *testing.T) {
	f := newAPIFixture()
	path := fmt.Sprintf("/internal/subscriptions/%s/activate", uuid.NewString())

	rr := f.doInternal(t, http.MethodPost, path, testInternalKey, map[string]string{"transaction_ref": "txn-1"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown subscription, got %d", rr.Code)
	}
}

func TestRenew_NonExtendingEndDateMapsTo400(t *testing.T) {
	f := newAPIFixture()
	sub := f.seedSub("user-1", domain.StatusActive)
	path := fmt.Sprintf("/internal/subscriptions/%s/renew", sub.ID)

	rr := f.doInternal(t, http.MethodPost, path, testInternalKey, map[string]interface{}{
		"new_end_date":    sub.EndDate.Add(-time.Hour).Format(time.RFC3339),
		"transaction_ref": "txn-2",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a non-extending end date, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCancel_OwnershipEnforced(t *testing.T) {
	f := newAPIFixture()
	sub := f.seedSub("user-1", domain.StatusActive)
	path := fmt.Sprintf("/subscriptions/%s/cancel", sub.ID)

	// A different authenticated user must see a 404, not a 403, so ids do not
	// leak.
	if rr := f.do(t, http.MethodPost, path, bearerToken(t, "user-2"), nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's subscription, got %d", rr.Code)
	}

	rr := f.do(t, http.MethodPost, path, bearerToken(t, "user-1"), map[string]string{"reason": "too expensive"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for the owner, got %d: %s", rr.Code, rr.Body.String())
	}
	var cancelled domain.Subscription
	if err := json.Unmarshal(rr.Body.Bytes(), &cancelled); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled subscription, got %q", cancelled.Status)
	}
}

func TestCancel_ExpiredMapsTo409(t *testing.T) {
	f := newAPIFixture()
	sub := f.seedSub("user-1", domain.StatusExpired)
	path := fmt.Sprintf("/subscriptions/%s/cancel", sub.ID)

	rr := f.do(t, http.MethodPost, path, bearerToken(t, "user-1"), nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 cancelling an expired subscription, got %d", rr.Code)
	}
}

func TestEntitlements_AlwaysSucceeds(t *testing.T) {
	f := newAPIFixture()

	// No subscription at all: free tier, still a 200.
	rr := f.do(t, http.MethodGet, "/entitlements", bearerToken(t, "user-none"), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for the free tier, got %d", rr.Code)
	}
	var set domain.EntitlementSet
	if err := json.Unmarshal(rr.Body.Bytes(), &set); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	free := domain.FreeTierEntitlements()
	if set.Limits != free.Limits {
		t.Fatalf("expected free-tier limits, got %+v", set.Limits)
	}
}

func TestCurrentSubscription_NoHistoryMapsTo404(t *testing.T) {
	f := newAPIFixture()

	rr := f.do(t, http.MethodGet, "/subscriptions/current", bearerToken(t, "user-none"), nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a user with no history, got %d", rr.Code)
	}
}

func TestPaymentHistory_ReturnsLedger(t *testing.T) {
	f := newAPIFixture()
	sub := f.seedSub("user-1", domain.StatusActive)
	stored := f.repo.subs[sub.ID]
	stored.PaymentHistory = []domain.PaymentEntry{
		{Type: domain.PaymentEntryPurchase, Amount: 9900, PaymentRef: "txn-1", Date: time.Now()},
	}

	rr := f.do(t, http.MethodGet, fmt.Sprintf("/subscriptions/%s/payments", sub.ID), bearerToken(t, "user-1"), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var ledger []domain.PaymentEntry
	if err := json.Unmarshal(rr.Body.Bytes(), &ledger); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(ledger) != 1 || ledger[0].Type != domain.PaymentEntryPurchase {
		t.Fatalf("unexpected ledger: %+v", ledger)
	}
}
