package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-checkout/app/entity"
)

func testClient(prodURL, playgroundURL, environment string) *BeamClient {
	return NewBeamClient(BeamConfig{
		MerchantID:     "merchant-1",
		APIKey:         "key-1",
		Environment:    environment,
		ProductionHost: prodURL,
		PlaygroundHost: playgroundURL,
		RetryDelays:    []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
	}, nil)
}

func TestCreateChargeCardToken(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/charges" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") == "" {
			t.Error("missing basic auth header")
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chargeId":       "ch_1",
			"actionRequired": "REDIRECT",
			"redirect":       map[string]any{"redirectUrl": "https://3ds.example.com/auth"},
		})
	}))
	defer srv.Close()

	client := testClient(srv.URL, srv.URL, "production")
	result, err := client.CreateCharge(context.Background(), &ChargeRequest{
		Amount:      10000,
		Currency:    "THB",
		ReferenceID: "order_p1_1_a",
		ReturnURL:   "https://shop.example.com/checkout/success?ref=order_p1_1_a",
		CardToken:   &CardTokenPayment{CardTokenID: "tok_abcdef123456", SecurityCode: "123"},
	})
	if err != nil {
		t.Fatalf("create charge: %v", err)
	}
	if result.ChargeID != "ch_1" || result.ActionRequired != entity.ChargeActionRedirect {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.RedirectURL != "https://3ds.example.com/auth" {
		t.Fatalf("redirect url not parsed: %+v", result)
	}

	method, _ := gotBody["paymentMethod"].(map[string]any)
	if method["paymentMethodType"] != "CARD_TOKEN" {
		t.Fatalf("unexpected payment method payload: %v", gotBody["paymentMethod"])
	}
	if gotBody["referenceId"] != "order_p1_1_a" {
		t.Fatalf("reference id not sent: %v", gotBody)
	}
}

func TestCreateChargeRequiresPaymentMethod(t *testing.T) {
	client := testClient("http://unused.invalid", "http://unused.invalid", "production")
	_, err := client.CreateCharge(context.Background(), &ChargeRequest{Amount: 100, Currency: "THB"})
	var rejection *RejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestGetChargeReconciledRetriesPending(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		status := entity.ChargeStatusPending
		if n >= 3 {
			status = entity.ChargeStatusSucceeded
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   status,
			"amount":   10000,
			"currency": "THB",
		})
	}))
	defer srv.Close()

	client := testClient(srv.URL, srv.URL, "production")
	charge, err := client.GetChargeReconciled(context.Background(), "ch_1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if charge.Status != entity.ChargeStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", charge.Status)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected initial query + 2 retries = 3 calls, got %d", got)
	}
}

func TestGetChargeReconciledGivesUpAfterSchedule(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": entity.ChargeStatusPending})
	}))
	defer srv.Close()

	client := testClient(srv.URL, srv.URL, "production")
	charge, err := client.GetChargeReconciled(context.Background(), "ch_1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if charge.Status != entity.ChargeStatusPending {
		t.Fatalf("last observed status must be returned, got %s", charge.Status)
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Fatalf("expected 1 + 3 retries = 4 calls, got %d", got)
	}
}

func TestGetChargeReconciledHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": entity.ChargeStatusPending})
	}))
	defer srv.Close()

	client := NewBeamClient(BeamConfig{
		MerchantID:     "merchant-1",
		APIKey:         "key-1",
		Environment:    "production",
		ProductionHost: srv.URL,
		PlaygroundHost: srv.URL,
		RetryDelays:    []time.Duration{time.Hour},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := client.GetChargeReconciled(ctx, "ch_1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestPlaygroundFallbackFiresOnce(t *testing.T) {
	var prodCalls, playCalls int32

	playground := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&playCalls, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": entity.ChargeStatusSucceeded})
	}))
	defer playground.Close()

	production := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&prodCalls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"errorCode": "INVALID_CREDENTIALS_ERROR", "errorMessage": "bad credentials"},
		})
	}))
	defer production.Close()

	// Environment empty: host selection defaults to production but the
	// fallback is permitted.
	client := testClient(production.URL, playground.URL, "")
	charge, err := client.GetCharge(context.Background(), "ch_1")
	if err != nil {
		t.Fatalf("expected playground fallback to succeed: %v", err)
	}
	if charge.Status != entity.ChargeStatusSucceeded {
		t.Fatalf("unexpected status %s", charge.Status)
	}
	if prodCalls != 1 || playCalls != 1 {
		t.Fatalf("expected exactly one call per host, got prod=%d playground=%d", prodCalls, playCalls)
	}
}

func TestNoFallbackInProduction(t *testing.T) {
	var playCalls int32
	playground := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&playCalls, 1)
	}))
	defer playground.Close()

	production := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"errorCode": "INVALID_CREDENTIALS_ERROR", "errorMessage": "bad credentials"},
		})
	}))
	defer production.Close()

	client := testClient(production.URL, playground.URL, "production")
	_, err := client.GetCharge(context.Background(), "ch_1")

	var rejection *RejectionError
	if !errors.As(err, &rejection) || rejection.Code != "INVALID_CREDENTIALS_ERROR" {
		t.Fatalf("expected credentials rejection, got %v", err)
	}
	if playCalls != 0 {
		t.Fatal("playground must not be called in production")
	}
}

func TestNetworkFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	srv.Close() // connection refused from here on

	client := testClient(srv.URL, srv.URL, "production")
	_, err := client.GetCharge(context.Background(), "ch_1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRejectionCarriesProcessorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"errorCode": "CARD_DECLINED", "errorMessage": "insufficient funds"},
		})
	}))
	defer srv.Close()

	client := testClient(srv.URL, srv.URL, "production")
	_, err := client.CreateCharge(context.Background(), &ChargeRequest{
		Amount:    100,
		Currency:  "THB",
		CardToken: &CardTokenPayment{CardTokenID: "tok_abc", SecurityCode: "123"},
	})

	var rejection *RejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if rejection.Code != "CARD_DECLINED" || rejection.Message != "insufficient funds" {
		t.Fatalf("rejection fields not parsed: %+v", rejection)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatal("rejection must be distinguishable from unavailability")
	}
}

func TestTokenizeCard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/client/v1/card-tokens" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "tok_new"})
	}))
	defer srv.Close()

	client := testClient(srv.URL, srv.URL, "production")
	token, err := client.TokenizeCard(context.Background(), &TokenizeRequest{
		PAN:         "4111111111111111",
		ExpiryMonth: 12,
		ExpiryYear:  2030,
	})
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	if token != "tok_new" {
		t.Fatalf("unexpected token %s", token)
	}
}
