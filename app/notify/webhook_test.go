package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastWebhookSender() *WebhookSender {
	return NewWebhookSender(time.Second, nil).
		WithRetryDelays([]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond})
}

func samplePayload() *WebhookPayload {
	p := &WebhookPayload{Event: "payment.succeeded", Timestamp: "2026-01-02T03:04:05Z"}
	p.Product.Slug = "p1"
	p.Product.Name = "Starter Package"
	p.Product.Price = 10000
	p.Product.Currency = "THB"
	p.Transaction.ChargeID = "ch_1"
	p.Transaction.ReferenceID = "order_p1_1_a"
	p.Transaction.Amount = 10000
	p.Transaction.Currency = "THB"
	return p
}

func TestWebhookSendSuccess(t *testing.T) {
	var got WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Error("missing json content type")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if !fastWebhookSender().Send(context.Background(), srv.URL, samplePayload()) {
		t.Fatal("expected send to succeed")
	}
	if got.Event != "payment.succeeded" || got.Transaction.ChargeID != "ch_1" {
		t.Fatalf("payload not delivered intact: %+v", got)
	}
}

func TestWebhookRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if !fastWebhookSender().Send(context.Background(), srv.URL, samplePayload()) {
		t.Fatal("expected third attempt to succeed")
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestWebhookGivesUpAfterAllAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if fastWebhookSender().Send(context.Background(), srv.URL, samplePayload()) {
		t.Fatal("expected send to report failure")
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestWebhookEmptyURLIsNoop(t *testing.T) {
	if fastWebhookSender().Send(context.Background(), "", samplePayload()) {
		t.Fatal("empty url must not report success")
	}
}

func TestHashPII(t *testing.T) {
	// SHA-256 of "buyer@example.com" after normalization.
	a := HashPII("  Buyer@Example.COM ")
	b := HashPII("buyer@example.com")
	if a != b {
		t.Fatal("hash must normalize case and whitespace")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %q", a)
	}
	if HashPII("") != "" {
		t.Fatal("empty value must hash to empty string")
	}
}

func TestEventIDDeterministic(t *testing.T) {
	if EventID("order_p1_1_a") != EventID("order_p1_1_a") {
		t.Fatal("event id must be deterministic")
	}
	if EventID("order_p1_1_a") == EventID("order_p1_1_b") {
		t.Fatal("distinct references must map to distinct event ids")
	}
	if len(EventID("order_p1_1_a")) != 32 {
		t.Fatalf("unexpected event id length: %q", EventID("order_p1_1_a"))
	}
}

func TestConversionSendBuildsHashedPayload(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pixel-1/events" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewConversionSender(ConversionConfig{
		PixelID:       "pixel-1",
		AccessToken:   "token-1",
		TestEventCode: "TEST123",
		Endpoint:      srv.URL,
	})

	ok := sender.Send(context.Background(), &ConversionEvent{
		EventID:   EventID("order_p1_1_a"),
		EventTime: 1700000000,
		Email:     "buyer@example.com",
		ClientIP:  "203.0.113.7",
		Value:     100,
		Currency:  "THB",
	})
	if !ok {
		t.Fatal("expected send to succeed")
	}

	if payload["test_event_code"] != "TEST123" {
		t.Fatal("test event code not attached")
	}
	data := payload["data"].([]any)[0].(map[string]any)
	userData := data["user_data"].(map[string]any)
	if userData["em"] == "buyer@example.com" {
		t.Fatal("email must be hashed, never sent raw")
	}
	if userData["em"] != HashPII("buyer@example.com") {
		t.Fatal("email hash mismatch")
	}
}

func TestConversionSendUnconfigured(t *testing.T) {
	sender := NewConversionSender(ConversionConfig{})
	if sender.Send(context.Background(), &ConversionEvent{EventID: "e"}) {
		t.Fatal("unconfigured sender must fail closed")
	}
}
