// Package notify delivers the downstream side effects of a successful
// charge: the business webhook and the ad-platform conversion event. Both
// are fire-and-forget from the buyer's point of view — a delivery failure
// is logged and swallowed, never surfaced to the confirmation page.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"

	"github.com/vibast-solutions/ms-go-checkout/app/factory"
)

// WebhookPayload is the JSON body posted to the per-product webhook URL.
type WebhookPayload struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Product   struct {
		Slug     string `json:"slug"`
		Name     string `json:"name"`
		Price    int64  `json:"price"`
		Currency string `json:"currency"`
	} `json:"product"`
	Customer struct {
		Email string `json:"email,omitempty"`
		Name  string `json:"name,omitempty"`
	} `json:"customer"`
	Transaction struct {
		ChargeID    string `json:"chargeId"`
		ReferenceID string `json:"referenceId"`
		Amount      int64  `json:"amount"`
		Currency    string `json:"currency"`
	} `json:"transaction"`
}

type WebhookSender struct {
	client      *http.Client
	clock       clockz.Clock
	retryDelays []time.Duration
	logger      logrus.FieldLogger
}

// Retry schedule for webhook delivery. A non-2xx response or timeout is
// retried; after the last attempt the failure is logged and swallowed.
var webhookRetryDelays = []time.Duration{time.Second, 3 * time.Second, 9 * time.Second}

func NewWebhookSender(timeout time.Duration, clock clockz.Clock) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if clock == nil {
		clock = clockz.RealClock
	}
	return &WebhookSender{
		client:      &http.Client{Timeout: timeout},
		clock:       clock,
		retryDelays: webhookRetryDelays,
		logger:      factory.NewModuleLogger("webhook-sender"),
	}
}

// WithRetryDelays overrides the backoff schedule. Attempt count follows the
// schedule length; used by tests.
func (s *WebhookSender) WithRetryDelays(delays []time.Duration) *WebhookSender {
	s.retryDelays = delays
	return s
}

// Send posts the payload, retrying per the schedule. Returns true when a
// 2xx response was received.
func (s *WebhookSender) Send(ctx context.Context, url string, payload *WebhookPayload) bool {
	if url == "" {
		return false
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).Error("Webhook payload marshal failed")
		return false
	}

	maxAttempts := len(s.retryDelays)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if s.attempt(ctx, url, body) {
			return true
		}
		if attempt < maxAttempts-1 {
			select {
			case <-s.clock.After(s.retryDelays[attempt]):
			case <-ctx.Done():
				return false
			}
		}
	}

	s.logger.WithFields(logrus.Fields{
		"url":      url,
		"attempts": maxAttempts,
	}).Error("Webhook delivery failed after all attempts")
	return false
}

func (s *WebhookSender) attempt(ctx context.Context, url string, body []byte) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		s.logger.WithError(err).Error("Webhook request build failed")
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ms-go-checkout/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.WithError(err).WithField("url", url).Warn("Webhook attempt failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.WithFields(logrus.Fields{
			"url":    url,
			"status": resp.StatusCode,
		}).Warn("Webhook attempt returned non-2xx")
		return false
	}
	return true
}
