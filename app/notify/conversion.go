package notify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-checkout/app/factory"
)

const defaultGraphEndpoint = "https://graph.facebook.com/v18.0"

// ConversionEvent is one server-side purchase event for the ad platform.
// PII is hashed before transmission; the event id is deterministic so the
// platform can deduplicate against the browser-side pixel event.
type ConversionEvent struct {
	EventID        string
	EventTime      int64 // unix seconds
	EventSourceURL string

	Email     string // raw; hashed before sending
	ClientIP  string
	UserAgent string

	Value       float64
	Currency    string
	ContentName string
	ContentIDs  []string
}

type ConversionConfig struct {
	PixelID       string
	AccessToken   string
	TestEventCode string
	Endpoint      string // override for tests
	HTTPTimeout   time.Duration
}

type ConversionSender struct {
	cfg    ConversionConfig
	client *http.Client
	logger logrus.FieldLogger
}

func NewConversionSender(cfg ConversionConfig) *ConversionSender {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultGraphEndpoint
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	return &ConversionSender{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		logger: factory.NewModuleLogger("conversion-sender"),
	}
}

// Send posts the event. Returns true on a 2xx response; all failures are
// logged and swallowed.
func (s *ConversionSender) Send(ctx context.Context, event *ConversionEvent) bool {
	if s.cfg.PixelID == "" || s.cfg.AccessToken == "" {
		s.logger.Error("Conversion sender not configured: missing pixel id or access token")
		return false
	}

	data := map[string]any{
		"event_name":       "Purchase",
		"event_time":       event.EventTime,
		"event_id":         event.EventID,
		"event_source_url": event.EventSourceURL,
		"action_source":    "website",
		"user_data": map[string]any{
			"em":                HashPII(event.Email),
			"client_ip_address": event.ClientIP,
			"client_user_agent": event.UserAgent,
		},
		"custom_data": map[string]any{
			"value":        event.Value,
			"currency":     event.Currency,
			"content_name": event.ContentName,
			"content_ids":  event.ContentIDs,
		},
	}

	payload := map[string]any{
		"data":         []any{data},
		"access_token": s.cfg.AccessToken,
	}
	if s.cfg.TestEventCode != "" {
		payload["test_event_code"] = s.cfg.TestEventCode
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).Error("Conversion payload marshal failed")
		return false
	}

	url := fmt.Sprintf("%s/%s/events", s.cfg.Endpoint, s.cfg.PixelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		s.logger.WithError(err).Error("Conversion request build failed")
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.WithError(err).Warn("Conversion event send failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.WithFields(logrus.Fields{
			"status":   resp.StatusCode,
			"event_id": event.EventID,
		}).Warn("Conversion event rejected")
		return false
	}

	s.logger.WithField("event_id", event.EventID).Info("Conversion event sent")
	return true
}

// HashPII one-way hashes a personally identifying value the way the ad
// platform requires: lowercased, trimmed, SHA-256 hex.
func HashPII(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// EventID derives the deterministic dedup identifier for a checkout
// attempt: the same reference id always yields the same event id, so the
// browser pixel and this server-side event collapse into one purchase.
func EventID(referenceID string) string {
	sum := sha256.Sum256([]byte(referenceID))
	return hex.EncodeToString(sum[:])[:32]
}
