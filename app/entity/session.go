package entity

import "time"

// FingerprintUnknown is recorded when the client network address cannot be
// determined (local dev, some NAT setups). A credential issued with an
// unknown fingerprint skips the fingerprint match on verification.
const FingerprintUnknown = "unknown"

// NotificationKind identifies one downstream side effect of a successful
// charge. Each kind is deduplicated independently.
type NotificationKind string

const (
	NotificationWebhook    NotificationKind = "webhook"
	NotificationConversion NotificationKind = "conversion"
)

// SessionCredential is the client-held proof that a checkout attempt was
// legitimately initiated. It is serialized, signed and handed to the client;
// the server keeps at most a cache copy.
type SessionCredential struct {
	ReferenceID       string `json:"reference_id"`
	ChargeID          string `json:"charge_id,omitempty"`
	IssuedAtUnixMilli int64  `json:"issued_at"`
	ClientFingerprint string `json:"fingerprint"`
	ProductSlug       string `json:"product_slug,omitempty"`
	CustomerEmail     string `json:"customer_email,omitempty"`
	CustomerName      string `json:"customer_name,omitempty"`
	AdClickID         string `json:"ad_click_id,omitempty"`

	// Dedup flags live outside the signed payload: they are merged in from
	// the session cache on verification and never reset once true.
	WebhookSent    bool `json:"-"`
	ConversionSent bool `json:"-"`
}

func (c *SessionCredential) IssuedAt() time.Time {
	return time.UnixMilli(c.IssuedAtUnixMilli)
}

// MarkSent flips the dedup flag for the given kind. Flags are append-only.
func (c *SessionCredential) MarkSent(kind NotificationKind) {
	switch kind {
	case NotificationWebhook:
		c.WebhookSent = true
	case NotificationConversion:
		c.ConversionSent = true
	}
}

func (c *SessionCredential) Sent(kind NotificationKind) bool {
	switch kind {
	case NotificationWebhook:
		return c.WebhookSent
	case NotificationConversion:
		return c.ConversionSent
	default:
		return false
	}
}
