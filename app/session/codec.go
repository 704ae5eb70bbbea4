// Package session issues and verifies the signed credential that binds a
// client to one checkout attempt, and caches verified credentials for the
// lifetime of the process.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/vibast-solutions/ms-go-checkout/app/entity"
)

// ErrInvalidCredential covers every verification failure: malformed token,
// bad signature, expired, fingerprint mismatch. Callers must not learn
// which check failed.
var ErrInvalidCredential = errors.New("invalid credential")

const defaultTTL = time.Hour

type Codec struct {
	secret []byte
	ttl    time.Duration
	cache  Store
	clock  clockz.Clock
}

// NewCodec builds a codec signing with the given secret. The cache is an
// optimization surface only; pass NewMemoryStore in production and a fake
// in tests.
func NewCodec(secret string, ttl time.Duration, cache Store, clock clockz.Clock) *Codec {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Codec{
		secret: []byte(secret),
		ttl:    ttl,
		cache:  cache,
		clock:  clock,
	}
}

// Issue serializes and signs a credential. IssuedAt is stamped here; the
// caller fills everything else.
func (c *Codec) Issue(cred *entity.SessionCredential) (string, error) {
	cred.IssuedAtUnixMilli = c.clock.Now().UnixMilli()

	payload, err := json.Marshal(cred)
	if err != nil {
		return "", err
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	token := encoded + "." + c.sign(encoded)

	if c.cache != nil {
		copied := *cred
		c.cache.Set(token, &copied)
	}
	return token, nil
}

// Verify validates a token and returns the credential it carries, with
// dedup flags merged from the cache when a cached copy exists.
func (c *Codec) Verify(token, fingerprint string) (*entity.SessionCredential, error) {
	encoded, signature, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || strings.Contains(signature, ".") {
		return nil, ErrInvalidCredential
	}

	expected := c.sign(encoded)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return nil, ErrInvalidCredential
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidCredential
	}

	var cred entity.SessionCredential
	if err := json.Unmarshal(payload, &cred); err != nil {
		return nil, ErrInvalidCredential
	}
	if cred.ReferenceID == "" {
		return nil, ErrInvalidCredential
	}

	if c.clock.Now().Sub(cred.IssuedAt()) > c.ttl {
		return nil, ErrInvalidCredential
	}

	unknownSide := cred.ClientFingerprint == entity.FingerprintUnknown || fingerprint == entity.FingerprintUnknown
	if !unknownSide && cred.ClientFingerprint != fingerprint {
		return nil, ErrInvalidCredential
	}

	if c.cache != nil {
		if cached := c.cache.Get(token); cached != nil {
			// The cache may know about a charge attachment or a
			// notification already sent by this process.
			if cred.ChargeID == "" {
				cred.ChargeID = cached.ChargeID
			}
			cred.WebhookSent = cached.WebhookSent
			cred.ConversionSent = cached.ConversionSent
		} else {
			copied := cred
			c.cache.Set(token, &copied)
		}
	}

	return &cred, nil
}

// AttachCharge records the processor-assigned charge id against a token's
// cached credential. The charge id is append-only: a second attach with a
// different id is ignored.
func (c *Codec) AttachCharge(token, chargeID string) {
	if c.cache == nil || chargeID == "" {
		return
	}
	if cached := c.cache.Get(token); cached != nil && cached.ChargeID == "" {
		cached.ChargeID = chargeID
		c.cache.Set(token, cached)
	}
}

// TTL reports the validity window credentials are issued with.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Cache exposes the backing store so the dispatcher can use it as a dedup
// surface.
func (c *Codec) Cache() Store {
	return c.cache
}

func (c *Codec) sign(encodedPayload string) string {
	mac := hmac.New(sha256.New, c.secret)
	_, _ = mac.Write([]byte(encodedPayload))
	return hex.EncodeToString(mac.Sum(nil))
}
