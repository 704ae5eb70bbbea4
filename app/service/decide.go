package service

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"

	"github.com/vibast-solutions/ms-go-checkout/app/entity"
)

// Reference id prefixes. The prefix encodes the payment method so the
// product slug can be recovered from a bare reference when the credential
// carries no slug.
const (
	refPrefixCard = "order"
	refPrefixQR   = "pp"
)

// Decision is the outcome of one confirmation pass: the state the checkout
// moves to and which notifications are still owed. It never reaches out to
// the network; callers act on it.
type Decision struct {
	Next           entity.CheckoutState
	SendWebhook    bool
	SendConversion bool
	FailureReason  string
}

// Decide maps an observed charge onto the next checkout state. All entry
// points that look at charge status route through here so the transition
// rules live in one place.
//
// The send flags are an optimistic view from the credential's own markers;
// the dispatcher re-checks every surface immediately before sending.
func Decide(cred *entity.SessionCredential, charge *entity.Charge) Decision {
	switch charge.Status {
	case entity.ChargeStatusSucceeded:
		return Decision{
			Next:           entity.StateSucceeded,
			SendWebhook:    !cred.Sent(entity.NotificationWebhook),
			SendConversion: cred.AdClickID != "" && !cred.Sent(entity.NotificationConversion),
		}
	case entity.ChargeStatusPending:
		return Decision{Next: entity.StatePendingConfirmation, FailureReason: "pending"}
	default:
		reason := charge.FailureCode
		if reason == "" {
			reason = "failed"
		}
		return Decision{Next: entity.StateFailed, FailureReason: reason}
	}
}

func newReferenceID(prefix, slug string, clock clockz.Clock) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%d_%s", prefix, slug, clock.Now().UnixMilli(), suffix)
}

// slugFromReference recovers the product slug from a reference id shaped
// like <prefix>_<slug>_<ts>_<rand>. Slugs may contain underscores, so the
// slug is everything between the prefix and the trailing two segments.
func slugFromReference(ref string) string {
	parts := strings.Split(ref, "_")
	if len(parts) < 4 {
		return ""
	}
	if parts[0] != refPrefixCard && parts[0] != refPrefixQR {
		return ""
	}
	return strings.Join(parts[1:len(parts)-2], "_")
}
