package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/vibast-solutions/ms-go-checkout/app/entity"
)

// ErrUnavailable marks network-level failures reaching the processor. These
// are retryable: the client's next poll or reload re-queries fresh state.
var ErrUnavailable = errors.New("payment processor unavailable")

// RejectionError is a structured error returned by the processor itself
// (declined charge, bad credentials, malformed request). Not retryable as-is.
type RejectionError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("processor rejected request (%d %s): %s", e.StatusCode, e.Code, e.Message)
}

// CardTokenPayment pays with a previously tokenized card. The CVV is carried
// here only in memory for the single charge call and is never logged.
type CardTokenPayment struct {
	CardTokenID  string
	SecurityCode string
}

// QRPayment pays via a scannable QR code with a bounded validity.
type QRPayment struct {
	ExpiresAt string // RFC 3339
}

// ChargeRequest describes one charge creation. Exactly one payment method
// must be set.
type ChargeRequest struct {
	Amount        int64
	Currency      string
	ReferenceID   string
	ReturnURL     string
	CustomerEmail string

	CardToken *CardTokenPayment
	QR        *QRPayment
}

// EncodedImage is the QR payload handed back for QR charges.
type EncodedImage struct {
	ImageBase64 string
	RawData     string
	Expiry      string
}

// ChargeResult is the processor's answer to a charge creation.
type ChargeResult struct {
	ChargeID       string
	ActionRequired string
	RedirectURL    string
	EncodedImage   *EncodedImage
}

// TokenizeRequest carries raw card data for server-side tokenization.
type TokenizeRequest struct {
	PAN            string
	ExpiryMonth    int
	ExpiryYear     int
	CardHolderName string
}

// Processor is the remote charge API. GetChargeReconciled absorbs the
// processor's eventual consistency with a bounded retry; GetCharge is the
// single plain query used by the poll endpoint.
type Processor interface {
	CreateCharge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error)
	GetCharge(ctx context.Context, chargeID string) (*entity.Charge, error)
	GetChargeReconciled(ctx context.Context, chargeID string) (*entity.Charge, error)
	TokenizeCard(ctx context.Context, req *TokenizeRequest) (string, error)
}
