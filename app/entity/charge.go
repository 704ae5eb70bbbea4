package entity

// Charge status values as reported by the payment processor.
const (
	ChargeStatusPending   = "PENDING"
	ChargeStatusSucceeded = "SUCCEEDED"
	ChargeStatusFailed    = "FAILED"
)

// Action the client must perform after a charge is created.
const (
	ChargeActionNone         = "NONE"
	ChargeActionRedirect     = "REDIRECT"
	ChargeActionEncodedImage = "ENCODED_IMAGE"
)

// Charge is the processor-owned payment attempt record. This service never
// mutates it; state is re-queried from the processor whenever it matters.
type Charge struct {
	ChargeID      string
	Status        string
	Amount        int64
	Currency      string
	FailureCode   string
	CustomerEmail string
}

// CheckoutState is the orchestrator's view of one checkout attempt.
type CheckoutState string

const (
	StateInitiated           CheckoutState = "INITIATED"
	StateAwaitingRedirect    CheckoutState = "AWAITING_REDIRECT"
	StateAwaitingQRScan      CheckoutState = "AWAITING_QR_SCAN"
	StatePendingConfirmation CheckoutState = "PENDING_CONFIRMATION"
	StateSucceeded           CheckoutState = "SUCCEEDED"
	StateFailed              CheckoutState = "FAILED"
)
