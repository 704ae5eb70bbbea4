package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"

	"github.com/vibast-solutions/ms-go-checkout/app/catalog"
	"github.com/vibast-solutions/ms-go-checkout/app/entity"
	"github.com/vibast-solutions/ms-go-checkout/app/factory"
	"github.com/vibast-solutions/ms-go-checkout/app/notify"
	"github.com/vibast-solutions/ms-go-checkout/app/provider"
	"github.com/vibast-solutions/ms-go-checkout/app/ratelimit"
	"github.com/vibast-solutions/ms-go-checkout/app/session"
	"github.com/vibast-solutions/ms-go-checkout/config"
)

const defaultQRExpiry = 10 * time.Minute

type CardInitiationInput struct {
	ProductSlug   string
	CardToken     string
	SecurityCode  string
	CustomerEmail string
	CustomerName  string
	AdClickID     string
	Fingerprint   string
}

type CardInitiationResult struct {
	RedirectURL string
	Token       string
	ChargeID    string
}

type QRInitiationInput struct {
	ProductSlug   string
	CustomerEmail string
	CustomerName  string
	AdClickID     string
	Fingerprint   string
}

type QRInitiationResult struct {
	ChargeID  string
	Token     string
	QRBase64  string
	ExpiresAt time.Time
}

type ConfirmInput struct {
	Token       string
	Fingerprint string
	ReferenceID string
	ChargeID    string

	// Attribution context forwarded to the conversion event.
	ClientIP  string
	UserAgent string
	PageURL   string

	// Request-scoped dedup surfaces (client-held cookies) joining the
	// dispatcher's global ones for this confirmation only.
	Surfaces []notify.Surface
}

type ConfirmResult struct {
	Succeeded     bool
	ChargeID      string
	ReferenceID   string
	Product       *catalog.Product
	Amount        int64
	Currency      string
	FailureReason string
}

type RecheckInput struct {
	Token       string
	Fingerprint string
	Reason      string
	ChargeID    string
}

type FailureView struct {
	Reason    string
	ChargeID  string
	Recovered bool
}

type PollInput struct {
	Token       string
	Fingerprint string
	ChargeID    string
}

type CheckoutService struct {
	catalog    *catalog.Catalog
	codec      *session.Codec
	limiter    *ratelimit.Limiter
	processor  provider.Processor
	dispatcher *notify.Dispatcher
	cfg        config.CheckoutConfig
	clock      clockz.Clock
	logger     logrus.FieldLogger
}

func NewCheckoutService(
	cat *catalog.Catalog,
	codec *session.Codec,
	limiter *ratelimit.Limiter,
	processor provider.Processor,
	dispatcher *notify.Dispatcher,
	cfg config.CheckoutConfig,
	clock clockz.Clock,
) *CheckoutService {
	if clock == nil {
		clock = clockz.RealClock
	}
	if cfg.QRExpiry <= 0 {
		cfg.QRExpiry = defaultQRExpiry
	}

	return &CheckoutService{
		catalog:    cat,
		codec:      codec,
		limiter:    limiter,
		processor:  processor,
		dispatcher: dispatcher,
		cfg:        cfg,
		clock:      clock,
		logger:     factory.NewModuleLogger("checkout-service"),
	}
}

// InitiateCardPayment creates a card charge for the product and hands back
// where to send the client: the processor's 3DS page when the charge needs
// authentication, the confirmation page otherwise.
func (s *CheckoutService) InitiateCardPayment(ctx context.Context, in *CardInitiationInput) (*CardInitiationResult, error) {
	if !s.limiter.Allow(ratelimit.ActionCardInitiation, in.Fingerprint) {
		return nil, ErrRateLimited
	}
	if err := validateEmail(in.CustomerEmail); err != nil {
		return nil, err
	}
	if err := validateCustomerName(in.CustomerName); err != nil {
		return nil, err
	}
	if err := validateCardToken(in.CardToken); err != nil {
		return nil, err
	}
	if err := validateSecurityCode(in.SecurityCode); err != nil {
		return nil, err
	}

	product, err := s.activeProduct(in.ProductSlug)
	if err != nil {
		return nil, err
	}

	referenceID := newReferenceID(refPrefixCard, product.Slug, s.clock)

	token, err := s.issueCredential(referenceID, product.Slug, in.Fingerprint, in.CustomerEmail, in.CustomerName, in.AdClickID)
	if err != nil {
		return nil, err
	}

	result, err := s.processor.CreateCharge(ctx, &provider.ChargeRequest{
		Amount:        product.Price,
		Currency:      product.Currency,
		ReferenceID:   referenceID,
		ReturnURL:     s.confirmationURL(referenceID, token),
		CustomerEmail: strings.TrimSpace(in.CustomerEmail),
		CardToken: &provider.CardTokenPayment{
			CardTokenID:  in.CardToken,
			SecurityCode: in.SecurityCode,
		},
	})
	if err != nil {
		return nil, s.translateProcessorErr(err, referenceID)
	}

	s.codec.AttachCharge(token, result.ChargeID)

	out := &CardInitiationResult{Token: token, ChargeID: result.ChargeID}
	switch result.ActionRequired {
	case entity.ChargeActionRedirect:
		out.RedirectURL = result.RedirectURL
	case entity.ChargeActionNone:
		out.RedirectURL = s.confirmationURL(referenceID, token)
	default:
		s.logger.WithFields(logrus.Fields{
			"reference_id": referenceID,
			"action":       result.ActionRequired,
		}).Error("unexpected charge action for card payment")
		return nil, fmt.Errorf("unexpected charge action %q", result.ActionRequired)
	}

	return out, nil
}

// InitiateQRPayment creates a scannable QR charge with a bounded validity
// window. The client polls charge status while the code is displayed.
func (s *CheckoutService) InitiateQRPayment(ctx context.Context, in *QRInitiationInput) (*QRInitiationResult, error) {
	if !s.limiter.Allow(ratelimit.ActionQRInitiation, in.Fingerprint) {
		return nil, ErrRateLimited
	}
	if err := validateEmail(in.CustomerEmail); err != nil {
		return nil, err
	}
	if err := validateCustomerName(in.CustomerName); err != nil {
		return nil, err
	}

	product, err := s.activeProduct(in.ProductSlug)
	if err != nil {
		return nil, err
	}

	referenceID := newReferenceID(refPrefixQR, product.Slug, s.clock)
	expiresAt := s.clock.Now().Add(s.cfg.QRExpiry)

	token, err := s.issueCredential(referenceID, product.Slug, in.Fingerprint, in.CustomerEmail, in.CustomerName, in.AdClickID)
	if err != nil {
		return nil, err
	}

	result, err := s.processor.CreateCharge(ctx, &provider.ChargeRequest{
		Amount:        product.Price,
		Currency:      product.Currency,
		ReferenceID:   referenceID,
		CustomerEmail: strings.TrimSpace(in.CustomerEmail),
		QR:            &provider.QRPayment{ExpiresAt: expiresAt.UTC().Format(time.RFC3339)},
	})
	if err != nil {
		return nil, s.translateProcessorErr(err, referenceID)
	}

	if result.ActionRequired != entity.ChargeActionEncodedImage || result.EncodedImage == nil {
		s.logger.WithFields(logrus.Fields{
			"reference_id": referenceID,
			"action":       result.ActionRequired,
		}).Error("unexpected charge action for qr payment")
		return nil, fmt.Errorf("unexpected charge action %q", result.ActionRequired)
	}

	s.codec.AttachCharge(token, result.ChargeID)

	return &QRInitiationResult{
		ChargeID:  result.ChargeID,
		Token:     token,
		QRBase64:  result.EncodedImage.ImageBase64,
		ExpiresAt: expiresAt,
	}, nil
}

// ConfirmSuccess is the confirmation-page decision. It re-verifies the
// charge against the processor with reconciliation, fires outstanding
// notifications on success, and reports the failure route otherwise.
// Reloads are safe: the dedup surfaces keep notifications at-most-once.
func (s *CheckoutService) ConfirmSuccess(ctx context.Context, in *ConfirmInput) (*ConfirmResult, error) {
	cred, err := s.codec.Verify(in.Token, in.Fingerprint)
	if err != nil {
		return nil, ErrInvalidCredential
	}

	referenceID := strings.TrimSpace(in.ReferenceID)
	if referenceID == "" {
		referenceID = cred.ReferenceID
	}
	if referenceID != cred.ReferenceID {
		return nil, ErrInvalidCredential
	}

	chargeID := strings.TrimSpace(in.ChargeID)
	if chargeID == "" {
		chargeID = cred.ChargeID
	}
	if chargeID == "" {
		return nil, fmt.Errorf("%w: missing charge id", ErrInvalidRequest)
	}
	if cred.ChargeID != "" && chargeID != cred.ChargeID {
		return nil, ErrInvalidCredential
	}

	product, err := s.resolveProduct(cred, referenceID)
	if err != nil {
		return nil, err
	}

	charge, err := s.processor.GetChargeReconciled(ctx, chargeID)
	if err != nil {
		return nil, s.translateProcessorErr(err, referenceID)
	}

	decision := Decide(cred, charge)
	if decision.Next != entity.StateSucceeded {
		return &ConfirmResult{
			ChargeID:      chargeID,
			ReferenceID:   referenceID,
			Product:       product,
			FailureReason: decision.FailureReason,
		}, nil
	}

	s.codec.AttachCharge(in.Token, chargeID)
	surfaces := append([]notify.Surface{notify.SessionSurface(s.codec.Cache(), in.Token)}, in.Surfaces...)

	// The processor's record of the payer wins over what the credential
	// captured at initiation.
	customerEmail := charge.CustomerEmail
	if customerEmail == "" {
		customerEmail = cred.CustomerEmail
	}

	now := s.clock.Now().UTC()
	s.dispatcher.DispatchWebhook(ctx, &notify.WebhookDelivery{
		ChargeID:      chargeID,
		ReferenceID:   referenceID,
		Product:       *product,
		CustomerEmail: customerEmail,
		CustomerName:  cred.CustomerName,
		Timestamp:     now.Format(time.RFC3339),
	}, surfaces...)

	s.dispatcher.DispatchConversion(ctx, &notify.ConversionDelivery{
		ChargeID:       chargeID,
		ReferenceID:    referenceID,
		Product:        *product,
		AdClickID:      cred.AdClickID,
		CustomerEmail:  customerEmail,
		ClientIP:       in.ClientIP,
		UserAgent:      in.UserAgent,
		EventSourceURL: in.PageURL,
		EventTime:      now.Unix(),
	}, surfaces...)

	return &ConfirmResult{
		Succeeded:   true,
		ChargeID:    chargeID,
		ReferenceID: referenceID,
		Product:     product,
		Amount:      charge.Amount,
		Currency:    charge.Currency,
	}, nil
}

// RecheckFailed backs the failure view. A pending charge gets one more
// reconciled look; if it succeeded in the meantime the caller routes the
// client back to the confirmation page.
func (s *CheckoutService) RecheckFailed(ctx context.Context, in *RecheckInput) (*FailureView, error) {
	view := &FailureView{Reason: strings.TrimSpace(in.Reason), ChargeID: strings.TrimSpace(in.ChargeID)}
	if view.Reason == "" {
		view.Reason = "failed"
	}

	if view.Reason != "pending" || view.ChargeID == "" {
		return view, nil
	}
	cred, err := s.codec.Verify(in.Token, in.Fingerprint)
	if err != nil {
		// No valid credential: show the static failure view rather than
		// spend a processor call on an unauthenticated request.
		return view, nil
	}

	charge, err := s.processor.GetChargeReconciled(ctx, view.ChargeID)
	if err != nil {
		s.logger.WithError(err).WithField("charge_id", view.ChargeID).Warn("failure-view recheck could not reach processor")
		return view, nil
	}

	decision := Decide(cred, charge)
	if decision.Next == entity.StateSucceeded {
		view.Recovered = true
		return view, nil
	}
	view.Reason = decision.FailureReason

	return view, nil
}

// PollStatus is the plain (non-reconciled) status query behind the QR view.
func (s *CheckoutService) PollStatus(ctx context.Context, in *PollInput) (*entity.Charge, error) {
	cred, err := s.codec.Verify(in.Token, in.Fingerprint)
	if err != nil {
		return nil, ErrInvalidCredential
	}

	if !s.limiter.Allow(ratelimit.ActionStatusPoll, in.Fingerprint) {
		return nil, ErrRateLimited
	}
	if !s.limiter.Allow(ratelimit.ActionStatusPollRef, cred.ReferenceID) {
		return nil, ErrRateLimited
	}

	chargeID := strings.TrimSpace(in.ChargeID)
	if chargeID == "" {
		chargeID = cred.ChargeID
	}
	if chargeID == "" {
		return nil, fmt.Errorf("%w: missing charge id", ErrInvalidRequest)
	}

	charge, err := s.processor.GetCharge(ctx, chargeID)
	if err != nil {
		return nil, s.translateProcessorErr(err, cred.ReferenceID)
	}
	return charge, nil
}

// TokenizeCard proxies raw card data to the processor's tokenization
// endpoint so processor credentials never reach the browser.
func (s *CheckoutService) TokenizeCard(ctx context.Context, in *provider.TokenizeRequest) (string, error) {
	if err := validatePAN(in.PAN); err != nil {
		return "", err
	}
	if in.ExpiryMonth < 1 || in.ExpiryMonth > 12 {
		return "", fmt.Errorf("%w: invalid expiry month", ErrInvalidRequest)
	}
	if in.ExpiryYear < 2000 {
		return "", fmt.Errorf("%w: invalid expiry year", ErrInvalidRequest)
	}
	if strings.TrimSpace(in.CardHolderName) == "" {
		return "", fmt.Errorf("%w: missing card holder name", ErrInvalidRequest)
	}

	tokenID, err := s.processor.TokenizeCard(ctx, in)
	if err != nil {
		return "", s.translateProcessorErr(err, "")
	}
	return tokenID, nil
}

// SessionTTL exposes the credential lifetime for cookie expiry.
func (s *CheckoutService) SessionTTL() time.Duration {
	return s.codec.TTL()
}

func (s *CheckoutService) activeProduct(slug string) (*catalog.Product, error) {
	product := s.catalog.BySlug(strings.TrimSpace(slug))
	if product == nil || !product.Active {
		return nil, ErrProductNotFound
	}
	return product, nil
}

// resolveProduct prefers the slug baked into the credential and falls back
// to parsing the reference id, which covers credentials issued before the
// slug field existed.
func (s *CheckoutService) resolveProduct(cred *entity.SessionCredential, referenceID string) (*catalog.Product, error) {
	slug := cred.ProductSlug
	if slug == "" {
		slug = slugFromReference(referenceID)
	}
	product := s.catalog.BySlug(slug)
	if product == nil {
		return nil, ErrProductNotFound
	}
	return product, nil
}

func (s *CheckoutService) issueCredential(referenceID, slug, fingerprint, email, name, adClickID string) (string, error) {
	if fingerprint == "" {
		fingerprint = entity.FingerprintUnknown
	}
	return s.codec.Issue(&entity.SessionCredential{
		ReferenceID:       referenceID,
		ClientFingerprint: fingerprint,
		ProductSlug:       slug,
		CustomerEmail:     strings.TrimSpace(email),
		CustomerName:      strings.TrimSpace(name),
		AdClickID:         strings.TrimSpace(adClickID),
	})
}

func (s *CheckoutService) confirmationURL(referenceID, token string) string {
	base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
	return base + "/checkout/success?ref=" + url.QueryEscape(referenceID) + "&token=" + url.QueryEscape(token)
}

// translateProcessorErr maps provider errors onto service sentinels. The
// raw detail is logged here; callers surface only sanitized messages.
func (s *CheckoutService) translateProcessorErr(err error, referenceID string) error {
	logger := s.logger
	if referenceID != "" {
		logger = logger.WithField("reference_id", referenceID)
	}

	var rejection *provider.RejectionError
	if errors.As(err, &rejection) {
		logger.WithFields(logrus.Fields{
			"processor_code":   rejection.Code,
			"processor_status": rejection.StatusCode,
		}).Warn("processor rejected request")
		return fmt.Errorf("%w: %s", ErrProcessorRejected, rejection.Message)
	}
	if errors.Is(err, provider.ErrUnavailable) {
		logger.WithError(err).Error("processor unreachable")
		return ErrProcessorUnavailable
	}
	return err
}
