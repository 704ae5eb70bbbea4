package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"

	"github.com/vibast-solutions/ms-go-checkout/app/entity"
	"github.com/vibast-solutions/ms-go-checkout/app/factory"
)

const (
	beamProductionHost = "https://api.beamcheckout.com"
	beamPlaygroundHost = "https://playground.api.beamcheckout.com"

	beamErrInvalidCredentials = "INVALID_CREDENTIALS_ERROR"
)

// Reconciliation schedule: the processor's redirect completion and status
// query are not transactionally consistent, so a transient PENDING is
// re-queried with escalating waits before the last status is taken as
// final. Worst case adds 9s to the calling request.
var defaultRetryDelays = []time.Duration{2 * time.Second, 3 * time.Second, 4 * time.Second}

type BeamConfig struct {
	MerchantID  string
	APIKey      string
	Environment string // "production" or "playground"
	HTTPTimeout time.Duration

	// Overrides for tests.
	ProductionHost string
	PlaygroundHost string
	RetryDelays    []time.Duration
}

// BeamClient talks to the Beam charge API over HTTP Basic auth.
type BeamClient struct {
	cfg         BeamConfig
	client      *http.Client
	clock       clockz.Clock
	retryDelays []time.Duration
	logger      logrus.FieldLogger
}

func NewBeamClient(cfg BeamConfig, clock clockz.Clock) *BeamClient {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.ProductionHost == "" {
		cfg.ProductionHost = beamProductionHost
	}
	if cfg.PlaygroundHost == "" {
		cfg.PlaygroundHost = beamPlaygroundHost
	}
	if clock == nil {
		clock = clockz.RealClock
	}
	retryDelays := cfg.RetryDelays
	if len(retryDelays) == 0 {
		retryDelays = defaultRetryDelays
	}

	return &BeamClient{
		cfg:         cfg,
		client:      &http.Client{Timeout: cfg.HTTPTimeout},
		clock:       clock,
		retryDelays: retryDelays,
		logger:      factory.NewModuleLogger("beam-client"),
	}
}

func (c *BeamClient) isProduction() bool {
	return strings.ToLower(strings.TrimSpace(c.cfg.Environment)) == "production"
}

func (c *BeamClient) baseHost() string {
	if strings.ToLower(strings.TrimSpace(c.cfg.Environment)) == "playground" {
		return c.cfg.PlaygroundHost
	}
	return c.cfg.ProductionHost
}

func (c *BeamClient) CreateCharge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error) {
	if req.CardToken == nil && req.QR == nil {
		return nil, &RejectionError{StatusCode: http.StatusBadRequest, Message: "charge request has no payment method"}
	}

	body := map[string]any{
		"amount":      req.Amount,
		"currency":    req.Currency,
		"referenceId": req.ReferenceID,
	}
	if req.ReturnURL != "" {
		body["returnUrl"] = req.ReturnURL
	}
	if req.CustomerEmail != "" {
		body["customer"] = map[string]any{"email": req.CustomerEmail}
	}
	switch {
	case req.CardToken != nil:
		body["paymentMethod"] = map[string]any{
			"paymentMethodType": "CARD_TOKEN",
			"cardToken": map[string]any{
				"cardTokenId":  req.CardToken.CardTokenID,
				"securityCode": req.CardToken.SecurityCode,
			},
		}
	case req.QR != nil:
		qr := map[string]any{}
		if req.QR.ExpiresAt != "" {
			qr["expiresAt"] = req.QR.ExpiresAt
		}
		body["paymentMethod"] = map[string]any{
			"paymentMethodType": "QR_PROMPT_PAY",
			"qrPromptPay":       qr,
		}
	}

	var payload struct {
		ChargeID       string `json:"chargeId"`
		ActionRequired string `json:"actionRequired"`
		Redirect       *struct {
			RedirectURL string `json:"redirectUrl"`
		} `json:"redirect"`
		EncodedImage *struct {
			ImageBase64Encoded string `json:"imageBase64Encoded"`
			RawData            string `json:"rawData"`
			Expiry             string `json:"expiry"`
		} `json:"encodedImage"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/charges", body, &payload); err != nil {
		return nil, err
	}

	result := &ChargeResult{
		ChargeID:       payload.ChargeID,
		ActionRequired: payload.ActionRequired,
	}
	if payload.Redirect != nil {
		result.RedirectURL = payload.Redirect.RedirectURL
	}
	if payload.EncodedImage != nil {
		result.EncodedImage = &EncodedImage{
			ImageBase64: payload.EncodedImage.ImageBase64Encoded,
			RawData:     payload.EncodedImage.RawData,
			Expiry:      payload.EncodedImage.Expiry,
		}
	}
	return result, nil
}

func (c *BeamClient) GetCharge(ctx context.Context, chargeID string) (*entity.Charge, error) {
	var payload struct {
		Status      string `json:"status"`
		Amount      int64  `json:"amount"`
		Currency    string `json:"currency"`
		FailureCode string `json:"failureCode"`
		Customer    *struct {
			Email string `json:"email"`
		} `json:"customer"`
	}
	path := "/api/v1/charges/" + url.PathEscape(chargeID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}

	charge := &entity.Charge{
		ChargeID:    chargeID,
		Status:      payload.Status,
		Amount:      payload.Amount,
		Currency:    payload.Currency,
		FailureCode: payload.FailureCode,
	}
	if payload.Customer != nil {
		charge.CustomerEmail = payload.Customer.Email
	}
	return charge, nil
}

// GetChargeReconciled re-queries a PENDING charge on the retry schedule and
// returns the last observed status as final. The waits block the calling
// request and are context-cancelable.
func (c *BeamClient) GetChargeReconciled(ctx context.Context, chargeID string) (*entity.Charge, error) {
	charge, err := c.GetCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}

	for attempt := 0; charge.Status == entity.ChargeStatusPending && attempt < len(c.retryDelays); attempt++ {
		delay := c.retryDelays[attempt]
		c.logger.WithFields(logrus.Fields{
			"charge_id": chargeID,
			"attempt":   attempt + 1,
			"delay":     delay.String(),
		}).Info("Charge still pending, re-querying")

		select {
		case <-c.clock.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		charge, err = c.GetCharge(ctx, chargeID)
		if err != nil {
			return nil, err
		}
	}

	return charge, nil
}

func (c *BeamClient) TokenizeCard(ctx context.Context, req *TokenizeRequest) (string, error) {
	body := map[string]any{
		"pan":         req.PAN,
		"expiryMonth": req.ExpiryMonth,
		"expiryYear":  req.ExpiryYear,
	}
	if req.CardHolderName != "" {
		body["cardHolderName"] = req.CardHolderName
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/client/v1/card-tokens", body, &payload); err != nil {
		return "", err
	}
	if payload.ID == "" {
		return "", &RejectionError{StatusCode: http.StatusBadGateway, Message: "tokenization response had no token id"}
	}
	return payload.ID, nil
}

// doJSON performs one request against the configured host. When the
// production host rejects the credentials and the environment is not
// production, it retries exactly once against the playground host; the
// fallback is never chained further.
func (c *BeamClient) doJSON(ctx context.Context, method, path string, body any, out any) error {
	err := c.doJSONAgainst(ctx, c.baseHost(), method, path, body, out)

	var rejection *RejectionError
	if err != nil && errors.As(err, &rejection) &&
		rejection.Code == beamErrInvalidCredentials &&
		c.baseHost() == c.cfg.ProductionHost &&
		!c.isProduction() {
		c.logger.Warn("Credentials rejected on production host, retrying once on playground")
		return c.doJSONAgainst(ctx, c.cfg.PlaygroundHost, method, path, body, out)
	}
	return err
}

func (c *BeamClient) doJSONAgainst(ctx context.Context, host, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, host+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.authHeader())

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithError(err).WithField("url", host+path).Error("Processor request failed")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		rejection := &RejectionError{StatusCode: resp.StatusCode, Message: "processor request failed"}
		var errPayload struct {
			Error *struct {
				ErrorCode    string `json:"errorCode"`
				ErrorMessage string `json:"errorMessage"`
			} `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &errPayload) == nil {
			if errPayload.Error != nil {
				rejection.Code = errPayload.Error.ErrorCode
				if errPayload.Error.ErrorMessage != "" {
					rejection.Message = errPayload.Error.ErrorMessage
				}
			} else if errPayload.Message != "" {
				rejection.Message = errPayload.Message
			}
		}
		c.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"code":   rejection.Code,
			"path":   path,
		}).Error("Processor rejected request")
		return rejection
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode processor response: %w", err)
	}
	return nil
}

func (c *BeamClient) authHeader() string {
	credentials := c.cfg.MerchantID + ":" + c.cfg.APIKey
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))
}
