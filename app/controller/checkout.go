package controller

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-checkout/app/catalog"
	"github.com/vibast-solutions/ms-go-checkout/app/factory"
	"github.com/vibast-solutions/ms-go-checkout/app/notify"
	"github.com/vibast-solutions/ms-go-checkout/app/provider"
	"github.com/vibast-solutions/ms-go-checkout/app/service"
	"github.com/vibast-solutions/ms-go-checkout/config"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ProductResponse struct {
	Slug           string                  `json:"slug"`
	Name           string                  `json:"name"`
	Description    string                  `json:"description,omitempty"`
	Price          int64                   `json:"price"`
	Currency       string                  `json:"currency"`
	ImageURL       string                  `json:"imageUrl,omitempty"`
	LogoURL        string                  `json:"logoUrl,omitempty"`
	SuccessURL     string                  `json:"successUrl,omitempty"`
	SuccessMessage *catalog.SuccessMessage `json:"successMessage,omitempty"`
}

type QRInitiationResponse struct {
	ChargeID  string `json:"chargeId"`
	QRBase64  string `json:"qrBase64"`
	ExpiresAt string `json:"expiresAt"`
}

type ConfirmationResponse struct {
	Status         string                  `json:"status"`
	ChargeID       string                  `json:"chargeId"`
	ReferenceID    string                  `json:"referenceId"`
	ProductName    string                  `json:"productName"`
	Amount         int64                   `json:"amount"`
	Currency       string                  `json:"currency"`
	SuccessMessage *catalog.SuccessMessage `json:"successMessage,omitempty"`
}

type FailureResponse struct {
	Status   string `json:"status"`
	Reason   string `json:"reason"`
	ChargeID string `json:"chargeId,omitempty"`
}

type ChargeStatusResponse struct {
	ChargeID   string `json:"chargeId"`
	Status     string `json:"status"`
	SuccessURL string `json:"successUrl,omitempty"`
}

type TokenizeResponse struct {
	CardTokenID string `json:"cardTokenId"`
}

type cardInitiationRequest struct {
	CardToken     string `json:"cardToken" form:"cardToken"`
	SecurityCode  string `json:"securityCode" form:"securityCode"`
	CustomerEmail string `json:"email" form:"email"`
	CustomerName  string `json:"name" form:"name"`
	AdClickID     string `json:"adClickId" form:"adClickId"`
}

type qrInitiationRequest struct {
	CustomerEmail string `json:"email" form:"email"`
	CustomerName  string `json:"name" form:"name"`
	AdClickID     string `json:"adClickId" form:"adClickId"`
}

type tokenizeRequest struct {
	CardNumber     string `json:"cardNumber" form:"cardNumber"`
	ExpiryMonth    int    `json:"expiryMonth" form:"expiryMonth"`
	ExpiryYear     int    `json:"expiryYear" form:"expiryYear"`
	CardHolderName string `json:"cardHolderName" form:"cardHolderName"`
}

type CheckoutController struct {
	checkoutService *service.CheckoutService
	catalog         *catalog.Catalog
	cfg             *config.Config
	logger          logrus.FieldLogger
}

func NewCheckoutController(checkoutService *service.CheckoutService, cat *catalog.Catalog, cfg *config.Config) *CheckoutController {
	return &CheckoutController{
		checkoutService: checkoutService,
		catalog:         cat,
		cfg:             cfg,
		logger:          factory.NewModuleLogger("checkout-controller"),
	}
}

func (c *CheckoutController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &HealthResponse{Status: "ok"})
}

// ConfigCheck reports which settings are present. Booleans only; secret
// values never leave the process.
func (c *CheckoutController) ConfigCheck(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]bool{
		"beamMerchantId":   c.cfg.Beam.MerchantID != "",
		"beamApiKey":       c.cfg.Beam.APIKey != "",
		"sessionSecret":    c.cfg.Session.Secret != "",
		"publicBaseUrl":    c.cfg.Checkout.PublicBaseURL != "",
		"adminCredentials": c.cfg.Admin.Username != "" && c.cfg.Admin.Password != "",
		"conversionPixel":  c.cfg.Conversion.PixelID != "" && c.cfg.Conversion.AccessToken != "",
		"dedupDatabase":    c.cfg.Dedup.DBPath != "",
	})
}

func (c *CheckoutController) GetProduct(ctx echo.Context) error {
	product := c.catalog.BySlug(ctx.Param("slug"))
	if product == nil || !product.Active {
		return c.writeError(ctx, http.StatusNotFound, "product not found")
	}

	return ctx.JSON(http.StatusOK, &ProductResponse{
		Slug:           product.Slug,
		Name:           product.Name,
		Description:    product.Description,
		Price:          product.Price,
		Currency:       product.Currency,
		ImageURL:       product.ImageURL,
		LogoURL:        product.LogoURL,
		SuccessURL:     product.SuccessURL,
		SuccessMessage: product.SuccessMessage,
	})
}

// InitiateCardPayment answers with a 303 so the browser form submission
// turns into a GET against the 3DS page or the confirmation page.
func (c *CheckoutController) InitiateCardPayment(ctx echo.Context) error {
	var req cardInitiationRequest
	if err := ctx.Bind(&req); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}

	out, err := c.checkoutService.InitiateCardPayment(ctx.Request().Context(), &service.CardInitiationInput{
		ProductSlug:   ctx.Param("slug"),
		CardToken:     req.CardToken,
		SecurityCode:  req.SecurityCode,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		AdClickID:     req.AdClickID,
		Fingerprint:   clientFingerprint(ctx),
	})
	if err != nil {
		return c.writeCheckoutError(ctx, err, "Card initiation failed")
	}

	setSessionCookies(ctx, out.Token, out.ChargeID, int(c.checkoutService.SessionTTL().Seconds()))
	return ctx.Redirect(http.StatusSeeOther, out.RedirectURL)
}

func (c *CheckoutController) InitiateQRPayment(ctx echo.Context) error {
	var req qrInitiationRequest
	if err := ctx.Bind(&req); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}

	out, err := c.checkoutService.InitiateQRPayment(ctx.Request().Context(), &service.QRInitiationInput{
		ProductSlug:   ctx.Param("slug"),
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		AdClickID:     req.AdClickID,
		Fingerprint:   clientFingerprint(ctx),
	})
	if err != nil {
		return c.writeCheckoutError(ctx, err, "QR initiation failed")
	}

	setSessionCookies(ctx, out.Token, out.ChargeID, int(c.checkoutService.SessionTTL().Seconds()))
	return ctx.JSON(http.StatusOK, &QRInitiationResponse{
		ChargeID:  out.ChargeID,
		QRBase64:  out.QRBase64,
		ExpiresAt: out.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// ConfirmSuccess is the post-payment landing decision. Anything that is
// not a verified success routes to the failure view.
func (c *CheckoutController) ConfirmSuccess(ctx echo.Context) error {
	token := credentialToken(ctx)
	chargeID := ctx.QueryParam("chargeId")
	if chargeID == "" {
		if cookie, err := ctx.Cookie(chargeCookieName); err == nil {
			chargeID = cookie.Value
		}
	}

	pageURL := c.cfg.Checkout.PublicBaseURL + ctx.Request().URL.RequestURI()
	out, err := c.checkoutService.ConfirmSuccess(ctx.Request().Context(), &service.ConfirmInput{
		Token:       token,
		Fingerprint: clientFingerprint(ctx),
		ReferenceID: ctx.QueryParam("ref"),
		ChargeID:    chargeID,
		ClientIP:    clientFingerprint(ctx),
		UserAgent:   ctx.Request().UserAgent(),
		PageURL:     pageURL,
		Surfaces:    []notify.Surface{&cookieSurface{ctx: ctx}},
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredential) {
			if token == "" {
				return c.writeError(ctx, http.StatusUnauthorized, "payment session required")
			}
			return c.writeError(ctx, http.StatusForbidden, "payment session invalid")
		}
		return c.writeCheckoutError(ctx, err, "Confirmation failed")
	}

	if !out.Succeeded {
		return ctx.Redirect(http.StatusSeeOther, failureLocation(out.FailureReason, out.ChargeID, out.ReferenceID, queryFallbackToken(ctx)))
	}

	return ctx.JSON(http.StatusOK, &ConfirmationResponse{
		Status:         "succeeded",
		ChargeID:       out.ChargeID,
		ReferenceID:    out.ReferenceID,
		ProductName:    out.Product.Name,
		Amount:         out.Amount,
		Currency:       out.Currency,
		SuccessMessage: out.Product.SuccessMessage,
	})
}

// ShowFailure renders the failure view data, first giving a pending charge
// one more chance to have settled.
func (c *CheckoutController) ShowFailure(ctx echo.Context) error {
	chargeID := ctx.QueryParam("chargeId")
	if chargeID == "" {
		if cookie, err := ctx.Cookie(chargeCookieName); err == nil {
			chargeID = cookie.Value
		}
	}

	view, err := c.checkoutService.RecheckFailed(ctx.Request().Context(), &service.RecheckInput{
		Token:       credentialToken(ctx),
		Fingerprint: clientFingerprint(ctx),
		Reason:      ctx.QueryParam("reason"),
		ChargeID:    chargeID,
	})
	if err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Failure view failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	if view.Recovered {
		loc := "/checkout/success?chargeId=" + url.QueryEscape(view.ChargeID)
		if ref := ctx.QueryParam("ref"); ref != "" {
			loc += "&ref=" + url.QueryEscape(ref)
		}
		if token := queryFallbackToken(ctx); token != "" {
			loc += "&token=" + url.QueryEscape(token)
		}
		return ctx.Redirect(http.StatusSeeOther, loc)
	}

	return ctx.JSON(http.StatusOK, &FailureResponse{
		Status:   "failed",
		Reason:   view.Reason,
		ChargeID: view.ChargeID,
	})
}

func (c *CheckoutController) ChargeStatus(ctx echo.Context) error {
	token := credentialToken(ctx)

	charge, err := c.checkoutService.PollStatus(ctx.Request().Context(), &service.PollInput{
		Token:       token,
		Fingerprint: clientFingerprint(ctx),
		ChargeID:    ctx.QueryParam("chargeId"),
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredential) {
			if token == "" {
				return c.writeError(ctx, http.StatusUnauthorized, "payment session required")
			}
			return c.writeError(ctx, http.StatusForbidden, "payment session invalid")
		}
		return c.writeCheckoutError(ctx, err, "Charge status poll failed")
	}

	resp := &ChargeStatusResponse{ChargeID: charge.ChargeID, Status: charge.Status}
	// The success URL rides along for client-side navigation; only local
	// paths are echoed back.
	if successURL := ctx.QueryParam("successUrl"); strings.HasPrefix(successURL, "/") {
		resp.SuccessURL = successURL
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (c *CheckoutController) TokenizeCard(ctx echo.Context) error {
	var req tokenizeRequest
	if err := ctx.Bind(&req); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}

	tokenID, err := c.checkoutService.TokenizeCard(ctx.Request().Context(), &provider.TokenizeRequest{
		PAN:            req.CardNumber,
		ExpiryMonth:    req.ExpiryMonth,
		ExpiryYear:     req.ExpiryYear,
		CardHolderName: req.CardHolderName,
	})
	if err != nil {
		return c.writeCheckoutError(ctx, err, "Card tokenization failed")
	}

	return ctx.JSON(http.StatusOK, &TokenizeResponse{CardTokenID: tokenID})
}

// failureLocation keeps the reference and the query-fallback token on the
// redirect so a client without cookies can still recover to the
// confirmation page.
func failureLocation(reason, chargeID, referenceID, token string) string {
	loc := "/checkout/failed?reason=" + url.QueryEscape(reason)
	if chargeID != "" {
		loc += "&chargeId=" + url.QueryEscape(chargeID)
	}
	if referenceID != "" {
		loc += "&ref=" + url.QueryEscape(referenceID)
	}
	if token != "" {
		loc += "&token=" + url.QueryEscape(token)
	}
	return loc
}

// writeCheckoutError maps service sentinels onto the HTTP taxonomy shared
// by every checkout endpoint.
func (c *CheckoutController) writeCheckoutError(ctx echo.Context, err error, logMessage string) error {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrProductNotFound):
		return c.writeError(ctx, http.StatusNotFound, "product not found")
	case errors.Is(err, service.ErrRateLimited):
		return c.writeError(ctx, http.StatusTooManyRequests, "too many requests")
	case errors.Is(err, service.ErrInvalidCredential):
		return c.writeError(ctx, http.StatusForbidden, "payment session invalid")
	case errors.Is(err, service.ErrProcessorRejected):
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrProcessorUnavailable):
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error(logMessage)
		return c.writeError(ctx, http.StatusInternalServerError, "payment processor unavailable")
	default:
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error(logMessage)
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}
}

func (c *CheckoutController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &ErrorResponse{Error: message})
}
