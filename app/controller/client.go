package controller

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vibast-solutions/ms-go-checkout/app/entity"
)

const (
	sessionCookieName = "checkout_session"
	chargeCookieName  = "checkout_charge"
	adminCookieName   = "admin_session"

	webhookMarkerPrefix    = "wh_sent_"
	conversionMarkerPrefix = "cv_sent_"

	markerCookieMaxAge = 24 * 60 * 60
)

// clientFingerprint identifies the caller for rate limiting and credential
// binding. Proxy headers are trusted because the service only runs behind
// the edge proxy that sets them.
func clientFingerprint(ctx echo.Context) string {
	if forwarded := ctx.Request().Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(ctx.Request().Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return entity.FingerprintUnknown
}

// credentialToken reads the checkout credential from the session cookie,
// falling back to the token query parameter for clients that lost the
// cookie across the 3DS redirect.
func credentialToken(ctx echo.Context) string {
	if cookie, err := ctx.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ctx.QueryParam("token")
}

// queryFallbackToken returns the token to carry on same-site redirects for
// clients whose credential arrived by query parameter instead of cookie.
// Clients holding the cookie get an empty string; the cookie travels on
// its own.
func queryFallbackToken(ctx echo.Context) string {
	if cookie, err := ctx.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return ""
	}
	return ctx.QueryParam("token")
}

func setSessionCookies(ctx echo.Context, token, chargeID string, maxAge int) {
	ctx.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	if chargeID != "" {
		ctx.SetCookie(&http.Cookie{
			Name:     chargeCookieName,
			Value:    chargeID,
			Path:     "/",
			MaxAge:   maxAge,
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func markerCookieName(chargeID string, kind entity.NotificationKind) string {
	if kind == entity.NotificationConversion {
		return conversionMarkerPrefix + chargeID
	}
	return webhookMarkerPrefix + chargeID
}

// cookieSurface is the client-held dedup surface: marker cookies travel
// with the browser, so they keep working even when the server-side caches
// were wiped by a restart.
type cookieSurface struct {
	ctx echo.Context
}

func (s *cookieSurface) Sent(chargeID string, kind entity.NotificationKind) bool {
	cookie, err := s.ctx.Cookie(markerCookieName(chargeID, kind))
	return err == nil && cookie.Value == "1"
}

func (s *cookieSurface) MarkSent(chargeID string, kind entity.NotificationKind) {
	s.ctx.SetCookie(&http.Cookie{
		Name:     markerCookieName(chargeID, kind),
		Value:    "1",
		Path:     "/",
		MaxAge:   markerCookieMaxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}
