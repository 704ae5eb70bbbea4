package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-checkout/app/catalog"
	"github.com/vibast-solutions/ms-go-checkout/app/factory"
	"github.com/vibast-solutions/ms-go-checkout/app/service"
)

type MessageResponse struct {
	Message string `json:"message"`
}

type adminLoginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

type AdminController struct {
	adminService *service.AdminService
	catalog      *catalog.Catalog
	logger       logrus.FieldLogger
}

func NewAdminController(adminService *service.AdminService, cat *catalog.Catalog) *AdminController {
	return &AdminController{
		adminService: adminService,
		catalog:      cat,
		logger:       factory.NewModuleLogger("admin-controller"),
	}
}

func (c *AdminController) Login(ctx echo.Context) error {
	var req adminLoginRequest
	if err := ctx.Bind(&req); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}

	token, err := c.adminService.Login(clientFingerprint(ctx), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRateLimited):
			return c.writeError(ctx, http.StatusTooManyRequests, "too many login attempts")
		case errors.Is(err, service.ErrUnauthorized):
			return c.writeError(ctx, http.StatusUnauthorized, "invalid credentials")
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Admin login failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	ctx.SetCookie(&http.Cookie{
		Name:     adminCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.adminService.SessionTTL().Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	return ctx.JSON(http.StatusOK, &MessageResponse{Message: "logged in"})
}

func (c *AdminController) Logout(ctx echo.Context) error {
	if cookie, err := ctx.Cookie(adminCookieName); err == nil {
		c.adminService.Logout(cookie.Value)
	}

	ctx.SetCookie(&http.Cookie{
		Name:     adminCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	return ctx.JSON(http.StatusOK, &MessageResponse{Message: "logged out"})
}

// ListProducts returns the full catalog, inactive entries included. Admin
// only.
func (c *AdminController) ListProducts(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.catalog.All())
}

// RequireAdmin gates a route group on a live admin session.
func (c *AdminController) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		cookie, err := ctx.Cookie(adminCookieName)
		if err != nil || !c.adminService.Verify(cookie.Value) {
			return c.writeError(ctx, http.StatusUnauthorized, "admin session required")
		}
		return next(ctx)
	}
}

func (c *AdminController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &ErrorResponse{Error: message})
}
