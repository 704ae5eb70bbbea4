package cmd

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/zoobzio/clockz"

	"github.com/vibast-solutions/ms-go-checkout/app/catalog"
	"github.com/vibast-solutions/ms-go-checkout/app/controller"
	"github.com/vibast-solutions/ms-go-checkout/app/factory"
	"github.com/vibast-solutions/ms-go-checkout/app/notify"
	"github.com/vibast-solutions/ms-go-checkout/app/provider"
	"github.com/vibast-solutions/ms-go-checkout/app/ratelimit"
	"github.com/vibast-solutions/ms-go-checkout/app/service"
	"github.com/vibast-solutions/ms-go-checkout/app/session"
	"github.com/vibast-solutions/ms-go-checkout/app/store"
	"github.com/vibast-solutions/ms-go-checkout/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  "Start the HTTP (Echo) server for the checkout service.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type application struct {
	cfg             *config.Config
	catalog         *catalog.Catalog
	checkoutService *service.CheckoutService
	adminService    *service.AdminService
	sessionStore    *session.MemoryStore
	limiter         *ratelimit.Limiter
	markers         *store.BoltSurface
	cleanup         func()
}

func runServe(_ *cobra.Command, _ []string) {
	app := mustCreateApplication()
	defer app.cleanup()

	stopSweeper := startSweeper(app, clockz.RealClock)
	defer stopSweeper()

	checkoutController := controller.NewCheckoutController(app.checkoutService, app.catalog, app.cfg)
	adminController := controller.NewAdminController(app.adminService, app.catalog)

	e := setupHTTPServer(checkoutController, adminController)

	go func() {
		httpAddr := net.JoinHostPort(app.cfg.HTTP.Host, app.cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}

	logrus.Info("Server stopped")
}

func setupHTTPServer(
	checkoutController *controller.CheckoutController,
	adminController *controller.AdminController,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestID())
	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
				"request_id": v.RequestID,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(factory.HTTPMetrics())

	e.GET("/health", checkoutController.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/products/:slug", checkoutController.GetProduct)

	checkout := e.Group("/checkout")
	checkout.POST("/:slug/card", checkoutController.InitiateCardPayment)
	checkout.POST("/:slug/promptpay", checkoutController.InitiateQRPayment)
	checkout.GET("/success", checkoutController.ConfirmSuccess)
	checkout.GET("/failed", checkoutController.ShowFailure)

	api := e.Group("/api")
	api.GET("/config-check", checkoutController.ConfigCheck)
	api.GET("/charges/status", checkoutController.ChargeStatus)
	api.POST("/cards/tokenize", checkoutController.TokenizeCard)

	admin := e.Group("/admin")
	admin.POST("/login", adminController.Login)
	admin.POST("/logout", adminController.Logout)
	admin.GET("/products", adminController.ListProducts, adminController.RequireAdmin)

	return e
}

func mustCreateApplication() *application {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	cat, err := catalog.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load product catalog")
	}

	clock := clockz.RealClock

	sessionStore := session.NewMemoryStore(cfg.Session.TTL, clock)
	codec := session.NewCodec(cfg.Session.Secret, cfg.Session.TTL, sessionStore, clock)
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), buildRateLimitRules(cfg), clock)

	processor := provider.NewBeamClient(provider.BeamConfig{
		MerchantID:  cfg.Beam.MerchantID,
		APIKey:      cfg.Beam.APIKey,
		Environment: cfg.Beam.Environment,
		HTTPTimeout: cfg.Beam.HTTPTimeout,
	}, clock)

	var globalSurfaces []notify.Surface
	var markers *store.BoltSurface
	cleanup := func() {}
	if cfg.Dedup.DBPath != "" {
		markers, err = store.Open(cfg.Dedup.DBPath, cfg.Dedup.Window, clock)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to open dedup marker database")
		}
		globalSurfaces = append(globalSurfaces, markers)
		cleanup = func() {
			if err := markers.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close dedup marker database")
			}
		}
	}

	dispatcher := notify.NewDispatcher(
		notify.NewWebhookSender(cfg.Webhook.HTTPTimeout, clock),
		notify.NewConversionSender(notify.ConversionConfig{
			PixelID:       cfg.Conversion.PixelID,
			AccessToken:   cfg.Conversion.AccessToken,
			TestEventCode: cfg.Conversion.TestEventCode,
			Endpoint:      cfg.Conversion.Endpoint,
			HTTPTimeout:   cfg.Conversion.HTTPTimeout,
		}),
		globalSurfaces...,
	)

	checkoutService := service.NewCheckoutService(cat, codec, limiter, processor, dispatcher, cfg.Checkout, clock)
	adminService := service.NewAdminService(cfg.Admin, limiter, clock)

	return &application{
		cfg:             cfg,
		catalog:         cat,
		checkoutService: checkoutService,
		adminService:    adminService,
		sessionStore:    sessionStore,
		limiter:         limiter,
		markers:         markers,
		cleanup:         cleanup,
	}
}

func buildRateLimitRules(cfg *config.Config) map[ratelimit.Action]ratelimit.Rule {
	rules := ratelimit.DefaultRules()
	overrides := map[ratelimit.Action]int{
		ratelimit.ActionCardInitiation: cfg.RateLimit.CardInitiationLimit,
		ratelimit.ActionQRInitiation:   cfg.RateLimit.QRInitiationLimit,
		ratelimit.ActionStatusPoll:     cfg.RateLimit.StatusPollLimit,
		ratelimit.ActionAdminLogin:     cfg.RateLimit.AdminLoginLimit,
	}
	for action, limit := range overrides {
		if limit <= 0 {
			continue
		}
		rule := rules[action]
		rule.Limit = limit
		rules[action] = rule
	}
	return rules
}
