package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App        AppConfig
	HTTP       ServerConfig
	Log        LogConfig
	Beam       BeamConfig
	Session    SessionConfig
	Checkout   CheckoutConfig
	Webhook    WebhookConfig
	Conversion ConversionConfig
	Admin      AdminConfig
	RateLimit  RateLimitConfig
	Dedup      DedupConfig
	Jobs       JobsConfig
}

type AppConfig struct {
	ServiceName string
}

type ServerConfig struct {
	Host string
	Port string
}

type LogConfig struct {
	Level string
}

type BeamConfig struct {
	MerchantID  string
	APIKey      string
	Environment string
	HTTPTimeout time.Duration
}

type SessionConfig struct {
	Secret string
	TTL    time.Duration
}

type CheckoutConfig struct {
	PublicBaseURL string
	QRExpiry      time.Duration
}

type WebhookConfig struct {
	HTTPTimeout time.Duration
}

type ConversionConfig struct {
	PixelID       string
	AccessToken   string
	TestEventCode string
	Endpoint      string
	HTTPTimeout   time.Duration
}

type AdminConfig struct {
	Username   string
	Password   string
	SessionTTL time.Duration
}

type RateLimitConfig struct {
	CardInitiationLimit int
	QRInitiationLimit   int
	StatusPollLimit     int
	AdminLoginLimit     int
}

type DedupConfig struct {
	DBPath string
	Window time.Duration
}

type JobsConfig struct {
	SweepInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	sessionSecret := os.Getenv("SESSION_SECRET")
	if sessionSecret == "" {
		return nil, errors.New("SESSION_SECRET environment variable is required")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "checkout-service"),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Beam: BeamConfig{
			MerchantID:  getEnv("BEAM_MERCHANT_ID", ""),
			APIKey:      getEnv("BEAM_API_KEY", ""),
			Environment: getEnv("BEAM_ENVIRONMENT", ""),
			HTTPTimeout: getSecondsEnv("BEAM_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Session: SessionConfig{
			Secret: sessionSecret,
			TTL:    getMinutesEnv("SESSION_TTL_MINUTES", time.Hour),
		},
		Checkout: CheckoutConfig{
			PublicBaseURL: getEnv("CHECKOUT_PUBLIC_BASE_URL", "http://localhost:8080"),
			QRExpiry:      getMinutesEnv("CHECKOUT_QR_EXPIRY_MINUTES", 10*time.Minute),
		},
		Webhook: WebhookConfig{
			HTTPTimeout: getSecondsEnv("WEBHOOK_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Conversion: ConversionConfig{
			PixelID:       getEnv("FB_PIXEL_ID", ""),
			AccessToken:   getEnv("FB_ACCESS_TOKEN", ""),
			TestEventCode: getEnv("FB_TEST_EVENT_CODE", ""),
			Endpoint:      getEnv("FB_GRAPH_ENDPOINT", ""),
			HTTPTimeout:   getSecondsEnv("FB_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Admin: AdminConfig{
			Username:   getEnv("ADMIN_USERNAME", ""),
			Password:   getEnv("ADMIN_PASSWORD", ""),
			SessionTTL: getMinutesEnv("ADMIN_SESSION_TTL_MINUTES", 7*24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			CardInitiationLimit: getIntEnv("RATE_LIMIT_CARD_INITIATIONS", 5),
			QRInitiationLimit:   getIntEnv("RATE_LIMIT_QR_INITIATIONS", 10),
			StatusPollLimit:     getIntEnv("RATE_LIMIT_STATUS_POLLS", 30),
			AdminLoginLimit:     getIntEnv("RATE_LIMIT_ADMIN_LOGINS", 5),
		},
		Dedup: DedupConfig{
			DBPath: getEnv("CHECKOUT_DEDUP_DB_PATH", ""),
			Window: getMinutesEnv("CHECKOUT_DEDUP_WINDOW_MINUTES", 24*time.Hour),
		},
		Jobs: JobsConfig{
			SweepInterval: getMinutesEnv("CHECKOUT_SWEEP_INTERVAL_MINUTES", 5*time.Minute),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
