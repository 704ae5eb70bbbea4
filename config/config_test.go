package config

import (
	"os"
	"testing"
	"time"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("setenv %s failed: %v", key, err)
	}
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(key, old)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	_ = os.Unsetenv(key)
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(key, old)
		}
	})
}

func TestLoadRequiresSessionSecret(t *testing.T) {
	unsetEnv(t, "SESSION_SECRET")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing SESSION_SECRET")
	}
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	setEnv(t, "SESSION_SECRET", "test-secret")
	setEnv(t, "APP_SERVICE_NAME", "checkout-test")
	setEnv(t, "HTTP_PORT", "8181")
	setEnv(t, "BEAM_API_KEY", "sk_test_abc")
	setEnv(t, "BEAM_ENVIRONMENT", "playground")
	setEnv(t, "SESSION_TTL_MINUTES", "30")
	setEnv(t, "CHECKOUT_QR_EXPIRY_MINUTES", "15")
	setEnv(t, "RATE_LIMIT_CARD_INITIATIONS", "7")
	setEnv(t, "CHECKOUT_DEDUP_DB_PATH", "/tmp/markers.db")
	setEnv(t, "CHECKOUT_SWEEP_INTERVAL_MINUTES", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.App.ServiceName != "checkout-test" {
		t.Errorf("ServiceName = %q", cfg.App.ServiceName)
	}
	if cfg.HTTP.Host != "0.0.0.0" || cfg.HTTP.Port != "8181" {
		t.Errorf("HTTP = %+v", cfg.HTTP)
	}
	if cfg.Beam.APIKey != "sk_test_abc" || cfg.Beam.Environment != "playground" {
		t.Errorf("Beam = %+v", cfg.Beam)
	}
	if cfg.Beam.HTTPTimeout != 10*time.Second {
		t.Errorf("Beam.HTTPTimeout = %v", cfg.Beam.HTTPTimeout)
	}
	if cfg.Session.Secret != "test-secret" || cfg.Session.TTL != 30*time.Minute {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.Checkout.QRExpiry != 15*time.Minute {
		t.Errorf("QRExpiry = %v", cfg.Checkout.QRExpiry)
	}
	if cfg.Checkout.PublicBaseURL != "http://localhost:8080" {
		t.Errorf("PublicBaseURL = %q", cfg.Checkout.PublicBaseURL)
	}
	if cfg.RateLimit.CardInitiationLimit != 7 {
		t.Errorf("CardInitiationLimit = %d", cfg.RateLimit.CardInitiationLimit)
	}
	if cfg.RateLimit.QRInitiationLimit != 10 {
		t.Errorf("QRInitiationLimit = %d", cfg.RateLimit.QRInitiationLimit)
	}
	if cfg.Dedup.DBPath != "/tmp/markers.db" || cfg.Dedup.Window != 24*time.Hour {
		t.Errorf("Dedup = %+v", cfg.Dedup)
	}
	if cfg.Jobs.SweepInterval != 3*time.Minute {
		t.Errorf("SweepInterval = %v", cfg.Jobs.SweepInterval)
	}
	if cfg.Admin.SessionTTL != 7*24*time.Hour {
		t.Errorf("Admin.SessionTTL = %v", cfg.Admin.SessionTTL)
	}
}

func TestLoadInvalidIntFallsBack(t *testing.T) {
	setEnv(t, "SESSION_SECRET", "test-secret")
	setEnv(t, "RATE_LIMIT_STATUS_POLLS", "not-a-number")
	setEnv(t, "SESSION_TTL_MINUTES", "0x10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.RateLimit.StatusPollLimit != 30 {
		t.Errorf("StatusPollLimit = %d, want default 30", cfg.RateLimit.StatusPollLimit)
	}
	if cfg.Session.TTL != time.Hour {
		t.Errorf("Session.TTL = %v, want default 1h", cfg.Session.TTL)
	}
}
