package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/vibast-solutions/ms-go-checkout/app/ratelimit"
	"github.com/vibast-solutions/ms-go-checkout/config"
)

func newTestAdmin(clock *clockz.FakeClock) *AdminService {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), ratelimit.DefaultRules(), clock)
	return NewAdminService(config.AdminConfig{
		Username:   "admin",
		Password:   "correct-horse",
		SessionTTL: 7 * 24 * time.Hour,
	}, limiter, clock)
}

func TestAdminLoginAndVerify(t *testing.T) {
	admin := newTestAdmin(clockz.NewFakeClock())

	token, err := admin.Login(testFingerprint, "admin", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !admin.Verify(token) {
		t.Error("fresh session should verify")
	}

	admin.Logout(token)
	if admin.Verify(token) {
		t.Error("logged-out session must not verify")
	}
}

func TestAdminLoginWrongPassword(t *testing.T) {
	admin := newTestAdmin(clockz.NewFakeClock())

	if _, err := admin.Login(testFingerprint, "admin", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if _, err := admin.Login(testFingerprint, "intruder", "correct-horse"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestAdminLoginUnconfiguredFailsClosed(t *testing.T) {
	clock := clockz.NewFakeClock()
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), ratelimit.DefaultRules(), clock)
	admin := NewAdminService(config.AdminConfig{}, limiter, clock)

	if _, err := admin.Login(testFingerprint, "", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized for unconfigured credentials", err)
	}
}

func TestAdminLoginRateLimit(t *testing.T) {
	admin := newTestAdmin(clockz.NewFakeClock())

	for i := 0; i < 5; i++ {
		if _, err := admin.Login(testFingerprint, "admin", "wrong"); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	if _, err := admin.Login(testFingerprint, "admin", "correct-horse"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited after 5 failures", err)
	}
}

func TestAdminLoginResetsLimiterOnSuccess(t *testing.T) {
	admin := newTestAdmin(clockz.NewFakeClock())

	for i := 0; i < 4; i++ {
		_, _ = admin.Login(testFingerprint, "admin", "wrong")
	}
	if _, err := admin.Login(testFingerprint, "admin", "correct-horse"); err != nil {
		t.Fatalf("5th attempt with right password: %v", err)
	}

	// The window restarts: a fresh run of failures is tolerated again.
	for i := 0; i < 4; i++ {
		if _, err := admin.Login(testFingerprint, "admin", fmt.Sprintf("wrong-%d", i)); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("post-reset attempt %d: %v", i+1, err)
		}
	}
	if _, err := admin.Login(testFingerprint, "admin", "correct-horse"); err != nil {
		t.Fatalf("post-reset login: %v", err)
	}
}

func TestAdminSessionExpiry(t *testing.T) {
	clock := clockz.NewFakeClock()
	admin := newTestAdmin(clock)

	token, err := admin.Login(testFingerprint, "admin", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	clock.Advance(7*24*time.Hour + time.Minute)
	if admin.Verify(token) {
		t.Error("expired session must not verify")
	}
}
