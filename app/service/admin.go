package service

import (
	"crypto/subtle"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"

	"github.com/vibast-solutions/ms-go-checkout/app/ratelimit"
	"github.com/vibast-solutions/ms-go-checkout/config"
)

const defaultAdminSessionTTL = 7 * 24 * time.Hour

// AdminService gates the catalog admin surface. Sessions are opaque random
// tokens held in memory; a restart logs every admin out, which is
// acceptable for this surface.
type AdminService struct {
	cfg     config.AdminConfig
	limiter *ratelimit.Limiter
	clock   clockz.Clock

	mu       sync.Mutex
	sessions map[string]time.Time
}

func NewAdminService(cfg config.AdminConfig, limiter *ratelimit.Limiter, clock clockz.Clock) *AdminService {
	if clock == nil {
		clock = clockz.RealClock
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultAdminSessionTTL
	}

	return &AdminService{
		cfg:      cfg,
		limiter:  limiter,
		clock:    clock,
		sessions: make(map[string]time.Time),
	}
}

// Login checks the configured credentials. Failed attempts count against
// the per-client window; a successful login resets it so a legitimate
// admin is never locked out by their own typos.
func (a *AdminService) Login(fingerprint, username, password string) (string, error) {
	if !a.limiter.Allow(ratelimit.ActionAdminLogin, fingerprint) {
		return "", ErrRateLimited
	}
	if a.cfg.Username == "" || a.cfg.Password == "" {
		return "", ErrUnauthorized
	}

	userOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(username)), []byte(a.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.cfg.Password)) == 1
	if !userOK || !passOK {
		return "", ErrUnauthorized
	}

	a.limiter.Reset(ratelimit.ActionAdminLogin, fingerprint)

	token := uuid.NewString()
	a.mu.Lock()
	a.sessions[token] = a.clock.Now().Add(a.cfg.SessionTTL)
	a.mu.Unlock()

	return token, nil
}

// Verify reports whether the session token is live, reaping it when
// expired.
func (a *AdminService) Verify(token string) bool {
	if token == "" {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	expiresAt, ok := a.sessions[token]
	if !ok {
		return false
	}
	if !a.clock.Now().Before(expiresAt) {
		delete(a.sessions, token)
		return false
	}
	return true
}

func (a *AdminService) Logout(token string) {
	a.mu.Lock()
	delete(a.sessions, token)
	a.mu.Unlock()
}

// SessionTTL exposes the admin cookie lifetime.
func (a *AdminService) SessionTTL() time.Duration {
	return a.cfg.SessionTTL
}
