// Package ratelimit bounds abuse of the payment endpoints with fixed-window
// counters. Fixed windows allow a burst of up to twice the ceiling across a
// window boundary; that looseness is accepted in exchange for O(1) state per
// key.
package ratelimit

import (
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// Action names a rate-limited operation. Each action carries its own
// ceiling and window.
type Action string

const (
	ActionCardInitiation Action = "card_initiation"
	ActionQRInitiation   Action = "qr_initiation"
	ActionStatusPoll     Action = "status_poll"
	ActionStatusPollRef  Action = "status_poll_ref"
	ActionAdminLogin     Action = "admin_login"
)

// Rule is the ceiling for one action.
type Rule struct {
	Limit  int
	Window time.Duration
}

// DefaultRules mirror the production ceilings.
func DefaultRules() map[Action]Rule {
	return map[Action]Rule{
		ActionCardInitiation: {Limit: 5, Window: 15 * time.Minute},
		ActionQRInitiation:   {Limit: 10, Window: 15 * time.Minute},
		ActionStatusPoll:     {Limit: 30, Window: time.Minute},
		ActionStatusPollRef:  {Limit: 50, Window: time.Minute},
		ActionAdminLogin:     {Limit: 5, Window: 15 * time.Minute},
	}
}

type counter struct {
	count         int
	windowResetAt time.Time
}

// Store holds the counters. The memory implementation below is the default;
// a shared KV store can be substituted for multi-instance deployments.
type Store interface {
	Get(key string) (count int, windowResetAt time.Time, ok bool)
	Set(key string, count int, windowResetAt time.Time)
	Delete(key string)
	Sweep(now time.Time) int
}

type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]counter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]counter)}
}

func (s *MemoryStore) Get(key string) (int, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[key]
	return c.count, c.windowResetAt, ok
}

func (s *MemoryStore) Set(key string, count int, windowResetAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key] = counter{count: count, windowResetAt: windowResetAt}
}

func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, key)
}

func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, c := range s.counters {
		if now.After(c.windowResetAt) {
			delete(s.counters, key)
			removed++
		}
	}
	return removed
}

type Limiter struct {
	mu    sync.Mutex
	store Store
	rules map[Action]Rule
	clock clockz.Clock
}

func NewLimiter(store Store, rules map[Action]Rule, clock clockz.Clock) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	if rules == nil {
		rules = DefaultRules()
	}
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Limiter{store: store, rules: rules, clock: clock}
}

// Allow reports whether the action may proceed for the key and records the
// attempt. Actions without a configured rule are always allowed.
func (l *Limiter) Allow(action Action, key string) bool {
	rule, ok := l.rules[action]
	if !ok || rule.Limit <= 0 {
		return true
	}

	// Read-modify-write under one lock; the store itself only guards its
	// own map.
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	storeKey := string(action) + ":" + key

	count, resetAt, exists := l.store.Get(storeKey)
	if !exists || now.After(resetAt) {
		l.store.Set(storeKey, 1, now.Add(rule.Window))
		return true
	}

	if count >= rule.Limit {
		return false
	}

	l.store.Set(storeKey, count+1, resetAt)
	return true
}

// Reset clears a counter. Used after a successful admin login so the
// ceiling only penalizes failures.
func (l *Limiter) Reset(action Action, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.store.Delete(string(action) + ":" + key)
}

// Sweep reaps expired counters to bound memory.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Sweep(l.clock.Now())
}
