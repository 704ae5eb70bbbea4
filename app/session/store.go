package session

import (
	"sync"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/vibast-solutions/ms-go-checkout/app/entity"
)

// Store caches verified credentials keyed by their serialized token. It is
// never a source of truth: the signed token the client holds is. Production
// deployments needing cross-instance consistency can put a shared KV store
// behind this interface.
type Store interface {
	Get(token string) *entity.SessionCredential
	Set(token string, cred *entity.SessionCredential)
	Delete(token string)
	Sweep() int
}

type memoryEntry struct {
	cred     entity.SessionCredential
	storedAt time.Time
}

type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	clock   clockz.Clock
}

// NewMemoryStore builds a process-local store whose entries expire ttl
// after they were last written.
func NewMemoryStore(ttl time.Duration, clock clockz.Clock) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if clock == nil {
		clock = clockz.RealClock
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		clock:   clock,
	}
}

func (s *MemoryStore) Get(token string) *entity.SessionCredential {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[token]
	if !ok {
		return nil
	}
	if s.clock.Now().Sub(entry.storedAt) > s.ttl {
		delete(s.entries, token)
		return nil
	}
	copied := entry.cred
	return &copied
}

func (s *MemoryStore) Set(token string, cred *entity.SessionCredential) {
	if cred == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[token] = memoryEntry{cred: *cred, storedAt: s.clock.Now()}
}

func (s *MemoryStore) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, token)
}

// Sweep drops expired entries and reports how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for token, entry := range s.entries {
		if now.Sub(entry.storedAt) > s.ttl {
			delete(s.entries, token)
			removed++
		}
	}
	return removed
}

// Len reports the live entry count. Used by the sweeper's logging.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
