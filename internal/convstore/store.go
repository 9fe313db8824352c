// Package convstore is an in-memory, TTL-bounded mapping from
// "<transport>:<conversationKey>" to an upstream conversationId (spec.md
// §4.2), grounded on n0madic-go-chatmock's internal/session fingerprint
// map, simplified since the spec needs no LRU capacity bound here.
package convstore

import (
	"sync"
	"time"
)

type entry struct {
	conversationID string
	expiresAt      time.Time // zero value means "never expires"
}

func (e entry) expired(now time.Time) bool {
	if e.expiresAt.IsZero() {
		return false
	}
	return now.After(e.expiresAt)
}

// Store is a mutex-guarded map with lazy TTL eviction on every access.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
}

// New builds an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]entry)}
}

// TryGet returns the conversation id for key if present and not expired.
func (s *Store) TryGet(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return "", false
	}
	if e.expired(time.Now()) {
		delete(s.entries, key)
		return "", false
	}
	return e.conversationID, true
}

// Set stores id under key with the given ttl. ttl <= 0 means "never
// expires". Setting the same key twice replaces the mapping.
func (s *Store) Set(key, id string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpiredLocked()

	e := entry{conversationID: id}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.entries[key] = e
}

// evictExpiredLocked performs a lazy purge pass over the whole map; called
// with s.mu held.
func (s *Store) evictExpiredLocked() {
	now := time.Now()
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
		}
	}
}

// Len reports the number of entries without purging, for diagnostics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
