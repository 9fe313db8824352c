// Package responsestore is an in-memory, TTL-bounded store of completed
// Responses-API response objects plus a responseId -> conversationId link
// table for previous_response_id continuation (spec.md §4.3), grounded
// directly on n0madic-go-chatmock's internal/responses-state/store.go
// (entry bookkeeping, container/list LRU touch pattern, background
// cleanupTick sweep).
package responsestore

import (
	"container/list"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultTTL is applied to every stored response when the caller
	// constructs the store without an explicit value.
	DefaultTTL = 60 * time.Minute
	// cleanupTick is the interval between background expired-entry sweeps.
	cleanupTick = 30 * time.Second

	minListLimit     = 1
	maxListLimit     = 100
	defaultListLimit = 20
)

type responseEntry struct {
	responseID     string
	body           map[string]interface{}
	conversationID string
	createdAtUnix  int64
	seq            uint64
	expiresAt      time.Time
	listElem       *list.Element
}

func (e *responseEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type linkEntry struct {
	conversationID string
	expiresAt      time.Time
}

func (e linkEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store holds completed response bodies and the response->conversation
// link table, each under lazy TTL eviction plus a background sweep.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*responseEntry
	links    map[string]linkEntry
	lru      *list.List
	ttl      time.Duration
	seqNext  uint64
	stopCh   chan struct{}
	done     chan struct{}
}

// New builds a Store with the given default TTL for stored response bodies
// (DefaultTTL if ttl <= 0) and starts its background cleanup goroutine.
// Callers must call Close to stop it.
func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		entries: make(map[string]*responseEntry),
		links:   make(map[string]linkEntry),
		lru:     list.New(),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Close stops the background cleanup goroutine and waits for it to exit.
func (s *Store) Close() {
	close(s.stopCh)
	<-s.done
}

func (s *Store) cleanupLoop() {
	defer close(s.done)
	ticker := time.NewTicker(cleanupTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			s.purgeLocked(time.Now())
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// Set stores a deep clone of body under responseID, with an optional
// conversation id attached for the embedded CreateConversation tracking.
func (s *Store) Set(responseID string, body map[string]interface{}, conversationID string) {
	if responseID == "" {
		return
	}
	clone := deepClone(body)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked(time.Now())

	e, exists := s.entries[responseID]
	if !exists {
		e = &responseEntry{responseID: responseID}
		s.entries[responseID] = e
	}
	e.body = clone
	e.conversationID = conversationID
	e.createdAtUnix = time.Now().Unix()
	e.seq = s.nextSeqLocked()
	if s.ttl > 0 {
		e.expiresAt = time.Now().Add(s.ttl)
	}
	s.touchLRULocked(e)
}

func (s *Store) nextSeqLocked() uint64 {
	s.seqNext++
	return s.seqNext
}

// TryGet returns a deep clone of the stored body for responseID.
func (s *Store) TryGet(responseID string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[responseID]
	if !ok || e.expired(time.Now()) {
		return nil, false
	}
	return deepClone(e.body), true
}

// TryDelete removes responseID from the store, reporting whether it was
// present (and not already expired).
func (s *Store) TryDelete(responseID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[responseID]
	if !ok || e.expired(time.Now()) {
		delete(s.entries, responseID)
		return false
	}
	if e.listElem != nil {
		s.lru.Remove(e.listElem)
	}
	delete(s.entries, responseID)
	return true
}

// List returns the most-recently-created entries (descending by
// createdAtUnix, ties broken by insertion order), clamped to [1,100] with a
// default of 20 for limit <= 0.
func (s *Store) List(limit int) (items []map[string]interface{}, hasMore bool, firstID, lastID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked(time.Now())

	limit = clampLimit(limit)

	all := make([]*responseEntry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	sort.SliceStable(all, func(i, j int) bool { return all[i].createdAtUnix > all[j].createdAtUnix })

	hasMore = len(all) > limit
	if len(all) > limit {
		all = all[:limit]
	}

	items = make([]map[string]interface{}, len(all))
	for i, e := range all {
		items[i] = deepClone(e.body)
	}
	if len(all) > 0 {
		firstID = all[0].responseID
		lastID = all[len(all)-1].responseID
	}
	return items, hasMore, firstID, lastID
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		if limit > maxListLimit {
			return maxListLimit
		}
		return defaultListLimit
	}
	return limit
}

// SetConversationLink records responseID -> conversationID with its own
// ttl (0 means never expire), used for previous_response_id continuation
// when a request supplies no conversation hint.
func (s *Store) SetConversationLink(responseID, conversationID string, ttl time.Duration) {
	if responseID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	link := linkEntry{conversationID: conversationID}
	if ttl > 0 {
		link.expiresAt = time.Now().Add(ttl)
	}
	s.links[responseID] = link
}

// TryGetConversationLink returns the linked conversation id for responseID.
func (s *Store) TryGetConversationLink(responseID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[responseID]
	if !ok || link.expired(time.Now()) {
		return "", false
	}
	return link.conversationID, true
}

func (s *Store) touchLRULocked(e *responseEntry) {
	if e.listElem != nil {
		s.lru.MoveToFront(e.listElem)
	} else {
		e.listElem = s.lru.PushFront(e.responseID)
	}
}

func (s *Store) purgeLocked(now time.Time) {
	for id, e := range s.entries {
		if e.expired(now) {
			if e.listElem != nil {
				s.lru.Remove(e.listElem)
			}
			delete(s.entries, id)
		}
	}
	for id, link := range s.links {
		if link.expired(now) {
			delete(s.links, id)
		}
	}
}

// deepClone round-trips v through JSON marshal/unmarshal, matching the
// teacher's general preference for JSON-shaped plumbing over hand-rolled
// deep copy.
func deepClone(v map[string]interface{}) map[string]interface{} {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]interface{}{}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}
