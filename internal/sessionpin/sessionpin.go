// Package sessionpin implements the session pin store: a small,
// TTL-bounded, size-capped map from (session_id, tier_profile) to the last
// model a session successfully used under that tier profile.
//
// Entries are keyed by the (session_id, tier_profile) tuple so that a pin
// written under one tier profile is never visible under another. Expiry is
// lazy on Get; the least recently used entry is evicted on overflow.
package sessionpin

import (
	"container/list"
	"sync"
	"time"
)

const defaultMaxKeys = 50000

type key struct {
	sessionID   string
	tierProfile string
}

type entry struct {
	k         key
	modelID   string
	expiresAt time.Time
}

// Store holds session pins in memory.
type Store struct {
	mu      sync.Mutex
	buckets map[key]*list.Element
	lru     *list.List
	ttl     time.Duration
	maxKeys int
}

// New creates a Store whose entries expire after ttl and evicts the least
// recently used entry when more than maxKeys (0 = defaultMaxKeys) are held.
func New(ttl time.Duration, maxKeys int) *Store {
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	return &Store{
		buckets: make(map[key]*list.Element),
		lru:     list.New(),
		ttl:     ttl,
		maxKeys: maxKeys,
	}
}

// Get returns the pinned model for (sessionID, tierProfile), if any and not
// expired. A pin written under a different tier profile is never returned,
// even for the same session id — this is the store's whole point.
func (s *Store) Get(sessionID, tierProfile string) (string, bool) {
	if sessionID == "" {
		return "", false
	}
	k := key{sessionID: sessionID, tierProfile: tierProfile}

	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.buckets[k]
	if !ok {
		return "", false
	}
	e := elem.Value.(*entry)
	if time.Now().After(e.expiresAt) {
		s.removeLocked(elem)
		return "", false
	}
	s.lru.MoveToFront(elem)
	return e.modelID, true
}

// Set pins modelID for (sessionID, tierProfile). Callers must only invoke
// this after a confirmed upstream success.
func (s *Store) Set(sessionID, tierProfile, modelID string) {
	if sessionID == "" {
		return
	}
	k := key{sessionID: sessionID, tierProfile: tierProfile}

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.buckets[k]; ok {
		e := elem.Value.(*entry)
		e.modelID = modelID
		e.expiresAt = time.Now().Add(s.ttl)
		s.lru.MoveToFront(elem)
		return
	}

	if len(s.buckets) >= s.maxKeys {
		s.evictOldestLocked()
	}
	e := &entry{k: k, modelID: modelID, expiresAt: time.Now().Add(s.ttl)}
	elem := s.lru.PushFront(e)
	s.buckets[k] = elem
}

func (s *Store) removeLocked(elem *list.Element) {
	e := elem.Value.(*entry)
	delete(s.buckets, e.k)
	s.lru.Remove(elem)
}

func (s *Store) evictOldestLocked() {
	back := s.lru.Back()
	if back == nil {
		return
	}
	s.removeLocked(back)
}

// Len returns the number of live (not necessarily unexpired) entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}
