package memory

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// MapStore is the default in-process Store. It keeps keys in first-insert
// order; replacing a value keeps the key's position.
type MapStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	order   []string
	now     func() time.Time
}

func NewMapStore() *MapStore {
	return &MapStore{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

func (s *MapStore) Put(_ context.Context, key string, value json.RawMessage, ttl time.Duration) (Entry, error) {
	e := newEntry(key, value, ttl, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		s.order = append(s.order, key)
	}
	s.entries[key] = e
	return e, nil
}

func (s *MapStore) Get(_ context.Context, key string) (Entry, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, ErrNotFound
	}
	if !e.Expired(s.now()) {
		return e, nil
	}

	s.mu.Lock()
	// Only delete if nobody replaced it meanwhile.
	if cur, ok := s.entries[key]; ok && cur.CreatedAt.Equal(e.CreatedAt) {
		s.deleteLocked(key)
	}
	s.mu.Unlock()
	return Entry{}, ErrExpired
}

func (s *MapStore) Search(_ context.Context, query string, limit int) ([]Entry, int, error) {
	needle := strings.ToLower(query)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var found []Entry
	for _, k := range s.order {
		if e := s.entries[k]; matches(e, needle) {
			found = append(found, e)
		}
	}
	return window(found, limit), len(found), nil
}

func (s *MapStore) Len(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

func (s *MapStore) Close() error {
	return nil
}

func (s *MapStore) deleteLocked(key string) {
	delete(s.entries, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
