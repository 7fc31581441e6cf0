package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultMemoryMaxEntries bounds a MemoryStore created with a
// non-positive limit.
const DefaultMemoryMaxEntries = 5000

type memoryItem struct {
	value   []byte
	expires time.Time
}

// MemoryStore is an instance-local TTL store. It is the edge tier, and it
// stands in for Redis when no REDIS_URL is configured.
type MemoryStore struct {
	mu         sync.Mutex
	items      map[string]memoryItem
	maxEntries int
	now        func() time.Time
}

// NewMemoryStore creates a MemoryStore holding at most maxEntries keys.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryMaxEntries
	}
	return &MemoryStore{
		items:      make(map[string]memoryItem),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// SetClock replaces the time source (for testing).
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) Name() string { return "memory" }

// Len returns the number of live keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for _, it := range s.items {
		if now.Before(it.expires) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.live(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return it.value, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(key, value, ttl)
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.put(key, value, ttl)
	return true, nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.live(key)
	return ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.items, k)
	}
	return nil
}

func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			delete(s.items, k)
			n++
		}
	}
	return n, nil
}

// live returns the item for key, dropping it if expired. Caller holds mu.
func (s *MemoryStore) live(key string) (memoryItem, bool) {
	it, ok := s.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !s.now().Before(it.expires) {
		delete(s.items, key)
		return memoryItem{}, false
	}
	return it, true
}

// put stores an item, evicting when full. Caller holds mu.
func (s *MemoryStore) put(key string, value []byte, ttl time.Duration) {
	if _, exists := s.items[key]; !exists && len(s.items) >= s.maxEntries {
		s.evict()
	}
	s.items[key] = memoryItem{value: value, expires: s.now().Add(ttl)}
}

// evict drops expired items, then the soonest-expiring one if still full.
func (s *MemoryStore) evict() {
	now := s.now()
	for k, it := range s.items {
		if !now.Before(it.expires) {
			delete(s.items, k)
		}
	}
	if len(s.items) < s.maxEntries {
		return
	}

	var (
		victim string
		soon   time.Time
	)
	for k, it := range s.items {
		if victim == "" || it.expires.Before(soon) {
			victim, soon = k, it.expires
		}
	}
	delete(s.items, victim)
	CacheEvictions.WithLabelValues(s.Name()).Inc()
}
