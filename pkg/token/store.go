// Package token manages the OpenSky OAuth2 client-credentials bearer token.
//
// The token is cached in an injectable Store for the lifetime of the
// gateway and shared by every request. Concurrent callers that find the
// cache empty wait on one shared token request instead of each issuing
// their own.
package token

import (
	"sync"
	"time"
)

// Mode is the primary provider authentication mode.
type Mode string

const (
	ModeOAuth Mode = "oauth"
	ModeBasic Mode = "basic"
	ModeNone  Mode = "none"
)

// Token is a cached bearer credential.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Valid reports whether t can still be used at now, keeping margin in
// reserve before the real expiry.
func (t Token) Valid(now time.Time, margin time.Duration) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt.Add(-margin))
}

// Store holds at most one token.
type Store interface {
	Get() (Token, bool)
	Set(Token)
	Clear()
}

// MemoryStore is the process-local Store.
type MemoryStore struct {
	mu  sync.RWMutex
	tok Token
	ok  bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get() (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tok, s.ok
}

func (s *MemoryStore) Set(t Token) {
	s.mu.Lock()
	s.tok, s.ok = t, true
	s.mu.Unlock()
}

func (s *MemoryStore) Clear() {
	s.mu.Lock()
	s.tok, s.ok = Token{}, false
	s.mu.Unlock()
}
