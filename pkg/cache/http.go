package cache

import (
	"fmt"
	"net/http"
	"time"
)

// Response header names set from cache entries.
const (
	HeaderProvider = "X-Provider"
	HeaderCache    = "X-Cache"
)

// Cache status values for HeaderCache.
const (
	StatusHit   = "HIT"
	StatusMiss  = "MISS"
	StatusStale = "STALE"
)

// CacheControl renders a Cache-Control value from the entry's remaining
// fresh window and grace window.
//
// Example:
//
//	public, max-age=8, stale-while-revalidate=20
func CacheControl(entry *CacheEntry, now time.Time) string {
	if entry == nil {
		return "no-store"
	}
	maxAge := int(entry.Expires.Sub(now).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	if entry.StaleUntil.After(entry.Expires) {
		swr := int(entry.StaleUntil.Sub(entry.Expires).Seconds())
		return fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d", maxAge, swr)
	}
	return fmt.Sprintf("public, max-age=%d", maxAge)
}

// ApplyHeaders copies provider and cache status onto h.
func ApplyHeaders(h http.Header, entry *CacheEntry, status string, now time.Time) {
	if entry == nil {
		return
	}
	if entry.Provider != "" {
		h.Set(HeaderProvider, entry.Provider)
	}
	if status != "" {
		h.Set(HeaderCache, status)
	}
	h.Set("Cache-Control", CacheControl(entry, now))
}
