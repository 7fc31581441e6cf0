package cache

import (
	"time"
)

// CacheEntry is a stored upstream response bound to a synthetic key.
type CacheEntry struct {
	// Data is the response body, brotli-compressed when Compressed is set.
	Data []byte `json:"data"`

	// Compressed marks Data as brotli-encoded.
	Compressed bool `json:"compressed,omitempty"`

	// StatusCode is the HTTP status to replay.
	StatusCode int `json:"status_code"`

	// Provider tags which upstream produced the payload.
	Provider string `json:"provider,omitempty"`

	// Negative marks a cached "not found".
	Negative bool `json:"negative,omitempty"`

	// Verified marks a positive result the provider flagged as verified.
	Verified bool `json:"verified,omitempty"`

	// CachedAt is when the payload was fetched upstream.
	CachedAt time.Time `json:"cached_at"`

	// Expires is the end of the fresh window.
	Expires time.Time `json:"expires"`

	// StaleUntil is the end of the stale-while-revalidate grace window.
	// Zero means no grace window.
	StaleUntil time.Time `json:"stale_until,omitempty"`

	// TTL is the lifetime the entry was written with, used to re-arm it
	// when it is copied back into a faster tier.
	TTL time.Duration `json:"ttl"`
}

// NewEntry builds an entry fresh for ttl with an optional grace window.
func NewEntry(data []byte, status int, provider string, now time.Time, ttl, grace time.Duration) *CacheEntry {
	e := &CacheEntry{
		StatusCode: status,
		Provider:   provider,
		CachedAt:   now,
		Expires:    now.Add(ttl),
		TTL:        ttl,
	}
	if grace > 0 {
		e.StaleUntil = e.Expires.Add(grace)
	}
	e.SetBody(data)
	return e
}

// IsFresh reports whether the entry is inside its fresh window.
func (e *CacheEntry) IsFresh(now time.Time) bool {
	return now.Before(e.Expires)
}

// IsUsable reports whether the entry may still be served, fresh or stale.
func (e *CacheEntry) IsUsable(now time.Time) bool {
	return now.Before(e.hardExpiry())
}

// Remaining returns the time until the entry can no longer be served.
// Returns 0 if already past.
func (e *CacheEntry) Remaining(now time.Time) time.Duration {
	d := e.hardExpiry().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Age returns how long ago the payload was fetched.
func (e *CacheEntry) Age(now time.Time) time.Duration {
	if e.CachedAt.IsZero() {
		return 0
	}
	return now.Sub(e.CachedAt)
}

// Rearm returns a copy whose fresh window restarts at now with the
// original TTL. Grace windows are not carried over.
func (e *CacheEntry) Rearm(now time.Time) *CacheEntry {
	c := *e
	c.Expires = now.Add(e.TTL)
	c.StaleUntil = time.Time{}
	return &c
}

func (e *CacheEntry) hardExpiry() time.Time {
	if e.StaleUntil.After(e.Expires) {
		return e.StaleUntil
	}
	return e.Expires
}
