package cache

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheEntry_Windows(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	e := NewEntry([]byte(`{}`), 200, "opensky", now, 10*time.Second, 20*time.Second)

	assert.True(t, e.IsFresh(now.Add(9*time.Second)))
	assert.False(t, e.IsFresh(now.Add(10*time.Second)))
	assert.True(t, e.IsUsable(now.Add(29*time.Second)))
	assert.False(t, e.IsUsable(now.Add(30*time.Second)))
	assert.Equal(t, 30*time.Second, e.Remaining(now))
	assert.Zero(t, e.Remaining(now.Add(time.Hour)))
	assert.Equal(t, 5*time.Second, e.Age(now.Add(5*time.Second)))
}

func TestCacheEntry_NoGrace(t *testing.T) {
	now := time.Now()
	e := NewEntry([]byte(`{}`), 200, "", now, time.Minute, 0)

	assert.True(t, e.StaleUntil.IsZero())
	assert.Equal(t, time.Minute, e.Remaining(now))
}

func TestCacheEntry_Rearm(t *testing.T) {
	then := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := NewEntry([]byte(`{}`), 200, "aerodatabox", then, 24*time.Hour, time.Minute)

	later := then.Add(48 * time.Hour)
	require.False(t, e.IsUsable(later))

	r := e.Rearm(later)
	assert.True(t, r.IsFresh(later))
	assert.Equal(t, 24*time.Hour, r.Remaining(later))
	assert.Equal(t, then, r.CachedAt, "rearm keeps the fetch time")
	assert.False(t, e.IsUsable(later), "original is untouched")
}

func TestCacheEntry_CompressionRoundTrip(t *testing.T) {
	small := []byte(`{"ok":true}`)
	e := NewEntry(small, 200, "", time.Now(), time.Minute, 0)
	assert.False(t, e.Compressed)

	large := bytes.Repeat([]byte(`["a1b2c3","DAL123  ",null,1700000000,39.8,-104.8],`), 400)
	e = NewEntry(large, 200, "", time.Now(), time.Minute, 0)
	require.True(t, e.Compressed)
	assert.Less(t, len(e.Data), len(large))

	body, err := e.Body()
	require.NoError(t, err)
	assert.Equal(t, large, body)
}

func TestCacheEntry_CorruptCompressedBody(t *testing.T) {
	e := &CacheEntry{Data: []byte("not brotli"), Compressed: true}
	_, err := e.Body()
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestCacheControl(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	e := NewEntry(nil, 200, "", now, 10*time.Second, 20*time.Second)
	assert.Equal(t, "public, max-age=10, stale-while-revalidate=20", CacheControl(e, now))
	assert.Equal(t, "public, max-age=0, stale-while-revalidate=20", CacheControl(e, now.Add(15*time.Second)))

	e = NewEntry(nil, 200, "", now, time.Hour, 0)
	assert.Equal(t, "public, max-age=3600", CacheControl(e, now))
	assert.Equal(t, "no-store", CacheControl(nil, now))
}
