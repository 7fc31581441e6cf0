package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis starts an in-memory miniredis for unit tests. Integration
// tests in tests/integration run against a real Redis container.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, NewRedisStore(client)
}

func TestNewRedisStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisStore should panic with nil redis client")
		}
	}()
	NewRedisStore(nil)
}

func TestRedisStore_SetAndGet(t *testing.T) {
	mr, s := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "fg:v1:flight:id=DAL123", []byte(`{"ok":true}`), time.Hour))

	got, err := s.Get(ctx, "fg:v1:flight:id=DAL123")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(got))
	assert.Equal(t, time.Hour, mr.TTL("fg:v1:flight:id=DAL123"))

	mr.FastForward(time.Hour)
	_, err = s.Get(ctx, "fg:v1:flight:id=DAL123")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisStore_Get_CacheMiss(t *testing.T) {
	_, s := setupTestRedis(t)

	_, err := s.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisStore_SetNX(t *testing.T) {
	mr, s := setupTestRedis(t)
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "lock:flight:DAL123", []byte("1"), 12*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "lock:flight:DAL123", []byte("1"), 12*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(12 * time.Second)
	exists, err := s.Exists(ctx, "lock:flight:DAL123")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisStore_DeletePrefix(t *testing.T) {
	mr, s := setupTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 1200; i++ {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("fg:old:k%d", i), []byte("x"), time.Hour))
	}
	require.NoError(t, s.Set(ctx, "fg:new:k", []byte("x"), time.Hour))

	n, err := s.DeletePrefix(ctx, "fg:old:")
	require.NoError(t, err)
	assert.Equal(t, 1200, n)
	assert.True(t, mr.Exists("fg:new:k"))
	assert.Len(t, mr.Keys(), 1)
}

func TestRedisStore_ErrorsWhenDown(t *testing.T) {
	mr, s := setupTestRedis(t)
	mr.Close()

	_, err := s.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := OpenRedis(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	client.Close()

	_, err = OpenRedis(context.Background(), "::not a url")
	assert.Error(t, err)
}
