package token

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenServer struct {
	*httptest.Server
	calls     atomic.Int32
	expiresIn int64
	token     string
	status    int
	delay     time.Duration
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{expiresIn: 300, token: "tok", status: http.StatusOK}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.calls.Add(1)
		if ts.delay > 0 {
			time.Sleep(ts.delay)
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if ts.status != http.StatusOK {
			w.WriteHeader(ts.status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"%s-%d","expires_in":%d,"token_type":"Bearer"}`, ts.token, n, ts.expiresIn)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestManager(ts *tokenServer, store Store) *Manager {
	return NewManager(Config{
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     ts.URL,
		Timeout:      2 * time.Second,
	}, store, ts.Client(), zerolog.Nop())
}

func TestConfigMode(t *testing.T) {
	assert.Equal(t, ModeOAuth, Config{ClientID: "a", ClientSecret: "b", Username: "u", Password: "p"}.Mode())
	assert.Equal(t, ModeBasic, Config{Username: "u", Password: "p"}.Mode())
	assert.Equal(t, ModeNone, Config{ClientID: "a"}.Mode())
	assert.Equal(t, ModeNone, Config{}.Mode())
}

func TestManager_CachesToken(t *testing.T) {
	ts := newTokenServer(t)
	m := newTestManager(ts, nil)
	ctx := context.Background()

	first := m.Token(ctx)
	second := m.Token(ctx)

	assert.Equal(t, "tok-1", first)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, ts.calls.Load())
}

func TestManager_RefreshesWithinMargin(t *testing.T) {
	ts := newTokenServer(t)
	ts.expiresIn = 60
	m := newTestManager(ts, nil)

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	require.Equal(t, "tok-1", m.Token(context.Background()))

	// 44s in: 16s left, still outside the 15s margin
	now = now.Add(44 * time.Second)
	assert.Equal(t, "tok-1", m.Token(context.Background()))

	// 46s in: inside the margin, must refresh
	now = now.Add(2 * time.Second)
	assert.Equal(t, "tok-2", m.Token(context.Background()))
	assert.EqualValues(t, 2, ts.calls.Load())
}

func TestManager_CoalescesConcurrentFetches(t *testing.T) {
	ts := newTokenServer(t)
	ts.delay = 100 * time.Millisecond
	m := newTestManager(ts, nil)

	const callers = 20
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Token(context.Background())
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, ts.calls.Load())
	for _, r := range results {
		assert.Equal(t, "tok-1", r)
	}
}

func TestManager_DoesNotCacheWithoutExpiry(t *testing.T) {
	ts := newTokenServer(t)
	ts.expiresIn = 0
	store := NewMemoryStore()
	m := newTestManager(ts, store)

	assert.Equal(t, "tok-1", m.Token(context.Background()))
	_, ok := store.Get()
	assert.False(t, ok, "token without positive expiry must not be cached")

	assert.Equal(t, "tok-2", m.Token(context.Background()))
}

func TestManager_EmptyTokenIsFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"access_token":"","expires_in":300}`)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	m := NewManager(Config{ClientID: "id", ClientSecret: "s", TokenURL: srv.URL}, store, srv.Client(), zerolog.Nop())

	assert.Equal(t, "", m.Token(context.Background()))
	_, ok := store.Get()
	assert.False(t, ok)
	assert.EqualValues(t, 1, calls.Load())
}

func TestManager_UpstreamErrorReturnsEmpty(t *testing.T) {
	ts := newTokenServer(t)
	ts.status = http.StatusInternalServerError
	m := newTestManager(ts, nil)

	assert.Equal(t, "", m.Token(context.Background()))

	_, err := m.Fetch(context.Background())
	assert.Error(t, err)
}

func TestManager_Clear(t *testing.T) {
	ts := newTokenServer(t)
	m := newTestManager(ts, nil)

	require.Equal(t, "tok-1", m.Token(context.Background()))
	m.Clear()
	assert.Equal(t, "tok-2", m.Token(context.Background()))
}

func TestManager_NoCredentials(t *testing.T) {
	m := NewManager(Config{}, nil, nil, zerolog.Nop())

	_, err := m.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)
	assert.Equal(t, "", m.Token(context.Background()))
}

func TestManager_Apply(t *testing.T) {
	ts := newTokenServer(t)

	t.Run("oauth", func(t *testing.T) {
		m := newTestManager(ts, nil)
		req := httptest.NewRequest(http.MethodGet, "/states/all", nil)
		require.NoError(t, m.Apply(context.Background(), req))
		assert.Contains(t, req.Header.Get("Authorization"), "Bearer tok-")
	})

	t.Run("basic", func(t *testing.T) {
		m := NewManager(Config{Username: "u", Password: "p"}, nil, nil, zerolog.Nop())
		req := httptest.NewRequest(http.MethodGet, "/states/all", nil)
		require.NoError(t, m.Apply(context.Background(), req))
		user, pass, ok := req.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "u", user)
		assert.Equal(t, "p", pass)
	})

	t.Run("none", func(t *testing.T) {
		m := NewManager(Config{}, nil, nil, zerolog.Nop())
		req := httptest.NewRequest(http.MethodGet, "/states/all", nil)
		require.NoError(t, m.Apply(context.Background(), req))
		assert.Empty(t, req.Header.Get("Authorization"))
	})
}
