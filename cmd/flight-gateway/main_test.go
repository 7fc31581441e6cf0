package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/flight-gateway/internal/config"
	"github.com/Sternrassler/flight-gateway/internal/testutil"
	"github.com/Sternrassler/flight-gateway/pkg/cache"
	"github.com/Sternrassler/flight-gateway/pkg/logging"
)

func init() {
	logging.Setup(logging.Config{Level: logging.LevelError, Output: io.Discard})
}

func testConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	base := map[string]string{
		"ROW_STORE":   "sqlite",
		"SQLITE_PATH": filepath.Join(t.TempDir(), "gw", "cache.db"),
		"PORT":        "0",
	}
	for k, v := range env {
		base[k] = v
	}
	cfg, err := config.FromLookup(func(key string) (string, bool) {
		v, ok := base[key]
		return v, ok
	})
	require.NoError(t, err)
	return cfg
}

func TestBuild_ServesStatesThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	opensky := testutil.NewOpenSky()
	defer opensky.Close()

	cfg := testConfig(t, map[string]string{
		"REDIS_URL":        "redis://" + mr.Addr(),
		"OPENSKY_BASE_URL": opensky.URL(),
		"APP_VERSION":      "9.9.9",
	})

	gw, err := build(context.Background(), cfg)
	require.NoError(t, err)
	defer gw.close()
	assert.False(t, gw.enrich.Configured())

	rec := httptest.NewRecorder()
	gw.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "9.9.9")

	rec = httptest.NewRecorder()
	gw.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/opensky/states?lamin=39.7&lomin=-104.99&lamax=39.9&lomax=-104.7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "opensky", rec.Header().Get(cache.HeaderProvider))

	gw.scheduler.Flush()
	ns, err := mr.Get("fg:namespace")
	require.NoError(t, err)
	assert.Equal(t, "v1", ns)
	assert.NotEmpty(t, mr.Keys())
}

func TestBuild_RotatesNamespace(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("fg:namespace", "v0"))
	require.NoError(t, mr.Set("fg:v0:stale", "x"))
	require.NoError(t, mr.Set("fg:gate:count:day:20261019", "7"))

	gw, err := build(context.Background(), testConfig(t, map[string]string{
		"REDIS_URL":       "redis://" + mr.Addr(),
		"CACHE_NAMESPACE": "v2",
	}))
	require.NoError(t, err)
	defer gw.close()

	assert.False(t, mr.Exists("fg:v0:stale"))
	assert.True(t, mr.Exists("fg:gate:count:day:20261019"), "budgets survive rotation")
	ns, _ := mr.Get("fg:namespace")
	assert.Equal(t, "v2", ns)
}

func TestBuild_WithoutRedis(t *testing.T) {
	gw, err := build(context.Background(), testConfig(t, map[string]string{
		"ROW_STORE":        "none",
		"AERODATA_API_KEY": "key",
	}))
	require.NoError(t, err)
	defer gw.close()
	assert.True(t, gw.enrich.Configured())
}

func TestBuild_RedisUnreachable(t *testing.T) {
	_, err := build(context.Background(), testConfig(t, map[string]string{
		"REDIS_URL": "redis://127.0.0.1:1",
	}))
	assert.Error(t, err)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, testConfig(t, map[string]string{"ROW_STORE": "none"}), zerolog.Nop())
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func setupTestRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = redisC.Terminate(ctx) })

	host, err := redisC.Host(ctx)
	require.NoError(t, err)
	port, err := redisC.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return "redis://" + host + ":" + port.Port()
}

func TestBuild_RealRedis(t *testing.T) {
	redisURL := setupTestRedis(t)
	opensky := testutil.NewOpenSky()
	defer opensky.Close()

	gw, err := build(context.Background(), testConfig(t, map[string]string{
		"REDIS_URL":        redisURL,
		"OPENSKY_BASE_URL": opensky.URL(),
	}))
	require.NoError(t, err)
	defer gw.close()

	target := "/opensky/states?lamin=39.7&lomin=-104.99&lamax=39.9&lomax=-104.7"
	rec := httptest.NewRecorder()
	gw.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	gw.scheduler.Flush()

	rec = httptest.NewRecorder()
	gw.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, cache.StatusHit, rec.Header().Get(cache.HeaderCache))
	assert.Equal(t, 1, opensky.PathCount(testutil.OpenSkyStatesPath))
}
