package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/flight-gateway/internal/config"
	"github.com/Sternrassler/flight-gateway/internal/server"
	"github.com/Sternrassler/flight-gateway/pkg/cache"
	"github.com/Sternrassler/flight-gateway/pkg/enrich"
	"github.com/Sternrassler/flight-gateway/pkg/logging"
	"github.com/Sternrassler/flight-gateway/pkg/ratelimit"
	"github.com/Sternrassler/flight-gateway/pkg/states"
	"github.com/Sternrassler/flight-gateway/pkg/swr"
	"github.com/Sternrassler/flight-gateway/pkg/token"
	"github.com/Sternrassler/flight-gateway/pkg/upstream"
)

// shutdownTimeout bounds the HTTP drain and the background-task drain.
const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Log)
	logger := logging.NewLogger(logging.ComponentBootstrap)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Gateway stopped with error")
		os.Exit(1)
	}
}

// run serves until ctx is cancelled, then shuts down in order: HTTP
// server, background tasks, stores.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	gw, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer gw.close()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Str("version", cfg.Version).
			Str("auth_mode", string(gw.tokens.Mode())).
			Bool("enrichment", gw.enrich.Configured()).
			Msg("Starting flight gateway")
		errCh <- gw.server.Start(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := gw.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := gw.scheduler.Wait(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// gateway holds the wired components.
type gateway struct {
	server    *server.Server
	scheduler *swr.Scheduler
	tiers     *cache.TierManager
	tokens    *token.Manager
	enrich    *enrich.Orchestrator
	closers   []func() error
}

func (g *gateway) close() {
	for i := len(g.closers) - 1; i >= 0; i-- {
		_ = g.closers[i]()
	}
}

// build opens the stores and wires every component from cfg.
func build(ctx context.Context, cfg *config.Config) (*gateway, error) {
	logger := logging.NewLogger(logging.ComponentBootstrap)
	gw := &gateway{}

	kv, err := openKV(ctx, cfg, gw)
	if err != nil {
		return nil, err
	}

	row, err := cache.OpenRowStore(ctx, cfg.RowStore)
	if err != nil {
		gw.close()
		return nil, fmt.Errorf("open row store: %w", err)
	}
	if row != nil {
		gw.closers = append(gw.closers, row.Close)
	}

	edge := cache.NewMemoryStore(cfg.EdgeMaxEntries)

	gw.scheduler = swr.NewScheduler(kv, cfg.SWR, logging.NewLogger(logging.ComponentSWR))
	gw.tiers = cache.NewTierManager(kv, row, edge, gw.scheduler, cfg.Tiers, logging.NewLogger(logging.ComponentCache))
	if err := gw.tiers.Rotate(ctx); err != nil {
		logger.Warn().Err(err).Msg("Cache namespace rotation failed")
	}

	httpClient := upstream.NewHTTPClient(upstream.DefaultClientConfig())

	gw.tokens = token.NewManager(cfg.OpenSky, token.NewMemoryStore(), httpClient, logging.NewLogger(logging.ComponentToken))
	statesLog := logging.NewLogger(logging.ComponentStates)
	primary := states.NewOpenSkyClient(cfg.OpenSkyBaseURL, cfg.OpenSkyTimeout, gw.tokens, httpClient, statesLog)
	secondary := states.NewADSBLolClient(cfg.ADSBLolBaseURL, cfg.ADSBLolTimeout, httpClient, statesLog)
	fetcher := states.NewFetcher(primary, secondary, statesLog)
	statesSvc := states.NewService(fetcher, gw.tiers, gw.scheduler, string(gw.tokens.Mode()), cfg.States, statesLog)

	enrichLog := logging.NewLogger(logging.ComponentEnrich)
	var source enrich.Source
	aero, err := enrich.NewAeroDataBoxClient(cfg.AeroDataBox, httpClient, enrichLog)
	switch {
	case errors.Is(err, enrich.ErrNotConfigured):
		logger.Warn().Msg("AERODATA_API_KEY not set, enrichment serves cache only")
	case err != nil:
		gw.close()
		return nil, fmt.Errorf("aerodatabox client: %w", err)
	default:
		source = aero
	}

	gateLog := logging.NewLogger(logging.ComponentGate)
	gate := ratelimit.NewGate(kv, cfg.Limits, nil, gateLog)
	hardCap := ratelimit.NewHardCap(kv, cfg.HardDailyBudget, cfg.Limits.Location, nil, gateLog)
	gw.enrich = enrich.NewOrchestrator(source, gw.tiers, gate, hardCap, cfg.Enrich, enrichLog)

	gw.server = server.New(
		server.Deps{States: statesSvc, Enrich: gw.enrich, Tokens: gw.tokens},
		server.Config{Version: cfg.Version, AdsTxt: cfg.AdsTxt},
		logging.NewLogger(logging.ComponentServer),
	)
	return gw, nil
}

// openKV connects the shared KV tier: Redis when REDIS_URL is set,
// otherwise a process-local store.
func openKV(ctx context.Context, cfg *config.Config, gw *gateway) (cache.Store, error) {
	if cfg.RedisURL == "" {
		log := logging.NewLogger(logging.ComponentBootstrap)
		log.Warn().Msg("REDIS_URL not set, KV tier is process-local")
		return cache.NewMemoryStore(cfg.EdgeMaxEntries * 4), nil
	}
	client, err := cache.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	gw.closers = append(gw.closers, client.Close)
	return cache.NewRedisStore(client), nil
}
