package states

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/flight-gateway/pkg/cache"
	"github.com/Sternrassler/flight-gateway/pkg/geo"
	"github.com/Sternrassler/flight-gateway/pkg/swr"
)

// Route is the cache route for bbox state queries.
const Route = "/opensky/states"

// ServiceConfig holds states caching windows.
type ServiceConfig struct {
	// FreshTTL is how long a payload is served without revalidation.
	FreshTTL time.Duration

	// SWRWindow is the grace period after FreshTTL during which the payload
	// is still served while one background refresh runs.
	SWRWindow time.Duration

	// StaleRetention keeps a last-good copy for total upstream failure.
	StaleRetention time.Duration

	// BucketStep quantizes bbox corners into the area prefix of refresh locks.
	BucketStep float64
}

// DefaultServiceConfig returns the production windows.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		FreshTTL:       10 * time.Second,
		SWRWindow:      20 * time.Second,
		StaleRetention: 10 * time.Minute,
		BucketStep:     0.1,
	}
}

// Response is a states payload ready to serve.
type Response struct {
	Body        []byte
	Entry       *cache.CacheEntry
	CacheStatus string
}

// Service is the cache-first front of the failover fetcher.
type Service struct {
	fetcher   *Fetcher
	tiers     *cache.TierManager
	scheduler *swr.Scheduler
	authMode  string
	cfg       ServiceConfig
	flights   singleflight.Group
	now       func() time.Time
	logger    zerolog.Logger
}

// NewService wires the fetcher to the cache tiers and scheduler. authMode
// is folded into cache keys so credentialed and anonymous payloads never
// mix.
func NewService(fetcher *Fetcher, tiers *cache.TierManager, scheduler *swr.Scheduler, authMode string, cfg ServiceConfig, logger zerolog.Logger) *Service {
	def := DefaultServiceConfig()
	if cfg.FreshTTL <= 0 {
		cfg.FreshTTL = def.FreshTTL
	}
	if cfg.SWRWindow < 0 {
		cfg.SWRWindow = 0
	}
	if cfg.StaleRetention <= 0 {
		cfg.StaleRetention = def.StaleRetention
	}
	if cfg.BucketStep <= 0 {
		cfg.BucketStep = def.BucketStep
	}
	return &Service{
		fetcher:   fetcher,
		tiers:     tiers,
		scheduler: scheduler,
		authMode:  authMode,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

// SetClock replaces the time source (for testing).
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Key returns the synthetic cache key for bbox.
func (s *Service) Key(bbox geo.BBox) string {
	params := url.Values{}
	params.Set("lamin", formatCoord(bbox.LaMin))
	params.Set("lomin", formatCoord(bbox.LoMin))
	params.Set("lamax", formatCoord(bbox.LaMax))
	params.Set("lomax", formatCoord(bbox.LoMax))
	return cache.CacheKey{Route: Route, Params: params, AuthMode: s.authMode}.String()
}

func lastGoodKey(key string) string {
	return key + ":last"
}

// Get serves bbox from cache when possible. A stale-but-usable hit is
// returned at once and revalidated in the background. On a miss it fetches
// through the failover chain; if that fails it falls back to the last good
// payload (CacheStatus STALE) before returning the fetch error.
func (s *Service) Get(ctx context.Context, bbox geo.BBox) (*Response, error) {
	key := s.Key(bbox)

	if entry, _, err := s.tiers.Lookup(ctx, key, cache.FastOrder...); err == nil {
		if !entry.IsFresh(s.now()) {
			s.revalidate(bbox, key)
		}
		return s.respond(entry, cache.StatusHit)
	}

	v, err, _ := s.flights.Do(key, func() (interface{}, error) {
		return s.fetchAndStore(context.WithoutCancel(ctx), bbox, key)
	})
	if err == nil {
		return s.respond(v.(*cache.CacheEntry), cache.StatusMiss)
	}

	if last, _, lerr := s.tiers.Lookup(ctx, lastGoodKey(key), cache.FastOrder...); lerr == nil {
		s.logger.Warn().Err(err).Str("key", key).Str("provider", last.Provider).Msg("Serving last good states payload")
		return s.respond(last, cache.StatusStale)
	}

	s.logger.Error().Err(err).Str("key", key).Msg("States unavailable and nothing cached")
	return nil, err
}

// Probe fetches bbox from the primary provider only, bypassing the cache.
func (s *Service) Probe(ctx context.Context, bbox geo.BBox) (*Result, error) {
	ts, records, err := s.fetcher.Primary().FetchStates(ctx, bbox)
	if err != nil {
		return nil, err
	}
	return &Result{Provider: s.fetcher.Primary().Name(), Time: ts, Records: records}, nil
}

func (s *Service) revalidate(bbox geo.BBox, key string) {
	// Grouped by area bucket, held per exact key: two boxes in one bucket
	// must not suppress each other's refresh.
	lock := "states:" + bbox.BucketKey(s.cfg.BucketStep) + ":" + key
	s.scheduler.Revalidate(lock, func(ctx context.Context) error {
		_, err := s.fetchAndStore(ctx, bbox, key)
		return err
	})
}

func (s *Service) fetchAndStore(ctx context.Context, bbox geo.BBox, key string) (*cache.CacheEntry, error) {
	res, err := s.fetcher.FetchStates(ctx, bbox)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(res.Payload())
	if err != nil {
		return nil, fmt.Errorf("encode states payload: %w", err)
	}

	now := s.now()
	entry := cache.NewEntry(body, 200, res.Provider, now, s.cfg.FreshTTL, s.cfg.SWRWindow)
	last := cache.NewEntry(body, 200, res.Provider, now, s.cfg.StaleRetention, 0)

	write := func(ctx context.Context) {
		s.tiers.StoreFast(ctx, key, entry, "states")
		s.tiers.StoreFast(ctx, lastGoodKey(key), last, "states_last_good")
	}
	if !s.scheduler.Go("states-write", write) {
		write(ctx)
	}

	s.logger.Debug().Str("key", key).Str("provider", res.Provider).Int("states", len(res.Records)).Msg("States fetched")
	return entry, nil
}

func (s *Service) respond(entry *cache.CacheEntry, status string) (*Response, error) {
	body, err := entry.Body()
	if err != nil {
		return nil, err
	}
	return &Response{Body: body, Entry: entry, CacheStatus: status}, nil
}
