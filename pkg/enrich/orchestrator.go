// Package enrich resolves flight and aircraft metadata from the metered
// provider on demand.
//
// Lookups run through the durable cache tiers first, then the
// budget/throttle gate, then the provider. Found results are written to
// every tier with a TTL chosen by the provider's verified flag; not-found
// results are cached in the fast tiers only; a provider 429 is cached
// briefly and starts a provider-wide cooldown.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/flight-gateway/pkg/cache"
	"github.com/Sternrassler/flight-gateway/pkg/ratelimit"
	"github.com/Sternrassler/flight-gateway/pkg/upstream"
)

// Kind is the entity class being enriched.
type Kind = ratelimit.Kind

const (
	KindFlight   = ratelimit.KindFlight
	KindAircraft = ratelimit.KindAircraft
)

// Outcome classifies an enrichment result.
type Outcome string

const (
	OutcomeFound       Outcome = "found"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeThrottled   Outcome = "throttled"
	OutcomeExhausted   Outcome = "budget_exhausted"
	OutcomeUnsupported Outcome = "unsupported"
	OutcomeRateLimited Outcome = "rate_limited"
)

var resultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flightgw_enrich_results_total",
	Help: "Enrichment results by kind, outcome and source (cache or upstream)",
}, []string{"kind", "outcome", "source"})

// Result is what an enrichment route serves.
type Result struct {
	Kind    Kind
	ID      string
	Outcome Outcome

	// Reason names the gate or proximity check that skipped the lookup.
	Reason string

	// Body is the JSON payload; empty for OutcomeExhausted.
	Body []byte

	// Entry is set when the result came from or went to the cache.
	Entry       *cache.CacheEntry
	CacheStatus string
}

// Config holds TTLs and the follower wait.
type Config struct {
	FlightTTL           time.Duration
	FlightVerifiedTTL   time.Duration
	AircraftTTL         time.Duration
	AircraftVerifiedTTL time.Duration
	NegativeTTL         time.Duration
	RateLimitTTL        time.Duration

	// LockWait is how long a request that lost the stampede lock polls the
	// cache for the leader's result.
	LockWait     time.Duration
	PollInterval time.Duration

	Callsigns CallsignFilter
	Proximity Proximity
}

// DefaultConfig returns the production TTLs.
func DefaultConfig() Config {
	return Config{
		FlightTTL:           12 * time.Hour,
		FlightVerifiedTTL:   7 * 24 * time.Hour,
		AircraftTTL:         7 * 24 * time.Hour,
		AircraftVerifiedTTL: 30 * 24 * time.Hour,
		NegativeTTL:         6 * time.Hour,
		RateLimitTTL:        60 * time.Second,
		LockWait:            2 * time.Second,
		PollInterval:        100 * time.Millisecond,
	}
}

// positiveTTL selects the TTL for a found result.
func (c Config) positiveTTL(kind Kind, verified bool) time.Duration {
	switch {
	case kind == KindAircraft && verified:
		return c.AircraftVerifiedTTL
	case kind == KindAircraft:
		return c.AircraftTTL
	case verified:
		return c.FlightVerifiedTTL
	default:
		return c.FlightTTL
	}
}

// Orchestrator runs enrichment lookups.
type Orchestrator struct {
	source  Source
	tiers   *cache.TierManager
	gate    *ratelimit.Gate
	hardCap *ratelimit.HardCap
	cfg     Config
	now     func() time.Time
	logger  zerolog.Logger
}

// NewOrchestrator wires the lookup chain. source may be nil when no API key
// is configured: cached results are still served and misses return
// ErrNotConfigured. hardCap may be nil.
func NewOrchestrator(source Source, tiers *cache.TierManager, gate *ratelimit.Gate, hardCap *ratelimit.HardCap, cfg Config, logger zerolog.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = def.NegativeTTL
	}
	if cfg.RateLimitTTL <= 0 {
		cfg.RateLimitTTL = def.RateLimitTTL
	}
	return &Orchestrator{
		source:  source,
		tiers:   tiers,
		gate:    gate,
		hardCap: hardCap,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
	}
}

// SetClock replaces the time source (for testing).
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Configured reports whether a metered source is available.
func (o *Orchestrator) Configured() bool {
	return o.source != nil
}

// Normalize canonicalizes id for kind.
func Normalize(kind Kind, id string) (string, error) {
	if kind == KindAircraft {
		return NormalizeICAO24(id)
	}
	cs := NormalizeCallsign(id)
	if cs == "" {
		return "", ErrInvalidID
	}
	return cs, nil
}

// Enrich resolves one entity. pos is the caller-reported position used by
// the proximity check and may be nil. Policy outcomes (throttled,
// unsupported, exhausted) are results, not errors; errors are reserved for
// invalid input, missing configuration and failed upstream calls.
func (o *Orchestrator) Enrich(ctx context.Context, kind Kind, rawID string, pos *Position) (*Result, error) {
	id, err := Normalize(kind, rawID)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", kind, rawID, err)
	}

	if kind == KindFlight && !o.cfg.Callsigns.Supported(id) {
		return o.finish(&Result{Kind: kind, ID: id, Outcome: OutcomeUnsupported, Body: unsupportedBody(id)}, "filter"), nil
	}

	key := cache.EntityKey(string(kind), id)
	if res, ok := o.lookup(ctx, kind, id, key); ok {
		return o.finish(res, "cache"), nil
	}

	if o.source == nil {
		return nil, ErrNotConfigured
	}

	if reason := o.cfg.Proximity.Check(pos); reason != "" {
		return o.finish(o.throttled(kind, id, reason), "gate"), nil
	}

	decision := o.gate.CheckWithin(ctx, kind, id, o.hardCap)
	if !decision.Allowed {
		if res, ok := o.follow(ctx, kind, id, key, decision.Reason); ok {
			return o.finish(res, "cache"), nil
		}
		if decision.Exhausted() {
			return o.finish(&Result{Kind: kind, ID: id, Outcome: OutcomeExhausted, Reason: decision.Reason}, "gate"), nil
		}
		return o.finish(o.throttled(kind, id, decision.Reason), "gate"), nil
	}
	defer o.gate.Release(context.WithoutCancel(ctx), kind, id)

	res, err := o.fetch(ctx, kind, id, key)
	if err != nil {
		return nil, err
	}
	return o.finish(res, "upstream"), nil
}

func (o *Orchestrator) lookup(ctx context.Context, kind Kind, id, key string) (*Result, bool) {
	entry, _, err := o.tiers.Lookup(ctx, key, cache.DurableOrder...)
	if err != nil {
		return nil, false
	}
	body, err := entry.Body()
	if err != nil {
		o.logger.Warn().Err(err).Str("key", key).Msg("Dropping undecodable cache entry")
		return nil, false
	}

	res := &Result{Kind: kind, ID: id, Body: body, Entry: entry, CacheStatus: cache.StatusHit}
	switch {
	case entry.StatusCode == 429:
		res.Outcome = OutcomeRateLimited
	case entry.Negative:
		res.Outcome = OutcomeNotFound
	default:
		res.Outcome = OutcomeFound
	}
	return res, true
}

// follow handles a gate skip. When another request holds the entity's
// lock it polls the cache for the leader's result up to LockWait;
// otherwise it checks the cache once in case a leader just finished.
func (o *Orchestrator) follow(ctx context.Context, kind Kind, id, key, reason string) (*Result, bool) {
	if reason != ratelimit.ReasonLocked && !o.gate.Locked(ctx, kind, id) {
		return o.lookup(ctx, kind, id, key)
	}

	deadline := time.NewTimer(o.cfg.LockWait)
	defer deadline.Stop()
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if res, ok := o.lookup(ctx, kind, id, key); ok {
			return res, true
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-deadline.C:
			return o.lookup(ctx, kind, id, key)
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) fetch(ctx context.Context, kind Kind, id, key string) (*Result, error) {
	var (
		info     any
		verified bool
		err      error
	)
	if kind == KindAircraft {
		var a *AircraftInfo
		if a, err = o.source.FetchAircraft(ctx, id); err == nil {
			info, verified = a, a.Verified
		}
	} else {
		var f *FlightInfo
		if f, err = o.source.FetchFlight(ctx, id); err == nil {
			info, verified = f, f.Verified
		}
	}

	now := o.now()
	switch {
	case err == nil:
		body, merr := foundBody(kind, info)
		if merr != nil {
			return nil, merr
		}
		ttl := o.cfg.positiveTTL(kind, verified)
		entry := cache.NewEntry(body, 200, ProviderAeroDataBox, now, ttl, 0)
		entry.Verified = verified
		o.tiers.StorePositive(ctx, key, entry)
		o.logger.Info().Str("kind", string(kind)).Str("id", id).Bool("verified", verified).Dur("ttl", ttl).Msg("Enrichment stored")
		return &Result{Kind: kind, ID: id, Outcome: OutcomeFound, Body: body, Entry: entry, CacheStatus: cache.StatusMiss}, nil

	case upstream.ClassOf(err) == upstream.ErrorClassNotFound:
		body := notFoundBody(kind, id)
		entry := cache.NewEntry(body, 200, ProviderAeroDataBox, now, o.cfg.NegativeTTL, 0)
		entry.Negative = true
		o.tiers.StoreFast(ctx, key, entry, "negative")
		o.logger.Debug().Str("kind", string(kind)).Str("id", id).Msg("Enrichment not found, cached negative")
		return &Result{Kind: kind, ID: id, Outcome: OutcomeNotFound, Body: body, Entry: entry, CacheStatus: cache.StatusMiss}, nil

	case upstream.ClassOf(err) == upstream.ErrorClassRateLimit:
		body := rateLimitedBody()
		entry := cache.NewEntry(body, 429, ProviderAeroDataBox, now, o.cfg.RateLimitTTL, 0)
		o.tiers.StoreFast(ctx, key, entry, "rate_limit")
		o.gate.SetProviderCooldown(ctx, 0)
		return &Result{Kind: kind, ID: id, Outcome: OutcomeRateLimited, Body: body, Entry: entry, CacheStatus: cache.StatusMiss}, nil

	default:
		o.logger.Warn().Err(err).Str("kind", string(kind)).Str("id", id).Str("error_class", string(upstream.ClassOf(err))).Msg("Enrichment upstream failed")
		resultsTotal.WithLabelValues(string(kind), "error", "upstream").Inc()
		return nil, fmt.Errorf("enrich %s %s: %w", kind, id, err)
	}
}

func (o *Orchestrator) throttled(kind Kind, id, reason string) *Result {
	return &Result{Kind: kind, ID: id, Outcome: OutcomeThrottled, Reason: reason, Body: throttledBody(reason)}
}

func (o *Orchestrator) finish(res *Result, source string) *Result {
	resultsTotal.WithLabelValues(string(res.Kind), string(res.Outcome), source).Inc()
	return res
}

func foundBody(kind Kind, info any) ([]byte, error) {
	var payload any
	switch v := info.(type) {
	case *FlightInfo:
		payload = struct {
			OK bool `json:"ok"`
			*FlightInfo
			Source string `json:"source"`
		}{true, v, ProviderAeroDataBox}
	case *AircraftInfo:
		payload = struct {
			OK bool `json:"ok"`
			*AircraftInfo
			Source string `json:"source"`
		}{true, v, ProviderAeroDataBox}
	default:
		return nil, fmt.Errorf("unexpected %s payload %T", kind, info)
	}
	return json.Marshal(payload)
}

func idField(kind Kind) string {
	if kind == KindAircraft {
		return "icao24"
	}
	return "callsign"
}

func notFoundBody(kind Kind, id string) []byte {
	body, _ := json.Marshal(map[string]any{"ok": true, "found": false, idField(kind): id})
	return body
}

func unsupportedBody(callsign string) []byte {
	body, _ := json.Marshal(map[string]any{"ok": false, "callsign": callsign, "error": "unsupported_callsign"})
	return body
}

func throttledBody(reason string) []byte {
	body, _ := json.Marshal(map[string]any{"ok": false, "error": "aerodata_throttled", "reason": reason})
	return body
}

func rateLimitedBody() []byte {
	return []byte(`{"ok":false,"error":"aerodata_rate_limited"}`)
}

// IsUpstreamFailure reports whether err came from a failed metered call.
func IsUpstreamFailure(err error) bool {
	var ue *upstream.UpstreamError
	return errors.As(err, &ue)
}
