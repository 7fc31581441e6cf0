package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/flight-gateway/pkg/cache"
)

// Skip reasons, in evaluation order.
const (
	ReasonDisabled       = "disabled"
	ReasonCooldown429    = "cooldown_429"
	ReasonLocked         = "locked"
	ReasonGlobalCooldown = "global_cooldown"
	ReasonEntityCooldown = "entity_cooldown"
	ReasonDayCap         = "day_cap"
	ReasonHourCap        = "hour_cap"
	ReasonHardCap        = "hard_cap"

	// ReasonUnavailable is returned when the shared store cannot be read.
	// The gate fails closed: no metered call without its bookkeeping.
	ReasonUnavailable = "gate_unavailable"
)

// Store keys. They live outside the cache namespace so a namespace
// rotation never resets budgets.
const (
	keyPrefix        = "fg:gate:"
	keyProviderCool  = keyPrefix + "cooldown_429"
	keyGlobalSpacing = keyPrefix + "spacing"
)

const (
	dayCounterTTL  = 26 * time.Hour
	hourCounterTTL = 2 * time.Hour
)

var (
	gateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flightgw_gate_decisions_total",
		Help: "Enrichment gate decisions by kind and reason (allowed on pass)",
	}, []string{"kind", "reason"})

	gateBudgetUsed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flightgw_gate_budget_used",
		Help: "Metered calls counted in the current budget window",
	}, []string{"window"})

	providerCooldowns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flightgw_gate_provider_cooldowns_total",
		Help: "Total provider-wide cooldowns set after upstream 429",
	})
)

// Decision is the outcome of Gate.Check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Exhausted reports whether the call was refused because a budget is spent.
func (d Decision) Exhausted() bool {
	switch d.Reason {
	case ReasonDayCap, ReasonHourCap, ReasonHardCap:
		return true
	}
	return false
}

// Budget is an extra ceiling consulted after every gate check has passed
// and before anything is recorded. HardCap implements it.
type Budget interface {
	Allow(ctx context.Context) bool
}

// Gate is the budget/throttle gate for the metered provider.
type Gate struct {
	store  cache.Store
	limits Limits
	clock  Clock
	logger zerolog.Logger
}

// NewGate creates a gate over store. A nil clock uses SystemClock.
func NewGate(store cache.Store, limits Limits, clock Clock, logger zerolog.Logger) *Gate {
	if store == nil {
		panic("store cannot be nil")
	}
	if clock == nil {
		clock = SystemClock
	}
	if limits.Location == nil {
		limits.Location = time.UTC
	}
	return &Gate{store: store, limits: limits, clock: clock, logger: logger}
}

// Limits returns the gate configuration.
func (g *Gate) Limits() Limits {
	return g.limits
}

// Check evaluates the gate for one entity and, on pass, records the call:
// lock first, then counters, then the spacing and entity markers.
func (g *Gate) Check(ctx context.Context, kind Kind, id string) Decision {
	return g.CheckWithin(ctx, kind, id, nil)
}

// CheckWithin is Check with budget consulted once the lock is held. A
// budget veto releases the lock and records nothing, so a refused call
// spends neither gate budget nor cooldowns.
func (g *Gate) CheckWithin(ctx context.Context, kind Kind, id string, budget Budget) Decision {
	d := g.check(ctx, kind, id, budget)
	reason := d.Reason
	if d.Allowed {
		reason = "allowed"
	}
	gateDecisions.WithLabelValues(string(kind), reason).Inc()
	g.logger.Debug().Str("kind", string(kind)).Str("id", id).Bool("allowed", d.Allowed).Str("reason", d.Reason).Msg("Gate decision")
	return d
}

func (g *Gate) check(ctx context.Context, kind Kind, id string, budget Budget) Decision {
	if !g.limits.Enabled {
		return skip(ReasonDisabled)
	}

	now := g.clock.Now()
	profile := g.limits.Active(now)
	lock := lockKey(kind, id)

	markers := []struct {
		key    string
		reason string
	}{
		{keyProviderCool, ReasonCooldown429},
		{lock, ReasonLocked},
		{keyGlobalSpacing, ReasonGlobalCooldown},
		{recentKey(kind, id), ReasonEntityCooldown},
	}
	for _, m := range markers {
		present, err := g.store.Exists(ctx, m.key)
		if err != nil {
			g.logger.Warn().Err(err).Str("key", m.key).Msg("Gate marker read failed")
			return skip(ReasonUnavailable)
		}
		if present {
			return skip(m.reason)
		}
	}

	dayWindow, hourWindow := WindowKeys(now, g.limits.Location)
	dayKey, hourKey := counterKey("day", dayWindow), counterKey("hour", hourWindow)

	dayCount, err := g.count(ctx, dayKey)
	if err != nil {
		return skip(ReasonUnavailable)
	}
	if dayCount >= profile.DayLimit {
		return skip(ReasonDayCap)
	}
	hourCount, err := g.count(ctx, hourKey)
	if err != nil {
		return skip(ReasonUnavailable)
	}
	if hourCount >= profile.HourLimit {
		return skip(ReasonHourCap)
	}

	acquired, err := g.store.SetNX(ctx, lock, []byte(strconv.FormatInt(now.Unix(), 10)), g.limits.LockTTL)
	if err != nil {
		g.logger.Warn().Err(err).Str("key", lock).Msg("Stampede lock write failed")
		return skip(ReasonUnavailable)
	}
	if !acquired {
		return skip(ReasonLocked)
	}
	if budget != nil && !budget.Allow(ctx) {
		g.Release(ctx, kind, id)
		return skip(ReasonHardCap)
	}

	g.put(ctx, dayKey, strconv.Itoa(dayCount+1), dayCounterTTL)
	g.put(ctx, hourKey, strconv.Itoa(hourCount+1), hourCounterTTL)
	g.put(ctx, keyGlobalSpacing, "1", profile.GlobalSpacing)
	g.put(ctx, recentKey(kind, id), "1", profile.Cooldown(kind))

	gateBudgetUsed.WithLabelValues("day").Set(float64(dayCount + 1))
	gateBudgetUsed.WithLabelValues("hour").Set(float64(hourCount + 1))

	return Decision{Allowed: true}
}

// Release drops the stampede lock once the leader has stored its result.
func (g *Gate) Release(ctx context.Context, kind Kind, id string) {
	if err := g.store.Delete(ctx, lockKey(kind, id)); err != nil {
		g.logger.Warn().Err(err).Str("kind", string(kind)).Str("id", id).Msg("Stampede lock release failed")
	}
}

// Locked reports whether a stampede lock is held for the entity.
func (g *Gate) Locked(ctx context.Context, kind Kind, id string) bool {
	present, err := g.store.Exists(ctx, lockKey(kind, id))
	return err == nil && present
}

// SetProviderCooldown blocks all enrichment for ttl (Limits.ProviderCooldown
// when ttl is zero).
func (g *Gate) SetProviderCooldown(ctx context.Context, ttl time.Duration) {
	if ttl <= 0 {
		ttl = g.limits.ProviderCooldown
	}
	g.put(ctx, keyProviderCool, strconv.FormatInt(g.clock.Now().Unix(), 10), ttl)
	providerCooldowns.Inc()
	g.logger.Warn().Dur("ttl", ttl).Msg("Metered provider returned 429, enrichment cooling down")
}

func (g *Gate) count(ctx context.Context, key string) (int, error) {
	return readCounter(ctx, g.store, key, g.logger)
}

func (g *Gate) put(ctx context.Context, key, value string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := g.store.Set(ctx, key, []byte(value), ttl); err != nil {
		g.logger.Warn().Err(err).Str("key", key).Msg("Gate write failed")
	}
}

func readCounter(ctx context.Context, store cache.Store, key string, logger zerolog.Logger) (int, error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return 0, nil
	}
	if err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("Gate counter read failed")
		return 0, err
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		// A corrupt counter restarts the window rather than wedging it.
		logger.Warn().Str("key", key).Str("value", string(raw)).Msg("Gate counter unparsable")
		return 0, nil
	}
	return n, nil
}

func skip(reason string) Decision {
	return Decision{Reason: reason}
}

func lockKey(kind Kind, id string) string {
	return fmt.Sprintf("%slock:%s:%s", keyPrefix, kind, id)
}

func recentKey(kind Kind, id string) string {
	return fmt.Sprintf("%srecent:%s:%s", keyPrefix, kind, id)
}

func counterKey(scope, window string) string {
	return keyPrefix + "count:" + scope + ":" + window
}
