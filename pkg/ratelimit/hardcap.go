package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/flight-gateway/pkg/cache"
)

var hardCapTrips = promauto.NewCounter(prometheus.CounterOpts{
	Name: "flightgw_hard_cap_trips_total",
	Help: "Metered calls vetoed by the hard daily budget",
})

// HardCap is a coarse daily ceiling on metered calls, independent of the
// gate's day/hour budgets. A budget of zero disables it.
type HardCap struct {
	store  cache.Store
	budget int
	loc    *time.Location
	clock  Clock
	logger zerolog.Logger
}

// NewHardCap creates a hard cap of budget calls per local day.
func NewHardCap(store cache.Store, budget int, loc *time.Location, clock Clock, logger zerolog.Logger) *HardCap {
	if clock == nil {
		clock = SystemClock
	}
	if loc == nil {
		loc = time.UTC
	}
	return &HardCap{store: store, budget: budget, loc: loc, clock: clock, logger: logger}
}

// Enabled reports whether the cap is active.
func (h *HardCap) Enabled() bool {
	return h != nil && h.budget > 0 && h.store != nil
}

// Allow counts one metered call against today's budget, returning false
// once the budget is spent. Store failures allow the call; the gate has
// already vetted it.
func (h *HardCap) Allow(ctx context.Context) bool {
	if !h.Enabled() {
		return true
	}
	day, _ := WindowKeys(h.clock.Now(), h.loc)
	key := counterKey("hard", day)

	n, err := readCounter(ctx, h.store, key, h.logger)
	if err != nil {
		return true
	}
	if n >= h.budget {
		hardCapTrips.Inc()
		h.logger.Warn().Int("budget", h.budget).Msg("Hard daily budget exhausted")
		return false
	}
	if err := h.store.Set(ctx, key, []byte(strconv.Itoa(n+1)), dayCounterTTL); err != nil {
		h.logger.Warn().Err(err).Str("key", key).Msg("Hard cap write failed")
	}
	return true
}
