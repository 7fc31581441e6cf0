package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/flight-gateway/pkg/cache"
)

// fakeClock is a settable clock shared by the gate and its memory store.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// noon and midnight in UTC, which the tests use as the gate location.
var (
	dayTime   = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	nightTime = time.Date(2026, 10, 19, 23, 0, 0, 0, time.UTC)
)

func newTestGate(t *testing.T, start time.Time, mutate func(*Limits)) (*Gate, *fakeClock, *cache.MemoryStore) {
	t.Helper()
	clock := &fakeClock{now: start}
	store := cache.NewMemoryStore(1000)
	store.SetClock(clock.Now)

	limits := DefaultLimits()
	if mutate != nil {
		mutate(&limits)
	}
	return NewGate(store, limits, clock, zerolog.Nop()), clock, store
}

func TestGate_Disabled(t *testing.T) {
	g, _, _ := newTestGate(t, dayTime, func(l *Limits) { l.Enabled = false })

	d := g.Check(context.Background(), KindFlight, "DAL123")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDisabled, d.Reason)
}

func TestGate_PassRecordsMarkers(t *testing.T) {
	g, _, store := newTestGate(t, dayTime, nil)
	ctx := context.Background()

	d := g.Check(ctx, KindFlight, "DAL123")
	require.True(t, d.Allowed)

	assert.True(t, g.Locked(ctx, KindFlight, "DAL123"))
	raw, err := store.Get(ctx, counterKey("day", "20261019"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(raw))
	raw, err = store.Get(ctx, counterKey("hour", "2026101912"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(raw))
}

func TestGate_EvaluationOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("provider cooldown before everything", func(t *testing.T) {
		g, _, _ := newTestGate(t, dayTime, nil)
		g.SetProviderCooldown(ctx, 0)
		assert.Equal(t, ReasonCooldown429, g.Check(ctx, KindAircraft, "a1b2c3").Reason)
	})

	t.Run("lock held by another request", func(t *testing.T) {
		g, _, _ := newTestGate(t, dayTime, nil)
		require.True(t, g.Check(ctx, KindFlight, "DAL123").Allowed)
		assert.Equal(t, ReasonLocked, g.Check(ctx, KindFlight, "DAL123").Reason)
	})

	t.Run("global spacing blocks other entities", func(t *testing.T) {
		g, _, _ := newTestGate(t, dayTime, nil)
		require.True(t, g.Check(ctx, KindFlight, "DAL123").Allowed)
		assert.Equal(t, ReasonGlobalCooldown, g.Check(ctx, KindFlight, "UAL456").Reason)
	})

	t.Run("entity cooldown after lock release and spacing", func(t *testing.T) {
		g, clock, _ := newTestGate(t, dayTime, nil)
		require.True(t, g.Check(ctx, KindFlight, "DAL123").Allowed)
		g.Release(ctx, KindFlight, "DAL123")
		clock.Advance(21 * time.Second)
		assert.Equal(t, ReasonEntityCooldown, g.Check(ctx, KindFlight, "DAL123").Reason)
		assert.True(t, g.Check(ctx, KindFlight, "UAL456").Allowed)
	})
}

func TestGate_SpacingShorterAtNight(t *testing.T) {
	ctx := context.Background()
	g, clock, _ := newTestGate(t, nightTime, nil)

	require.True(t, g.Check(ctx, KindFlight, "DAL123").Allowed)
	clock.Advance(9 * time.Second)
	assert.True(t, g.Check(ctx, KindFlight, "UAL456").Allowed, "night spacing is 8s")

	g, clock, _ = newTestGate(t, dayTime, nil)
	require.True(t, g.Check(ctx, KindFlight, "DAL123").Allowed)
	clock.Advance(9 * time.Second)
	assert.Equal(t, ReasonGlobalCooldown, g.Check(ctx, KindFlight, "UAL456").Reason)
}

func TestGate_AircraftCooldownLongerThanFlight(t *testing.T) {
	ctx := context.Background()
	g, clock, _ := newTestGate(t, dayTime, nil)

	require.True(t, g.Check(ctx, KindFlight, "DAL123").Allowed)
	clock.Advance(21 * time.Second)
	require.True(t, g.Check(ctx, KindAircraft, "a1b2c3").Allowed)
	g.Release(ctx, KindFlight, "DAL123")
	g.Release(ctx, KindAircraft, "a1b2c3")

	clock.Advance(31 * time.Minute)
	assert.True(t, g.Check(ctx, KindFlight, "DAL123").Allowed)
	clock.Advance(21 * time.Second)
	assert.Equal(t, ReasonEntityCooldown, g.Check(ctx, KindAircraft, "a1b2c3").Reason)
}

// checkMany drives distinct entities through the gate, stepping past the
// spacing floor each time, and returns how many calls were allowed.
func checkMany(ctx context.Context, g *Gate, clock *fakeClock, n int, step time.Duration) (allowed int, reasons map[string]int) {
	reasons = map[string]int{}
	for i := 0; i < n; i++ {
		d := g.Check(ctx, KindFlight, fmt.Sprintf("TST%d", i))
		if d.Allowed {
			allowed++
		} else {
			reasons[d.Reason]++
		}
		clock.Advance(step)
	}
	return allowed, reasons
}

func TestGate_HourCap(t *testing.T) {
	ctx := context.Background()
	g, clock, _ := newTestGate(t, dayTime, func(l *Limits) {
		l.Day.GlobalSpacing = 0
		l.Night.GlobalSpacing = 0
	})

	allowed, reasons := checkMany(ctx, g, clock, 30, time.Second)
	assert.Equal(t, 20, allowed)
	assert.Equal(t, 10, reasons[ReasonHourCap])

	clock.Advance(time.Hour)
	assert.True(t, g.Check(ctx, KindFlight, "NEW1").Allowed, "hour window rolled over")
}

func TestGate_DayCap(t *testing.T) {
	ctx := context.Background()
	g, clock, _ := newTestGate(t, time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC), func(l *Limits) {
		l.Day.GlobalSpacing = 0
		l.Day.DayLimit = 25
	})

	// Two hours of day-window traffic at the hourly limit.
	allowed, reasons := checkMany(ctx, g, clock, 60, 2*time.Minute)
	assert.Equal(t, 25, allowed)
	assert.Equal(t, 35, reasons[ReasonDayCap]+reasons[ReasonHourCap])
	assert.Positive(t, reasons[ReasonDayCap])
}

func TestGate_NightLimitsHigher(t *testing.T) {
	ctx := context.Background()
	zeroSpacing := func(l *Limits) {
		l.Day.GlobalSpacing = 0
		l.Night.GlobalSpacing = 0
	}

	g, clock, _ := newTestGate(t, dayTime, zeroSpacing)
	dayAllowed, _ := checkMany(ctx, g, clock, 100, time.Second)

	g, clock, _ = newTestGate(t, nightTime, zeroSpacing)
	nightAllowed, _ := checkMany(ctx, g, clock, 100, time.Second)

	assert.Equal(t, 20, dayAllowed)
	assert.Equal(t, 40, nightAllowed)
	assert.Greater(t, nightAllowed, dayAllowed)
}

func TestGate_ConcurrentSameEntitySingleLeader(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGate(t, dayTime, func(l *Limits) { l.Day.GlobalSpacing = 0 })

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Check(ctx, KindFlight, "DAL123").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), allowed.Load())
}

func TestGate_ProviderCooldownExpires(t *testing.T) {
	ctx := context.Background()
	g, clock, _ := newTestGate(t, dayTime, nil)

	g.SetProviderCooldown(ctx, time.Minute)
	assert.Equal(t, ReasonCooldown429, g.Check(ctx, KindFlight, "DAL123").Reason)

	clock.Advance(61 * time.Second)
	assert.True(t, g.Check(ctx, KindFlight, "DAL123").Allowed)
}

func TestGate_CorruptCounterRestartsWindow(t *testing.T) {
	ctx := context.Background()
	g, _, store := newTestGate(t, dayTime, nil)

	require.NoError(t, store.Set(ctx, counterKey("day", "20261019"), []byte("garbage"), time.Hour))
	assert.True(t, g.Check(ctx, KindFlight, "DAL123").Allowed)
}

func TestGate_BudgetVetoRecordsNothing(t *testing.T) {
	g, clock, store := newTestGate(t, dayTime, nil)
	ctx := context.Background()
	hard := NewHardCap(store, 1, time.UTC, clock, zerolog.Nop())
	require.True(t, hard.Allow(ctx))

	d := g.CheckWithin(ctx, KindFlight, "DAL123", hard)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonHardCap, d.Reason)
	assert.True(t, d.Exhausted())

	assert.False(t, g.Locked(ctx, KindFlight, "DAL123"))
	for _, key := range []string{
		counterKey("day", "20261019"),
		counterKey("hour", "2026101912"),
		keyGlobalSpacing,
		recentKey(KindFlight, "DAL123"),
	} {
		_, err := store.Get(ctx, key)
		assert.ErrorIs(t, err, cache.ErrCacheMiss, key)
	}

	// Without the budget the same entity passes straight away.
	assert.True(t, g.Check(ctx, KindFlight, "DAL123").Allowed)
}

func TestDecision_Exhausted(t *testing.T) {
	for reason, want := range map[string]bool{
		ReasonDayCap:         true,
		ReasonHourCap:        true,
		ReasonHardCap:        true,
		ReasonLocked:         false,
		ReasonEntityCooldown: false,
		ReasonUnavailable:    false,
	} {
		assert.Equal(t, want, Decision{Reason: reason}.Exhausted(), reason)
	}
}

func TestNewGate_Panic(t *testing.T) {
	assert.Panics(t, func() { NewGate(nil, DefaultLimits(), nil, zerolog.Nop()) })
}

func TestHardCap(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: dayTime}
	store := cache.NewMemoryStore(10)
	store.SetClock(clock.Now)

	h := NewHardCap(store, 3, time.UTC, clock, zerolog.Nop())
	require.True(t, h.Enabled())
	for i := 0; i < 3; i++ {
		assert.True(t, h.Allow(ctx), "call %d", i)
	}
	assert.False(t, h.Allow(ctx))

	clock.Advance(24 * time.Hour)
	assert.True(t, h.Allow(ctx), "new local day")
}

func TestHardCap_DisabledByDefault(t *testing.T) {
	h := NewHardCap(cache.NewMemoryStore(1), 0, nil, nil, zerolog.Nop())
	assert.False(t, h.Enabled())
	for i := 0; i < 100; i++ {
		assert.True(t, h.Allow(context.Background()))
	}

	var nilCap *HardCap
	assert.True(t, nilCap.Allow(context.Background()))
}
