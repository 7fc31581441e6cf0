// Package swr runs stale-while-revalidate refreshes and other
// fire-and-forget work that must outlive the request that started it.
//
// A Scheduler owns a bounded task group. Revalidate takes a short-lived
// refresh lock in the shared store so at most one refresh per key runs
// across all instances; tasks that cannot start because the group is full
// are dropped, never queued. Wait drains the group at shutdown.
package swr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/flight-gateway/pkg/cache"
)

const (
	// DefaultLockTTL bounds a refresh lock.
	DefaultLockTTL = 5 * time.Second

	// DefaultMaxTasks caps concurrent background tasks.
	DefaultMaxTasks = 64

	lockPrefix = "fg:swr:"
)

var (
	refreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flightgw_swr_refreshes_total",
		Help: "Stale-while-revalidate refreshes by result (started, skipped, ok, failed)",
	}, []string{"result"})

	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flightgw_background_tasks_total",
		Help: "Background tasks by name and outcome (run, dropped)",
	}, []string{"name", "outcome"})

	tasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flightgw_background_tasks_in_flight",
		Help: "Background tasks currently running",
	})
)

// Config configures a Scheduler.
type Config struct {
	LockTTL  time.Duration
	MaxTasks int
}

// Scheduler runs background work on a bounded errgroup.
type Scheduler struct {
	store   cache.Store
	cfg     Config
	group   errgroup.Group
	base    context.Context
	cancel  context.CancelFunc
	closeMu sync.RWMutex
	closed  bool
	logger  zerolog.Logger
}

// NewScheduler creates a scheduler whose refresh locks live in store.
func NewScheduler(store cache.Store, cfg Config, logger zerolog.Logger) *Scheduler {
	if store == nil {
		panic("store cannot be nil")
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.MaxTasks <= 0 {
		cfg.MaxTasks = DefaultMaxTasks
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:  store,
		cfg:    cfg,
		base:   base,
		cancel: cancel,
		logger: logger,
	}
	s.group.SetLimit(cfg.MaxTasks)
	return s
}

// Go starts fn in the background unless the group is full or draining.
// fn receives a context that is cancelled when a drain times out.
func (s *Scheduler) Go(name string, fn func(ctx context.Context)) bool {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		tasksTotal.WithLabelValues(name, "dropped").Inc()
		return false
	}

	started := s.group.TryGo(func() error {
		tasksInFlight.Inc()
		defer tasksInFlight.Dec()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Str("task", name).Interface("panic", r).Msg("Background task panicked")
			}
		}()
		fn(s.base)
		return nil
	})
	if !started {
		tasksTotal.WithLabelValues(name, "dropped").Inc()
		s.logger.Warn().Str("task", name).Int("max_tasks", s.cfg.MaxTasks).Msg("Background task dropped, pool saturated")
		return false
	}
	tasksTotal.WithLabelValues(name, "run").Inc()
	return true
}

// Revalidate schedules refresh for key unless another refresh of key holds
// the lock. The lock check happens in the background so the caller never
// waits on the store. It reports whether a task was scheduled; the task
// may still skip if the lock is taken.
func (s *Scheduler) Revalidate(key string, refresh func(ctx context.Context) error) bool {
	return s.Go("revalidate", func(ctx context.Context) {
		lock := lockPrefix + key
		acquired, err := s.store.SetNX(ctx, lock, []byte("1"), s.cfg.LockTTL)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Refresh lock unavailable, skipping revalidation")
			refreshesTotal.WithLabelValues("skipped").Inc()
			return
		}
		if !acquired {
			refreshesTotal.WithLabelValues("skipped").Inc()
			s.logger.Debug().Str("key", key).Msg("Refresh already in flight")
			return
		}

		refreshesTotal.WithLabelValues("started").Inc()
		if err := refresh(ctx); err != nil {
			refreshesTotal.WithLabelValues("failed").Inc()
			s.logger.Warn().Err(err).Str("key", key).Msg("Background refresh failed")
			return
		}
		refreshesTotal.WithLabelValues("ok").Inc()
		s.logger.Debug().Str("key", key).Msg("Background refresh complete")
	})
}

// Wait stops accepting tasks and waits for running ones. If ctx ends
// first, running tasks are cancelled and ctx's error is returned.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.closeMu.Lock()
	s.closed = true
	s.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = s.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("drain background tasks: %w", ctx.Err())
	}
}

// Flush waits for tasks started so far without closing the scheduler.
func (s *Scheduler) Flush() {
	_ = s.group.Wait()
}
