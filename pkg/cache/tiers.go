package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Tier names a storage tier.
type Tier string

const (
	// TierKV is the shared key-value store (Redis).
	TierKV Tier = "kv"

	// TierRow is the permanent row store (SQLite/PostgreSQL).
	TierRow Tier = "row"

	// TierEdge is the instance-local response cache.
	TierEdge Tier = "edge"
)

// DurableOrder is the lookup order for enrichment records.
var DurableOrder = []Tier{TierKV, TierRow, TierEdge}

// FastOrder is the lookup order for short-lived responses that never reach
// the row store.
var FastOrder = []Tier{TierEdge, TierKV}

const (
	// DefaultEdgeMaxTTL caps how long the edge tier holds anything.
	DefaultEdgeMaxTTL = 10 * time.Minute

	// DefaultKVMaxTTL caps KV tier lifetimes.
	DefaultKVMaxTTL = 30 * 24 * time.Hour

	keyPrefix    = "fg:"
	namespaceKey = keyPrefix + "namespace"
)

// Spawner runs fire-and-forget work that may outlive the request.
type Spawner interface {
	Go(name string, fn func(ctx context.Context)) bool
}

// TierConfig configures a TierManager.
type TierConfig struct {
	// Namespace is embedded in every KV/edge key; changing it orphans the
	// previous generation, which Rotate then purges.
	Namespace string

	EdgeMaxTTL time.Duration
	KVMaxTTL   time.Duration
}

// TierManager reads and writes across the three tiers. Every tier
// operation is best-effort: a failing tier is logged and skipped.
type TierManager struct {
	kv     Store
	row    RowStore
	edge   Store
	tasks  Spawner
	cfg    TierConfig
	now    func() time.Time
	logger zerolog.Logger
}

// NewTierManager wires the tiers. kv and edge are required; row may be nil
// when the permanent tier is disabled. A nil tasks runs background work on
// a bare goroutine.
func NewTierManager(kv Store, row RowStore, edge Store, tasks Spawner, cfg TierConfig, logger zerolog.Logger) *TierManager {
	if kv == nil || edge == nil {
		panic("kv and edge stores are required")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "v1"
	}
	if cfg.EdgeMaxTTL <= 0 {
		cfg.EdgeMaxTTL = DefaultEdgeMaxTTL
	}
	if cfg.KVMaxTTL <= 0 {
		cfg.KVMaxTTL = DefaultKVMaxTTL
	}
	return &TierManager{
		kv:     kv,
		row:    row,
		edge:   edge,
		tasks:  tasks,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
}

// SetClock replaces the time source (for testing).
func (m *TierManager) SetClock(now func() time.Time) {
	m.now = now
}

// KV exposes the shared store for counters, markers and locks.
func (m *TierManager) KV() Store {
	return m.kv
}

// Key namespaces a synthetic key for the KV and edge tiers.
func (m *TierManager) Key(key string) string {
	return keyPrefix + m.cfg.Namespace + ":" + key
}

// Get reads key from a single tier.
func (m *TierManager) Get(ctx context.Context, tier Tier, key string) (*CacheEntry, error) {
	switch tier {
	case TierKV:
		return m.getStore(ctx, m.kv, key)
	case TierEdge:
		return m.getStore(ctx, m.edge, key)
	case TierRow:
		if m.row == nil {
			return nil, ErrCacheMiss
		}
		return m.row.Load(ctx, key)
	default:
		return nil, fmt.Errorf("unknown tier %q", tier)
	}
}

// Put writes entry to a single tier. ttl is capped per tier and ignored by
// the row store.
func (m *TierManager) Put(ctx context.Context, tier Tier, key string, entry *CacheEntry, ttl time.Duration) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	switch tier {
	case TierKV:
		return m.putStore(ctx, m.kv, key, entry, min(ttl, m.cfg.KVMaxTTL))
	case TierEdge:
		return m.putStore(ctx, m.edge, key, entry, min(ttl, m.cfg.EdgeMaxTTL))
	case TierRow:
		if m.row == nil {
			return nil
		}
		return m.row.Save(ctx, key, entry)
	default:
		return fmt.Errorf("unknown tier %q", tier)
	}
}

// Lookup probes tiers in order and returns the first usable entry with the
// tier it came from. A row-store hit re-arms the entry and refills the KV
// tier in the background. Tier errors are logged and treated as misses.
func (m *TierManager) Lookup(ctx context.Context, key string, order ...Tier) (*CacheEntry, Tier, error) {
	if len(order) == 0 {
		order = DurableOrder
	}
	now := m.now()

	for _, tier := range order {
		entry, err := m.Get(ctx, tier, key)
		if err != nil {
			if !errors.Is(err, ErrCacheMiss) {
				m.logger.Warn().Err(err).Str("tier", string(tier)).Str("key", key).Msg("Cache tier read failed")
			}
			continue
		}

		if tier == TierRow {
			entry = entry.Rearm(now)
			m.repopulate(ctx, key, entry)
		} else if !entry.IsUsable(now) {
			continue
		}

		CacheHits.WithLabelValues(string(tier)).Inc()
		m.logger.Debug().Str("tier", string(tier)).Str("key", key).Msg("Cache hit")
		return entry, tier, nil
	}

	CacheMisses.Inc()
	return nil, "", ErrCacheMiss
}

// StorePositive writes a found result to every tier.
func (m *TierManager) StorePositive(ctx context.Context, key string, entry *CacheEntry) {
	ttl := entry.Remaining(m.now())
	m.write(ctx, TierKV, key, entry, ttl, "positive")
	m.write(ctx, TierRow, key, entry, ttl, "positive")
	m.write(ctx, TierEdge, key, entry, ttl, "positive")
}

// StoreFast writes to the KV and edge tiers only: negative results,
// throttled responses and short-lived aggregates never reach the row store.
func (m *TierManager) StoreFast(ctx context.Context, key string, entry *CacheEntry, class string) {
	ttl := entry.Remaining(m.now())
	m.write(ctx, TierKV, key, entry, ttl, class)
	m.write(ctx, TierEdge, key, entry, ttl, class)
}

// Rotate records namespace as current and purges keys of any previous
// namespace from the KV and edge tiers.
func (m *TierManager) Rotate(ctx context.Context) error {
	prev, err := m.kv.Get(ctx, namespaceKey)
	if err != nil && !errors.Is(err, ErrCacheMiss) {
		return fmt.Errorf("read namespace: %w", err)
	}

	if p := string(prev); p != "" && p != m.cfg.Namespace {
		prefix := keyPrefix + p + ":"
		n, err := m.kv.DeletePrefix(ctx, prefix)
		if err != nil {
			return fmt.Errorf("purge namespace %s: %w", p, err)
		}
		if _, err := m.edge.DeletePrefix(ctx, prefix); err != nil {
			return fmt.Errorf("purge edge namespace %s: %w", p, err)
		}
		m.logger.Info().Str("previous", p).Str("namespace", m.cfg.Namespace).Int("purged", n).Msg("Cache namespace rotated")
	}

	if err := m.kv.Set(ctx, namespaceKey, []byte(m.cfg.Namespace), m.cfg.KVMaxTTL*12); err != nil {
		return fmt.Errorf("write namespace: %w", err)
	}
	return nil
}

func (m *TierManager) write(ctx context.Context, tier Tier, key string, entry *CacheEntry, ttl time.Duration, class string) {
	if err := m.Put(ctx, tier, key, entry, ttl); err != nil {
		m.logger.Warn().Err(err).Str("tier", string(tier)).Str("key", key).Msg("Cache tier write failed")
		return
	}
	CacheWrites.WithLabelValues(string(tier), class).Inc()
}

func (m *TierManager) repopulate(ctx context.Context, key string, entry *CacheEntry) {
	ttl := entry.Remaining(m.now())
	fill := func(ctx context.Context) {
		if err := m.Put(ctx, TierKV, key, entry, ttl); err != nil {
			m.logger.Warn().Err(err).Str("key", key).Msg("KV repopulation failed")
			return
		}
		CacheRepopulations.Inc()
	}

	if m.tasks == nil {
		go fill(context.WithoutCancel(ctx))
		return
	}
	if !m.tasks.Go("repopulate", fill) {
		m.logger.Debug().Str("key", key).Msg("KV repopulation dropped, task pool saturated")
	}
}

func (m *TierManager) getStore(ctx context.Context, s Store, key string) (*CacheEntry, error) {
	data, err := s.Get(ctx, m.Key(key))
	if err != nil {
		return nil, err
	}
	return decodeEntry(data)
}

func (m *TierManager) putStore(ctx context.Context, s Store, key string, entry *CacheEntry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	return s.Set(ctx, m.Key(key), data, ttl)
}
