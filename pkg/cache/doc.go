// Package cache provides the tiered cache behind the flight gateway.
//
// Three tiers, each with its own TTL semantics:
//
//   - kv: a shared Redis store (or MemoryStore when Redis is not configured).
//     Cross-instance, longer TTLs, up to 30 days.
//   - row: a permanent SQLite or PostgreSQL table. Authoritative; rows never
//     expire and refill the kv tier when it has lost an entry.
//   - edge: an instance-local MemoryStore with the shortest TTLs.
//
// Enrichment lookups probe kv, row, edge in that order. Positive results
// are written to every tier; negative results and throttled responses only
// to kv and edge. Every tier operation is best-effort: a failing tier is
// logged and the next one is tried.
//
// # Basic Usage
//
//	kv := cache.NewRedisStore(redisClient)
//	row, _ := cache.NewSQLiteRowStore(ctx, "data/flight-gateway.db")
//	edge := cache.NewMemoryStore(5000)
//
//	tiers := cache.NewTierManager(kv, row, edge, tasks, cache.TierConfig{Namespace: "v1"}, logger)
//
//	key := cache.EntityKey("aircraft", "a1b2c3")
//	entry, tier, err := tiers.Lookup(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch upstream, then:
//		tiers.StorePositive(ctx, key, cache.NewEntry(body, 200, "aerodatabox", time.Now(), ttl, 0))
//	}
//
// # Keys
//
// CacheKey sorts parameter names and values so equivalent requests share
// an entry regardless of query ordering. Long parameter sets collapse to
// an xxhash digest. The TierManager prefixes kv and edge keys with
// "fg:<namespace>:"; rotating the namespace purges the previous prefix.
//
// # Metrics
//
//   - flightgw_cache_hits_total{tier}
//   - flightgw_cache_misses_total
//   - flightgw_cache_errors_total{backend, operation}
//   - flightgw_cache_writes_total{tier, class}
//   - flightgw_cache_repopulations_total
//   - flightgw_cache_evictions_total{backend}
package cache
