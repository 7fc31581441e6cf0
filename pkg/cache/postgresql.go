package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS cache_rows (
	key        TEXT PRIMARY KEY,
	entry      BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// PostgresRowStore keeps permanent rows in PostgreSQL, for deployments
// where several gateway instances share one authoritative store.
type PostgresRowStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRowStore connects and ensures the schema exists.
func NewPostgresRowStore(ctx context.Context, url string, maxConns int32) (*PostgresRowStore, error) {
	if url == "" {
		return nil, fmt.Errorf("postgres URL is required")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres URL: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 5
	}
	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create cache_rows: %w", err)
	}

	return &PostgresRowStore{pool: pool}, nil
}

func (s *PostgresRowStore) Name() string { return RowStorePostgreSQL }

// Load returns the row for key.
func (s *PostgresRowStore) Load(ctx context.Context, key string) (*CacheEntry, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT entry FROM cache_rows WHERE key = $1`, key).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues(s.Name(), "get").Inc()
		return nil, fmt.Errorf("postgres load: %w", err)
	}
	return decodeEntry(data)
}

// Save upserts the row for key.
func (s *PostgresRowStore) Save(ctx context.Context, key string, entry *CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO cache_rows (key, entry, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET entry = EXCLUDED.entry, updated_at = EXCLUDED.updated_at`,
		key, data, time.Now())
	if err != nil {
		CacheErrors.WithLabelValues(s.Name(), "set").Inc()
		return fmt.Errorf("postgres save: %w", err)
	}
	return nil
}

func (s *PostgresRowStore) Close() error {
	s.pool.Close()
	return nil
}
