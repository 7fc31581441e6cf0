package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_rows (
	key        TEXT PRIMARY KEY,
	entry      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteRowStore keeps permanent rows in a local SQLite file.
type SQLiteRowStore struct {
	db *sql.DB
}

// NewSQLiteRowStore opens (creating if needed) the database at path.
func NewSQLiteRowStore(ctx context.Context, path string) (*SQLiteRowStore, error) {
	if path == "" {
		path = "data/flight-gateway.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", path, err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite only allows one writer at a time
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache_rows: %w", err)
	}

	return &SQLiteRowStore{db: db}, nil
}

func (s *SQLiteRowStore) Name() string { return RowStoreSQLite }

// Load returns the row for key.
func (s *SQLiteRowStore) Load(ctx context.Context, key string) (*CacheEntry, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT entry FROM cache_rows WHERE key = ?`, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues(s.Name(), "get").Inc()
		return nil, fmt.Errorf("sqlite load: %w", err)
	}
	return decodeEntry(data)
}

// Save upserts the row for key.
func (s *SQLiteRowStore) Save(ctx context.Context, key string, entry *CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO cache_rows (key, entry, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET entry = excluded.entry, updated_at = excluded.updated_at`,
		key, data, time.Now().Unix())
	if err != nil {
		CacheErrors.WithLabelValues(s.Name(), "set").Inc()
		return fmt.Errorf("sqlite save: %w", err)
	}
	return nil
}

func (s *SQLiteRowStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func decodeEntry(data []byte) (*CacheEntry, error) {
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}
