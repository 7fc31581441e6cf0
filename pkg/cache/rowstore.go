package cache

import (
	"context"
	"fmt"
)

// Row store backends.
const (
	RowStoreSQLite     = "sqlite"
	RowStorePostgreSQL = "postgresql"
	RowStoreNone       = "none"
)

// RowStoreConfig selects and configures the permanent tier.
type RowStoreConfig struct {
	// Type is "sqlite", "postgresql" or "none".
	Type string

	// SQLitePath is the database file path.
	SQLitePath string

	// PostgresURL is the connection string.
	PostgresURL string

	// PostgresMaxConns caps the pool (default 5).
	PostgresMaxConns int32
}

// OpenRowStore opens the configured backend. Type "none" returns nil.
func OpenRowStore(ctx context.Context, cfg RowStoreConfig) (RowStore, error) {
	switch cfg.Type {
	case RowStoreSQLite, "":
		return NewSQLiteRowStore(ctx, cfg.SQLitePath)
	case RowStorePostgreSQL:
		return NewPostgresRowStore(ctx, cfg.PostgresURL, cfg.PostgresMaxConns)
	case RowStoreNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown row store type: %s (valid: sqlite, postgresql, none)", cfg.Type)
	}
}
