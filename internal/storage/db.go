package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"auditgate/internal/config"
)

// DB wraps the database connection pool and the hot-path caches. Quota
// lookups by key hash and catalog lookups happen on every request, so both
// sit behind short-TTL LRU caches.
type DB struct {
	conn *sqlx.DB

	quotaCache *LRUCache
	modelCache *LRUCache
}

// NewDB opens the connection pool and configures it from cfg.
func NewDB(cfg config.DatabaseConfig, cacheCfg config.CacheConfig) (*DB, error) {
	conn, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &DB{
		conn:       conn,
		quotaCache: NewLRUCache(cacheCfg.QuotaCacheSize, cacheCfg.QuotaCacheTTL),
		modelCache: NewLRUCache(cacheCfg.ModelCacheSize, cacheCfg.ModelCacheTTL),
	}, nil
}

// Close closes the pool and clears the caches.
func (db *DB) Close() error {
	db.quotaCache.Clear()
	db.modelCache.Clear()
	return db.conn.Close()
}

// Ping checks if the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Health verifies the database can serve queries.
func (db *DB) Health(ctx context.Context) error {
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := db.conn.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}

	return nil
}

// DBStats exposes pool and cache statistics for the health endpoint.
type DBStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`

	QuotaCacheStats CacheStats `json:"quota_cache"`
	ModelCacheStats CacheStats `json:"model_cache"`
}

// GetStats returns current database and cache statistics.
func (db *DB) GetStats() DBStats {
	stats := db.conn.Stats()

	return DBStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,

		QuotaCacheStats: db.quotaCache.GetStats(),
		ModelCacheStats: db.modelCache.GetStats(),
	}
}

// BeginTx starts a new transaction.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return db.conn.BeginTxx(ctx, opts)
}

// Conn returns the underlying sqlx connection for queries not covered by
// the repositories.
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// CleanupExpiredCacheEntries removes expired entries from both caches.
// Called periodically from main.
func (db *DB) CleanupExpiredCacheEntries() (quotaRemoved, modelRemoved int) {
	quotaRemoved = db.quotaCache.CleanupExpired()
	modelRemoved = db.modelCache.CleanupExpired()
	return
}
