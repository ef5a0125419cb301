package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the query surface shared by *pgx.Conn, *pgxpool.Pool and pgx.Tx
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Config holds connection settings for the lock database
type Config struct {
	// ConnectTimeout is the timeout for establishing the connection
	ConnectTimeout time.Duration
	// ApplicationName shows up in pg_stat_activity next to held advisory locks
	ApplicationName string
}

// DefaultConfig returns connection settings for the lock connection
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout:  10 * time.Second,
		ApplicationName: "rds-snapshots",
	}
}

// Connect opens a single connection. Advisory locks belong to the session that
// took them, so lock and unlock must run on this one connection rather than a pool.
func Connect(ctx context.Context, databaseURL string, cfg *Config) (*pgx.Conn, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	config, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.ConnectTimeout = cfg.ConnectTimeout
	if config.RuntimeParams == nil {
		config.RuntimeParams = map[string]string{}
	}
	config.RuntimeParams["application_name"] = cfg.ApplicationName

	conn, err := pgx.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lock database: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("failed to ping lock database: %w", err)
	}

	return conn, nil
}
