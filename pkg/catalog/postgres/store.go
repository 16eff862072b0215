// Package postgres implements the catalog on PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nats3-io/nats3/internal/logger"
)

// Store is the Postgres-backed catalog.
type Store struct {
	pool *pgxpool.Pool
	cfg  Config
}

// New connects to Postgres, optionally runs migrations, and returns the
// catalog. Close must be called to release the pool.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog configuration: %w", err)
	}

	// Migrations run before the pool opens: AfterConnect loads the enum
	// types the schema defines.
	if cfg.AutoMigrate {
		if err := runMigrations(ctx, cfg.URL); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	poolCfg.AfterConnect = registerEnumTypes

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("Catalog connected",
		"max_conns", cfg.MaxConns,
		"auto_migrate", cfg.AutoMigrate,
	)

	return &Store{pool: pool, cfg: cfg}, nil
}

// registerEnumTypes teaches each connection the schema's enum types (and
// their array forms) so status and codec values bind and scan as Go strings.
func registerEnumTypes(ctx context.Context, conn *pgx.Conn) error {
	for _, name := range []string{"job_status", "_job_status", "chunk_codec", "_chunk_codec"} {
		t, err := conn.LoadType(ctx, name)
		if err != nil {
			return fmt.Errorf("load type %s: %w", name, err)
		}
		conn.TypeMap().RegisterType(t)
	}
	return nil
}

// queryCtx bounds a single statement with the configured query timeout.
func (s *Store) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.QueryTimeout)
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
