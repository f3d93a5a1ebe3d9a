package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/davidleathers/tiered-eventstore/internal/infrastructure/config"
)

// ConnectionPool wraps a pgx pool with health checks and stats logging.
// Connections are acquired per operation and released by pgx on every exit
// path; nothing here holds a session across calls.
type ConnectionPool struct {
	pool   *pgxpool.Pool
	config config.DatabaseConfig
	logger *zap.Logger
}

// NewConnectionPool parses the database URL, applies pool sizing from
// config, and verifies connectivity with a ping.
func NewConnectionPool(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*ConnectionPool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection pool established",
		zap.Int32("max_conns", poolConfig.MaxConns),
		zap.Int32("min_conns", poolConfig.MinConns))

	return &ConnectionPool{pool: pool, config: cfg, logger: logger}, nil
}

// Pool exposes the underlying pgx pool for the stores.
func (p *ConnectionPool) Pool() *pgxpool.Pool {
	return p.pool
}

// HealthCheck pings the database and logs current pool utilization.
func (p *ConnectionPool) HealthCheck(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	stats := p.pool.Stat()
	p.logger.Debug("connection pool stats",
		zap.Int32("total_conns", stats.TotalConns()),
		zap.Int32("idle_conns", stats.IdleConns()),
		zap.Int32("acquired_conns", stats.AcquiredConns()),
		zap.Int64("acquire_count", stats.AcquireCount()))
	return nil
}

func (p *ConnectionPool) Close() {
	p.pool.Close()
}
