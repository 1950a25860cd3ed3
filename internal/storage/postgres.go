// Package storage provides the persistence collaborators of the risk engine:
// Postgres-backed repositories for risk profiles, thresholds and alerts, and
// a ClickHouse-backed price-history store. The risk engine itself never
// depends on this package; it consumes the narrow interfaces these types
// implement.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/defi-risk-monitor/internal/config"
	"github.com/defi-risk-monitor/internal/logging"
)

// PostgresDB wraps a pgx connection pool
type PostgresDB struct {
	Pool   *pgxpool.Pool
	logger *logging.Logger
}

// NewPostgresDB connects to Postgres and verifies the connection
func NewPostgresDB(ctx context.Context, cfg *config.PostgresConfig) (*PostgresDB, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConnections)
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	logger := logging.GetGlobalLogger().WithComponent("postgres")
	logger.WithField("host", cfg.Host).Info("connected to postgres")

	return &PostgresDB{Pool: pool, logger: logger}, nil
}

// Close releases the pool
func (db *PostgresDB) Close() {
	db.Pool.Close()
}

// Ping verifies connectivity, for readiness checks
func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
