package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/defi-risk-monitor/internal/config"
	"github.com/defi-risk-monitor/internal/logging"
)

// ClickHouseDB wraps a ClickHouse connection for the time-series stores
type ClickHouseDB struct {
	Conn   driver.Conn
	logger *logging.Logger
}

// NewClickHouseDB connects to ClickHouse and verifies the connection
func NewClickHouseDB(ctx context.Context, cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	db := &ClickHouseDB{
		Conn:   conn,
		logger: logging.GetGlobalLogger().WithComponent("clickhouse"),
	}
	if err := db.ensureTables(ctx); err != nil {
		return nil, err
	}

	db.logger.WithField("host", cfg.Host).Info("connected to clickhouse")
	return db, nil
}

// ensureTables creates the time-series tables if missing. ClickHouse schema
// management stays here rather than in the Postgres migrations.
func (db *ClickHouseDB) ensureTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS token_prices (
			chain LowCardinality(String),
			token String,
			price_usd Float64,
			observed_at DateTime64(3, 'UTC')
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(observed_at)
		ORDER BY (chain, token, observed_at)
		TTL toDateTime(observed_at) + INTERVAL 90 DAY`,
		`CREATE TABLE IF NOT EXISTS pool_states (
			chain LowCardinality(String),
			pool String,
			price Float64,
			token0_price_usd Float64,
			token1_price_usd Float64,
			liquidity Float64,
			tvl_usd Float64,
			utilization Float64,
			borrow_rate_apr Float64,
			supply_rate_apr Float64,
			observed_at DateTime64(3, 'UTC')
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(observed_at)
		ORDER BY (chain, pool, observed_at)
		TTL toDateTime(observed_at) + INTERVAL 90 DAY`,
	}
	for _, stmt := range statements {
		if err := db.Conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create clickhouse table: %w", err)
		}
	}
	return nil
}

// Close closes the connection
func (db *ClickHouseDB) Close() error {
	return db.Conn.Close()
}

// Ping verifies connectivity, for readiness checks
func (db *ClickHouseDB) Ping(ctx context.Context) error {
	return db.Conn.Ping(ctx)
}
