// Package config provides configuration management for the risk monitor.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Chains   ChainsConfig
	Cache    CacheConfig
	Monitor  MonitorConfig
	Alerts   AlertsConfig
	Risk     RiskConfig
	Logging  LoggingConfig
}

// ServerConfig holds the operational HTTP server configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration (price-history store)
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ChainsConfig holds per-chain RPC configuration
type ChainsConfig struct {
	Enabled []string
	Chains  map[string]ChainConfig
}

// ChainConfig holds configuration for a specific chain
type ChainConfig struct {
	RPCPrimary   string
	RPCSecondary string
	// CallTimeout bounds every individual on-chain call.
	CallTimeout time.Duration
	// RPS limits request rate against the chain's RPC endpoint.
	RPS int
}

// CacheConfig holds cache TTL configuration
type CacheConfig struct {
	// PositionTTL covers per-address position lists.
	PositionTTL time.Duration
	// MetadataTTL covers slow-changing protocol-wide data (pool listings, reserves).
	MetadataTTL time.Duration
	// MarketStateTTL covers pool/market state snapshots.
	MarketStateTTL time.Duration
}

// MonitorConfig holds the periodic monitor configuration
type MonitorConfig struct {
	Interval time.Duration
	// MaxConcurrent bounds how many positions are evaluated at once.
	MaxConcurrent int
	// TrackedAddresses seeds the monitor when no user store is wired.
	// Format: comma-separated userId=address pairs, or bare addresses.
	TrackedAddresses []string
}

// AlertsConfig holds threshold-engine configuration
type AlertsConfig struct {
	// Cooldown suppresses repeat alerts for the same (user, position, metric).
	Cooldown   time.Duration
	WebhookURL string
}

// RiskConfig holds risk-calculation defaults
type RiskConfig struct {
	// VolatilityLookback bounds the price-history window used for volatility
	// and correlation when a user profile does not set its own.
	VolatilityLookback time.Duration
	// PeriodsPerYear annualizes period returns (default: daily points).
	PeriodsPerYear int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "risk_monitor"),
				User:           getEnv("POSTGRES_USER", "monitor"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "risk_monitor"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Cache: CacheConfig{
			PositionTTL:    getEnvAsDuration("CACHE_POSITION_TTL", 5*time.Minute),
			MetadataTTL:    getEnvAsDuration("CACHE_METADATA_TTL", 30*time.Minute),
			MarketStateTTL: getEnvAsDuration("CACHE_MARKET_STATE_TTL", 30*time.Second),
		},
		Monitor: MonitorConfig{
			Interval:         getEnvAsDuration("MONITOR_INTERVAL", 45*time.Second),
			MaxConcurrent:    getEnvAsInt("MONITOR_MAX_CONCURRENT", 8),
			TrackedAddresses: getEnvAsList("TRACKED_ADDRESSES"),
		},
		Alerts: AlertsConfig{
			Cooldown:   getEnvAsDuration("ALERT_COOLDOWN", 15*time.Minute),
			WebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
		},
		Risk: RiskConfig{
			VolatilityLookback: getEnvAsDuration("RISK_VOLATILITY_LOOKBACK", 30*24*time.Hour),
			PeriodsPerYear:     getEnvAsInt("RISK_PERIODS_PER_YEAR", 365),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	config.Chains = loadChainConfigs()

	return config, nil
}

// loadChainConfigs loads chain-specific configurations
func loadChainConfigs() ChainsConfig {
	enabledChains := strings.Split(getEnv("ENABLED_CHAINS", "ethereum,polygon,arbitrum"), ",")

	chains := make(map[string]ChainConfig)
	for _, chain := range enabledChains {
		chain = strings.TrimSpace(chain)
		if chain == "" {
			continue
		}

		prefix := strings.ToUpper(chain)
		chains[chain] = ChainConfig{
			RPCPrimary:   getEnv(prefix+"_RPC_PRIMARY", ""),
			RPCSecondary: getEnv(prefix+"_RPC_SECONDARY", ""),
			CallTimeout:  getEnvAsDuration(prefix+"_CALL_TIMEOUT", 5*time.Second),
			RPS:          getEnvAsInt(prefix+"_RPS", 20),
		}
	}

	return ChainsConfig{
		Enabled: enabledChains,
		Chains:  chains,
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList gets a comma-separated environment variable as a slice
func getEnvAsList(key string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return nil
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
