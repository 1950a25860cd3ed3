package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/defi-risk-monitor/internal/types"
)

// KeyType represents different types of cache keys
type KeyType string

const (
	// KeyPositions is for per-address position lists (short TTL)
	KeyPositions KeyType = "positions"
	// KeyMetadata is for protocol-wide metadata such as pool listings (long TTL).
	// Protocol-wide entries use the null address as their key component.
	KeyMetadata KeyType = "metadata"
	// KeyMarketState is for pool/market state snapshots
	KeyMarketState KeyType = "market"
	// KeyPriceHistory is for bounded price-history windows
	KeyPriceHistory KeyType = "prices"
)

// NullKey is the address component for protocol-wide cache entries
const NullKey = "_"

// Service provides high-level caching with per-key-type TTLs and JSON
// serialization. Adapters share one Service; key namespacing keeps their
// entries apart.
type Service struct {
	redis          *RedisCache
	positionTTL    time.Duration
	metadataTTL    time.Duration
	marketStateTTL time.Duration
}

// NewService creates a cache service with the configured TTLs
func NewService(redis *RedisCache, positionTTL, metadataTTL, marketStateTTL time.Duration) *Service {
	return &Service{
		redis:          redis,
		positionTTL:    positionTTL,
		metadataTTL:    metadataTTL,
		marketStateTTL: marketStateTTL,
	}
}

// Key generates a cache key. Format: <type>:<param1>:<param2>:...
// Parameters are lowercased for consistency.
func (s *Service) Key(keyType KeyType, params ...string) string {
	normalized := make([]string, len(params))
	for i, param := range params {
		normalized[i] = strings.ToLower(param)
	}
	parts := append([]string{string(keyType)}, normalized...)
	return strings.Join(parts, ":")
}

// PositionsKey generates a key for an adapter's position list.
// Format: positions:<protocol>:<chain>:<address>
func (s *Service) PositionsKey(protocol types.ProtocolID, chain types.ChainID, address string) string {
	return s.Key(KeyPositions, string(protocol), string(chain), address)
}

// MetadataKey generates a key for protocol-wide metadata.
// Format: metadata:<protocol>:<chain>:_
func (s *Service) MetadataKey(protocol types.ProtocolID, chain types.ChainID) string {
	return s.Key(KeyMetadata, string(protocol), string(chain), NullKey)
}

// MarketStateKey generates a key for a pool-state snapshot.
// Format: market:<chain>:<pool>
func (s *Service) MarketStateKey(chain types.ChainID, pool string) string {
	return s.Key(KeyMarketState, string(chain), pool)
}

// TTLFor returns the configured TTL for a key type
func (s *Service) TTLFor(keyType KeyType) time.Duration {
	switch keyType {
	case KeyMetadata:
		return s.metadataTTL
	case KeyMarketState, KeyPriceHistory:
		return s.marketStateTTL
	default:
		return s.positionTTL
	}
}

// Set stores a value with the TTL configured for its key type
func (s *Service) Set(ctx context.Context, keyType KeyType, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return s.redis.Set(ctx, key, data, s.TTLFor(keyType))
}

// Get retrieves a value and deserializes it into dest.
// Returns (false, nil) on a cache miss.
func (s *Service) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := s.redis.Get(ctx, key)
	if err != nil {
		if IsNil(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// Invalidate removes one or more keys
func (s *Service) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.redis.Del(ctx, keys...)
}

// InvalidateAddress removes every position entry for an address across all
// protocols and chains
func (s *Service) InvalidateAddress(ctx context.Context, address string) error {
	pattern := fmt.Sprintf("%s:*:%s", KeyPositions, strings.ToLower(address))
	keys, err := s.redis.Keys(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to find keys matching pattern: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return s.redis.Del(ctx, keys...)
}
