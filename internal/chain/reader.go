// Package chain defines the narrow contracts the risk engine requires from
// blockchain-state collaborators, and an EVM implementation of them.
package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/defi-risk-monitor/internal/types"
)

// TokenMetadata describes an ERC-20 token
type TokenMetadata struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
}

// RawPosition is an unnormalized on-chain position as read from a protocol's
// registries. Protocol adapters turn these into types.Position snapshots.
type RawPosition struct {
	Protocol    types.ProtocolID   `json:"protocol"`
	Chain       types.ChainID      `json:"chain"`
	PoolAddress string             `json:"poolAddress"`
	Kind        types.PositionKind `json:"kind"`

	Token0     string `json:"token0"`
	Token1     string `json:"token1,omitempty"` // empty for single-asset positions
	RawAmount0 string `json:"rawAmount0"`
	RawAmount1 string `json:"rawAmount1,omitempty"`

	Liquidity  float64 `json:"liquidity,omitempty"`
	Shares     float64 `json:"shares,omitempty"`
	FeeTierBps int     `json:"feeTierBps,omitempty"`
	TickLower  *int    `json:"tickLower,omitempty"`
	TickUpper  *int    `json:"tickUpper,omitempty"`

	// Lending-market extras.
	BorrowRateAPR float64 `json:"borrowRateApr,omitempty"`
	SupplyRateAPR float64 `json:"supplyRateApr,omitempty"`
	HealthFactor  float64 `json:"healthFactor,omitempty"`
}

// Reader supplies on-chain state to protocol adapters. Every call is bounded
// by the per-chain call timeout; exceeding it is reported as a timeout error.
type Reader interface {
	// SupportsChain reports whether the reader can serve the given chain.
	SupportsChain(chain types.ChainID) bool

	// TokenMetadata returns symbol/name/decimals for a token contract.
	TokenMetadata(ctx context.Context, chain types.ChainID, token string) (*TokenMetadata, error)

	// TokenBalance returns the raw ERC-20 balance of owner.
	TokenBalance(ctx context.Context, chain types.ChainID, token, owner string) (*big.Int, error)

	// PoolState returns a current snapshot of a pool or market.
	PoolState(ctx context.Context, chain types.ChainID, pool string) (*types.PoolState, error)

	// EnumeratePositions lists an owner's raw positions for one protocol.
	EnumeratePositions(ctx context.Context, chain types.ChainID, protocol types.ProtocolID, owner string) ([]RawPosition, error)
}

// PriceFeed supplies current USD prices for tokens. Concrete providers
// (Chainlink, CoinGecko) live outside the risk engine; the price-history
// store doubles as a feed by serving its latest observation.
type PriceFeed interface {
	TokenPriceUSD(ctx context.Context, chain types.ChainID, token string) (float64, error)
}

// HistoryReader supplies ordered price series over a bounded lookback window
type HistoryReader interface {
	PriceHistory(ctx context.Context, chain types.ChainID, token string, from, to time.Time) (*types.PriceHistory, error)
}

// StateHistoryReader supplies trailing pool-state snapshots, oldest first,
// used for TVL-drop scoring
type StateHistoryReader interface {
	HistoricalPoolStates(ctx context.Context, chain types.ChainID, pool string, lookback time.Duration) ([]types.PoolState, error)
}
