package types

import (
	"fmt"
	"time"
)

// TokenAmount represents a token holding within a position
type TokenAmount struct {
	Address   string  `json:"address"`             // Token contract address
	Symbol    string  `json:"symbol"`              // Token symbol (fallback: shortened address)
	Decimals  int     `json:"decimals"`            // Token decimals (fallback: 18)
	RawAmount string  `json:"rawAmount"`           // uint256 as string
	Amount    float64 `json:"amount"`              // human-readable (raw / 10^decimals)
	PriceUSD  float64 `json:"priceUsd,omitempty"`  // Current USD price if known
	ValueUSD  float64 `json:"valueUsd,omitempty"`  // Amount * PriceUSD
}

// Position is an immutable snapshot of a user's position in a DeFi protocol.
// A new fetch cycle produces a new snapshot; positions are never mutated in place.
type Position struct {
	ID              string       `json:"id"` // <protocol>:<chain>:<pool>:<owner>
	Protocol        ProtocolID   `json:"protocol"`
	Chain           ChainID      `json:"chain"`
	SecondaryChains []ChainID    `json:"secondaryChains,omitempty"` // Non-empty only for bridged positions
	PoolAddress     string       `json:"poolAddress"`
	Owner           string       `json:"owner"`
	Kind            PositionKind `json:"kind"`

	Token0 TokenAmount  `json:"token0"`
	Token1 *TokenAmount `json:"token1,omitempty"` // nil for single-asset positions

	// Liquidity is the position's share of pool liquidity, in pool-native units.
	Liquidity float64 `json:"liquidity"`
	Shares    float64 `json:"shares,omitempty"`

	// Entry-time USD prices. When present, impermanent loss is computed exactly;
	// when absent, the calculator degrades to a ratio heuristic.
	EntryPrice0 *float64 `json:"entryPrice0,omitempty"`
	EntryPrice1 *float64 `json:"entryPrice1,omitempty"`
	EntryTime   *int64   `json:"entryTime,omitempty"` // Unix timestamp

	// Range metadata for concentrated-liquidity positions.
	FeeTierBps int  `json:"feeTierBps,omitempty"`
	TickLower  *int `json:"tickLower,omitempty"`
	TickUpper  *int `json:"tickUpper,omitempty"`

	FetchedAt time.Time `json:"fetchedAt"`
}

// PositionID builds the canonical position identifier
func PositionID(protocol ProtocolID, chain ChainID, pool, owner string) string {
	return fmt.Sprintf("%s:%s:%s:%s", protocol, chain, pool, owner)
}

// ValueUSD returns the position's total current USD value
func (p *Position) ValueUSD() float64 {
	total := p.Token0.ValueUSD
	if p.Token1 != nil {
		total += p.Token1.ValueUSD
	}
	return total
}

// IsMultiChain reports whether the position genuinely spans more than one chain
func (p *Position) IsMultiChain() bool {
	return len(p.SecondaryChains) > 0
}

// HasEntryPrices reports whether both entry-time token prices are known
func (p *Position) HasEntryPrices() bool {
	if p.EntryPrice0 == nil {
		return false
	}
	if p.Token1 != nil && p.EntryPrice1 == nil {
		return false
	}
	return true
}

// PnLUSD returns the position's current value minus its entry value. ok is
// false when entry prices are unknown and no PnL can be computed.
func (p *Position) PnLUSD() (pnl float64, ok bool) {
	if !p.HasEntryPrices() {
		return 0, false
	}
	entry := p.Token0.Amount * *p.EntryPrice0
	if p.Token1 != nil {
		entry += p.Token1.Amount * *p.EntryPrice1
	}
	return p.ValueUSD() - entry, true
}

// PoolState is a read-only snapshot of current pool/market state,
// supplied by the blockchain-state reader collaborator.
type PoolState struct {
	PoolAddress string  `json:"poolAddress"`
	Chain       ChainID `json:"chain"`

	CurrentTick    *int    `json:"currentTick,omitempty"`
	Price          float64 `json:"price"` // token0 price in token1 terms
	Token0PriceUSD float64 `json:"token0PriceUsd"`
	Token1PriceUSD float64 `json:"token1PriceUsd"`

	Liquidity     float64 `json:"liquidity"` // Total pool liquidity, pool-native units
	TVLUSD        float64 `json:"tvlUsd"`
	Utilization   float64 `json:"utilization,omitempty"`   // Lending markets only
	BorrowRateAPR float64 `json:"borrowRateApr,omitempty"` // Lending markets only
	SupplyRateAPR float64 `json:"supplyRateApr,omitempty"` // Lending markets only

	Timestamp time.Time `json:"timestamp"`
}

// PricePoint is a single (timestamp, USD price) observation
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	PriceUSD  float64   `json:"priceUsd"`
}

// PriceHistory is an ordered sequence of price points for one token on one chain.
// Points are ordered oldest first.
type PriceHistory struct {
	TokenAddress string       `json:"tokenAddress"`
	Chain        ChainID      `json:"chain"`
	Points       []PricePoint `json:"points"`
}

// Returns computes period-over-period returns of the series.
// A series with fewer than 2 points yields an empty slice.
func (h *PriceHistory) Returns() []float64 {
	if len(h.Points) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(h.Points)-1)
	for i := 1; i < len(h.Points); i++ {
		prev := h.Points[i-1].PriceUSD
		if prev <= 0 {
			continue
		}
		returns = append(returns, (h.Points[i].PriceUSD-prev)/prev)
	}
	return returns
}

// PortfolioSummary aggregates positions across all protocols for one user
type PortfolioSummary struct {
	Owner         string     `json:"owner"`
	Positions     []Position `json:"positions"`
	TotalValueUSD float64    `json:"totalValueUsd"`

	// TotalPnLUSD sums current-minus-entry value over the positions whose
	// entry prices are known; PnLDegraded names the position ids excluded
	// from the sum.
	TotalPnLUSD float64  `json:"totalPnlUsd"`
	PnLDegraded []string `json:"pnlDegraded,omitempty"`

	// OverallRiskScore is the value-weighted average of position scores.
	// Populated by the report path; omitted when no scoring ran.
	OverallRiskScore float64 `json:"overallRiskScore,omitempty"`

	ProtocolCount   int       `json:"protocolCount"`
	FailedProtocols []string  `json:"failedProtocols,omitempty"` // Adapters excluded from the merge
	FetchedAt       time.Time `json:"fetchedAt"`
}
