package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/defi-risk-monitor/internal/types"
)

// ErrNoPrice is returned when no observation exists for a token
var ErrNoPrice = errors.New("no price observation for token")

// PriceHistoryRepository stores and serves token price series and pool-state
// snapshots. It implements the risk engine's HistoryReader, PriceFeed and
// StateHistoryReader contracts: the feed answers with the latest stored
// observation.
type PriceHistoryRepository struct {
	db *ClickHouseDB
}

// NewPriceHistoryRepository creates the repository
func NewPriceHistoryRepository(db *ClickHouseDB) *PriceHistoryRepository {
	return &PriceHistoryRepository{db: db}
}

// RecordPrice appends one price observation
func (r *PriceHistoryRepository) RecordPrice(ctx context.Context, chain types.ChainID, token string, priceUSD float64, at time.Time) error {
	batch, err := r.db.Conn.PrepareBatch(ctx,
		"INSERT INTO token_prices (chain, token, price_usd, observed_at)")
	if err != nil {
		return fmt.Errorf("failed to prepare price batch: %w", err)
	}
	if err := batch.Append(string(chain), strings.ToLower(token), priceUSD, at.UTC()); err != nil {
		return fmt.Errorf("failed to append price row: %w", err)
	}
	return batch.Send()
}

// RecordPoolState appends one pool-state snapshot
func (r *PriceHistoryRepository) RecordPoolState(ctx context.Context, state *types.PoolState) error {
	batch, err := r.db.Conn.PrepareBatch(ctx, `INSERT INTO pool_states
		(chain, pool, price, token0_price_usd, token1_price_usd, liquidity, tvl_usd,
		 utilization, borrow_rate_apr, supply_rate_apr, observed_at)`)
	if err != nil {
		return fmt.Errorf("failed to prepare pool-state batch: %w", err)
	}
	if err := batch.Append(
		string(state.Chain), strings.ToLower(state.PoolAddress),
		state.Price, state.Token0PriceUSD, state.Token1PriceUSD,
		state.Liquidity, state.TVLUSD,
		state.Utilization, state.BorrowRateAPR, state.SupplyRateAPR,
		state.Timestamp.UTC()); err != nil {
		return fmt.Errorf("failed to append pool-state row: %w", err)
	}
	return batch.Send()
}

// PriceHistory returns the ordered series for a token within [from, to],
// oldest first. An empty series is a valid result, not an error.
func (r *PriceHistoryRepository) PriceHistory(ctx context.Context, chain types.ChainID, token string, from, to time.Time) (*types.PriceHistory, error) {
	rows, err := r.db.Conn.Query(ctx, `
		SELECT observed_at, price_usd
		FROM token_prices
		WHERE chain = ? AND token = ? AND observed_at BETWEEN ? AND ?
		ORDER BY observed_at`,
		string(chain), strings.ToLower(token), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	defer rows.Close()

	history := &types.PriceHistory{
		TokenAddress: token,
		Chain:        chain,
	}
	for rows.Next() {
		var at time.Time
		var price float64
		if err := rows.Scan(&at, &price); err != nil {
			return nil, fmt.Errorf("failed to scan price point: %w", err)
		}
		history.Points = append(history.Points, types.PricePoint{Timestamp: at, PriceUSD: price})
	}
	return history, rows.Err()
}

// TokenPriceUSD serves the most recent stored observation, making the store
// usable as a price feed
func (r *PriceHistoryRepository) TokenPriceUSD(ctx context.Context, chain types.ChainID, token string) (float64, error) {
	row := r.db.Conn.QueryRow(ctx, `
		SELECT price_usd
		FROM token_prices
		WHERE chain = ? AND token = ?
		ORDER BY observed_at DESC
		LIMIT 1`,
		string(chain), strings.ToLower(token))

	var price float64
	if err := row.Scan(&price); err != nil {
		return 0, ErrNoPrice
	}
	return price, nil
}

// HistoricalPoolStates returns trailing snapshots for a pool within the
// lookback window, oldest first
func (r *PriceHistoryRepository) HistoricalPoolStates(ctx context.Context, chain types.ChainID, pool string, lookback time.Duration) ([]types.PoolState, error) {
	cutoff := time.Now().UTC().Add(-lookback)
	rows, err := r.db.Conn.Query(ctx, `
		SELECT price, token0_price_usd, token1_price_usd, liquidity, tvl_usd,
			utilization, borrow_rate_apr, supply_rate_apr, observed_at
		FROM pool_states
		WHERE chain = ? AND pool = ? AND observed_at >= ?
		ORDER BY observed_at`,
		string(chain), strings.ToLower(pool), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query pool states: %w", err)
	}
	defer rows.Close()

	var states []types.PoolState
	for rows.Next() {
		s := types.PoolState{PoolAddress: pool, Chain: chain}
		if err := rows.Scan(&s.Price, &s.Token0PriceUSD, &s.Token1PriceUSD, &s.Liquidity, &s.TVLUSD,
			&s.Utilization, &s.BorrowRateAPR, &s.SupplyRateAPR, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan pool state: %w", err)
		}
		states = append(states, s)
	}
	return states, rows.Err()
}
