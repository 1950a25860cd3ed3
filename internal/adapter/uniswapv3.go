package adapter

import (
	"context"
	"math"

	"github.com/defi-risk-monitor/internal/chain"
	"github.com/defi-risk-monitor/internal/types"
)

// UniswapV3Adapter normalizes concentrated-liquidity positions held through
// the Uniswap V3 position NFT manager.
type UniswapV3Adapter struct {
	base
	registries map[types.ChainID]chain.ProtocolRegistry
}

// NewUniswapV3Adapter creates the Uniswap V3 adapter
func NewUniswapV3Adapter(deps Deps, registries map[types.ChainID]chain.ProtocolRegistry) *UniswapV3Adapter {
	chains := make([]types.ChainID, 0, len(registries))
	for c, reg := range registries {
		if reg.UniswapNFTManager != "" {
			chains = append(chains, c)
		}
	}
	return &UniswapV3Adapter{
		base:       newBase(types.ProtocolUniswapV3, chains, deps),
		registries: registries,
	}
}

// Positions lists the owner's open concentrated-liquidity positions
func (a *UniswapV3Adapter) Positions(ctx context.Context, c types.ChainID, owner string) ([]types.Position, error) {
	if !a.supportsChain(c) {
		return nil, wrapErr(a.protocol, c, "positions", errUnsupportedChain(c))
	}

	return a.cachedPositions(ctx, c, owner, func(ctx context.Context) ([]types.Position, error) {
		raws, err := a.reader.EnumeratePositions(ctx, c, a.protocol, owner)
		if err != nil {
			return nil, err
		}

		positions := make([]types.Position, 0, len(raws))
		for _, raw := range raws {
			p, err := a.normalize(ctx, owner, raw)
			if err != nil {
				a.logger.WithError(err).WithField("pool", raw.PoolAddress).
					Warn("skipping position that failed normalization")
				continue
			}
			positions = append(positions, *p)
		}
		return positions, nil
	})
}

// normalize converts a raw NFT position into the shared model, deriving the
// token amounts from liquidity and the tick range
func (a *UniswapV3Adapter) normalize(ctx context.Context, owner string, raw chain.RawPosition) (*types.Position, error) {
	meta0 := a.tokenMetadata(ctx, raw.Chain, raw.Token0)
	meta1 := a.tokenMetadata(ctx, raw.Chain, raw.Token1)

	p := &types.Position{
		Protocol:    raw.Protocol,
		Chain:       raw.Chain,
		PoolAddress: raw.PoolAddress,
		Owner:       owner,
		Kind:        types.PositionKindLiquidity,
		Liquidity:   raw.Liquidity,
		FeeTierBps:  raw.FeeTierBps,
		TickLower:   raw.TickLower,
		TickUpper:   raw.TickUpper,
	}

	amount0Raw, amount1Raw := 0.0, 0.0
	if raw.TickLower != nil && raw.TickUpper != nil && raw.PoolAddress != "" {
		state, err := a.reader.PoolState(ctx, raw.Chain, raw.PoolAddress)
		if err == nil && state.Price > 0 {
			amount0Raw, amount1Raw = amountsFromLiquidity(
				raw.Liquidity,
				math.Sqrt(state.Price),
				sqrtRatioAtTick(*raw.TickLower),
				sqrtRatioAtTick(*raw.TickUpper),
			)
		}
	}

	token0 := types.TokenAmount{
		Address:  raw.Token0,
		Symbol:   meta0.Symbol,
		Decimals: meta0.Decimals,
		Amount:   amount0Raw / math.Pow10(meta0.Decimals),
	}
	token1 := types.TokenAmount{
		Address:  raw.Token1,
		Symbol:   meta1.Symbol,
		Decimals: meta1.Decimals,
		Amount:   amount1Raw / math.Pow10(meta1.Decimals),
	}

	if price := a.priceOf(ctx, raw.Chain, raw.Token0); price > 0 {
		token0.PriceUSD = price
		token0.ValueUSD = token0.Amount * price
	}
	if price := a.priceOf(ctx, raw.Chain, raw.Token1); price > 0 {
		token1.PriceUSD = price
		token1.ValueUSD = token1.Amount * price
	}

	p.Token0 = token0
	p.Token1 = &token1
	stampPosition(p)
	return p, nil
}

// SupportsContract reports whether the contract is this deployment's NFT
// manager, factory, or a live V3 pool
func (a *UniswapV3Adapter) SupportsContract(ctx context.Context, c types.ChainID, contract string) (bool, error) {
	reg, ok := a.registries[c]
	if !ok {
		return false, nil
	}
	if equalAddress(contract, reg.UniswapNFTManager) || equalAddress(contract, reg.UniswapFactory) {
		return true, nil
	}

	// A V3 pool answers slot0 with a current tick.
	state, err := a.reader.PoolState(ctx, c, contract)
	if err != nil {
		return false, nil
	}
	return state.CurrentTick != nil, nil
}

// sqrtRatioAtTick returns sqrt(1.0001^tick)
func sqrtRatioAtTick(tick int) float64 {
	return math.Pow(1.0001, float64(tick)/2)
}

// amountsFromLiquidity derives raw token amounts from liquidity and the
// position's price range. Standard concentrated-liquidity math: below range
// the position is all token0, above range all token1, in range a mix.
func amountsFromLiquidity(liquidity, sqrtP, sqrtLower, sqrtUpper float64) (amount0, amount1 float64) {
	if sqrtLower > sqrtUpper {
		sqrtLower, sqrtUpper = sqrtUpper, sqrtLower
	}
	switch {
	case sqrtP <= sqrtLower:
		amount0 = liquidity * (1/sqrtLower - 1/sqrtUpper)
	case sqrtP >= sqrtUpper:
		amount1 = liquidity * (sqrtUpper - sqrtLower)
	default:
		amount0 = liquidity * (1/sqrtP - 1/sqrtUpper)
		amount1 = liquidity * (sqrtP - sqrtLower)
	}
	return amount0, amount1
}
