package adapter

import (
	"context"

	"github.com/defi-risk-monitor/internal/chain"
	"github.com/defi-risk-monitor/internal/types"
)

// CurveAdapter normalizes LP token balances in the registered Curve pools.
// Curve positions carry shares (virtual-price adjusted LP units) rather than
// a tick range.
type CurveAdapter struct {
	base
	registries map[types.ChainID]chain.ProtocolRegistry
}

// NewCurveAdapter creates the Curve adapter
func NewCurveAdapter(deps Deps, registries map[types.ChainID]chain.ProtocolRegistry) *CurveAdapter {
	chains := make([]types.ChainID, 0, len(registries))
	for c, reg := range registries {
		if len(reg.CurvePools) > 0 {
			chains = append(chains, c)
		}
	}
	return &CurveAdapter{
		base:       newBase(types.ProtocolCurve, chains, deps),
		registries: registries,
	}
}

// Positions lists the owner's LP positions across the registered pools
func (a *CurveAdapter) Positions(ctx context.Context, c types.ChainID, owner string) ([]types.Position, error) {
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
			p := types.Position{
				Protocol:    raw.Protocol,
				Chain:       raw.Chain,
				PoolAddress: raw.PoolAddress,
				Owner:       owner,
				Kind:        types.PositionKindLiquidity,
				Token0:      a.tokenAmount(ctx, raw.Chain, raw.Token0, raw.RawAmount0),
				Shares:      raw.Shares,
			}
			stampPosition(&p)
			positions = append(positions, p)
		}
		return positions, nil
	})
}

// SupportsContract reports whether the contract is one of the registered
// pools or LP tokens
func (a *CurveAdapter) SupportsContract(ctx context.Context, c types.ChainID, contract string) (bool, error) {
	reg, ok := a.registries[c]
	if !ok {
		return false, nil
	}
	for _, pool := range reg.CurvePools {
		if equalAddress(contract, pool.Pool) || equalAddress(contract, pool.LPToken) {
			return true, nil
		}
	}
	return false, nil
}
