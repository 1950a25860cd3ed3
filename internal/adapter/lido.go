package adapter

import (
	"context"

	"github.com/defi-risk-monitor/internal/chain"
	"github.com/defi-risk-monitor/internal/types"
)

// LidoAdapter normalizes stETH balances into staking positions. stETH is a
// rebasing token, so the balance itself is the position size; there is no
// share accounting to unwind.
type LidoAdapter struct {
	base
	registries map[types.ChainID]chain.ProtocolRegistry
}

// NewLidoAdapter creates the Lido adapter
func NewLidoAdapter(deps Deps, registries map[types.ChainID]chain.ProtocolRegistry) *LidoAdapter {
	chains := make([]types.ChainID, 0, len(registries))
	for c, reg := range registries {
		if reg.LidoStETH != "" {
			chains = append(chains, c)
		}
	}
	return &LidoAdapter{
		base:       newBase(types.ProtocolLido, chains, deps),
		registries: registries,
	}
}

// Positions returns the owner's staking position, if any
func (a *LidoAdapter) Positions(ctx context.Context, c types.ChainID, owner string) ([]types.Position, error) {
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
				Kind:        types.PositionKindStake,
				Token0:      a.tokenAmount(ctx, raw.Chain, raw.Token0, raw.RawAmount0),
			}
			stampPosition(&p)
			positions = append(positions, p)
		}
		return positions, nil
	})
}

// SupportsContract reports whether the contract is the stETH token
func (a *LidoAdapter) SupportsContract(ctx context.Context, c types.ChainID, contract string) (bool, error) {
	reg, ok := a.registries[c]
	if !ok {
		return false, nil
	}
	return equalAddress(contract, reg.LidoStETH), nil
}
