package adapter

import (
	"context"

	"github.com/defi-risk-monitor/internal/chain"
	"github.com/defi-risk-monitor/internal/types"
)

// AaveV3Adapter normalizes supply and borrow balances across an Aave V3
// deployment's reserves. Supply and borrow sides of the same reserve become
// separate positions so thresholds can target either independently.
type AaveV3Adapter struct {
	base
	registries map[types.ChainID]chain.ProtocolRegistry
}

// NewAaveV3Adapter creates the Aave V3 adapter
func NewAaveV3Adapter(deps Deps, registries map[types.ChainID]chain.ProtocolRegistry) *AaveV3Adapter {
	chains := make([]types.ChainID, 0, len(registries))
	for c, reg := range registries {
		if reg.AavePool != "" {
			chains = append(chains, c)
		}
	}
	return &AaveV3Adapter{
		base:       newBase(types.ProtocolAaveV3, chains, deps),
		registries: registries,
	}
}

// Positions lists the owner's non-zero supply and borrow positions
func (a *AaveV3Adapter) Positions(ctx context.Context, c types.ChainID, owner string) ([]types.Position, error) {
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
				Kind:        raw.Kind,
				Token0:      a.tokenAmount(ctx, raw.Chain, raw.Token0, raw.RawAmount0),
			}
			stampPosition(&p)
			// Borrow and supply against the same reserve share a market id;
			// suffix the borrow side so the two position ids stay distinct.
			if raw.Kind == types.PositionKindBorrow {
				p.ID = types.PositionID(p.Protocol, p.Chain, p.PoolAddress+":debt", owner)
			}
			positions = append(positions, p)
		}
		return positions, nil
	})
}

// SupportsContract reports whether the contract is the deployment's pool
// entry point
func (a *AaveV3Adapter) SupportsContract(ctx context.Context, c types.ChainID, contract string) (bool, error) {
	reg, ok := a.registries[c]
	if !ok {
		return false, nil
	}
	return equalAddress(contract, reg.AavePool), nil
}
