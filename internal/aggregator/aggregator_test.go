package aggregator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defi-risk-monitor/internal/adapter"
	"github.com/defi-risk-monitor/internal/types"
)

// fakeAdapter is a canned-response ProtocolAdapter for aggregator tests
type fakeAdapter struct {
	protocol  types.ProtocolID
	positions []types.Position
	err       error
}

func (f *fakeAdapter) Protocol() types.ProtocolID        { return f.protocol }
func (f *fakeAdapter) SupportedChains() []types.ChainID  { return []types.ChainID{types.ChainEthereum} }
func (f *fakeAdapter) SupportsContract(ctx context.Context, c types.ChainID, contract string) (bool, error) {
	return false, nil
}

func (f *fakeAdapter) Positions(ctx context.Context, c types.ChainID, owner string) ([]types.Position, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.positions, nil
}

func position(protocol types.ProtocolID, value float64) types.Position {
	p := types.Position{
		Protocol:    protocol,
		Chain:       types.ChainEthereum,
		PoolAddress: "0xpool-" + string(protocol),
		Owner:       "0xowner",
		Kind:        types.PositionKindLiquidity,
		Token0:      types.TokenAmount{Symbol: "TKN", Decimals: 18, Amount: 1, PriceUSD: value, ValueUSD: value},
	}
	p.ID = types.PositionID(p.Protocol, p.Chain, p.PoolAddress, p.Owner)
	return p
}

func newRegistry(t *testing.T, adapters ...adapter.ProtocolAdapter) *adapter.Registry {
	t.Helper()
	registry := adapter.NewRegistry()
	for _, a := range adapters {
		require.NoError(t, registry.Register(a))
	}
	return registry
}

func TestFetchAllMergesSuccessfulAdaptersDespiteFailures(t *testing.T) {
	registry := newRegistry(t,
		&fakeAdapter{protocol: "p1", positions: []types.Position{position("p1", 100)}},
		&fakeAdapter{protocol: "p2", err: fmt.Errorf("rpc down")},
		&fakeAdapter{protocol: "p3", positions: []types.Position{position("p3", 200)}},
		&fakeAdapter{protocol: "p4", err: fmt.Errorf("unsupported")},
		&fakeAdapter{protocol: "p5", positions: []types.Position{position("p5", 300)}},
	)

	agg := New(registry, []types.ChainID{types.ChainEthereum})
	summary, err := agg.FetchAll(context.Background(), "0xowner")
	require.NoError(t, err)

	assert.Len(t, summary.Positions, 3)
	assert.InDelta(t, 600, summary.TotalValueUSD, 1e-9)
	assert.Equal(t, 3, summary.ProtocolCount)
	assert.ElementsMatch(t, []string{"p2/ethereum", "p4/ethereum"}, summary.FailedProtocols)
}

func TestFetchAllComputesTotalPnL(t *testing.T) {
	entry := 1000.0
	gained := position("p1", 0)
	gained.Token0 = types.TokenAmount{
		Symbol: "TKN", Decimals: 18,
		Amount: 10, PriceUSD: 2000, ValueUSD: 20_000,
	}
	gained.EntryPrice0 = &entry

	unpriced := position("p2", 500)

	registry := newRegistry(t,
		&fakeAdapter{protocol: "p1", positions: []types.Position{gained}},
		&fakeAdapter{protocol: "p2", positions: []types.Position{unpriced}},
	)

	agg := New(registry, []types.ChainID{types.ChainEthereum})
	summary, err := agg.FetchAll(context.Background(), "0xowner")
	require.NoError(t, err)

	// Entered at 1000, now 2000, 10 tokens: +10000 USD.
	assert.InDelta(t, 10_000, summary.TotalPnLUSD, 1e-9)
	assert.Equal(t, []string{unpriced.ID}, summary.PnLDegraded,
		"positions without entry prices are excluded and named")
}

func TestFetchAllReturnsNoPositionsSentinel(t *testing.T) {
	registry := newRegistry(t,
		&fakeAdapter{protocol: "p1"},
		&fakeAdapter{protocol: "p2"},
	)

	agg := New(registry, []types.ChainID{types.ChainEthereum})
	_, err := agg.FetchAll(context.Background(), "0xowner")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoPositions))
}

func TestFetchAllFailsWhenEveryAdapterFails(t *testing.T) {
	registry := newRegistry(t,
		&fakeAdapter{protocol: "p1", err: fmt.Errorf("down")},
		&fakeAdapter{protocol: "p2", err: fmt.Errorf("down")},
	)

	agg := New(registry, []types.ChainID{types.ChainEthereum})
	_, err := agg.FetchAll(context.Background(), "0xowner")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoPositions))
}

func TestFetchAllRequiresRegisteredAdapters(t *testing.T) {
	agg := New(adapter.NewRegistry(), []types.ChainID{types.ChainEthereum})
	_, err := agg.FetchAll(context.Background(), "0xowner")
	require.Error(t, err)
}

func TestFetchAllSkipsUnsupportedChains(t *testing.T) {
	registry := newRegistry(t,
		&fakeAdapter{protocol: "p1", positions: []types.Position{position("p1", 50)}},
	)

	agg := New(registry, []types.ChainID{types.ChainPolygon, types.ChainEthereum})
	summary, err := agg.FetchAll(context.Background(), "0xowner")
	require.NoError(t, err)
	// The fake only supports ethereum; polygon contributes no task and no failure.
	assert.Len(t, summary.Positions, 1)
	assert.Empty(t, summary.FailedProtocols)
}
