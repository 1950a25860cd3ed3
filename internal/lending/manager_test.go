package lending

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defi-risk-monitor/internal/types"
)

func lendingPosition(kind types.PositionKind, pool, symbol string, valueUSD float64) types.Position {
	p := types.Position{
		Protocol:    types.ProtocolAaveV3,
		Chain:       types.ChainEthereum,
		PoolAddress: pool,
		Owner:       "0xowner",
		Kind:        kind,
		Token0:      types.TokenAmount{Symbol: symbol, Decimals: 18, Amount: 1, PriceUSD: valueUSD, ValueUSD: valueUSD},
	}
	p.ID = types.PositionID(p.Protocol, p.Chain, pool, p.Owner)
	return p
}

func TestBuildReportEmptyWithoutLendingPositions(t *testing.T) {
	mgr := NewManager(nil)
	report := mgr.BuildReport("0xowner", []types.Position{
		{Kind: types.PositionKindLiquidity},
	}, nil)

	assert.Empty(t, report.Markets)
	assert.Zero(t, report.TotalCollateralUSD)
}

func TestBuildReportBasics(t *testing.T) {
	mgr := NewManager(nil)
	positions := []types.Position{
		lendingPosition(types.PositionKindSupply, "0xweth-market", "WETH", 100_000),
		lendingPosition(types.PositionKindBorrow, "0xweth-market", "WETH", 40_000),
		lendingPosition(types.PositionKindSupply, "0xusdc-market", "USDC", 50_000),
	}
	states := map[string]*types.PoolState{
		"0xweth-market": {BorrowRateAPR: 0.05},
	}

	report := mgr.BuildReport("0xowner", positions, states)

	require.Len(t, report.Markets, 2)
	assert.InDelta(t, 150_000, report.TotalCollateralUSD, 1e-6)
	assert.InDelta(t, 40_000, report.TotalBorrowUSD, 1e-6)
	assert.InDelta(t, 40_000.0/150_000.0, report.Leverage, 1e-9)

	// WETH is 2/3 of collateral.
	assert.InDelta(t, 100_000.0/150_000.0, report.ConcentrationRisk, 1e-9)
	assert.InDelta(t, 0.05, report.WeightedBorrowRateAPR, 1e-9)

	// Health factor of the WETH market: 100k * 0.825 / 40k.
	assert.InDelta(t, 2.0625, report.MinHealthFactor, 1e-9)

	assert.Greater(t, report.ValueAtRiskUSD, 0.0)
	assert.Greater(t, report.ExpectedShortfallUSD, report.ValueAtRiskUSD,
		"expected shortfall exceeds VaR at the same confidence")
	assert.Greater(t, report.DiversificationScore, 0.0)
	assert.Less(t, report.DiversificationScore, 1.0)
}

func TestLiquidationBufferFinite(t *testing.T) {
	mgr := NewManager(nil)
	positions := []types.Position{
		lendingPosition(types.PositionKindSupply, "0xm", "WETH", 50_000),
		lendingPosition(types.PositionKindBorrow, "0xm", "WETH", 40_000),
	}
	states := map[string]*types.PoolState{"0xm": {BorrowRateAPR: 0.10}}

	report := mgr.BuildReport("0xowner", positions, states)

	// Headroom: 50k*0.825 - 40k = 1250 USD, interest 40k*0.10/8760 per hour.
	expected := 1250.0 / (40_000 * 0.10 / 8760)
	assert.InDelta(t, expected, report.LiquidationBufferHours, 1e-6)
}

func TestLiquidationBufferZeroWhenUnderwater(t *testing.T) {
	mgr := NewManager(nil)
	positions := []types.Position{
		lendingPosition(types.PositionKindSupply, "0xm", "WETH", 40_000),
		lendingPosition(types.PositionKindBorrow, "0xm", "WETH", 40_000),
	}
	states := map[string]*types.PoolState{"0xm": {BorrowRateAPR: 0.10}}

	report := mgr.BuildReport("0xowner", positions, states)
	assert.Zero(t, report.LiquidationBufferHours)
}

func TestLiquidationBufferUnboundedWithoutDebt(t *testing.T) {
	mgr := NewManager(nil)
	positions := []types.Position{
		lendingPosition(types.PositionKindSupply, "0xm", "USDC", 10_000),
	}

	report := mgr.BuildReport("0xowner", positions, nil)
	assert.Equal(t, -1.0, report.LiquidationBufferHours)
}

func TestStressScenariosSortedByExpectedSeverity(t *testing.T) {
	mgr := NewManager(nil)
	positions := []types.Position{
		lendingPosition(types.PositionKindSupply, "0xm", "WETH", 100_000),
		lendingPosition(types.PositionKindBorrow, "0xm", "WETH", 60_000),
	}
	states := map[string]*types.PoolState{"0xm": {BorrowRateAPR: 0.08}}

	report := mgr.BuildReport("0xowner", positions, states)
	require.NotEmpty(t, report.StressScenarios)

	for i := 1; i < len(report.StressScenarios); i++ {
		assert.GreaterOrEqual(t,
			report.StressScenarios[i-1].ExpectedSeverity(),
			report.StressScenarios[i].ExpectedSeverity(),
			"scenarios must be sorted worst first")
	}
	for _, s := range report.StressScenarios {
		assert.GreaterOrEqual(t, s.Probability, 0.0)
		assert.LessOrEqual(t, s.Probability, 1.0)
		assert.GreaterOrEqual(t, s.Impact, 0.0)
		assert.LessOrEqual(t, s.Impact, 1.0)
	}
}

func TestUnknownAssetUsesConservativeVolatility(t *testing.T) {
	mgr := NewManager(nil)
	assert.Equal(t, unknownAssetVolatility, mgr.assetVolatility("OBSCURE"))
	assert.Equal(t, 1.0, mgr.correlation("X", "X"))
	assert.Equal(t, defaultCorrelation, mgr.correlation("X", "Y"))
}
