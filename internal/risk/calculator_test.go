package risk

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defi-risk-monitor/internal/types"
)

func floatPtr(v float64) *float64 { return &v }

func testPosition() *types.Position {
	return &types.Position{
		ID:          types.PositionID(types.ProtocolUniswapV3, types.ChainEthereum, "0xpool", "0xowner"),
		Protocol:    types.ProtocolUniswapV3,
		Chain:       types.ChainEthereum,
		PoolAddress: "0xpool",
		Owner:       "0xowner",
		Kind:        types.PositionKindLiquidity,
		Token0: types.TokenAmount{
			Address: "0xtoken0", Symbol: "WETH", Decimals: 18,
			Amount: 10, PriceUSD: 2000, ValueUSD: 20000,
		},
		Token1: &types.TokenAmount{
			Address: "0xtoken1", Symbol: "USDC", Decimals: 6,
			Amount: 20000, PriceUSD: 1, ValueUSD: 20000,
		},
		Liquidity: 1000,
	}
}

func testPoolState() *types.PoolState {
	return &types.PoolState{
		PoolAddress:    "0xpool",
		Chain:          types.ChainEthereum,
		Price:          2000,
		Token0PriceUSD: 2000,
		Token1PriceUSD: 1,
		Liquidity:      1_000_000,
		TVLUSD:         50_000_000,
		Timestamp:      time.Now().UTC(),
	}
}

func TestCalculatePositionRiskRequiresPosition(t *testing.T) {
	calc := NewCalculator()
	_, err := calc.CalculatePositionRisk(context.Background(), Inputs{})
	require.Error(t, err)
}

func TestCalculatePositionRiskSurfacesBadConfig(t *testing.T) {
	calc := NewCalculator()
	cfg := &types.UserRiskConfig{
		UserID:  "user-1",
		Weights: types.RiskWeights{Liquidity: -0.5},
	}
	_, err := calc.CalculatePositionRisk(context.Background(), Inputs{
		Position: testPosition(),
		Config:   cfg,
	})
	require.Error(t, err)
}

func TestImpermanentLossZeroWithoutPriceMovement(t *testing.T) {
	p := testPosition()
	p.EntryPrice0 = floatPtr(2000)
	p.EntryPrice1 = floatPtr(1)

	score, degraded := impermanentLoss(p, testPoolState())
	assert.False(t, degraded)
	assert.InDelta(t, 0, score, 1e-12)
}

func TestImpermanentLossExactForKnownDivergence(t *testing.T) {
	p := testPosition()
	p.EntryPrice0 = floatPtr(1000)
	p.EntryPrice1 = floatPtr(1)
	// Price ratio quadrupled: r=4, IL = 2*2/5 - 1 = -0.2.
	p.Token0.PriceUSD = 4000

	score, degraded := impermanentLoss(p, testPoolState())
	assert.False(t, degraded)
	assert.InDelta(t, 0.2, score, 1e-9)
}

func TestImpermanentLossDegradesWithoutEntryPrices(t *testing.T) {
	p := testPosition()
	state := testPoolState()

	score, degraded := impermanentLoss(p, state)
	assert.True(t, degraded)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestImpermanentLossZeroForSingleAsset(t *testing.T) {
	p := testPosition()
	p.Token1 = nil
	score, degraded := impermanentLoss(p, testPoolState())
	assert.False(t, degraded)
	assert.Zero(t, score)
}

func TestPriceImpactZeroLiquidityIsMax(t *testing.T) {
	p := testPosition()
	state := testPoolState()
	state.Liquidity = 0

	assert.Equal(t, 1.0, priceImpact(p, state))
	assert.Equal(t, 1.0, priceImpact(p, nil))
}

func TestPriceImpactCappedAtOne(t *testing.T) {
	p := testPosition()
	p.Liquidity = 5_000_000
	state := testPoolState()
	state.Liquidity = 1_000_000

	assert.Equal(t, 1.0, priceImpact(p, state))
}

func TestTVLRiskMonotonicAcrossBands(t *testing.T) {
	tvls := []float64{10_000, 100_000, 500_000, 5_000_000, 100_000_000}
	prev := 1.1
	for _, tvl := range tvls {
		score := tvlRiskScore(tvl)
		assert.LessOrEqual(t, score, prev, "tvl %f should not raise risk", tvl)
		prev = score
	}
	assert.Greater(t, tvlRiskScore(30_000), tvlRiskScore(5_000_000))
}

func TestZeroLiquidityPoolScoresMaxSlippageAndThinPool(t *testing.T) {
	state := testPoolState()
	state.Liquidity = 0

	assert.Equal(t, 1.0, slippageRiskScore(state))
	assert.Equal(t, 1.0, thinPoolRiskScore(state))
}

func TestTVLDropCriticalBeyondHalf(t *testing.T) {
	now := time.Now().UTC()
	current := testPoolState()
	current.TVLUSD = 4_000_000
	current.Timestamp = now

	history := []types.PoolState{
		{TVLUSD: 10_000_000, Timestamp: now.Add(-6 * time.Hour)},
		{TVLUSD: 10_000_000, Timestamp: now.Add(-12 * time.Hour)},
	}

	score, degraded := tvlDropRiskScore(current, history)
	assert.False(t, degraded)
	assert.Equal(t, 1.0, score)
}

func TestWeightIsolationVolatilityOnly(t *testing.T) {
	calc := NewCalculator()
	cfg := &types.UserRiskConfig{
		UserID:  "user-1",
		Weights: types.RiskWeights{Volatility: 1},
	}

	in := Inputs{
		Position:    testPosition(),
		MarketState: testPoolState(),
		Config:      cfg,
	}
	m, err := calc.CalculatePositionRisk(context.Background(), in)
	require.NoError(t, err)

	expected := clamp01(blendVolatility*m.Volatility +
		blendCorrelation*m.Correlation +
		blendIL*m.ImpermanentLoss)
	assert.InDelta(t, expected, m.OverallRiskScore, 1e-12)
}

func TestProtocolRiskDefaultsToNeutralWithoutService(t *testing.T) {
	calc := NewCalculator()
	m, err := calc.CalculatePositionRisk(context.Background(), Inputs{
		Position:    testPosition(),
		MarketState: testPoolState(),
	})
	require.NoError(t, err)
	assert.Equal(t, neutralProtocolRisk, m.ProtocolRisk)
	assert.Equal(t, neutralMEVRisk, m.MEVRisk)
	assert.Contains(t, m.DegradedSources, "protocol_risk")
	assert.Contains(t, m.DegradedSources, "mev_risk")
}

func TestSingleChainPositionGetsBaselineWithoutAssessorCall(t *testing.T) {
	calc := NewCalculator(WithCrossChainRiskService(panicCrossChain{}))
	m, err := calc.CalculatePositionRisk(context.Background(), Inputs{
		Position:    testPosition(),
		MarketState: testPoolState(),
	})
	require.NoError(t, err)
	assert.Equal(t, singleChainBaseline, m.CrossChainRisk)
}

type panicCrossChain struct{}

func (panicCrossChain) Assess(ctx context.Context, primary types.ChainID, secondary []types.ChainID, states []types.PoolState) (*CrossChainAssessment, error) {
	panic("must not be invoked for single-chain positions")
}

type stubProtocolService struct {
	assessment ProtocolAssessment
}

func (s stubProtocolService) AssessProtocol(ctx context.Context, protocol types.ProtocolID, chain types.ChainID) (*ProtocolAssessment, error) {
	return &s.assessment, nil
}

func TestProtocolServiceResultIsUsed(t *testing.T) {
	svc := stubProtocolService{assessment: ProtocolAssessment{AuditRisk: 1, ExploitHistoryRisk: 1, GovernanceRisk: 1}}
	calc := NewCalculator(WithProtocolRiskService(svc))

	m, err := calc.CalculatePositionRisk(context.Background(), Inputs{
		Position:    testPosition(),
		MarketState: testPoolState(),
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, m.ProtocolRisk, 1e-12)
	assert.NotContains(t, m.DegradedSources, "protocol_risk")
}

func TestCorrelationNeutralUnderTwoPoints(t *testing.T) {
	h := &types.PriceHistory{Points: []types.PricePoint{{PriceUSD: 1}}}
	score, degraded := correlationRisk(h, h)
	assert.True(t, degraded)
	assert.Equal(t, neutralCorrelationRisk, score)
}

func TestAnnualizedVolatilityOfFlatSeriesIsZero(t *testing.T) {
	points := make([]types.PricePoint, 10)
	for i := range points {
		points[i] = types.PricePoint{Timestamp: time.Now().Add(time.Duration(i) * time.Hour), PriceUSD: 100}
	}
	score, degraded := annualizedVolatility(&types.PriceHistory{Points: points}, 365)
	assert.False(t, degraded)
	assert.Zero(t, score)
}

// All sub-scores and the overall score stay in [0,1] for arbitrary inputs.
func TestRiskScoresAlwaysBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	calc := NewCalculator()

	properties.Property("scores bounded in [0,1]", prop.ForAll(
		func(posLiquidity, poolLiquidity, tvl, price0, price1, entry0, entry1 float64, hasEntry bool) bool {
			p := testPosition()
			p.Liquidity = posLiquidity
			p.Token0.PriceUSD = price0
			if p.Token1 != nil {
				p.Token1.PriceUSD = price1
			}
			if hasEntry {
				p.EntryPrice0 = floatPtr(entry0)
				p.EntryPrice1 = floatPtr(entry1)
			}
			state := &types.PoolState{
				Liquidity:      poolLiquidity,
				TVLUSD:         tvl,
				Price:          price0,
				Token0PriceUSD: price0,
				Token1PriceUSD: price1,
				Timestamp:      time.Now().UTC(),
			}

			m, err := calc.CalculatePositionRisk(context.Background(), Inputs{
				Position:    p,
				MarketState: state,
			})
			if err != nil {
				return false
			}

			scores := []float64{
				m.ImpermanentLoss, m.PriceImpact, m.Volatility, m.Correlation,
				m.LiquidityRisk, m.TVLRisk, m.SlippageRisk, m.ThinPoolRisk, m.TVLDropRisk,
				m.ProtocolRisk, m.MEVRisk, m.CrossChainRisk, m.OverallRiskScore,
			}
			for _, s := range scores {
				if s < 0 || s > 1 {
					return false
				}
			}
			return true
		},
		gen.Float64Range(0, 1e12),
		gen.Float64Range(0, 1e12),
		gen.Float64Range(0, 1e12),
		gen.Float64Range(0, 1e9),
		gen.Float64Range(0, 1e9),
		gen.Float64Range(0, 1e9),
		gen.Float64Range(0, 1e9),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
