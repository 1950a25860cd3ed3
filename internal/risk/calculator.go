// Package risk computes bounded, explainable risk scores for DeFi positions.
// The calculator is a pure function of its inputs: every sub-score fails soft
// to a documented fallback, so a missing data point degrades precision but
// never prevents producing an overall score.
package risk

import (
	"context"
	"math"
	"time"

	"github.com/defi-risk-monitor/internal/logging"
	"github.com/defi-risk-monitor/internal/types"
)

// Internal blend weights of the volatility component
const (
	blendVolatility  = 0.60
	blendCorrelation = 0.20
	blendIL          = 0.20
)

// weightSumSlack is how far a profile's weight sum may deviate from 1.0
// before a warning is logged. Deviation is legal either way: weights are
// used exactly as supplied.
const weightSumSlack = 0.05

// Inputs bundles everything one risk calculation consumes. MarketState,
// histories and sub-assessor results may all be missing; only Position is
// required.
type Inputs struct {
	Position         *types.Position
	MarketState      *types.PoolState
	HistoricalStates []types.PoolState // trailing snapshots, oldest first
	History0         *types.PriceHistory
	History1         *types.PriceHistory
	Config           *types.UserRiskConfig // nil uses default weights
}

// Calculator computes RiskMetrics for positions. Sub-assessors are optional
// injected dependencies; a nil assessor takes the documented neutral branch.
type Calculator struct {
	protocolSvc    ProtocolRiskService
	mevSvc         MEVRiskService
	crossChainSvc  CrossChainRiskService
	periodsPerYear float64
	logger         *logging.Logger
}

// Option configures the calculator
type Option func(*Calculator)

// WithProtocolRiskService injects a protocol trust assessor
func WithProtocolRiskService(svc ProtocolRiskService) Option {
	return func(c *Calculator) { c.protocolSvc = svc }
}

// WithMEVRiskService injects an MEV/oracle exposure assessor
func WithMEVRiskService(svc MEVRiskService) Option {
	return func(c *Calculator) { c.mevSvc = svc }
}

// WithCrossChainRiskService injects a cross-chain assessor
func WithCrossChainRiskService(svc CrossChainRiskService) Option {
	return func(c *Calculator) { c.crossChainSvc = svc }
}

// WithPeriodsPerYear sets the annualization factor for volatility
func WithPeriodsPerYear(n float64) Option {
	return func(c *Calculator) {
		if n > 0 {
			c.periodsPerYear = n
		}
	}
}

// NewCalculator creates a calculator with the given options
func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{
		periodsPerYear: 365,
		logger:         logging.GetGlobalLogger().WithComponent("risk_calculator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CalculatePositionRisk computes the full RiskMetrics record for a position.
// A malformed config surfaces as an error since it indicates a configuration
// bug; missing market data never does.
func (c *Calculator) CalculatePositionRisk(ctx context.Context, in Inputs) (*types.RiskMetrics, error) {
	if in.Position == nil {
		return nil, types.NewServiceError("INVALID_INPUT", "position is required")
	}
	if in.Config != nil {
		if err := in.Config.Validate(); err != nil {
			return nil, err
		}
	}

	weights := types.DefaultRiskWeights
	if in.Config != nil {
		weights = in.Config.Weights
	}
	if math.Abs(weights.Sum()-1) > weightSumSlack {
		c.logger.WithFields(map[string]interface{}{
			"sum":      weights.Sum(),
			"position": in.Position.ID,
		}).Warn("risk weights deviate from 1.0, using as supplied")
	}

	m := &types.RiskMetrics{
		PositionID:   in.Position.ID,
		CalculatedAt: time.Now().UTC(),
	}
	degrade := func(source string) {
		m.DegradedSources = append(m.DegradedSources, source)
	}

	var ilDegraded bool
	m.ImpermanentLoss, ilDegraded = impermanentLoss(in.Position, in.MarketState)
	if ilDegraded {
		degrade("impermanent_loss")
	}

	m.PriceImpact = priceImpact(in.Position, in.MarketState)

	var volDegraded bool
	m.Volatility, volDegraded = annualizedVolatility(in.History0, c.periodsPerYear)
	if volDegraded {
		degrade("volatility")
	}

	var corrDegraded bool
	m.Correlation, corrDegraded = correlationRisk(in.History0, in.History1)
	if corrDegraded {
		degrade("correlation")
	}

	var state *types.PoolState
	var tvl float64
	if in.MarketState != nil {
		state = in.MarketState
		tvl = state.TVLUSD
	}
	m.TVLRisk = tvlRiskScore(tvl)
	m.SlippageRisk = slippageRiskScore(state)
	m.ThinPoolRisk = thinPoolRiskScore(state)

	var dropDegraded bool
	m.TVLDropRisk, dropDegraded = tvlDropRiskScore(state, in.HistoricalStates)
	if dropDegraded {
		degrade("tvl_drop")
	}

	m.LiquidityRisk = liquidityComposite(m.TVLRisk, m.SlippageRisk, m.ThinPoolRisk, m.TVLDropRisk, m.PriceImpact)

	m.ProtocolRisk = c.protocolRisk(ctx, in.Position, degrade)
	m.MEVRisk = c.mevRisk(ctx, in.Position, state, degrade)
	m.CrossChainRisk = c.crossChainRisk(ctx, in.Position, state, degrade)

	volatilityComponent := clamp01(blendVolatility*m.Volatility +
		blendCorrelation*m.Correlation +
		blendIL*m.ImpermanentLoss)

	m.OverallRiskScore = clamp01(
		m.LiquidityRisk*weights.Liquidity +
			volatilityComponent*weights.Volatility +
			m.ProtocolRisk*weights.Protocol +
			m.MEVRisk*weights.MEV +
			m.CrossChainRisk*weights.CrossChain)

	return m, nil
}

// protocolRisk delegates to the optional assessor, neutral on absence
func (c *Calculator) protocolRisk(ctx context.Context, p *types.Position, degrade func(string)) float64 {
	if c.protocolSvc == nil {
		degrade("protocol_risk")
		return neutralProtocolRisk
	}
	assessment, err := c.protocolSvc.AssessProtocol(ctx, p.Protocol, p.Chain)
	if err != nil || assessment == nil {
		if err != nil {
			c.logger.WithError(err).WithField("protocol", p.Protocol).
				Warn("protocol assessment failed, using neutral fallback")
		}
		degrade("protocol_risk")
		return neutralProtocolRisk
	}
	return assessment.Composite()
}

// mevRisk delegates to the optional assessor, lower-neutral on absence
func (c *Calculator) mevRisk(ctx context.Context, p *types.Position, state *types.PoolState, degrade func(string)) float64 {
	if c.mevSvc == nil {
		degrade("mev_risk")
		return neutralMEVRisk
	}
	assessment, err := c.mevSvc.AssessPool(ctx, p.Chain, p.PoolAddress, state)
	if err != nil || assessment == nil {
		if err != nil {
			c.logger.WithError(err).WithField("pool", p.PoolAddress).
				Warn("mev assessment failed, using neutral fallback")
		}
		degrade("mev_risk")
		return neutralMEVRisk
	}
	return assessment.Composite()
}

// crossChainRisk returns the fixed baseline for single-chain positions and
// delegates to the optional assessor only for genuinely multi-chain ones
func (c *Calculator) crossChainRisk(ctx context.Context, p *types.Position, state *types.PoolState, degrade func(string)) float64 {
	if !p.IsMultiChain() {
		return singleChainBaseline
	}
	if c.crossChainSvc == nil {
		degrade("cross_chain_risk")
		return singleChainBaseline
	}

	var states []types.PoolState
	if state != nil {
		states = []types.PoolState{*state}
	}
	assessment, err := c.crossChainSvc.Assess(ctx, p.Chain, p.SecondaryChains, states)
	if err != nil || assessment == nil {
		if err != nil {
			c.logger.WithError(err).WithField("position", p.ID).
				Warn("cross-chain assessment failed, using baseline")
		}
		degrade("cross_chain_risk")
		return singleChainBaseline
	}
	return assessment.Composite()
}

// PortfolioRiskScore computes the value-weighted average of per-position
// overall scores. Positions with zero USD value contribute equally-weighted
// when the whole portfolio has no priced value.
func PortfolioRiskScore(positions []types.Position, scores map[string]float64) float64 {
	if len(positions) == 0 {
		return 0
	}

	var totalValue, weighted float64
	for _, p := range positions {
		totalValue += p.ValueUSD()
	}

	if totalValue <= 0 {
		var sum float64
		for _, p := range positions {
			sum += scores[p.ID]
		}
		return clamp01(sum / float64(len(positions)))
	}

	for _, p := range positions {
		weighted += scores[p.ID] * (p.ValueUSD() / totalValue)
	}
	return clamp01(weighted)
}
