package types

import (
	"fmt"
	"time"
)

// RiskTolerance represents a user's named risk appetite
type RiskTolerance string

const (
	// ToleranceConservative weighs liquidity and protocol safety heavily
	ToleranceConservative RiskTolerance = "conservative"
	// ToleranceModerate is the balanced default
	ToleranceModerate RiskTolerance = "moderate"
	// ToleranceAggressive discounts volatility in favor of exposure
	ToleranceAggressive RiskTolerance = "aggressive"
	// ToleranceCustom indicates user-supplied weights
	ToleranceCustom RiskTolerance = "custom"
)

// RiskWeights are the five top-level component weights of the composite score.
// Weights are used exactly as supplied; the calculator never renormalizes them,
// so a profile may deliberately emphasize components beyond a 1.0 sum.
type RiskWeights struct {
	Liquidity  float64 `json:"liquidity"`
	Volatility float64 `json:"volatility"`
	Protocol   float64 `json:"protocol"`
	MEV        float64 `json:"mev"`
	CrossChain float64 `json:"crossChain"`
}

// Sum returns the total of all five weights
func (w RiskWeights) Sum() float64 {
	return w.Liquidity + w.Volatility + w.Protocol + w.MEV + w.CrossChain
}

// DefaultRiskWeights are used when no user config is supplied
var DefaultRiskWeights = RiskWeights{
	Liquidity:  0.30,
	Volatility: 0.25,
	Protocol:   0.20,
	MEV:        0.10,
	CrossChain: 0.15,
}

// UserRiskConfig is a named, user-owned risk profile. Exactly one profile per
// user may be active at a time; inactive profiles are retained but inert.
type UserRiskConfig struct {
	ID        string        `json:"id"`
	UserID    string        `json:"userId"`
	Name      string        `json:"name"`
	Tolerance RiskTolerance `json:"tolerance"`
	Active    bool          `json:"active"`

	Weights RiskWeights `json:"weights"`

	// Per-metric thresholds and tolerances.
	MinTVLUSD            float64       `json:"minTvlUsd"`
	MaxSlippageTolerance float64       `json:"maxSlippageTolerance"` // Fraction, e.g. 0.01 = 1%
	VolatilityLookback   time.Duration `json:"volatilityLookback"`
	MinAuditScore        float64       `json:"minAuditScore"` // [0,1]

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks structural soundness of the profile. Weight sums deviating
// from 1.0 are legal (emphasis is allowed); negative weights are not.
func (c *UserRiskConfig) Validate() error {
	if c.UserID == "" {
		return &ServiceError{Code: "INVALID_RISK_CONFIG", Message: "user id is required"}
	}
	for name, w := range map[string]float64{
		"liquidity":   c.Weights.Liquidity,
		"volatility":  c.Weights.Volatility,
		"protocol":    c.Weights.Protocol,
		"mev":         c.Weights.MEV,
		"cross_chain": c.Weights.CrossChain,
	} {
		if w < 0 {
			return &ServiceError{
				Code:    "INVALID_RISK_CONFIG",
				Message: fmt.Sprintf("weight %s must be non-negative, got %f", name, w),
			}
		}
	}
	if c.MaxSlippageTolerance < 0 || c.MaxSlippageTolerance > 1 {
		return &ServiceError{Code: "INVALID_RISK_CONFIG", Message: "max slippage tolerance must be in [0,1]"}
	}
	if c.MinAuditScore < 0 || c.MinAuditScore > 1 {
		return &ServiceError{Code: "INVALID_RISK_CONFIG", Message: "min audit score must be in [0,1]"}
	}
	return nil
}

// ProfileForTolerance returns the preset weights for a named tolerance level
func ProfileForTolerance(tolerance RiskTolerance) RiskWeights {
	switch tolerance {
	case ToleranceConservative:
		return RiskWeights{Liquidity: 0.35, Volatility: 0.25, Protocol: 0.25, MEV: 0.05, CrossChain: 0.10}
	case ToleranceAggressive:
		return RiskWeights{Liquidity: 0.25, Volatility: 0.15, Protocol: 0.20, MEV: 0.15, CrossChain: 0.25}
	default:
		return DefaultRiskWeights
	}
}

// RiskMetrics holds every bounded sub-score plus the composite overall score.
// All scores are in [0,1]. Computed fresh each monitoring cycle; never
// persisted by the risk engine itself.
type RiskMetrics struct {
	PositionID string `json:"positionId"`

	ImpermanentLoss float64 `json:"impermanentLoss"`
	PriceImpact     float64 `json:"priceImpact"`
	Volatility      float64 `json:"volatility"`
	Correlation     float64 `json:"correlation"`

	// Liquidity composite and its decomposed sub-scores.
	LiquidityRisk float64 `json:"liquidityRisk"`
	TVLRisk       float64 `json:"tvlRisk"`
	SlippageRisk  float64 `json:"slippageRisk"`
	ThinPoolRisk  float64 `json:"thinPoolRisk"`
	TVLDropRisk   float64 `json:"tvlDropRisk"`

	ProtocolRisk   float64 `json:"protocolRisk"`
	MEVRisk        float64 `json:"mevRisk"`
	CrossChainRisk float64 `json:"crossChainRisk"`

	OverallRiskScore float64 `json:"overallRiskScore"`

	// DegradedSources names every sub-score that used a fallback instead of a
	// real assessment (absent sub-assessor, missing entry prices, empty series).
	// A moderate-looking overall score with degraded sources is unassessed,
	// not measured.
	DegradedSources []string `json:"degradedSources,omitempty"`

	CalculatedAt time.Time `json:"calculatedAt"`
}

// MetricValue returns the named sub-score, for threshold evaluation
func (m *RiskMetrics) MetricValue(metric MetricType) (float64, bool) {
	switch metric {
	case MetricImpermanentLoss:
		return m.ImpermanentLoss, true
	case MetricPriceImpact:
		return m.PriceImpact, true
	case MetricVolatility:
		return m.Volatility, true
	case MetricLiquidityRisk:
		return m.LiquidityRisk, true
	case MetricProtocolRisk:
		return m.ProtocolRisk, true
	case MetricMEVRisk:
		return m.MEVRisk, true
	case MetricCrossChainRisk:
		return m.CrossChainRisk, true
	case MetricOverallRisk:
		return m.OverallRiskScore, true
	default:
		return 0, false
	}
}
