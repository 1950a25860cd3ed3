// Package lending computes a deeper risk report for lending-market positions
// than the generic per-position calculator: solvency distribution, leverage,
// parametric tail risk and named stress scenarios. It is additive to the
// generic risk score, not a replacement.
package lending

import (
	"math"
	"sort"
	"time"

	"github.com/defi-risk-monitor/internal/logging"
	"github.com/defi-risk-monitor/internal/types"
)

const (
	// varConfidence is the confidence level of the parametric VaR
	varConfidence = 0.95
	// zScore95 is the standard normal quantile at varConfidence
	zScore95 = 1.6449
	// defaultLiquidationThreshold applies when a market does not report one
	defaultLiquidationThreshold = 0.825
	// defaultCorrelation applies to asset pairs missing from the table
	defaultCorrelation = 0.5
	hoursPerYear       = 8760
)

// AssetStats is one row of the per-asset volatility/correlation table
type AssetStats struct {
	// AnnualVolatility is the asset's annualized return volatility.
	AnnualVolatility float64
	// Correlations maps other asset symbols to pairwise correlation.
	Correlations map[string]float64
}

// VolatilityTable maps asset symbols to their statistics
type VolatilityTable map[string]AssetStats

// DefaultVolatilityTable covers the major collateral assets. Unknown assets
// fall back to the table's most conservative entry.
var DefaultVolatilityTable = VolatilityTable{
	"WETH":  {AnnualVolatility: 0.70, Correlations: map[string]float64{"WBTC": 0.80, "USDC": 0.05, "DAI": 0.05, "STETH": 0.95}},
	"WBTC":  {AnnualVolatility: 0.65, Correlations: map[string]float64{"WETH": 0.80, "USDC": 0.05, "DAI": 0.05}},
	"STETH": {AnnualVolatility: 0.72, Correlations: map[string]float64{"WETH": 0.95, "USDC": 0.05}},
	"USDC":  {AnnualVolatility: 0.02, Correlations: map[string]float64{"DAI": 0.90, "USDT": 0.90}},
	"USDT":  {AnnualVolatility: 0.03, Correlations: map[string]float64{"USDC": 0.90, "DAI": 0.85}},
	"DAI":   {AnnualVolatility: 0.02, Correlations: map[string]float64{"USDC": 0.90, "USDT": 0.85}},
}

// unknownAssetVolatility is assumed for assets missing from the table
const unknownAssetVolatility = 0.90

// MarketExposure is one reserve's supply/borrow exposure
type MarketExposure struct {
	Asset                string  `json:"asset"`
	SupplyUSD            float64 `json:"supplyUsd"`
	BorrowUSD            float64 `json:"borrowUsd"`
	BorrowRateAPR        float64 `json:"borrowRateApr"`
	LiquidationThreshold float64 `json:"liquidationThreshold"`
	HealthFactor         float64 `json:"healthFactor"` // 0 when no debt
}

// StressScenario is one named adverse event with its expected severity
type StressScenario struct {
	Name             string  `json:"name"`
	Probability      float64 `json:"probability"` // [0,1]
	Impact           float64 `json:"impact"`      // [0,1]
	EstimatedLossUSD float64 `json:"estimatedLossUsd"`
}

// ExpectedSeverity is the scenario's sort key
func (s StressScenario) ExpectedSeverity() float64 {
	return s.Probability * s.Impact
}

// Report is the full lending risk assessment for one user's markets
type Report struct {
	Owner string `json:"owner"`

	Markets            []MarketExposure `json:"markets"`
	TotalCollateralUSD float64          `json:"totalCollateralUsd"`
	TotalBorrowUSD     float64          `json:"totalBorrowUsd"`

	MinHealthFactor       float64 `json:"minHealthFactor"`
	AvgHealthFactor       float64 `json:"avgHealthFactor"`
	ConcentrationRisk     float64 `json:"concentrationRisk"` // Max single-asset share
	WeightedBorrowRateAPR float64 `json:"weightedBorrowRateApr"`
	Leverage              float64 `json:"leverage"` // Borrow / collateral

	ValueAtRiskUSD       float64 `json:"valueAtRiskUsd"`
	ExpectedShortfallUSD float64 `json:"expectedShortfallUsd"`
	DiversificationScore float64 `json:"diversificationScore"` // [0,1], higher is better

	// LiquidationBufferHours estimates hours until liquidation at current
	// interest accrual, assuming no price movement. Infinite buffers are
	// reported as -1.
	LiquidationBufferHours float64 `json:"liquidationBufferHours"`

	StressScenarios []StressScenario `json:"stressScenarios"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// Manager builds lending risk reports
type Manager struct {
	table  VolatilityTable
	logger *logging.Logger
}

// NewManager creates a manager with the given volatility table, or the
// default table when nil
func NewManager(table VolatilityTable) *Manager {
	if table == nil {
		table = DefaultVolatilityTable
	}
	return &Manager{
		table:  table,
		logger: logging.GetGlobalLogger().WithComponent("lending_risk"),
	}
}

// BuildReport assembles the deep risk report from the user's lending
// positions and their market states, keyed by pool address
func (m *Manager) BuildReport(owner string, positions []types.Position, states map[string]*types.PoolState) *Report {
	report := &Report{
		Owner:       owner,
		GeneratedAt: time.Now().UTC(),
	}

	exposures := m.collectExposures(positions, states)
	if len(exposures) == 0 {
		return report
	}
	report.Markets = exposures

	assetSupply := make(map[string]float64)
	for _, e := range exposures {
		report.TotalCollateralUSD += e.SupplyUSD
		report.TotalBorrowUSD += e.BorrowUSD
		assetSupply[e.Asset] += e.SupplyUSD
	}

	m.computeHealthFactors(report, exposures)
	report.ConcentrationRisk = concentration(assetSupply, report.TotalCollateralUSD)
	report.WeightedBorrowRateAPR = weightedBorrowRate(exposures, report.TotalBorrowUSD)
	if report.TotalCollateralUSD > 0 {
		report.Leverage = report.TotalBorrowUSD / report.TotalCollateralUSD
	}

	sigma := m.portfolioVolatility(assetSupply, report.TotalCollateralUSD)
	report.ValueAtRiskUSD = parametricVaR(report.TotalCollateralUSD, sigma)
	report.ExpectedShortfallUSD = expectedShortfall(report.TotalCollateralUSD, sigma)
	report.DiversificationScore = diversification(assetSupply, report.TotalCollateralUSD)
	report.LiquidationBufferHours = m.liquidationBuffer(report, exposures)
	report.StressScenarios = m.stressScenarios(report)

	return report
}

// collectExposures folds supply and borrow positions into per-market rows
func (m *Manager) collectExposures(positions []types.Position, states map[string]*types.PoolState) []MarketExposure {
	byMarket := make(map[string]*MarketExposure)
	order := make([]string, 0)

	for _, p := range positions {
		if p.Kind != types.PositionKindSupply && p.Kind != types.PositionKindBorrow {
			continue
		}
		key := p.PoolAddress
		e, exists := byMarket[key]
		if !exists {
			e = &MarketExposure{
				Asset:                p.Token0.Symbol,
				LiquidationThreshold: defaultLiquidationThreshold,
			}
			if state, ok := states[p.PoolAddress]; ok && state != nil {
				e.BorrowRateAPR = state.BorrowRateAPR
			}
			byMarket[key] = e
			order = append(order, key)
		}
		switch p.Kind {
		case types.PositionKindSupply:
			e.SupplyUSD += p.ValueUSD()
		case types.PositionKindBorrow:
			e.BorrowUSD += p.ValueUSD()
		}
	}

	exposures := make([]MarketExposure, 0, len(order))
	for _, key := range order {
		e := byMarket[key]
		if e.BorrowUSD > 0 {
			e.HealthFactor = e.SupplyUSD * e.LiquidationThreshold / e.BorrowUSD
		}
		exposures = append(exposures, *e)
	}
	sort.Slice(exposures, func(i, j int) bool { return exposures[i].Asset < exposures[j].Asset })
	return exposures
}

func (m *Manager) computeHealthFactors(report *Report, exposures []MarketExposure) {
	report.MinHealthFactor = math.Inf(1)
	var sum float64
	var count int
	for _, e := range exposures {
		if e.HealthFactor <= 0 {
			continue
		}
		if e.HealthFactor < report.MinHealthFactor {
			report.MinHealthFactor = e.HealthFactor
		}
		sum += e.HealthFactor
		count++
	}
	if count == 0 {
		report.MinHealthFactor = 0
		return
	}
	report.AvgHealthFactor = sum / float64(count)
}

// concentration is the largest single-asset share of collateral
func concentration(assetSupply map[string]float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	var max float64
	for _, v := range assetSupply {
		if share := v / total; share > max {
			max = share
		}
	}
	return max
}

func weightedBorrowRate(exposures []MarketExposure, totalBorrow float64) float64 {
	if totalBorrow <= 0 {
		return 0
	}
	var weighted float64
	for _, e := range exposures {
		weighted += e.BorrowRateAPR * (e.BorrowUSD / totalBorrow)
	}
	return weighted
}

// portfolioVolatility combines per-asset volatilities with pairwise
// correlations into one portfolio sigma
func (m *Manager) portfolioVolatility(assetSupply map[string]float64, total float64) float64 {
	if total <= 0 {
		return 0
	}

	assets := make([]string, 0, len(assetSupply))
	for a := range assetSupply {
		assets = append(assets, a)
	}
	sort.Strings(assets)

	var variance float64
	for _, a := range assets {
		wa := assetSupply[a] / total
		va := m.assetVolatility(a)
		for _, b := range assets {
			wb := assetSupply[b] / total
			vb := m.assetVolatility(b)
			variance += wa * wb * va * vb * m.correlation(a, b)
		}
	}
	if variance < 0 {
		return 0
	}
	return math.Sqrt(variance)
}

func (m *Manager) assetVolatility(symbol string) float64 {
	if stats, ok := m.table[symbol]; ok {
		return stats.AnnualVolatility
	}
	m.logger.WithField("asset", symbol).
		Warn("asset missing from volatility table, assuming conservative volatility")
	return unknownAssetVolatility
}

func (m *Manager) correlation(a, b string) float64 {
	if a == b {
		return 1
	}
	if stats, ok := m.table[a]; ok {
		if corr, ok := stats.Correlations[b]; ok {
			return corr
		}
	}
	if stats, ok := m.table[b]; ok {
		if corr, ok := stats.Correlations[a]; ok {
			return corr
		}
	}
	return defaultCorrelation
}

// parametricVaR is the normal-approximation loss at varConfidence
func parametricVaR(value, sigma float64) float64 {
	return value * sigma * zScore95
}

// expectedShortfall is the average loss beyond the VaR quantile under the
// same normal approximation
func expectedShortfall(value, sigma float64) float64 {
	phi := math.Exp(-zScore95*zScore95/2) / math.Sqrt(2*math.Pi)
	return value * sigma * phi / (1 - varConfidence)
}

// diversification is 1 minus the Herfindahl index of collateral shares
func diversification(assetSupply map[string]float64, total float64) float64 {
	if total <= 0 || len(assetSupply) == 0 {
		return 0
	}
	var hhi float64
	for _, v := range assetSupply {
		share := v / total
		hhi += share * share
	}
	score := 1 - hhi
	if score < 0 {
		return 0
	}
	return score
}

// liquidationBuffer estimates hours until the weakest market liquidates at
// current interest accrual with prices held constant
func (m *Manager) liquidationBuffer(report *Report, exposures []MarketExposure) float64 {
	buffer := math.Inf(1)
	for _, e := range exposures {
		if e.BorrowUSD <= 0 {
			continue
		}
		headroom := e.SupplyUSD*e.LiquidationThreshold - e.BorrowUSD
		if headroom <= 0 {
			return 0
		}
		hourlyInterest := e.BorrowUSD * e.BorrowRateAPR / hoursPerYear
		if hourlyInterest <= 0 {
			continue
		}
		if hours := headroom / hourlyInterest; hours < buffer {
			buffer = hours
		}
	}
	if math.IsInf(buffer, 1) {
		return -1 // no debt accruing interest, no liquidation horizon
	}
	return buffer
}

// stressScenarios generates the named adverse events, sorted by expected
// severity (probability times impact), worst first
func (m *Manager) stressScenarios(report *Report) []StressScenario {
	collateral := report.TotalCollateralUSD

	drop20Impact := 0.0
	if report.Leverage > 0 {
		// A 20% collateral drop hits leveraged books disproportionately.
		drop20Impact = math.Min(1, 0.2*(1+report.Leverage*2))
	} else {
		drop20Impact = 0.2
	}

	rateSpikeImpact := math.Min(1, report.WeightedBorrowRateAPR*3+report.Leverage*0.2)

	oracleImpact := 0.5 + report.ConcentrationRisk*0.3

	scenarios := []StressScenario{
		{
			Name:             "20% collateral price drop",
			Probability:      0.15,
			Impact:           drop20Impact,
			EstimatedLossUSD: collateral * 0.2 * (1 + report.Leverage),
		},
		{
			Name:             "interest rate spike",
			Probability:      0.25,
			Impact:           rateSpikeImpact,
			EstimatedLossUSD: report.TotalBorrowUSD * report.WeightedBorrowRateAPR,
		},
		{
			Name:             "oracle failure",
			Probability:      0.03,
			Impact:           math.Min(1, oracleImpact),
			EstimatedLossUSD: collateral * report.ConcentrationRisk * 0.5,
		},
		{
			Name:             "stablecoin depeg",
			Probability:      0.05,
			Impact:           math.Min(1, 0.3+report.ConcentrationRisk*0.4),
			EstimatedLossUSD: collateral * 0.15,
		},
	}

	sort.Slice(scenarios, func(i, j int) bool {
		return scenarios[i].ExpectedSeverity() > scenarios[j].ExpectedSeverity()
	})
	return scenarios
}
