package risk

import (
	"time"

	"github.com/defi-risk-monitor/internal/types"
)

// The liquidity composite blends four independently scored sub-risks. Each
// sub-risk uses a discrete threshold ladder rather than a continuous curve so
// scores are deterministic and explainable: a reviewer can point at the band
// a pool fell into.

// Probe trade sizes for slippage estimation, in USD
var slippageProbesUSD = []float64{1_000, 10_000, 100_000}

// Internal blend weights of the liquidity composite
const (
	blendTVL         = 0.30
	blendSlippage    = 0.25
	blendThinPool    = 0.15
	blendTVLDrop     = 0.15
	blendPriceImpact = 0.15
)

// Trailing-average windows for TVL-drop scoring
const (
	tvlShortWindow = 24 * time.Hour
	tvlWeekWindow  = 7 * 24 * time.Hour
)

// tvlRiskScore maps TVL to a risk band. Lower TVL, higher risk; bands are
// fixed USD amounts so the score is monotonically non-increasing in TVL.
func tvlRiskScore(tvlUSD float64) float64 {
	switch {
	case tvlUSD < 50_000:
		return 0.95
	case tvlUSD < 250_000:
		return 0.75
	case tvlUSD < 1_000_000:
		return 0.55
	case tvlUSD < 10_000_000:
		return 0.35
	default:
		return 0.15
	}
}

// slippageRiskScore estimates the worst-case price impact of the probe trades
// against current liquidity using a constant-product approximation, then maps
// it to a band. A pool with no liquidity scores the maximum band.
func slippageRiskScore(state *types.PoolState) float64 {
	if state == nil || state.Liquidity <= 0 || state.TVLUSD <= 0 {
		return 1.0
	}

	// One-sided reserve depth under the constant-product model.
	depth := state.TVLUSD / 2

	worst := 0.0
	for _, probe := range slippageProbesUSD {
		slippage := probe / (probe + depth)
		if slippage > worst {
			worst = slippage
		}
	}

	switch {
	case worst > 0.10:
		return 0.90
	case worst > 0.05:
		return 0.70
	case worst > 0.01:
		return 0.50
	case worst > 0.005:
		return 0.30
	default:
		return 0.10
	}
}

// thinPoolRiskScore maps liquidity-per-dollar-of-TVL density to a band.
// A deep TVL with little active liquidity behind it is a thin pool.
func thinPoolRiskScore(state *types.PoolState) float64 {
	if state == nil || state.Liquidity <= 0 || state.TVLUSD <= 0 {
		return 1.0
	}
	density := state.Liquidity / state.TVLUSD
	switch {
	case density >= 1:
		return 0.10
	case density >= 0.1:
		return 0.30
	case density >= 0.01:
		return 0.50
	case density >= 0.001:
		return 0.70
	default:
		return 0.90
	}
}

// tvlDropRiskScore compares current TVL against trailing short-window and
// week-window averages and scores the worse of the two drops. No usable
// history degrades to the lowest band.
func tvlDropRiskScore(current *types.PoolState, history []types.PoolState) (score float64, degraded bool) {
	if current == nil {
		return 0.10, true
	}

	now := current.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	shortAvg := trailingTVLAverage(history, now, tvlShortWindow)
	weekAvg := trailingTVLAverage(history, now, tvlWeekWindow)
	if shortAvg <= 0 && weekAvg <= 0 {
		return 0.10, true
	}

	worstDrop := 0.0
	for _, avg := range []float64{shortAvg, weekAvg} {
		if avg <= 0 {
			continue
		}
		drop := 1 - current.TVLUSD/avg
		if drop > worstDrop {
			worstDrop = drop
		}
	}

	switch {
	case worstDrop > 0.50:
		return 1.0, false
	case worstDrop > 0.30:
		return 0.80, false
	case worstDrop > 0.15:
		return 0.55, false
	case worstDrop > 0.05:
		return 0.30, false
	default:
		return 0.10, false
	}
}

// trailingTVLAverage averages TVL over snapshots within the window before now
func trailingTVLAverage(history []types.PoolState, now time.Time, window time.Duration) float64 {
	cutoff := now.Add(-window)
	var sum float64
	var count int
	for _, s := range history {
		if s.Timestamp.Before(cutoff) || s.Timestamp.After(now) {
			continue
		}
		sum += s.TVLUSD
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// liquidityComposite blends the four ladder scores plus price impact into the
// liquidity component of the overall score
func liquidityComposite(tvl, slippage, thinPool, tvlDrop, impact float64) float64 {
	return clamp01(blendTVL*tvl +
		blendSlippage*slippage +
		blendThinPool*thinPool +
		blendTVLDrop*tvlDrop +
		blendPriceImpact*impact)
}
