package risk

import (
	"math"

	"github.com/defi-risk-monitor/internal/types"
)

// clamp01 bounds a score to [0,1]. NaN collapses to 0.
func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// impermanentLossFromRatio computes IL from the ratio r between the current
// and entry price ratios using the constant-product relation:
//
//	IL = 2*sqrt(r)/(1+r) - 1
//
// The result is <= 0; the returned score is its magnitude.
func impermanentLossFromRatio(r float64) float64 {
	if r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	il := 2*math.Sqrt(r)/(1+r) - 1
	return clamp01(-il)
}

// impermanentLoss scores divergence loss for a two-token position.
// With both entry prices known the loss is exact; otherwise it degrades to a
// heuristic comparing the pool's internal price against the external price
// ratio, which catches pools lagging the market.
func impermanentLoss(p *types.Position, state *types.PoolState) (score float64, degraded bool) {
	if p.Token1 == nil {
		return 0, false // single-asset positions have no divergence loss
	}

	if p.HasEntryPrices() {
		entry0, entry1 := *p.EntryPrice0, *p.EntryPrice1
		if entry0 > 0 && entry1 > 0 && p.Token0.PriceUSD > 0 && p.Token1.PriceUSD > 0 {
			r := (p.Token0.PriceUSD / entry0) / (p.Token1.PriceUSD / entry1)
			return impermanentLossFromRatio(r), false
		}
	}

	if state == nil || state.Price <= 0 || state.Token0PriceUSD <= 0 || state.Token1PriceUSD <= 0 {
		return 0, true
	}
	marketRatio := state.Token0PriceUSD / state.Token1PriceUSD
	r := marketRatio / state.Price
	return impermanentLossFromRatio(r), true
}

// priceImpact scores the position's own footprint in its pool. A pool with
// zero liquidity yields maximum impact.
func priceImpact(p *types.Position, state *types.PoolState) float64 {
	if state == nil {
		return 1.0
	}
	if state.Liquidity <= 0 {
		// Any trade against zero liquidity moves the price entirely.
		return 1.0
	}
	if p.Liquidity > 0 {
		return clamp01(p.Liquidity / state.Liquidity)
	}
	if state.TVLUSD > 0 {
		return clamp01(p.ValueUSD() / state.TVLUSD)
	}
	return 1.0
}

// annualizedVolatility scores the stddev of period returns scaled by
// sqrt(periods per year). An empty series degrades to the neutral value.
func annualizedVolatility(history *types.PriceHistory, periodsPerYear float64) (score float64, degraded bool) {
	if history == nil {
		return neutralVolatility, true
	}
	returns := history.Returns()
	if len(returns) < 2 {
		return neutralVolatility, true
	}
	if periodsPerYear <= 0 {
		periodsPerYear = 365
	}
	return clamp01(stddev(returns) * math.Sqrt(periodsPerYear)), false
}

// correlationRisk maps the Pearson correlation of the two tokens' return
// series into a risk score: perfectly correlated pairs diverge least (risk 0),
// anti-correlated pairs diverge most (risk 1). Fewer than 2 points on either
// side degrades to the neutral value.
func correlationRisk(history0, history1 *types.PriceHistory) (score float64, degraded bool) {
	if history0 == nil || history1 == nil {
		return neutralCorrelationRisk, true
	}
	r0, r1 := history0.Returns(), history1.Returns()
	n := len(r0)
	if len(r1) < n {
		n = len(r1)
	}
	if n < 2 {
		return neutralCorrelationRisk, true
	}
	r0, r1 = r0[:n], r1[:n]

	corr, ok := pearson(r0, r1)
	if !ok {
		return neutralCorrelationRisk, true
	}
	return clamp01((1 - corr) / 2), false
}

// pearson computes the Pearson correlation coefficient of two equal-length
// series. Returns false when either series has zero variance.
func pearson(a, b []float64) (float64, bool) {
	meanA, meanB := mean(a), mean(b)

	var cov, varA, varB float64
	for i := range a {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varA*varB), true
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
