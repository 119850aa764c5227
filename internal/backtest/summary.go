package backtest

import (
	"math"
	"sort"
)

// Summary condenses a replay's realized returns. All percentage fields are
// in percent, not fractions; HitRate alone is a 0..1 fraction.
type Summary struct {
	Trades         int     `json:"trades"`
	HitRate        float64 `json:"hitRate"`
	MeanPct        float64 `json:"meanPct"`
	MedianPct      float64 `json:"medianPct"`
	StdPct         float64 `json:"stdPct"`
	SharpeLike     float64 `json:"sharpeLike"`
	CumPct         float64 `json:"cumPct"`
	MaxDrawdownPct float64 `json:"maxDrawdownPct"`
}

// Summarize reduces realized per-trade returns to a Summary. No trades means
// all zeros. The dispersion is the population standard deviation, and
// SharpeLike scales mean/std by sqrt(n) without annualizing; it ranks runs
// against each other rather than against a funding benchmark.
func Summarize(returns []float64) Summary {
	n := len(returns)
	if n == 0 {
		return Summary{}
	}

	var sum, wins float64
	for _, r := range returns {
		sum += r
		if r > 0 {
			wins++
		}
	}
	mean := sum / float64(n)

	var sq float64
	for _, r := range returns {
		d := r - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(n))

	sharpe := 0.0
	if std > 0 {
		sharpe = mean / std * math.Sqrt(float64(n))
	}

	equity := make([]float64, n)
	cum := 0.0
	for i, r := range returns {
		cum += r
		equity[i] = cum
	}

	return Summary{
		Trades:         n,
		HitRate:        wins / float64(n),
		MeanPct:        mean,
		MedianPct:      median(returns),
		StdPct:         std,
		SharpeLike:     sharpe,
		CumPct:         equity[n-1],
		MaxDrawdownPct: maxDrawdown(equity),
	}
}

// median returns the middle value, averaging the two middles for even
// counts. The input is not mutated.
func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2.0
}

// maxDrawdown is the most negative gap between the equity curve and its
// running maximum. It is zero for a curve that never dips below a prior
// peak and always <= 0.
func maxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	runningMax := math.Inf(-1)
	worst := 0.0
	for _, v := range equity {
		if v > runningMax {
			runningMax = v
		}
		if dd := v - runningMax; dd < worst {
			worst = dd
		}
	}
	return worst
}
