// Package features derives trailing-window context features from auxiliary
// symbols (trend and realized volatility of the majors) for a reference
// timestamp, without ever looking past it.
package features

import (
	"fmt"
	"math"

	"github.com/sawpanic/markout/internal/store"
)

// Config selects the auxiliary symbols, the trailing windows, and how stale
// an auxiliary series may be before its price features are withheld.
type Config struct {
	Symbols   []string `yaml:"symbols"`
	WindowsMs []int64  `yaml:"windows_ms"`
	MaxLagMs  int64    `yaml:"max_lag_ms"`
}

// DefaultConfig returns the stock context setup: the two majors, trailing
// 1/5/15 minute windows, five minutes of allowed staleness.
func DefaultConfig() Config {
	return Config{
		Symbols:   []string{"BTCUSDT", "ETHUSDT"},
		WindowsMs: []int64{60_000, 300_000, 900_000},
		MaxLagMs:  300_000,
	}
}

// Engine computes context features against a read-only snapshot store.
type Engine struct {
	cfg Config
	st  *store.Store
}

// NewEngine creates a context feature engine over the given store.
func NewEngine(cfg Config, st *store.Store) *Engine {
	return &Engine{cfg: cfg, st: st}
}

// Compute returns the context features for one reference timestamp. Per
// auxiliary symbol it emits, preconditions permitting:
//
//	ctx_<SYM>_ageMs       age of the latest observation at or before entryTime
//	ctx_<SYM>_price       its price
//	ctx_<SYM>_trend_<N>m  percent move over each trailing window
//	ctx_<SYM>_vol_<N>m    sample std dev of bar-to-bar returns in the window
//
// A symbol staler than MaxLagMs contributes only the age feature; a stale
// price must not leak as if fresh. A window needs at least 4 points and 3
// usable returns before a volatility value is emitted. Missing context is
// expressed by absence, never by a zero or NaN placeholder.
func (e *Engine) Compute(entryTime int64) map[string]float64 {
	out := make(map[string]float64)
	for _, sym := range e.cfg.Symbols {
		series, ok := e.st.Series(sym)
		if !ok || series.Len() == 0 {
			continue
		}
		idx, ok := series.LastAtOrBefore(entryTime)
		if !ok {
			continue
		}
		end := series.At(idx)
		age := entryTime - end.Time
		out[fmt.Sprintf("ctx_%s_ageMs", sym)] = float64(age)
		if age > e.cfg.MaxLagMs {
			continue
		}
		if !finitePositive(end.Price) {
			continue
		}
		out[fmt.Sprintf("ctx_%s_price", sym)] = end.Price

		for _, windowMs := range e.cfg.WindowsMs {
			label := fmt.Sprintf("%dm", windowMs/60_000)
			startIdx, ok := series.FirstAtOrAfter(entryTime - windowMs)
			if !ok || startIdx > idx {
				continue
			}
			start := series.At(startIdx)
			if !finitePositive(start.Price) {
				continue
			}
			trend := (end.Price - start.Price) / start.Price * 100.0
			out[fmt.Sprintf("ctx_%s_trend_%s", sym, label)] = trend

			if idx-startIdx+1 < 4 {
				continue
			}
			if vol, ok := windowVolatility(series, startIdx, idx); ok {
				out[fmt.Sprintf("ctx_%s_vol_%s", sym, label)] = vol
			}
		}
	}
	return out
}

// windowVolatility computes the Bessel-corrected standard deviation of the
// bar-to-bar percentage returns over series[start..end]. Pairs with a
// non-positive price on either side are dropped; fewer than 3 surviving
// returns make the variance estimate degenerate, so nothing is reported.
func windowVolatility(series *store.SymbolSeries, start, end int) (float64, bool) {
	returns := make([]float64, 0, end-start)
	for i := start + 1; i <= end; i++ {
		prev := series.At(i - 1).Price
		next := series.At(i).Price
		if !(prev > 0 && next > 0) {
			continue
		}
		returns = append(returns, (next-prev)/prev*100.0)
	}
	if len(returns) < 3 {
		return 0, false
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance), true
}

func finitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}
