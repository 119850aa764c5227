// Package backtest replays model predictions over labeled datasets under a
// non-overlapping position constraint and reduces realized returns to a
// summary. It consumes labels as produced by the labeler; signal generation
// happens upstream and arrives as a plain prediction column.
package backtest

import (
	"math"
	"sort"

	"github.com/rs/zerolog/log"
)

// Trade actions.
const (
	ActionLong  = "long"
	ActionShort = "short"
)

// Config controls signal admission and the cost haircut applied to every
// realized return. Thresholds compare against the raw prediction value; the
// short threshold is applied with flipped sign (pred <= -shortThreshold).
type Config struct {
	LongThreshold  float64 `yaml:"long_threshold"`
	ShortThreshold float64 `yaml:"short_threshold"`
	ExtraCostBps   float64 `yaml:"extra_cost_bps"`
	ShortEnabled   bool    `yaml:"short_enabled"`
}

// DefaultConfig admits every finite prediction on both sides at no extra
// cost.
func DefaultConfig() Config {
	return Config{ShortEnabled: true}
}

// Row is one scored dataset row. Float fields use NaN for "absent": the
// loader fills what the dataset carries and leaves the rest unusable, which
// is exactly how the replay treats them.
type Row struct {
	Symbol         string
	EntryTime      int64
	HorizonMs      int64
	Prediction     float64
	ReturnPct      float64
	LongReturnPct  float64
	ShortReturnPct float64
}

// Trade is one admitted position with its realized outcome.
type Trade struct {
	Symbol      string  `json:"symbol"`
	EntryTime   int64   `json:"entryTime"`
	ExitTime    int64   `json:"exitTime"`
	Action      string  `json:"action"`
	Prediction  float64 `json:"prediction"`
	RealizedPct float64 `json:"realizedPct"`
}

// Simulator replays rows in entry-time order, holding at most one position
// per symbol at a time.
type Simulator struct {
	cfg Config
}

// NewSimulator creates a Simulator.
func NewSimulator(cfg Config) *Simulator {
	return &Simulator{cfg: cfg}
}

// Run sorts the rows by entry time and replays them. A row is skipped when
// it is structurally unusable (empty symbol, non-positive horizon, NaN
// prediction), when the symbol still holds an open position, when neither
// threshold admits the prediction, or when no finite realized return exists
// for the chosen side. Empty input yields an all-zero summary, not an
// error. The input slice is not mutated.
func (s *Simulator) Run(rows []Row) ([]Trade, Summary) {
	ordered := make([]Row, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].EntryTime < ordered[j].EntryTime })

	costPct := s.cfg.ExtraCostBps / 100.0
	lastExit := make(map[string]int64)
	trades := make([]Trade, 0, len(ordered))
	returns := make([]float64, 0, len(ordered))
	skipped := 0

	for _, row := range ordered {
		if row.Symbol == "" || row.HorizonMs <= 0 || !isFinite(row.Prediction) {
			skipped++
			continue
		}
		if exit, open := lastExit[row.Symbol]; open && row.EntryTime < exit {
			skipped++
			continue
		}

		action := ""
		switch {
		case row.Prediction >= s.cfg.LongThreshold:
			action = ActionLong
		case s.cfg.ShortEnabled && row.Prediction <= -s.cfg.ShortThreshold:
			action = ActionShort
		default:
			skipped++
			continue
		}

		realized, ok := selectReturn(row, action)
		if !ok {
			skipped++
			continue
		}
		realized -= costPct

		exitTime := row.EntryTime + row.HorizonMs
		lastExit[row.Symbol] = exitTime
		returns = append(returns, realized)
		trades = append(trades, Trade{
			Symbol:      row.Symbol,
			EntryTime:   row.EntryTime,
			ExitTime:    exitTime,
			Action:      action,
			Prediction:  row.Prediction,
			RealizedPct: realized,
		})
	}

	summary := Summarize(returns)
	log.Info().
		Int("rows", len(rows)).
		Int("trades", len(trades)).
		Int("skipped", skipped).
		Float64("cum_pct", summary.CumPct).
		Msg("backtest replay complete")
	return trades, summary
}

// selectReturn picks the realized return for the chosen side. Longs prefer
// the cost-aware long return and fall back to the mid return; shorts prefer
// the cost-aware short return and fall back to the negated mid return.
func selectReturn(row Row, action string) (float64, bool) {
	if action == ActionLong {
		if isFinite(row.LongReturnPct) {
			return row.LongReturnPct, true
		}
		if isFinite(row.ReturnPct) {
			return row.ReturnPct, true
		}
		return 0, false
	}
	if isFinite(row.ShortReturnPct) {
		return row.ShortReturnPct, true
	}
	if isFinite(row.ReturnPct) {
		return -row.ReturnPct, true
	}
	return 0, false
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
