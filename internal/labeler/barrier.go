package labeler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/markout/internal/store"
)

// Barrier outcomes. TP wins ties when both barriers sit inside one tick.
const (
	OutcomeTP   = "TP"
	OutcomeSL   = "SL"
	OutcomeTime = "TIME"
)

// Trade sides for barrier labeling.
const (
	SideLong  = "long"
	SideShort = "short"
	SideBoth  = "both"
)

// BarrierConfig controls first-barrier-hit labeling over tick paths.
type BarrierConfig struct {
	HorizonMs int64   `yaml:"horizon_ms"`
	TPBps     float64 `yaml:"tp_bps"`
	SLBps     float64 `yaml:"sl_bps"`
	Side      string  `yaml:"side"`
	EventType string  `yaml:"event_type"`
}

// DefaultBarrierConfig returns the stock barrier setup: 30s horizon,
// 12 bps take-profit, 8 bps stop-loss, both sides, aggTrade paths.
func DefaultBarrierConfig() BarrierConfig {
	return BarrierConfig{
		HorizonMs: 30_000,
		TPBps:     12.0,
		SLBps:     8.0,
		Side:      SideBoth,
		EventType: "aggTrade",
	}
}

// Validate reports fatal configuration problems.
func (c BarrierConfig) Validate() error {
	if c.HorizonMs <= 0 {
		return fmt.Errorf("non-positive horizon %dms", c.HorizonMs)
	}
	if c.TPBps <= 0 {
		return fmt.Errorf("non-positive take-profit %.2f bps", c.TPBps)
	}
	if c.SLBps <= 0 {
		return fmt.Errorf("non-positive stop-loss %.2f bps", c.SLBps)
	}
	switch c.Side {
	case SideLong, SideShort, SideBoth:
	default:
		return fmt.Errorf("unknown side %q", c.Side)
	}
	return nil
}

// BarrierLabel is one triple-barrier record. Side blocks are pointers so a
// single-side run omits the other side from the serialized record entirely.
type BarrierLabel struct {
	Type       string  `json:"type"`
	Symbol     string  `json:"symbol"`
	EntryTime  int64   `json:"entryTime"`
	EntryPrice float64 `json:"entryPrice"`
	HorizonMs  int64   `json:"horizonMs"`
	TPBps      float64 `json:"tpBps"`
	SLBps      float64 `json:"slBps"`
	EventType  string  `json:"eventType"`
	SnapshotID string  `json:"snapshotId"`

	LabelLong     *string  `json:"labelLong,omitempty"`
	ExitTimeLong  *int64   `json:"exitTimeLong,omitempty"`
	ExitPriceLong *float64 `json:"exitPriceLong,omitempty"`

	LabelShort     *string  `json:"labelShort,omitempty"`
	ExitTimeShort  *int64   `json:"exitTimeShort,omitempty"`
	ExitPriceShort *float64 `json:"exitPriceShort,omitempty"`
}

// BarrierStats tallies one barrier labeling pass.
type BarrierStats struct {
	Snapshots     int `json:"snapshots"`
	Labels        int `json:"labels"`
	MissingEvents int `json:"missingEvents"`
}

// BarrierLabeler classifies each entry as TP, SL, or TIME by scanning the
// symbol's tick path forward from the entry time.
type BarrierLabeler struct {
	cfg BarrierConfig
}

// NewBarrierLabeler validates the config.
func NewBarrierLabeler(cfg BarrierConfig) (*BarrierLabeler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("barrier config: %w", err)
	}
	return &BarrierLabeler{cfg: cfg}, nil
}

// LabelObservation labels a single entry against its symbol's tick series.
// A nil series means the symbol has no events at all; the entry still gets
// a record only when ticks exist, so the caller can tally the miss.
func (l *BarrierLabeler) LabelObservation(obs store.Observation, ticks *store.TickSeries) BarrierLabel {
	label := BarrierLabel{
		Type:       "barrier",
		Symbol:     obs.Symbol,
		EntryTime:  obs.Time,
		EntryPrice: obs.Price,
		HorizonMs:  l.cfg.HorizonMs,
		TPBps:      l.cfg.TPBps,
		SLBps:      l.cfg.SLBps,
		EventType:  l.cfg.EventType,
		SnapshotID: fmt.Sprintf("snap-%s-%d", obs.Symbol, obs.Time),
	}
	if l.cfg.Side == SideLong || l.cfg.Side == SideBoth {
		tp := obs.Price * (1.0 + l.cfg.TPBps/10000.0)
		sl := obs.Price * (1.0 - l.cfg.SLBps/10000.0)
		outcome, exitTime, exitPrice := scanBarriers(ticks, obs.Time, l.cfg.HorizonMs, obs.Price, tp, sl, false)
		label.LabelLong = &outcome
		label.ExitTimeLong = &exitTime
		label.ExitPriceLong = &exitPrice
	}
	if l.cfg.Side == SideShort || l.cfg.Side == SideBoth {
		tp := obs.Price * (1.0 - l.cfg.TPBps/10000.0)
		sl := obs.Price * (1.0 + l.cfg.SLBps/10000.0)
		outcome, exitTime, exitPrice := scanBarriers(ticks, obs.Time, l.cfg.HorizonMs, obs.Price, tp, sl, true)
		label.LabelShort = &outcome
		label.ExitTimeShort = &exitTime
		label.ExitPriceShort = &exitPrice
	}
	return label
}

// LabelAll labels every observation in global time order. Entries whose
// symbol has no tick series still produce a TIME-by-construction record and
// count toward MissingEvents. Both inputs empty is a fatal condition: a run
// with nothing to label is a wiring mistake, not a quiet no-op.
func (l *BarrierLabeler) LabelAll(ctx context.Context, observations []store.Observation, ticks *store.TickStore) ([]BarrierLabel, BarrierStats, error) {
	if len(observations) == 0 {
		return nil, BarrierStats{}, errors.New("no observations to label")
	}
	if ticks == nil || ticks.Len() == 0 {
		return nil, BarrierStats{}, fmt.Errorf("no %s events loaded", l.cfg.EventType)
	}

	out := make([]BarrierLabel, 0, len(observations))
	var stats BarrierStats
	for _, obs := range observations {
		if err := ctx.Err(); err != nil {
			return nil, BarrierStats{}, err
		}
		stats.Snapshots++
		if obs.Symbol == "" || obs.Price <= 0 {
			continue
		}
		series, ok := ticks.Series(obs.Symbol)
		if !ok {
			stats.MissingEvents++
			continue
		}
		out = append(out, l.LabelObservation(obs, series))
		stats.Labels++
	}
	log.Info().
		Int("snapshots", stats.Snapshots).
		Int("labels", stats.Labels).
		Int("missing_events", stats.MissingEvents).
		Msg("barrier labeling complete")
	return out, stats, nil
}

// scanBarriers walks ticks in [entryTime, entryTime+horizonMs] and returns
// the first barrier hit. TP is checked before SL on every tick, so a tick
// crossing both resolves optimistically. No hit inside the window is a TIME
// exit at the window end, priced at entry.
func scanBarriers(series *store.TickSeries, entryTime, horizonMs int64, entryPrice, tpPrice, slPrice float64, short bool) (string, int64, float64) {
	endTime := entryTime + horizonMs
	if series == nil {
		return OutcomeTime, endTime, entryPrice
	}
	i, ok := series.FirstAtOrAfter(entryTime)
	if !ok {
		return OutcomeTime, endTime, entryPrice
	}
	for ; i < series.Len(); i++ {
		tk := series.At(i)
		if tk.Time > endTime {
			break
		}
		if short {
			if tk.Price <= tpPrice {
				return OutcomeTP, tk.Time, tk.Price
			}
			if tk.Price >= slPrice {
				return OutcomeSL, tk.Time, tk.Price
			}
		} else {
			if tk.Price >= tpPrice {
				return OutcomeTP, tk.Time, tk.Price
			}
			if tk.Price <= slPrice {
				return OutcomeSL, tk.Time, tk.Price
			}
		}
	}
	return OutcomeTime, endTime, entryPrice
}
