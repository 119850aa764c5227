package dataset

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/markout/internal/labeler"
	"github.com/sawpanic/markout/internal/store"
)

// labelCodes maps barrier outcomes to classifier classes. SL is the zero
// class so a degenerate always-stopped dataset still trains as binary.
var labelCodes = map[string]int{
	labeler.OutcomeTP:   1,
	labeler.OutcomeSL:   0,
	labeler.OutcomeTime: 2,
}

// BarrierConfig controls barrier-dataset assembly. Side selects which
// outcome column of the label feeds the target; barrier labels carry one
// block per labeled side.
type BarrierConfig struct {
	Side                 string  `yaml:"side"`
	TargetColumn         string  `yaml:"target_column"`
	MinMicroCompleteness float64 `yaml:"min_micro_completeness"`
}

// DefaultBarrierConfig targets the long side into a "target" column.
func DefaultBarrierConfig() BarrierConfig {
	return BarrierConfig{
		Side:                 labeler.SideLong,
		TargetColumn:         "target",
		MinMicroCompleteness: 0.25,
	}
}

// Validate reports fatal configuration problems.
func (c BarrierConfig) Validate() error {
	switch c.Side {
	case labeler.SideLong, labeler.SideShort:
	default:
		return fmt.Errorf("side must be long or short, got %q", c.Side)
	}
	if c.TargetColumn == "" {
		return errors.New("empty target column")
	}
	return nil
}

// BarrierRow is one flat classification row. Features pass through from the
// observation untouched; the barrier path does not attach derived features.
type BarrierRow struct {
	Symbol    string
	EntryTime int64
	HorizonMs int64
	Target    int
	Label     string
	TPBps     float64
	SLBps     float64
	EventType string
	Features  map[string]float64
}

// BarrierBuildStats tallies one assembly pass.
type BarrierBuildStats struct {
	Rows          int `json:"rows"`
	MissingLabels int `json:"missingLabels"`
}

// BarrierBuilder joins observations with barrier labels.
type BarrierBuilder struct {
	cfg    BarrierConfig
	labels map[labelKey]labeler.BarrierLabel
}

// NewBarrierBuilder indexes barrier labels by (symbol, entryTime); the last
// label for a key wins. No usable labels is fatal.
func NewBarrierBuilder(cfg BarrierConfig, labels []labeler.BarrierLabel) (*BarrierBuilder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("barrier dataset config: %w", err)
	}
	index := make(map[labelKey]labeler.BarrierLabel)
	for _, lb := range labels {
		if lb.Type != "barrier" || lb.Symbol == "" {
			continue
		}
		index[labelKey{lb.Symbol, lb.EntryTime}] = lb
	}
	if len(index) == 0 {
		return nil, errors.New("no barrier labels found")
	}
	return &BarrierBuilder{cfg: cfg, labels: index}, nil
}

// Build assembles one row per observation whose label carries an outcome for
// the configured side. Rows whose recorder-attached microCompleteness sits
// below the minimum are dropped; unlike the return path, nothing is
// recomputed here. Rows come back sorted by entry time; producing none is
// an error.
func (b *BarrierBuilder) Build(ctx context.Context, observations []store.Observation) ([]BarrierRow, BarrierBuildStats, error) {
	var stats BarrierBuildStats
	rows := make([]BarrierRow, 0, len(observations))
	for _, obs := range observations {
		if err := ctx.Err(); err != nil {
			return nil, BarrierBuildStats{}, err
		}
		if obs.Symbol == "" {
			continue
		}
		lb, ok := b.labels[labelKey{obs.Symbol, obs.Time}]
		if !ok {
			stats.MissingLabels++
			continue
		}

		var outcome *string
		if b.cfg.Side == labeler.SideLong {
			outcome = lb.LabelLong
		} else {
			outcome = lb.LabelShort
		}
		if outcome == nil {
			continue
		}
		code, known := labelCodes[*outcome]
		if !known {
			continue
		}

		if mc, present := obs.Features["microCompleteness"]; present && isFinite(mc) && mc < b.cfg.MinMicroCompleteness {
			continue
		}

		rows = append(rows, BarrierRow{
			Symbol:    obs.Symbol,
			EntryTime: obs.Time,
			HorizonMs: lb.HorizonMs,
			Target:    code,
			Label:     *outcome,
			TPBps:     lb.TPBps,
			SLBps:     lb.SLBps,
			EventType: lb.EventType,
			Features:  cloneFeatures(obs.Features),
		})
		stats.Rows++
	}

	if len(rows) == 0 {
		return nil, stats, errors.New("no dataset rows were created")
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].EntryTime < rows[j].EntryTime })
	log.Info().
		Int("rows", stats.Rows).
		Int("missing_labels", stats.MissingLabels).
		Msg("barrier dataset assembled")
	return rows, stats, nil
}
