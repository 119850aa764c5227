// Package dataset joins snapshot features with label outcomes into flat,
// model-ready rows and reads them back for replay. Rows keep the NaN marker
// convention from ingestion: a feature can be present but unusable, and the
// writers render that as null (JSONL) or an empty cell (CSV).
package dataset

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/markout/internal/features"
	"github.com/sawpanic/markout/internal/labeler"
	"github.com/sawpanic/markout/internal/store"
)

// Dataset assembly modes.
const (
	ModeAll    = "all"    // keep everything, attach microCompleteness
	ModeRegime = "regime" // drop microstructure features
	ModeMicro  = "micro"  // drop rows with thin microstructure coverage
)

// Config controls return-dataset assembly.
type Config struct {
	HorizonMs            int64   `yaml:"horizon_ms"`
	Mode                 string  `yaml:"mode"`
	TargetField          string  `yaml:"target_field"`
	MinMicroCompleteness float64 `yaml:"min_micro_completeness"`
}

// DefaultConfig targets the 5 minute horizon with the cost-aware long
// return, keeping all features.
func DefaultConfig() Config {
	return Config{
		HorizonMs:            300_000,
		Mode:                 ModeAll,
		TargetField:          "longReturnPct",
		MinMicroCompleteness: 0.25,
	}
}

// Validate reports fatal configuration problems.
func (c Config) Validate() error {
	if c.HorizonMs <= 0 {
		return fmt.Errorf("non-positive horizon %dms", c.HorizonMs)
	}
	switch c.Mode {
	case ModeAll, ModeRegime, ModeMicro:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.TargetField == "" {
		return errors.New("empty target field")
	}
	return nil
}

// Row is one flat training row: identity and outcome columns plus the merged
// feature map.
type Row struct {
	Symbol         string
	EntryTime      int64
	HorizonMs      int64
	Target         float64
	TargetField    string
	ReturnPct      float64
	MidReturnPct   float64
	LongReturnPct  float64
	ShortReturnPct float64
	LagMs          int64
	Features       map[string]float64
}

// BuildStats tallies one assembly pass.
type BuildStats struct {
	Rows          int `json:"rows"`
	MissingLabels int `json:"missingLabels"`
	SkippedMicro  int `json:"skippedMicro"`
}

type labelKey struct {
	symbol    string
	entryTime int64
}

// Builder joins observations with return labels for a single horizon.
type Builder struct {
	cfg    Config
	engine *features.Engine
	labels map[labelKey]labeler.ReturnLabel
}

// NewBuilder indexes labels for the configured horizon. Labels of other
// horizons or types are ignored; the last label for a key wins. An engine
// may be nil when context features are not wanted. Ending up with no usable
// labels is fatal: the join could only produce an empty dataset.
func NewBuilder(cfg Config, engine *features.Engine, labels []labeler.ReturnLabel) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dataset config: %w", err)
	}
	index := make(map[labelKey]labeler.ReturnLabel)
	for _, lb := range labels {
		if lb.Type != "return" || lb.HorizonMs != cfg.HorizonMs {
			continue
		}
		if lb.Symbol == "" {
			continue
		}
		index[labelKey{lb.Symbol, lb.EntryTime}] = lb
	}
	if len(index) == 0 {
		return nil, fmt.Errorf("no return labels for horizon %dms", cfg.HorizonMs)
	}
	return &Builder{cfg: cfg, engine: engine, labels: index}, nil
}

// Build assembles one row per observation that has a label for the
// configured horizon and a finite target. Context features fill only gaps:
// a finite feature already present on the observation always wins. Rows
// come back sorted by entry time; producing none at all is an error.
func (b *Builder) Build(ctx context.Context, observations []store.Observation) ([]Row, BuildStats, error) {
	var stats BuildStats
	rows := make([]Row, 0, len(observations))
	for _, obs := range observations {
		if err := ctx.Err(); err != nil {
			return nil, BuildStats{}, err
		}
		if obs.Symbol == "" {
			continue
		}
		lb, ok := b.labels[labelKey{obs.Symbol, obs.Time}]
		if !ok {
			stats.MissingLabels++
			continue
		}

		feats := cloneFeatures(obs.Features)
		if b.engine != nil {
			for k, v := range b.engine.Compute(obs.Time) {
				if existing, present := feats[k]; !present || !isFinite(existing) {
					feats[k] = v
				}
			}
		}

		completeness := microCompleteness(feats)
		switch b.cfg.Mode {
		case ModeMicro:
			if completeness < b.cfg.MinMicroCompleteness {
				stats.SkippedMicro++
				continue
			}
			feats["microCompleteness"] = completeness
		case ModeRegime:
			feats = dropMicroFeatures(feats)
		default:
			feats["microCompleteness"] = completeness
		}

		target := labelField(lb, b.cfg.TargetField)
		if !isFinite(target) {
			target = lb.ReturnPct
		}
		if !isFinite(target) {
			continue
		}

		rows = append(rows, Row{
			Symbol:         obs.Symbol,
			EntryTime:      obs.Time,
			HorizonMs:      b.cfg.HorizonMs,
			Target:         target,
			TargetField:    b.cfg.TargetField,
			ReturnPct:      lb.ReturnPct,
			MidReturnPct:   lb.MidReturnPct,
			LongReturnPct:  lb.LongReturnPct,
			ShortReturnPct: lb.ShortReturnPct,
			LagMs:          lb.LagMs,
			Features:       feats,
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
		Int("skipped_micro", stats.SkippedMicro).
		Msg("dataset assembled")
	return rows, stats, nil
}

// labelField resolves a target field name against a label's numeric fields.
// Unknown names come back NaN so the caller falls through to returnPct.
func labelField(lb labeler.ReturnLabel, field string) float64 {
	switch field {
	case "returnPct":
		return lb.ReturnPct
	case "midReturnPct":
		return lb.MidReturnPct
	case "longReturnPct":
		return lb.LongReturnPct
	case "shortReturnPct":
		return lb.ShortReturnPct
	case "fundingAdjPct":
		return lb.FundingAdjPct
	case "entryPrice":
		return lb.EntryPrice
	case "targetPrice":
		return lb.TargetPrice
	default:
		return math.NaN()
	}
}

// Microstructure feature names. Anything here or under the listed prefixes
// counts toward completeness and is stripped in regime mode.
var microFeatureNames = map[string]struct{}{
	"bestBid":           {},
	"bestAsk":           {},
	"spreadPct":         {},
	"imbalance":         {},
	"depthBidQty":       {},
	"depthAskQty":       {},
	"depthImbalance":    {},
	"microCompleteness": {},
}

var microFeaturePrefixes = []string{"depth", "flow", "liq", "agg"}

func isMicroFeature(key string) bool {
	if _, ok := microFeatureNames[key]; ok {
		return true
	}
	for _, prefix := range microFeaturePrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// microCompleteness reuses a finite pre-computed value when the recorder
// already attached one; otherwise it is the finite fraction of the micro
// keys present on the row. No micro keys at all means zero.
func microCompleteness(feats map[string]float64) float64 {
	if existing, ok := feats["microCompleteness"]; ok && isFinite(existing) {
		return existing
	}
	total, finite := 0, 0
	for k, v := range feats {
		if !isMicroFeature(k) {
			continue
		}
		total++
		if isFinite(v) {
			finite++
		}
	}
	if total == 0 {
		return 0.0
	}
	return float64(finite) / float64(total)
}

func dropMicroFeatures(feats map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(feats))
	for k, v := range feats {
		if isMicroFeature(k) {
			continue
		}
		out[k] = v
	}
	return out
}

func cloneFeatures(feats map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(feats)+8)
	for k, v := range feats {
		out[k] = v
	}
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
