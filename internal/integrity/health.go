package integrity

import (
	"context"
	"sort"
)

// Coverage is the fraction of sampled snapshots carrying one feature
// with a finite value.
type Coverage struct {
	Feature string  `json:"feature"`
	Ratio   float64 `json:"ratio"`
}

// HealthReport summarizes per-feature coverage over the snapshot tail.
type HealthReport struct {
	CheckedAtMs int64  `json:"checkedAtMs"`
	DataDir     string `json:"dataDir"`
	Rows        int    `json:"rows"`
	Files       int    `json:"files"`
	OldestMs    int64  `json:"oldestMs"`
	NewestMs    int64  `json:"newestMs"`
	SymbolsSeen int    `json:"symbolsSeen"`

	ExpectedSymbols int      `json:"expectedSymbols"`
	MissingSymbols  []string `json:"missingSymbols,omitempty"`
	ExtraSymbols    []string `json:"extraSymbols,omitempty"`

	// Coverage is sorted worst-first so the thinnest features lead.
	Coverage       []Coverage `json:"coverage"`
	BelowThreshold []string   `json:"belowThreshold,omitempty"`

	CompletenessSamples int     `json:"completenessSamples"`
	AvgCompleteness     float64 `json:"avgCompleteness"`
	MicroSamples        int     `json:"microSamples"`
	AvgMicro            float64 `json:"avgMicro"`
}

// Health samples the snapshot tail and measures how often each core
// feature is present and finite. Features under MinFeatureCoverage land
// in BelowThreshold.
func (c *Checker) Health(ctx context.Context) (*HealthReport, error) {
	rows, files, err := c.loadRecent(ctx, "snapshots_*.jsonl")
	if err != nil {
		return nil, err
	}
	rows = filterSnapshots(rows)

	rep := &HealthReport{
		CheckedAtMs: c.now().UTC().UnixMilli(),
		DataDir:     c.cfg.DataDir,
		Rows:        len(rows),
		Files:       len(files),
	}
	if len(rows) == 0 {
		return rep, nil
	}

	seen := make(map[string]struct{})
	present := make(map[string]int, len(CoverageFeatures))
	var compSum, microSum float64
	for _, row := range rows {
		if t, ok := rowTime(row); ok {
			if rep.OldestMs == 0 || t < rep.OldestMs {
				rep.OldestMs = t
			}
			if t > rep.NewestMs {
				rep.NewestMs = t
			}
		}
		if sym := rowString(row, "symbol"); sym != "" {
			seen[sym] = struct{}{}
		}
		features, _ := row["features"].(map[string]interface{})
		for _, key := range CoverageFeatures {
			if finiteFeature(features, key) {
				present[key]++
			}
		}
		if v, ok := features["featureCompleteness"].(float64); ok {
			compSum += v
			rep.CompletenessSamples++
		}
		if v, ok := features["microCompleteness"].(float64); ok {
			microSum += v
			rep.MicroSamples++
		}
	}
	rep.SymbolsSeen = len(seen)
	if rep.CompletenessSamples > 0 {
		rep.AvgCompleteness = compSum / float64(rep.CompletenessSamples)
	}
	if rep.MicroSamples > 0 {
		rep.AvgMicro = microSum / float64(rep.MicroSamples)
	}

	rep.Coverage = make([]Coverage, 0, len(CoverageFeatures))
	for _, key := range CoverageFeatures {
		ratio := float64(present[key]) / float64(len(rows))
		rep.Coverage = append(rep.Coverage, Coverage{Feature: key, Ratio: ratio})
		if ratio < c.cfg.MinFeatureCoverage {
			rep.BelowThreshold = append(rep.BelowThreshold, key)
		}
	}
	sort.SliceStable(rep.Coverage, func(i, j int) bool {
		return rep.Coverage[i].Ratio < rep.Coverage[j].Ratio
	})
	sort.Strings(rep.BelowThreshold)

	if c.cfg.SymbolsFile != "" {
		expected, err := LoadSymbols(c.cfg.SymbolsFile)
		if err != nil {
			return nil, err
		}
		rep.ExpectedSymbols = len(expected)
		expectedSet := make(map[string]struct{}, len(expected))
		for _, sym := range expected {
			expectedSet[sym] = struct{}{}
			if _, ok := seen[sym]; !ok {
				rep.MissingSymbols = append(rep.MissingSymbols, sym)
			}
		}
		for sym := range seen {
			if _, ok := expectedSet[sym]; !ok {
				rep.ExtraSymbols = append(rep.ExtraSymbols, sym)
			}
		}
		sort.Strings(rep.MissingSymbols)
		sort.Strings(rep.ExtraSymbols)
	}
	return rep, nil
}
