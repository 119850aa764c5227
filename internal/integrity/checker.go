package integrity

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Finding severities. Any error finding fails the run.
const (
	SeverityError = "error"
	SeverityWarn  = "warn"
)

// Finding is one failed or suspicious check.
type Finding struct {
	Severity string `json:"severity"`
	Check    string `json:"check"`
	Detail   string `json:"detail"`
}

// SnapshotStats summarizes the sampled snapshot tail.
type SnapshotStats struct {
	Files          int                `json:"files"`
	Rows           int                `json:"rows"`
	OldestMs       int64              `json:"oldestMs"`
	NewestMs       int64              `json:"newestMs"`
	SymbolsSeen    int                `json:"symbolsSeen"`
	MissingFields  int                `json:"missingFields"`
	FeatureMissing map[string]float64 `json:"featureMissing"`
}

// EventStats summarizes the sampled tail of one event type.
type EventStats struct {
	Files    int   `json:"files"`
	Rows     int   `json:"rows"`
	OldestMs int64 `json:"oldestMs"`
	NewestMs int64 `json:"newestMs"`
}

// SymbolLag is the gap between a symbol's newest snapshot and its
// newest event of one type. Positive means events trail snapshots.
type SymbolLag struct {
	Symbol    string `json:"symbol"`
	EventType string `json:"eventType"`
	LagMs     int64  `json:"lagMs"`
}

// Report is the outcome of one integrity run.
type Report struct {
	CheckedAtMs int64                 `json:"checkedAtMs"`
	DataDir     string                `json:"dataDir"`
	Snapshots   SnapshotStats         `json:"snapshots"`
	Events      map[string]EventStats `json:"events"`
	Alignment   []SymbolLag           `json:"alignment,omitempty"`
	Findings    []Finding             `json:"findings"`
}

// OK reports whether the run produced no error findings.
func (r *Report) OK() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			return false
		}
	}
	return true
}

func (r *Report) add(severity, check, format string, args ...interface{}) {
	r.Findings = append(r.Findings, Finding{
		Severity: severity,
		Check:    check,
		Detail:   fmt.Sprintf(format, args...),
	})
}

// Checker runs integrity and health scans over a recording directory.
type Checker struct {
	cfg Config
	now func() time.Time
}

// NewChecker wires a checker over cfg. The wall clock is injectable for
// tests via SetNow.
func NewChecker(cfg Config) *Checker {
	return &Checker{cfg: cfg, now: time.Now}
}

// SetNow overrides the clock used for skew and staleness bounds.
func (c *Checker) SetNow(now func() time.Time) { c.now = now }

// Run samples the newest snapshot and event files and reports findings:
// staleness and future skew against the clock, required snapshot
// fields, event-type coverage, and expected-symbol presence.
func (c *Checker) Run(ctx context.Context) (*Report, error) {
	nowMs := c.now().UTC().UnixMilli()
	rep := &Report{
		CheckedAtMs: nowMs,
		DataDir:     c.cfg.DataDir,
		Events:      make(map[string]EventStats, len(c.cfg.EventTypes)),
	}

	snapshots, files, err := c.loadRecent(ctx, "snapshots_*.jsonl")
	if err != nil {
		return nil, err
	}
	snapshots = filterSnapshots(snapshots)
	c.checkSnapshots(rep, snapshots, files, nowMs)

	eventRows := make(map[string][]map[string]interface{}, len(c.cfg.EventTypes))
	for _, evType := range c.cfg.EventTypes {
		rows, evFiles, err := c.loadRecent(ctx, "events_"+evType+"_*.jsonl")
		if err != nil {
			return nil, err
		}
		eventRows[evType] = rows
		c.checkEvents(rep, evType, rows, evFiles, nowMs)
	}

	if c.cfg.SymbolsFile != "" {
		expected, err := LoadSymbols(c.cfg.SymbolsFile)
		if err != nil {
			return nil, err
		}
		c.checkSymbols(rep, snapshots, expected)
	}

	rep.Alignment = alignment(snapshots, eventRows)
	log.Debug().
		Int("snapshots", rep.Snapshots.Rows).
		Int("findings", len(rep.Findings)).
		Bool("ok", rep.OK()).
		Msg("integrity check complete")
	return rep, nil
}

// loadRecent reads the tail of the newest MaxFiles files matching
// pattern under the data dir.
func (c *Checker) loadRecent(ctx context.Context, pattern string) ([]map[string]interface{}, []string, error) {
	files, err := listFiles(c.cfg.DataDir, pattern)
	if err != nil {
		return nil, nil, fmt.Errorf("list %s: %w", pattern, err)
	}
	files = newestFiles(files, c.cfg.MaxFiles)
	var rows []map[string]interface{}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		lines, err := tailLines(path, c.cfg.LinesPerFile)
		if err != nil {
			return nil, nil, fmt.Errorf("tail %s: %w", path, err)
		}
		rows = append(rows, parseLines(lines)...)
	}
	return rows, files, nil
}

func filterSnapshots(rows []map[string]interface{}) []map[string]interface{} {
	out := rows[:0]
	for _, row := range rows {
		if rowString(row, "type") == "snapshot" {
			out = append(out, row)
		}
	}
	return out
}

func (c *Checker) checkSnapshots(rep *Report, snapshots []map[string]interface{}, files []string, nowMs int64) {
	stats := SnapshotStats{
		Files:          len(files),
		Rows:           len(snapshots),
		FeatureMissing: make(map[string]float64, len(CoreFeatures)),
	}
	if len(snapshots) == 0 {
		rep.Snapshots = stats
		rep.add(SeverityError, "snapshots", "no snapshot rows found under %s", c.cfg.DataDir)
		return
	}

	symbols := make(map[string]struct{})
	missing := make(map[string]int, len(CoreFeatures))
	for _, row := range snapshots {
		if t, ok := rowTime(row); ok {
			if stats.OldestMs == 0 || t < stats.OldestMs {
				stats.OldestMs = t
			}
			if t > stats.NewestMs {
				stats.NewestMs = t
			}
		}
		if sym := rowString(row, "symbol"); sym != "" {
			symbols[sym] = struct{}{}
		}
		for _, key := range RequiredSnapshotFields {
			if _, ok := row[key]; !ok {
				stats.MissingFields++
			}
		}
		features, _ := row["features"].(map[string]interface{})
		for _, key := range CoreFeatures {
			if !finiteFeature(features, key) {
				missing[key]++
			}
		}
	}
	stats.SymbolsSeen = len(symbols)
	for _, key := range CoreFeatures {
		stats.FeatureMissing[key] = float64(missing[key]) / float64(len(snapshots))
	}
	rep.Snapshots = stats

	c.checkFreshness(rep, "snapshots", stats.NewestMs, nowMs)
	if stats.MissingFields > 0 {
		rep.add(SeverityError, "snapshots", "%d missing required fields across %d rows", stats.MissingFields, stats.Rows)
	}
}

func (c *Checker) checkEvents(rep *Report, evType string, rows []map[string]interface{}, files []string, nowMs int64) {
	stats := EventStats{Files: len(files), Rows: len(rows)}
	for _, row := range rows {
		if t, ok := rowTime(row); ok {
			if stats.OldestMs == 0 || t < stats.OldestMs {
				stats.OldestMs = t
			}
			if t > stats.NewestMs {
				stats.NewestMs = t
			}
		}
	}
	rep.Events[evType] = stats
	if len(files) == 0 {
		rep.add(SeverityError, "events/"+evType, "no event files found under %s", c.cfg.DataDir)
		return
	}
	if len(rows) == 0 {
		rep.add(SeverityWarn, "events/"+evType, "files found but no rows (buffering or empty)")
		return
	}
	c.checkFreshness(rep, "events/"+evType, stats.NewestMs, nowMs)
}

func (c *Checker) checkFreshness(rep *Report, check string, newestMs, nowMs int64) {
	if newestMs == 0 {
		rep.add(SeverityWarn, check, "no parseable timestamps")
		return
	}
	if age := float64(nowMs-newestMs) / 1000; age > float64(c.cfg.MaxStaleSec) {
		rep.add(SeverityError, check, "newest record is %.1fs old (max %ds)", age, c.cfg.MaxStaleSec)
	}
	if skew := newestMs - nowMs; skew > int64(c.cfg.MaxFutureSkewSec)*1000 {
		rep.add(SeverityError, check, "newest record is %.1fs in the future (max %ds)", float64(skew)/1000, c.cfg.MaxFutureSkewSec)
	}
}

func (c *Checker) checkSymbols(rep *Report, snapshots []map[string]interface{}, expected []string) {
	if len(expected) == 0 {
		return
	}
	seen := make(map[string]struct{})
	for _, row := range snapshots {
		if sym := rowString(row, "symbol"); sym != "" {
			seen[sym] = struct{}{}
		}
	}
	var missing, extra []string
	for _, sym := range expected {
		if _, ok := seen[sym]; !ok {
			missing = append(missing, sym)
		}
	}
	expectedSet := make(map[string]struct{}, len(expected))
	for _, sym := range expected {
		expectedSet[sym] = struct{}{}
	}
	for sym := range seen {
		if _, ok := expectedSet[sym]; !ok {
			extra = append(extra, sym)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	if len(missing) > 0 {
		sample := missing
		if len(sample) > 10 {
			sample = sample[:10]
		}
		rep.add(SeverityError, "symbols", "%d of %d expected symbols absent: %s",
			len(missing), len(expected), strings.Join(sample, ", "))
	}
	if len(extra) > 0 {
		rep.add(SeverityWarn, "symbols", "%d symbols recorded outside the expected universe", len(extra))
	}
}

// alignment samples up to five symbols and measures, per event type,
// how far the newest event trails the newest snapshot.
func alignment(snapshots []map[string]interface{}, events map[string][]map[string]interface{}) []SymbolLag {
	latestSnap := make(map[string]int64)
	for _, row := range snapshots {
		sym := rowString(row, "symbol")
		if sym == "" {
			continue
		}
		if t, ok := rowTime(row); ok && t > latestSnap[sym] {
			latestSnap[sym] = t
		}
	}
	symbols := make([]string, 0, len(latestSnap))
	for sym := range latestSnap {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	if len(symbols) > 5 {
		symbols = symbols[:5]
	}

	var out []SymbolLag
	evTypes := make([]string, 0, len(events))
	for evType := range events {
		evTypes = append(evTypes, evType)
	}
	sort.Strings(evTypes)
	for _, sym := range symbols {
		for _, evType := range evTypes {
			var latest int64
			for _, row := range events[evType] {
				data, _ := row["data"].(map[string]interface{})
				if data == nil || rowString(data, "s") != sym {
					continue
				}
				if t, ok := rowTime(row); ok && t > latest {
					latest = t
				}
			}
			if latest == 0 {
				continue
			}
			out = append(out, SymbolLag{Symbol: sym, EventType: evType, LagMs: latestSnap[sym] - latest})
		}
	}
	return out
}

func finiteFeature(features map[string]interface{}, key string) bool {
	v, ok := features[key]
	if !ok {
		return false
	}
	f, ok := v.(float64)
	if !ok {
		return false
	}
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
