// Package labeler attaches realized future outcomes to market observations
// without lookahead bias: horizon returns measured at the nearest
// not-before-target observation, and first-barrier-hit path labels scanned
// over raw tick streams.
package labeler

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/markout/internal/store"
)

// Config controls horizon return labeling. Costs are charged per side on
// both entry and exit; the lag tolerance is a fraction of each horizon.
type Config struct {
	HorizonsMs     []int64 `yaml:"horizons_ms"`
	LagTolerance   float64 `yaml:"lag_tolerance"`
	FeeBps         float64 `yaml:"fee_bps"`
	SlippageBps    float64 `yaml:"slippage_bps"`
	RequireBBO     bool    `yaml:"require_bbo"`
	FundingEnabled bool    `yaml:"funding_enabled"`
}

// DefaultConfig returns the stock labeling setup: 1/5/15 minute horizons,
// 10% lag tolerance, 4 bps fee + 2 bps slippage, funding adjustment on.
func DefaultConfig() Config {
	return Config{
		HorizonsMs:     []int64{60_000, 300_000, 900_000},
		LagTolerance:   0.10,
		FeeBps:         4.0,
		SlippageBps:    2.0,
		RequireBBO:     false,
		FundingEnabled: true,
	}
}

// Validate reports fatal configuration problems. A systematically wrong
// config must abort before any output looks valid.
func (c Config) Validate() error {
	if len(c.HorizonsMs) == 0 {
		return errors.New("no horizons configured")
	}
	for _, h := range c.HorizonsMs {
		if h <= 0 {
			return fmt.Errorf("non-positive horizon %dms", h)
		}
	}
	return nil
}

// Fingerprint hashes the semantic labeling knobs. Configs with equal
// fingerprints produce identical labels for identical input, which is
// what keys the cross-run cache.
func (c Config) Fingerprint() string {
	horizons := append([]int64{}, c.HorizonsMs...)
	sort.Slice(horizons, func(i, j int) bool { return horizons[i] < horizons[j] })
	h := fnv.New64a()
	fmt.Fprintf(h, "h=%v|lag=%.6f|fee=%.4f|slip=%.4f|bbo=%t|funding=%t",
		horizons, c.LagTolerance, c.FeeBps, c.SlippageBps, c.RequireBBO, c.FundingEnabled)
	return fmt.Sprintf("%016x", h.Sum64())
}

// ReturnLabel is one realized-return record for an (observation, horizon)
// pair. Field names are the on-disk contract consumed by dataset assembly.
type ReturnLabel struct {
	Type             string   `json:"type"`
	Symbol           string   `json:"symbol"`
	EntryTime        int64    `json:"entryTime"`
	EntryPrice       float64  `json:"entryPrice"`
	TargetTime       int64    `json:"targetTime"`
	ActualTargetTime int64    `json:"actualTargetTime"`
	LagMs            int64    `json:"lagMs"`
	MaxLagMs         int64    `json:"maxLagMs"`
	EntryBid         float64  `json:"entryBid"`
	EntryAsk         float64  `json:"entryAsk"`
	TargetBid        float64  `json:"targetBid"`
	TargetAsk        float64  `json:"targetAsk"`
	TargetPrice      float64  `json:"targetPrice"`
	HorizonMs        int64    `json:"horizonMs"`
	HorizonMin       float64  `json:"horizonMin"`
	FeeBps           float64  `json:"feeBps"`
	SlippageBps      float64  `json:"slippageBps"`
	CostBpsPerSide   float64  `json:"costBpsPerSide"`
	FundingRate      *float64 `json:"fundingRate"`
	FundingAdjPct    float64  `json:"fundingAdjPct"`
	MidReturnPct     float64  `json:"midReturnPct"`
	LongReturnPct    float64  `json:"longReturnPct"`
	ShortReturnPct   float64  `json:"shortReturnPct"`
	ReturnPct        float64  `json:"returnPct"`
	SnapshotID       string   `json:"snapshotId"`
}

// ReturnStats tallies one labeling pass. Skips are data-completeness facts;
// they never abort a run.
type ReturnStats struct {
	Observations    int `json:"observations"`
	Labels          int `json:"labels"`
	SkipNoTarget    int `json:"skipNoTarget"`
	SkipLag         int `json:"skipLag"`
	SkipNonPositive int `json:"skipNonPositive"`
	SkipMissingBBO  int `json:"skipMissingBBO"`
}

// Add merges another stats block into this one.
func (s *ReturnStats) Add(other ReturnStats) {
	s.Observations += other.Observations
	s.Labels += other.Labels
	s.SkipNoTarget += other.SkipNoTarget
	s.SkipLag += other.SkipLag
	s.SkipNonPositive += other.SkipNonPositive
	s.SkipMissingBBO += other.SkipMissingBBO
}

// Skips returns the total skip count across reasons.
func (s ReturnStats) Skips() int {
	return s.SkipNoTarget + s.SkipLag + s.SkipNonPositive + s.SkipMissingBBO
}

type skipReason int

const (
	skipNone skipReason = iota
	skipNoTarget
	skipLag
	skipNonPositive
	skipMissingBBO
)

func (s *ReturnStats) count(reason skipReason) {
	switch reason {
	case skipNoTarget:
		s.SkipNoTarget++
	case skipLag:
		s.SkipLag++
	case skipNonPositive:
		s.SkipNonPositive++
	case skipMissingBBO:
		s.SkipMissingBBO++
	}
}

const eightHoursMs = 8 * 60 * 60 * 1000

// Memo caches computed labels across runs. Implementations key entries
// on the config fingerprint so any semantic change invalidates them.
type Memo interface {
	Get(ctx context.Context, symbol string, entryTimeMs, horizonMs int64) (ReturnLabel, bool)
	Put(ctx context.Context, label ReturnLabel)
}

// HorizonLabeler computes execution-aware forward returns for every
// (observation, horizon) pair that survives the point-in-time checks.
type HorizonLabeler struct {
	cfg      Config
	horizons []int64
	costBps  float64
	lagTol   float64
	memo     Memo
}

// SetMemo installs a cross-run label cache consulted by LabelStore.
func (l *HorizonLabeler) SetMemo(m Memo) { l.memo = m }

// NewHorizonLabeler validates the config and normalizes it: horizons are
// deduplicated and sorted, negative tolerances and cost sums clamp to zero.
func NewHorizonLabeler(cfg Config) (*HorizonLabeler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("labeler config: %w", err)
	}
	seen := make(map[int64]struct{}, len(cfg.HorizonsMs))
	horizons := make([]int64, 0, len(cfg.HorizonsMs))
	for _, h := range cfg.HorizonsMs {
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		horizons = append(horizons, h)
	}
	sort.Slice(horizons, func(i, j int) bool { return horizons[i] < horizons[j] })

	lagTol := cfg.LagTolerance
	if lagTol < 0 {
		lagTol = 0
	}
	costBps := cfg.FeeBps + cfg.SlippageBps
	if costBps < 0 {
		costBps = 0
	}
	return &HorizonLabeler{cfg: cfg, horizons: horizons, costBps: costBps, lagTol: lagTol}, nil
}

// LabelSeries labels every observation of one symbol series against every
// configured horizon. The series is only read, never mutated.
func (l *HorizonLabeler) LabelSeries(series *store.SymbolSeries) ([]ReturnLabel, ReturnStats) {
	var (
		out   []ReturnLabel
		stats ReturnStats
	)
	costFrac := l.costBps / 10000.0
	for i := 0; i < series.Len(); i++ {
		stats.Observations++
		for _, horizonMs := range l.horizons {
			lb, skip := l.labelAt(series, i, horizonMs, costFrac)
			if skip != skipNone {
				stats.count(skip)
				continue
			}
			out = append(out, lb)
			stats.Labels++
		}
	}
	return out, stats
}

// LabelSeriesMemo is LabelSeries with a cross-run cache in front of the
// computation: hits reuse the stored label, fresh labels are stored
// back. Skipped pairs are never cached, since completeness gates can
// flip once later data lands.
func (l *HorizonLabeler) LabelSeriesMemo(ctx context.Context, series *store.SymbolSeries, memo Memo) ([]ReturnLabel, ReturnStats) {
	if memo == nil {
		return l.LabelSeries(series)
	}
	var (
		out   []ReturnLabel
		stats ReturnStats
	)
	costFrac := l.costBps / 10000.0
	for i := 0; i < series.Len(); i++ {
		entry := series.At(i)
		stats.Observations++
		for _, horizonMs := range l.horizons {
			if lb, ok := memo.Get(ctx, entry.Symbol, entry.Time, horizonMs); ok {
				out = append(out, lb)
				stats.Labels++
				continue
			}
			lb, skip := l.labelAt(series, i, horizonMs, costFrac)
			if skip != skipNone {
				stats.count(skip)
				continue
			}
			memo.Put(ctx, lb)
			out = append(out, lb)
			stats.Labels++
		}
	}
	return out, stats
}

// labelAt computes the label for one (observation, horizon) pair, or
// the gate that rejected it.
func (l *HorizonLabeler) labelAt(series *store.SymbolSeries, i int, horizonMs int64, costFrac float64) (ReturnLabel, skipReason) {
	entry := series.At(i)
	targetTime := entry.Time + horizonMs
	j, ok := series.FirstAtOrAfter(targetTime)
	if !ok {
		return ReturnLabel{}, skipNoTarget
	}
	target := series.At(j)
	lagMs := target.Time - targetTime
	maxLagMs := int64(float64(horizonMs) * l.lagTol)
	if lagMs > maxLagMs {
		return ReturnLabel{}, skipLag
	}
	if entry.Price <= 0 || target.Price <= 0 {
		return ReturnLabel{}, skipNonPositive
	}
	if l.cfg.RequireBBO &&
		(entry.BestBid == nil || entry.BestAsk == nil ||
			target.BestBid == nil || target.BestAsk == nil) {
		return ReturnLabel{}, skipMissingBBO
	}

	entryBid := pickPrice(entry.BestBid, entry.Price)
	entryAsk := pickPrice(entry.BestAsk, entry.Price)
	targetBid := pickPrice(target.BestBid, target.Price)
	targetAsk := pickPrice(target.BestAsk, target.Price)

	midReturnPct := (target.Price - entry.Price) / entry.Price * 100.0

	longEntry := entryAsk * (1.0 + costFrac)
	longExit := targetBid * (1.0 - costFrac)
	longReturnPct := (longExit - longEntry) / longEntry * 100.0

	shortEntry := entryBid * (1.0 - costFrac)
	shortExit := targetAsk * (1.0 + costFrac)
	shortReturnPct := (shortEntry - shortExit) / shortEntry * 100.0

	fundingAdjPct := 0.0
	if l.cfg.FundingEnabled {
		fundingAdjPct = fundingAdjustPct(entry.FundingRate, horizonMs)
	}
	// Long pays positive funding over the holding window; short
	// receives it.
	longReturnPct -= fundingAdjPct
	shortReturnPct += fundingAdjPct

	return ReturnLabel{
		Type:             "return",
		Symbol:           entry.Symbol,
		EntryTime:        entry.Time,
		EntryPrice:       entry.Price,
		TargetTime:       targetTime,
		ActualTargetTime: target.Time,
		LagMs:            lagMs,
		MaxLagMs:         maxLagMs,
		EntryBid:         entryBid,
		EntryAsk:         entryAsk,
		TargetBid:        targetBid,
		TargetAsk:        targetAsk,
		TargetPrice:      target.Price,
		HorizonMs:        horizonMs,
		HorizonMin:       float64(horizonMs) / 60_000.0,
		FeeBps:           l.cfg.FeeBps,
		SlippageBps:      l.cfg.SlippageBps,
		CostBpsPerSide:   l.costBps,
		FundingRate:      entry.FundingRate,
		FundingAdjPct:    fundingAdjPct,
		MidReturnPct:     midReturnPct,
		LongReturnPct:    longReturnPct,
		ShortReturnPct:   shortReturnPct,
		ReturnPct:        midReturnPct,
		SnapshotID:       fmt.Sprintf("snap-%s-%d", entry.Symbol, entry.Time),
	}, skipNone
}

// LabelStore labels every symbol in the store using a bounded worker pool.
// Symbols are independent partitions; time order holds within each. The
// context is honored between partitions only (a symbol is never split)
// and cancellation discards all partial output.
func (l *HorizonLabeler) LabelStore(ctx context.Context, st *store.Store, workers int) ([]ReturnLabel, ReturnStats, error) {
	symbols := st.Symbols()
	if len(symbols) == 0 {
		return nil, ReturnStats{}, errors.New("no observations to label")
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > len(symbols) {
		workers = len(symbols)
	}

	perLabels := make([][]ReturnLabel, len(symbols))
	perStats := make([]ReturnStats, len(symbols))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				series, ok := st.Series(symbols[i])
				if !ok {
					continue
				}
				perLabels[i], perStats[i] = l.LabelSeriesMemo(ctx, series, l.memo)
			}
		}()
	}

	var cancelled error
feed:
	for i := range symbols {
		if err := ctx.Err(); err != nil {
			cancelled = err
			break
		}
		select {
		case <-ctx.Done():
			cancelled = ctx.Err()
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	if cancelled != nil {
		return nil, ReturnStats{}, cancelled
	}

	var (
		out   []ReturnLabel
		stats ReturnStats
	)
	for i := range symbols {
		out = append(out, perLabels[i]...)
		stats.Add(perStats[i])
	}
	log.Info().
		Int("symbols", len(symbols)).
		Int("labels", stats.Labels).
		Int("skips", stats.Skips()).
		Msg("horizon return labeling complete")
	return out, stats, nil
}

// pickPrice prefers a present, positive book price and falls back to the
// snapshot price, so returns degrade to pure mid-price math without a book.
func pickPrice(v *float64, fallback float64) float64 {
	if v != nil && *v > 0 {
		return *v
	}
	return fallback
}

// fundingAdjustPct scales the entry funding rate to the holding window
// against the standard 8h funding interval, in percent.
func fundingAdjustPct(rate *float64, horizonMs int64) float64 {
	if rate == nil {
		return 0.0
	}
	return *rate * (float64(horizonMs) / float64(eightHoursMs)) * 100.0
}
