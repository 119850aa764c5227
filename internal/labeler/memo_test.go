package labeler

import (
	"context"
	"fmt"
	"testing"
)

// mapMemo is an in-test Memo that records traffic.
type mapMemo struct {
	entries map[string]ReturnLabel
	gets    int
	puts    int
}

func newMapMemo() *mapMemo {
	return &mapMemo{entries: make(map[string]ReturnLabel)}
}

func memoKey(symbol string, entryTime, horizonMs int64) string {
	return fmt.Sprintf("%s:%d:%d", symbol, entryTime, horizonMs)
}

func (m *mapMemo) Get(_ context.Context, symbol string, entryTime, horizonMs int64) (ReturnLabel, bool) {
	m.gets++
	lb, ok := m.entries[memoKey(symbol, entryTime, horizonMs)]
	return lb, ok
}

func (m *mapMemo) Put(_ context.Context, lb ReturnLabel) {
	m.puts++
	m.entries[memoKey(lb.Symbol, lb.EntryTime, lb.HorizonMs)] = lb
}

func TestLabelSeriesMemoStoresAndReuses(t *testing.T) {
	cfg := Config{HorizonsMs: []int64{1000}, LagTolerance: 0.10}
	l := newLabeler(t, cfg)
	series := seriesOf(t,
		obs("BTCUSDT", 0, 100),
		obs("BTCUSDT", 1000, 110),
		obs("BTCUSDT", 2000, 120),
	)

	memo := newMapMemo()
	first, stats := l.LabelSeriesMemo(context.Background(), series, memo)
	if stats.Labels != 2 {
		t.Fatalf("labels = %d, want 2", stats.Labels)
	}
	if memo.puts != 2 {
		t.Errorf("puts = %d, want 2", memo.puts)
	}

	// Second run: everything served from the memo, nothing re-stored.
	putsBefore := memo.puts
	second, stats2 := l.LabelSeriesMemo(context.Background(), series, memo)
	if stats2.Labels != 2 {
		t.Fatalf("second run labels = %d, want 2", stats2.Labels)
	}
	if memo.puts != putsBefore {
		t.Errorf("cached run should not Put, puts went %d -> %d", putsBefore, memo.puts)
	}
	for i := range first {
		if second[i] != first[i] {
			t.Errorf("label %d changed across cached runs:\n%+v\n%+v", i, first[i], second[i])
		}
	}
}

func TestLabelSeriesMemoSkipsNotCached(t *testing.T) {
	cfg := Config{HorizonsMs: []int64{1000}, LagTolerance: 0.10}
	l := newLabeler(t, cfg)
	// Single observation: the horizon target is missing, so the pair skips.
	series := seriesOf(t, obs("BTCUSDT", 0, 100))

	memo := newMapMemo()
	_, stats := l.LabelSeriesMemo(context.Background(), series, memo)
	if stats.SkipNoTarget != 1 {
		t.Fatalf("skipNoTarget = %d, want 1", stats.SkipNoTarget)
	}
	if memo.puts != 0 || len(memo.entries) != 0 {
		t.Errorf("skips must not be cached: puts=%d entries=%d", memo.puts, len(memo.entries))
	}
}

func TestLabelSeriesMemoNilFallsBack(t *testing.T) {
	cfg := Config{HorizonsMs: []int64{1000}, LagTolerance: 0.10}
	l := newLabeler(t, cfg)
	series := seriesOf(t,
		obs("BTCUSDT", 0, 100),
		obs("BTCUSDT", 1000, 110),
	)
	withMemo, statsMemo := l.LabelSeriesMemo(context.Background(), series, nil)
	plain, statsPlain := l.LabelSeries(series)
	if len(withMemo) != len(plain) || statsMemo != statsPlain {
		t.Errorf("nil memo must match LabelSeries: %d/%d labels", len(withMemo), len(plain))
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base := DefaultConfig()
	same := DefaultConfig()
	if base.Fingerprint() != same.Fingerprint() {
		t.Error("identical configs must share a fingerprint")
	}

	// Horizon order must not matter.
	reordered := DefaultConfig()
	reordered.HorizonsMs = []int64{900_000, 60_000, 300_000}
	if base.Fingerprint() != reordered.Fingerprint() {
		t.Error("horizon order must not change the fingerprint")
	}

	variants := []Config{}
	feeBump := DefaultConfig()
	feeBump.FeeBps = 5.0
	variants = append(variants, feeBump)
	lagBump := DefaultConfig()
	lagBump.LagTolerance = 0.2
	variants = append(variants, lagBump)
	noFunding := DefaultConfig()
	noFunding.FundingEnabled = false
	variants = append(variants, noFunding)
	extraHorizon := DefaultConfig()
	extraHorizon.HorizonsMs = append(extraHorizon.HorizonsMs, 1_800_000)
	variants = append(variants, extraHorizon)

	for i, v := range variants {
		if v.Fingerprint() == base.Fingerprint() {
			t.Errorf("variant %d should change the fingerprint", i)
		}
	}
}
