package labeler

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/sawpanic/markout/internal/store"
)

func tickStore(t *testing.T, ticks map[string][]store.Tick) *store.TickStore {
	t.Helper()
	ts := store.NewTickStore()
	ts.Ingest(ticks)
	return ts
}

func newBarrierLabeler(t *testing.T, cfg BarrierConfig) *BarrierLabeler {
	t.Helper()
	l, err := NewBarrierLabeler(cfg)
	if err != nil {
		t.Fatalf("NewBarrierLabeler: %v", err)
	}
	return l
}

func TestBarrierFirstHitWins(t *testing.T) {
	cfg := DefaultBarrierConfig()
	cfg.HorizonMs = 30_000
	cfg.TPBps = 100
	cfg.SLBps = 100
	l := newBarrierLabeler(t, cfg)

	ticks := tickStore(t, map[string][]store.Tick{
		"BTCUSDT": {
			{Time: 1_500, Price: 100.2},
			{Time: 2_000, Price: 101.1},
			{Time: 2_500, Price: 98.0},
		},
	})
	series, _ := ticks.Series("BTCUSDT")
	lb := l.LabelObservation(obs("BTCUSDT", 1_000, 100.0), series)

	// Long: TP at 101.0 fires on the 101.1 print before the later drop to
	// 98.0 can reach the stop.
	if lb.LabelLong == nil || *lb.LabelLong != OutcomeTP {
		t.Fatalf("labelLong = %v, want TP", lb.LabelLong)
	}
	if *lb.ExitTimeLong != 2_000 || *lb.ExitPriceLong != 101.1 {
		t.Fatalf("long exit = (%d, %v), want (2000, 101.1)", *lb.ExitTimeLong, *lb.ExitPriceLong)
	}
	// Short: the same print is the stop on the other side.
	if lb.LabelShort == nil || *lb.LabelShort != OutcomeSL {
		t.Fatalf("labelShort = %v, want SL", lb.LabelShort)
	}
	if *lb.ExitTimeShort != 2_000 {
		t.Fatalf("short exit time = %d, want 2000", *lb.ExitTimeShort)
	}
	if lb.SnapshotID != "snap-BTCUSDT-1000" {
		t.Fatalf("snapshotId = %q", lb.SnapshotID)
	}
}

func TestBarrierTimeExit(t *testing.T) {
	cfg := DefaultBarrierConfig()
	cfg.TPBps = 100
	cfg.SLBps = 100
	l := newBarrierLabeler(t, cfg)

	// Prices stay inside both barriers; a wild print one ms past the
	// window must not count.
	ticks := tickStore(t, map[string][]store.Tick{
		"BTCUSDT": {
			{Time: 1_500, Price: 100.5},
			{Time: 31_000, Price: 100.9},
			{Time: 31_001, Price: 105.0},
		},
	})
	series, _ := ticks.Series("BTCUSDT")
	lb := l.LabelObservation(obs("BTCUSDT", 1_000, 100.0), series)

	if *lb.LabelLong != OutcomeTime {
		t.Fatalf("labelLong = %q, want TIME", *lb.LabelLong)
	}
	if *lb.ExitTimeLong != 31_000 || *lb.ExitPriceLong != 100.0 {
		t.Fatalf("TIME exit = (%d, %v), want window end at entry price", *lb.ExitTimeLong, *lb.ExitPriceLong)
	}
}

func TestBarrierBoundaryEquality(t *testing.T) {
	// 2500 bps keeps the barrier levels exact in floating point (75.0 and
	// 125.0), so an exact touch is well defined.
	cfg := DefaultBarrierConfig()
	cfg.Side = SideLong
	cfg.TPBps = 2_500
	cfg.SLBps = 2_500
	l := newBarrierLabeler(t, cfg)

	ticks := tickStore(t, map[string][]store.Tick{
		"BTCUSDT": {{Time: 2_000, Price: 75.0}},
	})
	series, _ := ticks.Series("BTCUSDT")
	lb := l.LabelObservation(obs("BTCUSDT", 1_000, 100.0), series)
	if *lb.LabelLong != OutcomeSL {
		t.Fatalf("labelLong = %q, want SL on exact touch", *lb.LabelLong)
	}

	ticks = tickStore(t, map[string][]store.Tick{
		"BTCUSDT": {{Time: 2_000, Price: 125.0}},
	})
	series, _ = ticks.Series("BTCUSDT")
	lb = l.LabelObservation(obs("BTCUSDT", 1_000, 100.0), series)
	if *lb.LabelLong != OutcomeTP {
		t.Fatalf("labelLong = %q, want TP on exact touch", *lb.LabelLong)
	}
}

func TestBarrierIgnoresTicksBeforeEntry(t *testing.T) {
	cfg := DefaultBarrierConfig()
	cfg.Side = SideLong
	cfg.TPBps = 100
	cfg.SLBps = 100
	l := newBarrierLabeler(t, cfg)

	ticks := tickStore(t, map[string][]store.Tick{
		"BTCUSDT": {
			{Time: 500, Price: 150.0}, // pre-entry, would be TP
			{Time: 1_200, Price: 100.1},
		},
	})
	series, _ := ticks.Series("BTCUSDT")
	lb := l.LabelObservation(obs("BTCUSDT", 1_000, 100.0), series)
	if *lb.LabelLong != OutcomeTime {
		t.Fatalf("labelLong = %q, want TIME (pre-entry print ignored)", *lb.LabelLong)
	}
}

func TestBarrierSingleSideOmitsOther(t *testing.T) {
	cfg := DefaultBarrierConfig()
	cfg.Side = SideLong
	l := newBarrierLabeler(t, cfg)

	ticks := tickStore(t, map[string][]store.Tick{
		"BTCUSDT": {{Time: 1_100, Price: 100.0}},
	})
	series, _ := ticks.Series("BTCUSDT")
	lb := l.LabelObservation(obs("BTCUSDT", 1_000, 100.0), series)
	if lb.LabelLong == nil {
		t.Fatal("labelLong missing")
	}
	if lb.LabelShort != nil || lb.ExitTimeShort != nil || lb.ExitPriceShort != nil {
		t.Fatal("short fields set on a long-only run")
	}

	raw, err := json.Marshal(lb)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "labelShort") {
		t.Fatalf("serialized record leaks short fields: %s", raw)
	}
	if !strings.Contains(string(raw), `"labelLong":"TIME"`) {
		t.Fatalf("serialized record missing long outcome: %s", raw)
	}
}

func TestBarrierLabelAll(t *testing.T) {
	l := newBarrierLabeler(t, DefaultBarrierConfig())
	ticks := tickStore(t, map[string][]store.Tick{
		"BTCUSDT": {{Time: 1_100, Price: 100.0}},
	})
	observations := []store.Observation{
		obs("BTCUSDT", 1_000, 100.0),
		obs("ETHUSDT", 1_500, 200.0), // no events recorded for this symbol
		obs("BTCUSDT", 2_000, 100.0),
	}
	labels, stats, err := l.LabelAll(context.Background(), observations, ticks)
	if err != nil {
		t.Fatalf("LabelAll: %v", err)
	}
	if stats.Snapshots != 3 || stats.Labels != 2 || stats.MissingEvents != 1 {
		t.Fatalf("stats = %+v, want 3/2/1", stats)
	}
	if labels[0].EntryTime != 1_000 || labels[1].EntryTime != 2_000 {
		t.Fatalf("label order = %d,%d, want 1000,2000", labels[0].EntryTime, labels[1].EntryTime)
	}
}

func TestBarrierLabelAllIdempotent(t *testing.T) {
	l := newBarrierLabeler(t, DefaultBarrierConfig())
	ticks := tickStore(t, map[string][]store.Tick{
		"BTCUSDT": {
			{Time: 1_100, Price: 100.3},
			{Time: 2_900, Price: 99.9},
			{Time: 40_000, Price: 101.0},
		},
	})
	observations := []store.Observation{
		obs("BTCUSDT", 1_000, 100.0),
		obs("BTCUSDT", 2_000, 100.1),
	}

	first, firstStats, err := l.LabelAll(context.Background(), observations, ticks)
	if err != nil {
		t.Fatalf("LabelAll: %v", err)
	}
	second, secondStats, err := l.LabelAll(context.Background(), observations, ticks)
	if err != nil {
		t.Fatalf("LabelAll rerun: %v", err)
	}
	if firstStats != secondStats {
		t.Fatalf("stats diverged: %+v vs %+v", firstStats, secondStats)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("relabeling diverged:\n first = %+v\nsecond = %+v", first, second)
	}
}

func TestBarrierLabelAllFatalOnEmptyInputs(t *testing.T) {
	l := newBarrierLabeler(t, DefaultBarrierConfig())
	ticks := tickStore(t, map[string][]store.Tick{
		"BTCUSDT": {{Time: 1_100, Price: 100.0}},
	})
	if _, _, err := l.LabelAll(context.Background(), nil, ticks); err == nil {
		t.Fatal("expected error for empty observations")
	}
	if _, _, err := l.LabelAll(context.Background(), []store.Observation{obs("BTCUSDT", 1, 1)}, store.NewTickStore()); err == nil {
		t.Fatal("expected error for empty tick store")
	}
}

func TestBarrierConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*BarrierConfig)
	}{
		{"zero horizon", func(c *BarrierConfig) { c.HorizonMs = 0 }},
		{"zero tp", func(c *BarrierConfig) { c.TPBps = 0 }},
		{"negative sl", func(c *BarrierConfig) { c.SLBps = -1 }},
		{"bad side", func(c *BarrierConfig) { c.Side = "diagonal" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultBarrierConfig()
			tc.mut(&cfg)
			if _, err := NewBarrierLabeler(cfg); err == nil {
				t.Fatal("expected config error")
			}
		})
	}
}

func TestBarrierShortSideMirrors(t *testing.T) {
	cfg := DefaultBarrierConfig()
	cfg.Side = SideShort
	cfg.TPBps = 50
	cfg.SLBps = 50
	l := newBarrierLabeler(t, cfg)

	// Short profits on the way down: TP at 99.5, stop at 100.5.
	ticks := tickStore(t, map[string][]store.Tick{
		"BTCUSDT": {
			{Time: 1_200, Price: 100.2},
			{Time: 1_400, Price: 99.4},
		},
	})
	series, _ := ticks.Series("BTCUSDT")
	lb := l.LabelObservation(obs("BTCUSDT", 1_000, 100.0), series)
	if *lb.LabelShort != OutcomeTP || *lb.ExitTimeShort != 1_400 {
		t.Fatalf("short = %q@%d, want TP@1400", *lb.LabelShort, *lb.ExitTimeShort)
	}
	if lb.LabelLong != nil {
		t.Fatal("long fields set on a short-only run")
	}
}
