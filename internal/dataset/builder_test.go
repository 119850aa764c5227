package dataset

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/markout/internal/labeler"
	"github.com/sawpanic/markout/internal/store"
)

func returnLabel(symbol string, entryTime int64, horizonMs int64) labeler.ReturnLabel {
	return labeler.ReturnLabel{
		Type:           "return",
		Symbol:         symbol,
		EntryTime:      entryTime,
		HorizonMs:      horizonMs,
		ReturnPct:      1.0,
		MidReturnPct:   1.2,
		LongReturnPct:  0.9,
		ShortReturnPct: -1.5,
		LagMs:          100,
	}
}

func obs(symbol string, at int64, features map[string]float64) store.Observation {
	return store.Observation{Symbol: symbol, Time: at, Price: 100, Features: features}
}

func TestBuilderJoinsLabelsWithObservations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HorizonMs = 60_000

	labels := []labeler.ReturnLabel{
		returnLabel("BTCUSDT", 1000, 60_000),
		returnLabel("BTCUSDT", 2000, 60_000),
		returnLabel("BTCUSDT", 1500, 300_000), // other horizon, ignored
	}
	b, err := NewBuilder(cfg, nil, labels)
	require.NoError(t, err)

	observations := []store.Observation{
		obs("BTCUSDT", 2000, map[string]float64{"markPrice": 100.5}),
		obs("BTCUSDT", 1000, map[string]float64{"markPrice": 100.1}),
		obs("BTCUSDT", 3000, nil), // no label
	}
	rows, stats, err := b.Build(context.Background(), observations)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Rows)
	assert.Equal(t, 1, stats.MissingLabels)
	require.Len(t, rows, 2)

	// Sorted by entry time regardless of input order.
	assert.Equal(t, int64(1000), rows[0].EntryTime)
	assert.Equal(t, int64(2000), rows[1].EntryTime)

	row := rows[0]
	assert.Equal(t, "BTCUSDT", row.Symbol)
	assert.Equal(t, int64(60_000), row.HorizonMs)
	assert.Equal(t, "longReturnPct", row.TargetField)
	assert.InDelta(t, 0.9, row.Target, 1e-12)
	assert.InDelta(t, 1.0, row.ReturnPct, 1e-12)
	assert.InDelta(t, 100.1, row.Features["markPrice"], 1e-12)
	// ModeAll attaches completeness.
	_, ok := row.Features["microCompleteness"]
	assert.True(t, ok)
}

func TestBuilderTargetFallsBackToReturnPct(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HorizonMs = 60_000
	cfg.TargetField = "longReturnPct"

	lb := returnLabel("BTCUSDT", 1000, 60_000)
	lb.LongReturnPct = math.NaN()
	b, err := NewBuilder(cfg, nil, []labeler.ReturnLabel{lb})
	require.NoError(t, err)

	rows, _, err := b.Build(context.Background(), []store.Observation{obs("BTCUSDT", 1000, nil)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 1.0, rows[0].Target, 1e-12)
}

func TestBuilderMicroModeDropsThinRows(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HorizonMs = 60_000
	cfg.Mode = ModeMicro
	cfg.MinMicroCompleteness = 0.5

	labels := []labeler.ReturnLabel{
		returnLabel("BTCUSDT", 1000, 60_000),
		returnLabel("BTCUSDT", 2000, 60_000),
	}
	b, err := NewBuilder(cfg, nil, labels)
	require.NoError(t, err)

	observations := []store.Observation{
		// All micro keys finite: kept.
		obs("BTCUSDT", 1000, map[string]float64{"bestBid": 100, "bestAsk": 101}),
		// One of four micro keys finite: 0.25 completeness, dropped.
		obs("BTCUSDT", 2000, map[string]float64{
			"bestBid": 100, "bestAsk": math.NaN(), "spreadPct": math.NaN(), "depthBidQty": math.NaN(),
		}),
	}
	rows, stats, err := b.Build(context.Background(), observations)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, stats.SkippedMicro)
	assert.Equal(t, int64(1000), rows[0].EntryTime)
	assert.InDelta(t, 1.0, rows[0].Features["microCompleteness"], 1e-12)
}

func TestBuilderRegimeModeDropsMicroFeatures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HorizonMs = 60_000
	cfg.Mode = ModeRegime

	b, err := NewBuilder(cfg, nil, []labeler.ReturnLabel{returnLabel("BTCUSDT", 1000, 60_000)})
	require.NoError(t, err)

	rows, _, err := b.Build(context.Background(), []store.Observation{
		obs("BTCUSDT", 1000, map[string]float64{
			"bestBid":     100,
			"spreadPct":   0.1,
			"depthBidQty": 5,
			"aggBuyQty":   2,
			"markPrice":   100.5,
			"fundingRate": 0.0001,
		}),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	feats := rows[0].Features
	assert.NotContains(t, feats, "bestBid")
	assert.NotContains(t, feats, "spreadPct")
	assert.NotContains(t, feats, "depthBidQty")
	assert.NotContains(t, feats, "aggBuyQty")
	assert.NotContains(t, feats, "microCompleteness")
	assert.Contains(t, feats, "markPrice")
	assert.Contains(t, feats, "fundingRate")
}

func TestNewBuilderRejectsEmptyLabelSet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HorizonMs = 60_000

	_, err := NewBuilder(cfg, nil, []labeler.ReturnLabel{returnLabel("BTCUSDT", 1000, 300_000)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no return labels")
}

func TestBuilderConfigValidate(t *testing.T) {
	bad := DefaultConfig()
	bad.HorizonMs = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Mode = "everything"
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.TargetField = ""
	assert.Error(t, bad.Validate())
}

func barrierLabelFor(symbol string, entryTime int64, long, short *string) labeler.BarrierLabel {
	return labeler.BarrierLabel{
		Type:       "barrier",
		Symbol:     symbol,
		EntryTime:  entryTime,
		EntryPrice: 100,
		HorizonMs:  300_000,
		TPBps:      50,
		SLBps:      25,
		EventType:  "aggTrade",
		LabelLong:  long,
		LabelShort: short,
	}
}

func strPtr(s string) *string { return &s }

func TestBarrierBuilderLongSide(t *testing.T) {
	labels := []labeler.BarrierLabel{
		barrierLabelFor("BTCUSDT", 1000, strPtr(labeler.OutcomeTP), nil),
		barrierLabelFor("BTCUSDT", 2000, strPtr(labeler.OutcomeSL), nil),
		barrierLabelFor("BTCUSDT", 3000, strPtr(labeler.OutcomeTime), nil),
		barrierLabelFor("BTCUSDT", 4000, nil, strPtr(labeler.OutcomeTP)), // short only, skipped
	}
	b, err := NewBarrierBuilder(DefaultBarrierConfig(), labels)
	require.NoError(t, err)

	observations := []store.Observation{
		obs("BTCUSDT", 1000, nil),
		obs("BTCUSDT", 2000, nil),
		obs("BTCUSDT", 3000, nil),
		obs("BTCUSDT", 4000, nil),
	}
	rows, stats, err := b.Build(context.Background(), observations)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 3, stats.Rows)

	// TP=1, SL=0, TIME=2.
	assert.Equal(t, 1, rows[0].Target)
	assert.Equal(t, labeler.OutcomeTP, rows[0].Label)
	assert.Equal(t, 0, rows[1].Target)
	assert.Equal(t, 2, rows[2].Target)
	assert.Equal(t, int64(300_000), rows[0].HorizonMs)
	assert.InDelta(t, 50.0, rows[0].TPBps, 1e-12)
}

func TestBarrierBuilderShortSide(t *testing.T) {
	cfg := DefaultBarrierConfig()
	cfg.Side = labeler.SideShort

	labels := []labeler.BarrierLabel{
		barrierLabelFor("BTCUSDT", 1000, nil, strPtr(labeler.OutcomeSL)),
	}
	b, err := NewBarrierBuilder(cfg, labels)
	require.NoError(t, err)

	rows, _, err := b.Build(context.Background(), []store.Observation{obs("BTCUSDT", 1000, nil)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0, rows[0].Target)
}

func TestBarrierBuilderHonorsCompletenessGate(t *testing.T) {
	cfg := DefaultBarrierConfig()
	cfg.MinMicroCompleteness = 0.5

	labels := []labeler.BarrierLabel{
		barrierLabelFor("BTCUSDT", 1000, strPtr(labeler.OutcomeTP), nil),
		barrierLabelFor("BTCUSDT", 2000, strPtr(labeler.OutcomeTP), nil),
	}
	b, err := NewBarrierBuilder(cfg, labels)
	require.NoError(t, err)

	rows, _, err := b.Build(context.Background(), []store.Observation{
		obs("BTCUSDT", 1000, map[string]float64{"microCompleteness": 0.25}),
		obs("BTCUSDT", 2000, map[string]float64{"microCompleteness": 0.75}),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2000), rows[0].EntryTime)
}
