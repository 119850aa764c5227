package recorder

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyEventBookTicker(t *testing.T) {
	state := newBookState()
	state.applyEvent("bookTicker", json.RawMessage(`{"s":"BTCUSDT","b":"100.0","a":"100.5"}`), 1000)

	rows := state.snapshots(5000)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "snapshot", row.Type)
	assert.Equal(t, "BTCUSDT", row.Symbol)
	assert.Equal(t, int64(5000), row.Time)
	assert.InDelta(t, 100.25, row.Price, 1e-9)
	assert.InDelta(t, 100.0, row.Features["bestBid"], 1e-9)
	assert.InDelta(t, 100.5, row.Features["bestAsk"], 1e-9)
	assert.InDelta(t, 0.5/100.25*100, row.Features["spreadPct"], 1e-9)
}

func TestApplyEventMarkPrice(t *testing.T) {
	state := newBookState()
	state.applyEvent("markPriceUpdate", json.RawMessage(`{"s":"ETHUSDT","p":"3000.5","i":"3000.1","r":"0.0001"}`), 1000)

	rows := state.snapshots(5000)
	require.Len(t, rows, 1)

	row := rows[0]
	// No book yet so the mark price carries the snapshot.
	assert.InDelta(t, 3000.5, row.Price, 1e-9)
	assert.InDelta(t, 3000.5, row.Features["markPrice"], 1e-9)
	assert.InDelta(t, 3000.1, row.Features["indexPrice"], 1e-9)
	assert.InDelta(t, 0.0001, row.Features["fundingRate"], 1e-9)
	_, hasSpread := row.Features["spreadPct"]
	assert.False(t, hasSpread)
}

func TestApplyEventAggTradeFallback(t *testing.T) {
	state := newBookState()
	state.applyEvent("aggTrade", json.RawMessage(`{"s":"SOLUSDT","p":"150.25","E":123}`), 1000)

	rows := state.snapshots(5000)
	require.Len(t, rows, 1)
	assert.InDelta(t, 150.25, rows[0].Price, 1e-9)
}

func TestSnapshotOneSidedBook(t *testing.T) {
	state := newBookState()
	state.applyEvent("bookTicker", json.RawMessage(`{"s":"XRPUSDT","b":"0.50","a":"0"}`), 1000)

	rows := state.snapshots(5000)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.InDelta(t, 0.50, row.Price, 1e-9)
	_, hasAsk := row.Features["bestAsk"]
	assert.False(t, hasAsk)
	_, hasSpread := row.Features["spreadPct"]
	assert.False(t, hasSpread)
}

func TestSnapshotSkipsSymbolWithoutPrice(t *testing.T) {
	state := newBookState()
	state.applyEvent("bookTicker", json.RawMessage(`{"s":"DEADUSDT","b":"0","a":"0"}`), 1000)

	assert.Empty(t, state.snapshots(5000))
}

func TestDepthAndOpenInterestFeatures(t *testing.T) {
	state := newBookState()
	state.applyEvent("bookTicker", json.RawMessage(`{"s":"BTCUSDT","b":"100","a":"101"}`), 1000)
	state.applyDepth("BTCUSDT", 12.5, 9.75)
	state.applyOpenInterest("BTCUSDT", 1234.5)

	rows := state.snapshots(5000)
	require.Len(t, rows, 1)

	features := rows[0].Features
	assert.InDelta(t, 12.5, features["depthBidQty"], 1e-9)
	assert.InDelta(t, 9.75, features["depthAskQty"], 1e-9)
	assert.InDelta(t, 1234.5, features["openInterest"], 1e-9)
}

func TestApplyEventIgnoresMalformed(t *testing.T) {
	state := newBookState()
	state.applyEvent("bookTicker", json.RawMessage(`not json`), 1000)
	state.applyEvent("bookTicker", json.RawMessage(`{"b":"100","a":"101"}`), 1000)
	state.applyEvent("unknownType", json.RawMessage(`{"s":"BTCUSDT"}`), 1000)

	assert.Empty(t, state.snapshots(5000))
}

func TestParseNum(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{`"100.5"`, 100.5, true},
		{`42`, 42, true},
		{`"-0.0001"`, -0.0001, true},
		{`null`, 0, false},
		{`""`, 0, false},
		{`"abc"`, 0, false},
		{``, 0, false},
	}
	for _, tc := range cases {
		got, ok := parseNum(json.RawMessage(tc.raw))
		assert.Equal(t, tc.ok, ok, "raw=%s", tc.raw)
		if tc.ok {
			assert.InDelta(t, tc.want, got, 1e-12, "raw=%s", tc.raw)
		}
	}
}
