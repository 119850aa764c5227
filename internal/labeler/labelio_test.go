package labeler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndLoadReturnLabels(t *testing.T) {
	labels := []ReturnLabel{
		{Type: "return", Symbol: "BTCUSDT", EntryTime: 1000, EntryPrice: 100, HorizonMs: 60_000, MidReturnPct: 2.0, ReturnPct: 2.0},
		{Type: "return", Symbol: "ETHUSDT", EntryTime: 2000, EntryPrice: 50, HorizonMs: 60_000, MidReturnPct: -0.4, ReturnPct: -0.4},
	}
	path := filepath.Join(t.TempDir(), "labels", "returns.jsonl")
	require.NoError(t, WriteReturnLabels(path, labels))

	got, stats, err := LoadReturnLabels(path)
	require.NoError(t, err)
	assert.Equal(t, LoadStats{Lines: 2, Labels: 2}, stats)
	assert.Equal(t, labels, got)
}

func TestLoadReturnLabelsSkipsForeignLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "returns.jsonl")
	content := `{"type":"return","symbol":"BTCUSDT","entryTime":1000,"horizonMs":60000}` + "\n" +
		`{"type":"barrier","symbol":"BTCUSDT","entryTime":1000}` + "\n" +
		"\n" +
		"{broken\n" +
		`{"type":"return","entryTime":5}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	labels, stats, err := LoadReturnLabels(path)
	require.NoError(t, err)
	assert.Equal(t, LoadStats{Lines: 4, Labels: 1, Malformed: 3}, stats)
	require.Len(t, labels, 1)
	assert.Equal(t, "BTCUSDT", labels[0].Symbol)
}

func TestWriteAndLoadBarrierLabels(t *testing.T) {
	tp := OutcomeTP
	exitTime := int64(3)
	exitPrice := 101.1
	labels := []BarrierLabel{
		{
			Type: "barrier", Symbol: "BTCUSDT", EntryTime: 1000, EntryPrice: 100,
			HorizonMs: 30_000, TPBps: 12, SLBps: 8, EventType: "aggTrade",
			LabelLong: &tp, ExitTimeLong: &exitTime, ExitPriceLong: &exitPrice,
		},
	}
	path := filepath.Join(t.TempDir(), "barriers.jsonl")
	require.NoError(t, WriteBarrierLabels(path, labels))

	got, stats, err := LoadBarrierLabels(path)
	require.NoError(t, err)
	assert.Equal(t, LoadStats{Lines: 1, Labels: 1}, stats)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].LabelLong)
	assert.Equal(t, OutcomeTP, *got[0].LabelLong)
	assert.Nil(t, got[0].LabelShort)
}

func TestLoadReturnLabelsMissingFile(t *testing.T) {
	_, _, err := LoadReturnLabels(filepath.Join(t.TempDir(), "absent.jsonl"))
	require.Error(t, err)
}
