package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/markout/internal/metrics"
)

func TestEventTypeForStream(t *testing.T) {
	cases := []struct {
		stream string
		want   string
	}{
		{"btcusdt@aggTrade", "aggTrade"},
		{"btcusdt@bookTicker", "bookTicker"},
		{"btcusdt@markPrice", "markPriceUpdate"},
		{"btcusdt@markPrice@1s", "markPriceUpdate"},
		{"btcusdt@depth20@100ms", "depthUpdate"},
		{"btcusdt@kline_1m", ""},
		{"garbage", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, eventTypeForStream(tc.stream), "stream=%s", tc.stream)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig()
	valid.Symbols = []string{"BTCUSDT"}
	require.NoError(t, valid.Validate())

	noSymbols := DefaultConfig()
	noSymbols.Symbols = nil
	assert.Error(t, noSymbols.Validate())

	badStream := valid
	badStream.Streams = []string{"kline_1m"}
	assert.Error(t, badStream.Validate())

	badInterval := valid
	badInterval.SnapshotInterval = 0
	assert.Error(t, badInterval.Validate())
}

func TestStreamPath(t *testing.T) {
	cfg := Config{
		Symbols: []string{"BTCUSDT", "ethusdt"},
		Streams: []string{"aggTrade", "bookTicker"},
	}
	assert.Equal(t,
		"/stream?streams=btcusdt@aggTrade/btcusdt@bookTicker/ethusdt@aggTrade/ethusdt@bookTicker",
		cfg.streamPath())
}

func newTestRecorder(t *testing.T, cfg Config) *Recorder {
	t.Helper()
	rec, err := New(cfg, metrics.New())
	require.NoError(t, err)
	return rec
}

func TestHandleMessageWritesEventAndState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Symbols = []string{"BTCUSDT"}
	cfg.DataDir = t.TempDir()
	rec := newTestRecorder(t, cfg)

	fixed := time.Date(2023, 11, 14, 22, 30, 0, 0, time.UTC)
	rec.now = func() time.Time { return fixed }

	rec.handleMessage([]byte(`{"stream":"btcusdt@bookTicker","data":{"s":"BTCUSDT","b":"100.0","a":"100.5"}}`))
	rec.writeSnapshots()
	rec.closeFiles()

	// The raw event landed with the receive timestamp.
	data, err := os.ReadFile(rec.events["bookTicker"].Path(fixed))
	require.NoError(t, err)
	var ev struct {
		Time int64           `json:"time"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &ev))
	assert.Equal(t, fixed.UnixMilli(), ev.Time)
	assert.Contains(t, string(ev.Data), `"s":"BTCUSDT"`)

	// The snapshot reflects the book state.
	snapData, err := os.ReadFile(rec.snaps.Path(fixed))
	require.NoError(t, err)
	var snap snapshotRow
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(snapData))), &snap))
	assert.Equal(t, "snapshot", snap.Type)
	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.InDelta(t, 100.25, snap.Price, 1e-9)

	// And the stream counter moved.
	counters, err := rec.metrics.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1.0, counters["markout_ws_events_total{stream=bookTicker}"])
}

func TestHandleMessageIgnoresUnknownStreams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Symbols = []string{"BTCUSDT"}
	cfg.DataDir = t.TempDir()
	rec := newTestRecorder(t, cfg)

	rec.handleMessage([]byte(`not json at all`))
	rec.handleMessage([]byte(`{"stream":"btcusdt@kline_1m","data":{}}`))
	rec.closeFiles()

	entries, err := os.ReadDir(cfg.DataDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRESTDepthAndOpenInterest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/fapi/v1/depth"):
			assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
			assert.Equal(t, "20", r.URL.Query().Get("limit"))
			w.Write([]byte(`{"bids":[["100.0","2.5"],["99.9","1.5"]],"asks":[["100.1","3.0"]]}`))
		case strings.HasPrefix(r.URL.Path, "/fapi/v1/openInterest"):
			w.Write([]byte(`{"openInterest":"1234.5","symbol":"BTCUSDT"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := newRESTClient(srv.URL, 100, 100)

	bidQty, askQty, err := client.depth(context.Background(), "BTCUSDT", 20)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, bidQty, 1e-9)
	assert.InDelta(t, 3.0, askQty, 1e-9)

	oi, err := client.openInterest(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 1234.5, oi, 1e-9)
}

func TestRESTBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newRESTClient(srv.URL, 100, 100)

	for i := 0; i < 3; i++ {
		_, _, err := client.depth(context.Background(), "BTCUSDT", 20)
		require.Error(t, err)
	}

	// Circuit is open now: the request never reaches the server.
	_, _, err := client.depth(context.Background(), "BTCUSDT", 20)
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestStreamSessionEndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"stream":"btcusdt@bookTicker","data":{"s":"BTCUSDT","b":"100.0","a":"100.5"}}`))
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"stream":"btcusdt@aggTrade","data":{"s":"BTCUSDT","p":"100.2","E":1}}`))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.WSURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.Symbols = []string{"BTCUSDT"}
	cfg.Streams = []string{"aggTrade", "bookTicker"}
	cfg.DataDir = t.TempDir()
	rec := newTestRecorder(t, cfg)

	// One session: reads both frames and returns on the close frame.
	err := rec.stream(context.Background())
	require.Error(t, err)
	rec.closeFiles()

	for _, eventType := range []string{"bookTicker", "aggTrade"} {
		matches, err := filepath.Glob(filepath.Join(cfg.DataDir, "events_"+eventType+"_*.jsonl"))
		require.NoError(t, err)
		require.Len(t, matches, 1, eventType)

		data, err := os.ReadFile(matches[0])
		require.NoError(t, err, eventType)
		scanner := bufio.NewScanner(strings.NewReader(string(data)))
		lines := 0
		for scanner.Scan() {
			lines++
		}
		assert.Equal(t, 1, lines, eventType)
	}

	rows := rec.state.snapshots(time.Now().UnixMilli())
	require.Len(t, rows, 1)
	assert.InDelta(t, 100.25, rows[0].Price, 1e-9)
}
