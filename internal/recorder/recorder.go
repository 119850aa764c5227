// Package recorder captures live exchange streams into the hourly
// JSONL files the labeling pipeline consumes: one events file per
// stream type plus periodic per-symbol snapshots assembled from the
// latest book and mark state.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/markout/internal/metrics"
)

const readTimeout = 30 * time.Second

// Config drives one capture session.
type Config struct {
	WSURL            string        `yaml:"ws_url"`
	RESTURL          string        `yaml:"rest_url"`
	Symbols          []string      `yaml:"symbols"`
	Streams          []string      `yaml:"streams"`
	DataDir          string        `yaml:"data_dir"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	DepthInterval    time.Duration `yaml:"depth_interval"`
	DepthLimit       int           `yaml:"depth_limit"`
	RESTRPS          float64       `yaml:"rest_rps"`
	RESTBurst        int           `yaml:"rest_burst"`
}

// DefaultConfig targets the Binance USDT-margined futures endpoints,
// capturing the two majors until a config names a symbol set.
func DefaultConfig() Config {
	return Config{
		WSURL:            "wss://fstream.binance.com",
		RESTURL:          "https://fapi.binance.com",
		Symbols:          []string{"BTCUSDT", "ETHUSDT"},
		Streams:          []string{"aggTrade", "bookTicker", "markPrice"},
		DataDir:          "data",
		SnapshotInterval: 5 * time.Second,
		DepthInterval:    60 * time.Second,
		DepthLimit:       20,
		RESTRPS:          5,
		RESTBurst:        10,
	}
}

// Validate rejects configs that cannot record anything.
func (c Config) Validate() error {
	if c.WSURL == "" || c.RESTURL == "" {
		return fmt.Errorf("recorder: ws_url and rest_url are required")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("recorder: at least one symbol is required")
	}
	if len(c.Streams) == 0 {
		return fmt.Errorf("recorder: at least one stream is required")
	}
	for _, stream := range c.Streams {
		if eventTypeForSuffix(stream) == "" {
			return fmt.Errorf("recorder: unsupported stream %q", stream)
		}
	}
	if c.SnapshotInterval <= 0 || c.DepthInterval <= 0 {
		return fmt.Errorf("recorder: intervals must be positive")
	}
	if c.DepthLimit <= 0 {
		return fmt.Errorf("recorder: depth_limit must be positive")
	}
	return nil
}

// streamPath builds the combined-stream query for every symbol.
func (c Config) streamPath() string {
	parts := make([]string, 0, len(c.Symbols)*len(c.Streams))
	for _, symbol := range c.Symbols {
		for _, stream := range c.Streams {
			parts = append(parts, strings.ToLower(symbol)+"@"+stream)
		}
	}
	return "/stream?streams=" + strings.Join(parts, "/")
}

// eventTypeForSuffix maps a stream suffix to the event type used in
// file names and event payloads.
func eventTypeForSuffix(suffix string) string {
	switch {
	case suffix == "aggTrade":
		return "aggTrade"
	case suffix == "bookTicker":
		return "bookTicker"
	case strings.HasPrefix(suffix, "markPrice"):
		return "markPriceUpdate"
	case strings.HasPrefix(suffix, "depth"):
		return "depthUpdate"
	}
	return ""
}

func eventTypeForStream(stream string) string {
	parts := strings.SplitN(stream, "@", 2)
	if len(parts) != 2 {
		return ""
	}
	return eventTypeForSuffix(parts[1])
}

// eventLine is the persisted shape: receive time plus the raw payload.
type eventLine struct {
	Time int64           `json:"time"`
	Data json.RawMessage `json:"data"`
}

// Recorder owns one websocket session plus the snapshot and depth
// tickers feeding the JSONL files.
type Recorder struct {
	cfg     Config
	metrics *metrics.Registry
	state   *bookState
	rest    *restClient
	events  map[string]*rotatingFile
	snaps   *rotatingFile
	now     func() time.Time
}

// New validates the config and prepares the output files.
func New(cfg Config, m *metrics.Registry) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	events := make(map[string]*rotatingFile)
	for _, stream := range cfg.Streams {
		et := eventTypeForSuffix(stream)
		if _, ok := events[et]; !ok {
			events[et] = newRotatingFile(cfg.DataDir, "events_"+et)
		}
	}
	return &Recorder{
		cfg:     cfg,
		metrics: m,
		state:   newBookState(),
		rest:    newRESTClient(cfg.RESTURL, cfg.RESTRPS, cfg.RESTBurst),
		events:  events,
		snaps:   newRotatingFile(cfg.DataDir, "snapshots"),
		now:     time.Now,
	}, nil
}

// Run records until the context ends. Websocket drops reconnect with
// exponential backoff capped at thirty seconds.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.closeFiles()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.snapshotLoop(ctx)
	}()
	depthDone := make(chan struct{})
	go func() {
		defer close(depthDone)
		r.depthLoop(ctx)
	}()

	backoff := time.Second
	for {
		start := r.now()
		err := r.stream(ctx)
		if ctx.Err() != nil {
			<-done
			<-depthDone
			return nil
		}
		if time.Since(start) > 30*time.Second {
			backoff = time.Second
		}
		log.Warn().Err(err).Dur("backoff", backoff).Msg("stream closed, reconnecting")
		r.metrics.RecordWSReconnect()

		select {
		case <-ctx.Done():
			<-done
			<-depthDone
			return nil
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

// stream runs one websocket session until the connection drops.
func (r *Recorder) stream(ctx context.Context) error {
	wsURL := r.cfg.WSURL + r.cfg.streamPath()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", r.cfg.WSURL, err)
	}
	defer conn.Close()
	log.Info().
		Int("symbols", len(r.cfg.Symbols)).
		Strs("streams", r.cfg.Streams).
		Msg("stream connected")

	// Unblock ReadMessage when the context ends.
	closed := make(chan struct{})
	defer close(closed)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-closed:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		r.handleMessage(msg)
	}
}

// handleMessage routes one combined-stream frame: record the raw event
// and fold it into the per-symbol state.
func (r *Recorder) handleMessage(msg []byte) {
	recv := r.now()
	var envelope struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &envelope); err != nil || envelope.Stream == "" {
		return
	}
	eventType := eventTypeForStream(envelope.Stream)
	if eventType == "" {
		return
	}
	r.metrics.RecordWSEvent(eventType)
	r.state.applyEvent(eventType, envelope.Data, recv.UnixMilli())

	file, ok := r.events[eventType]
	if !ok {
		return
	}
	line, err := json.Marshal(eventLine{Time: recv.UnixMilli(), Data: envelope.Data})
	if err != nil {
		return
	}
	if err := file.Append(recv, line); err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("append event")
	}
}

func (r *Recorder) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.writeSnapshots()
		}
	}
}

// writeSnapshots renders one row per symbol from the latest state.
func (r *Recorder) writeSnapshots() {
	now := r.now()
	for _, row := range r.state.snapshots(now.UnixMilli()) {
		line, err := json.Marshal(row)
		if err != nil {
			continue
		}
		if err := r.snaps.Append(now, line); err != nil {
			log.Error().Err(err).Msg("append snapshot")
			return
		}
	}
}

func (r *Recorder) depthLoop(ctx context.Context) {
	r.refreshDepth(ctx)
	ticker := time.NewTicker(r.cfg.DepthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshDepth(ctx)
		}
	}
}

// refreshDepth pulls book depth and open interest for every configured
// symbol. Failures are logged and skipped; the breaker shields the
// endpoint from hammering.
func (r *Recorder) refreshDepth(ctx context.Context) {
	for _, symbol := range r.cfg.Symbols {
		if ctx.Err() != nil {
			return
		}
		sym := strings.ToUpper(symbol)
		bidQty, askQty, err := r.rest.depth(ctx, sym, r.cfg.DepthLimit)
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("depth fetch failed")
		} else {
			r.state.applyDepth(sym, bidQty, askQty)
		}
		oi, err := r.rest.openInterest(ctx, sym)
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("open interest fetch failed")
		} else {
			r.state.applyOpenInterest(sym, oi)
		}
	}
}

func (r *Recorder) closeFiles() {
	for _, f := range r.events {
		f.Close()
	}
	r.snaps.Close()
}
