package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/markout/internal/store"
)

// Event types the recorder writes and the barrier labeler can price from.
const (
	EventAggTrade   = "aggTrade"
	EventBookTicker = "bookTicker"
	EventMarkPrice  = "markPriceUpdate"
	EventDepth      = "depthUpdate"
)

// PriceableEventTypes lists the event types a tick price can be derived
// from. depthUpdate events are recorded for book reconstruction but carry
// no single price, so they are not accepted here.
var PriceableEventTypes = []string{EventAggTrade, EventBookTicker, EventMarkPrice}

// decodeEventLine resolves the payload of one event record. The recorder
// wraps payloads as {time, data}; combined-stream captures arrive as
// {stream, data}; anything without a data object is treated as a bare
// payload. capture is the top-level time field when present.
func decodeEventLine(line []byte) (capture interface{}, payload map[string]interface{}, ok bool) {
	var raw map[string]interface{}
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, nil, false
	}
	if data, wrapped := raw["data"].(map[string]interface{}); wrapped {
		return raw["time"], data, true
	}
	return nil, raw, true
}

// ReadEvents loads events_<eventType>_*.jsonl(.gz) files under dataDir into
// per-symbol ticks. The event type selects both the file set and how a
// price is derived from each record:
//
//	aggTrade        trade price p
//	bookTicker      mid of b and a, falling back to whichever side exists
//	markPriceUpdate mark price p
//
// Records with no symbol, timestamp, or derivable price are tallied and
// dropped.
func ReadEvents(ctx context.Context, dataDir, eventType string) (map[string][]store.Tick, Stats, error) {
	priceable := false
	for _, t := range PriceableEventTypes {
		if t == eventType {
			priceable = true
			break
		}
	}
	if !priceable {
		return nil, Stats{}, fmt.Errorf("event type %q has no tick price source", eventType)
	}

	var stats Stats
	out := make(map[string][]store.Tick)
	pattern := fmt.Sprintf("events_%s_*.jsonl", eventType)
	files, err := readFiles(ctx, dataDir, pattern, func(line []byte) {
		stats.Lines++
		capture, data, ok := decodeEventLine(line)
		if !ok {
			stats.Malformed++
			return
		}
		if e, typed := data["e"].(string); typed && e != eventType {
			stats.Skipped++
			return
		}
		symbol, _ := data["s"].(string)
		if symbol == "" {
			stats.Skipped++
			return
		}
		t, ok := eventTime(capture, data)
		if !ok {
			stats.Skipped++
			return
		}
		price, ok := eventPrice(eventType, data)
		if !ok {
			stats.Skipped++
			return
		}
		out[symbol] = append(out[symbol], store.Tick{Time: t, Price: price})
		stats.Records++
	})
	stats.Files = files
	if err != nil {
		return nil, stats, err
	}
	log.Info().
		Str("event_type", eventType).
		Int("files", stats.Files).
		Int("records", stats.Records).
		Int("malformed", stats.Malformed).
		Int("skipped", stats.Skipped).
		Msg("events ingested")
	return out, stats, nil
}

// eventTime resolves the event timestamp: the capture time when present,
// else the first usable of the payload's E, T, or t fields. A zero E or T
// falls through to the next field; only t may carry zero.
func eventTime(capture interface{}, data map[string]interface{}) (int64, bool) {
	if t, ok := safeInt(capture); ok {
		return t, true
	}
	var pick interface{}
	for _, key := range []string{"E", "T", "t"} {
		pick = data[key]
		if usable(pick) {
			break
		}
	}
	return safeInt(pick)
}

// usable reports whether a decoded JSON value is non-empty and non-zero.
func usable(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case float64:
		return x != 0
	case string:
		return x != ""
	case bool:
		return x
	default:
		return true
	}
}

// eventPrice derives the tick price for one event payload.
func eventPrice(eventType string, data map[string]interface{}) (float64, bool) {
	switch eventType {
	case EventAggTrade, EventMarkPrice:
		return safeFloat(data["p"])
	case EventBookTicker:
		bid, okBid := safeFloat(data["b"])
		ask, okAsk := safeFloat(data["a"])
		switch {
		case okBid && okAsk:
			return (bid + ask) / 2.0, true
		case okBid:
			return bid, true
		case okAsk:
			return ask, true
		default:
			return 0, false
		}
	default:
		return 0, false
	}
}
