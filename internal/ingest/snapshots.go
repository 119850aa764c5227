package ingest

import (
	"context"
	"encoding/json"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/markout/internal/store"
)

// snapshotPattern matches the rotated snapshot files a recorder writes.
const snapshotPattern = "snapshots_*.jsonl"

// snapshotLine is the wire shape of one snapshot record. Files may carry
// other record kinds; anything whose type is not "snapshot" is skipped.
type snapshotLine struct {
	Type     string                 `json:"type"`
	Symbol   string                 `json:"symbol"`
	Time     interface{}            `json:"time"`
	Price    interface{}            `json:"price"`
	Features map[string]interface{} `json:"features"`
}

// ReadSnapshots loads every snapshots_*.jsonl(.gz) file under dataDir into
// observations. Records missing symbol, time, or a finite price are skipped
// and tallied; positivity is the labelers' concern, not ingestion's.
func ReadSnapshots(ctx context.Context, dataDir string) ([]store.Observation, Stats, error) {
	var (
		out   []store.Observation
		stats Stats
	)
	files, err := readFiles(ctx, dataDir, snapshotPattern, func(line []byte) {
		stats.Lines++
		var raw snapshotLine
		if err := json.Unmarshal(line, &raw); err != nil {
			stats.Malformed++
			return
		}
		if raw.Type != "snapshot" {
			stats.Skipped++
			return
		}
		t, okT := safeInt(raw.Time)
		price, okP := safeFloat(raw.Price)
		if raw.Symbol == "" || !okT || !okP {
			stats.Skipped++
			return
		}
		out = append(out, store.Observation{
			Symbol:      raw.Symbol,
			Time:        t,
			Price:       price,
			BestBid:     featurePtr(raw.Features, "bestBid"),
			BestAsk:     featurePtr(raw.Features, "bestAsk"),
			FundingRate: featurePtr(raw.Features, "fundingRate"),
			Features:    decodeFeatures(raw.Features),
		})
		stats.Records++
	})
	stats.Files = files
	if err != nil {
		return nil, stats, err
	}
	log.Info().
		Int("files", stats.Files).
		Int("records", stats.Records).
		Int("malformed", stats.Malformed).
		Int("skipped", stats.Skipped).
		Msg("snapshots ingested")
	return out, stats, nil
}

// decodeFeatures keeps every feature key from the wire record. Keys whose
// value is not a finite number (null, text, nested objects) stay present
// with a NaN marker so completeness checks can still see them.
func decodeFeatures(raw map[string]interface{}) map[string]float64 {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		if f, ok := safeFloat(v); ok {
			out[k] = f
		} else {
			out[k] = math.NaN()
		}
	}
	return out
}

// featurePtr lifts a finite feature value into a typed pointer field.
func featurePtr(raw map[string]interface{}, key string) *float64 {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	f, ok := safeFloat(v)
	if !ok {
		return nil
	}
	return &f
}
