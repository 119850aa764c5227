package dataset

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/sawpanic/markout/internal/backtest"
)

// ScoredStats tallies one prediction file read.
type ScoredStats struct {
	Lines     int `json:"lines"`
	Rows      int `json:"rows"`
	Malformed int `json:"malformed"`
}

// ReadScored loads a scored dataset into backtest rows, dispatching on
// the file extension. Missing or unparseable return and prediction
// cells become NaN so the simulator's skip accounting sees them;
// only structurally broken lines are dropped here.
func ReadScored(path string) ([]backtest.Row, ScoredStats, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return ReadScoredCSV(path)
	case strings.HasSuffix(lower, ".jsonl"), strings.HasSuffix(lower, ".json"):
		return ReadScoredJSONL(path)
	}
	return nil, ScoredStats{}, fmt.Errorf("unsupported dataset format: %s", path)
}

// ReadScoredCSV reads a header-indexed CSV. Column order is free; the
// header names decide the mapping.
func ReadScoredCSV(path string) ([]backtest.Row, ScoredStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ScoredStats{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, ScoredStats{}, nil
	}
	if err != nil {
		return nil, ScoredStats{}, fmt.Errorf("read csv header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}

	var rows []backtest.Row
	var stats ScoredStats
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		stats.Lines++
		if err != nil {
			stats.Malformed++
			continue
		}

		entryTime, ok := intCell(record, idx, "entryTime")
		if !ok {
			stats.Malformed++
			continue
		}
		horizonMs, _ := intCell(record, idx, "horizonMs")
		rows = append(rows, backtest.Row{
			Symbol:         textCell(record, idx, "symbol"),
			EntryTime:      entryTime,
			HorizonMs:      horizonMs,
			Prediction:     floatCell(record, idx, "prediction"),
			ReturnPct:      floatCell(record, idx, "returnPct"),
			LongReturnPct:  floatCell(record, idx, "longReturnPct"),
			ShortReturnPct: floatCell(record, idx, "shortReturnPct"),
		})
		stats.Rows++
	}
	return rows, stats, nil
}

// ReadScoredJSONL reads one JSON object per line.
func ReadScoredJSONL(path string) ([]backtest.Row, ScoredStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ScoredStats{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var rows []backtest.Row
	var stats ScoredStats
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		stats.Lines++

		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			stats.Malformed++
			continue
		}
		entryTime, ok := intValue(obj["entryTime"])
		if !ok {
			stats.Malformed++
			continue
		}
		horizonMs, _ := intValue(obj["horizonMs"])
		symbol, _ := obj["symbol"].(string)
		rows = append(rows, backtest.Row{
			Symbol:         symbol,
			EntryTime:      entryTime,
			HorizonMs:      horizonMs,
			Prediction:     floatValue(obj["prediction"]),
			ReturnPct:      floatValue(obj["returnPct"]),
			LongReturnPct:  floatValue(obj["longReturnPct"]),
			ShortReturnPct: floatValue(obj["shortReturnPct"]),
		})
		stats.Rows++
	}
	if err := sc.Err(); err != nil {
		return nil, stats, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, stats, nil
}

func textCell(record []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}

func intCell(record []string, idx map[string]int, name string) (int64, bool) {
	cell := textCell(record, idx, name)
	if cell == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(cell, 10, 64)
	if err != nil {
		// Scoring tools round-trip integers through floats.
		f, ferr := strconv.ParseFloat(cell, 64)
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return int64(f), true
	}
	return n, true
}

func floatCell(record []string, idx map[string]int, name string) float64 {
	cell := textCell(record, idx, name)
	if cell == "" {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func intValue(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func floatValue(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	case nil:
		return math.NaN()
	default:
		return math.NaN()
	}
}
