package dataset

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Fixed leading columns; feature columns follow in sorted order.
var rowBaseColumns = []string{
	"symbol", "entryTime", "horizonMs", "target", "targetField",
	"returnPct", "midReturnPct", "longReturnPct", "shortReturnPct", "lagMs",
}

func barrierBaseColumns(targetColumn string) []string {
	return []string{
		"symbol", "entryTime", "horizonMs", targetColumn,
		"label", "tpBps", "slBps", "eventType",
	}
}

// WriteCSV writes return-dataset rows with a header of the base columns
// followed by every feature column seen across the rows, sorted. Unusable
// or absent values become empty cells.
func WriteCSV(path string, rows []Row) error {
	records := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		records[i] = flattenRow(r)
	}
	return writeCSVFile(path, columnsFor(rowBaseColumns, records), records)
}

// WriteJSONL writes return-dataset rows one JSON object per line. Unusable
// feature values serialize as null.
func WriteJSONL(path string, rows []Row) error {
	records := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		records[i] = flattenRow(r)
	}
	return writeJSONLFile(path, records)
}

// WriteBarrierCSV writes barrier-dataset rows; the class column carries the
// configured target column name.
func WriteBarrierCSV(path string, rows []BarrierRow, targetColumn string) error {
	records := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		records[i] = flattenBarrierRow(r, targetColumn)
	}
	return writeCSVFile(path, columnsFor(barrierBaseColumns(targetColumn), records), records)
}

// WriteBarrierJSONL writes barrier-dataset rows one JSON object per line.
func WriteBarrierJSONL(path string, rows []BarrierRow, targetColumn string) error {
	records := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		records[i] = flattenBarrierRow(r, targetColumn)
	}
	return writeJSONLFile(path, records)
}

func flattenRow(r Row) map[string]interface{} {
	out := make(map[string]interface{}, len(r.Features)+len(rowBaseColumns))
	out["symbol"] = r.Symbol
	out["entryTime"] = r.EntryTime
	out["horizonMs"] = r.HorizonMs
	out["target"] = r.Target
	out["targetField"] = r.TargetField
	out["returnPct"] = numOrNil(r.ReturnPct)
	out["midReturnPct"] = numOrNil(r.MidReturnPct)
	out["longReturnPct"] = numOrNil(r.LongReturnPct)
	out["shortReturnPct"] = numOrNil(r.ShortReturnPct)
	out["lagMs"] = r.LagMs
	for k, v := range r.Features {
		out[k] = numOrNil(v)
	}
	return out
}

func flattenBarrierRow(r BarrierRow, targetColumn string) map[string]interface{} {
	out := make(map[string]interface{}, len(r.Features)+8)
	out["symbol"] = r.Symbol
	out["entryTime"] = r.EntryTime
	out["horizonMs"] = r.HorizonMs
	out[targetColumn] = r.Target
	out["label"] = r.Label
	out["tpBps"] = numOrNil(r.TPBps)
	out["slBps"] = numOrNil(r.SLBps)
	out["eventType"] = r.EventType
	for k, v := range r.Features {
		out[k] = numOrNil(v)
	}
	return out
}

// numOrNil keeps JSON output valid: NaN and infinities have no JSON number
// form, so they degrade to null.
func numOrNil(v float64) interface{} {
	if !isFinite(v) {
		return nil
	}
	return v
}

// columnsFor appends every non-base key seen across the records, sorted, to
// the base column list.
func columnsFor(base []string, records []map[string]interface{}) []string {
	known := make(map[string]struct{}, len(base))
	for _, c := range base {
		known[c] = struct{}{}
	}
	var extra []string
	for _, rec := range records {
		for k := range rec {
			if _, ok := known[k]; ok {
				continue
			}
			known[k] = struct{}{}
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(append(make([]string, 0, len(base)+len(extra)), base...), extra...)
}

func writeCSVFile(path string, columns []string, records []map[string]interface{}) error {
	f, err := createFile(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	cells := make([]string, len(columns))
	for _, rec := range records {
		for i, col := range columns {
			cells[i] = csvCell(rec[col])
		}
		if err := w.Write(cells); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func writeJSONLFile(path string, records []map[string]interface{}) error {
	f, err := createFile(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal row: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush jsonl: %w", err)
	}
	return nil
}

func createFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}

func csvCell(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
