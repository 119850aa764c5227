// Package integrity validates recorded market data before it feeds the
// labelers: file freshness, timestamp sanity, event coverage and
// per-feature health over the snapshot/event JSONL layout.
package integrity

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultEventTypes is the raw-event set a standard recording run emits.
var DefaultEventTypes = []string{"aggTrade", "bookTicker", "depthUpdate", "markPriceUpdate"}

// RequiredSnapshotFields must be present on every snapshot line.
var RequiredSnapshotFields = []string{"symbol", "time", "price", "features"}

// CoreFeatures are the venue-sourced fields a healthy snapshot carries.
var CoreFeatures = []string{
	"markPrice",
	"indexPrice",
	"fundingRate",
	"openInterest",
	"bestBid",
	"bestAsk",
	"spreadPct",
	"depthBidQty",
	"depthAskQty",
}

// CoverageFeatures extends CoreFeatures with the flow and kline fields
// scanned by the health report.
var CoverageFeatures = append(append([]string{}, CoreFeatures...),
	"aggBuyQty",
	"aggSellQty",
	"liqBuyQty",
	"liqSellQty",
	"kline1mClose",
	"kline1mVol",
)

// Config bounds how much recent data the checks read and how stale it
// may be. Budgets are deliberately small: the checks sample the tail of
// the newest files rather than replaying history.
type Config struct {
	DataDir            string   `yaml:"data_dir"`
	SymbolsFile        string   `yaml:"symbols_file"`
	MaxFiles           int      `yaml:"max_files"`
	LinesPerFile       int      `yaml:"lines_per_file"`
	MaxFutureSkewSec   int      `yaml:"max_future_skew_sec"`
	MaxStaleSec        int      `yaml:"max_stale_sec"`
	EventTypes         []string `yaml:"event_types"`
	MinFeatureCoverage float64  `yaml:"min_feature_coverage"`
}

// DefaultConfig samples the 8 newest files per pattern, 800 lines each,
// and tolerates 5s of clock skew and 120s of staleness.
func DefaultConfig() Config {
	return Config{
		DataDir:            "data",
		SymbolsFile:        "symbols_topn.txt",
		MaxFiles:           8,
		LinesPerFile:       800,
		MaxFutureSkewSec:   5,
		MaxStaleSec:        120,
		EventTypes:         append([]string{}, DefaultEventTypes...),
		MinFeatureCoverage: 0.5,
	}
}

// Validate reports fatal configuration problems.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("integrity: data_dir must not be empty")
	}
	if c.MaxFiles < 1 {
		return fmt.Errorf("integrity: max_files must be at least 1, got %d", c.MaxFiles)
	}
	if c.LinesPerFile < 1 {
		return fmt.Errorf("integrity: lines_per_file must be at least 1, got %d", c.LinesPerFile)
	}
	if c.MaxFutureSkewSec < 0 || c.MaxStaleSec < 0 {
		return fmt.Errorf("integrity: skew and staleness bounds must not be negative")
	}
	if c.MinFeatureCoverage < 0 || c.MinFeatureCoverage > 1 {
		return fmt.Errorf("integrity: min_feature_coverage must be in [0,1], got %v", c.MinFeatureCoverage)
	}
	return nil
}

// listFiles returns every file under dir matching pattern, sorted by
// path. Recording files embed the UTC hour in the name, so lexical
// order is chronological order.
func listFiles(dir, pattern string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ok, err := filepath.Match(pattern, d.Name())
		if err != nil {
			return err
		}
		if ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// newestFiles keeps the last n entries of an already-sorted list.
func newestFiles(files []string, n int) []string {
	if len(files) <= n {
		return files
	}
	return files[len(files)-n:]
}

// tailLines reads up to max trailing lines of path without scanning the
// whole file, stepping backward in 4KiB blocks.
func tailLines(path string, max int) ([]string, error) {
	if max <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	const block = 4096
	var data []byte
	for size > 0 && bytes.Count(data, []byte{'\n'}) <= max {
		step := int64(block)
		if size < step {
			step = size
		}
		size -= step
		if _, err := f.Seek(size, io.SeekStart); err != nil {
			return nil, err
		}
		buf := make([]byte, step)
		if _, err := io.ReadFull(f, buf); err != nil {
			return nil, err
		}
		data = append(buf, data...)
	}
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > max {
		lines = lines[len(lines)-max:]
	}
	return lines, nil
}

// parseLines decodes JSONL lines into generic maps, skipping blanks and
// unparseable rows. Recorded files can carry a torn final line after a
// crash; the checks tolerate it.
func parseLines(lines []string) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var row map[string]interface{}
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			continue
		}
		out = append(out, row)
	}
	return out
}

// LoadSymbols reads an expected-universe file: first whitespace token
// per line, uppercased, USDT perps only, sorted and deduplicated.
// A missing file means no expectation and returns nil.
func LoadSymbols(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open symbols file %s: %w", path, err)
	}
	defer f.Close()

	seen := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		sym := strings.ToUpper(fields[0])
		if !strings.HasSuffix(sym, "USDT") {
			continue
		}
		seen[sym] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read symbols file %s: %w", path, err)
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
}

func rowTime(row map[string]interface{}) (int64, bool) {
	v, ok := row["time"]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func rowString(row map[string]interface{}, key string) string {
	s, _ := row[key].(string)
	return s
}
