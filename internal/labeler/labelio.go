package labeler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadStats tallies one label file read.
type LoadStats struct {
	Lines     int `json:"lines"`
	Labels    int `json:"labels"`
	Malformed int `json:"malformed"`
}

// WriteReturnLabels writes labels as JSONL, one object per line,
// creating the parent directory as needed.
func WriteReturnLabels(path string, labels []ReturnLabel) error {
	return writeLines(path, len(labels), func(enc *json.Encoder, i int) error {
		return enc.Encode(labels[i])
	})
}

// WriteBarrierLabels writes barrier labels as JSONL.
func WriteBarrierLabels(path string, labels []BarrierLabel) error {
	return writeLines(path, len(labels), func(enc *json.Encoder, i int) error {
		return enc.Encode(labels[i])
	})
}

// LoadReturnLabels reads a returns label file back. Lines of other
// types (or of no recognizable shape) are counted and skipped; a label
// file is often appended across runs and partial tails must not abort
// the read.
func LoadReturnLabels(path string) ([]ReturnLabel, LoadStats, error) {
	var labels []ReturnLabel
	stats, err := eachJSONLine(path, func(line []byte) bool {
		var lb ReturnLabel
		if json.Unmarshal(line, &lb) != nil || lb.Type != "return" || lb.Symbol == "" {
			return false
		}
		labels = append(labels, lb)
		return true
	})
	return labels, stats, err
}

// LoadBarrierLabels reads a barrier label file back.
func LoadBarrierLabels(path string) ([]BarrierLabel, LoadStats, error) {
	var labels []BarrierLabel
	stats, err := eachJSONLine(path, func(line []byte) bool {
		var lb BarrierLabel
		if json.Unmarshal(line, &lb) != nil || lb.Type != "barrier" || lb.Symbol == "" {
			return false
		}
		labels = append(labels, lb)
		return true
	})
	return labels, stats, err
}

func writeLines(path string, n int, encode func(enc *json.Encoder, i int) error) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create label dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := 0; i < n; i++ {
		if err := encode(enc, i); err != nil {
			return fmt.Errorf("write label: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return nil
}

func eachJSONLine(path string, accept func(line []byte) bool) (LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return LoadStats{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var stats LoadStats
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		stats.Lines++
		if accept([]byte(line)) {
			stats.Labels++
		} else {
			stats.Malformed++
		}
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("read %s: %w", path, err)
	}
	return stats, nil
}
