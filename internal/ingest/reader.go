// Package ingest reads raw market data files into the snapshot and tick
// stores. Input is line-oriented JSONL, optionally gzip-compressed, spread
// across any number of files under a data directory. Malformed lines are
// skipped and tallied, never fatal.
package ingest

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Stats tallies the outcome of one read pass. Skips are a data-completeness
// fact, not a defect; callers surface them in run summaries.
type Stats struct {
	Files     int `json:"files"`
	Lines     int `json:"lines"`
	Records   int `json:"records"`
	Malformed int `json:"malformed"`
	Skipped   int `json:"skipped"`
}

// Add merges another stats block into this one.
func (s *Stats) Add(other Stats) {
	s.Files += other.Files
	s.Lines += other.Lines
	s.Records += other.Records
	s.Malformed += other.Malformed
	s.Skipped += other.Skipped
}

// globFiles walks dataDir recursively and returns every regular file whose
// base name matches pattern (plus its .gz variant), sorted by path so
// multi-file streams are read in a deterministic order.
func globFiles(dataDir, pattern string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		base := strings.TrimSuffix(name, ".gz")
		if ok, _ := filepath.Match(pattern, base); ok {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dataDir, err)
	}
	sort.Strings(out)
	return out, nil
}

// eachLine streams the non-empty lines of a JSONL file (gzip-transparent)
// to fn. Line length is capped generously; market records are small.
func eachLine(path string, fn func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("gzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		fn(line)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return nil
}

// readFiles runs fn over every matching file, honoring cancellation between
// files so a partially-read file is never left half-applied to the caller.
func readFiles(ctx context.Context, dataDir, pattern string, fn func(line []byte)) (int, error) {
	files, err := globFiles(dataDir, pattern)
	if err != nil {
		return 0, err
	}
	for _, path := range files {
		select {
		case <-ctx.Done():
			return len(files), ctx.Err()
		default:
		}
		if err := eachLine(path, fn); err != nil {
			return len(files), err
		}
		log.Debug().Str("file", path).Msg("ingested file")
	}
	return len(files), nil
}

// safeFloat coerces a decoded JSON value to a finite float64. Exchange
// payloads carry prices as strings, so numeric strings are accepted.
func safeFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// safeInt coerces a decoded JSON value to an int64, truncating floats.
func safeInt(v interface{}) (int64, bool) {
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
