// Package artifacts writes per-run output directories: a results.jsonl
// stream, an indented summary.json and a human report.md. Every command
// that produces output drops it here so runs stay comparable and
// nothing is overwritten.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Paths lists the files one run produces.
type Paths struct {
	Dir          string `json:"dir"`
	ResultsJSONL string `json:"results"`
	SummaryJSON  string `json:"summary"`
	ReportMD     string `json:"report"`
}

// Writer owns one run directory under <root>/<command>/.
type Writer struct {
	root    string
	command string
	runID   string
	dir     string
}

// NewWriter allocates a fresh run directory named by UTC timestamp plus
// a short run id, so concurrent runs of the same command never collide.
func NewWriter(root, command string) (*Writer, error) {
	runID := uuid.New().String()
	stamp := time.Now().UTC().Format("20060102-150405")
	dir := filepath.Join(root, command, fmt.Sprintf("%s-%s", stamp, runID[:8]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	return &Writer{root: root, command: command, runID: runID, dir: dir}, nil
}

// RunID returns the full uuid of this run.
func (w *Writer) RunID() string { return w.runID }

// Dir returns the run directory.
func (w *Writer) Dir() string { return w.dir }

// Paths returns the artifact file locations for this run.
func (w *Writer) Paths() Paths {
	return Paths{
		Dir:          w.dir,
		ResultsJSONL: filepath.Join(w.dir, "results.jsonl"),
		SummaryJSON:  filepath.Join(w.dir, "summary.json"),
		ReportMD:     filepath.Join(w.dir, "report.md"),
	}
}

// Results opens results.jsonl for streaming appends. Callers must Close.
func (w *Writer) Results() (*Results, error) {
	f, err := os.Create(w.Paths().ResultsJSONL)
	if err != nil {
		return nil, fmt.Errorf("create results file: %w", err)
	}
	return &Results{f: f, enc: json.NewEncoder(f)}, nil
}

// Results streams JSON lines into results.jsonl.
type Results struct {
	f   *os.File
	enc *json.Encoder
	n   int
}

// Append writes one record as a single JSON line.
func (r *Results) Append(v interface{}) error {
	if err := r.enc.Encode(v); err != nil {
		return fmt.Errorf("write result line: %w", err)
	}
	r.n++
	return nil
}

// Count reports how many lines have been appended.
func (r *Results) Count() int { return r.n }

// Close flushes and closes the results file.
func (r *Results) Close() error { return r.f.Close() }

// WriteSummary writes summary.json with two-space indentation. The
// value should carry the run id and the config echo.
func (w *Writer) WriteSummary(v interface{}) error {
	f, err := os.Create(w.Paths().SummaryJSON)
	if err != nil {
		return fmt.Errorf("create summary file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}

// WriteReport writes the rendered markdown report.
func (w *Writer) WriteReport(markdown string) error {
	if err := os.WriteFile(w.Paths().ReportMD, []byte(markdown), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
