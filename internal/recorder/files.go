package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// hourStamp is the rotation key baked into file names. UTC so lexical
// order is chronological.
func hourStamp(t time.Time) string {
	return t.UTC().Format("20060102_15")
}

// rotatingFile appends JSON lines to <dir>/<prefix>_<hour>.jsonl,
// opening a fresh file when the UTC hour rolls over. Files are opened
// in append mode so a restart inside the hour continues the same file.
type rotatingFile struct {
	dir    string
	prefix string

	mu   sync.Mutex
	hour string
	f    *os.File
}

func newRotatingFile(dir, prefix string) *rotatingFile {
	return &rotatingFile{dir: dir, prefix: prefix}
}

// Path returns the file name for the given time.
func (r *rotatingFile) Path(t time.Time) string {
	return filepath.Join(r.dir, fmt.Sprintf("%s_%s.jsonl", r.prefix, hourStamp(t)))
}

// Append writes one line, rotating first if the hour changed.
func (r *rotatingFile) Append(now time.Time, line []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	hour := hourStamp(now)
	if r.f == nil || hour != r.hour {
		if r.f != nil {
			r.f.Close()
			r.f = nil
		}
		f, err := os.OpenFile(r.Path(now), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open %s: %w", r.Path(now), err)
		}
		r.f = f
		r.hour = hour
	}

	if _, err := r.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append %s: %w", r.prefix, err)
	}
	return nil
}

// Close releases the current file handle.
func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
