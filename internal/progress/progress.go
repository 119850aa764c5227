// Package progress prints long-run feedback for the CLI in three
// modes: auto (inline updates on a TTY, line-per-step otherwise),
// plain (line-per-step), and json (one machine-readable object per
// update for wrappers that drive markout as a subprocess).
package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// Mode selects the output style.
type Mode string

const (
	ModeAuto  Mode = "auto"
	ModePlain Mode = "plain"
	ModeJSON  Mode = "json"
)

// ParseMode maps a CLI flag value onto a Mode, defaulting to auto.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plain":
		return ModePlain
	case "json":
		return ModeJSON
	default:
		return ModeAuto
	}
}

// Event is the json-mode wire format.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"` // start, progress, done, error
	Phase     string    `json:"phase"`
	Current   int       `json:"current"`
	Total     int       `json:"total"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message,omitempty"`
	ElapsedMs int64     `json:"elapsedMs"`
}

// Tracker reports progress through one phase of work. Safe for
// concurrent Step calls from worker goroutines.
type Tracker struct {
	mu      sync.Mutex
	out     io.Writer
	json    bool
	inline  bool
	phase   string
	total   int
	current int
	start   time.Time
}

// New builds a tracker writing to stdout. Auto mode upgrades to inline
// carriage-return updates only when stdout is a terminal.
func New(mode Mode, phase string, total int) *Tracker {
	inlineOK := term.IsTerminal(int(os.Stdout.Fd()))
	return NewWriter(os.Stdout, mode, inlineOK, phase, total)
}

// NewWriter is New with an explicit sink and TTY decision, for tests
// and embedding.
func NewWriter(out io.Writer, mode Mode, tty bool, phase string, total int) *Tracker {
	t := &Tracker{
		out:    out,
		json:   mode == ModeJSON,
		inline: mode == ModeAuto && tty,
		phase:  phase,
		total:  total,
		start:  time.Now(),
	}
	if t.json {
		t.emit("start", "")
	} else {
		fmt.Fprintf(t.out, "%s: starting (%d items)\n", t.phase, t.total)
	}
	return t
}

// Step advances the counter by n and reports.
func (t *Tracker) Step(n int, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current += n
	if t.json {
		t.emit("progress", msg)
		return
	}
	if t.inline {
		fmt.Fprintf(t.out, "\r%s: [%3d%%] %d/%d %s", t.phase, t.percent(), t.current, t.total, msg)
		return
	}
	fmt.Fprintf(t.out, "%s: [%3d%%] %d/%d %s\n", t.phase, t.percent(), t.current, t.total, msg)
}

// Done closes out the phase with a summary line.
func (t *Tracker) Done(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.json {
		t.emit("done", msg)
		return
	}
	if t.inline {
		fmt.Fprint(t.out, "\r")
	}
	fmt.Fprintf(t.out, "%s: done in %s %s\n", t.phase, time.Since(t.start).Round(time.Millisecond), msg)
}

// Fail reports a terminal error for the phase.
func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.json {
		t.emit("error", err.Error())
		return
	}
	if t.inline {
		fmt.Fprint(t.out, "\r")
	}
	fmt.Fprintf(t.out, "%s: failed after %s: %v\n", t.phase, time.Since(t.start).Round(time.Millisecond), err)
}

// emit writes one json event. Caller holds the lock.
func (t *Tracker) emit(event, msg string) {
	_ = json.NewEncoder(t.out).Encode(Event{
		Timestamp: time.Now().UTC(),
		Event:     event,
		Phase:     t.phase,
		Current:   t.current,
		Total:     t.total,
		Percent:   t.percent(),
		Message:   msg,
		ElapsedMs: time.Since(t.start).Milliseconds(),
	})
}

func (t *Tracker) percent() int {
	if t.total <= 0 {
		return 0
	}
	p := t.current * 100 / t.total
	if p > 100 {
		p = 100
	}
	return p
}
