package artifacts

import (
	"fmt"
	"strings"
	"time"
)

// Report builds the report.md markdown: a title block, bullet key/value
// lines and pipe tables.
type Report struct {
	b strings.Builder
}

// NewReport starts a report with the title and generation timestamp.
func NewReport(title, runID string) *Report {
	r := &Report{}
	r.b.WriteString(fmt.Sprintf("# %s\n\n", title))
	r.b.WriteString(fmt.Sprintf("**Generated**: %s\n", time.Now().UTC().Format("2006-01-02 15:04:05 UTC")))
	r.b.WriteString(fmt.Sprintf("**Run**: %s\n\n", runID))
	return r
}

// Section opens a new markdown section.
func (r *Report) Section(name string) *Report {
	r.b.WriteString(fmt.Sprintf("## %s\n\n", name))
	return r
}

// KV appends one bold-key bullet line.
func (r *Report) KV(key, format string, args ...interface{}) *Report {
	r.b.WriteString(fmt.Sprintf("- **%s**: %s\n", key, fmt.Sprintf(format, args...)))
	return r
}

// Line appends a raw line.
func (r *Report) Line(format string, args ...interface{}) *Report {
	r.b.WriteString(fmt.Sprintf(format, args...))
	r.b.WriteString("\n")
	return r
}

// Gap ends a bullet or table block.
func (r *Report) Gap() *Report {
	r.b.WriteString("\n")
	return r
}

// Table appends a pipe table with a header row.
func (r *Report) Table(headers []string, rows [][]string) *Report {
	r.b.WriteString("| " + strings.Join(headers, " | ") + " |\n")
	sep := make([]string, len(headers))
	for i := range sep {
		sep[i] = "---"
	}
	r.b.WriteString("| " + strings.Join(sep, " | ") + " |\n")
	for _, row := range rows {
		r.b.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}
	r.b.WriteString("\n")
	return r
}

// String renders the markdown.
func (r *Report) String() string { return r.b.String() }
