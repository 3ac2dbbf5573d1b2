// Package timing records how long each bridge call takes for a boot report.
package timing

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Recorder collects per-call durations. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	start  time.Time
	phases []Phase
}

// Phase is one observed call.
type Phase struct {
	Name     string
	Duration time.Duration
	Failed   bool
}

// New creates a new Recorder starting from now.
func New() *Recorder {
	return &Recorder{start: time.Now()}
}

// Observe records a call named name that took d. A non-nil err marks it
// failed. Its signature matches a bridge observer after adapting the action
// to its kind.
func (r *Recorder) Observe(name string, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, Phase{Name: name, Duration: d, Failed: err != nil})
}

// Total returns the total elapsed time since the recorder was created.
func (r *Recorder) Total() time.Duration {
	return time.Since(r.start)
}

// Phases returns a copy of all recorded phases.
func (r *Recorder) Phases() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Phase(nil), r.phases...)
}

// Busy returns the sum of all recorded durations.
func (r *Recorder) Busy() time.Duration {
	var total time.Duration
	for _, p := range r.Phases() {
		total += p.Duration
	}
	return total
}

// Report prints a timing report to the given writer.
func (r *Recorder) Report(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "=== Boot Timing ===")
	for _, p := range r.Phases() {
		status := ""
		if p.Failed {
			status = " (failed)"
		}
		fmt.Fprintf(w, "  %-24s %s%s\n", p.Name+":", formatDuration(p.Duration), status)
	}
	fmt.Fprintf(w, "  %-24s %s\n", "IN MONITOR:", formatDuration(r.Busy()))
	fmt.Fprintf(w, "  %-24s %s\n", "TOTAL:", formatDuration(r.Total()))
	fmt.Fprintln(w, "===================")
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
