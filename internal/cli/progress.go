package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/skelly-dev/sumtree/internal/reducer"
)

// progressReporter draws a one-line spinner on a terminal. It is a no-op on
// pipes, in JSON mode and when nil.
type progressReporter struct {
	mu      sync.Mutex
	w       io.Writer
	enabled bool
	label   string
	start   time.Time
	spinner int
	done    int
	active  int
	lastLen int
}

func newProgressReporter(w io.Writer, label string, asJSON bool) *progressReporter {
	enabled := false
	if f, ok := w.(*os.File); ok && !asJSON {
		enabled = term.IsTerminal(int(f.Fd()))
	}
	return &progressReporter{
		w:       w,
		enabled: enabled,
		label:   label,
		start:   time.Now(),
	}
}

func (r *progressReporter) Update(key string, state reducer.NodeState) {
	if r == nil || !r.enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	switch state {
	case reducer.Generating:
		r.active++
	case reducer.Done, reducer.Failed:
		r.active = max(r.active-1, 0)
		r.done++
	case reducer.Cached:
		r.done++
	default:
		return
	}

	frames := [4]string{"-", "\\", "|", "/"}
	frame := frames[r.spinner%len(frames)]
	r.spinner++
	key = strings.TrimSpace(key)
	if len(key) > 72 {
		key = "..." + key[len(key)-69:]
	}
	r.printStatus(fmt.Sprintf("%s %s %d nodes, %d in flight: %s %s", frame, r.label, r.done, r.active, state, key))
}

func (r *progressReporter) Done() {
	if r == nil || !r.enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	elapsed := time.Since(r.start).Round(time.Millisecond)
	r.printStatus(fmt.Sprintf("%s complete (%d nodes in %s)", r.label, r.done, elapsed))
	fmt.Fprintln(r.w)
	r.lastLen = 0
	r.done = 0
	r.start = time.Now()
}

func (r *progressReporter) printStatus(status string) {
	if r.lastLen > len(status) {
		status = status + strings.Repeat(" ", r.lastLen-len(status))
	}
	r.lastLen = len(status)
	fmt.Fprintf(r.w, "\r%s", status)
}
