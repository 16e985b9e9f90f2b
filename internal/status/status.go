package status

import (
	"fmt"
	"io"
	"sync"
)

// Scope tags used on the status stream.
const (
	ScopeCore   = "MIRAGE.CORE"
	ScopeMedia  = "MIRAGE.MEDIA"
	ScopeFaces  = "MIRAGE.FACES"
	ScopeStages = "MIRAGE.STAGES"
)

// Reporter receives plain-text progress lines for a presentation layer.
type Reporter interface {
	Update(scope, message string)
}

// Writer prints "[SCOPE] message" lines.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

func (w *Writer) Update(scope, message string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "[%s] %s\n", scope, message)
}

// Func adapts a function to Reporter.
type Func func(scope, message string)

func (f Func) Update(scope, message string) { f(scope, message) }

// Discard drops every line.
var Discard Reporter = Func(func(string, string) {})

// Line is one recorded status update.
type Line struct {
	Scope   string
	Message string
}

// Recorder keeps every line in memory. Useful for tests and for UIs that poll.
type Recorder struct {
	mu    sync.Mutex
	lines []Line
}

func (r *Recorder) Update(scope, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, Line{Scope: scope, Message: message})
}

// Lines returns a copy of the recorded lines.
func (r *Recorder) Lines() []Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Line, len(r.lines))
	copy(out, r.lines)
	return out
}

// Multi fans a line out to several reporters.
func Multi(reporters ...Reporter) Reporter {
	return Func(func(scope, message string) {
		for _, r := range reporters {
			r.Update(scope, message)
		}
	})
}
