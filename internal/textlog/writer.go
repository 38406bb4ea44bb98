// Package textlog appends the dense screen text to a line-oriented log
// whenever it changes.
package textlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/e7canasta/tilefeed/internal/pipeline"
)

// Escape is the replacement for newlines inside a logged screen.
const Escape = "`"

// Writer is the pipeline stage writing one line per changed screen:
// the dense text with newlines escaped, then the elapsed time.
type Writer struct {
	mu   sync.Mutex
	w    *bufio.Writer
	f    io.Closer
	last string
	n    int64
}

// New writes to w.
func New(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// OpenFile appends to the file at path, creating it if needed.
func OpenFile(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("textlog: open %s: %w", path, err)
	}
	w := New(f)
	w.f = f
	return w, nil
}

// Name implements pipeline.Handler.
func (w *Writer) Name() string { return "text-log" }

// Handle implements pipeline.Handler.
func (w *Writer) Handle(fc *pipeline.FrameContext) (pipeline.Outcome, error) {
	if err := w.Write(fc.Dense, fc.Elapsed.String()); err != nil {
		return pipeline.Failed, err
	}
	return pipeline.Continue, nil
}

// Write logs text when it differs from the previous call.
func (w *Writer) Write(text, elapsed string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if text == w.last {
		return nil
	}
	w.last = text

	line := strings.ReplaceAll(text, "\n", Escape) + elapsed + "\n"
	if _, err := w.w.WriteString(line); err != nil {
		return fmt.Errorf("textlog: write: %w", err)
	}
	w.n++
	// Flush per line so a crash loses at most the current screen
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("textlog: flush: %w", err)
	}
	return nil
}

// Lines returns the number of lines written.
func (w *Writer) Lines() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// Close flushes and closes the file opened by OpenFile.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.w.Flush()
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	return err
}
