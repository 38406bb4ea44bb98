// Package pipeline runs the ordered chain of frame handlers on the single
// processing goroutine.
//
// Each popped frame gets a fresh FrameContext. Handlers read what earlier
// handlers stored (screen, grid, dense text, elapsed time) and add their own
// results. A handler may end the chain for the current frame by returning
// SkipRest; errors and panics are caught per handler and never stop the
// chain or the loop.
package pipeline

import (
	"image"

	"github.com/e7canasta/tilefeed/internal/types"
)

// Outcome tells the processor what to do after a handler returns.
type Outcome int

const (
	// Continue runs the next handler.
	Continue Outcome = iota
	// SkipRest ends the chain for this frame only.
	SkipRest
	// Failed marks the handler as failed for this frame; the chain continues.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case SkipRest:
		return "skip-rest"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// FrameContext is the per-frame scratch space shared by the handler chain.
// It is owned by the processing goroutine and never shared.
type FrameContext struct {
	Frame *types.Frame

	// Screen is the cropped and resized emulator screen.
	Screen *image.Gray

	// Grid is the recognized tile grid of Screen.
	Grid *types.TextGrid

	// Dense is Grid rendered one rune per cell.
	Dense string

	// TextDelta is the wire-format delta of Dense against the previous frame.
	// Empty when nothing changed.
	TextDelta string

	// Packed is the 2-bit packed screen, set only when it differs from the
	// previous frame's.
	Packed []byte

	// Elapsed is the in-game time read from the overlay (last good value).
	Elapsed types.Elapsed
}

// NewFrameContext seeds a context with a frame.
func NewFrameContext(frame *types.Frame) *FrameContext {
	return &FrameContext{Frame: frame}
}

// Handler is one stage of the chain.
type Handler interface {
	Name() string
	Handle(fc *FrameContext) (Outcome, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	name string
	fn   func(fc *FrameContext) (Outcome, error)
}

// Func wraps fn as a named Handler.
func Func(name string, fn func(fc *FrameContext) (Outcome, error)) Handler {
	return HandlerFunc{name: name, fn: fn}
}

// Name implements Handler.
func (h HandlerFunc) Name() string { return h.name }

// Handle implements Handler.
func (h HandlerFunc) Handle(fc *FrameContext) (Outcome, error) { return h.fn(fc) }
