package tiles

import (
	"errors"
	"image"

	"github.com/e7canasta/tilefeed/internal/pipeline"
	"github.com/e7canasta/tilefeed/internal/types"
)

// ErrNoScreen is returned when the handler runs before a screen was extracted.
var ErrNoScreen = errors.New("tiles: no screen in frame context")

// ShadeRunes renders an unresolved tile by darkness, indexed by dark
// pixels / 8 (0..8).
const ShadeRunes = " .:-=+*#@"

// Options configures a Recognizer.
type Options struct {
	Cols      int    // tiles per row (default: 20)
	Rows      int    // tile rows (default: 18)
	Threshold uint8  // pixels below are dark (default: 128)
	Filler    string // text of unresolved tiles (default: " ")
	Shade     bool   // render unresolved tiles with ShadeRunes instead of Filler
}

func (o *Options) defaults() {
	if o.Cols <= 0 {
		o.Cols = 20
	}
	if o.Rows <= 0 {
		o.Rows = 18
	}
	if o.Threshold == 0 {
		o.Threshold = 128
	}
	if o.Filler == "" {
		o.Filler = " "
	}
}

// Recognizer resolves every tile of a screen against a dictionary.
//
// Per tile: exact signature lookup, then the inverted signature (same glyph
// drawn light on dark), then the filler. Both lookups are O(1).
type Recognizer struct {
	dict *Dictionary
	opts Options
}

// NewRecognizer creates a recognizer. The dictionary is shared read-only.
func NewRecognizer(dict *Dictionary, opts Options) *Recognizer {
	opts.defaults()
	return &Recognizer{dict: dict, opts: opts}
}

// Filler returns the text of unresolved tiles.
func (r *Recognizer) Filler() string { return r.opts.Filler }

// Recognize returns the text grid of screen.
func (r *Recognizer) Recognize(screen *image.Gray) *types.TextGrid {
	grid := types.NewTextGrid(r.opts.Cols, r.opts.Rows, r.opts.Filler)

	for ty := 0; ty < r.opts.Rows; ty++ {
		for tx := 0; tx < r.opts.Cols; tx++ {
			sig := SignatureAt(screen, tx, ty, r.opts.Threshold)
			grid.Set(tx, ty, r.resolve(sig))
		}
	}
	return grid
}

func (r *Recognizer) resolve(sig Signature) types.Cell {
	if g, ok := r.dict.Lookup(sig); ok {
		return g.Cell()
	}
	if g, ok := r.dict.Lookup(sig.Invert()); ok {
		return g.Cell()
	}
	if r.opts.Shade {
		return types.Cell{ID: types.NoGlyph, Text: string([]rune(ShadeRunes)[sig.Dark()/8])}
	}
	return types.Cell{ID: types.NoGlyph, Text: r.opts.Filler}
}

// Handler is the pipeline stage running a Recognizer.
type Handler struct {
	rec *Recognizer
}

// NewHandler wraps rec as a pipeline handler.
func NewHandler(rec *Recognizer) *Handler {
	return &Handler{rec: rec}
}

// Name implements pipeline.Handler.
func (h *Handler) Name() string { return "tiles" }

// Handle stores the grid and its dense rendering in the context.
func (h *Handler) Handle(fc *pipeline.FrameContext) (pipeline.Outcome, error) {
	if fc.Screen == nil {
		return pipeline.Failed, ErrNoScreen
	}
	fc.Grid = h.rec.Recognize(fc.Screen)
	fc.Dense = fc.Grid.Dense()
	return pipeline.Continue, nil
}
