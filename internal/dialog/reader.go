package dialog

import (
	"errors"
	"image"
	"log/slog"
	"slices"
	"strings"

	"github.com/e7canasta/tilefeed/internal/pipeline"
	"github.com/e7canasta/tilefeed/internal/types"
)

// DefaultMaxDist is the page distance below which two reads are the same page.
const DefaultMaxDist = 3

// Box is a dialog box located on the grid; corners are inclusive tile
// coordinates of the border.
type Box struct {
	Min, Max image.Point
}

// Interior returns the rows inside the border, full glyph text.
func (b Box) Interior(grid *types.TextGrid) []string {
	rows := make([]string, 0, b.Max.Y-b.Min.Y-1)
	for y := b.Min.Y + 1; y < b.Max.Y; y++ {
		rows = append(rows, grid.RowText(y, b.Min.X+1, b.Max.X))
	}
	return rows
}

// Locate traces the border of the box whose top-left corner glyph sits at
// at. A missing corner, an unterminated edge, or an empty interior all
// report false: no dialog is shown.
func Locate(grid *types.TextGrid, at image.Point) (Box, bool) {
	if grid.At(at.X, at.Y).Role != types.RoleCornerTopLeft {
		return Box{}, false
	}

	right := -1
	for x := at.X + 1; x < grid.Cols; x++ {
		role := grid.At(x, at.Y).Role
		if role == types.RoleCornerTopRight {
			right = x
			break
		}
		if role != types.RoleEdgeHorizontal {
			return Box{}, false
		}
	}

	bottom := -1
	for y := at.Y + 1; y < grid.Rows; y++ {
		role := grid.At(at.X, y).Role
		if role == types.RoleCornerBottomLeft {
			bottom = y
			break
		}
		if role != types.RoleEdgeVertical {
			return Box{}, false
		}
	}

	if right < 0 || bottom < 0 || right-at.X < 2 || bottom-at.Y < 2 {
		return Box{}, false
	}
	return Box{Min: at, Max: image.Pt(right, bottom)}, true
}

// Subscriber receives every finished utterance with the grid of the frame on
// which the dialog closed.
type Subscriber func(u types.Utterance, grid *types.TextGrid)

// Reader accumulates dialog pages into groups and emits one utterance per
// group when the box disappears.
//
// State machine, per HandleDialog call:
//   - Non-empty text, close to the current page (distance < MaxDist): merged
//     into the current page.
//   - Non-empty text, far from the current page: the current page joins the
//     group (unless it repeats the group's last page) and text starts a new
//     page.
//   - Empty text (box gone): the group is finished and emitted.
//
// Not safe for concurrent use; it runs on the processing goroutine.
type Reader struct {
	maxDist int
	filler  rune

	page      string
	group     []string
	lastGroup []string

	subscribers []Subscriber
}

// NewReader creates a reader. filler is the rune of unresolved tiles.
func NewReader(maxDist int, filler rune) *Reader {
	if maxDist <= 0 {
		maxDist = DefaultMaxDist
	}
	if filler == 0 {
		filler = ' '
	}
	return &Reader{maxDist: maxDist, filler: filler}
}

// Subscribe registers fn for every future utterance.
func (r *Reader) Subscribe(fn Subscriber) {
	r.subscribers = append(r.subscribers, fn)
}

// HandleDialog feeds one frame's dialog interior ("" when no box is shown).
// elapsed stamps the utterance emitted on close.
func (r *Reader) HandleDialog(text string, grid *types.TextGrid, elapsed string) {
	if text == "" {
		r.finish(grid, elapsed)
		return
	}

	text = r.dropBlankRows(text)
	if strings.TrimSpace(text) == "" || strings.TrimSpace(text) == strings.TrimSpace(r.page) {
		return
	}

	if dist, merged := DistMerge(r.page, text, r.filler); dist < r.maxDist {
		r.page = merged
		return
	}
	if r.page != "" && (len(r.group) == 0 || r.group[len(r.group)-1] != r.page) {
		r.group = append(r.group, r.page)
	}
	r.page = text
}

func (r *Reader) finish(grid *types.TextGrid, elapsed string) {
	if r.page != "" {
		r.group = append(r.group, r.page)
		r.page = ""
	}
	if len(r.group) == 0 {
		return
	}

	group := r.group
	r.group = nil

	if slices.Equal(group, r.lastGroup) {
		slog.Debug("dialog: duplicate group discarded", "pages", len(group))
		return
	}
	if len(r.lastGroup) > 0 && group[0] == r.lastGroup[len(r.lastGroup)-1] {
		// The box flickered: the first page is the tail of the previous group
		group = group[1:]
		if len(group) == 0 {
			return
		}
	}

	text, lines := collapse(group, r.filler, r.maxDist)
	r.lastGroup = group
	if text == "" {
		return
	}

	u := types.Utterance{Time: elapsed, Text: text, Lines: lines}
	for _, fn := range r.subscribers {
		fn(u, grid)
	}
}

// dropBlankRows removes interior rows holding only filler or spaces.
func (r *Reader) dropBlankRows(text string) string {
	rows := strings.Split(text, "\n")
	kept := rows[:0]
	for _, row := range rows {
		if strings.TrimFunc(row, func(c rune) bool { return c == r.filler || c == ' ' }) != "" {
			kept = append(kept, row)
		}
	}
	return strings.Join(kept, "\n")
}

var errNoGrid = errors.New("dialog: no grid in frame context")

// Handler is the pipeline stage locating the dialog box and feeding the
// reader.
type Handler struct {
	reader *Reader
	at     image.Point
}

// NewHandler feeds reader with the box whose top-left corner is at.
func NewHandler(reader *Reader, at image.Point) *Handler {
	return &Handler{reader: reader, at: at}
}

// Name implements pipeline.Handler.
func (h *Handler) Name() string { return "dialog" }

// Handle implements pipeline.Handler.
func (h *Handler) Handle(fc *pipeline.FrameContext) (pipeline.Outcome, error) {
	if fc.Grid == nil {
		return pipeline.Failed, errNoGrid
	}

	text := ""
	if box, ok := Locate(fc.Grid, h.at); ok {
		text = strings.Join(box.Interior(fc.Grid), "\n")
	}
	h.reader.HandleDialog(text, fc.Grid, fc.Elapsed.String())
	return pipeline.Continue, nil
}
