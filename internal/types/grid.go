package types

import (
	"strings"
	"unicode/utf8"
)

// NoGlyph is the cell ID of a tile the dictionary could not resolve
const NoGlyph = -1

// Role marks glyphs that draw the border of a dialog box
type Role int

const (
	RoleNone Role = iota
	RoleCornerTopLeft
	RoleCornerTopRight
	RoleCornerBottomLeft
	RoleCornerBottomRight
	RoleEdgeHorizontal
	RoleEdgeVertical
)

var roleNames = map[Role]string{
	RoleNone:              "",
	RoleCornerTopLeft:     "corner-tl",
	RoleCornerTopRight:    "corner-tr",
	RoleCornerBottomLeft:  "corner-bl",
	RoleCornerBottomRight: "corner-br",
	RoleEdgeHorizontal:    "edge-h",
	RoleEdgeVertical:      "edge-v",
}

// String returns the name used in dictionary files
func (r Role) String() string {
	return roleNames[r]
}

// ParseRole is the inverse of Role.String. Unknown names report false.
func ParseRole(s string) (Role, bool) {
	for role, name := range roleNames {
		if name == s {
			return role, true
		}
	}
	return RoleNone, false
}

// Cell is one resolved tile of the screen
type Cell struct {
	// ID is the dictionary tile id, NoGlyph when unresolved
	ID int
	// Text is the glyph text; wide glyphs carry more than one rune
	Text string
	// Key is the rune used by the dense rendering, zero means the first rune of Text
	Key rune
	// Role is the border role of the glyph, if any
	Role Role
}

// TextGrid is the per-frame result of resolving every tile of a screen.
type TextGrid struct {
	Cols  int
	Rows  int
	Cells []Cell // row-major, len == Cols*Rows
}

// NewTextGrid allocates a grid where every cell holds filler.
func NewTextGrid(cols, rows int, filler string) *TextGrid {
	g := &TextGrid{Cols: cols, Rows: rows, Cells: make([]Cell, cols*rows)}
	for i := range g.Cells {
		g.Cells[i] = Cell{ID: NoGlyph, Text: filler}
	}
	return g
}

// At returns the cell at column x, row y. Out of range reads return an
// unresolved empty cell.
func (g *TextGrid) At(x, y int) Cell {
	if g == nil || x < 0 || y < 0 || x >= g.Cols || y >= g.Rows {
		return Cell{ID: NoGlyph}
	}
	return g.Cells[y*g.Cols+x]
}

// Set stores a cell. Out of range writes are ignored.
func (g *TextGrid) Set(x, y int, c Cell) {
	if x < 0 || y < 0 || x >= g.Cols || y >= g.Rows {
		return
	}
	g.Cells[y*g.Cols+x] = c
}

// Dense renders exactly one rune per cell, rows joined by '\n'. The length is
// constant for a fixed grid size which is what the delta codec relies on.
func (g *TextGrid) Dense() string {
	if g == nil {
		return ""
	}
	var b strings.Builder
	b.Grow(g.Rows * (g.Cols + 1))
	for y := 0; y < g.Rows; y++ {
		if y > 0 {
			b.WriteByte('\n')
		}
		for x := 0; x < g.Cols; x++ {
			b.WriteRune(g.Cells[y*g.Cols+x].key())
		}
	}
	return b.String()
}

// DenseRow returns the one-rune-per-cell rendering of columns [x0,x1) of row y.
func (g *TextGrid) DenseRow(y, x0, x1 int) string {
	var b strings.Builder
	for x := x0; x < x1; x++ {
		b.WriteRune(g.At(x, y).key())
	}
	return b.String()
}

// RowText returns the full glyph text of columns [x0,x1) of row y, expanding
// wide glyphs.
func (g *TextGrid) RowText(y, x0, x1 int) string {
	var b strings.Builder
	for x := x0; x < x1; x++ {
		t := g.At(x, y).Text
		if t == "" {
			t = " "
		}
		b.WriteString(t)
	}
	return b.String()
}

func (c Cell) key() rune {
	if c.Key != 0 {
		return c.Key
	}
	return firstRune(c.Text)
}

func firstRune(s string) rune {
	if s == "" {
		return ' '
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r
}
