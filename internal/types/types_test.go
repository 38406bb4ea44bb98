package types

import (
	"testing"
	"time"
)

func TestTextGrid_Dense(t *testing.T) {
	g := NewTextGrid(3, 2, " ")
	g.Set(0, 0, Cell{ID: 1, Text: "A"})
	g.Set(1, 0, Cell{ID: 2, Text: "POKé", Key: 'ℙ'})
	g.Set(2, 1, Cell{ID: 3, Text: ""})
	g.Set(5, 5, Cell{ID: 9, Text: "X"}) // ignored

	if got, want := g.Dense(), "Aℙ \n   "; got != want {
		t.Errorf("Dense() = %q, want %q", got, want)
	}
	if got := g.DenseRow(0, 0, 2); got != "Aℙ" {
		t.Errorf("DenseRow() = %q", got)
	}
	if got := g.RowText(0, 0, 3); got != "APOKé " {
		t.Errorf("RowText() = %q", got)
	}
	if c := g.At(-1, 0); c.ID != NoGlyph {
		t.Errorf("At(out of range) = %+v", c)
	}
	var nilGrid *TextGrid
	if nilGrid.Dense() != "" || nilGrid.At(0, 0).ID != NoGlyph {
		t.Error("nil grid should render empty")
	}
}

func TestParseRole(t *testing.T) {
	for role, name := range roleNames {
		if role == RoleNone {
			continue
		}
		got, ok := ParseRole(name)
		if !ok || got != role {
			t.Errorf("ParseRole(%q) = %v, %v", name, got, ok)
		}
	}
	if _, ok := ParseRole("corner-xx"); ok {
		t.Error("unknown role parsed")
	}
}

func TestElapsed(t *testing.T) {
	e := Elapsed{Days: 1, Hours: 2, Minutes: 3, Seconds: 4}
	if e.String() != "1d2h3m4s" {
		t.Errorf("String() = %q", e.String())
	}
	if e.TotalSeconds() != 93784 {
		t.Errorf("TotalSeconds() = %d", e.TotalSeconds())
	}
	if e.Duration() != 26*time.Hour+3*time.Minute+4*time.Second {
		t.Errorf("Duration() = %v", e.Duration())
	}
}

func TestFrame_NilSafe(t *testing.T) {
	var f *Frame
	if f.Width() != 0 || f.Height() != 0 {
		t.Error("nil frame should have zero size")
	}
}
