package dialog

import (
	"image"
	"strings"
	"testing"

	"github.com/e7canasta/tilefeed/internal/pipeline"
	"github.com/e7canasta/tilefeed/internal/types"
)

func TestDistMerge(t *testing.T) {
	tests := []struct {
		a, b       string
		wantDist   int
		wantMerged string
	}{
		{"HELLO WORLD", "HELLO W0RLD", 1, "HELLO W0RLD"},
		{"HELLO", "GOODBYE", 5, "GOODBYE"},
		{"HE LO", "HELLO", 0, "HELLO"},
		{"HELLO", "HE LO", 0, "HELLO"},
		{"HELLO WORLD", "HELLO      ", 0, "HELLO WORLD"},
		{"", "ABC", 0, "ABC"},
		{"ABC", "", 0, "ABC"},
	}

	for _, tt := range tests {
		t.Run(tt.a+"|"+tt.b, func(t *testing.T) {
			dist, merged := DistMerge(tt.a, tt.b, ' ')
			if dist != tt.wantDist || merged != tt.wantMerged {
				t.Errorf("DistMerge() = (%d, %q), want (%d, %q)", dist, merged, tt.wantDist, tt.wantMerged)
			}
		})
	}
}

// collect subscribes to r and returns the received utterances.
func collect(r *Reader) *[]types.Utterance {
	var got []types.Utterance
	r.Subscribe(func(u types.Utterance, grid *types.TextGrid) {
		got = append(got, u)
	})
	return &got
}

func feed(r *Reader, pages ...string) {
	for _, p := range pages {
		r.HandleDialog(p, nil, "0d1h2m3s")
	}
}

func TestReader_LowDistanceMergesIntoOnePage(t *testing.T) {
	r := NewReader(3, ' ')
	got := collect(r)

	feed(r, "HELLO WORLD", "HELLO W0RLD", "")

	if len(*got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(*got))
	}
	u := (*got)[0]
	if u.Text != "HELLO W0RLD" {
		t.Errorf("Text = %q, want %q", u.Text, "HELLO W0RLD")
	}
	if u.Time != "0d1h2m3s" {
		t.Errorf("Time = %q", u.Time)
	}
}

func TestReader_HighDistanceStartsNewPage(t *testing.T) {
	r := NewReader(3, ' ')
	got := collect(r)

	feed(r, "HELLO", "GOODBYE", "")

	if len(*got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(*got))
	}
	if u := (*got)[0]; u.Text != "HELLO GOODBYE" || len(u.Lines) != 2 {
		t.Errorf("utterance = %+v, want two lines HELLO GOODBYE", u)
	}
}

// TestReader_TileDropoutMerges feeds a frame where half the page failed to
// resolve; it must fold into the page instead of repeating it.
func TestReader_TileDropoutMerges(t *testing.T) {
	r := NewReader(3, ' ')
	got := collect(r)

	feed(r, "HELLO WORLD", "HELLO      ", "GOODBYE    ", "")

	if len(*got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(*got))
	}
	if u := (*got)[0]; u.Text != "HELLO WORLD GOODBYE" {
		t.Errorf("Text = %q, want %q", u.Text, "HELLO WORLD GOODBYE")
	}
}

func TestReader_MultiLinePagesAndHyphenation(t *testing.T) {
	r := NewReader(3, ' ')
	got := collect(r)

	feed(r,
		"PROF. OAK: This is\nthe world of POKé-",
		"PROF. OAK: This is\nthe world of POKé-",
		"the world of POKé-\nMON!    ",
		"",
	)

	if len(*got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(*got))
	}
	want := "PROF. OAK: This is the world of POKéMON!"
	if u := (*got)[0]; u.Text != want {
		t.Errorf("Text = %q, want %q", u.Text, want)
	}
}

// TestReader_Idempotent validates that showing the same page repeatedly
// produces the same utterance as showing it once.
func TestReader_Idempotent(t *testing.T) {
	once := NewReader(3, ' ')
	gotOnce := collect(once)
	feed(once, "A wild POKéMON\nappeared!", "")

	many := NewReader(3, ' ')
	gotMany := collect(many)
	feed(many, "A wild POKéMON\nappeared!", "A wild POKéMON\nappeared!", "A wild POKéMON\nappeared!", "")

	if len(*gotOnce) != 1 || len(*gotMany) != 1 {
		t.Fatalf("utterances: once %d, many %d", len(*gotOnce), len(*gotMany))
	}
	if (*gotOnce)[0].Text != (*gotMany)[0].Text {
		t.Errorf("once %q != many %q", (*gotOnce)[0].Text, (*gotMany)[0].Text)
	}
}

func TestReader_DuplicateGroupSuppressed(t *testing.T) {
	r := NewReader(3, ' ')
	got := collect(r)

	// Flicker: the box disappears for one frame in the middle of a page
	feed(r, "Got away safely!", "", "Got away safely!", "")

	if len(*got) != 1 {
		t.Fatalf("got %d utterances, want 1: %+v", len(*got), *got)
	}
}

func TestReader_CarriedOverPageDropped(t *testing.T) {
	r := NewReader(3, ' ')
	got := collect(r)

	feed(r, "FIRST PAGE", "SECOND PAGE", "")
	feed(r, "SECOND PAGE", "THIRD ONE HERE", "")

	if len(*got) != 2 {
		t.Fatalf("got %d utterances, want 2", len(*got))
	}
	if second := (*got)[1].Text; second != "THIRD ONE HERE" {
		t.Errorf("second utterance = %q, want %q", second, "THIRD ONE HERE")
	}
}

func TestReader_BlankInteriorIgnored(t *testing.T) {
	r := NewReader(3, ' ')
	got := collect(r)

	feed(r, strings.Repeat(" ", 18)+"\n"+strings.Repeat(" ", 18), "")
	if len(*got) != 0 {
		t.Errorf("blank box emitted %+v", *got)
	}
}

// dialogGrid draws a bordered box at tile (0,12) spanning the full width.
func dialogGrid(lines ...string) *types.TextGrid {
	g := types.NewTextGrid(20, 18, " ")
	const top, bottom = 12, 17
	g.Set(0, top, types.Cell{ID: 121, Text: "+", Role: types.RoleCornerTopLeft})
	g.Set(19, top, types.Cell{ID: 122, Text: "+", Role: types.RoleCornerTopRight})
	g.Set(0, bottom, types.Cell{ID: 123, Text: "+", Role: types.RoleCornerBottomLeft})
	g.Set(19, bottom, types.Cell{ID: 124, Text: "+", Role: types.RoleCornerBottomRight})
	for x := 1; x < 19; x++ {
		g.Set(x, top, types.Cell{ID: 125, Text: "-", Role: types.RoleEdgeHorizontal})
		g.Set(x, bottom, types.Cell{ID: 125, Text: "-", Role: types.RoleEdgeHorizontal})
	}
	for y := top + 1; y < bottom; y++ {
		g.Set(0, y, types.Cell{ID: 126, Text: "|", Role: types.RoleEdgeVertical})
		g.Set(19, y, types.Cell{ID: 126, Text: "|", Role: types.RoleEdgeVertical})
	}
	for i, line := range lines {
		for x, c := range line {
			g.Set(1+x, top+1+i, types.Cell{ID: int(c), Text: string(c)})
		}
	}
	return g
}

func TestLocate(t *testing.T) {
	at := image.Pt(0, 12)

	box, ok := Locate(dialogGrid("HI"), at)
	if !ok {
		t.Fatal("Locate() found no box")
	}
	if box.Max != image.Pt(19, 17) {
		t.Errorf("box = %+v", box)
	}
	rows := box.Interior(dialogGrid("HI"))
	if len(rows) != 4 || rows[0] != "HI"+strings.Repeat(" ", 16) {
		t.Errorf("Interior() = %q", rows)
	}

	if _, ok := Locate(types.NewTextGrid(20, 18, " "), at); ok {
		t.Error("Locate() on empty grid found a box")
	}

	broken := dialogGrid()
	broken.Set(5, 12, types.Cell{ID: 1, Text: "x"})
	if _, ok := Locate(broken, at); ok {
		t.Error("Locate() accepted a broken top edge")
	}
}

func TestHandler_EmitsOnBoxClose(t *testing.T) {
	r := NewReader(3, ' ')
	got := collect(r)
	h := NewHandler(r, image.Pt(0, 12))

	frames := []*types.TextGrid{
		dialogGrid("Wild RATTATA", "appeared!"),
		dialogGrid("Wild RATTATA", "appeared!"),
		types.NewTextGrid(20, 18, " "),
	}
	for _, g := range frames {
		fc := pipeline.NewFrameContext(&types.Frame{})
		fc.Grid = g
		fc.Elapsed = types.Elapsed{Minutes: 1}
		if _, err := h.Handle(fc); err != nil {
			t.Fatalf("Handle() error: %v", err)
		}
	}

	if len(*got) != 1 || (*got)[0].Text != "Wild RATTATA appeared!" {
		t.Fatalf("utterances = %+v", *got)
	}
	if (*got)[0].Time != "0d0h1m0s" {
		t.Errorf("Time = %q", (*got)[0].Time)
	}
}
