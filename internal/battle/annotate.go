package battle

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/e7canasta/tilefeed/internal/types"
)

// Region is a horizontal run of cells on one grid row, columns [X0,X1).
type Region struct {
	Row int `yaml:"row"`
	X0  int `yaml:"x0"`
	X1  int `yaml:"x1"`
}

// DefaultBarScheme maps the HP bar cell key runes to their filled pixel
// count: index i is a cell with i of its 8 columns filled.
const DefaultBarScheme = "_12345678"

// BarCellPixels is the pixel width of one HP bar cell.
const BarCellPixels = 8

var (
	hpPattern    = regexp.MustCompile(`(\d+)\s*/\s*(\d+)`)
	levelPattern = regexp.MustCompile(`:L\s*(\d+)`)
)

// ReadBar converts the bar cells of region into a 0..100 percentage.
// Any cell outside the scheme makes the read malformed.
func ReadBar(grid *types.TextGrid, r Region, scheme string) (int, bool) {
	if grid == nil || r.X1 <= r.X0 {
		return 0, false
	}
	levels := []rune(scheme)
	if len(levels) < 2 {
		return 0, false
	}

	filled := 0
	for _, c := range grid.DenseRow(r.Row, r.X0, r.X1) {
		idx := indexRune(levels, c)
		if idx < 0 {
			return 0, false
		}
		filled += idx * BarCellPixels / (len(levels) - 1)
	}

	total := (r.X1 - r.X0) * BarCellPixels
	return int(math.Round(float64(filled) * 100 / float64(total))), true
}

// ReadHP parses a "cur/max" fraction from region. Reads where cur exceeds
// max or max is zero are malformed.
func ReadHP(grid *types.TextGrid, r Region) (cur, total int, ok bool) {
	if grid == nil {
		return 0, 0, false
	}
	m := hpPattern.FindStringSubmatch(grid.RowText(r.Row, r.X0, r.X1))
	if m == nil {
		return 0, 0, false
	}
	cur, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	total, err = strconv.Atoi(m[2])
	if err != nil || total == 0 || cur > total {
		return 0, 0, false
	}
	return cur, total, true
}

// ReadLevel parses ":Lnn" from region. Zero is reported as not found.
func ReadLevel(grid *types.TextGrid, r Region) (int, bool) {
	if grid == nil {
		return 0, false
	}
	m := levelPattern.FindStringSubmatch(grid.RowText(r.Row, r.X0, r.X1))
	if m == nil {
		return 0, false
	}
	lvl, err := strconv.Atoi(m[1])
	if err != nil || lvl <= 0 {
		return 0, false
	}
	return lvl, true
}

func indexRune(rs []rune, c rune) int {
	for i, r := range rs {
		if r == c {
			return i
		}
	}
	return -1
}

// annotator reads the battle HUD of a grid and renders the suffix for a
// transcript line.
type annotator struct {
	enemyBar  Region
	playerHP  Region
	level     Region
	barScheme string
}

// annotate returns line with the HUD changes since the session's last
// known values appended. Malformed reads leave the known values as they are.
func (a annotator) annotate(s *Session, line string, grid *types.TextGrid) string {
	if grid == nil {
		return line
	}
	var b strings.Builder
	b.WriteString(line)

	if pct, ok := ReadBar(grid, a.enemyBar, a.barScheme); ok {
		if !s.hud.enemyKnown || pct != s.hud.enemyPct {
			d := 0
			if s.hud.enemyKnown {
				d = pct - s.hud.enemyPct
			}
			fmt.Fprintf(&b, " En: %d%% (%+d%%)", pct, d)
			s.hud.enemyKnown, s.hud.enemyPct = true, pct
		}
	}

	if cur, total, ok := ReadHP(grid, a.playerHP); ok {
		if !s.hud.usKnown || cur != s.hud.usCur || total != s.hud.usMax {
			d := 0
			if s.hud.usKnown {
				d = cur - s.hud.usCur
			}
			fmt.Fprintf(&b, " Us: %d/%d (%+d)", cur, total, d)
			s.hud.usKnown, s.hud.usCur, s.hud.usMax = true, cur, total
		}
	}

	if s.Level == 0 {
		if lvl, ok := ReadLevel(grid, a.level); ok {
			s.Level = lvl
			fmt.Fprintf(&b, " Lv: %d", lvl)
		}
	}
	return b.String()
}
