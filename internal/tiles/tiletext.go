package tiles

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// TileText is the text assigned to one tile id by a tile-text file.
type TileText struct {
	Text string
	Key  rune // dense rune of wide glyphs, zero for narrow ones
}

var tileTextLine = regexp.MustCompile(`^([0-9A-F]+)([a-z]*):(.*)$`)

// ParseTileText reads a tile-text file: one run of consecutive tile ids per
// line, written as
//
//	OFFSET[flags]:letters
//
// OFFSET is the hex id of the first tile. Each letter (or letter pair for
// wide glyphs) names the next id; a lone space leaves that id unassigned.
//
// Flags:
//   - w: wide glyphs, two letters per tile, the first is the dense rune
//   - s: with w, the second letter is the dense rune
//   - x: OFFSET is relative to 1024 (second tile bank)
//   - l: literal, the whole letters string is the text of OFFSET
//
// Lines that do not match the format are ignored.
func ParseTileText(r io.Reader) (map[int]TileText, error) {
	out := make(map[int]TileText)

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSuffix(sc.Text(), "\r")

		m := tileTextLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		offset, err := strconv.ParseInt(m[1], 16, 32)
		if err != nil {
			return nil, fmt.Errorf("tiles: tile text line %d: %w", lineNo, err)
		}
		flags, letters := m[2], m[3]
		if strings.Contains(flags, "x") {
			offset += 1024
		}

		if strings.Contains(flags, "l") {
			out[int(offset)] = TileText{Text: letters}
			continue
		}

		wide := strings.Contains(flags, "w")
		swap := strings.Contains(flags, "s")
		width := 1
		if wide {
			width = 2
		}

		runes := []rune(letters)
		for i := 0; i < len(runes); i += width {
			end := min(i+width, len(runes))
			chunk := runes[i:end]
			if string(chunk) == " " {
				continue
			}
			out[int(offset)+i/width] = wideText(chunk, wide, swap)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("tiles: read tile text: %w", err)
	}
	return out, nil
}

func wideText(chunk []rune, wide, swap bool) TileText {
	if !wide || len([]rune(strings.TrimSpace(string(chunk)))) < 2 {
		return TileText{Text: string(chunk[0])}
	}
	key := chunk[0]
	if swap {
		key = chunk[1]
	}
	return TileText{Text: string(chunk), Key: key}
}
