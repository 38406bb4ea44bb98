package tiles

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/e7canasta/tilefeed/internal/types"
)

// ErrEmptyDictionary is returned when a dictionary file defines no glyph.
var ErrEmptyDictionary = errors.New("tiles: dictionary has no glyphs")

// Glyph is one known tile.
type Glyph struct {
	ID    int
	Text  string
	Key   rune // dense rune, zero means the first rune of Text
	Width int  // cells covered by Text when rendered in full
	Role  types.Role
}

// Cell converts the glyph to a grid cell.
func (g Glyph) Cell() types.Cell {
	return types.Cell{ID: g.ID, Text: g.Text, Key: g.Key, Role: g.Role}
}

// Dictionary maps tile signatures to glyphs. It is immutable after
// construction and safe for concurrent reads.
type Dictionary struct {
	bySig map[Signature]Glyph
	byID  map[int]Glyph
}

// NewDictionary builds a dictionary. Several signatures may share a glyph id
// (drawing variants); ByID returns the lowest signature's glyph.
func NewDictionary(glyphs map[Signature]Glyph) (*Dictionary, error) {
	if len(glyphs) == 0 {
		return nil, ErrEmptyDictionary
	}
	d := &Dictionary{
		bySig: make(map[Signature]Glyph, len(glyphs)),
		byID:  make(map[int]Glyph, len(glyphs)),
	}
	first := make(map[int]Signature, len(glyphs))
	for sig, g := range glyphs {
		if g.ID < 0 {
			return nil, fmt.Errorf("tiles: glyph %s has negative id %d", sig, g.ID)
		}
		if g.Width <= 0 {
			g.Width = 1
		}
		d.bySig[sig] = g
		if s, ok := first[g.ID]; !ok || sig < s {
			first[g.ID] = sig
			d.byID[g.ID] = g
		}
	}
	return d, nil
}

// Lookup returns the glyph with signature sig.
func (d *Dictionary) Lookup(sig Signature) (Glyph, bool) {
	g, ok := d.bySig[sig]
	return g, ok
}

// ByID returns a glyph by tile id.
func (d *Dictionary) ByID(id int) (Glyph, bool) {
	g, ok := d.byID[id]
	return g, ok
}

// Len returns the number of signatures.
func (d *Dictionary) Len() int { return len(d.bySig) }

type dictionaryFile struct {
	// TileText is an optional tile-text file, relative to the dictionary,
	// supplying text for glyphs that carry none.
	TileText string       `yaml:"tile_text"`
	Glyphs   []glyphEntry `yaml:"glyphs"`
}

type glyphEntry struct {
	Sig   string `yaml:"sig"`
	ID    int    `yaml:"id"`
	Text  string `yaml:"text"`
	Width int    `yaml:"width"`
	Role  string `yaml:"role"`
}

// LoadDictionary reads a YAML dictionary file:
//
//	tile_text: firered_tiles.txt
//	glyphs:
//	  - {sig: "7E8181818181817E", id: 18, text: "O"}
//	  - {sig: "FF80808080808080", id: 121, role: corner-tl}
//
// Any error is fatal to startup.
func LoadDictionary(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tiles: read dictionary: %w", err)
	}

	var file dictionaryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("tiles: parse dictionary %s: %w", path, err)
	}

	var text map[int]TileText
	if file.TileText != "" {
		ttPath := file.TileText
		if !filepath.IsAbs(ttPath) {
			ttPath = filepath.Join(filepath.Dir(path), ttPath)
		}
		f, err := os.Open(ttPath)
		if err != nil {
			return nil, fmt.Errorf("tiles: open tile text: %w", err)
		}
		text, err = ParseTileText(f)
		f.Close()
		if err != nil {
			return nil, err
		}
	}

	glyphs := make(map[Signature]Glyph, len(file.Glyphs))
	for i, e := range file.Glyphs {
		sig, err := ParseSignature(e.Sig)
		if err != nil {
			return nil, fmt.Errorf("tiles: glyph %d: %w", i, err)
		}
		role, ok := types.ParseRole(e.Role)
		if !ok {
			return nil, fmt.Errorf("tiles: glyph %d: unknown role %q", i, e.Role)
		}
		if prev, dup := glyphs[sig]; dup && prev.ID != e.ID {
			return nil, fmt.Errorf("tiles: signature %s maps to ids %d and %d", sig, prev.ID, e.ID)
		}

		g := Glyph{ID: e.ID, Text: e.Text, Width: e.Width, Role: role}
		if g.Text == "" {
			if tt, ok := text[e.ID]; ok {
				g.Text, g.Key = tt.Text, tt.Key
				if tt.Key != 0 && g.Width == 0 {
					g.Width = 2
				}
			}
		}
		glyphs[sig] = g
	}

	return NewDictionary(glyphs)
}
