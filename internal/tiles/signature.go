// Package tiles turns an emulator screen into a grid of text by exact
// pattern matching of 8x8 tiles against a pre-built dictionary.
package tiles

import (
	"fmt"
	"image"
	"math/bits"
	"strconv"
	"strings"
)

// TileSize is the edge of a tile in screen pixels.
const TileSize = 8

// Signature is the 1-bit rendering of an 8x8 tile, one bit per pixel.
//
// Bit layout is column-major with the first pixel most significant:
// pixel (x, y) is bit 63-(x*8+y). A set bit is a dark pixel.
type Signature uint64

// Invert returns the signature of the same glyph drawn with swapped
// foreground and background.
func (s Signature) Invert() Signature {
	return ^s
}

// Dark counts the dark pixels of the tile.
func (s Signature) Dark() int {
	return bits.OnesCount64(uint64(s))
}

// String renders the signature as 16 hex digits, the form used in
// dictionary files.
func (s Signature) String() string {
	return fmt.Sprintf("%016X", uint64(s))
}

// ParseSignature reads a hex signature with or without a 0x prefix.
func ParseSignature(s string) (Signature, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("tiles: bad signature %q: %w", s, err)
	}
	return Signature(v), nil
}

// SignatureAt computes the signature of tile (tx, ty) of img. Pixels darker
// than threshold are set bits. Pixels outside img count as light.
func SignatureAt(img *image.Gray, tx, ty int, threshold uint8) Signature {
	var sig Signature
	x0 := img.Rect.Min.X + tx*TileSize
	y0 := img.Rect.Min.Y + ty*TileSize

	for x := 0; x < TileSize; x++ {
		for y := 0; y < TileSize; y++ {
			sig <<= 1
			p := image.Point{X: x0 + x, Y: y0 + y}
			if !p.In(img.Rect) {
				continue
			}
			if img.Pix[img.PixOffset(p.X, p.Y)] < threshold {
				sig |= 1
			}
		}
	}
	return sig
}

// Paint draws sig into tile (tx, ty) of img using the given dark and light
// shades. It is the inverse of SignatureAt for any threshold in (dark, light].
func Paint(img *image.Gray, tx, ty int, sig Signature, dark, light uint8) {
	x0 := img.Rect.Min.X + tx*TileSize
	y0 := img.Rect.Min.Y + ty*TileSize

	bit := 63
	for x := 0; x < TileSize; x++ {
		for y := 0; y < TileSize; y++ {
			p := image.Point{X: x0 + x, Y: y0 + y}
			if p.In(img.Rect) {
				v := light
				if sig&(1<<uint(bit)) != 0 {
					v = dark
				}
				img.Pix[img.PixOffset(p.X, p.Y)] = v
			}
			bit--
		}
	}
}
