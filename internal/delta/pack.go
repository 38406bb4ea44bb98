package delta

import (
	"fmt"
	"image"
)

// Packer converts a quantized screen (one value in [0,3] per pixel,
// row-major) to and from its packed form.
type Packer interface {
	PackedSize() int
	Pack(quantized []uint8, out []byte) error
	Unpack(packed []byte, quantized []uint8) error
}

// TwoBPP packs 2-bit pixels tile by tile: for every 8x8 tile in row-major
// tile order, each of its 8 pixel rows becomes two bytes, first pixel in the
// low bits. Identical tiles therefore produce identical 16-byte runs, which
// compresses well.
type TwoBPP struct {
	Cols, Rows int // tiles
}

// Screen2bpp is the packer for a 160x144 screen (5760 bytes).
var Screen2bpp = TwoBPP{Cols: 20, Rows: 18}

func (p TwoBPP) width() int { return p.Cols * 8 }

func (p TwoBPP) pixels() int { return p.Cols * p.Rows * 64 }

// PackedSize returns the packed length in bytes.
func (p TwoBPP) PackedSize() int { return p.pixels() / 4 }

// Pack implements Packer.
func (p TwoBPP) Pack(in []uint8, out []byte) error {
	if len(in) != p.pixels() || len(out) < p.PackedSize() {
		return fmt.Errorf("delta: pack %d pixels into %d bytes, want %d and %d", len(in), len(out), p.pixels(), p.PackedSize())
	}

	w := p.width()
	o := 0
	for y := 0; y < p.Rows; y++ {
		for x := 0; x < p.Cols; x++ {
			for n := 0; n < 8; n++ {
				ind := (y*8+n)*w + x*8
				out[o] = in[ind]&3 | (in[ind+1]&3)<<2 | (in[ind+2]&3)<<4 | (in[ind+3]&3)<<6
				ind += 4
				out[o+1] = in[ind]&3 | (in[ind+1]&3)<<2 | (in[ind+2]&3)<<4 | (in[ind+3]&3)<<6
				o += 2
			}
		}
	}
	return nil
}

// Unpack implements Packer.
func (p TwoBPP) Unpack(packed []byte, out []uint8) error {
	if len(packed) < p.PackedSize() || len(out) != p.pixels() {
		return fmt.Errorf("delta: unpack %d bytes into %d pixels, want %d and %d", len(packed), len(out), p.PackedSize(), p.pixels())
	}

	w := p.width()
	off := 0
	for y := 0; y < p.Rows; y++ {
		for x := 0; x < p.Cols; x++ {
			for n := 0; n < 8; n++ {
				a := uint16(packed[off]) | uint16(packed[off+1])<<8
				off += 2
				row := (y*8+n)*w + x*8
				for nx := 0; nx < 8; nx++ {
					out[row+nx] = uint8(a & 3)
					a >>= 2
				}
			}
		}
	}
	return nil
}

// Quantize reduces a screen to 2 bits per pixel (value >> 6), row-major.
func Quantize(img *image.Gray, out []uint8) []uint8 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if cap(out) < w*h {
		out = make([]uint8, w*h)
	}
	out = out[:w*h]
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w]
		for x, v := range row {
			out[y*w+x] = v >> 6
		}
	}
	return out
}

// Pack2bpp packs a quantized 160x144 screen into 5760 bytes.
func Pack2bpp(quantized []uint8, out []byte) error {
	return Screen2bpp.Pack(quantized, out)
}

// Unpack2bpp is the inverse of Pack2bpp.
func Unpack2bpp(packed []byte, quantized []uint8) error {
	return Screen2bpp.Unpack(packed, quantized)
}
