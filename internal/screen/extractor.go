// Package screen extracts the emulator screen from a raw stream frame.
package screen

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/e7canasta/tilefeed/internal/pipeline"
)

// ErrNoImage is returned for a frame without pixels.
var ErrNoImage = errors.New("screen: frame has no image")

// Area is a box-filter kernel. When downscaling by an integer factor it
// averages each source block, the usual choice for pixel-art screens.
var Area = &draw.Kernel{Support: 0.5, At: func(t float64) float64 { return 1 }}

// Interpolator returns the scaler named by s: "area", "bilinear",
// "approx-bilinear", "catmull-rom" or "nearest".
func Interpolator(s string) (draw.Scaler, error) {
	switch s {
	case "", "area":
		return Area, nil
	case "bilinear":
		return draw.BiLinear, nil
	case "approx-bilinear":
		return draw.ApproxBiLinear, nil
	case "catmull-rom":
		return draw.CatmullRom, nil
	case "nearest":
		return draw.NearestNeighbor, nil
	default:
		return nil, fmt.Errorf("screen: unknown interpolation %q", s)
	}
}

// Extractor crops the screen rectangle out of each raw frame and resizes it
// to the native screen size.
//
// When the resized screen is byte-identical to the previous one it returns
// pipeline.SkipRest: nothing downstream can change on an unchanged screen.
type Extractor struct {
	crop   image.Rectangle
	size   image.Point
	scaler draw.Scaler

	prev *image.Gray
}

// NewExtractor creates an extractor for the given crop rectangle (raw frame
// coordinates) and output size.
func NewExtractor(crop image.Rectangle, size image.Point, scaler draw.Scaler) *Extractor {
	if scaler == nil {
		scaler = Area
	}
	return &Extractor{crop: crop, size: size, scaler: scaler}
}

// Name implements pipeline.Handler.
func (e *Extractor) Name() string { return "screen" }

// Handle implements pipeline.Handler.
func (e *Extractor) Handle(fc *pipeline.FrameContext) (pipeline.Outcome, error) {
	if fc.Frame == nil || fc.Frame.Image == nil {
		return pipeline.Failed, ErrNoImage
	}

	scr, err := e.Extract(fc.Frame.Image)
	if err != nil {
		return pipeline.Failed, err
	}

	unchanged := e.prev != nil && bytes.Equal(e.prev.Pix, scr.Pix)
	e.prev = scr
	fc.Screen = scr

	if unchanged {
		return pipeline.SkipRest, nil
	}
	return pipeline.Continue, nil
}

// Extract returns the resized screen of raw.
func (e *Extractor) Extract(raw *image.Gray) (*image.Gray, error) {
	crop := e.crop.Add(raw.Rect.Min)
	if !crop.In(raw.Rect) {
		return nil, fmt.Errorf("screen: crop %v outside frame %v", e.crop, raw.Rect)
	}

	dst := image.NewGray(image.Rectangle{Max: e.size})
	if crop.Size() == e.size {
		draw.Copy(dst, image.Point{}, raw, crop, draw.Src, nil)
		return dst, nil
	}
	e.scaler.Scale(dst, dst.Rect, raw, crop, draw.Src, nil)
	return dst, nil
}
