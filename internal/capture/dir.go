package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/image/draw"

	"github.com/e7canasta/tilefeed/internal/types"
)

// DirSource replays a directory of still images (PNG or JPEG) in file name
// order. It is finite: ErrEndOfStream after the last file.
type DirSource struct {
	dir   string
	files []string
	pos   int
}

// NewDirSource lists the image files in dir.
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("capture: read corpus dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, fmt.Errorf("capture: no images in %s", dir)
	}
	return &DirSource{dir: dir, files: files, pos: -1}, nil
}

// Open implements Opener. Reopening after a failure resumes at the next file.
func (d *DirSource) Open(ctx context.Context) (Source, error) {
	return d, nil
}

// Grab implements Source.
func (d *DirSource) Grab() error {
	if d.pos+1 >= len(d.files) {
		return ErrEndOfStream
	}
	d.pos++
	return nil
}

// Retrieve decodes the current file into a grayscale frame.
func (d *DirSource) Retrieve() (*types.Frame, error) {
	if d.pos < 0 {
		return nil, fmt.Errorf("capture: retrieve before grab")
	}
	path := d.files[d.pos]

	img, err := decodeGray(path)
	if err != nil {
		return nil, &SourceError{Category: ErrCategoryCodec, Err: err}
	}
	return &types.Frame{Timestamp: time.Now(), Image: img}, nil
}

// Close implements Source.
func (d *DirSource) Close() error { return nil }

func decodeGray(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if g, ok := src.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g, nil
	}

	b := src.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), src, b.Min, draw.Src)
	return gray, nil
}
