package capture

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/tilefeed/internal/types"
)

// MockSource generates synthetic grayscale frames for testing and dry runs.
//
// Frames cycle through Images when given, otherwise a blank width x height
// image is produced. With Limit > 0 the source reports ErrEndOfStream after
// Limit frames; with FPS > 0 Grab sleeps to emulate a live feed.
type MockSource struct {
	width  int
	height int

	Images []*image.Gray
	Limit  int
	FPS    int

	mu      sync.Mutex
	grabbed int
	last    time.Time
	closed  bool
}

// NewMockSource creates a mock source of blank frames.
func NewMockSource(width, height int) *MockSource {
	return &MockSource{width: width, height: height}
}

// Grab implements Source.
func (m *MockSource) Grab() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("mock source closed")
	}
	if m.Limit > 0 && m.grabbed >= m.Limit {
		return ErrEndOfStream
	}

	if m.FPS > 0 {
		interval := time.Second / time.Duration(m.FPS)
		if wait := interval - time.Since(m.last); wait > 0 && !m.last.IsZero() {
			time.Sleep(wait)
		}
		m.last = time.Now()
	}

	m.grabbed++
	return nil
}

// Retrieve implements Source.
func (m *MockSource) Retrieve() (*types.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.grabbed == 0 {
		return nil, fmt.Errorf("mock source: retrieve before grab")
	}

	var img *image.Gray
	if len(m.Images) > 0 {
		src := m.Images[(m.grabbed-1)%len(m.Images)]
		img = image.NewGray(src.Bounds())
		copy(img.Pix, src.Pix)
	} else {
		img = image.NewGray(image.Rect(0, 0, m.width, m.height))
	}

	return &types.Frame{
		Timestamp: time.Now(),
		Image:     img,
	}, nil
}

// Close implements Source.
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		slog.Debug("capture: mock source closed", "frames", m.grabbed)
	}
	m.closed = true
	return nil
}

// Open implements Opener. The frame count survives reopening, so a limited
// mock stays at end of stream.
func (m *MockSource) Open(ctx context.Context) (Source, error) {
	m.mu.Lock()
	m.closed = false
	m.mu.Unlock()
	return m, nil
}
