// Package types holds the values passed between pipeline stages.
package types

import (
	"fmt"
	"image"
	"time"
)

// Frame represents a single decoded video frame
type Frame struct {
	// Seq is the monotonic sequence number assigned by the capture side
	Seq uint64
	// Timestamp is when the frame was retrieved from the source
	Timestamp time.Time
	// Image is the 8-bit grayscale pixel data
	Image *image.Gray
	// TraceID is a unique identifier for following one frame through the logs
	TraceID string
}

// Width returns the frame width in pixels
func (f *Frame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels
func (f *Frame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// Elapsed is the in-game play time shown by the stream overlay
type Elapsed struct {
	Days    int
	Hours   int
	Minutes int
	Seconds int
}

// String renders the value the way the overlay shows it, e.g. "1d2h3m4s"
func (e Elapsed) String() string {
	return fmt.Sprintf("%dd%dh%dm%ds", e.Days, e.Hours, e.Minutes, e.Seconds)
}

// TotalSeconds returns the elapsed time in seconds
func (e Elapsed) TotalSeconds() int64 {
	return ((int64(e.Days)*24+int64(e.Hours))*60+int64(e.Minutes))*60 + int64(e.Seconds)
}

// Duration converts the value to a time.Duration
func (e Elapsed) Duration() time.Duration {
	return time.Duration(e.TotalSeconds()) * time.Second
}
