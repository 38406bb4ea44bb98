// Package capture pulls frames from a video source and feeds the frame queue.
//
// The source itself (live network stream, file, image corpus) is an external
// collaborator behind the Source interface. This package owns the capture
// loop: grab, optional frame skipping, retrieve, push with drop-on-full, and
// an infinite reconnect policy with a fixed delay.
package capture

import (
	"context"
	"errors"

	"github.com/e7canasta/tilefeed/internal/types"
)

// ErrEndOfStream is returned by a finite source (file, corpus) when it has no
// more frames. The grabber stops instead of reconnecting.
var ErrEndOfStream = errors.New("capture: end of stream")

// Source yields decoded grayscale frames on demand.
//
// Implementations must guarantee:
//   - Grab advances to the next frame without decoding it when possible
//   - Retrieve decodes the most recently grabbed frame
//   - Close is idempotent
//
// A Source is used from a single goroutine.
type Source interface {
	// Grab advances the source by one frame.
	Grab() error

	// Retrieve returns the frame selected by the last Grab.
	// The returned frame is owned by the caller.
	Retrieve() (*types.Frame, error)

	// Close releases the underlying stream.
	Close() error
}

// Opener establishes a connection to a source.
// Called again after every failure, so it must be safe to call repeatedly.
type Opener interface {
	Open(ctx context.Context) (Source, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context) (Source, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context) (Source, error) {
	return f(ctx)
}
