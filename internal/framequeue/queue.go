// Package framequeue couples the capture goroutine to the processing goroutine.
//
// The queue is a bounded FIFO. The producer never blocks for longer than a
// short push timeout: when the queue is full the newest frame is dropped and
// counted, nothing is returned to the caller as an error. The consumer blocks
// until a frame arrives, a (long) safety timeout elapses, the context is
// cancelled, or the queue is closed and drained.
package framequeue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/tilefeed/internal/types"
)

var (
	// ErrClosed is returned by Pop once the queue is closed and drained.
	ErrClosed = errors.New("framequeue: closed")

	// ErrTimeout is returned by Pop when no frame arrived within the timeout.
	ErrTimeout = errors.New("framequeue: pop timeout")
)

// Queue is a bounded FIFO of frames.
//
// Thread-safety:
//   - Push: safe for concurrent use, typically one capture goroutine
//   - Pop: safe for concurrent use, typically one processing goroutine
//   - Close: idempotent
//
// Ordering: frames are popped in push order. Dropped frames are absent, never
// reordered.
type Queue struct {
	frames chan *types.Frame

	done      chan struct{}
	closeOnce sync.Once

	pushed  atomic.Uint64
	dropped atomic.Uint64
	popped  atomic.Uint64
}

// New creates a queue holding at most capacity frames.
// A capacity below 1 is raised to 1.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		frames: make(chan *types.Frame, capacity),
		done:   make(chan struct{}),
	}
}

// Push enqueues a frame, waiting at most timeout for room.
//
// Semantics:
//   - Room available: enqueued immediately, returns true
//   - Full for longer than timeout: frame dropped, drop counter incremented,
//     returns false
//   - timeout <= 0: never waits
//   - Closed queue: frame dropped, returns false
//
// Push never returns an error; overflow is a normal condition.
func (q *Queue) Push(frame *types.Frame, timeout time.Duration) bool {
	select {
	case <-q.done:
		q.dropped.Add(1)
		return false
	default:
	}

	// Fast path: room available
	select {
	case q.frames <- frame:
		q.pushed.Add(1)
		return true
	default:
	}

	if timeout <= 0 {
		q.dropped.Add(1)
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case q.frames <- frame:
		q.pushed.Add(1)
		return true
	case <-timer.C:
		q.dropped.Add(1)
		return false
	case <-q.done:
		q.dropped.Add(1)
		return false
	}
}

// Pop dequeues the oldest frame.
//
// Blocks until:
//   - a frame is available (returned)
//   - timeout elapses (ErrTimeout), timeout <= 0 waits forever
//   - ctx is cancelled (ctx.Err())
//   - the queue is closed and every buffered frame was already popped (ErrClosed)
//
// Frames pushed before Close are still delivered after it.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*types.Frame, error) {
	select {
	case f := <-q.frames:
		q.popped.Add(1)
		return f, nil
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case f := <-q.frames:
		q.popped.Add(1)
		return f, nil
	case <-q.done:
		// Drain what was buffered before Close
		select {
		case f := <-q.frames:
			q.popped.Add(1)
			return f, nil
		default:
			return nil, ErrClosed
		}
	case <-expired:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting frames. Buffered frames remain poppable.
// Idempotent.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Len returns the number of buffered frames.
func (q *Queue) Len() int {
	return len(q.frames)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.frames)
}
