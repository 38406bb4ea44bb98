package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/tilefeed/internal/framequeue"
)

// GrabberConfig configures the capture loop.
type GrabberConfig struct {
	// FrameSkip is the number of extra frames grabbed (not decoded) between
	// retrieved frames. 0 retrieves every frame.
	FrameSkip int

	// PushTimeout bounds how long a full queue may block capture.
	PushTimeout time.Duration

	Reconnect ReconnectConfig
}

// GrabberStats is a snapshot of capture counters.
type GrabberStats struct {
	Grabbed    uint64
	Retrieved  uint64
	Reconnects uint32
	Errors     map[string]uint64
	Connected  bool

	// Rate is the retrieval rate of the current connection
	Rate RateStats
}

// Grabber owns the capture goroutine: it reads frames from a Source and
// pushes them into the frame queue.
//
// Failure policy: any error other than ErrEndOfStream closes the source and
// reopens it after a fixed delay, forever. ErrEndOfStream closes the queue so
// the processor can drain and stop.
type Grabber struct {
	opener Opener
	queue  *framequeue.Queue
	cfg    GrabberConfig

	seq        atomic.Uint64
	grabbed    atomic.Uint64
	retrieved  atomic.Uint64
	reconnects atomic.Uint32
	connected  atomic.Bool
	rate       *RateMeter

	mu     sync.Mutex
	errors map[ErrorCategory]uint64
}

// NewGrabber creates a grabber. The queue is closed when Run returns.
func NewGrabber(opener Opener, queue *framequeue.Queue, cfg GrabberConfig) *Grabber {
	if cfg.FrameSkip < 0 {
		cfg.FrameSkip = 0
	}
	if cfg.Reconnect.RetryDelay <= 0 {
		cfg.Reconnect = DefaultReconnectConfig()
	}
	return &Grabber{
		opener: opener,
		queue:  queue,
		cfg:    cfg,
		rate:   NewRateMeter(DefaultRateWindow),
		errors: make(map[ErrorCategory]uint64),
	}
}

// Run captures until ctx is cancelled or the source reports end of stream.
// It always closes the queue before returning.
//
// Returns nil on end of stream, ctx.Err() on cancellation.
func (g *Grabber) Run(ctx context.Context) error {
	defer g.queue.Close()

	state := &ReconnectState{Reconnects: &g.reconnects}

	err := RunWithReconnect(ctx, func(ctx context.Context) error {
		return g.session(ctx, state)
	}, g.cfg.Reconnect, state)

	slog.Info("capture: grabber stopped",
		"retrieved", g.retrieved.Load(),
		"reconnects", g.reconnects.Load(),
		"error", err,
	)
	return err
}

// session runs one connection. Returns nil at end of stream.
func (g *Grabber) session(ctx context.Context, state *ReconnectState) error {
	src, err := g.opener.Open(ctx)
	if err != nil {
		g.countError(err)
		return fmt.Errorf("capture: open source: %w", err)
	}
	defer func() {
		g.connected.Store(false)
		if cerr := src.Close(); cerr != nil {
			slog.Debug("capture: close source", "error", cerr)
		}
	}()

	g.connected.Store(true)
	g.rate.Reset()
	slog.Info("capture: source opened", "frame_skip", g.cfg.FrameSkip)

	first := true
	retrieved := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		for i := 0; i <= g.cfg.FrameSkip; i++ {
			if err := src.Grab(); err != nil {
				return g.sessionEnd(err)
			}
			g.grabbed.Add(1)
		}

		frame, err := src.Retrieve()
		if err != nil {
			return g.sessionEnd(err)
		}

		if first {
			ResetReconnectState(state)
			first = false
		}

		frame.Seq = g.seq.Add(1)
		if frame.Timestamp.IsZero() {
			frame.Timestamp = time.Now()
		}
		if frame.TraceID == "" {
			frame.TraceID = uuid.New().String()
		}
		g.retrieved.Add(1)
		g.rate.Observe(frame.Timestamp)
		if retrieved++; retrieved == DefaultRateWindow {
			g.logRate()
		}

		if !g.queue.Push(frame, g.cfg.PushTimeout) {
			slog.Debug("capture: frame dropped, queue full", "seq", frame.Seq)
		}
	}
}

func (g *Grabber) logRate() {
	r := g.rate.Stats()
	slog.Info("capture: source rate measured",
		"frames", r.Frames,
		"fps_mean", fmt.Sprintf("%.2f", r.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", r.FPSStdDev),
		"jitter_mean", r.JitterMean,
		"stable", r.Stable,
	)
}

func (g *Grabber) sessionEnd(err error) error {
	if errors.Is(err, ErrEndOfStream) {
		slog.Info("capture: end of stream", "retrieved", g.retrieved.Load())
		return nil
	}
	g.countError(err)
	return fmt.Errorf("capture: read frame: %w", err)
}

func (g *Grabber) countError(err error) {
	cat := Classify(err)
	g.mu.Lock()
	g.errors[cat]++
	g.mu.Unlock()
}

// Stats returns capture counters.
func (g *Grabber) Stats() GrabberStats {
	g.mu.Lock()
	errs := make(map[string]uint64, len(g.errors))
	for cat, n := range g.errors {
		errs[cat.String()] = n
	}
	g.mu.Unlock()

	return GrabberStats{
		Grabbed:    g.grabbed.Load(),
		Retrieved:  g.retrieved.Load(),
		Reconnects: g.reconnects.Load(),
		Errors:     errs,
		Connected:  g.connected.Load(),
		Rate:       g.rate.Stats(),
	}
}
