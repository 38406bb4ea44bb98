package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/tilefeed/internal/framequeue"
)

// Config configures the processing loop.
type Config struct {
	// PopTimeout is the safety timeout of a queue pop; on expiry the loop
	// logs and waits again.
	PopTimeout time.Duration

	// FrameInterval is the nominal source frame interval (1/fps). A pass
	// longer than this is logged as slow.
	FrameInterval time.Duration

	// RateLimit enables PaceDelay between frames.
	RateLimit bool

	// LowWater is the queue depth below which pacing applies.
	LowWater int
}

// Stats is a snapshot of processing counters.
type Stats struct {
	Processed uint64
	Skipped   uint64
	Slow      uint64
	Panics    uint64

	// Failures counts failed passes per handler name.
	Failures map[string]uint64
}

// Processor is the single consumer of the frame queue.
//
// Thread-safety: Run is called once. Stats may be called from any goroutine.
type Processor struct {
	queue    *framequeue.Queue
	handlers []Handler
	cfg      Config

	processed atomic.Uint64
	skipped   atomic.Uint64
	slow      atomic.Uint64
	panics    atomic.Uint64

	mu       sync.Mutex
	failures map[string]uint64

	lastPace time.Time
	sleep    func(ctx context.Context, d time.Duration)
}

// NewProcessor creates a processor running handlers in order.
func NewProcessor(queue *framequeue.Queue, cfg Config, handlers ...Handler) *Processor {
	return &Processor{
		queue:    queue,
		handlers: handlers,
		cfg:      cfg,
		failures: make(map[string]uint64),
		sleep:    sleepCtx,
	}
}

// Run processes frames until the queue is closed and drained (returns nil)
// or ctx is cancelled (returns ctx.Err()).
func (p *Processor) Run(ctx context.Context) error {
	slog.Info("pipeline: processor started",
		"handlers", len(p.handlers),
		"rate_limit", p.cfg.RateLimit,
	)

	for {
		frame, err := p.queue.Pop(ctx, p.cfg.PopTimeout)
		switch {
		case err == nil:
		case errors.Is(err, framequeue.ErrTimeout):
			slog.Warn("pipeline: no frame received", "timeout", p.cfg.PopTimeout)
			continue
		case errors.Is(err, framequeue.ErrClosed):
			slog.Info("pipeline: queue closed, processor stopping",
				"processed", p.processed.Load(),
			)
			return nil
		default:
			return err
		}

		p.Process(NewFrameContext(frame))
		p.pace(ctx)
	}
}

// Process runs the handler chain on one frame.
func (p *Processor) Process(fc *FrameContext) {
	start := time.Now()
	p.processed.Add(1)

	for _, h := range p.handlers {
		outcome, err := p.invoke(h, fc)
		if err != nil || outcome == Failed {
			p.fail(h.Name())
			slog.Error("pipeline: handler failed",
				"handler", h.Name(),
				"seq", fc.Frame.Seq,
				"error", err,
			)
			continue
		}
		if outcome == SkipRest {
			p.skipped.Add(1)
			break
		}
	}

	if elapsed := time.Since(start); p.cfg.FrameInterval > 0 && elapsed > p.cfg.FrameInterval {
		p.slow.Add(1)
		slog.Debug("pipeline: slow frame",
			"seq", fc.Frame.Seq,
			"elapsed", elapsed,
			"interval", p.cfg.FrameInterval,
			"queued", p.queue.Len(),
		)
	}
}

// invoke runs one handler, turning a panic into an error.
func (p *Processor) invoke(h Handler, fc *FrameContext) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			outcome, err = Failed, fmt.Errorf("pipeline: handler %s panicked: %v", h.Name(), r)
		}
	}()
	return h.Handle(fc)
}

func (p *Processor) fail(name string) {
	p.mu.Lock()
	p.failures[name]++
	p.mu.Unlock()
}

func (p *Processor) pace(ctx context.Context) {
	if !p.cfg.RateLimit {
		return
	}
	now := time.Now()
	sinceLast := p.cfg.FrameInterval
	if !p.lastPace.IsZero() {
		sinceLast = now.Sub(p.lastPace)
	}
	if d := PaceDelay(p.cfg.FrameInterval, sinceLast, p.queue.Len(), p.cfg.LowWater); d > 0 {
		p.sleep(ctx, d)
	}
	p.lastPace = time.Now()
}

// Stats returns processing counters.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	failures := make(map[string]uint64, len(p.failures))
	for k, v := range p.failures {
		failures[k] = v
	}
	p.mu.Unlock()

	return Stats{
		Processed: p.processed.Load(),
		Skipped:   p.skipped.Load(),
		Slow:      p.slow.Load(),
		Panics:    p.panics.Load(),
		Failures:  failures,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
