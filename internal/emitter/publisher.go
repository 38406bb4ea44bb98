// Package emitter publishes frame and dialog events to the outside world.
//
// Publishing is fire-and-forget: failures are counted and logged, never
// propagated into the processing loop.
package emitter

import (
	"errors"
	"log/slog"

	"github.com/e7canasta/tilefeed/internal/types"
)

// Publisher receives the events produced by the pipeline.
type Publisher interface {
	PublishFrame(ev types.FrameEvent) error
	PublishDialog(ev types.DialogEvent) error
	Close() error
}

// Stats contains publisher statistics
type Stats struct {
	Connected bool
	Published map[string]uint64 // count per topic
	Errors    uint64
}

// LogPublisher writes every event to the structured log.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// PublishFrame implements Publisher.
func (p LogPublisher) PublishFrame(ev types.FrameEvent) error {
	p.logger().Debug("emitter: frame",
		"seq", ev.Seq,
		"timestamp", ev.Timestamp,
		"delta_len", len(ev.DenseDelta),
	)
	return nil
}

// PublishDialog implements Publisher.
func (p LogPublisher) PublishDialog(ev types.DialogEvent) error {
	p.logger().Info("emitter: dialog", "time", ev.Time, "text", ev.Text)
	return nil
}

// Close implements Publisher.
func (LogPublisher) Close() error { return nil }

// Multi fans every event out to all publishers. A failing publisher does
// not stop delivery to the others; the errors are joined.
type Multi []Publisher

// PublishFrame implements Publisher.
func (m Multi) PublishFrame(ev types.FrameEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishFrame(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishDialog implements Publisher.
func (m Multi) PublishDialog(ev types.DialogEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishDialog(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher.
func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
