package emitter

import (
	"log/slog"
	"sync/atomic"

	"github.com/e7canasta/tilefeed/internal/delta"
	"github.com/e7canasta/tilefeed/internal/pipeline"
	"github.com/e7canasta/tilefeed/internal/types"
)

// FrameEvents is the pipeline stage publishing a frame event whenever the
// text delta is non-empty. Publish errors are counted, never returned.
type FrameEvents struct {
	pub    Publisher
	errors atomic.Uint64
}

// NewFrameEvents creates the stage.
func NewFrameEvents(pub Publisher) *FrameEvents {
	return &FrameEvents{pub: pub}
}

// Name implements pipeline.Handler.
func (h *FrameEvents) Name() string { return "frame-events" }

// Handle implements pipeline.Handler.
func (h *FrameEvents) Handle(fc *pipeline.FrameContext) (pipeline.Outcome, error) {
	if fc.TextDelta == "" {
		return pipeline.Continue, nil
	}
	ev := types.FrameEvent{
		Timestamp:  fc.Elapsed.String(),
		TimestampS: fc.Elapsed.TotalSeconds(),
		DenseDelta: fc.TextDelta,
	}
	if fc.Frame != nil {
		ev.Seq = fc.Frame.Seq
		ev.TraceID = fc.Frame.TraceID
	}
	if err := h.pub.PublishFrame(ev); err != nil {
		if h.errors.Add(1) == 1 {
			slog.Warn("emitter: frame publish failed, further failures logged at debug", "error", err)
		} else {
			slog.Debug("emitter: frame publish failed", "seq", ev.Seq, "error", err)
		}
	}
	return pipeline.Continue, nil
}

// Errors returns the number of failed publishes.
func (h *FrameEvents) Errors() uint64 { return h.errors.Load() }

// DialogEvents publishes every finished utterance. HandleUtterance has the
// dialog subscriber signature.
type DialogEvents struct {
	pub    Publisher
	errors atomic.Uint64
}

// NewDialogEvents creates the subscriber.
func NewDialogEvents(pub Publisher) *DialogEvents {
	return &DialogEvents{pub: pub}
}

// HandleUtterance publishes u.
func (d *DialogEvents) HandleUtterance(u types.Utterance, _ *types.TextGrid) {
	ev := types.DialogEvent{Time: u.Time, Text: u.Text, Lines: u.Lines}
	if err := d.pub.PublishDialog(ev); err != nil {
		d.errors.Add(1)
		slog.Warn("emitter: dialog publish failed", "time", u.Time, "error", err)
	}
}

// Errors returns the number of failed publishes.
func (d *DialogEvents) Errors() uint64 { return d.errors.Load() }

// Screen feed message kinds, the first byte of every binary message.
const (
	FeedKeyframe byte = 'K'
	FeedDelta    byte = 'D'
)

// DefaultKeyframeInterval is the number of changed screens between keyframes.
const DefaultKeyframeInterval = 120

// ScreenFeed is the pipeline stage streaming the packed screen to the hub.
// A keyframe carries the whole packed screen; a delta carries the spans
// against the previous message (delta.AppendSpans layout). A keyframe is
// sent first, after every KeyframeInterval deltas and whenever a client joins.
type ScreenFeed struct {
	hub   *Hub
	codec delta.BytesCodec
	every int

	prev      []byte
	joins     uint64
	sinceKey  int
	keyframes uint64
	deltas    uint64
}

// NewScreenFeed creates the stage.
func NewScreenFeed(hub *Hub, minMatch, keyframeInterval int) *ScreenFeed {
	if minMatch < delta.MinMatchFloor {
		minMatch = delta.MinMatchFloor
	}
	if keyframeInterval <= 0 {
		keyframeInterval = DefaultKeyframeInterval
	}
	return &ScreenFeed{hub: hub, codec: delta.BytesCodec{MinMatch: minMatch}, every: keyframeInterval}
}

// Name implements pipeline.Handler.
func (f *ScreenFeed) Name() string { return "screen-feed" }

// Handle implements pipeline.Handler.
func (f *ScreenFeed) Handle(fc *pipeline.FrameContext) (pipeline.Outcome, error) {
	if fc.Packed == nil {
		return pipeline.Continue, nil
	}
	if f.hub.Clients() == 0 {
		f.prev = nil
		return pipeline.Continue, nil
	}

	msg, err := f.Encode(fc.Packed, f.hub.Joins())
	if err != nil {
		return pipeline.Failed, err
	}
	f.hub.BroadcastBinary(msg)
	return pipeline.Continue, nil
}

// Encode builds the next feed message for packed. joins is the hub's join
// counter; a change forces a keyframe.
func (f *ScreenFeed) Encode(packed []byte, joins uint64) ([]byte, error) {
	var msg []byte
	if f.prev == nil || joins != f.joins || f.sinceKey >= f.every || len(f.prev) != len(packed) {
		msg = append(make([]byte, 0, len(packed)+1), FeedKeyframe)
		msg = append(msg, packed...)
		f.sinceKey = 0
		f.keyframes++
	} else {
		spans, err := f.codec.Encode(f.prev, packed)
		if err != nil {
			return nil, err
		}
		msg = delta.AppendSpans([]byte{FeedDelta}, spans)
		f.sinceKey++
		f.deltas++
	}
	f.joins = joins
	f.prev = append(f.prev[:0], packed...)
	return msg, nil
}

// DecodeFeed applies one feed message to the previous screen, returning
// the new packed screen. prev may be nil only for a keyframe.
func DecodeFeed(prev, msg []byte) ([]byte, error) {
	if len(msg) == 0 {
		return nil, delta.ErrCorrupt
	}
	switch msg[0] {
	case FeedKeyframe:
		return append([]byte(nil), msg[1:]...), nil
	case FeedDelta:
		spans, err := delta.ReadSpans(msg[1:])
		if err != nil {
			return nil, err
		}
		return delta.BytesCodec{}.Decode(prev, spans)
	default:
		return nil, delta.ErrCorrupt
	}
}
