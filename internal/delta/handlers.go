package delta

import (
	"bytes"
	"errors"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/e7canasta/tilefeed/internal/pipeline"
)

var errNoDense = errors.New("delta: no dense text in frame context")

// TextDelta is the pipeline stage encoding the dense text of each frame
// against the previous one into FrameContext.TextDelta.
type TextDelta struct {
	text *Text
}

// NewTextDelta creates the stage.
func NewTextDelta(minMatch int) *TextDelta {
	return &TextDelta{text: NewText(minMatch)}
}

// Name implements pipeline.Handler.
func (h *TextDelta) Name() string { return "text-delta" }

// Handle implements pipeline.Handler.
func (h *TextDelta) Handle(fc *pipeline.FrameContext) (pipeline.Outcome, error) {
	if fc.Grid == nil {
		return pipeline.Failed, errNoDense
	}
	d, err := h.text.Next(fc.Dense)
	if err != nil {
		return pipeline.Failed, err
	}
	fc.TextDelta = d
	return pipeline.Continue, nil
}

// FrameCompressor is the pipeline stage quantizing the screen to 2 bits,
// dropping frames identical to the previous one after quantization, packing
// the rest and appending them to the frame log (when one is configured).
type FrameCompressor struct {
	packer Packer
	log    *FrameLog

	n       uint64
	last    []uint8
	scratch []uint8
}

// NewFrameCompressor creates the stage. log may be nil.
func NewFrameCompressor(packer Packer, log *FrameLog) *FrameCompressor {
	if packer == nil {
		packer = Screen2bpp
	}
	return &FrameCompressor{packer: packer, log: log}
}

// Name implements pipeline.Handler.
func (h *FrameCompressor) Name() string { return "frame-compressor" }

// Handle implements pipeline.Handler.
func (h *FrameCompressor) Handle(fc *pipeline.FrameContext) (pipeline.Outcome, error) {
	h.n++
	if fc.Screen == nil {
		return pipeline.Failed, errors.New("delta: no screen in frame context")
	}

	h.scratch = Quantize(fc.Screen, h.scratch)
	if h.last != nil && bytes.Equal(h.scratch, h.last) {
		return pipeline.Continue, nil
	}
	h.last, h.scratch = h.scratch, h.last

	packed := make([]byte, h.packer.PackedSize())
	if err := h.packer.Pack(h.last, packed); err != nil {
		return pipeline.Failed, err
	}
	fc.Packed = packed

	if h.log == nil {
		return pipeline.Continue, nil
	}
	err := h.log.Append(Record{
		Seconds: uint32(fc.Elapsed.TotalSeconds()),
		Seq:     uint8(h.n),
		Payload: packed,
	})
	if err != nil {
		return pipeline.Failed, err
	}
	if h.log.Records()%3600 == 0 {
		slog.Info("delta: frame log progress",
			"records", h.log.Records(),
			"written", humanize.Bytes(uint64(h.log.Written())),
		)
	}
	return pipeline.Continue, nil
}

// Close closes the frame log.
func (h *FrameCompressor) Close() error {
	if h.log == nil {
		return nil
	}
	slog.Info("delta: frame log closed",
		"records", h.log.Records(),
		"written", humanize.Bytes(uint64(h.log.Written())),
	)
	return h.log.Close()
}
