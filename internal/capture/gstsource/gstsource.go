// Package gstsource is the GStreamer video source: any URI uridecodebin can
// open (rtsp, rtmp, http, file) decoded to GRAY8 frames through an appsink.
package gstsource

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/tilefeed/internal/capture"
	"github.com/e7canasta/tilefeed/internal/types"
)

// Config contains configuration for the GStreamer source
type Config struct {
	URI    string // Stream URI or local file path
	Width  int    // Output frame width
	Height int    // Output frame height

	// StartTimeout bounds the wait for the pipeline to reach PLAYING.
	StartTimeout time.Duration
}

// Opener opens a fresh GStreamer pipeline per connection.
type Opener struct {
	cfg Config
}

// NewOpener validates cfg and returns an Opener.
func NewOpener(cfg Config) (*Opener, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("gstsource: URI is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("gstsource: invalid frame size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 5 * time.Second
	}
	return &Opener{cfg: cfg}, nil
}

// Open implements capture.Opener.
func (o *Opener) Open(ctx context.Context) (capture.Source, error) {
	// Initialize GStreamer (safe to call multiple times)
	gst.Init(nil)

	uri, err := NormalizeURI(o.cfg.URI)
	if err != nil {
		return nil, err
	}
	launch := LaunchString(uri, o.cfg.Width, o.cfg.Height)

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, &capture.SourceError{
			Category: capture.ErrCategoryCodec,
			Err:      fmt.Errorf("gstsource: create pipeline: %w", err),
		}
	}

	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("gstsource: appsink not found: %w", err)
	}
	sink := app.SinkFromElement(elem)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("gstsource: start pipeline: %w", err)
	}

	src := &Source{
		pipeline: pipeline,
		sink:     sink,
		bus:      pipeline.GetPipelineBus(),
		eos:      EndOfStream(uri),
		width:    o.cfg.Width,
		height:   o.cfg.Height,
	}

	if err := src.waitPlaying(ctx, o.cfg.StartTimeout); err != nil {
		src.Close()
		return nil, err
	}

	slog.Info("gstsource: pipeline playing",
		"uri", redact(uri),
		"resolution", fmt.Sprintf("%dx%d", o.cfg.Width, o.cfg.Height),
	)
	return src, nil
}

// Source reads frames from a running pipeline.
type Source struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
	bus      *gst.Bus
	eos      error

	width  int
	height int

	sample    *gst.Sample
	closeOnce sync.Once
}

// waitPlaying drains the bus until the pipeline reports PLAYING, an error,
// or the timeout.
func (s *Source) waitPlaying(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg := s.bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			return busError(msg)
		case gst.MessageEOS:
			return s.eos
		case gst.MessageStateChanged:
			if msg.Source() != s.pipeline.GetName() {
				continue
			}
			if _, newState := msg.ParseStateChanged(); newState == gst.StatePlaying {
				return nil
			}
		}
	}
	return &capture.SourceError{
		Category: capture.ErrCategoryNetwork,
		Err:      fmt.Errorf("gstsource: pipeline did not reach PLAYING within %v", timeout),
	}
}

// Grab pulls the next sample. A pending bus error wins over the sample.
func (s *Source) Grab() error {
	if err := s.pollBus(); err != nil {
		return err
	}

	sample := s.sink.PullSample()
	if sample == nil {
		if s.sink.IsEOS() {
			return s.eos
		}
		if err := s.pollBus(); err != nil {
			return err
		}
		return &capture.SourceError{
			Category: capture.ErrCategoryUnknown,
			Err:      fmt.Errorf("gstsource: appsink returned no sample"),
		}
	}
	s.sample = sample
	return nil
}

// Retrieve copies the last grabbed sample into a frame.
func (s *Source) Retrieve() (*types.Frame, error) {
	if s.sample == nil {
		return nil, fmt.Errorf("gstsource: retrieve before grab")
	}

	buffer := s.sample.GetBuffer()
	if buffer == nil {
		return nil, fmt.Errorf("gstsource: sample without buffer")
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	img, err := CopyGray(data, s.width, s.height)
	buffer.Unmap()
	if err != nil {
		return nil, &capture.SourceError{Category: capture.ErrCategoryCodec, Err: err}
	}

	return &types.Frame{Timestamp: time.Now(), Image: img}, nil
}

// Close stops the pipeline. Safe to call more than once.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.sample = nil
		if serr := s.pipeline.SetState(gst.StateNull); serr != nil {
			err = fmt.Errorf("gstsource: set pipeline to NULL: %w", serr)
		}
	})
	return err
}

func (s *Source) pollBus() error {
	for {
		msg := s.bus.TimedPop(0)
		if msg == nil {
			return nil
		}
		switch msg.Type() {
		case gst.MessageError:
			return busError(msg)
		case gst.MessageEOS:
			return s.eos
		}
	}
}

// ErrStreamEnded reports an EOS on a live stream. Unlike the end of a local
// file it is a connection loss: the grabber reopens the source.
var ErrStreamEnded = errors.New("gstsource: live stream ended")

// IsLive reports whether a normalized URI is a network stream.
func IsLive(uri string) bool {
	return !strings.HasPrefix(strings.ToLower(uri), "file://")
}

// EndOfStream returns the error an EOS on uri maps to: capture.ErrEndOfStream
// for local files, a network SourceError wrapping ErrStreamEnded otherwise.
func EndOfStream(uri string) error {
	if !IsLive(uri) {
		return capture.ErrEndOfStream
	}
	return &capture.SourceError{Category: capture.ErrCategoryNetwork, Err: ErrStreamEnded}
}

func busError(msg *gst.Message) error {
	gerr := msg.ParseError()
	category := ClassifyGStreamerError(gerr)

	slog.Error("gstsource: pipeline error",
		"error", gerr.Error(),
		"debug", gerr.DebugString(),
		"category", category.String(),
	)
	return &capture.SourceError{
		Category: category,
		Err:      fmt.Errorf("gstsource: pipeline error [%s]: %s", category, gerr.Error()),
	}
}

// ClassifyGStreamerError categorizes a GStreamer error for telemetry.
// go-gst's GError does not expose the domain, so the message and debug
// strings are matched.
func ClassifyGStreamerError(gerr *gst.GError) capture.ErrorCategory {
	if gerr == nil {
		return capture.ErrCategoryUnknown
	}
	return capture.ClassifyMessage(gerr.Error() + " " + gerr.DebugString())
}

// LaunchString builds the gst-launch description for a URI decoded to
// width x height GRAY8.
func LaunchString(uri string, width, height int) string {
	return fmt.Sprintf(
		"uridecodebin uri=%s ! videoconvert ! videoscale ! "+
			"video/x-raw,format=GRAY8,width=%d,height=%d ! "+
			"appsink name=sink sync=false max-buffers=4 drop=false",
		quote(uri), width, height,
	)
}

// NormalizeURI turns a bare file path into a file:// URI.
func NormalizeURI(s string) (string, error) {
	if strings.Contains(s, "://") {
		return s, nil
	}
	abs, err := filepath.Abs(s)
	if err != nil {
		return "", fmt.Errorf("gstsource: resolve path %q: %w", s, err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// CopyGray copies a GRAY8 buffer into an image, honouring row padding.
// GStreamer pads GRAY8 rows to a multiple of 4 bytes.
func CopyGray(data []byte, width, height int) (*image.Gray, error) {
	if height <= 0 || len(data) < width*height {
		return nil, fmt.Errorf("gstsource: buffer of %d bytes too small for %dx%d", len(data), width, height)
	}
	stride := len(data) / height
	if stride < width {
		stride = width
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		start := y * stride
		if start+width > len(data) {
			return nil, fmt.Errorf("gstsource: truncated buffer at row %d", y)
		}
		copy(img.Pix[y*img.Stride:y*img.Stride+width], data[start:start+width])
	}
	return img, nil
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// redact hides credentials in a URI before logging.
func redact(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return uri
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		if slash := strings.Index(rest, "/"); slash < 0 || at < slash {
			return scheme + "://***@" + rest[at+1:]
		}
	}
	return uri
}
