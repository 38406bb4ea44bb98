package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Default frame log pattern, strftime expanded at startup.
const DefaultFrameLog = "frames/%Y%m%d-%H%M%S.bin.gz"

// Validate fills defaults and checks if the configuration is valid
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "tilefeed"
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if err := validateSource(&cfg.Source); err != nil {
		return fmt.Errorf("source: %w", err)
	}

	// Queue
	if cfg.Queue.Capacity <= 0 {
		cfg.Queue.Capacity = 120
	}
	if cfg.Queue.PushTimeout <= 0 {
		cfg.Queue.PushTimeout = 5 * time.Millisecond
	}
	if cfg.Queue.PopTimeout <= 0 {
		cfg.Queue.PopTimeout = 24 * time.Hour
	}

	// Processing
	if cfg.Processing.FPS <= 0 {
		cfg.Processing.FPS = 60
	}
	if cfg.Processing.LowWater <= 0 {
		cfg.Processing.LowWater = 60
	}
	if cfg.Processing.LowWater > cfg.Queue.Capacity {
		return fmt.Errorf("processing.low_water (%d) must not exceed queue.capacity (%d)",
			cfg.Processing.LowWater, cfg.Queue.Capacity)
	}
	switch cfg.Processing.RateLimit {
	case "":
		cfg.Processing.RateLimit = "auto"
	case "auto", "on", "off":
	default:
		return fmt.Errorf("processing.rate_limit must be auto, on or off, got %q", cfg.Processing.RateLimit)
	}

	if err := validateRecognition(&cfg.Recognition, cfg.Source); err != nil {
		return fmt.Errorf("recognition: %w", err)
	}

	// Timestamp overlay
	if cfg.Timestamp.Rect == (Rect{}) {
		cfg.Timestamp.Rect = Rect{X: 232, Y: 9, W: 147, H: 25}
	}
	if cfg.Timestamp.Threshold == 0 {
		cfg.Timestamp.Threshold = 150
	}
	if cfg.Timestamp.Threshold < 0 || cfg.Timestamp.Threshold > 255 {
		return fmt.Errorf("timestamp.threshold must be in 0..255")
	}
	if cfg.Timestamp.Cutoff == 0 {
		cfg.Timestamp.Cutoff = 0.6
	}
	if cfg.Timestamp.Cutoff < 0 || cfg.Timestamp.Cutoff > 1 {
		return fmt.Errorf("timestamp.cutoff must be in [0,1]")
	}

	// Dialog
	if cfg.Dialog.MaxDist <= 0 {
		cfg.Dialog.MaxDist = 3
	}
	if cfg.Dialog.CornerX == 0 && cfg.Dialog.CornerY == 0 {
		cfg.Dialog.CornerY = 12
	}
	if cfg.Dialog.CornerX >= cfg.Recognition.Cols || cfg.Dialog.CornerY >= cfg.Recognition.Rows {
		return fmt.Errorf("dialog corner (%d,%d) outside the %dx%d grid",
			cfg.Dialog.CornerX, cfg.Dialog.CornerY, cfg.Recognition.Cols, cfg.Recognition.Rows)
	}

	// Delta
	if cfg.Delta.MinMatch <= 0 {
		cfg.Delta.MinMatch = 4
	}
	if cfg.Delta.MinMatch < 3 {
		return fmt.Errorf("delta.min_match must be >= 3")
	}

	// Battle
	if cfg.Battle.HistorySize <= 0 {
		cfg.Battle.HistorySize = 50
	}
	if cfg.Battle.BarScheme != "" && len([]rune(cfg.Battle.BarScheme)) != 9 {
		return fmt.Errorf("battle.bar_scheme must have 9 runes (0..8 filled pixels)")
	}

	if cfg.Output.FrameLog == "" {
		cfg.Output.FrameLog = DefaultFrameLog
	}

	// MQTT (optional)
	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = cfg.InstanceID
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
		switch cfg.MQTT.Codec {
		case "":
			cfg.MQTT.Codec = "json"
		case "json", "msgpack":
		default:
			return fmt.Errorf("mqtt.codec must be json or msgpack, got %q", cfg.MQTT.Codec)
		}
	}

	if cfg.Web.KeyframeInterval <= 0 {
		cfg.Web.KeyframeInterval = 120
	}

	return nil
}

func validateSource(s *SourceConfig) error {
	switch s.Kind {
	case "":
		s.Kind = "gstreamer"
	case "gstreamer", "dir", "mock":
	default:
		return fmt.Errorf("kind must be gstreamer, dir or mock, got %q", s.Kind)
	}
	if s.URI == "" && s.Kind != "mock" {
		return fmt.Errorf("uri is required for kind %s", s.Kind)
	}
	if s.Width <= 0 {
		s.Width = 640
	}
	if s.Height <= 0 {
		s.Height = 480
	}
	if s.FrameSkip < 0 {
		return fmt.Errorf("frame_skip must be >= 0")
	}
	if s.RetryDelay <= 0 {
		s.RetryDelay = 5 * time.Second
	}
	if s.StartTimeout <= 0 {
		s.StartTimeout = 5 * time.Second
	}
	return nil
}

func validateRecognition(r *RecognitionConfig, src SourceConfig) error {
	if r.Dictionary == "" {
		return fmt.Errorf("dictionary is required")
	}
	if _, err := os.Stat(r.Dictionary); err != nil {
		return fmt.Errorf("dictionary: %w", err)
	}
	if r.Crop == (Rect{}) {
		r.Crop = Rect{X: 8, Y: 41, W: 480, H: 432}
	}
	frame := Rect{W: src.Width, H: src.Height}.Image()
	if !r.Crop.Image().In(frame) {
		return fmt.Errorf("crop %v outside the %dx%d frame", r.Crop.Image(), src.Width, src.Height)
	}
	if r.Cols <= 0 {
		r.Cols = 20
	}
	if r.Rows <= 0 {
		r.Rows = 18
	}
	if r.Interpolation == "" {
		r.Interpolation = "area"
	}
	if r.Threshold == 0 {
		r.Threshold = 128
	}
	if r.Threshold < 0 || r.Threshold > 255 {
		return fmt.Errorf("threshold must be in 0..255")
	}
	return nil
}

// RateLimitEnabled resolves processing.rate_limit. "auto" paces live
// streams and lets local files and frame directories run as fast as
// processing allows.
func (c *Config) RateLimitEnabled() bool {
	switch c.Processing.RateLimit {
	case "on":
		return true
	case "off":
		return false
	}
	return !c.Source.IsLocal()
}

// IsLocal reports whether the source reads local files.
func (s SourceConfig) IsLocal() bool {
	switch s.Kind {
	case "dir":
		return true
	case "mock":
		return false
	}
	u, err := url.Parse(s.URI)
	if err != nil || u.Scheme == "" || filepath.VolumeName(s.URI) != "" {
		return true
	}
	return u.Scheme == "file"
}

// FrameInterval is the nominal time between source frames.
func (c *Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.Processing.FPS)
}

// ShutdownTimeout returns the graceful shutdown timeout.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}
