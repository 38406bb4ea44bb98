package config

import (
	"fmt"
	"image"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. TILEFEED_SOURCE_URI.
const EnvPrefix = "TILEFEED_"

// Config represents the complete tilefeed configuration
type Config struct {
	InstanceID       string `yaml:"instance_id" env:"INSTANCE_ID"`
	ShutdownTimeoutS int    `yaml:"shutdown_timeout_s" env:"SHUTDOWN_TIMEOUT_S"` // graceful shutdown timeout in seconds (default: 5)

	Source      SourceConfig      `yaml:"source" envPrefix:"SOURCE_"`
	Queue       QueueConfig       `yaml:"queue" envPrefix:"QUEUE_"`
	Processing  ProcessingConfig  `yaml:"processing" envPrefix:"PROCESSING_"`
	Recognition RecognitionConfig `yaml:"recognition" envPrefix:"RECOGNITION_"`
	Timestamp   TimestampConfig   `yaml:"timestamp" envPrefix:"TIMESTAMP_"`
	Dialog      DialogConfig      `yaml:"dialog" envPrefix:"DIALOG_"`
	Delta       DeltaConfig       `yaml:"delta" envPrefix:"DELTA_"`
	Battle      BattleConfig      `yaml:"battle" envPrefix:"BATTLE_"`
	Output      OutputConfig      `yaml:"output" envPrefix:"OUTPUT_"`
	MQTT        MQTTConfig        `yaml:"mqtt" envPrefix:"MQTT_"`
	Web         WebConfig         `yaml:"web" envPrefix:"WEB_"`
}

// SourceConfig selects and configures the video source
type SourceConfig struct {
	Kind      string `yaml:"kind" env:"KIND"` // gstreamer, dir, mock (default: gstreamer)
	URI       string `yaml:"uri" env:"URI"`   // stream URI, file path or frame directory
	Width     int    `yaml:"width" env:"WIDTH"`
	Height    int    `yaml:"height" env:"HEIGHT"`
	FrameSkip int    `yaml:"frame_skip" env:"FRAME_SKIP"`

	RetryDelay    time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`         // fixed reconnect delay (default: 5s)
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" env:"MAX_RETRY_DELAY"` // > retry_delay enables exponential backoff
	StartTimeout  time.Duration `yaml:"start_timeout" env:"START_TIMEOUT"`

	// MockFrames bounds the mock source; 0 is endless.
	MockFrames int `yaml:"mock_frames" env:"MOCK_FRAMES"`
}

// QueueConfig sizes the frame queue
type QueueConfig struct {
	Capacity    int           `yaml:"capacity" env:"CAPACITY"`
	PushTimeout time.Duration `yaml:"push_timeout" env:"PUSH_TIMEOUT"`
	PopTimeout  time.Duration `yaml:"pop_timeout" env:"POP_TIMEOUT"`
}

// ProcessingConfig configures the processing loop
type ProcessingConfig struct {
	FPS       int    `yaml:"fps" env:"FPS"`               // nominal source frame rate
	LowWater  int    `yaml:"low_water" env:"LOW_WATER"`   // queue depth below which pacing applies
	RateLimit string `yaml:"rate_limit" env:"RATE_LIMIT"` // auto, on, off
}

// Rect is a pixel rectangle
type Rect struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
	W int `yaml:"w"`
	H int `yaml:"h"`
}

// Image converts r to an image.Rectangle.
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// RecognitionConfig configures screen extraction and tile recognition
type RecognitionConfig struct {
	Dictionary    string `yaml:"dictionary" env:"DICTIONARY"` // glyph dictionary YAML (required)
	Crop          Rect   `yaml:"crop"`
	Cols          int    `yaml:"cols" env:"COLS"`
	Rows          int    `yaml:"rows" env:"ROWS"`
	Interpolation string `yaml:"interpolation" env:"INTERPOLATION"`
	Threshold     int    `yaml:"threshold" env:"THRESHOLD"`
	Shade         bool   `yaml:"shade" env:"SHADE"`
}

// TimestampConfig configures the play time overlay reader
type TimestampConfig struct {
	Rect      Rect    `yaml:"rect"`
	Threshold int     `yaml:"threshold" env:"THRESHOLD"`
	Cutoff    float64 `yaml:"cutoff" env:"CUTOFF"`
}

// DialogConfig configures the dialog reader
type DialogConfig struct {
	MaxDist int `yaml:"max_dist" env:"MAX_DIST"`
	CornerX int `yaml:"corner_x" env:"CORNER_X"`
	CornerY int `yaml:"corner_y" env:"CORNER_Y"`
}

// DeltaConfig configures the delta codecs
type DeltaConfig struct {
	MinMatch int `yaml:"min_match" env:"MIN_MATCH"`
}

// BattleConfig configures the battle tracker
type BattleConfig struct {
	HistorySize int      `yaml:"history_size" env:"HISTORY_SIZE"`
	BarScheme   string   `yaml:"bar_scheme" env:"BAR_SCHEME"`
	Noise       []string `yaml:"noise"`
}

// OutputConfig configures the local outputs. Empty paths disable an output.
type OutputConfig struct {
	TextLog  string `yaml:"text_log" env:"TEXT_LOG"`
	FrameLog string `yaml:"frame_log" env:"FRAME_LOG"` // strftime pattern
	Database string `yaml:"database" env:"DATABASE"`
}

// MQTTConfig contains MQTT broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker      string `yaml:"broker" env:"BROKER"`
	ClientID    string `yaml:"client_id" env:"CLIENT_ID"`
	FramesTopic string `yaml:"frames_topic" env:"FRAMES_TOPIC"`
	DialogTopic string `yaml:"dialog_topic" env:"DIALOG_TOPIC"`
	QoS         byte   `yaml:"qos" env:"QOS"`
	Codec       string `yaml:"codec" env:"CODEC"` // json, msgpack
}

// WebConfig configures the websocket feed. An empty listen address disables it.
type WebConfig struct {
	Listen           string `yaml:"listen" env:"LISTEN"`
	KeyframeInterval int    `yaml:"keyframe_interval" env:"KEYFRAME_INTERVAL"`
}

// Load reads a YAML configuration file, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyEnv overrides cfg fields from TILEFEED_* environment variables.
// Unset variables leave the field alone.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
