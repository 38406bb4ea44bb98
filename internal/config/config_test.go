package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	dict := filepath.Join(dir, "glyphs.yaml")
	if err := os.WriteFile(dict, []byte("glyphs: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	body = strings.ReplaceAll(body, "$DICT", dict)
	path := filepath.Join(dir, "tilefeed.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
source:
  uri: rtsp://stream.example/live
recognition:
  dictionary: $DICT
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	checks := []struct {
		name     string
		got, want any
	}{
		{"kind", cfg.Source.Kind, "gstreamer"},
		{"width", cfg.Source.Width, 640},
		{"retry", cfg.Source.RetryDelay, 5 * time.Second},
		{"capacity", cfg.Queue.Capacity, 120},
		{"push", cfg.Queue.PushTimeout, 5 * time.Millisecond},
		{"pop", cfg.Queue.PopTimeout, 24 * time.Hour},
		{"fps", cfg.Processing.FPS, 60},
		{"low water", cfg.Processing.LowWater, 60},
		{"rate limit", cfg.Processing.RateLimit, "auto"},
		{"crop", cfg.Recognition.Crop, Rect{X: 8, Y: 41, W: 480, H: 432}},
		{"interp", cfg.Recognition.Interpolation, "area"},
		{"ts rect", cfg.Timestamp.Rect, Rect{X: 232, Y: 9, W: 147, H: 25}},
		{"ts threshold", cfg.Timestamp.Threshold, 150},
		{"max dist", cfg.Dialog.MaxDist, 3},
		{"corner y", cfg.Dialog.CornerY, 12},
		{"min match", cfg.Delta.MinMatch, 4},
		{"history", cfg.Battle.HistorySize, 50},
		{"frame log", cfg.Output.FrameLog, DefaultFrameLog},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if !cfg.RateLimitEnabled() {
		t.Error("live stream should be rate limited under auto")
	}
	if cfg.FrameInterval() != time.Second/60 {
		t.Errorf("FrameInterval() = %v", cfg.FrameInterval())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
source:
  uri: rtsp://stream.example/live
queue:
  capacity: 30
  push_timeout: 10ms
recognition:
  dictionary: $DICT
`)
	t.Setenv("TILEFEED_SOURCE_URI", "/videos/run.mp4")
	t.Setenv("TILEFEED_QUEUE_CAPACITY", "200")
	t.Setenv("TILEFEED_MQTT_BROKER", "localhost:1883")
	t.Setenv("TILEFEED_MQTT_CODEC", "msgpack")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Source.URI != "/videos/run.mp4" {
		t.Errorf("uri = %q", cfg.Source.URI)
	}
	if cfg.Queue.Capacity != 200 {
		t.Errorf("capacity = %d, want env value 200", cfg.Queue.Capacity)
	}
	if cfg.Queue.PushTimeout != 10*time.Millisecond {
		t.Errorf("push timeout = %v, want file value", cfg.Queue.PushTimeout)
	}
	if cfg.MQTT.Codec != "msgpack" || cfg.MQTT.ClientID != "tilefeed" {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	if cfg.RateLimitEnabled() {
		t.Error("local file should not be rate limited under auto")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no uri", "recognition: {dictionary: $DICT}", "uri is required"},
		{"bad kind", "source: {kind: v4l, uri: x}\nrecognition: {dictionary: $DICT}", "kind must be"},
		{"no dictionary", "source: {uri: x}", "dictionary is required"},
		{"missing dictionary", "source: {uri: x}\nrecognition: {dictionary: /nope/glyphs.yaml}", "dictionary:"},
		{"crop outside", "source: {uri: x, width: 320, height: 240}\nrecognition: {dictionary: $DICT}", "outside"},
		{"rate limit", "source: {uri: x}\nprocessing: {rate_limit: fast}\nrecognition: {dictionary: $DICT}", "rate_limit"},
		{"low water", "source: {uri: x}\nqueue: {capacity: 10}\nrecognition: {dictionary: $DICT}", "low_water"},
		{"min match", "source: {uri: x}\ndelta: {min_match: 2}\nrecognition: {dictionary: $DICT}", "min_match"},
		{"bar scheme", "source: {uri: x}\nbattle: {bar_scheme: abc}\nrecognition: {dictionary: $DICT}", "bar_scheme"},
		{"instance", "instance_id: Bad_Id\nsource: {uri: x}\nrecognition: {dictionary: $DICT}", "instance_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestSourceIsLocal(t *testing.T) {
	tests := []struct {
		src  SourceConfig
		want bool
	}{
		{SourceConfig{Kind: "gstreamer", URI: "rtsp://host/stream"}, false},
		{SourceConfig{Kind: "gstreamer", URI: "https://host/live.m3u8"}, false},
		{SourceConfig{Kind: "gstreamer", URI: "file:///videos/a.mp4"}, true},
		{SourceConfig{Kind: "gstreamer", URI: "videos/a.mp4"}, true},
		{SourceConfig{Kind: "dir", URI: "frames"}, true},
		{SourceConfig{Kind: "mock"}, false},
	}
	for _, tt := range tests {
		if got := tt.src.IsLocal(); got != tt.want {
			t.Errorf("IsLocal(%+v) = %v, want %v", tt.src, got, tt.want)
		}
	}
}
