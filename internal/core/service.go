// Package core wires the capture side, the handler chain and the outputs
// into one service.
package core

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/e7canasta/tilefeed/internal/battle"
	"github.com/e7canasta/tilefeed/internal/capture"
	"github.com/e7canasta/tilefeed/internal/capture/gstsource"
	"github.com/e7canasta/tilefeed/internal/config"
	"github.com/e7canasta/tilefeed/internal/delta"
	"github.com/e7canasta/tilefeed/internal/dialog"
	"github.com/e7canasta/tilefeed/internal/emitter"
	"github.com/e7canasta/tilefeed/internal/framequeue"
	"github.com/e7canasta/tilefeed/internal/pipeline"
	"github.com/e7canasta/tilefeed/internal/screen"
	"github.com/e7canasta/tilefeed/internal/store"
	"github.com/e7canasta/tilefeed/internal/textlog"
	"github.com/e7canasta/tilefeed/internal/tiles"
	"github.com/e7canasta/tilefeed/internal/timestamp"
	"github.com/e7canasta/tilefeed/internal/types"
)

// Option customizes a Service at construction
type Option func(s *Service)

// WithOpener replaces the source selected by the configuration.
func WithOpener(o capture.Opener) Option {
	return func(s *Service) { s.opener = o }
}

// WithStatsInterval sets the period of the stats log line (default 30s).
func WithStatsInterval(d time.Duration) Option {
	return func(s *Service) { s.statsInterval = d }
}

// Service is the main orchestrator: one capture goroutine feeding the frame
// queue, one processing goroutine running the handler chain.
type Service struct {
	cfg *config.Config

	// Core components
	opener    capture.Opener
	queue     *framequeue.Queue
	grabber   *capture.Grabber
	processor *pipeline.Processor
	reader    *dialog.Reader
	tracker   *battle.Tracker
	timestamp *timestamp.Recognizer

	// Outputs, nil when disabled
	mqtt       *emitter.MQTTEmitter
	hub        *emitter.Hub
	publisher  emitter.Publisher
	frames     *emitter.FrameEvents
	dialogs    *emitter.DialogEvents
	store      *store.Store
	textLog    *textlog.Writer
	compressor *delta.FrameCompressor
	http       *http.Server

	statsInterval time.Duration

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	cancel    context.CancelFunc
}

// NewService builds every component from cfg. Missing or invalid
// recognition assets are fatal here, before anything starts.
func NewService(cfg *config.Config, opts ...Option) (*Service, error) {
	s := &Service{cfg: cfg, statsInterval: 30 * time.Second}
	for _, opt := range opts {
		opt(s)
	}

	dict, err := tiles.LoadDictionary(cfg.Recognition.Dictionary)
	if err != nil {
		return nil, fmt.Errorf("failed to load dictionary: %w", err)
	}
	slog.Info("dictionary loaded",
		"path", cfg.Recognition.Dictionary,
		"glyphs", dict.Len(),
	)

	if s.opener == nil {
		if s.opener, err = newOpener(cfg.Source); err != nil {
			return nil, fmt.Errorf("failed to create source: %w", err)
		}
	}

	if err := s.initOutputs(); err != nil {
		s.closeOutputs()
		return nil, err
	}

	handlers, err := s.buildChain(dict)
	if err != nil {
		s.closeOutputs()
		return nil, err
	}

	s.queue = framequeue.New(cfg.Queue.Capacity)
	s.grabber = capture.NewGrabber(s.opener, s.queue, capture.GrabberConfig{
		FrameSkip:   cfg.Source.FrameSkip,
		PushTimeout: cfg.Queue.PushTimeout,
		Reconnect: capture.ReconnectConfig{
			RetryDelay:    cfg.Source.RetryDelay,
			MaxRetryDelay: cfg.Source.MaxRetryDelay,
		},
	})
	s.processor = pipeline.NewProcessor(s.queue, pipeline.Config{
		PopTimeout:    cfg.Queue.PopTimeout,
		FrameInterval: cfg.FrameInterval(),
		RateLimit:     cfg.RateLimitEnabled(),
		LowWater:      cfg.Processing.LowWater,
	}, handlers...)

	names := make([]string, len(handlers))
	for i, h := range handlers {
		names[i] = h.Name()
	}
	slog.Info("handler chain configured",
		"handlers", names,
		"rate_limit", cfg.RateLimitEnabled(),
	)

	return s, nil
}

func newOpener(src config.SourceConfig) (capture.Opener, error) {
	switch src.Kind {
	case "dir":
		return capture.NewDirSource(src.URI)
	case "mock":
		m := capture.NewMockSource(src.Width, src.Height)
		m.Limit = src.MockFrames
		return m, nil
	default:
		return gstsource.NewOpener(gstsource.Config{
			URI:          src.URI,
			Width:        src.Width,
			Height:       src.Height,
			StartTimeout: src.StartTimeout,
		})
	}
}

// initOutputs opens the publishers, the store and the local logs.
func (s *Service) initOutputs() error {
	cfg := s.cfg
	var pubs emitter.Multi

	if cfg.MQTT.Broker != "" {
		codec, err := emitter.CodecByName(cfg.MQTT.Codec)
		if err != nil {
			return err
		}
		s.mqtt = emitter.NewMQTTEmitter(emitter.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			FramesTopic: cfg.MQTT.FramesTopic,
			DialogTopic: cfg.MQTT.DialogTopic,
			QoS:         cfg.MQTT.QoS,
		}, codec)
		pubs = append(pubs, s.mqtt)
	}
	if cfg.Web.Listen != "" {
		s.hub = emitter.NewHub(emitter.HubConfig{})
		pubs = append(pubs, s.hub)
	}
	if len(pubs) == 0 {
		pubs = append(pubs, emitter.LogPublisher{})
	}
	s.publisher = pubs

	if cfg.Output.Database != "" {
		st, err := store.Open(cfg.Output.Database)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		s.store = st
	}

	if cfg.Output.TextLog != "" {
		w, err := textlog.OpenFile(cfg.Output.TextLog)
		if err != nil {
			return fmt.Errorf("failed to open text log: %w", err)
		}
		s.textLog = w
	}
	return nil
}

// buildChain creates the stages in processing order: timestamp, screen
// (may end the chain), tiles, text delta, frame compressor, text log,
// events, screen feed, dialog. The dialog reader feeds the battle tracker,
// the dialog publisher and the store.
func (s *Service) buildChain(dict *tiles.Dictionary) ([]pipeline.Handler, error) {
	cfg := s.cfg
	rc := cfg.Recognition

	s.timestamp = timestamp.NewRecognizer(timestamp.Options{
		Rect:      cfg.Timestamp.Rect.Image(),
		Threshold: uint8(cfg.Timestamp.Threshold),
		Cutoff:    cfg.Timestamp.Cutoff,
	})

	scaler, err := screen.Interpolator(rc.Interpolation)
	if err != nil {
		return nil, err
	}
	size := image.Pt(rc.Cols*tiles.TileSize, rc.Rows*tiles.TileSize)
	extractor := screen.NewExtractor(rc.Crop.Image(), size, scaler)

	rec := tiles.NewRecognizer(dict, tiles.Options{
		Cols:      rc.Cols,
		Rows:      rc.Rows,
		Threshold: uint8(rc.Threshold),
		Shade:     rc.Shade,
	})

	var frameLog *delta.FrameLog
	if cfg.Output.FrameLog != "" && cfg.Output.FrameLog != "-" {
		l, path, err := delta.CreateFrameLog(cfg.Output.FrameLog, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to create frame log: %w", err)
		}
		frameLog = l
		slog.Info("frame log created", "path", path)
	}
	s.compressor = delta.NewFrameCompressor(delta.TwoBPP{Cols: rc.Cols, Rows: rc.Rows}, frameLog)

	handlers := []pipeline.Handler{
		timestamp.NewHandler(s.timestamp),
		extractor,
		tiles.NewHandler(rec),
		delta.NewTextDelta(cfg.Delta.MinMatch),
		s.compressor,
	}
	if s.textLog != nil {
		handlers = append(handlers, s.textLog)
	}
	s.frames = emitter.NewFrameEvents(s.publisher)
	handlers = append(handlers, s.frames)
	if s.hub != nil {
		handlers = append(handlers, emitter.NewScreenFeed(s.hub, cfg.Delta.MinMatch, cfg.Web.KeyframeInterval))
	}

	filler, _ := utf8.DecodeRuneInString(rec.Filler())
	s.reader = dialog.NewReader(cfg.Dialog.MaxDist, filler)

	var exporter battle.Exporter = battle.LogExporter{}
	if s.store != nil {
		exporter = battle.MultiExporter{s.store, battle.LogExporter{}}
	}
	s.tracker = battle.NewTracker(battle.Config{
		HistorySize: cfg.Battle.HistorySize,
		BarScheme:   cfg.Battle.BarScheme,
		Noise:       cfg.Battle.Noise,
	}, exporter)

	s.dialogs = emitter.NewDialogEvents(s.publisher)
	s.reader.Subscribe(s.tracker.HandleUtterance)
	s.reader.Subscribe(s.dialogs.HandleUtterance)
	if s.store != nil {
		s.reader.Subscribe(s.recordUtterance)
	}

	handlers = append(handlers, dialog.NewHandler(s.reader, image.Pt(cfg.Dialog.CornerX, cfg.Dialog.CornerY)))
	return handlers, nil
}

func (s *Service) recordUtterance(u types.Utterance, _ *types.TextGrid) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.RecordUtterance(ctx, u); err != nil {
		slog.Warn("failed to record utterance", "error", err)
	}
}

// Run starts the service and blocks until ctx is cancelled or a finite
// source is exhausted and drained.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	slog.Info("tilefeed service starting",
		"instance_id", s.cfg.InstanceID,
		"source", s.cfg.Source.Kind,
	)

	// Publishing is fire-and-forget; a broker that is down at startup only
	// costs the events until the client reconnects.
	if s.mqtt != nil {
		if err := s.mqtt.Connect(ctx); err != nil {
			slog.Warn("mqtt connect failed, events will be dropped until it reconnects", "error", err)
		}
	}

	if s.cfg.Web.Listen != "" {
		if err := s.startHTTP(s.cfg.Web.Listen); err != nil {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
			return err
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.grabber.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("capture stopped", "error", err)
		}
	}()

	processed := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		processed <- s.processor.Run(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logStats(ctx)
	}()

	slog.Info("tilefeed service running")

	var err error
	select {
	case <-ctx.Done():
	case err = <-processed:
		if err == nil {
			slog.Info("source exhausted, processing drained")
		}
	}

	slog.Info("tilefeed service run loop exiting")
	return err
}

func (s *Service) logStats(ctx context.Context) {
	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q := s.queue.Stats()
			p := s.processor.Stats()
			g := s.grabber.Stats()
			slog.Info("stats",
				"queue_len", q.Len,
				"dropped", q.Dropped,
				"drop_rate", fmt.Sprintf("%.2f%%", q.DropRate()),
				"processed", p.Processed,
				"skipped", p.Skipped,
				"slow", p.Slow,
				"reconnects", g.Reconnects,
				"source_fps", fmt.Sprintf("%.1f", g.Rate.FPSMean),
				"errors", s.frames.Errors()+s.dialogs.Errors(),
			)
		}
	}
}

// Shutdown performs graceful shutdown of all components
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.mu.Unlock()

	slog.Info("shutting down tilefeed service")

	// 1. Stop capture and processing
	cancel()

	// 2. Wait for goroutines to finish
	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	var err error
	select {
	case <-waited:
		slog.Info("all goroutines finished")
	case <-ctx.Done():
		err = fmt.Errorf("shutdown: %w", ctx.Err())
		slog.Error("goroutines did not finish in time", "error", ctx.Err())
	}

	// 3. Close the open encounter and the outputs
	s.tracker.Flush()
	if s.http != nil {
		if herr := s.http.Shutdown(ctx); herr != nil {
			slog.Error("failed to stop http server", "error", herr)
		}
	}
	s.closeOutputs()

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("tilefeed service shutdown complete",
		"uptime", uptime,
		"processed", s.processor.Stats().Processed,
		"transcripts", s.tracker.Closed(),
	)
	return err
}

func (s *Service) closeOutputs() {
	if s.compressor != nil {
		if err := s.compressor.Close(); err != nil {
			slog.Error("failed to close frame log", "error", err)
		}
	}
	if s.textLog != nil {
		if err := s.textLog.Close(); err != nil {
			slog.Error("failed to close text log", "error", err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			slog.Error("failed to close publishers", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Error("failed to close store", "error", err)
		}
	}
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (s *Service) ShutdownTimeout() time.Duration {
	return s.cfg.ShutdownTimeout()
}

// Tracker exposes the battle tracker.
func (s *Service) Tracker() *battle.Tracker { return s.tracker }
