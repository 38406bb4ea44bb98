package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/e7canasta/tilefeed/internal/config"
	"github.com/e7canasta/tilefeed/internal/core"
)

const defaultConfigPath = "config/tilefeed.yaml"

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	source := flag.String("f", "", "Read this stream URI or video file instead of the configured source")
	flag.Parse()

	// Setup structured logger: text on a terminal, JSON otherwise
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))

	slog.Info("starting tilefeed",
		"config", *configPath,
		"debug", *debug,
	)

	cfg, err := loadConfig(*configPath, *source)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	svc, err := core.NewService(cfg)
	if err != nil {
		slog.Error("failed to create tilefeed service", "error", err)
		os.Exit(1)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Run(ctx) // Always send, even if nil
	}()

	// Wait for shutdown signal, error or end of a finite source
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errChan:
		if err != nil {
			slog.Error("service error", "error", err)
		} else {
			slog.Info("service stopped (source finished)")
		}
	}

	shutdownTimeout := svc.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		os.Exit(1)
	}

	slog.Info("tilefeed stopped successfully")
}

// loadConfig reads the configuration file. -f replaces the source with a
// GStreamer URI or local video file through the environment overrides, so it
// wins over both the file and TILEFEED_SOURCE_*.
func loadConfig(path, source string) (*config.Config, error) {
	if source != "" {
		os.Setenv(config.EnvPrefix+"SOURCE_KIND", "gstreamer")
		os.Setenv(config.EnvPrefix+"SOURCE_URI", source)
	}
	return config.Load(path)
}
