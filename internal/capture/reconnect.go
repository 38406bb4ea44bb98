package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ReconnectConfig contains configuration for source reconnection
type ReconnectConfig struct {
	MaxRetries    int           // Maximum consecutive failures before giving up (0 = retry forever)
	RetryDelay    time.Duration // Delay between attempts (default: 5 seconds)
	MaxRetryDelay time.Duration // Backoff cap; at or below RetryDelay the delay stays fixed
}

// DefaultReconnectConfig returns the capture default: retry forever, fixed delay
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    0,
		RetryDelay:    5 * time.Second,
		MaxRetryDelay: 0,
	}
}

// ReconnectState tracks the current state of reconnection attempts
type ReconnectState struct {
	CurrentRetries int
	Reconnects     *atomic.Uint32 // Total reconnection attempts over the process lifetime
}

// ConnectFunc runs one connection session.
// Returns nil when the session ended normally (no reconnect wanted).
type ConnectFunc func(ctx context.Context) error

// RunWithReconnect executes connectFn until it returns nil or ctx is cancelled.
//
// On failure it waits RetryDelay before the next attempt. With
// MaxRetryDelay > RetryDelay the delay doubles per consecutive failure up to
// the cap; the capture default keeps it fixed.
//
// Returns:
//   - nil when connectFn returned nil
//   - ctx.Err() on cancellation
//   - an error when MaxRetries > 0 and consecutive failures exceed it
func RunWithReconnect(
	ctx context.Context,
	connectFn ConnectFunc,
	cfg ReconnectConfig,
	state *ReconnectState,
) error {
	for {
		// Check context before attempting connection
		select {
		case <-ctx.Done():
			slog.Info("capture: context cancelled, stopping reconnection")
			return ctx.Err()
		default:
		}

		err := connectFn(ctx)
		if err == nil {
			state.CurrentRetries = 0
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		state.CurrentRetries++
		if state.Reconnects != nil {
			state.Reconnects.Add(1)
		}

		if cfg.MaxRetries > 0 && state.CurrentRetries > cfg.MaxRetries {
			return fmt.Errorf("capture: max retries exceeded (%d attempts): %w", cfg.MaxRetries, err)
		}

		delay := calculateBackoff(state.CurrentRetries, cfg)

		slog.Warn("capture: source failed, reconnecting",
			"error", err,
			"category", Classify(err).String(),
			"attempt", state.CurrentRetries,
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
			continue
		case <-ctx.Done():
			timer.Stop()
			slog.Info("capture: context cancelled during reconnect delay")
			return ctx.Err()
		}
	}
}

// calculateBackoff returns the delay before the given attempt.
//
// Fixed when MaxRetryDelay <= RetryDelay, otherwise
// min(RetryDelay * 2^(attempt-1), MaxRetryDelay) without jitter.
func calculateBackoff(attempt int, cfg ReconnectConfig) time.Duration {
	if cfg.MaxRetryDelay <= cfg.RetryDelay || attempt <= 1 {
		return cfg.RetryDelay
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval: cfg.RetryDelay,
		Multiplier:      2,
		MaxInterval:     cfg.MaxRetryDelay,
	}
	b.Reset()
	delay := b.NextBackOff()
	for i := 1; i < attempt && delay < cfg.MaxRetryDelay; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// ResetReconnectState resets the consecutive failure counter once a session
// is delivering frames again.
func ResetReconnectState(state *ReconnectState) {
	if state.CurrentRetries != 0 {
		slog.Debug("capture: reconnect state reset", "after_retries", state.CurrentRetries)
	}
	state.CurrentRetries = 0
}
