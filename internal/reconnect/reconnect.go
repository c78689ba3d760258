// Package reconnect retries a connect function with exponential backoff.
package reconnect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrMaxRetries is returned once a connect function has failed more than
// Config.MaxRetries times in a row.
var ErrMaxRetries = errors.New("reconnect: max retries exceeded")

// Config contains configuration for exponential backoff reconnection.
type Config struct {
	MaxRetries    int           // Consecutive failures tolerated; negative means unlimited (default: 5)
	RetryDelay    time.Duration // Initial retry delay (default: 1 second)
	MaxRetryDelay time.Duration // Maximum retry delay cap (default: 30 seconds)
}

// DefaultConfig returns default reconnection configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// State tracks reconnection attempts across calls to Run.
type State struct {
	CurrentRetries int
	Reconnects     atomic.Uint32 // Total failed attempts
}

// ConnectFunc attempts to establish a connection.
type ConnectFunc func(ctx context.Context) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Run returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Run calls connectFn until it succeeds, returns a Permanent error, the retry
// budget is spent or ctx is done.
//
// Backoff schedule with the default config: 1s, 2s, 4s, 8s, 16s, then stop.
func Run(ctx context.Context, logger *slog.Logger, connectFn ConnectFunc, cfg Config, state *State) error {
	if logger == nil {
		logger = slog.Default()
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("reconnect: context cancelled, stopping")
			return ctx.Err()
		default:
		}

		err := connectFn(ctx)
		if err == nil {
			state.CurrentRetries = 0
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			logger.Error("reconnect: permanent failure", "error", perm.err)
			return perm.err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.Error("reconnect: connection failed", "error", err)

		state.CurrentRetries++
		state.Reconnects.Add(1)

		if cfg.MaxRetries >= 0 && state.CurrentRetries > cfg.MaxRetries {
			return fmt.Errorf("%w (%d attempts): %w", ErrMaxRetries, cfg.MaxRetries, err)
		}

		delay := Backoff(state.CurrentRetries, cfg)

		logger.Warn("reconnect: retrying",
			"attempt", state.CurrentRetries,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			logger.Info("reconnect: context cancelled during backoff")
			return ctx.Err()
		}
	}
}

// Backoff returns RetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func Backoff(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Cap the shift so large attempt counts cannot overflow.
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(shift))
	if delay > cfg.MaxRetryDelay || delay <= 0 {
		delay = cfg.MaxRetryDelay
	}
	return delay
}

// Reset clears the consecutive failure count after a session ends cleanly.
func (s *State) Reset() {
	s.CurrentRetries = 0
}
