package reconnect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries:    maxRetries,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 4 * time.Millisecond,
	}
}

func TestBackoff(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt, cfg), "attempt %d", tt.attempt)
	}
}

func TestRunSucceedsAfterFailures(t *testing.T) {
	var state State
	calls := 0
	err := Run(context.Background(), nil, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, fastConfig(5), &state)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 0, state.CurrentRetries)
	assert.Equal(t, uint32(2), state.Reconnects.Load())
}

func TestRunMaxRetries(t *testing.T) {
	var state State
	cause := errors.New("no route to host")
	err := Run(context.Background(), nil, func(ctx context.Context) error {
		return cause
	}, fastConfig(2), &state)

	require.ErrorIs(t, err, ErrMaxRetries)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, uint32(3), state.Reconnects.Load())
}

func TestRunPermanent(t *testing.T) {
	var state State
	cause := errors.New("401 unauthorized")
	calls := 0
	err := Run(context.Background(), nil, func(ctx context.Context) error {
		calls++
		return Permanent(cause)
	}, fastConfig(5), &state)

	assert.Equal(t, cause, err)
	assert.Equal(t, 1, calls)
	assert.Nil(t, Permanent(nil))
}

func TestRunContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var state State
	err := Run(ctx, nil, func(ctx context.Context) error {
		t.Fatal("connect must not run after cancel")
		return nil
	}, fastConfig(5), &state)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := Config{MaxRetries: -1, RetryDelay: time.Hour, MaxRetryDelay: time.Hour}
	var state State
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, nil, func(ctx context.Context) error {
			return errors.New("timeout")
		}, cfg, &state)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
