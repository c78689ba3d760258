package jpegbridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/gstchain"
	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/stage"
)

func TestCreateLeavesPipelineReady(t *testing.T) {
	p, fc := newTestPipeline(t, testConfig())
	defer p.Destroy()

	assert.Equal(t, StateReady, p.State())
	assert.Equal(t, OutcomeNone, p.Outcome())
	assert.Equal(t, "test", p.Name())
	assert.Equal(t, []gstchain.State{gstchain.StateReady}, fc.stateHistory())
}

func TestCreateFailures(t *testing.T) {
	buildErr := errors.New("boom")

	tests := []struct {
		name    string
		cfg     Config
		build   chainBuilder
		wantErr error
	}{
		{
			name: "invalid config",
			cfg: func() Config {
				c := testConfig()
				c.JPEGQuality = 0
				return c
			}(),
			wantErr: ErrInvalidConfig,
		},
		{
			name: "stage unavailable",
			cfg:  testConfig(),
			build: func(gstchain.Config) (chain, error) {
				return nil, errors.Join(gstchain.ErrElementUnavailable, buildErr)
			},
			wantErr: ErrStageUnavailable,
		},
		{
			name: "caps negotiation",
			cfg:  testConfig(),
			build: func(gstchain.Config) (chain, error) {
				return nil, stage.ErrCapsNegotiation
			},
			wantErr: ErrCapsNegotiation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			build := tt.build
			if build == nil {
				build = func(c gstchain.Config) (chain, error) {
					return newFakeChain(c.Hooks, 1), nil
				}
			}

			p, err := newPipeline(tt.cfg, build)
			require.Error(t, err)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, ErrConstruction)
			assert.ErrorIs(t, err, tt.wantErr)

			// destroy on the failed (nil) handle is a no-op
			p.Destroy()
		})
	}
}

func TestCreateReleasesChainWhenReadyFails(t *testing.T) {
	var fc *fakeChain
	p, err := newPipeline(testConfig(), func(c gstchain.Config) (chain, error) {
		fc = newFakeChain(c.Hooks, 1)
		fc.stateErr[gstchain.StateReady] = errors.New("state change failure")
		return fc, nil
	})

	require.ErrorIs(t, err, ErrConstruction)
	assert.Nil(t, p)
	assert.Equal(t, 1, fc.closeCount())
}

func TestStartRunsUntilEndOfStream(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p, fc := newTestPipeline(t, testConfig())
	defer p.Destroy()

	done := startAsync(context.Background(), p)
	waitPlaying(t, p)

	require.NoError(t, p.PushBuffer(keyframeAU(t, 10)))
	require.NoError(t, p.PushBuffer(deltaAU(t, 20)))
	require.NoError(t, p.EndStream())

	require.NoError(t, waitResult(t, done))
	assert.Equal(t, OutcomeEOS, p.Outcome())
	assert.Equal(t, StatePlaying, p.State())
	assert.NoError(t, p.Err())
	assert.Equal(t,
		[]gstchain.State{gstchain.StateReady, gstchain.StatePaused, gstchain.StatePlaying},
		fc.stateHistory())

	p.Destroy()
	assert.Equal(t, StateNull, p.State())
	assert.Equal(t, 1, fc.closeCount())
}

func TestStartFatalStageError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p, fc := newTestPipeline(t, testConfig())
	defer p.Destroy()

	done := startAsync(context.Background(), p)
	waitPlaying(t, p)

	fc.post(gstchain.Event{
		Type:     gstchain.EventError,
		Source:   "h264-decoder",
		Message:  "Could not decode stream.",
		Debug:    "decoder returned error",
		Category: gstchain.ErrCategoryCodec,
	})

	err := waitResult(t, done)
	require.ErrorIs(t, err, ErrFatalStage)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "h264-decoder", se.Stage)
	assert.Equal(t, "codec", se.Category)

	assert.Equal(t, StateError, p.State())
	assert.Equal(t, OutcomeError, p.Outcome())
	assert.Equal(t, err, p.Err())

	// ERROR is absorbing
	assert.ErrorIs(t, p.PushBuffer(keyframeAU(t, 10)), ErrInvalidState)
	assert.ErrorIs(t, p.Pause(), ErrInvalidState)
	assert.ErrorIs(t, p.Start(context.Background()), ErrInvalidState)

	p.Destroy()
	assert.Equal(t, StateNull, p.State())
}

func TestStartFailsWhenPausedTransitionFails(t *testing.T) {
	p, fc := newTestPipeline(t, testConfig())
	defer p.Destroy()

	fc.mu.Lock()
	fc.stateErr[gstchain.StatePaused] = errors.New("preroll failed")
	fc.mu.Unlock()

	err := p.Start(context.Background())
	require.ErrorIs(t, err, ErrFatalStage)
	assert.Equal(t, StateError, p.State())
	assert.Equal(t, OutcomeError, p.Outcome())
}

func TestStartCancelledByContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p, _ := newTestPipeline(t, testConfig())
	defer p.Destroy()

	ctx, cancel := context.WithCancel(context.Background())
	done := startAsync(ctx, p)
	waitPlaying(t, p)

	cancel()
	assert.ErrorIs(t, waitResult(t, done), context.Canceled)
	assert.Equal(t, OutcomeCanceled, p.Outcome())
}

func TestDestroyUnblocksStart(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p, fc := newTestPipeline(t, testConfig())

	done := startAsync(context.Background(), p)
	waitPlaying(t, p)

	p.Destroy()
	assert.NoError(t, waitResult(t, done))
	assert.Equal(t, OutcomeStopped, p.Outcome())
	assert.Equal(t, StateNull, p.State())

	assert.ErrorIs(t, p.PushBuffer(keyframeAU(t, 10)), ErrDestroyed)
	assert.ErrorIs(t, p.Start(context.Background()), ErrDestroyed)
	assert.ErrorIs(t, p.EndStream(), ErrDestroyed)
	assert.Equal(t, 1, fc.closeCount())
}

func TestDestroyIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p, fc := newTestPipeline(t, testConfig())

	p.Destroy()
	p.Destroy()
	assert.Equal(t, 1, fc.closeCount())
	assert.Equal(t, StateNull, p.State())

	var nilPipeline *Pipeline
	assert.NotPanics(t, func() {
		nilPipeline.Destroy()
		nilPipeline.SetFrameCallback(func(Frame, any) {}, nil)
	})
	assert.Equal(t, StateNull, nilPipeline.State())
	assert.ErrorIs(t, nilPipeline.PushBuffer([]byte{1}), ErrDestroyed)
	assert.ErrorIs(t, nilPipeline.Start(context.Background()), ErrDestroyed)
	assert.Nil(t, nilPipeline.Events())
	assert.Equal(t, Stats{}, nilPipeline.Stats())
}

func TestStartTwice(t *testing.T) {
	p, _ := newTestPipeline(t, testConfig())
	defer p.Destroy()

	done := startAsync(context.Background(), p)
	waitPlaying(t, p)

	assert.ErrorIs(t, p.Start(context.Background()), ErrInvalidState)

	p.Destroy()
	assert.NoError(t, waitResult(t, done))
}

func TestPauseResume(t *testing.T) {
	p, fc := newTestPipeline(t, testConfig())
	defer p.Destroy()

	assert.ErrorIs(t, p.Pause(), ErrInvalidState, "not started")

	done := startAsync(context.Background(), p)
	waitPlaying(t, p)

	require.NoError(t, p.Pause())
	assert.Equal(t, StatePaused, p.State())
	assert.ErrorIs(t, p.Pause(), ErrInvalidState)

	require.NoError(t, p.Resume())
	assert.Equal(t, StatePlaying, p.State())
	assert.ErrorIs(t, p.Resume(), ErrInvalidState)

	assert.Equal(t, []gstchain.State{
		gstchain.StateReady,
		gstchain.StatePaused,
		gstchain.StatePlaying,
		gstchain.StatePaused,
		gstchain.StatePlaying,
	}, fc.stateHistory())

	p.Destroy()
	assert.NoError(t, waitResult(t, done))
}

func TestPauseResumeAfterSessionEnds(t *testing.T) {
	tests := []struct {
		name string
		end  func(p *Pipeline, cancel context.CancelFunc)
		want Outcome
	}{
		{"eos", func(p *Pipeline, _ context.CancelFunc) { _ = p.EndStream() }, OutcomeEOS},
		{"canceled", func(_ *Pipeline, cancel context.CancelFunc) { cancel() }, OutcomeCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, fc := newTestPipeline(t, testConfig())
			defer p.Destroy()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			done := startAsync(ctx, p)
			waitPlaying(t, p)
			tt.end(p, cancel)
			_ = waitResult(t, done)
			require.Equal(t, tt.want, p.Outcome())

			history := fc.stateHistory()
			assert.ErrorIs(t, p.Pause(), ErrInvalidState)
			assert.ErrorIs(t, p.Resume(), ErrInvalidState)
			assert.Equal(t, history, fc.stateHistory())
		})
	}
}

func TestEventsFeed(t *testing.T) {
	p, fc := newTestPipeline(t, testConfig())

	done := startAsync(context.Background(), p)
	waitPlaying(t, p)

	fc.post(gstchain.Event{Type: gstchain.EventWarning, Source: "h264-decoder", Message: "corrupt slice", Category: gstchain.ErrCategoryCodec})
	require.NoError(t, p.EndStream())
	require.NoError(t, waitResult(t, done))
	p.Destroy()

	var types []EventType
	for ev := range p.Events() {
		types = append(types, ev.Type)
		assert.False(t, ev.Time.IsZero())
	}
	assert.Equal(t, []EventType{EventStateChanged, EventStateChanged, EventWarning, EventEOS}, types)
	assert.Equal(t, uint64(1), p.Stats().Warnings)
}

func TestStatsCountsSinkDrops(t *testing.T) {
	p, fc := newTestPipeline(t, testConfig())
	defer p.Destroy()
	fc.dropEvery = 2

	var delivered int
	p.SetFrameCallback(func(Frame, any) { delivered++ }, nil)

	done := startAsync(context.Background(), p)
	waitPlaying(t, p)

	require.NoError(t, p.PushBuffer(keyframeAU(t, 10)))
	for i := 0; i < 5; i++ {
		require.NoError(t, p.PushBuffer(deltaAU(t, 10+i)))
	}
	require.NoError(t, p.EndStream())
	require.NoError(t, waitResult(t, done))

	s := p.Stats()
	assert.Equal(t, uint64(6), s.UnitsPushed)
	assert.Equal(t, uint64(6), s.FramesEncoded)
	assert.Equal(t, uint64(3), s.FramesExtracted)
	assert.Equal(t, uint64(3), s.FramesDropped)
	assert.InDelta(t, 50.0, s.DropRate, 0.001)
	assert.Equal(t, 3, delivered)
	assert.Greater(t, s.Uptime, time.Duration(0))
}

func TestStatsIgnoresFramesInFlight(t *testing.T) {
	p, _ := newTestPipeline(t, testConfig())
	defer p.Destroy()

	release := make(chan struct{})
	unblock := sync.OnceFunc(func() { close(release) })
	defer unblock()
	p.SetFrameCallback(func(Frame, any) { <-release }, nil)

	done := startAsync(context.Background(), p)
	waitPlaying(t, p)

	require.NoError(t, p.PushBuffer(keyframeAU(t, 10)))
	require.NoError(t, p.PushBuffer(deltaAU(t, 10)))

	// the first frame is encoded but held in the callback
	require.Eventually(t, func() bool {
		return p.Stats().FramesEncoded == 1
	}, 2*time.Second, time.Millisecond)
	for i := 0; i < 5; i++ {
		s := p.Stats()
		assert.Zero(t, s.FramesDropped)
		assert.Zero(t, s.DropRate)
		time.Sleep(2 * pollInterval)
	}

	unblock()
	require.NoError(t, p.EndStream())
	require.NoError(t, waitResult(t, done))

	s := p.Stats()
	assert.Equal(t, uint64(2), s.FramesExtracted)
	assert.Zero(t, s.FramesDropped)
}

func TestStatsCountsUnitsThatNeverProduceFrames(t *testing.T) {
	p, fc := newTestPipeline(t, testConfig())
	defer p.Destroy()
	fc.dropEvery = 3

	done := startAsync(context.Background(), p)
	waitPlaying(t, p)

	require.NoError(t, p.PushBuffer(keyframeAU(t, 10)))
	for i := 0; i < 8; i++ {
		require.NoError(t, p.PushBuffer(deltaAU(t, 10+i)))
	}
	require.NoError(t, p.EndStream())
	require.NoError(t, waitResult(t, done))

	// units 3, 6 and 9 never reach extraction; the last one only counts
	// once the stream has drained
	s := p.Stats()
	assert.Equal(t, uint64(9), s.UnitsPushed)
	assert.Equal(t, uint64(6), s.FramesExtracted)
	assert.Equal(t, uint64(3), s.FramesDropped)
	assert.InDelta(t, 100.0/3, s.DropRate, 0.001)
}
