package jpegbridge

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/testutil"
)

// createOrSkip builds a real pipeline, skipping when the GStreamer runtime
// lacks one of the stage elements.
func createOrSkip(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	p, err := Create(cfg)
	if errors.Is(err, ErrStageUnavailable) {
		t.Skipf("GStreamer stage unavailable: %v", err)
	}
	require.NoError(t, err)
	t.Cleanup(p.Destroy)
	return p
}

func TestGStreamerEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping GStreamer test in short mode")
	}

	units := testutil.RequireTestPattern(t, 30, 320, 240)

	cfg := DefaultConfig()
	cfg.Name = "gst-e2e"
	cfg.Width, cfg.Height = 160, 120
	cfg.Acceleration = AccelSoftware
	cfg.Aspect = AspectLetterbox
	cfg.SinkMaxBuffers = 64
	p := createOrSkip(t, cfg)
	assert.Equal(t, StateReady, p.State())

	var (
		mu     sync.Mutex
		frames []Frame
	)
	p.SetFrameCallback(func(f Frame, _ any) {
		mu.Lock()
		defer mu.Unlock()
		f.Data = bytes.Clone(f.Data)
		frames = append(frames, f)
	}, nil)

	for _, u := range units {
		require.NoError(t, p.PushBuffer(u))
	}
	require.NoError(t, p.EndStream())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, p.Start(ctx))
	assert.Equal(t, OutcomeEOS, p.Outcome())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, frames)
	var lastPTS time.Duration = -1
	for _, f := range frames {
		require.GreaterOrEqual(t, len(f.Data), 4)
		assert.Equal(t, []byte{0xFF, 0xD8}, f.Data[:2])
		assert.Greater(t, f.PTS, lastPTS)
		assert.Equal(t, 160, f.Width)
		assert.Equal(t, 120, f.Height)
		lastPTS = f.PTS
	}

	stats := p.Stats()
	assert.Equal(t, uint64(len(units)), stats.UnitsPushed)
	assert.Equal(t, uint64(len(frames)), stats.FramesExtracted)
}

func TestGStreamerGarbageInputIsNotFatalToIngest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping GStreamer test in short mode")
	}

	cfg := DefaultConfig()
	cfg.Name = "gst-garbage"
	cfg.Width, cfg.Height = 160, 120
	cfg.Acceleration = AccelSoftware
	p := createOrSkip(t, cfg)

	err := p.PushBuffer([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.ErrorIs(t, err, ErrMalformedUnit)
	assert.Equal(t, StateReady, p.State())
}

func TestGStreamerVAAPIUnavailable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping GStreamer test in short mode")
	}

	cfg := DefaultConfig()
	cfg.Name = "gst-vaapi"
	cfg.Width, cfg.Height = 160, 120
	cfg.Acceleration = AccelVAAPI

	p, err := Create(cfg)
	if err == nil {
		p.Destroy()
		t.Skip("VAAPI decoder present")
	}
	assert.Nil(t, p)
	assert.ErrorIs(t, err, ErrConstruction)
	assert.ErrorIs(t, err, ErrStageUnavailable)
}
