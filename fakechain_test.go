package jpegbridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/gstchain"
)

// fakeChain mimics the GStreamer chain: a streaming goroutine turns every
// pushed buffer into a fake JPEG and calls the hooks, and end of stream is
// posted once the queue drains.
type fakeChain struct {
	hooks gstchain.Hooks

	mu        sync.Mutex
	states    []gstchain.State
	pushed    []gstchain.Buffer
	stateErr  map[gstchain.State]error
	pushErr   error
	dropEvery int
	closed    bool
	closes    int
	streaming bool

	work   chan fakeWork
	events chan gstchain.Event
	done   chan struct{}
	wg     sync.WaitGroup
}

type fakeWork struct {
	buf gstchain.Buffer
	eos bool
}

func newFakeChain(hooks gstchain.Hooks, queue int) *fakeChain {
	return &fakeChain{
		hooks:    hooks,
		stateErr: make(map[gstchain.State]error),
		work:     make(chan fakeWork, queue),
		events:   make(chan gstchain.Event, 64),
		done:     make(chan struct{}),
	}
}

func (f *fakeChain) SetState(s gstchain.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return gstchain.ErrClosed
	}
	if err := f.stateErr[s]; err != nil {
		return err
	}
	f.states = append(f.states, s)
	if s == gstchain.StatePlaying && !f.streaming {
		f.streaming = true
		f.wg.Add(1)
		go f.stream()
	}
	return nil
}

func (f *fakeChain) Push(b gstchain.Buffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return gstchain.ErrClosed
	}
	if f.pushErr != nil {
		return f.pushErr
	}
	select {
	case f.work <- fakeWork{buf: b}:
		f.pushed = append(f.pushed, b)
		return nil
	default:
		return gstchain.ErrBackpressure
	}
}

func (f *fakeChain) EndStream() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return gstchain.ErrClosed
	}
	f.work <- fakeWork{eos: true}
	return nil
}

func (f *fakeChain) Poll(timeout time.Duration) (gstchain.Event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-f.events:
		return ev, true
	case <-timer.C:
		return gstchain.Event{}, false
	}
}

func (f *fakeChain) Close() error {
	f.mu.Lock()
	f.closes++
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.done)
	f.mu.Unlock()

	f.wg.Wait()
	return nil
}

// stream is the fake streaming thread.
func (f *fakeChain) stream() {
	defer f.wg.Done()

	var n int
	for {
		select {
		case <-f.done:
			return
		case w := <-f.work:
			if w.eos {
				f.post(gstchain.Event{Type: gstchain.EventEOS, Source: "fake"})
				continue
			}
			n++
			if f.hooks.OnEncoded != nil {
				f.hooks.OnEncoded()
			}
			f.mu.Lock()
			drop := f.dropEvery > 0 && n%f.dropEvery == 0
			f.mu.Unlock()
			if drop {
				continue
			}
			if f.hooks.OnSample != nil {
				f.hooks.OnSample(fakeJPEG(len(w.buf.Data)), w.buf.PTS)
			}
		}
	}
}

func (f *fakeChain) post(ev gstchain.Event) {
	select {
	case f.events <- ev:
	case <-f.done:
	}
}

func (f *fakeChain) pushedBuffers() []gstchain.Buffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gstchain.Buffer(nil), f.pushed...)
}

func (f *fakeChain) stateHistory() []gstchain.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gstchain.State(nil), f.states...)
}

func (f *fakeChain) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// fakeJPEG returns SOI + payload + EOI, growing with the input size.
func fakeJPEG(inputSize int) []byte {
	out := make([]byte, 4+inputSize)
	out[0], out[1] = 0xFF, 0xD8
	out[len(out)-2], out[len(out)-1] = 0xFF, 0xD9
	return out
}

// testConfig is a small, fast configuration for unit tests.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.Resolution = Res480p
	return cfg
}

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, *fakeChain) {
	t.Helper()

	var fc *fakeChain
	p, err := newPipeline(cfg, func(c gstchain.Config) (chain, error) {
		fc = newFakeChain(c.Hooks, 64)
		return fc, nil
	})
	require.NoError(t, err)
	require.NotNil(t, fc)
	return p, fc
}

// startAsync runs Start on its own goroutine and returns its result channel.
func startAsync(ctx context.Context, p *Pipeline) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- p.Start(ctx)
	}()
	return done
}

func waitPlaying(t *testing.T, p *Pipeline) {
	t.Helper()
	require.Eventually(t, func() bool {
		return p.State() == StatePlaying
	}, 2*time.Second, time.Millisecond)
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
		return nil
	}
}

// 1920x1080 baseline SPS.
var testSPS = []byte{
	0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
	0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
	0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9,
	0x20,
}

var testPPS = []byte{0x68, 0xcb, 0x83, 0xcb, 0x20}

func marshalAU(t *testing.T, nalus ...[]byte) []byte {
	t.Helper()
	buf, err := h264.AnnexB(nalus).Marshal()
	require.NoError(t, err)
	return buf
}

// keyframeAU returns SPS + PPS + IDR with an IDR payload of size n.
func keyframeAU(t *testing.T, n int) []byte {
	idr := make([]byte, n)
	idr[0] = 0x65
	for i := 1; i < n; i++ {
		idr[i] = 0x88
	}
	return marshalAU(t, testSPS, testPPS, idr)
}

// deltaAU returns a single non-IDR slice of size n.
func deltaAU(t *testing.T, n int) []byte {
	slice := make([]byte, n)
	slice[0] = 0x41
	for i := 1; i < n; i++ {
		slice[i] = 0x9a
	}
	return marshalAU(t, slice)
}
