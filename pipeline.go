package jpegbridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/cadence"
	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/gstchain"
	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/latency"
	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/metrics"
	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/stage"
)

const (
	// pollInterval bounds how long the run loop waits for a bus message
	// before checking for cancellation.
	pollInterval = 50 * time.Millisecond

	eventBufferSize = 64
)

// chain is the stage chain runtime the controller drives.
type chain interface {
	SetState(gstchain.State) error
	Push(gstchain.Buffer) error
	EndStream() error
	Poll(timeout time.Duration) (gstchain.Event, bool)
	Close() error
}

type chainBuilder func(gstchain.Config) (chain, error)

func buildGstChain(cfg gstchain.Config) (chain, error) {
	if err := gstchain.CheckRuntime(); err != nil {
		return nil, err
	}
	c, err := gstchain.Build(cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Pipeline is one H.264 to JPEG pipeline instance. It exclusively owns its
// stage chain and run loop.
//
// PushBuffer, SetFrameCallback, State, Stats and Events are safe to call
// from any goroutine. Start blocks and should run on its own goroutine.
type Pipeline struct {
	name   string
	cfg    Config
	logger *slog.Logger
	width  int
	height int
	step   time.Duration
	chain  chain

	// ctlMu serializes control-path calls: Start, Pause, Resume, Destroy.
	ctlMu       sync.Mutex
	running     bool
	startedAt   atomic.Int64 // unix nanoseconds
	quit        chan struct{}
	loopDone    chan struct{}
	destroyOnce sync.Once
	destroyed   atomic.Bool

	state   atomic.Int32
	outcome atomic.Int32
	fatal   atomic.Pointer[StageError]

	ingest ingestState

	binding atomic.Pointer[callbackBinding]
	seq     atomic.Uint64

	cadence *cadence.Tracker
	latency *latency.Window

	// pushTimes maps PTS to push time for push-to-extract latency.
	latMu     sync.Mutex
	pushTimes map[time.Duration]time.Time

	counters counters

	events chan Event
}

// Create builds a pipeline and leaves it in StateReady.
//
// On failure it returns nil and an error wrapping ErrConstruction; nothing
// is left allocated. Wrapped causes include ErrInvalidConfig,
// ErrStageUnavailable and ErrCapsNegotiation.
func Create(cfg Config) (*Pipeline, error) {
	return newPipeline(cfg, buildGstChain)
}

func newPipeline(cfg Config, build chainBuilder) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConstruction, err)
	}
	cfg = cfg.withDefaults()
	w, h := cfg.Dimensions()

	p := &Pipeline{
		name:      cfg.Name,
		cfg:       cfg,
		logger:    cfg.Logger.With("pipeline", cfg.Name),
		width:     w,
		height:    h,
		step:      cfg.FrameRate.Interval(),
		quit:      make(chan struct{}),
		loopDone:  make(chan struct{}),
		cadence:   cadence.NewTracker(),
		latency:   &latency.Window{},
		pushTimes: make(map[time.Duration]time.Time),
		events:    make(chan Event, eventBufferSize),
	}

	descs := stage.Topology(cfg.stageParams())
	if err := stage.ValidateChain(descs); err != nil {
		p.logger.Error("jpeg-bridge: invalid stage chain", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrConstruction, err)
	}

	ch, err := build(gstchain.Config{
		Name:        cfg.Name,
		Descriptors: descs,
		Hooks: gstchain.Hooks{
			OnSample:  p.extract,
			OnEncoded: p.onEncoded,
		},
		Logger: p.logger,
	})
	if err != nil {
		p.logger.Error("jpeg-bridge: failed to build stage chain", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrConstruction, err)
	}

	if err := ch.SetState(gstchain.StateReady); err != nil {
		p.logger.Error("jpeg-bridge: failed to reach READY", "error", err)
		if cerr := ch.Close(); cerr != nil {
			p.logger.Warn("jpeg-bridge: release after failed construction", "error", cerr)
		}
		return nil, fmt.Errorf("%w: %w", ErrConstruction, err)
	}

	p.chain = ch
	p.setState(StateReady)

	p.logger.Info("jpeg-bridge: pipeline created",
		"resolution", fmt.Sprintf("%dx%d", w, h),
		"frame_rate", cfg.FrameRate.String(),
		"aspect", cfg.Aspect.String(),
		"jpeg_quality", cfg.JPEGQuality,
		"acceleration", cfg.Acceleration.String(),
	)
	return p, nil
}

// Name returns the pipeline name used in logs and metrics.
func (p *Pipeline) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}

// State returns the current lifecycle state. A nil pipeline is StateNull.
func (p *Pipeline) State() State {
	if p == nil {
		return StateNull
	}
	return State(p.state.Load())
}

// Outcome reports why Start returned, or OutcomeNone while it runs.
func (p *Pipeline) Outcome() Outcome {
	if p == nil {
		return OutcomeNone
	}
	return Outcome(p.outcome.Load())
}

// Err returns the fatal stage error that ended the session, if any.
func (p *Pipeline) Err() error {
	if p == nil {
		return nil
	}
	if se := p.fatal.Load(); se != nil {
		return se
	}
	return nil
}

// setState records next unless the pipeline is in StateError, which only
// teardown may leave.
func (p *Pipeline) setState(next State) {
	for {
		cur := p.state.Load()
		if State(cur) == StateError && next != StateNull {
			return
		}
		if p.state.CompareAndSwap(cur, int32(next)) {
			if State(cur) != next {
				p.logger.Debug("jpeg-bridge: state changed", "from", State(cur).String(), "to", next.String())
			}
			return
		}
	}
}

// Start moves READY → PAUSED → PLAYING and runs the notification loop
// until end of stream, a fatal stage error, ctx cancellation or Destroy.
//
// Return values:
//   - nil after end of stream (OutcomeEOS) or Destroy (OutcomeStopped)
//   - ctx.Err() after cancellation (OutcomeCanceled)
//   - a *StageError wrapping ErrFatalStage (OutcomeError, StateError)
//   - ErrInvalidState or ErrDestroyed if the pipeline cannot start
//
// Start is valid once per pipeline. Call Destroy after it returns.
func (p *Pipeline) Start(ctx context.Context) error {
	if p == nil {
		return ErrDestroyed
	}

	p.ctlMu.Lock()
	if p.destroyed.Load() {
		p.ctlMu.Unlock()
		return ErrDestroyed
	}
	if p.running || p.State() != StateReady {
		state := p.State()
		p.ctlMu.Unlock()
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidState, state)
	}

	if err := p.transition(gstchain.StatePaused, StatePaused); err != nil {
		p.ctlMu.Unlock()
		return err
	}
	if err := p.transition(gstchain.StatePlaying, StatePlaying); err != nil {
		p.ctlMu.Unlock()
		return err
	}

	p.running = true
	p.startedAt.Store(time.Now().UnixNano())
	p.ctlMu.Unlock()
	defer close(p.loopDone)

	p.flushPending()

	p.logger.Info("jpeg-bridge: pipeline playing")
	return p.run(ctx)
}

// transition requests a chain state change. Failure is fatal.
// Caller holds ctlMu.
func (p *Pipeline) transition(to gstchain.State, state State) error {
	if err := p.chain.SetState(to); err != nil {
		se := &StageError{
			Stage:    p.name,
			Category: gstchain.ErrCategoryUnknown.String(),
			Message:  err.Error(),
		}
		p.failWith(se)
		return se
	}
	from := p.State()
	p.setState(state)
	p.emit(Event{Type: EventStateChanged, Source: p.name, From: from, To: state})
	return nil
}

func (p *Pipeline) failWith(se *StageError) {
	p.fatal.CompareAndSwap(nil, se)
	p.setState(StateError)
	p.outcome.Store(int32(OutcomeError))
	metrics.IncStageError(p.name, se.Category, true)
	p.logger.Error("jpeg-bridge: fatal stage error",
		"stage", se.Stage,
		"category", se.Category,
		"error", se.Message,
		"debug", se.Debug,
	)
}

// run is the notification loop. It polls the chain instead of running a
// GLib main loop so cancellation is checked at least every pollInterval.
func (p *Pipeline) run(ctx context.Context) error {
	defer p.publishGauges()

	for {
		select {
		case <-ctx.Done():
			p.outcome.Store(int32(OutcomeCanceled))
			p.logger.Info("jpeg-bridge: context cancelled, leaving run loop")
			return ctx.Err()
		case <-p.quit:
			p.outcome.Store(int32(OutcomeStopped))
			p.logger.Info("jpeg-bridge: destroy requested, leaving run loop")
			return nil
		default:
		}

		ev, ok := p.chain.Poll(pollInterval)
		if !ok {
			p.publishGauges()
			continue
		}

		switch ev.Type {
		case gstchain.EventEOS:
			p.drainPushes()
			p.outcome.Store(int32(OutcomeEOS))
			p.emit(Event{Type: EventEOS, Source: ev.Source})
			p.logger.Info("jpeg-bridge: end of stream",
				"uptime", time.Since(time.Unix(0, p.startedAt.Load())),
				"frames_extracted", p.counters.framesExtracted.Load(),
			)
			return nil

		case gstchain.EventError:
			se := &StageError{
				Stage:    ev.Source,
				Category: ev.Category.String(),
				Message:  ev.Message,
				Debug:    ev.Debug,
			}
			p.failWith(se)
			p.emit(Event{Type: EventError, Source: ev.Source, Message: ev.Message, Category: se.Category})
			return se

		case gstchain.EventWarning:
			p.counters.warnings.Add(1)
			metrics.IncStageError(p.name, ev.Category.String(), false)
			p.emit(Event{Type: EventWarning, Source: ev.Source, Message: ev.Message, Category: ev.Category.String()})
			p.logger.Warn("jpeg-bridge: stage warning",
				"stage", ev.Source,
				"category", ev.Category.String(),
				"warning", ev.Message,
				"debug", ev.Debug,
			)

		case gstchain.EventStateChanged:
			p.emit(Event{Type: EventStateChanged, Source: ev.Source, From: fromChainState(ev.From), To: fromChainState(ev.To)})
		}
	}
}

func fromChainState(s gstchain.State) State {
	switch s {
	case gstchain.StateReady:
		return StateReady
	case gstchain.StatePaused:
		return StatePaused
	case gstchain.StatePlaying:
		return StatePlaying
	default:
		return StateNull
	}
}

// Pause moves a playing pipeline to PAUSED. Buffers pushed while paused
// queue up to MaxQueueBytes. Pause and Resume fail with ErrInvalidState
// once Start has returned.
func (p *Pipeline) Pause() error {
	return p.toggle(StatePlaying, gstchain.StatePaused, StatePaused)
}

// Resume moves a paused pipeline back to PLAYING.
func (p *Pipeline) Resume() error {
	return p.toggle(StatePaused, gstchain.StatePlaying, StatePlaying)
}

func (p *Pipeline) toggle(from State, to gstchain.State, state State) error {
	if p == nil {
		return ErrDestroyed
	}
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	if p.destroyed.Load() {
		return ErrDestroyed
	}
	if p.running && p.Outcome() != OutcomeNone {
		return fmt.Errorf("%w: session ended (%s)", ErrInvalidState, p.Outcome())
	}
	if !p.running || p.State() != from {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidState, p.State(), state)
	}
	return p.transition(to, state)
}

// Destroy stops the run loop, sets the chain to NULL and releases every
// stage. It is idempotent and safe on a nil pipeline or after an error.
//
// Destroy must not be called from a FrameCallback.
func (p *Pipeline) Destroy() {
	if p == nil {
		return
	}

	p.destroyOnce.Do(func() {
		p.destroyed.Store(true)
		close(p.quit)

		p.ctlMu.Lock()
		defer p.ctlMu.Unlock()

		if p.running {
			<-p.loopDone
		}

		p.ingest.mu.Lock()
		p.ingest.closed = true
		p.ingest.pending = nil
		p.ingest.mu.Unlock()

		if p.chain != nil {
			if err := p.chain.Close(); err != nil {
				p.logger.Warn("jpeg-bridge: chain teardown failed", "error", err)
			}
		}
		p.setState(StateNull)
		close(p.events)
		metrics.Forget(p.name)

		p.logger.Info("jpeg-bridge: pipeline destroyed",
			"outcome", p.Outcome().String(),
			"units_pushed", p.counters.unitsPushed.Load(),
			"frames_extracted", p.counters.framesExtracted.Load(),
		)
	})
}
