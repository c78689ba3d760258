package gstchain

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/stage"
)

var initOnce sync.Once

// Init initializes the GStreamer runtime once per process.
func Init() {
	initOnce.Do(func() {
		gst.Init(nil)
	})
}

// CheckRuntime verifies that GStreamer is installed and can create
// elements.
func CheckRuntime() error {
	Init()

	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return fmt.Errorf("GStreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)
	return nil
}

// Config describes the chain to build.
type Config struct {
	// Name becomes the GStreamer pipeline name.
	Name        string
	Descriptors []stage.Descriptor
	Hooks       Hooks
	Logger      *slog.Logger
}

// Chain is one linked GStreamer pipeline built from stage descriptors.
type Chain struct {
	name      string
	logger    *slog.Logger
	pipeline  *gst.Pipeline
	bus       *gst.Bus
	src       *app.Source
	sink      *app.Sink
	hooks     Hooks
	factories map[stage.Kind]string

	enough    atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

// Build instantiates, configures and links every stage.
//
// The pipeline is left in NULL state. On failure the error names the stage
// that could not be created or linked and everything built so far is
// released.
func Build(cfg Config) (*Chain, error) {
	if err := stage.ValidateChain(cfg.Descriptors); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	Init()

	pipeline, err := gst.NewPipeline(cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("jpeg-bridge: create pipeline: %w", err)
	}

	c := &Chain{
		name:      pipeline.GetName(),
		logger:    logger,
		pipeline:  pipeline,
		hooks:     cfg.Hooks,
		factories: make(map[stage.Kind]string, len(cfg.Descriptors)),
	}

	// linked holds every element in link order, including capsfilters.
	linked := make([]*gst.Element, 0, len(cfg.Descriptors)+1)
	stageOf := make(map[*gst.Element]string, len(cfg.Descriptors)+1)

	for _, d := range cfg.Descriptors {
		elem, factory, err := c.newStageElement(d)
		if err != nil {
			c.release()
			return nil, err
		}
		c.factories[d.Kind] = factory
		linked = append(linked, elem)
		stageOf[elem] = d.Name

		switch d.Kind {
		case stage.KindIngest:
			c.src = app.SrcFromElement(elem)
			c.configureSource(d)
		case stage.KindSink:
			c.sink = app.SinkFromElement(elem)
			c.configureSink(d)
		case stage.KindEncode:
			if err := c.addEncodeProbe(elem); err != nil {
				logger.Warn("jpeg-bridge: encoder probe not installed, sink drops will not be counted",
					"stage", d.Name, "error", err)
			}
		}

		if !d.FilterCaps.IsZero() {
			filter, err := gst.NewElementWithName("capsfilter", d.Name+"-caps")
			if err != nil {
				c.release()
				return nil, fmt.Errorf("%w: %s caps filter: %v", ErrElementUnavailable, d.Name, err)
			}
			filter.SetProperty("caps", gst.NewCapsFromString(d.FilterCaps.String()))
			linked = append(linked, filter)
			stageOf[filter] = d.Name
		}
	}

	if err := pipeline.AddMany(linked...); err != nil {
		c.release()
		return nil, fmt.Errorf("jpeg-bridge: add elements to pipeline: %w", err)
	}

	for i := 0; i+1 < len(linked); i++ {
		up, down := linked[i], linked[i+1]
		if err := up.Link(down); err != nil {
			c.release()
			return nil, fmt.Errorf("%w: link %s → %s: %v",
				stage.ErrCapsNegotiation, stageOf[up], stageOf[down], err)
		}
	}

	c.bus = pipeline.GetPipelineBus()

	logger.Info("jpeg-bridge: chain built",
		"pipeline", c.name,
		"decoder", c.factories[stage.KindDecode],
		"elements", len(linked),
	)
	return c, nil
}

// newStageElement creates the first available factory of d and applies its
// properties.
func (c *Chain) newStageElement(d stage.Descriptor) (*gst.Element, string, error) {
	var lastErr error
	for _, factory := range d.Factories {
		elem, err := gst.NewElementWithName(factory, d.Name)
		if err != nil {
			c.logger.Debug("jpeg-bridge: element factory unavailable, trying next",
				"stage", d.Name, "factory", factory, "error", err)
			lastErr = err
			continue
		}
		c.applyProperties(elem, d.Name, d.Properties)
		c.applyProperties(elem, d.Name, d.FactoryProperties[factory])
		return elem, factory, nil
	}
	return nil, "", fmt.Errorf("%w: %s stage %q (tried %v): %v",
		ErrElementUnavailable, d.Kind, d.Name, d.Factories, lastErr)
}

// applyProperties sets props in a stable order. Properties the element does
// not expose are logged and skipped.
func (c *Chain) applyProperties(elem *gst.Element, stageName string, props map[string]any) {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := elem.SetProperty(k, props[k]); err != nil {
			c.logger.Debug("jpeg-bridge: property not applied",
				"stage", stageName, "property", k, "error", err)
		}
	}
}

func (c *Chain) configureSource(d stage.Descriptor) {
	c.src.SetCaps(gst.NewCapsFromString(d.SrcCaps.String()))
	c.src.SetStreamType(app.AppStreamTypeStream)
	c.src.SetProperty("format", gst.FormatTime)
	c.src.SetCallbacks(&app.SourceCallbacks{
		NeedDataFunc: func(_ *app.Source, _ uint) {
			c.onNeedData()
		},
		EnoughDataFunc: func(_ *app.Source) {
			c.onEnoughData()
		},
	})
}

func (c *Chain) configureSink(d stage.Descriptor) {
	c.sink.SetCaps(gst.NewCapsFromString(d.SinkCaps.String()))
	c.sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: c.onNewSample,
	})
}

// Factory returns the element factory chosen for kind.
func (c *Chain) Factory(kind stage.Kind) string {
	return c.factories[kind]
}

// SetState requests a state change. Asynchronous transitions complete later
// and are reported through Poll.
func (c *Chain) SetState(s State) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.pipeline.SetState(s.gst()); err != nil {
		return fmt.Errorf("jpeg-bridge: set state %s: %w", s, err)
	}
	return nil
}

// Push hands b to the ingest element without blocking.
func (c *Chain) Push(b Buffer) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.enough.Load() {
		return ErrBackpressure
	}

	buf := gst.NewBufferFromBytes(b.Data)
	buf.SetPresentationTimestamp(b.PTS)
	buf.SetDecodingTimestamp(b.DTS)
	if b.Duration > 0 {
		buf.SetDuration(b.Duration)
	}

	if ret := c.src.PushBuffer(buf); ret != gst.FlowOK {
		return fmt.Errorf("%w: %v", ErrFlow, ret)
	}
	return nil
}

// EndStream signals that no more buffers will be pushed. The chain drains
// and posts EOS on the bus.
func (c *Chain) EndStream() error {
	if c.closed.Load() {
		return ErrClosed
	}
	if ret := c.src.EndStream(); ret != gst.FlowOK {
		return fmt.Errorf("%w: end of stream: %v", ErrFlow, ret)
	}
	return nil
}

// Close sets the pipeline to NULL, releasing every stage. Safe to call more
// than once.
func (c *Chain) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.release()
	})
	return err
}

func (c *Chain) release() error {
	if c.pipeline == nil {
		return nil
	}
	if err := c.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("jpeg-bridge: set pipeline to NULL: %w", err)
	}
	return nil
}
