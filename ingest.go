package jpegbridge

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/gstchain"
	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/h264au"
	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/metrics"
)

// maxTrackedPushes bounds the PTS → push time table. When it is full the
// oldest entry is evicted and counted as dropped.
const maxTrackedPushes = 1024

// mediaBuffer is a sealed access unit: a private copy of the producer's
// bytes plus its timestamps. It is never modified after sealing.
type mediaBuffer struct {
	data     []byte
	PTS      time.Duration
	DTS      time.Duration
	Duration time.Duration
}

func (b mediaBuffer) size() int {
	return len(b.data)
}

// ingestState is guarded by mu. Stamping and submission happen under the
// same lock, so chain order matches timestamp order.
type ingestState struct {
	mu           sync.Mutex
	clock        time.Duration
	started      bool
	ended        bool
	closed       bool
	keyframeSeen bool
	pending      []mediaBuffer
	pendingBytes uint64
}

// PushBuffer copies one Annex-B access unit into the pipeline without
// blocking.
//
// The unit is stamped with the next presentation timestamp, and the clock
// advances by one frame interval whether or not the unit is accepted.
// Results:
//   - nil: the unit was handed to the chain, queued until Start, or
//     skipped while waiting for the first keyframe
//   - ErrEmptyUnit: data is empty; no timestamp is consumed
//   - ErrMalformedUnit: the unit failed inspection and was dropped
//   - ErrInjection (possibly also ErrBackpressure): the chain refused it
//   - ErrInvalidState: the pipeline is in StateError or EndStream was called
//   - ErrDestroyed: the pipeline was destroyed
//
// None of these failures stop the pipeline.
func (p *Pipeline) PushBuffer(data []byte) error {
	if p == nil {
		return ErrDestroyed
	}
	if len(data) == 0 {
		p.counters.unitsEmpty.Add(1)
		metrics.IncUnitRejected(p.name, metrics.ReasonEmpty)
		p.logger.Debug("jpeg-bridge: empty access unit ignored")
		return ErrEmptyUnit
	}

	p.ingest.mu.Lock()
	defer p.ingest.mu.Unlock()

	if p.ingest.closed || p.destroyed.Load() {
		return ErrDestroyed
	}
	if p.State() == StateError {
		metrics.IncUnitRejected(p.name, metrics.ReasonState)
		return fmt.Errorf("%w: pipeline is in ERROR state", ErrInvalidState)
	}
	if p.ingest.ended {
		metrics.IncUnitRejected(p.name, metrics.ReasonState)
		return fmt.Errorf("%w: end of stream already signalled", ErrInvalidState)
	}

	buf := p.seal(data)

	unit, err := h264au.Inspect(buf.data)
	if err != nil {
		p.counters.unitsMalformed.Add(1)
		metrics.IncUnitRejected(p.name, metrics.ReasonMalformed)
		p.logger.Debug("jpeg-bridge: dropping malformed access unit",
			"pts", buf.PTS, "size", buf.size(), "error", err)
		return fmt.Errorf("%w: %w", ErrMalformedUnit, err)
	}
	if unit.SPSErr != nil {
		p.logger.Debug("jpeg-bridge: SPS not parsed, passing unit to parser",
			"pts", buf.PTS, "error", unit.SPSErr)
	}

	if p.cfg.WaitForKeyframe && !p.ingest.keyframeSeen {
		if !unit.RandomAccess() {
			p.counters.unitsSkipped.Add(1)
			metrics.IncUnitRejected(p.name, metrics.ReasonKeyframeWait)
			p.logger.Debug("jpeg-bridge: waiting for keyframe, skipping unit", "pts", buf.PTS)
			return nil
		}
		p.ingest.keyframeSeen = true
		p.logger.Debug("jpeg-bridge: first keyframe received",
			"pts", buf.PTS, "sps_width", unit.Width, "sps_height", unit.Height)
	}

	if !p.ingest.started {
		return p.queue(buf)
	}
	return p.submit(buf)
}

// seal stamps a private copy of data and advances the clock by one step.
// Caller holds ingest.mu.
func (p *Pipeline) seal(data []byte) mediaBuffer {
	b := mediaBuffer{
		data:     append([]byte(nil), data...),
		PTS:      p.ingest.clock,
		DTS:      p.ingest.clock,
		Duration: p.step,
	}
	p.ingest.clock += p.step
	return b
}

// queue holds units pushed before Start. Caller holds ingest.mu.
func (p *Pipeline) queue(buf mediaBuffer) error {
	size := uint64(buf.size())
	if p.ingest.pendingBytes+size > p.cfg.MaxQueueBytes {
		p.counters.backpressure.Add(1)
		metrics.IncUnitRejected(p.name, metrics.ReasonBackpressure)
		return fmt.Errorf("%w: %w", ErrInjection, ErrBackpressure)
	}
	p.ingest.pending = append(p.ingest.pending, buf)
	p.ingest.pendingBytes += size
	return nil
}

// submit hands buf to the chain. Caller holds ingest.mu.
func (p *Pipeline) submit(buf mediaBuffer) error {
	p.trackPush(buf.PTS)

	err := p.chain.Push(gstchain.Buffer{
		Data:     buf.data,
		PTS:      buf.PTS,
		DTS:      buf.DTS,
		Duration: buf.Duration,
	})
	if err != nil {
		p.untrackPush(buf.PTS)
		if errors.Is(err, gstchain.ErrBackpressure) {
			p.counters.backpressure.Add(1)
			metrics.IncUnitRejected(p.name, metrics.ReasonBackpressure)
			p.logger.Debug("jpeg-bridge: ingest queue full", "pts", buf.PTS)
		} else {
			p.counters.pushFailures.Add(1)
			metrics.IncUnitRejected(p.name, metrics.ReasonInjection)
			p.logger.Warn("jpeg-bridge: failed to inject access unit", "pts", buf.PTS, "error", err)
		}
		return fmt.Errorf("%w: %w", ErrInjection, err)
	}

	p.counters.unitsPushed.Add(1)
	metrics.IncUnitPushed(p.name)
	return nil
}

// flushPending submits units queued before Start, in order, and forwards a
// pending end of stream.
func (p *Pipeline) flushPending() {
	p.ingest.mu.Lock()
	defer p.ingest.mu.Unlock()

	pending := p.ingest.pending
	p.ingest.pending = nil
	p.ingest.pendingBytes = 0
	p.ingest.started = true

	for _, buf := range pending {
		if err := p.submit(buf); err != nil {
			p.logger.Warn("jpeg-bridge: queued unit not injected", "pts", buf.PTS, "error", err)
		}
	}
	if len(pending) > 0 {
		p.logger.Debug("jpeg-bridge: queued units flushed", "count", len(pending))
	}

	if p.ingest.ended {
		_ = p.endChain()
	}
}

// EndStream signals that the producer will push no more units. Once
// everything pushed has drained, Start returns nil with OutcomeEOS.
func (p *Pipeline) EndStream() error {
	if p == nil {
		return ErrDestroyed
	}

	p.ingest.mu.Lock()
	defer p.ingest.mu.Unlock()

	if p.ingest.closed || p.destroyed.Load() {
		return ErrDestroyed
	}
	if p.State() == StateError {
		return fmt.Errorf("%w: pipeline is in ERROR state", ErrInvalidState)
	}
	if p.ingest.ended {
		return nil
	}

	p.ingest.ended = true
	if p.ingest.started {
		return p.endChain()
	}
	return nil
}

// endChain forwards end of stream to the chain. Caller holds ingest.mu.
func (p *Pipeline) endChain() error {
	if err := p.chain.EndStream(); err != nil {
		p.logger.Warn("jpeg-bridge: failed to signal end of stream", "error", err)
		return fmt.Errorf("%w: %w", ErrInjection, err)
	}
	p.logger.Info("jpeg-bridge: end of stream signalled",
		"units_pushed", p.counters.unitsPushed.Load(),
		"next_pts", p.ingest.clock,
	)
	return nil
}

func (p *Pipeline) trackPush(pts time.Duration) {
	p.latMu.Lock()
	defer p.latMu.Unlock()

	if len(p.pushTimes) >= maxTrackedPushes {
		oldest, first := time.Duration(0), true
		for k := range p.pushTimes {
			if first || k < oldest {
				oldest, first = k, false
			}
		}
		delete(p.pushTimes, oldest)
		p.countDropped(1)
	}
	p.pushTimes[pts] = time.Now()
}

func (p *Pipeline) untrackPush(pts time.Duration) {
	p.latMu.Lock()
	delete(p.pushTimes, pts)
	p.latMu.Unlock()
}

// takePush returns the push time of pts and forgets it. Older entries
// belong to units that never produced a frame and are counted as dropped.
func (p *Pipeline) takePush(pts time.Duration) (time.Time, bool) {
	p.latMu.Lock()
	defer p.latMu.Unlock()

	pushedAt, ok := p.pushTimes[pts]
	delete(p.pushTimes, pts)

	var stale uint64
	for k := range p.pushTimes {
		if k < pts {
			delete(p.pushTimes, k)
			stale++
		}
	}
	p.countDropped(stale)
	return pushedAt, ok
}

// drainPushes counts every unit still tracked as dropped. Called once the
// chain has drained at end of stream.
func (p *Pipeline) drainPushes() {
	p.latMu.Lock()
	defer p.latMu.Unlock()

	p.countDropped(uint64(len(p.pushTimes)))
	clear(p.pushTimes)
}

// countDropped records n units lost between ingest and extraction.
// Caller holds latMu.
func (p *Pipeline) countDropped(n uint64) {
	if n == 0 {
		return
	}
	p.counters.framesDropped.Add(n)
	metrics.AddFramesDropped(p.name, n)
	p.logger.Debug("jpeg-bridge: frames dropped before extraction", "count", n)
}
