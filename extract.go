package jpegbridge

import (
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/metrics"
)

// callbackBinding is swapped as a unit so extraction never sees a callback
// paired with another callback's userData.
type callbackBinding struct {
	cb       FrameCallback
	userData any
}

// SetFrameCallback registers cb and userData for every frame extracted
// after the call returns. A nil cb unregisters; frames are then counted as
// unclaimed. Frames already queued inside the chain are delivered to
// whichever callback is registered when they reach the sink.
func (p *Pipeline) SetFrameCallback(cb FrameCallback, userData any) {
	if p == nil {
		return
	}
	if cb == nil {
		p.binding.Store(nil)
		return
	}
	p.binding.Store(&callbackBinding{cb: cb, userData: userData})
}

// extract runs on the sink's streaming thread for every encoded frame.
// data is only valid until it returns.
func (p *Pipeline) extract(data []byte, pts time.Duration) {
	seq := p.seq.Add(1)

	if b := p.binding.Load(); b != nil {
		b.cb(Frame{
			Seq:    seq,
			PTS:    pts,
			Data:   data,
			Width:  p.width,
			Height: p.height,
		}, b.userData)
	} else {
		p.counters.framesUnclaimed.Add(1)
	}

	p.counters.framesExtracted.Add(1)
	p.counters.bytesOut.Add(uint64(len(data)))
	metrics.ObserveFrame(p.name, len(data))

	now := time.Now()
	p.cadence.Mark(now)
	if pushedAt, ok := p.takePush(pts); ok {
		lat := now.Sub(pushedAt)
		p.latency.AddSample(float64(lat) / float64(time.Millisecond))
		metrics.ObserveFrameLatency(p.name, lat)
	}

	p.logger.Debug("jpeg-bridge: frame extracted", "seq", seq, "pts", pts, "size_bytes", len(data))
}

// onEncoded runs on the encoder's streaming thread.
func (p *Pipeline) onEncoded() {
	p.counters.framesEncoded.Add(1)
}
