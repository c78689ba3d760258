package jpegbridge

import (
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/metrics"
)

type counters struct {
	unitsPushed     atomic.Uint64
	unitsEmpty      atomic.Uint64
	unitsMalformed  atomic.Uint64
	unitsSkipped    atomic.Uint64
	pushFailures    atomic.Uint64
	backpressure    atomic.Uint64
	framesEncoded   atomic.Uint64
	framesExtracted atomic.Uint64
	framesDropped   atomic.Uint64
	framesUnclaimed atomic.Uint64
	bytesOut        atomic.Uint64
	warnings        atomic.Uint64
	eventsDropped   atomic.Uint64
}

// Stats is a snapshot of pipeline counters and measurements.
type Stats struct {
	Name  string
	State State
	// UnitsPushed is the number of access units handed to the chain
	UnitsPushed uint64
	// UnitsEmpty, UnitsMalformed and UnitsSkipped count units refused at
	// ingest; skipped units arrived before the first keyframe
	UnitsEmpty     uint64
	UnitsMalformed uint64
	UnitsSkipped   uint64
	// PushFailures counts flow errors; Backpressure counts full-queue refusals
	PushFailures uint64
	Backpressure uint64
	// FramesEncoded counts frames leaving the encoder
	FramesEncoded uint64
	// FramesExtracted counts frames that reached the extraction hook
	FramesExtracted uint64
	// FramesUnclaimed counts extracted frames with no callback registered
	FramesUnclaimed uint64
	// FramesDropped counts pushed units that never reached extraction:
	// dropped by the sink under its drop policy or discarded by the
	// decoder. A unit counts once a later frame is extracted or the stream
	// has drained, so frames still in flight are never included.
	FramesDropped uint64
	// DropRate is FramesDropped as a percentage of UnitsPushed (0-100)
	DropRate float64
	BytesOut uint64
	// Warnings counts non-fatal stage warnings (e.g. undecodable units)
	Warnings      uint64
	EventsDropped uint64
	// OutputFPS is the measured extraction rate over recent frames
	OutputFPS       float64
	OutputFPSStdDev float64
	// OutputJitterMS is the mean deviation from the expected frame interval
	OutputJitterMS float64
	CadenceStable  bool
	// Push to extraction latency over the last 100 frames
	LatencyMeanMS float64
	LatencyP95MS  float64
	LatencyMaxMS  float64
	// NextPTS is the timestamp the next accepted unit will carry
	NextPTS time.Duration
	Uptime  time.Duration
}

// Stats returns a snapshot of the pipeline statistics. Safe to call from
// any goroutine.
func (p *Pipeline) Stats() Stats {
	if p == nil {
		return Stats{}
	}

	pushed := p.counters.unitsPushed.Load()
	dropped := p.counters.framesDropped.Load()

	var dropRate float64
	if pushed > 0 {
		dropRate = float64(dropped) / float64(pushed) * 100
	}

	cad := p.cadence.Snapshot(time.Now())
	latMean, latP95, latMax := p.latency.GetStats()

	p.ingest.mu.Lock()
	nextPTS := p.ingest.clock
	p.ingest.mu.Unlock()

	var uptime time.Duration
	if started := p.startedAt.Load(); started != 0 {
		uptime = time.Since(time.Unix(0, started))
	}

	return Stats{
		Name:            p.name,
		State:           p.State(),
		UnitsPushed:     pushed,
		UnitsEmpty:      p.counters.unitsEmpty.Load(),
		UnitsMalformed:  p.counters.unitsMalformed.Load(),
		UnitsSkipped:    p.counters.unitsSkipped.Load(),
		PushFailures:    p.counters.pushFailures.Load(),
		Backpressure:    p.counters.backpressure.Load(),
		FramesEncoded:   p.counters.framesEncoded.Load(),
		FramesExtracted: p.counters.framesExtracted.Load(),
		FramesUnclaimed: p.counters.framesUnclaimed.Load(),
		FramesDropped:   dropped,
		DropRate:        dropRate,
		BytesOut:        p.counters.bytesOut.Load(),
		Warnings:        p.counters.warnings.Load(),
		EventsDropped:   p.counters.eventsDropped.Load(),
		OutputFPS:       cad.FPSMean,
		OutputFPSStdDev: cad.FPSStdDev,
		OutputJitterMS:  cad.JitterMean * 1000,
		CadenceStable:   cad.IsStable,
		LatencyMeanMS:   latMean,
		LatencyP95MS:    latP95,
		LatencyMaxMS:    latMax,
		NextPTS:         nextPTS,
		Uptime:          uptime,
	}
}

// publishGauges pushes derived values to Prometheus. Called from the run
// loop only.
func (p *Pipeline) publishGauges() {
	if p.counters.framesExtracted.Load() > 0 {
		metrics.SetOutputFPS(p.name, p.cadence.Snapshot(time.Now()).FPSMean)
	}
}
