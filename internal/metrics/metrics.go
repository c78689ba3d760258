// Package metrics exposes Prometheus instrumentation for the JPEG bridge.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons an access unit is refused at ingest.
const (
	ReasonEmpty        = "empty"
	ReasonMalformed    = "malformed"
	ReasonKeyframeWait = "keyframe_wait"
	ReasonBackpressure = "backpressure"
	ReasonInjection    = "injection"
	ReasonState        = "state"
)

var (
	// UnitsPushed counts access units accepted by the ingest stage.
	UnitsPushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jpegbridge_units_pushed_total",
		Help: "Total H.264 access units accepted into the pipeline",
	}, []string{"pipeline"})

	// UnitsRejected counts access units refused at ingest, by reason.
	UnitsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jpegbridge_units_rejected_total",
		Help: "Total H.264 access units refused at ingest by reason",
	}, []string{"pipeline", "reason"})

	// FramesExtracted counts JPEG frames delivered to the frame callback path.
	FramesExtracted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jpegbridge_frames_extracted_total",
		Help: "Total JPEG frames extracted from the sink",
	}, []string{"pipeline"})

	// FramesDropped counts pushed units that never reached extraction.
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jpegbridge_frames_dropped_total",
		Help: "Total pushed access units dropped by the decoder or sink before extraction",
	}, []string{"pipeline"})

	// FrameBytes tracks the size of extracted JPEG frames.
	FrameBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jpegbridge_frame_bytes",
		Help:    "Size of extracted JPEG frames in bytes",
		Buckets: prometheus.ExponentialBuckets(8*1024, 2, 10),
	}, []string{"pipeline"})

	// FrameLatency tracks time from access unit push to JPEG extraction.
	FrameLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jpegbridge_frame_latency_seconds",
		Help:    "Time from access unit push to JPEG frame extraction",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"pipeline"})

	// OutputFPS reports the measured output frame rate.
	OutputFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "jpegbridge_output_fps",
		Help: "Measured JPEG output frame rate",
	}, []string{"pipeline"})

	// StageErrors counts chain errors by category and whether they were fatal.
	StageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jpegbridge_stage_errors_total",
		Help: "Total errors reported by processing stages",
	}, []string{"pipeline", "category", "fatal"})

	// SourceReconnects counts reconnection attempts of an upstream source.
	SourceReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jpegbridge_source_reconnects_total",
		Help: "Total reconnection attempts of the access unit source",
	}, []string{"source"})

	// BusDropped counts frames a fan-out subscriber did not receive.
	BusDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jpegbridge_bus_dropped_total",
		Help: "Total frames dropped for a fan-out subscriber",
	}, []string{"subscriber"})
)

// IncUnitPushed records an accepted access unit.
func IncUnitPushed(pipeline string) {
	UnitsPushed.WithLabelValues(pipeline).Inc()
}

// IncUnitRejected records a refused access unit.
func IncUnitRejected(pipeline, reason string) {
	UnitsRejected.WithLabelValues(pipeline, reason).Inc()
}

// ObserveFrame records an extracted frame of size bytes.
func ObserveFrame(pipeline string, size int) {
	FramesExtracted.WithLabelValues(pipeline).Inc()
	FrameBytes.WithLabelValues(pipeline).Observe(float64(size))
}

// ObserveFrameLatency records push-to-extract latency.
func ObserveFrameLatency(pipeline string, d time.Duration) {
	FrameLatency.WithLabelValues(pipeline).Observe(d.Seconds())
}

// AddFramesDropped records n units dropped before extraction.
func AddFramesDropped(pipeline string, n uint64) {
	if n == 0 {
		return
	}
	FramesDropped.WithLabelValues(pipeline).Add(float64(n))
}

// SetOutputFPS publishes the measured output frame rate.
func SetOutputFPS(pipeline string, fps float64) {
	OutputFPS.WithLabelValues(pipeline).Set(fps)
}

// IncStageError records a stage error.
func IncStageError(pipeline, category string, fatal bool) {
	f := "false"
	if fatal {
		f = "true"
	}
	StageErrors.WithLabelValues(pipeline, category, f).Inc()
}

// IncSourceReconnect records a source reconnection attempt.
func IncSourceReconnect(source string) {
	SourceReconnects.WithLabelValues(source).Inc()
}

// AddBusDropped records n frames dropped for a subscriber.
func AddBusDropped(subscriber string, n uint64) {
	if n == 0 {
		return
	}
	BusDropped.WithLabelValues(subscriber).Add(float64(n))
}

// Forget removes all series labelled with pipeline, used when a pipeline is
// destroyed so short-lived pipelines do not accumulate series.
func Forget(pipeline string) {
	labels := prometheus.Labels{"pipeline": pipeline}
	UnitsPushed.DeletePartialMatch(labels)
	UnitsRejected.DeletePartialMatch(labels)
	FramesExtracted.DeletePartialMatch(labels)
	FramesDropped.DeletePartialMatch(labels)
	FrameBytes.DeletePartialMatch(labels)
	FrameLatency.DeletePartialMatch(labels)
	OutputFPS.DeletePartialMatch(labels)
	StageErrors.DeletePartialMatch(labels)
}
