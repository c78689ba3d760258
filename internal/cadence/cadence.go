// Package cadence measures the rate and regularity at which JPEG frames leave
// the chain.
package cadence

import (
	"math"
	"sync"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum FPS standard deviation as a
	// fraction of mean FPS for the output to count as stable.
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of
	// the expected inter-frame interval.
	jitterStabilityThreshold = 0.20

	// trackerSize bounds how many recent frame times the Tracker keeps.
	trackerSize = 120
)

// Stats describes output cadence over a set of frame times.
type Stats struct {
	Frames    int
	Duration  time.Duration
	FPSMean   float64
	FPSStdDev float64
	FPSMin    float64
	FPSMax    float64
	// Jitter values are deviations from the expected interval, in seconds.
	JitterMean   float64
	JitterStdDev float64
	JitterMax    float64
	// IsStable: stddev < 15% of mean FPS and mean jitter < 20% of interval.
	IsStable bool
}

// Calculate computes cadence statistics from frame times observed over
// totalDuration.
func Calculate(frameTimes []time.Time, totalDuration time.Duration) Stats {
	n := len(frameTimes)
	if n == 0 || totalDuration <= 0 {
		return Stats{Frames: n, Duration: totalDuration}
	}

	fpsMean := float64(n) / totalDuration.Seconds()

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		if interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}

	if len(instantaneous) == 0 {
		return Stats{Frames: n, Duration: totalDuration, FPSMean: fpsMean}
	}

	fpsMin, fpsMax := instantaneous[0], instantaneous[0]
	var sumSquares float64
	for _, fps := range instantaneous {
		fpsMin = math.Min(fpsMin, fps)
		fpsMax = math.Max(fpsMax, fps)
		diff := fps - fpsMean
		sumSquares += diff * diff
	}
	fpsStdDev := math.Sqrt(sumSquares / float64(len(instantaneous)))

	expectedInterval := 1.0 / fpsMean
	jitters := make([]float64, 0, n-1)
	var jitterSum, jitterMax float64
	for i := 1; i < n; i++ {
		j := math.Abs(frameTimes[i].Sub(frameTimes[i-1]).Seconds() - expectedInterval)
		jitters = append(jitters, j)
		jitterSum += j
		jitterMax = math.Max(jitterMax, j)
	}
	jitterMean := jitterSum / float64(len(jitters))

	var jitterSumSquares float64
	for _, j := range jitters {
		diff := j - jitterMean
		jitterSumSquares += diff * diff
	}

	return Stats{
		Frames:       n,
		Duration:     totalDuration,
		FPSMean:      fpsMean,
		FPSStdDev:    fpsStdDev,
		FPSMin:       fpsMin,
		FPSMax:       fpsMax,
		JitterMean:   jitterMean,
		JitterStdDev: math.Sqrt(jitterSumSquares / float64(len(jitters))),
		JitterMax:    jitterMax,
		IsStable: fpsStdDev < fpsMean*fpsStabilityThreshold &&
			jitterMean < expectedInterval*jitterStabilityThreshold,
	}
}

// Tracker keeps the most recent frame times. Safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	times []time.Time
	next  int
	full  bool
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{times: make([]time.Time, trackerSize)}
}

// Mark records a frame observed at ts.
func (t *Tracker) Mark(ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.times[t.next] = ts
	t.next = (t.next + 1) % len(t.times)
	if t.next == 0 {
		t.full = true
	}
}

// Snapshot computes stats over the retained frame times, measured up to now.
func (t *Tracker) Snapshot(now time.Time) Stats {
	t.mu.Lock()
	var ordered []time.Time
	if t.full {
		ordered = make([]time.Time, 0, len(t.times))
		ordered = append(ordered, t.times[t.next:]...)
		ordered = append(ordered, t.times[:t.next]...)
	} else {
		ordered = append([]time.Time(nil), t.times[:t.next]...)
	}
	t.mu.Unlock()

	if len(ordered) == 0 {
		return Stats{}
	}
	return Calculate(ordered, now.Sub(ordered[0]))
}
