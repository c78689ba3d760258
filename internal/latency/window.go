// Package latency keeps a bounded window of push-to-extract latency samples.
package latency

import (
	"sort"
	"sync"
)

// WindowSize is the number of samples retained.
const WindowSize = 100

// Window is a fixed-size ring of latency samples in milliseconds.
//
// Safe for concurrent use: samples are added from the streaming thread while
// stats are read from any goroutine.
type Window struct {
	mu      sync.Mutex
	Samples [WindowSize]float64
	Index   int // next write position
	Count   int // valid samples, capped at WindowSize
}

// AddSample records one latency sample, overwriting the oldest when full.
func (w *Window) AddSample(ms float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.Samples[w.Index] = ms
	w.Index = (w.Index + 1) % len(w.Samples)
	if w.Count < len(w.Samples) {
		w.Count++
	}
}

// GetStats returns mean, 95th percentile and max of the retained samples.
// An empty window returns zeros.
func (w *Window) GetStats() (mean, p95, max float64) {
	w.mu.Lock()
	n := w.Count
	sorted := make([]float64, n)
	copy(sorted, w.Samples[:n])
	w.mu.Unlock()

	if n == 0 {
		return 0, 0, 0
	}

	var sum float64
	for _, s := range sorted {
		sum += s
	}
	mean = sum / float64(n)

	sort.Float64s(sorted)
	max = sorted[n-1]

	idx := int(float64(n)*0.95+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	p95 = sorted[idx]

	return mean, p95, max
}
