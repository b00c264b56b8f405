package metadata

import (
	"math"
	"sync"
	"time"
)

const (
	// DefaultWindowSize is the number of frame arrivals kept for interval statistics.
	DefaultWindowSize = 64

	// intervalStabilityThreshold is the largest std-dev, as a fraction of the mean
	// interval, for a stable sequence.
	intervalStabilityThreshold = 0.15

	// jitterStabilityThreshold is the largest mean jitter, as a fraction of the
	// mean interval, for a stable sequence.
	jitterStabilityThreshold = 0.20
)

// IntervalStats describes inter-frame timing over a window of arrivals.
type IntervalStats struct {
	Frames     int
	Mean       time.Duration
	StdDev     time.Duration
	Min        time.Duration
	Max        time.Duration
	JitterMean time.Duration
	JitterMax  time.Duration
	RateHz     float64
	Stable     bool
}

// Window keeps the most recent arrival times.
type Window struct {
	mu    sync.Mutex
	times []time.Time
	next  int
	full  bool
}

// NewWindow creates a window holding size arrivals.
func NewWindow(size int) *Window {
	if size < 2 {
		size = 2
	}
	return &Window{times: make([]time.Time, size)}
}

// Add records one arrival.
func (w *Window) Add(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.times[w.next] = t
	w.next = (w.next + 1) % len(w.times)
	if w.next == 0 {
		w.full = true
	}
}

// Reset forgets all arrivals.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.next = 0
	w.full = false
}

// Stats computes statistics over the arrivals in order.
func (w *Window) Stats() IntervalStats {
	w.mu.Lock()
	var ordered []time.Time
	if w.full {
		ordered = append(ordered, w.times[w.next:]...)
		ordered = append(ordered, w.times[:w.next]...)
	} else {
		ordered = append(ordered, w.times[:w.next]...)
	}
	w.mu.Unlock()

	return ComputeIntervalStats(ordered)
}

// ComputeIntervalStats derives interval mean, spread and jitter from ordered
// arrival times. Fewer than two arrivals yield only the frame count.
func ComputeIntervalStats(times []time.Time) IntervalStats {
	n := len(times)
	if n < 2 {
		return IntervalStats{Frames: n}
	}

	intervals := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		intervals = append(intervals, times[i].Sub(times[i-1]).Seconds())
	}

	minI, maxI, sum := intervals[0], intervals[0], 0.0
	for _, v := range intervals {
		minI = math.Min(minI, v)
		maxI = math.Max(maxI, v)
		sum += v
	}
	mean := sum / float64(len(intervals))

	var sq, jitterSum, jitterMax float64
	for _, v := range intervals {
		d := v - mean
		sq += d * d
		j := math.Abs(d)
		jitterSum += j
		jitterMax = math.Max(jitterMax, j)
	}
	stdDev := math.Sqrt(sq / float64(len(intervals)))
	jitterMean := jitterSum / float64(len(intervals))

	stats := IntervalStats{
		Frames:     n,
		Mean:       seconds(mean),
		StdDev:     seconds(stdDev),
		Min:        seconds(minI),
		Max:        seconds(maxI),
		JitterMean: seconds(jitterMean),
		JitterMax:  seconds(jitterMax),
	}
	if mean > 0 {
		stats.RateHz = 1 / mean
		stats.Stable = stdDev < mean*intervalStabilityThreshold &&
			jitterMean < mean*jitterStabilityThreshold
	}
	return stats
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
