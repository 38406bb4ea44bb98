package capture

import (
	"math"
	"sync"
	"time"
)

const (
	// DefaultRateWindow is the number of retrieval times a RateMeter keeps.
	DefaultRateWindow = 120

	// A source is stable when the FPS standard deviation is below 15% of the
	// mean and the mean jitter below 20% of the expected interval.
	fpsStabilityThreshold    = 0.15
	jitterStabilityThreshold = 0.20
)

// RateStats describes the retrieval rate over the meter window.
type RateStats struct {
	Frames     int
	FPSMean    float64
	FPSStdDev  float64
	JitterMean time.Duration
	JitterMax  time.Duration
	Stable     bool
}

// RateMeter keeps the last retrieval times of a source in a ring.
//
// Thread-safety: safe for concurrent use.
type RateMeter struct {
	mu    sync.Mutex
	times []time.Time
	next  int
	full  bool
}

// NewRateMeter creates a meter over the last window retrievals.
func NewRateMeter(window int) *RateMeter {
	if window < 2 {
		window = DefaultRateWindow
	}
	return &RateMeter{times: make([]time.Time, window)}
}

// Observe records one retrieval.
func (m *RateMeter) Observe(t time.Time) {
	m.mu.Lock()
	m.times[m.next] = t
	m.next = (m.next + 1) % len(m.times)
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()
}

// Reset forgets every observation; a reopened source starts over.
func (m *RateMeter) Reset() {
	m.mu.Lock()
	m.next, m.full = 0, false
	m.mu.Unlock()
}

// Stats computes the rate over the window.
func (m *RateMeter) Stats() RateStats {
	m.mu.Lock()
	var times []time.Time
	if m.full {
		times = append(times, m.times[m.next:]...)
		times = append(times, m.times[:m.next]...)
	} else {
		times = append(times, m.times[:m.next]...)
	}
	m.mu.Unlock()
	return CalculateRate(times)
}

// CalculateRate computes rate statistics from ordered retrieval times.
func CalculateRate(times []time.Time) RateStats {
	n := len(times)
	stats := RateStats{Frames: n}
	if n < 2 {
		return stats
	}
	span := times[n-1].Sub(times[0]).Seconds()
	if span <= 0 {
		return stats
	}
	stats.FPSMean = float64(n-1) / span

	var sumSquares float64
	intervals := 0
	for i := 1; i < n; i++ {
		if dt := times[i].Sub(times[i-1]).Seconds(); dt > 0 {
			diff := 1/dt - stats.FPSMean
			sumSquares += diff * diff
			intervals++
		}
	}
	if intervals > 0 {
		stats.FPSStdDev = math.Sqrt(sumSquares / float64(intervals))
	}

	expected := 1 / stats.FPSMean
	var jitterSum float64
	for i := 1; i < n; i++ {
		j := math.Abs(times[i].Sub(times[i-1]).Seconds() - expected)
		jitterSum += j
		if d := seconds(j); d > stats.JitterMax {
			stats.JitterMax = d
		}
	}
	jitterMean := jitterSum / float64(n-1)
	stats.JitterMean = seconds(jitterMean)

	stats.Stable = stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold &&
		jitterMean < expected*jitterStabilityThreshold
	return stats
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
