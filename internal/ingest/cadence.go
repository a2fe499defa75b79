package ingest

import (
	"math"
	"sync"
	"time"
)

const (
	cadenceWindow = 64

	// A feed is stable when the per-frame rate deviates less than 15% from
	// the mean and the mean jitter stays under 20% of the frame interval.
	fpsStabilityThreshold    = 0.15
	jitterStabilityThreshold = 0.20
)

// Cadence summarizes the arrival times of a camera's recent frames.
type Cadence struct {
	FPS        float64       `json:"fps"`
	FPSStdDev  float64       `json:"fps_stddev"`
	JitterMean time.Duration `json:"jitter_mean"`
	JitterMax  time.Duration `json:"jitter_max"`
	Stable     bool          `json:"stable"`
}

// cadence keeps the last cadenceWindow arrival times in a ring.
type cadence struct {
	mu    sync.Mutex
	times [cadenceWindow]time.Time
	next  int
	count int
}

func (c *cadence) record(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.times[c.next] = t
	c.next = (c.next + 1) % cadenceWindow
	if c.count < cadenceWindow {
		c.count++
	}
}

func (c *cadence) snapshot() Cadence {
	c.mu.Lock()
	times := make([]time.Time, 0, c.count)
	start := (c.next - c.count + cadenceWindow) % cadenceWindow
	for i := 0; i < c.count; i++ {
		times = append(times, c.times[(start+i)%cadenceWindow])
	}
	c.mu.Unlock()
	return cadenceOf(times)
}

// cadenceOf computes rate and jitter over ordered arrival times.
func cadenceOf(times []time.Time) Cadence {
	n := len(times)
	if n < 2 {
		return Cadence{}
	}
	span := times[n-1].Sub(times[0]).Seconds()
	if span <= 0 {
		return Cadence{}
	}
	mean := float64(n-1) / span
	expected := 1 / mean

	var sumSquares, jitterSum, jitterMax float64
	intervals := 0
	for i := 1; i < n; i++ {
		interval := times[i].Sub(times[i-1]).Seconds()
		jitter := math.Abs(interval - expected)
		jitterSum += jitter
		jitterMax = math.Max(jitterMax, jitter)
		if interval > 0 {
			d := 1/interval - mean
			sumSquares += d * d
			intervals++
		}
	}

	c := Cadence{FPS: mean}
	if intervals > 0 {
		c.FPSStdDev = math.Sqrt(sumSquares / float64(intervals))
	}
	jitterMean := jitterSum / float64(n-1)
	c.JitterMean = time.Duration(jitterMean * float64(time.Second))
	c.JitterMax = time.Duration(jitterMax * float64(time.Second))
	c.Stable = c.FPSStdDev < mean*fpsStabilityThreshold && jitterMean < expected*jitterStabilityThreshold
	return c
}
