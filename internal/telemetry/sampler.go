package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// DefaultInterval is how often throughput is sampled.
const DefaultInterval = time.Second

// Counter counts frames across all cameras.
type Counter struct {
	n atomic.Uint64
}

// Inc adds one frame.
func (c *Counter) Inc() {
	c.n.Add(1)
}

// Load returns the frames counted since the last Swap.
func (c *Counter) Load() uint64 {
	return c.n.Load()
}

// Swap returns the count and resets it to zero.
func (c *Counter) Swap() uint64 {
	return c.n.Swap(0)
}

// Sample is the throughput over one interval.
type Sample struct {
	Time     time.Time     `json:"time"`
	Frames   uint64        `json:"frames"`
	Interval time.Duration `json:"interval"`
	FPS      float64       `json:"fps"`
}

// Sink receives every sample.
type Sink interface {
	Record(ctx context.Context, s Sample) error
}

// Sampler periodically drains a Counter and fans the result out to sinks.
type Sampler struct {
	counter  *Counter
	interval time.Duration
	sinks    []Sink

	mu    sync.Mutex
	prev  time.Time
	last  Sample
	total uint64
}

// NewSampler creates a sampler and registers its FPS gauge on the global
// meter.
func NewSampler(counter *Counter, interval time.Duration, sinks ...Sink) (*Sampler, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Sampler{counter: counter, interval: interval, sinks: sinks}

	m := meter()
	fps, err := m.Float64ObservableGauge(
		"videomapper.fps",
		metric.WithDescription("Frames composited per second, all cameras"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating fps gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveFloat64(fps, s.Last().FPS)
			return nil
		},
		fps,
	)
	if err != nil {
		return nil, fmt.Errorf("registering fps callback: %w", err)
	}
	return s, nil
}

// Run samples every interval until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.mu.Lock()
	s.prev = time.Now()
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sample := s.Tick(now)
			for _, sink := range s.sinks {
				if err := sink.Record(ctx, sample); err != nil {
					slog.Warn("telemetry: sink failed", "error", err)
				}
			}
		}
	}
}

// Tick drains the counter and computes the rate since the previous tick.
func (s *Sampler) Tick(now time.Time) Sample {
	frames := s.counter.Swap()

	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := s.interval
	if !s.prev.IsZero() && now.After(s.prev) {
		elapsed = now.Sub(s.prev)
	}
	s.prev = now
	s.total += frames
	s.last = Sample{
		Time:     now,
		Frames:   frames,
		Interval: elapsed,
		FPS:      float64(frames) / elapsed.Seconds(),
	}
	return s.last
}

// Last returns the most recent sample.
func (s *Sampler) Last() Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Total returns every frame sampled so far.
func (s *Sampler) Total() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// LogSink writes samples to the default logger.
type LogSink struct{}

func (LogSink) Record(_ context.Context, s Sample) error {
	level := slog.LevelInfo
	if s.Frames == 0 {
		level = slog.LevelDebug
	}
	slog.Log(context.Background(), level, "telemetry: throughput",
		"frames", s.Frames,
		"fps", fmt.Sprintf("%.1f", s.FPS),
	)
	return nil
}
