package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/rabuchanan2077/parking-lot-video/internal/telemetry"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Instruments records per-camera compositor metrics. With no global
// provider configured every call is a no-op.
type Instruments struct {
	frames    metric.Int64Counter
	composite metric.Float64Histogram
	rebuilds  metric.Int64Counter
	rejected  metric.Int64Counter
}

// NewInstruments creates the compositor instruments on the global meter.
func NewInstruments() (*Instruments, error) {
	m := meter()
	i := &Instruments{}

	var err error
	i.frames, err = m.Int64Counter(
		"videomapper.frames.composited",
		metric.WithDescription("Frames applied to the canvas"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating frames counter: %w", err)
	}

	i.composite, err = m.Float64Histogram(
		"videomapper.composite.duration",
		metric.WithDescription("Time spent applying one frame"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating composite histogram: %w", err)
	}

	i.rebuilds, err = m.Int64Counter(
		"videomapper.table.rebuilds",
		metric.WithDescription("Mapping tables built after a resolution change"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rebuild counter: %w", err)
	}

	i.rejected, err = m.Int64Counter(
		"videomapper.frames.rejected",
		metric.WithDescription("Frames the canvas refused"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rejected counter: %w", err)
	}
	return i, nil
}

// FrameComposited records one applied frame.
func (i *Instruments) FrameComposited(ctx context.Context, camera string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("camera", camera))
	i.frames.Add(ctx, 1, attrs)
	i.composite.Record(ctx, float64(d.Microseconds())/1000, attrs)
}

// TableRebuilt records a table rebuild.
func (i *Instruments) TableRebuilt(ctx context.Context, camera string) {
	i.rebuilds.Add(ctx, 1, metric.WithAttributes(attribute.String("camera", camera)))
}

// FrameRejected records a frame the canvas refused.
func (i *Instruments) FrameRejected(ctx context.Context, camera string) {
	i.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("camera", camera)))
}

// MirrorCounts reports cumulative mirror updates and skipped updates.
type MirrorCounts func() (updates, skips uint64)

// ObserveMirror exports the mirror counters as observable counters. The
// returned registration is unregistered on shutdown.
func ObserveMirror(counts MirrorCounts) (metric.Registration, error) {
	m := meter()
	updates, err := m.Int64ObservableCounter(
		"videomapper.mirror.updates",
		metric.WithDescription("Canvas copies published to the mirror file"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating mirror updates counter: %w", err)
	}
	skips, err := m.Int64ObservableCounter(
		"videomapper.mirror.skips",
		metric.WithDescription("Mirror copies skipped because a reader held the lock"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating mirror skips counter: %w", err)
	}
	reg, err := m.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			u, s := counts()
			o.ObserveInt64(updates, int64(u))
			o.ObserveInt64(skips, int64(s))
			return nil
		},
		updates, skips,
	)
	if err != nil {
		return nil, fmt.Errorf("registering mirror callback: %w", err)
	}
	return reg, nil
}
