// Package app wires configuration, canvas, cameras, telemetry and preview
// into the running compositor.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/rabuchanan2077/parking-lot-video/internal/canvas"
	"github.com/rabuchanan2077/parking-lot-video/internal/config"
	"github.com/rabuchanan2077/parking-lot-video/internal/ingest"
	"github.com/rabuchanan2077/parking-lot-video/internal/mapping"
	"github.com/rabuchanan2077/parking-lot-video/internal/preview"
	"github.com/rabuchanan2077/parking-lot-video/internal/projection"
	"github.com/rabuchanan2077/parking-lot-video/internal/telemetry"
)

// DefaultShutdownTimeout bounds a graceful shutdown.
const DefaultShutdownTimeout = 5 * time.Second

// Options replaces the defaults used to build a Service.
type Options struct {
	// Sources defaults to GstSources.
	Sources SourceFactory
	// Registry defaults to projection.NewRegistry().
	Registry *projection.Registry
}

// Service is the running compositor: one ingest loop per camera feeding a
// shared canvas, a throughput sampler and the optional preview server.
type Service struct {
	settings  config.Settings
	canvas    *canvas.Canvas
	loops     []*ingest.Loop
	sampler   *telemetry.Sampler
	influx    *telemetry.InfluxSink
	preview   *preview.Server
	mirrorReg metric.Registration

	mu        sync.Mutex
	running   bool
	started   time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New builds the service. Cameras that cannot be assembled are logged and
// left out; if none remain New returns config.ErrNoCameras.
func New(settings config.Settings, cams []config.CameraConfig, opts Options) (*Service, error) {
	if opts.Sources == nil {
		opts.Sources = GstSources
	}
	if opts.Registry == nil {
		opts.Registry = projection.NewRegistry()
	}
	if err := config.Validate(settings, cams); err != nil {
		return nil, err
	}

	layout := loadLayout(settings.Layout)
	res := settings.Resolution
	if layout != nil {
		w, h := layout.Size()
		res = mapping.Resolution{Width: w, Height: h}
	}
	settings.Resolution = res

	s := &Service{
		settings: settings,
		canvas:   canvas.New(res.Width, res.Height, settings.ByteOrder, layout, openMirror(settings.MirrorPath, res, settings.ByteOrder)),
		done:     make(chan struct{}),
	}

	counter := &telemetry.Counter{}
	instruments, err := telemetry.NewInstruments()
	if err != nil {
		slog.Warn("app: metrics unavailable", "error", err)
		instruments = nil
	}

	for _, cc := range cams {
		loop, err := s.buildLoop(opts, cc, layout, ingest.Options{
			Canvas:      s.canvas,
			Counter:     counter,
			Instruments: instruments,
			Notifier:    s,
			Reconnect:   cc.Reconnect,
		})
		if err != nil {
			slog.Error("app: camera excluded", "camera", cc.Name, "error", err)
			continue
		}
		s.loops = append(s.loops, loop)
	}
	if len(s.loops) == 0 {
		s.close()
		return nil, config.ErrNoCameras
	}

	sinks := []telemetry.Sink{telemetry.LogSink{}}
	if settings.Influx.Enabled() {
		s.influx, err = telemetry.NewInfluxSink(settings.Influx)
		if err != nil {
			slog.Warn("app: influx export disabled", "error", err)
		} else {
			sinks = append(sinks, s.influx)
		}
	}
	s.sampler, err = telemetry.NewSampler(counter, settings.FPSInterval, sinks...)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("app: %w", err)
	}
	s.mirrorReg, err = telemetry.ObserveMirror(func() (uint64, uint64) {
		st := s.canvas.Stats()
		return st.MirrorUpdates, st.MirrorSkips
	})
	if err != nil {
		slog.Warn("app: mirror metrics unavailable", "error", err)
	}

	if settings.PreviewAddress != "" {
		reporters := make([]preview.CameraReporter, len(s.loops))
		for i, l := range s.loops {
			reporters[i] = l
		}
		s.preview = preview.New(preview.Options{
			Address:    settings.PreviewAddress,
			Canvas:     s.canvas,
			Cameras:    reporters,
			Throughput: s.sampler,
		})
	}

	slog.Info("app: service configured",
		"cameras", len(s.loops),
		"resolution", res,
		"byte_order", settings.ByteOrderName,
		"preview", settings.PreviewAddress,
		"influx", settings.Influx.Enabled(),
	)
	return s, nil
}

func (s *Service) buildLoop(opts Options, cc config.CameraConfig, layout *canvas.Layout, lo ingest.Options) (*ingest.Loop, error) {
	res := s.canvas.Size()
	regions := buildRegions(opts.Registry, cc, layout, res)
	if len(regions) == 0 {
		return nil, errNoUsableRegions
	}
	cam := mapping.NewCamera(cc.Name, cc.Orientation, cc.Position, cc.Lens, regions, res,
		mapping.Resolution{}, mapping.BuildOptions{DropFirstPixel: s.settings.DropFirstPixel})

	src, err := opts.Sources(cc, s.settings.ByteOrder)
	if err != nil {
		return nil, fmt.Errorf("opening source: %w", err)
	}
	slog.Info("app: camera configured",
		"camera", cc.Name,
		"orientation", cc.Orientation.String(),
		"position", fmt.Sprintf("%.1f,%.1f,%.1f", cc.Position.X, cc.Position.Y, cc.Position.Z),
		"regions", len(regions),
	)
	return ingest.NewLoop(cam, src, lo), nil
}

// Notify forwards canvas updates to the preview server, if any.
func (s *Service) Notify() {
	if s.preview != nil {
		s.preview.Notify()
	}
}

// Canvas returns the shared canvas.
func (s *Service) Canvas() *canvas.Canvas {
	return s.canvas
}

// Loops returns the camera loops in configuration order.
func (s *Service) Loops() []*ingest.Loop {
	return s.loops
}

// Preview returns the preview server, or nil when it is disabled.
func (s *Service) Preview() *preview.Server {
	return s.preview
}

// Run blocks until ctx is done or every camera has stopped. It returns the
// camera errors only when the cameras ended on their own.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("app: service is already running")
	}
	s.running = true
	s.started = time.Now()
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer close(s.done)
	defer cancel()

	slog.Info("app: service running", "cameras", len(s.loops))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.sampler.Run(ctx)
	}()
	if s.preview != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.preview.Run(ctx); err != nil {
				slog.Error("app: preview server failed", "error", err)
			}
		}()
	}

	err := ingest.RunAll(ctx, s.loops)
	stopped := ctx.Err() != nil
	cancel()
	wg.Wait()

	if stopped {
		return nil
	}
	if err == nil {
		err = errors.New("app: every camera stopped")
	}
	return err
}

// Shutdown stops a running service and releases the mirror and exporters.
// It waits for the cameras until ctx is done.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	running, cancel, started := s.running, s.cancel, s.started
	s.mu.Unlock()

	slog.Info("app: shutting down")
	if running {
		cancel()
		select {
		case <-s.done:
		case <-ctx.Done():
			// Cameras may still be writing; leave the mirror mapped.
			return fmt.Errorf("app: shutdown: %w", ctx.Err())
		}
	}

	s.close()
	attrs := []any{"canvas", s.canvas.Stats()}
	if running {
		attrs = append(attrs, "uptime", time.Since(started))
	}
	slog.Info("app: shutdown complete", attrs...)
	return nil
}

func (s *Service) close() {
	s.closeOnce.Do(func() {
		if s.mirrorReg != nil {
			if err := s.mirrorReg.Unregister(); err != nil {
				slog.Warn("app: unregistering mirror metrics failed", "error", err)
			}
		}
		if s.influx != nil {
			s.influx.Close()
		}
		if err := s.canvas.Close(); err != nil {
			slog.Warn("app: closing mirror failed", "error", err)
		}
	})
}
