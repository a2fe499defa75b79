package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/rabuchanan2077/parking-lot-video/internal/canvas"
	"github.com/rabuchanan2077/parking-lot-video/internal/capture"
	"github.com/rabuchanan2077/parking-lot-video/internal/mapping"
	"github.com/rabuchanan2077/parking-lot-video/internal/telemetry"
)

// Notifier is told when new pixels are on the canvas. Notify must not block.
type Notifier interface {
	Notify()
}

// Options wires a loop to the shared pieces.
type Options struct {
	Canvas      *canvas.Canvas
	Counter     *telemetry.Counter
	Instruments *telemetry.Instruments
	Notifier    Notifier
	Reconnect   ReconnectConfig
}

// Stats is a snapshot of one camera loop.
type Stats struct {
	Camera     string             `json:"camera"`
	Running    bool               `json:"running"`
	Frames     uint64             `json:"frames"`
	Rejected   uint64             `json:"rejected"`
	Reconnects uint32             `json:"reconnects"`
	Rebuilds   uint64             `json:"rebuilds"`
	TablePairs int                `json:"table_pairs"`
	Resolution mapping.Resolution `json:"resolution"`
	Cadence    Cadence            `json:"cadence"`
	LastFrame  time.Time          `json:"last_frame"`
	Error      string             `json:"error,omitempty"`
}

// Loop feeds one camera's frames into the canvas.
type Loop struct {
	cam  *mapping.Camera
	src  capture.VideoSource
	opts Options

	state    ReconnectState
	warnings *rate.Limiter
	arrivals cadence

	running   atomic.Bool
	frames    atomic.Uint64
	rejected  atomic.Uint64
	lastFrame atomic.Int64

	mu      sync.Mutex
	lastErr error
}

// NewLoop creates the loop for cam reading from src.
func NewLoop(cam *mapping.Camera, src capture.VideoSource, opts Options) *Loop {
	if opts.Counter == nil {
		opts.Counter = &telemetry.Counter{}
	}
	return &Loop{
		cam:      cam,
		src:      src,
		opts:     opts,
		warnings: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// Camera returns the camera this loop serves.
func (l *Loop) Camera() *mapping.Camera {
	return l.cam
}

// Run processes frames until ctx is done or the source fails for good.
func (l *Loop) Run(ctx context.Context) error {
	l.running.Store(true)
	defer l.running.Store(false)

	slog.Info("ingest: camera loop started", "camera", l.cam.Name, "source", l.src.Name())
	err := RunWithReconnect(ctx, l.cam.Name, l.session, l.opts.Reconnect, &l.state)
	if err != nil {
		l.mu.Lock()
		l.lastErr = err
		l.mu.Unlock()
	}
	slog.Info("ingest: camera loop stopped",
		"camera", l.cam.Name,
		"frames", l.frames.Load(),
		"error", err,
	)
	return err
}

func (l *Loop) session(ctx context.Context) error {
	if err := l.src.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := l.src.Stop(); err != nil {
			slog.Warn("ingest: stopping source failed", "camera", l.cam.Name, "error", err)
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		frame, err := l.src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		l.handle(ctx, frame)
	}
}

var errInvalidFrameSize = errors.New("ingest: frame has no pixels")

// handle composites one frame. Rejected frames are logged, not fatal.
func (l *Loop) handle(ctx context.Context, frame *capture.Frame) {
	res := mapping.Resolution{Width: frame.Width, Height: frame.Height}
	if !res.Valid() {
		l.reject(ctx, frame, fmt.Errorf("%w: %dx%d", errInvalidFrameSize, frame.Width, frame.Height))
		return
	}

	l.cam.Observe(res)
	before := l.cam.Rebuilds()
	table := l.cam.Table()
	if l.cam.Rebuilds() != before && l.opts.Instruments != nil {
		l.opts.Instruments.TableRebuilt(ctx, l.cam.Name)
	}

	l.opts.Counter.Inc()

	start := time.Now()
	if err := l.opts.Canvas.Apply(table, frame.Data); err != nil {
		l.reject(ctx, frame, err)
		return
	}
	l.frames.Add(1)
	arrived := frame.Timestamp
	if arrived.IsZero() {
		arrived = time.Now()
	}
	l.lastFrame.Store(arrived.UnixNano())
	l.arrivals.record(arrived)
	if l.opts.Instruments != nil {
		l.opts.Instruments.FrameComposited(ctx, l.cam.Name, time.Since(start))
	}

	if l.opts.Notifier != nil {
		l.opts.Notifier.Notify()
	}
}

func (l *Loop) reject(ctx context.Context, frame *capture.Frame, err error) {
	n := l.rejected.Add(1)
	if l.opts.Instruments != nil {
		l.opts.Instruments.FrameRejected(ctx, l.cam.Name)
	}
	if l.warnings.Allow() {
		slog.Warn("ingest: frame rejected",
			"camera", l.cam.Name,
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
			"rejected_total", n,
			"error", err,
		)
	}
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	s := Stats{
		Camera:     l.cam.Name,
		Running:    l.running.Load(),
		Frames:     l.frames.Load(),
		Rejected:   l.rejected.Load(),
		Reconnects: l.state.Reconnects.Load(),
		Rebuilds:   l.cam.Rebuilds(),
		TablePairs: l.cam.TableLen(),
		Resolution: l.cam.Resolution(),
		Cadence:    l.arrivals.snapshot(),
	}
	if ns := l.lastFrame.Load(); ns != 0 {
		s.LastFrame = time.Unix(0, ns)
	}
	l.mu.Lock()
	if l.lastErr != nil {
		s.Error = l.lastErr.Error()
	}
	l.mu.Unlock()
	return s
}

// RunAll runs every loop until all of them return. A camera that fails
// does not stop the others.
func RunAll(ctx context.Context, loops []*Loop) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, l := range loops {
		wg.Add(1)
		go func(l *Loop) {
			defer wg.Done()
			if err := l.Run(ctx); err != nil {
				slog.Error("ingest: camera failed", "camera", l.cam.Name, "error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(l)
	}
	wg.Wait()
	return errors.Join(errs...)
}
