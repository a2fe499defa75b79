package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
	"golang.org/x/time/rate"
)

const sinkName = "videomapper_sink"

// GstConfig describes one camera pipeline.
type GstConfig struct {
	Name string
	// Pipeline is a gst-launch description ending in the element whose
	// output feeds the compositor, e.g. "v4l2src device=/dev/video0 ! videoconvert".
	Pipeline  string
	ByteOrder binary.ByteOrder
}

// PixelFormat is the raw video format matching the byte order: BGRx reads
// as 0xXXRRGGBB little-endian, xRGB as the same value big-endian.
func PixelFormat(order binary.ByteOrder) string {
	if order == binary.BigEndian {
		return "xRGB"
	}
	return "BGRx"
}

// GstSource pulls frames from a GStreamer pipeline through an appsink
// configured to keep only the newest buffer.
type GstSource struct {
	cfg    GstConfig
	launch string

	mu       sync.Mutex
	pipeline *gst.Pipeline
	box      *Mailbox
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	seq      atomic.Uint64
	bytes    atomic.Uint64
	warnings *rate.Limiter
}

// NewGstSource validates cfg and checks that GStreamer is usable.
func NewGstSource(cfg GstConfig) (*GstSource, error) {
	if strings.TrimSpace(cfg.Pipeline) == "" {
		return nil, fmt.Errorf("%w: camera %s", ErrEmptyPipeline, cfg.Name)
	}
	if cfg.ByteOrder == nil {
		cfg.ByteOrder = binary.LittleEndian
	}
	if err := checkGStreamerAvailable(); err != nil {
		return nil, err
	}
	return &GstSource{
		cfg:      cfg,
		launch:   LaunchString(cfg.Pipeline, cfg.ByteOrder),
		warnings: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}, nil
}

// LaunchString appends the raw caps filter and the appsink to a pipeline
// description.
func LaunchString(pipeline string, order binary.ByteOrder) string {
	return fmt.Sprintf("%s ! videoconvert ! video/x-raw,format=%s ! appsink name=%s",
		strings.TrimSpace(pipeline), PixelFormat(order), sinkName)
}

func (s *GstSource) Name() string { return s.cfg.Name }

// Start builds the pipeline and sets it to PLAYING. Frames become
// available through Next once caps are negotiated.
func (s *GstSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeline != nil {
		return fmt.Errorf("capture: %s already started", s.cfg.Name)
	}

	pipeline, err := gst.NewPipelineFromString(s.launch)
	if err != nil {
		return fmt.Errorf("capture: %s: create pipeline: %w", s.cfg.Name, err)
	}

	sink, err := findSink(pipeline)
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("capture: %s: %w", s.cfg.Name, err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)
	sink.SetProperty("emit-signals", false)

	box := NewMailbox()
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return s.onNewSample(sink, box)
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("capture: %s: start pipeline: %w", s.cfg.Name, err)
	}

	monitorCtx, cancel := context.WithCancel(ctx)
	s.pipeline = pipeline
	s.box = box
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.monitorBus(monitorCtx, pipeline); err != nil {
			box.Fail(err)
		}
	}()

	slog.Info("capture: pipeline started",
		"camera", s.cfg.Name,
		"launch", s.launch,
	)
	return nil
}

func findSink(pipeline *gst.Pipeline) (*app.Sink, error) {
	elements, err := pipeline.GetElements()
	if err != nil {
		return nil, fmt.Errorf("list pipeline elements: %w", err)
	}
	for _, elem := range elements {
		if elem.GetName() == sinkName {
			return app.SinkFromElement(elem), nil
		}
	}
	return nil, fmt.Errorf("appsink %q not found", sinkName)
}

// onNewSample copies the mapped buffer out of GStreamer and offers it to
// the mailbox. A bad sample is skipped rather than ending the stream.
func (s *GstSource) onNewSample(sink *app.Sink, box *Mailbox) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		s.warn("capture: failed to pull sample, skipping frame")
		return gst.FlowOK
	}

	width, height, err := sampleSize(sample)
	if err != nil {
		s.warn("capture: sample without usable caps, skipping frame", "error", err)
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		s.warn("capture: sample without buffer, skipping frame")
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		s.warn("capture: empty buffer received")
		return gst.FlowOK
	}
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	s.bytes.Add(uint64(len(frameData)))
	frame := &Frame{
		Seq:       s.seq.Add(1),
		Timestamp: time.Now(),
		Width:     width,
		Height:    height,
		Data:      frameData,
		Source:    s.cfg.Name,
		TraceID:   uuid.New().String(),
	}
	if box.Publish(frame) {
		slog.Debug("capture: replaced unconsumed frame",
			"camera", s.cfg.Name,
			"seq", frame.Seq,
		)
	}
	return gst.FlowOK
}

func sampleSize(sample *gst.Sample) (int, int, error) {
	caps := sample.GetCaps()
	if caps == nil || caps.GetSize() == 0 {
		return 0, 0, fmt.Errorf("no caps")
	}
	structure := caps.GetStructureAt(0)
	width, err := intField(structure, "width")
	if err != nil {
		return 0, 0, err
	}
	height, err := intField(structure, "height")
	if err != nil {
		return 0, 0, err
	}
	return width, height, nil
}

func intField(structure *gst.Structure, name string) (int, error) {
	val, err := structure.GetValue(name)
	if err != nil {
		return 0, fmt.Errorf("caps field %s: %w", name, err)
	}
	v, ok := val.(int)
	if !ok || v <= 0 {
		return 0, fmt.Errorf("caps field %s: unexpected value %v", name, val)
	}
	return v, nil
}

// monitorBus polls the pipeline bus until ctx is done. It returns an error
// on EOS or a pipeline error.
func (s *GstSource) monitorBus(ctx context.Context, pipeline *gst.Pipeline) error {
	bus := pipeline.GetPipelineBus()
	started := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("capture: end of stream",
				"camera", s.cfg.Name,
				"uptime", time.Since(started),
				"frames", s.seq.Load(),
			)
			return ErrEndOfStream

		case gst.MessageError:
			gerr := msg.ParseError()
			perr := &PipelineError{Source: s.cfg.Name, Category: classifyGError(gerr)}
			if gerr != nil {
				perr.Message = gerr.Error()
				perr.Debug = gerr.DebugString()
			}
			slog.Error("capture: pipeline error",
				"camera", s.cfg.Name,
				"error", perr.Message,
				"debug", perr.Debug,
				"category", perr.Category.String(),
				"uptime", time.Since(started),
				"frames", s.seq.Load(),
			)
			return perr

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, new := msg.ParseStateChanged()
				slog.Debug("capture: pipeline state changed",
					"camera", s.cfg.Name,
					"from", old,
					"to", new,
				)
			}
		}
	}
}

// Next returns the newest frame.
func (s *GstSource) Next(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	box := s.box
	s.mu.Unlock()
	if box == nil {
		return nil, ErrSourceClosed
	}
	return box.Receive(ctx)
}

// Stop tears the pipeline down. Safe to call more than once.
func (s *GstSource) Stop() error {
	s.mu.Lock()
	pipeline, box, cancel := s.pipeline, s.box, s.cancel
	s.pipeline, s.box, s.cancel = nil, nil, nil
	s.mu.Unlock()

	if pipeline == nil {
		return nil
	}
	cancel()
	s.wg.Wait()
	box.Close()

	if err := pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("capture: %s: stop pipeline: %w", s.cfg.Name, err)
	}
	slog.Info("capture: pipeline stopped",
		"camera", s.cfg.Name,
		"frames", s.seq.Load(),
		"bytes", s.bytes.Load(),
		"mailbox", box.Stats(),
	)
	return nil
}

func (s *GstSource) warn(msg string, args ...any) {
	if s.warnings.Allow() {
		slog.Warn(msg, append([]any{"camera", s.cfg.Name}, args...)...)
	}
}

// checkGStreamerAvailable fails fast when GStreamer is not installed.
func checkGStreamerAvailable() error {
	gst.Init(nil)

	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return fmt.Errorf("capture: GStreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)
	return nil
}
