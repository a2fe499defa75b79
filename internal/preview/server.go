// Package preview serves the composite over HTTP: a PNG snapshot, an MJPEG
// stream pushed as frames are composited, and a JSON status document.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"image/png"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/rabuchanan2077/parking-lot-video/internal/canvas"
	"github.com/rabuchanan2077/parking-lot-video/internal/ingest"
	"github.com/rabuchanan2077/parking-lot-video/internal/mapping"
	"github.com/rabuchanan2077/parking-lot-video/internal/telemetry"
)

const (
	DefaultMaxFPS  = 10
	DefaultQuality = 80

	maxScaledSide   = 4096
	shutdownTimeout = 5 * time.Second
)

// CameraReporter is satisfied by ingest.Loop.
type CameraReporter interface {
	Stats() ingest.Stats
}

// Throughput is satisfied by telemetry.Sampler.
type Throughput interface {
	Last() telemetry.Sample
	Total() uint64
}

// Options configures the server. Canvas is required.
type Options struct {
	Address    string
	Canvas     *canvas.Canvas
	Cameras    []CameraReporter
	Throughput Throughput
	// MaxFPS caps MJPEG encoding.
	MaxFPS  float64
	Quality int
}

// Status is the /stats document.
type Status struct {
	Status        string             `json:"status"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	FPS           float64            `json:"fps"`
	FramesTotal   uint64             `json:"frames_total"`
	Resolution    mapping.Resolution `json:"resolution"`
	Canvas        canvas.Stats       `json:"canvas"`
	Stream        BroadcastStats     `json:"stream"`
	Cameras       []ingest.Stats     `json:"cameras"`
}

// Server is the preview HTTP server. It implements ingest.Notifier.
type Server struct {
	opts    Options
	engine  *gin.Engine
	http    *http.Server
	bus     *Broadcaster
	dirty   chan struct{}
	started time.Time
}

func New(opts Options) *Server {
	if opts.MaxFPS <= 0 {
		opts.MaxFPS = DefaultMaxFPS
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		opts:    opts,
		engine:  engine,
		bus:     NewBroadcaster(),
		dirty:   make(chan struct{}, 1),
		started: time.Now(),
	}
	engine.GET("/health", s.handleHealth)
	engine.GET("/snapshot.png", s.handleSnapshot)
	engine.GET("/stream.mjpeg", s.handleStream)
	engine.GET("/stats", s.handleStats)

	// No write timeout: /stream.mjpeg responses are unbounded.
	s.http = &http.Server{
		Addr:        opts.Address,
		Handler:     engine,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Handler exposes the routes without a listener.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Notify marks the canvas as changed. It never blocks; notifications that
// arrive before the next encode are coalesced.
func (s *Server) Notify() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return fmt.Errorf("preview: listen %s: %w", s.opts.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slog.Info("preview: server listening",
		"address", ln.Addr().String(),
		"endpoints", []string{"/health", "/snapshot.png", "/stream.mjpeg", "/stats"},
	)

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	encoded := make(chan struct{})
	go func() {
		defer close(encoded)
		s.encodeLoop(ctx)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("preview: serve: %w", err)
		}
	}
	cancel()

	// Stream handlers return once their receivers are closed.
	s.bus.Close()
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := s.http.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("preview: shutdown: %w", err)
	}
	<-encoded

	slog.Info("preview: server stopped", "uptime", time.Since(s.started))
	return serveErr
}

func (s *Server) encodeLoop(ctx context.Context) {
	limiter := rate.NewLimiter(rate.Limit(s.opts.MaxFPS), 1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.dirty:
		}
		if s.bus.Subscribers() == 0 {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		frame, err := s.encodeJPEG()
		if err != nil {
			slog.Warn("preview: jpeg encoding failed", "error", err)
			continue
		}
		s.bus.Publish(frame)
	}
}

func (s *Server) encodeJPEG() ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, s.opts.Canvas.Image(), &jpeg.Options{Quality: s.opts.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	width, err := dimension(c.Query("width"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	height, err := dimension(c.Query("height"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	img := letterbox(s.opts.Canvas.Image(), width, height)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func dimension(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > maxScaledSide {
		return 0, fmt.Errorf("invalid dimension %q: want 1..%d", v, maxScaledSide)
	}
	return n, nil
}

func (s *Server) handleStream(c *gin.Context) {
	id, rx, err := s.bus.Subscribe()
	if err != nil {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	defer s.bus.Unsubscribe(id)

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	slog.Debug("preview: stream client connected", "client", id, "remote", c.ClientIP())
	defer slog.Debug("preview: stream client disconnected", "client", id)

	// The current canvas goes out first so idle cameras still show a picture.
	first, err := s.encodeJPEG()
	if err != nil {
		slog.Warn("preview: jpeg encoding failed", "error", err)
		return
	}
	if writePart(c, first) != nil {
		return
	}

	ctx := c.Request.Context()
	for {
		frame, err := rx.Receive(ctx)
		if err != nil {
			return
		}
		if writePart(c, frame) != nil {
			return
		}
	}
}

func writePart(c *gin.Context, frame []byte) error {
	w := c.Writer
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\r\n")); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Status())
}

// Status collects the current state of the canvas and every camera.
func (s *Server) Status() Status {
	st := Status{
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Resolution:    s.opts.Canvas.Size(),
		Canvas:        s.opts.Canvas.Stats(),
		Stream:        s.bus.Stats(),
		Cameras:       make([]ingest.Stats, 0, len(s.opts.Cameras)),
	}
	if s.opts.Throughput != nil {
		st.FPS = s.opts.Throughput.Last().FPS
		st.FramesTotal = s.opts.Throughput.Total()
	}

	running := 0
	for _, cam := range s.opts.Cameras {
		cs := cam.Stats()
		if cs.Running {
			running++
		}
		st.Cameras = append(st.Cameras, cs)
	}
	switch {
	case running == 0:
		st.Status = "unhealthy"
	case running < len(s.opts.Cameras):
		st.Status = "degraded"
	default:
		st.Status = "healthy"
	}
	return st
}
