package app

import (
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabuchanan2077/parking-lot-video/internal/capture"
	"github.com/rabuchanan2077/parking-lot-video/internal/config"
	"github.com/rabuchanan2077/parking-lot-video/internal/mapping"
	"github.com/rabuchanan2077/parking-lot-video/internal/projection"
)

type fakeSource struct {
	name   string
	frames chan *capture.Frame
	endErr error
	stops  atomic.Int32
}

func (f *fakeSource) Name() string                { return f.name }
func (f *fakeSource) Start(context.Context) error { return nil }

func (f *fakeSource) Stop() error {
	f.stops.Add(1)
	return nil
}

func (f *fakeSource) Next(ctx context.Context) (*capture.Frame, error) {
	select {
	case fr, ok := <-f.frames:
		if !ok {
			return nil, f.endErr
		}
		return fr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakeSources struct {
	sources map[string]*fakeSource
	fail    map[string]error
}

func newFakeSources() *fakeSources {
	return &fakeSources{sources: map[string]*fakeSource{}, fail: map[string]error{}}
}

func (f *fakeSources) open(cam config.CameraConfig, _ binary.ByteOrder) (capture.VideoSource, error) {
	if err := f.fail[cam.Name]; err != nil {
		return nil, err
	}
	src := &fakeSource{name: cam.Name, frames: make(chan *capture.Frame, 4), endErr: capture.ErrEndOfStream}
	f.sources[cam.Name] = src
	return src, nil
}

func solidFrame(res mapping.Resolution, rgb uint32) *capture.Frame {
	data := make([]byte, 4*res.Pixels())
	for i := 0; i < res.Pixels(); i++ {
		binary.LittleEndian.PutUint32(data[4*i:], rgb)
	}
	return &capture.Frame{Seq: 1, Timestamp: time.Now(), Width: res.Width, Height: res.Height, Data: data}
}

func parse(t *testing.T, p config.MapProperties) (config.Settings, []config.CameraConfig) {
	t.Helper()
	p["byte-order"] = "LE"
	if _, ok := p["mirror-path"]; !ok {
		p["mirror-path"] = ""
	}
	s, err := config.ParseSettings(p)
	require.NoError(t, err)
	cams, _ := config.ParseCameras(p)
	return s, cams
}

func TestNew_ExcludesBrokenCameras(t *testing.T) {
	s, cams := parse(t, config.MapProperties{
		"resolution":    "64x36",
		"camera0":       "front",
		"front.mapper0": "ground",
		"camera1":       "rear",
		"rear.mapper0":  "mystery",
		"camera2":       "side",
		"side.mapper0":  "ground",
		"ground.class":  "ground-plane",
		"mystery.class": "fisheye-cube",
	})
	require.Len(t, cams, 3)

	sources := newFakeSources()
	sources.fail["side"] = errors.New("no such device")
	svc, err := New(s, cams, Options{Sources: sources.open})
	require.NoError(t, err)
	defer svc.Shutdown(context.Background())

	require.Len(t, svc.Loops(), 1)
	assert.Equal(t, "front", svc.Loops()[0].Camera().Name)
	assert.Nil(t, svc.Preview())
	assert.Equal(t, mapping.Resolution{Width: 64, Height: 36}, svc.Canvas().Size())
}

func TestNew_NoCameras(t *testing.T) {
	s, cams := parse(t, config.MapProperties{
		"camera0":          "front",
		"front.mapper0":    "masked",
		"masked.class":     "panoramic",
		"masked.maskColor": "#FF0000",
	})
	require.Len(t, cams, 1)

	_, err := New(s, cams, Options{Sources: newFakeSources().open})
	assert.ErrorIs(t, err, config.ErrNoCameras, "a mask without a layout excludes the region")

	_, err = New(s, nil, Options{Sources: newFakeSources().open})
	assert.ErrorIs(t, err, config.ErrNoCameras)
}

func writeLayout(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{G: 0xFF, A: 0xFF}
			if x < w/2 {
				c = color.NRGBA{R: 0xFF, A: 0xFF}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	path := filepath.Join(t.TempDir(), "layout.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestService_LayoutMaskAndMirror(t *testing.T) {
	layout := writeLayout(t, 40, 20)
	mirror := filepath.Join(t.TempDir(), "frame.bin")
	s, cams := parse(t, config.MapProperties{
		"layout":         layout,
		"resolution":     "1280x720",
		"mirror-path":    mirror,
		"camera0":        "front",
		"front.mapper0":  "left",
		"left.class":     "com.example.PanoramaMapper",
		"left.maskColor": "FF0000",
	})

	sources := newFakeSources()
	svc, err := New(s, cams, Options{Sources: sources.open})
	require.NoError(t, err)
	c := svc.Canvas()
	require.Equal(t, mapping.Resolution{Width: 40, Height: 20}, c.Size(), "layout size wins over resolution")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ran := make(chan error, 1)
	go func() { ran <- svc.Run(ctx) }()

	sources.sources["front"].frames <- solidFrame(mapping.Resolution{Width: 64, Height: 48}, 0x0000FF)
	require.Eventually(t, func() bool { return c.Stats().Composites == 1 }, 5*time.Second, time.Millisecond)

	for y := 0; y < 20; y++ {
		for x := 0; x < 40; x++ {
			want := uint32(0x00FF00)
			if x < 20 {
				want = 0x0000FF
			}
			require.Equal(t, want, c.Pixel(x, y), "pixel %d,%d", x, y)
		}
	}

	data, err := os.ReadFile(mirror)
	require.NoError(t, err)
	require.Len(t, data, 40*20*4)
	assert.Equal(t, uint32(0x0000FF), binary.LittleEndian.Uint32(data[0:]))
	assert.Equal(t, uint32(0x00FF00), binary.LittleEndian.Uint32(data[4*39:]))

	require.NoError(t, svc.Shutdown(context.Background()))
	assert.NoError(t, <-ran, "cancelled runs are not errors")
	assert.Equal(t, int32(1), sources.sources["front"].stops.Load())
	require.NoError(t, svc.Shutdown(context.Background()), "shutdown is idempotent")
}

func TestService_RunEndsWhenEveryCameraStops(t *testing.T) {
	s, cams := parse(t, config.MapProperties{
		"resolution":    "16x9",
		"camera0":       "front",
		"front.mapper0": "ground",
		"ground.class":  "birdseye",
	})
	sources := newFakeSources()
	svc, err := New(s, cams, Options{Sources: sources.open})
	require.NoError(t, err)
	defer svc.Shutdown(context.Background())

	close(sources.sources["front"].frames)
	err = svc.Run(context.Background())
	assert.ErrorIs(t, err, capture.ErrEndOfStream)

	assert.Error(t, svc.Run(context.Background()), "a service runs once")
}

func TestService_PreviewNotified(t *testing.T) {
	s, cams := parse(t, config.MapProperties{
		"resolution":      "16x9",
		"preview.address": "127.0.0.1:0",
		"camera0":         "front",
		"front.mapper0":   "sky",
		"sky.class":       "panoramic",
	})
	svc, err := New(s, cams, Options{Sources: newFakeSources().open, Registry: projection.NewRegistry()})
	require.NoError(t, err)
	defer svc.Shutdown(context.Background())

	require.NotNil(t, svc.Preview())
	svc.Notify()
	st := svc.Preview().Status()
	require.Len(t, st.Cameras, 1)
	assert.Equal(t, "front", st.Cameras[0].Camera)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "VideoMapper.properties")
	require.NoError(t, os.WriteFile(path, []byte(`resolution = 320x240
camera0 = front
front.mapper0 = ground
ground.class = ground-plane
camera1 = broken
`), 0o644))

	s, cams, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, mapping.Resolution{Width: 320, Height: 240}, s.Resolution)
	require.Len(t, cams, 1)
	assert.Equal(t, "front", cams[0].Name)

	_, _, err = LoadConfig(filepath.Join(t.TempDir(), "missing.properties"))
	assert.Error(t, err)
}
