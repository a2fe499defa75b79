package config

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/rabuchanan2077/parking-lot-video/internal/canvas"
	"github.com/rabuchanan2077/parking-lot-video/internal/mapping"
	"github.com/rabuchanan2077/parking-lot-video/internal/projection"
)

func TestParseSettings_Defaults(t *testing.T) {
	s, err := ParseSettings(MapProperties{})
	require.NoError(t, err)

	assert.Equal(t, DefaultResolution, s.Resolution)
	assert.Equal(t, canvas.DefaultMirrorPath, s.MirrorPath)
	assert.Equal(t, "info", s.LogLevel)
	assert.Equal(t, time.Second, s.FPSInterval)
	assert.False(t, s.DropFirstPixel)
	assert.False(t, s.Influx.Enabled())
	assert.NotNil(t, s.ByteOrder)
}

func TestParseSettings_Values(t *testing.T) {
	s, err := ParseSettings(MapProperties{
		"layout":                  "lot.png",
		"resolution":              "640x360",
		"byte-order":              "be",
		"legacy-drop-first-pixel": "true",
		"fps-interval":            "500",
		"preview.address":         ":8089",
	})
	require.NoError(t, err)

	assert.Equal(t, "lot.png", s.Layout)
	assert.Equal(t, mapping.Resolution{Width: 640, Height: 360}, s.Resolution)
	assert.Equal(t, binary.BigEndian, s.ByteOrder)
	assert.Equal(t, "BE", s.ByteOrderName)
	assert.True(t, s.DropFirstPixel)
	assert.Equal(t, 500*time.Millisecond, s.FPSInterval)
	assert.Equal(t, ":8089", s.PreviewAddress)
}

func TestParseSettings_InvalidResolutionFallsBack(t *testing.T) {
	for _, v := range []string{"wide", "0x720", "1280x", "-5x5"} {
		s, err := ParseSettings(MapProperties{"resolution": v})
		require.NoError(t, err, v)
		assert.Equal(t, DefaultResolution, s.Resolution, v)
	}
}

func TestParseSettings_Errors(t *testing.T) {
	_, err := ParseSettings(MapProperties{"legacy-drop-first-pixel": "maybe"})
	assert.Error(t, err)

	_, err = ParseSettings(MapProperties{"fps-interval": "0"})
	assert.Error(t, err)
}

func TestParseByteOrder(t *testing.T) {
	order, name := parseByteOrder("LE")
	assert.Equal(t, binary.LittleEndian, order)
	assert.Equal(t, "LE", name)

	order, name = parseByteOrder("")
	if binary.NativeEndian.Uint16([]byte{0, 1}) == 1 {
		assert.Equal(t, binary.BigEndian, order)
		assert.Equal(t, "BE", name)
	} else {
		assert.Equal(t, binary.LittleEndian, order)
		assert.Equal(t, "LE", name)
	}
}

func lotProperties() MapProperties {
	return MapProperties{
		"camera0":                   "front",
		"front.pipeline":            "videotestsrc",
		"front.camera-orientation":  "east",
		"front.camera-EW-position":  "10",
		"front.camera-NS-position":  "5",
		"front.camera-height":       "30",
		"front.camera-fov-angle":    "190",
		"front.reconnect-attempts":  "3",
		"front.reconnect-delay":     "2s",
		"front.mapper0":             "ground",
		"front.mapper1":             "broken",
		"front.mapper2":             "sky",
		"ground.class":              "com.example.BirdsEyeMapper",
		"ground.bounds":             "0,0,1,0.5",
		"ground.projection-width":   "300",
		"broken.class":              "ground-plane",
		"broken.bounds":             "0,0,1",
		"sky.type":                  "panorama",
		"sky.flip":                  "h",
		"sky.rotate":                "90",
		"sky.maskColor":             "#FF0000",
		"camera1":                   "empty",
		"empty.pipeline":            "videotestsrc",
		"camera2":                   "side",
		"side.mapper0":              "ground",
		"camera4":                   "unreachable",
		"unreachable.mapper0":       "ground",
		"unreachable.camera-height": "40",
	}
}

func TestParseCameras(t *testing.T) {
	cams, errs := ParseCameras(lotProperties())

	require.Len(t, cams, 2, "empty is excluded and camera4 lies past the gap")
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrNoRegions)
	assert.Contains(t, errs[0].Error(), "empty")

	front := cams[0]
	assert.Equal(t, "front", front.Name)
	assert.Equal(t, projection.East, front.Orientation)
	assert.Equal(t, 190.0, front.Lens.FOVAngle)
	assert.Equal(t, 1.0, front.Lens.FOVDiameter)
	assert.InDelta(t, -5, front.Position.X, 1e-12)
	assert.InDelta(t, 10, front.Position.Y, 1e-12)
	assert.Equal(t, 30.0, front.Position.Z)
	assert.Equal(t, 3, front.Reconnect.MaxRetries)
	assert.Equal(t, 2*time.Second, front.Reconnect.RetryDelay)

	require.Len(t, front.Regions, 2, "broken bounds skip the region")
	assert.Equal(t, "ground", front.Regions[0].Name)
	assert.Equal(t, projection.Bounds{W: 1, H: 0.5}, front.Regions[0].Bounds)
	assert.Nil(t, front.Regions[0].MaskColor)

	sky := front.Regions[1]
	assert.Equal(t, "panorama", sky.Class)
	assert.Equal(t, "h", sky.Flip)
	assert.Equal(t, 90.0, sky.Rotate)
	require.NotNil(t, sky.MaskColor)
	assert.Equal(t, uint32(0xFF0000), *sky.MaskColor)
	assert.Equal(t, projection.FullCanvas, sky.Bounds)

	side := cams[1]
	assert.Equal(t, projection.North, side.Orientation)
	assert.Equal(t, 24.0, side.Position.Z)
	assert.Equal(t, 0, side.Reconnect.MaxRetries)
}

func TestParseCamera_BadNumber(t *testing.T) {
	_, err := ParseCamera(MapProperties{
		"front.camera-height": "tall",
		"front.mapper0":       "ground",
		"ground.class":        "ground-plane",
	}, "front")
	assert.Error(t, err)

	_, err = ParseCamera(MapProperties{
		"front.camera-fov-angle": "0",
		"front.mapper0":          "ground",
		"ground.class":           "ground-plane",
	}, "front")
	assert.ErrorIs(t, err, projection.ErrInvalidParameter)
}

func TestParseRegion(t *testing.T) {
	_, err := ParseRegion(MapProperties{}, "nothing")
	assert.ErrorIs(t, err, ErrMissingClass)

	_, err = ParseRegion(MapProperties{"r.class": "ground-plane", "r.bounds": "a,b,c,d"}, "r")
	assert.ErrorIs(t, err, projection.ErrInvalidBounds)

	_, err = ParseRegion(MapProperties{"r.class": "ground-plane", "r.maskColor": "zz"}, "r")
	assert.Error(t, err)
}

func TestParseColor(t *testing.T) {
	for in, want := range map[string]uint32{
		"#00FF00":    0x00FF00,
		"0x123456":   0x123456,
		"abcdef":     0xABCDEF,
		"FF00FF00":   0x00FF00,
		" #0000ff  ": 0x0000FF,
	} {
		got, err := ParseColor(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestScopedParams(t *testing.T) {
	r, err := ParseRegion(MapProperties{
		"sky.class":          "panoramic",
		"sky.horizontal-fov": "200",
		"sky.vertical-fov":   "steep",
	}, "sky")
	require.NoError(t, err)

	h, err := r.Params.Float("horizontal-fov", 180)
	require.NoError(t, err)
	assert.Equal(t, 200.0, h)

	d, err := r.Params.Float("vertical-fov-top", -60)
	require.NoError(t, err)
	assert.Equal(t, -60.0, d)

	_, err = r.Params.Float("vertical-fov", 120)
	assert.ErrorIs(t, err, projection.ErrInvalidParameter)
}

func TestValidate(t *testing.T) {
	s, err := ParseSettings(MapProperties{})
	require.NoError(t, err)

	assert.ErrorIs(t, Validate(s, nil), ErrNoCameras)
	assert.Error(t, Validate(s, []CameraConfig{{Name: "a"}, {Name: "a"}}))
	assert.NoError(t, Validate(s, []CameraConfig{{Name: "a"}, {Name: "b"}}))

	s.Influx.URL = "http://localhost:8086"
	assert.Error(t, Validate(s, []CameraConfig{{Name: "a"}}))
}

func TestLoad_PropertiesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "VideoMapper.properties")
	body := `# parking lot
resolution = 320x180
camera0 = Front
front.camera-EW-position = 2
front.mapper0 = ground
ground.class = ground-plane
ground.bounds = 0,0,1,1
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	p, err := Load(path)
	require.NoError(t, err)

	v, ok := p.Get("RESOLUTION")
	require.True(t, ok, "keys are case-insensitive")
	assert.Equal(t, "320x180", v)

	_, ok = p.Get("front.camera-height")
	assert.False(t, ok)

	cams, errs := ParseCameras(p)
	require.Empty(t, errs)
	require.Len(t, cams, 1)
	assert.Equal(t, "Front", cams[0].Name)
	assert.Equal(t, 2.0, cams[0].EW)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "VideoMapper.properties")
	require.NoError(t, os.WriteFile(path, []byte("preview.address = :8080\n"), 0o644))
	t.Setenv("VIDEOMAPPER_PREVIEW_ADDRESS", ":9090")

	p, err := Load(path)
	require.NoError(t, err)
	s, err := ParseSettings(p)
	require.NoError(t, err)
	assert.Equal(t, ":9090", s.PreviewAddress)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.properties"))
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	s, err := ParseSettings(MapProperties{"influx.url": "http://influx:8086", "influx.token": "s3cret"})
	require.NoError(t, err)
	cams, _ := ParseCameras(lotProperties())

	var buf bytes.Buffer
	require.NoError(t, Describe(&buf, s, cams))

	var back Resolved
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	require.Len(t, back.Cameras, 2)
	assert.Equal(t, "front", back.Cameras[0].Name)
	assert.Equal(t, projection.East, back.Cameras[0].Orientation)
	assert.Equal(t, 2*time.Second, back.Cameras[0].Reconnect.RetryDelay)
	assert.Equal(t, "sky", back.Cameras[0].Regions[1].Name)

	out := buf.String()
	assert.Contains(t, out, "orientation: E")
	assert.Contains(t, out, "fpsInterval: 1s")
	assert.NotContains(t, out, "s3cret")
}
