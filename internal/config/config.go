package config

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/rabuchanan2077/parking-lot-video/internal/canvas"
	"github.com/rabuchanan2077/parking-lot-video/internal/ingest"
	"github.com/rabuchanan2077/parking-lot-video/internal/mapping"
	"github.com/rabuchanan2077/parking-lot-video/internal/projection"
	"github.com/rabuchanan2077/parking-lot-video/internal/telemetry"
)

var (
	// ErrNoCameras is returned when no camera survives configuration.
	ErrNoCameras = errors.New("config: no cameras configured")
	// ErrNoRegions is returned for a camera without a usable region.
	ErrNoRegions = errors.New("config: no mappers configured")
	// ErrMissingClass is returned for a region without a projector tag.
	ErrMissingClass = errors.New("config: region has no class")
)

// DefaultResolution is the canvas size when neither a layout nor a valid
// resolution is configured.
var DefaultResolution = mapping.Resolution{Width: 1280, Height: 720}

// Settings are the process-wide options.
type Settings struct {
	Layout         string             `yaml:"layout,omitempty"`
	Resolution     mapping.Resolution `yaml:"resolution"`
	ByteOrder      binary.ByteOrder   `yaml:"-"`
	ByteOrderName  string             `yaml:"byteOrder"`
	MirrorPath     string             `yaml:"mirrorPath"`
	DropFirstPixel bool               `yaml:"legacyDropFirstPixel"`

	LogLevel string `yaml:"logLevel"`
	LogFile  string `yaml:"logFile,omitempty"`

	FPSInterval    time.Duration          `yaml:"fpsInterval"`
	PreviewAddress string                 `yaml:"previewAddress,omitempty"`
	Influx         telemetry.InfluxConfig `yaml:"influx,omitempty"`
}

// ParseSettings reads the process-wide keys, applying defaults.
func ParseSettings(p Properties) (Settings, error) {
	s := Settings{
		Layout:         getString(p, "layout", ""),
		Resolution:     DefaultResolution,
		MirrorPath:     getString(p, "mirror-path", canvas.DefaultMirrorPath),
		LogLevel:       getString(p, "log-level", "info"),
		LogFile:        getString(p, "log-file", ""),
		PreviewAddress: getString(p, "preview.address", ""),
		Influx: telemetry.InfluxConfig{
			URL:         getString(p, "influx.url", ""),
			Token:       getString(p, "influx.token", ""),
			Org:         getString(p, "influx.org", ""),
			Bucket:      getString(p, "influx.bucket", ""),
			Measurement: getString(p, "influx.measurement", ""),
		},
	}

	if v, ok := p.Get("resolution"); ok {
		res, err := ParseResolution(v)
		if err != nil {
			slog.Warn("config: invalid resolution, using default", "value", v, "default", DefaultResolution, "error", err)
		} else {
			s.Resolution = res
		}
	}

	s.ByteOrder, s.ByteOrderName = parseByteOrder(getString(p, "byte-order", ""))

	var err error
	if s.DropFirstPixel, err = getBool(p, "legacy-drop-first-pixel", false); err != nil {
		return Settings{}, fmt.Errorf("config: %w", err)
	}
	if s.FPSInterval, err = getDuration(p, "fps-interval", telemetry.DefaultInterval); err != nil {
		return Settings{}, fmt.Errorf("config: %w", err)
	}
	if s.FPSInterval <= 0 {
		return Settings{}, fmt.Errorf("config: fps-interval must be > 0")
	}
	return s, nil
}

// ParseResolution reads "WxH".
func ParseResolution(v string) (mapping.Resolution, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(v)), "x")
	if !ok {
		return mapping.Resolution{}, fmt.Errorf("resolution %q is not WxH", v)
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return mapping.Resolution{}, fmt.Errorf("resolution %q: %w", v, err)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return mapping.Resolution{}, fmt.Errorf("resolution %q: %w", v, err)
	}
	res := mapping.Resolution{Width: width, Height: height}
	if !res.Valid() {
		return mapping.Resolution{}, fmt.Errorf("resolution %q must be positive", v)
	}
	return res, nil
}

func parseByteOrder(v string) (binary.ByteOrder, string) {
	switch strings.ToUpper(v) {
	case "BE":
		return binary.BigEndian, "BE"
	case "LE":
		return binary.LittleEndian, "LE"
	}
	if binary.NativeEndian.Uint16([]byte{0, 1}) == 1 {
		return binary.BigEndian, "BE"
	}
	return binary.LittleEndian, "LE"
}

// RegionConfig is one configured mapper region.
type RegionConfig struct {
	Name      string            `yaml:"name"`
	Class     string            `yaml:"class"`
	Bounds    projection.Bounds `yaml:"bounds"`
	Flip      string            `yaml:"flip,omitempty"`
	Rotate    float64           `yaml:"rotate,omitempty"`
	MaskColor *uint32           `yaml:"maskColor,omitempty"`
	Params    projection.Params `yaml:"-"`
}

// CameraConfig is one configured camera and its regions in order.
type CameraConfig struct {
	Name        string                 `yaml:"name"`
	Pipeline    string                 `yaml:"pipeline"`
	Orientation projection.Orientation `yaml:"orientation"`
	EW          float64                `yaml:"ewPosition"`
	NS          float64                `yaml:"nsPosition"`
	Height      float64                `yaml:"height"`
	Position    projection.Position    `yaml:"position"`
	Lens        projection.Lens        `yaml:"lens"`
	Reconnect   ingest.ReconnectConfig `yaml:"reconnect"`
	Regions     []RegionConfig         `yaml:"regions"`
}

// ParseCameras reads camera0, camera1, ... up to the first gap. A camera
// that fails to parse is reported in errs and left out.
func ParseCameras(p Properties) (cams []CameraConfig, errs []error) {
	for i := 0; ; i++ {
		name, ok := p.Get("camera" + strconv.Itoa(i))
		if !ok {
			break
		}
		name = strings.TrimSpace(name)
		cam, err := ParseCamera(p, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("camera %s: %w", name, err))
			continue
		}
		cams = append(cams, cam)
	}
	return cams, errs
}

// ParseCamera reads one camera. Regions that fail to parse are logged and
// skipped; a camera left with none is an error.
func ParseCamera(p Properties, name string) (CameraConfig, error) {
	pre := name + "."
	c := CameraConfig{
		Name:        name,
		Pipeline:    getString(p, pre+"pipeline", ""),
		Orientation: projection.ParseOrientation(getString(p, pre+"camera-orientation", "N")),
		Lens:        projection.DefaultLens(),
		Reconnect:   ingest.DefaultReconnectConfig(),
	}

	var err error
	floats := []struct {
		key string
		dst *float64
		def float64
	}{
		{"camera-EW-position", &c.EW, 0},
		{"camera-NS-position", &c.NS, 0},
		{"camera-height", &c.Height, 24},
		{"camera-fov-angle", &c.Lens.FOVAngle, 180},
		{"camera-fov-diameter", &c.Lens.FOVDiameter, 1},
		{"camera-fov-center-X", &c.Lens.FOVCenterX, 0.5},
		{"camera-fov-center-Y", &c.Lens.FOVCenterY, 0.5},
	}
	for _, f := range floats {
		if *f.dst, err = getFloat(p, pre+f.key, f.def); err != nil {
			return CameraConfig{}, err
		}
	}
	if err := c.Lens.Validate(); err != nil {
		return CameraConfig{}, err
	}
	c.Position = projection.PlaceCamera(c.Orientation, c.EW, c.NS, c.Height)

	if c.Reconnect.MaxRetries, err = getInt(p, pre+"reconnect-attempts", c.Reconnect.MaxRetries); err != nil {
		return CameraConfig{}, err
	}
	if c.Reconnect.RetryDelay, err = getDuration(p, pre+"reconnect-delay", c.Reconnect.RetryDelay); err != nil {
		return CameraConfig{}, err
	}

	for i := 0; ; i++ {
		region, ok := p.Get(pre + "mapper" + strconv.Itoa(i))
		if !ok {
			break
		}
		region = strings.TrimSpace(region)
		r, err := ParseRegion(p, region)
		if err != nil {
			slog.Error("config: mapper initialization failed", "camera", name, "region", region, "error", err)
			continue
		}
		c.Regions = append(c.Regions, r)
	}
	if len(c.Regions) == 0 {
		return CameraConfig{}, ErrNoRegions
	}
	return c, nil
}

// ParseRegion reads one region's shape and projector tag.
func ParseRegion(p Properties, name string) (RegionConfig, error) {
	pre := name + "."
	r := RegionConfig{
		Name:   name,
		Class:  getString(p, pre+"class", getString(p, pre+"type", "")),
		Flip:   getString(p, pre+"flip", ""),
		Params: scopedParams{p: p, prefix: pre},
	}
	if r.Class == "" {
		return RegionConfig{}, fmt.Errorf("region %s: %w", name, ErrMissingClass)
	}

	var err error
	if r.Bounds, err = projection.ParseBounds(getString(p, pre+"bounds", "0,0,1,1")); err != nil {
		return RegionConfig{}, fmt.Errorf("region %s: %w", name, err)
	}
	if r.Rotate, err = getFloat(p, pre+"rotate", 0); err != nil {
		return RegionConfig{}, fmt.Errorf("region %s: %w", name, err)
	}
	if v := getString(p, pre+"maskColor", ""); v != "" {
		rgb, err := ParseColor(v)
		if err != nil {
			return RegionConfig{}, fmt.Errorf("region %s: %w", name, err)
		}
		r.MaskColor = &rgb
	}
	return r, nil
}

// ParseColor reads a hex RGB color, with or without a # or 0x prefix.
// Any alpha byte is discarded.
func ParseColor(v string) (uint32, error) {
	v = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(v), "#"), "0x")
	n, err := strconv.ParseUint(v, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("mask color %q: %w", v, err)
	}
	return uint32(n) & 0xFFFFFF, nil
}

// Validate checks a parsed configuration as a whole.
func Validate(s Settings, cams []CameraConfig) error {
	if len(cams) == 0 {
		return ErrNoCameras
	}
	seen := make(map[string]bool, len(cams))
	for _, c := range cams {
		if seen[c.Name] {
			return fmt.Errorf("config: camera %s configured twice", c.Name)
		}
		seen[c.Name] = true
	}
	if s.Influx.Enabled() && s.Influx.Bucket == "" {
		return fmt.Errorf("config: influx.bucket is required when influx.url is set")
	}
	return nil
}
