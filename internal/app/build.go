package app

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rabuchanan2077/parking-lot-video/internal/canvas"
	"github.com/rabuchanan2077/parking-lot-video/internal/capture"
	"github.com/rabuchanan2077/parking-lot-video/internal/config"
	"github.com/rabuchanan2077/parking-lot-video/internal/mapping"
	"github.com/rabuchanan2077/parking-lot-video/internal/projection"
)

// SourceFactory opens the video source of one camera.
type SourceFactory func(cam config.CameraConfig, order binary.ByteOrder) (capture.VideoSource, error)

// GstSources opens every camera as a GStreamer pipeline.
func GstSources(cam config.CameraConfig, order binary.ByteOrder) (capture.VideoSource, error) {
	return capture.NewGstSource(capture.GstConfig{
		Name:      cam.Name,
		Pipeline:  cam.Pipeline,
		ByteOrder: order,
	})
}

// LoadConfig reads and validates the properties file. Cameras that fail to
// parse are logged and left out.
func LoadConfig(path string) (config.Settings, []config.CameraConfig, error) {
	p, err := config.Load(path)
	if err != nil {
		return config.Settings{}, nil, err
	}
	settings, err := config.ParseSettings(p)
	if err != nil {
		return config.Settings{}, nil, err
	}
	cams, errs := config.ParseCameras(p)
	for _, err := range errs {
		slog.Error("app: camera initialization failed", "error", err)
	}
	return settings, cams, nil
}

// loadLayout returns nil when no layout is configured or it cannot be read.
func loadLayout(path string) *canvas.Layout {
	if path == "" {
		return nil
	}
	layout, err := canvas.LoadLayout(path)
	if err != nil {
		slog.Warn("app: layout unavailable, using plain canvas", "path", path, "error", err)
		return nil
	}
	return layout
}

func openMirror(path string, res mapping.Resolution, order binary.ByteOrder) canvas.Mirror {
	if path == "" {
		return canvas.NoopMirror()
	}
	m, err := canvas.OpenMirror(path, res.Width, res.Height, order)
	if err != nil {
		slog.Warn("app: mirror unavailable, continuing without it", "path", path, "error", err)
		return canvas.NoopMirror()
	}
	slog.Info("app: mirror opened", "path", m.Path(), "bytes", 4*res.Pixels())
	return m
}

// buildRegions constructs a camera's regions in order. A region that fails
// is logged and skipped.
func buildRegions(reg *projection.Registry, cam config.CameraConfig, layout *canvas.Layout, res mapping.Resolution) []*projection.Region {
	regions := make([]*projection.Region, 0, len(cam.Regions))
	for _, rc := range cam.Regions {
		r, err := buildRegion(reg, rc, cam.Position, layout, res)
		if err != nil {
			slog.Error("app: mapper initialization failed", "camera", cam.Name, "region", rc.Name, "error", err)
			continue
		}
		regions = append(regions, r)
	}
	return regions
}

func buildRegion(reg *projection.Registry, rc config.RegionConfig, pos projection.Position, layout *canvas.Layout, res mapping.Resolution) (*projection.Region, error) {
	spec := projection.RegionSpec{
		Name:   rc.Name,
		Tag:    rc.Class,
		Bounds: rc.Bounds.Pixels(res.Width, res.Height),
		Flip:   projection.ParseFlip(rc.Flip),
		Rotate: rc.Rotate,
		Params: rc.Params,
	}
	if rc.MaskColor != nil {
		if layout == nil {
			return nil, fmt.Errorf("region %s: %w", rc.Name, projection.ErrMaskWithoutLayout)
		}
		spec.Mask = layout.Mask(*rc.MaskColor, res.Width, res.Height)
		if spec.Mask.Count() == 0 {
			slog.Warn("app: mask color matches no layout pixel", "region", rc.Name, "color", fmt.Sprintf("#%06X", *rc.MaskColor))
		}
	}
	return reg.Build(spec, pos)
}

var errNoUsableRegions = errors.New("app: no usable mapper regions")
