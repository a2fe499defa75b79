package projection

import (
	"math"
)

// Region is a named sub-area of the canvas bound to one projector.
type Region struct {
	Name      string
	Placement Placement
	Mask      *Mask
	Projector Projector
}

// Sensor is the camera frame the region samples from.
type Sensor struct {
	Lens   Lens
	Width  int
	Height int
}

// CanvasToRendering rejects pixels outside the bounds or the mask and
// transforms the rest into rendering space.
func (r *Region) CanvasToRendering(x, y int) (rx, ry float64, ok bool) {
	if !r.Placement.Bounds.Contains(x, y) {
		return 0, 0, false
	}
	if r.Mask != nil && !r.Mask.Contains(x, y) {
		return 0, 0, false
	}
	rx, ry = r.Placement.ToRendering(float64(x), float64(y))
	return rx, ry, true
}

// Project runs one canvas pixel through the whole pipeline and returns the
// camera pixel it samples.
func (r *Region) Project(x, y int, s Sensor) (cx, cy int, ok bool) {
	rx, ry, ok := r.CanvasToRendering(x, y)
	if !ok {
		return 0, 0, false
	}
	az, el, ok := r.Projector.RenderingToWorld(rx, ry)
	if !ok {
		return 0, 0, false
	}
	oClock, radius := s.Lens.WorldToView(az, el)
	return s.ViewToPixel(oClock, radius)
}

// WorldToView applies the lens compression law. The azimuth is preserved.
func (l Lens) WorldToView(azimuth, elevation float64) (oClock, radius float64) {
	f := l.FOVAngle / 180
	return azimuth, math.Sin(elevation/f) / math.Sin(math.Pi/2/f)
}

// ViewToPixel scales the view polar coordinate onto the sensor. Points
// outside the frame are clamped to the nearest edge pixel.
func (s Sensor) ViewToPixel(oClock, radius float64) (x, y int, ok bool) {
	r := s.Lens.FOVDiameter * float64(s.Width) / 2
	fx := radius*math.Sin(oClock)*r + s.Lens.FOVCenterX*float64(s.Width)
	fy := radius*math.Cos(oClock)*r + s.Lens.FOVCenterY*float64(s.Height)
	if math.IsNaN(fx) || math.IsNaN(fy) || s.Width <= 0 || s.Height <= 0 {
		return 0, 0, false
	}
	return clampRound(fx, s.Width), clampRound(fy, s.Height), true
}

func clampRound(v float64, size int) int {
	v = math.Floor(v + 0.5)
	if v < 0 {
		return 0
	}
	if v > float64(size-1) {
		return size - 1
	}
	return int(v)
}
