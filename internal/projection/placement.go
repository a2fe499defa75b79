package projection

import (
	"math"

	"github.com/gogpu/gg"
)

// Placement maps canvas pixels into a region's rendering space: the region
// is moved to the origin, flipped and rotated about its own center.
type Placement struct {
	Bounds Rect
	Flip   Flip
	Rotate float64 // degrees

	toRendering gg.Matrix
}

// NewPlacement builds the canvas to rendering transform for bounds.
func NewPlacement(bounds Rect, flip Flip, rotate float64) Placement {
	hw := float64(bounds.W) / 2
	hh := float64(bounds.H) / 2
	sx, sy := flip.scale()

	m := gg.Translate(hw, hh).
		Multiply(rotation(-rotate)).
		Multiply(gg.Scale(sx, sy)).
		Multiply(gg.Translate(-hw, -hh)).
		Multiply(gg.Translate(-float64(bounds.X), -float64(bounds.Y)))

	return Placement{Bounds: bounds, Flip: flip, Rotate: rotate, toRendering: m}
}

// ToRendering transforms a canvas point.
func (p Placement) ToRendering(x, y float64) (float64, float64) {
	pt := p.toRendering.TransformPoint(gg.Pt(x, y))
	return pt.X, pt.Y
}

// RenderingBounds is the integer box enclosing the transformed bounds
// rectangle: floor of the minimum corner, ceil of the maximum.
func (p Placement) RenderingBounds() Rect {
	b := p.Bounds
	corners := [4]gg.Point{
		gg.Pt(float64(b.X), float64(b.Y)),
		gg.Pt(float64(b.X+b.W), float64(b.Y)),
		gg.Pt(float64(b.X), float64(b.Y+b.H)),
		gg.Pt(float64(b.X+b.W), float64(b.Y+b.H)),
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		t := p.toRendering.TransformPoint(c)
		minX = math.Min(minX, t.X)
		minY = math.Min(minY, t.Y)
		maxX = math.Max(maxX, t.X)
		maxY = math.Max(maxY, t.Y)
	}
	x0, y0 := int(math.Floor(minX)), int(math.Floor(minY))
	return Rect{X: x0, Y: y0, W: int(math.Ceil(maxX)) - x0, H: int(math.Ceil(maxY)) - y0}
}

func rotation(deg float64) gg.Matrix {
	sin, cos := quadrantSinCos(deg)
	return gg.Matrix{
		A: cos, B: -sin, C: 0,
		D: sin, E: cos, F: 0,
	}
}
