package projection

import (
	"fmt"
	"math"
)

// Projector turns a point in a region's rendering space into a world
// direction. ok is false when the point has no world correspondence.
type Projector interface {
	RenderingToWorld(rx, ry float64) (azimuth, elevation float64, ok bool)
}

// Params exposes the per-region projector parameters.
type Params interface {
	Float(key string, def float64) (float64, error)
}

// NoParams is a Params with nothing set.
type NoParams struct{}

func (NoParams) Float(_ string, def float64) (float64, error) { return def, nil }

// Env is what a projector constructor knows about the region it serves.
type Env struct {
	Region    string
	Placement Placement
	Camera    Position
}

// sphericalFromRay converts a ray in camera coordinates into the azimuth
// and elevation angles of the fisheye model. Elevation is measured from +Y.
func sphericalFromRay(px, py, pz float64) (azimuth, elevation float64) {
	azimuth = math.Pi - math.Atan2(px, pz)
	elevation = math.Atan2(math.Sqrt(px*px+pz*pz), py)
	return azimuth, elevation
}

// GroundPlane projects the rendering rectangle onto the ground. The
// rendering bottom-center sits at world (0, 0) and rendering up is world +Y.
type GroundPlane struct {
	originX, originY float64
	scaleX, scaleY   float64
	offsetX, offsetY float64
	height           float64
}

// DefaultProjectionWidth is the ground-plane width in world units covered
// by the region's rendering width.
const DefaultProjectionWidth = 240.0

// NewGroundPlane builds a ground-plane projector for a placement.
func NewGroundPlane(p Placement, camera Position, projectionWidth float64) (*GroundPlane, error) {
	rb := p.RenderingBounds()
	if rb.W == 0 {
		return nil, ErrDegenerateRegion
	}
	if math.IsNaN(projectionWidth) || math.IsInf(projectionWidth, 0) {
		return nil, fmt.Errorf("%w: projection width %v", ErrInvalidParameter, projectionWidth)
	}
	scale := projectionWidth / float64(rb.W)
	return &GroundPlane{
		originX: float64(rb.X) + float64(rb.W)/2,
		originY: float64(rb.Y + rb.H),
		scaleX:  scale,
		scaleY:  -scale,
		offsetX: -camera.X,
		offsetY: -camera.Y,
		height:  camera.Z,
	}, nil
}

// World returns the ground coordinates of a rendering point, relative to
// the camera foot.
func (g *GroundPlane) World(rx, ry float64) (x, y float64) {
	x = (rx-g.originX)*g.scaleX + g.offsetX
	y = (ry-g.originY)*g.scaleY + g.offsetY
	return x, y
}

func (g *GroundPlane) RenderingToWorld(rx, ry float64) (float64, float64, bool) {
	px, py := g.World(rx, ry)
	if py < 0 {
		return 0, 0, false
	}
	az, el := sphericalFromRay(px, py, -g.height)
	return az, el, true
}

// Panoramic maps rendering pixels linearly onto horizontal and vertical
// view angles.
type Panoramic struct {
	width, height float64
	hAngle, left  float64
	vAngle, top   float64
}

// Panoramic defaults, in degrees.
const (
	DefaultHorizontalAngle = 180.0
	DefaultVerticalAngle   = 120.0
)

// PanoramicAngles configures a Panoramic projector. All values are degrees.
type PanoramicAngles struct {
	Horizontal float64
	Left       float64
	Vertical   float64
	Top        float64
}

// DefaultPanoramicAngles centers the default view on the optical axis.
func DefaultPanoramicAngles() PanoramicAngles {
	return PanoramicAngles{
		Horizontal: DefaultHorizontalAngle,
		Left:       -DefaultHorizontalAngle / 2,
		Vertical:   DefaultVerticalAngle,
		Top:        -DefaultVerticalAngle / 2,
	}
}

// NewPanoramic builds a panoramic projector over the placement's bounds.
func NewPanoramic(p Placement, a PanoramicAngles) (*Panoramic, error) {
	if p.Bounds.W <= 0 || p.Bounds.H <= 0 {
		return nil, ErrDegenerateRegion
	}
	rad := math.Pi / 180
	return &Panoramic{
		width:  float64(p.Bounds.W),
		height: float64(p.Bounds.H),
		hAngle: a.Horizontal * rad,
		left:   a.Left * rad,
		vAngle: a.Vertical * rad,
		top:    a.Top * rad,
	}, nil
}

// ViewAngles returns the vertical and horizontal angle of a rendering point.
func (p *Panoramic) ViewAngles(rx, ry float64) (vertical, horizontal float64) {
	vertical = p.vAngle*ry/p.height + p.top
	horizontal = p.hAngle*rx/p.width + p.left
	return vertical, horizontal
}

func (p *Panoramic) RenderingToWorld(rx, ry float64) (float64, float64, bool) {
	v, h := p.ViewAngles(rx, ry)
	xy := math.Cos(v)
	az, el := sphericalFromRay(xy*math.Sin(h), xy*math.Cos(h), -math.Sin(v))
	return az, el, true
}
