package projection

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Sentinel errors for region construction.
var (
	ErrInvalidBounds     = errors.New("projection: invalid bounds")
	ErrUnknownProjector  = errors.New("projection: unknown projector")
	ErrDegenerateRegion  = errors.New("projection: region has zero rendering width")
	ErrInvalidParameter  = errors.New("projection: invalid parameter")
	ErrMaskWithoutLayout = errors.New("projection: mask color requires a layout image")
)

// Orientation is the compass direction a camera faces. Each step clockwise
// from North rotates the camera's local offsets by 90 degrees.
type Orientation byte

const (
	North Orientation = 'N'
	East  Orientation = 'E'
	South Orientation = 'S'
	West  Orientation = 'W'
)

// ParseOrientation reads the first letter of s, case-insensitively.
// Anything that is not E, S or W is North.
func ParseOrientation(s string) Orientation {
	s = strings.TrimSpace(s)
	if s == "" {
		return North
	}
	switch Orientation(strings.ToUpper(s[:1])[0]) {
	case East:
		return East
	case South:
		return South
	case West:
		return West
	default:
		return North
	}
}

// Degrees returns the rotation applied to the camera offsets.
func (o Orientation) Degrees() float64 {
	switch o {
	case East:
		return 90
	case South:
		return 180
	case West:
		return 270
	default:
		return 0
	}
}

func (o Orientation) String() string {
	return string(rune(o))
}

func (o Orientation) MarshalText() ([]byte, error) {
	return []byte{byte(o)}, nil
}

func (o *Orientation) UnmarshalText(b []byte) error {
	*o = ParseOrientation(string(b))
	return nil
}

// Position is a camera location in world units. Z is the height above ground.
type Position struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// PlaceCamera rotates the east-west / north-south offsets by the orientation.
func PlaceCamera(o Orientation, ew, ns, height float64) Position {
	sin, cos := quadrantSinCos(o.Degrees())
	return Position{
		X: ew*cos - ns*sin,
		Y: ew*sin + ns*cos,
		Z: height,
	}
}

// Lens describes the fisheye angle-to-radius law and where the image circle
// sits on the sensor. Diameter and centers are fractions of the frame width
// (diameter, center X) and height (center Y).
type Lens struct {
	FOVAngle    float64 `yaml:"fovAngle"`
	FOVDiameter float64 `yaml:"fovDiameter"`
	FOVCenterX  float64 `yaml:"fovCenterX"`
	FOVCenterY  float64 `yaml:"fovCenterY"`
}

// DefaultLens is a 180 degree fisheye whose image circle fills the frame width.
func DefaultLens() Lens {
	return Lens{FOVAngle: 180, FOVDiameter: 1, FOVCenterX: 0.5, FOVCenterY: 0.5}
}

// Validate rejects a lens whose radius law is undefined.
func (l Lens) Validate() error {
	if !(l.FOVAngle > 0) || math.IsInf(l.FOVAngle, 0) {
		return fmt.Errorf("%w: fov angle %v must be positive", ErrInvalidParameter, l.FOVAngle)
	}
	return nil
}

// Bounds is a region rectangle in canvas-relative fractions.
type Bounds struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	W float64 `yaml:"w"`
	H float64 `yaml:"h"`
}

// FullCanvas covers the whole canvas.
var FullCanvas = Bounds{X: 0, Y: 0, W: 1, H: 1}

// ParseBounds reads "x,y,w,h" as four fractions.
func ParseBounds(s string) (Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Bounds{}, fmt.Errorf("%w: %q needs four comma separated values", ErrInvalidBounds, s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Bounds{}, fmt.Errorf("%w: %q: %v", ErrInvalidBounds, s, err)
		}
		v[i] = f
	}
	return Bounds{X: v[0], Y: v[1], W: v[2], H: v[3]}, nil
}

// Pixels scales the fractions to canvas pixels, rounding half up.
func (b Bounds) Pixels(canvasWidth, canvasHeight int) Rect {
	return Rect{
		X: roundHalfUp(b.X * float64(canvasWidth)),
		Y: roundHalfUp(b.Y * float64(canvasHeight)),
		W: roundHalfUp(b.W * float64(canvasWidth)),
		H: roundHalfUp(b.H * float64(canvasHeight)),
	}
}

// Rect is an integer pixel rectangle.
type Rect struct {
	X, Y, W, H int
}

// Contains reports whether the pixel (x, y) lies inside r.
func (r Rect) Contains(x, y int) bool {
	return x >= r.X && y >= r.Y && x < r.X+r.W && y < r.Y+r.H
}

// Flip mirrors the region content inside its bounds.
type Flip uint8

const (
	FlipNone       Flip = 0
	FlipHorizontal Flip = 1 << 0
	FlipVertical   Flip = 1 << 1
)

// ParseFlip accepts any combination of the letters H and V.
func ParseFlip(s string) Flip {
	s = strings.ToUpper(s)
	var f Flip
	if strings.Contains(s, "H") {
		f |= FlipHorizontal
	}
	if strings.Contains(s, "V") {
		f |= FlipVertical
	}
	return f
}

func (f Flip) scale() (sx, sy float64) {
	sx, sy = 1, 1
	if f&FlipHorizontal != 0 {
		sx = -1
	}
	if f&FlipVertical != 0 {
		sy = -1
	}
	return sx, sy
}

func (f Flip) String() string {
	s := ""
	if f&FlipHorizontal != 0 {
		s += "H"
	}
	if f&FlipVertical != 0 {
		s += "V"
	}
	return s
}

// Mask restricts a region to the canvas pixels whose layout color matched.
type Mask struct {
	width, height int
	bits          []bool
}

// NewMask returns an empty mask of the given size.
func NewMask(width, height int) *Mask {
	return &Mask{width: width, height: height, bits: make([]bool, width*height)}
}

// Set marks (x, y) as part of the mask.
func (m *Mask) Set(x, y int) {
	if x < 0 || y < 0 || x >= m.width || y >= m.height {
		return
	}
	m.bits[y*m.width+x] = true
}

// Contains reports whether (x, y) is in the mask. Pixels outside the mask
// image are never contained.
func (m *Mask) Contains(x, y int) bool {
	if x < 0 || y < 0 || x >= m.width || y >= m.height {
		return false
	}
	return m.bits[y*m.width+x]
}

// Count returns the number of masked pixels.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.bits {
		if b {
			n++
		}
	}
	return n
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

// quadrantSinCos returns exact values for multiples of 90 degrees so that
// axis aligned rotations do not leak 1e-16 residue into pixel bounds.
func quadrantSinCos(deg float64) (sin, cos float64) {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	switch d {
	case 0:
		return 0, 1
	case 90:
		return 1, 0
	case 180:
		return 0, -1
	case 270:
		return -1, 0
	}
	rad := deg * math.Pi / 180
	return math.Sin(rad), math.Cos(rad)
}
