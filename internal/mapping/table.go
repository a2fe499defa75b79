package mapping

import (
	"github.com/rabuchanan2077/parking-lot-video/internal/projection"
)

const unset int32 = -1

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Pixels returns Width*Height.
func (r Resolution) Pixels() int {
	return r.Width * r.Height
}

// Valid reports whether both dimensions are positive.
func (r Resolution) Valid() bool {
	return r.Width > 0 && r.Height > 0
}

// Pair copies camera pixel Camera into canvas pixel Output.
type Pair struct {
	Output int32
	Camera int32
}

// Table is the compacted canvas to camera correspondence for one camera
// resolution. Pairs are ordered by Output and each Output appears once.
type Table struct {
	Canvas Resolution
	Sensor Resolution
	Pairs  []Pair
}

// Len returns the number of mapped canvas pixels.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Pairs)
}

// BuildOptions tweaks table compaction.
type BuildOptions struct {
	// DropFirstPixel discards pairs that sample camera pixel 0, matching
	// consumers calibrated against tables that treated index 0 as unset.
	DropFirstPixel bool
}

// Build evaluates every region over the canvas. Regions are applied in
// order so a later region overwrites an earlier one where they overlap.
func Build(regions []*projection.Region, canvas, sensor Resolution, lens projection.Lens, opts BuildOptions) *Table {
	dense := make([]int32, canvas.Pixels())
	for i := range dense {
		dense[i] = unset
	}

	s := projection.Sensor{Lens: lens, Width: sensor.Width, Height: sensor.Height}
	for _, r := range regions {
		applyRegion(dense, r, canvas, sensor, s)
	}

	return compact(dense, canvas, sensor, opts)
}

func applyRegion(dense []int32, r *projection.Region, canvas, sensor Resolution, s projection.Sensor) {
	b := r.Placement.Bounds
	x0, y0 := max(b.X, 0), max(b.Y, 0)
	x1, y1 := min(b.X+b.W, canvas.Width), min(b.Y+b.H, canvas.Height)
	for y := y0; y < y1; y++ {
		row := y * canvas.Width
		for x := x0; x < x1; x++ {
			cx, cy, ok := r.Project(x, y, s)
			if !ok {
				continue
			}
			dense[row+x] = int32(cy*sensor.Width + cx)
		}
	}
}

func compact(dense []int32, canvas, sensor Resolution, opts BuildOptions) *Table {
	limit := int32(sensor.Pixels())
	low := int32(0)
	if opts.DropFirstPixel {
		low = 1
	}

	n := 0
	for _, c := range dense {
		if c >= low && c < limit {
			n++
		}
	}
	pairs := make([]Pair, 0, n)
	for i, c := range dense {
		if c >= low && c < limit {
			pairs = append(pairs, Pair{Output: int32(i), Camera: c})
		}
	}
	return &Table{Canvas: canvas, Sensor: sensor, Pairs: pairs}
}
