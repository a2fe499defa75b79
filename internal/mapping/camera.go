package mapping

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rabuchanan2077/parking-lot-video/internal/projection"
)

// Camera is one video source placed in the world together with the canvas
// regions it feeds.
type Camera struct {
	Name        string
	Orientation projection.Orientation
	Position    projection.Position
	Lens        projection.Lens
	Regions     []*projection.Region

	canvas Resolution
	opts   BuildOptions

	mu         sync.Mutex
	resolution Resolution
	table      *Table
	rebuilds   uint64
}

// NewCamera creates a camera with a declared initial resolution. The table
// is built on first use.
func NewCamera(name string, o projection.Orientation, pos projection.Position, lens projection.Lens,
	regions []*projection.Region, canvas, declared Resolution, opts BuildOptions) *Camera {
	return &Camera{
		Name:        name,
		Orientation: o,
		Position:    pos,
		Lens:        lens,
		Regions:     regions,
		canvas:      canvas,
		opts:        opts,
		resolution:  declared,
	}
}

// Resolution returns the last known frame size.
func (c *Camera) Resolution() Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolution
}

// Observe records the size of an incoming frame. It reports whether the
// size changed, in which case the current table is dropped.
func (c *Camera) Observe(r Resolution) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r == c.resolution {
		return false
	}
	slog.Info("mapping: camera resolution changed",
		"camera", c.Name,
		"from", c.resolution,
		"to", r,
	)
	c.resolution = r
	c.table = nil
	return true
}

// Table returns the table for the current resolution, building it if needed.
func (c *Camera) Table() *Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.table != nil {
		return c.table
	}

	start := time.Now()
	c.table = Build(c.Regions, c.canvas, c.resolution, c.Lens, c.opts)
	c.rebuilds++
	slog.Info("mapping: table built",
		"camera", c.Name,
		"resolution", c.resolution,
		"regions", len(c.Regions),
		"pairs", c.table.Len(),
		"duration", time.Since(start),
	)
	return c.table
}

// Rebuilds returns how many tables have been built.
func (c *Camera) Rebuilds() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rebuilds
}

// TableLen is the size of the current table without building one.
func (c *Camera) TableLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.table == nil {
		return 0
	}
	return c.table.Len()
}

func (r Resolution) LogValue() slog.Value {
	return slog.GroupValue(slog.Int("width", r.Width), slog.Int("height", r.Height))
}
