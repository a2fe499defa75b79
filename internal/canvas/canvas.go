package canvas

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"sync/atomic"

	"github.com/rabuchanan2077/parking-lot-video/internal/mapping"
)

var (
	// ErrShortFrame is returned when a frame holds fewer bytes than its
	// declared resolution needs.
	ErrShortFrame = errors.New("canvas: frame shorter than declared resolution")
	// ErrTableMismatch is returned for a table built for another canvas size.
	ErrTableMismatch = errors.New("canvas: table built for a different canvas")
)

// Stats is a point-in-time view of canvas activity.
type Stats struct {
	Composites    uint64 `json:"composites"`
	MirrorUpdates uint64 `json:"mirror_updates"`
	MirrorSkips   uint64 `json:"mirror_skips"`
	Rejected      uint64 `json:"rejected"`
}

// Canvas is the shared composite. Pixels are 0x00RRGGBB and persist
// between frames: a pixel no table addresses keeps its last value.
type Canvas struct {
	width  int
	height int
	order  binary.ByteOrder

	lock   *fairMutex
	pix    []uint32
	mirror Mirror

	composites    atomic.Uint64
	mirrorUpdates atomic.Uint64
	mirrorSkips   atomic.Uint64
	rejected      atomic.Uint64
}

// New creates a canvas seeded from layout, which may be nil. A nil mirror
// disables external publishing.
func New(width, height int, order binary.ByteOrder, layout *Layout, mirror Mirror) *Canvas {
	if mirror == nil {
		mirror = NoopMirror()
	}
	c := &Canvas{
		width:  width,
		height: height,
		order:  order,
		lock:   newFairMutex(),
		pix:    make([]uint32, width*height),
		mirror: mirror,
	}
	if layout != nil {
		lw, lh := layout.Size()
		for y := 0; y < min(lh, height); y++ {
			for x := 0; x < min(lw, width); x++ {
				c.pix[y*width+x] = layout.composited(x, y)
			}
		}
	}
	return c
}

// Size returns the canvas dimensions.
func (c *Canvas) Size() mapping.Resolution {
	return mapping.Resolution{Width: c.width, Height: c.height}
}

// ByteOrder is the packing used for frames and the mirror.
func (c *Canvas) ByteOrder() binary.ByteOrder {
	return c.order
}

// Apply copies the mapped camera pixels of frame into the canvas, then
// offers the result to the mirror.
func (c *Canvas) Apply(t *mapping.Table, frame []byte) error {
	if t.Canvas != c.Size() {
		c.rejected.Add(1)
		return fmt.Errorf("%w: table %dx%d, canvas %dx%d",
			ErrTableMismatch, t.Canvas.Width, t.Canvas.Height, c.width, c.height)
	}
	if need := 4 * t.Sensor.Pixels(); len(frame) < need {
		c.rejected.Add(1)
		return fmt.Errorf("%w: have %d bytes, need %d", ErrShortFrame, len(frame), need)
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	for _, p := range t.Pairs {
		c.pix[p.Output] = c.order.Uint32(frame[4*int(p.Camera):]) & 0xFFFFFF
	}
	c.composites.Add(1)

	if c.mirror.TryPublish(c.pix) {
		c.mirrorUpdates.Add(1)
	} else {
		c.mirrorSkips.Add(1)
	}
	return nil
}

// Snapshot copies the canvas into dst, growing it if needed.
func (c *Canvas) Snapshot(dst []uint32) []uint32 {
	if cap(dst) < len(c.pix) {
		dst = make([]uint32, len(c.pix))
	}
	dst = dst[:len(c.pix)]

	c.lock.Lock()
	copy(dst, c.pix)
	c.lock.Unlock()
	return dst
}

// Pixel returns one canvas pixel.
func (c *Canvas) Pixel(x, y int) uint32 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.pix[y*c.width+x]
}

// Image returns an opaque RGBA copy of the canvas.
func (c *Canvas) Image() *image.RGBA {
	snap := c.Snapshot(nil)
	img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	for i, p := range snap {
		o := 4 * i
		img.Pix[o] = uint8(p >> 16)
		img.Pix[o+1] = uint8(p >> 8)
		img.Pix[o+2] = uint8(p)
		img.Pix[o+3] = 0xFF
	}
	return img
}

// Stats returns the activity counters.
func (c *Canvas) Stats() Stats {
	return Stats{
		Composites:    c.composites.Load(),
		MirrorUpdates: c.mirrorUpdates.Load(),
		MirrorSkips:   c.mirrorSkips.Load(),
		Rejected:      c.rejected.Load(),
	}
}

// Close releases the mirror.
func (c *Canvas) Close() error {
	return c.mirror.Close()
}
