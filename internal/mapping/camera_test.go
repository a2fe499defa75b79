package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rabuchanan2077/parking-lot-video/internal/projection"
)

func TestCamera_TableLifecycle(t *testing.T) {
	canvas := Resolution{Width: 32, Height: 18}
	r := groundRegion(t, canvas, projection.Position{Z: 24})
	cam := NewCamera("front", projection.North, projection.Position{Z: 24}, projection.DefaultLens(),
		[]*projection.Region{r}, canvas, vga, BuildOptions{})

	assert.Equal(t, uint64(0), cam.Rebuilds(), "built lazily")

	first := cam.Table()
	assert.Same(t, first, cam.Table(), "cached until the resolution changes")
	assert.Equal(t, uint64(1), cam.Rebuilds())

	assert.False(t, cam.Observe(vga))
	assert.Same(t, first, cam.Table())

	hd := Resolution{Width: 1280, Height: 720}
	assert.True(t, cam.Observe(hd))
	assert.Equal(t, hd, cam.Resolution())

	second := cam.Table()
	assert.NotSame(t, first, second)
	assert.Equal(t, hd, second.Sensor)
	assert.Equal(t, uint64(2), cam.Rebuilds())
	for _, p := range second.Pairs {
		assert.Less(t, p.Camera, int32(hd.Pixels()))
	}
}
