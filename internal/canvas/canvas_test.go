package canvas

import (
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/rabuchanan2077/parking-lot-video/internal/mapping"
)

func solidLayout(w, h int, c color.Color) *Layout {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return NewLayout(img)
}

// constantFrame packs rgb into every pixel using order.
func constantFrame(res mapping.Resolution, rgb uint32, order binary.ByteOrder) []byte {
	b := make([]byte, 4*res.Pixels())
	for i := 0; i < res.Pixels(); i++ {
		order.PutUint32(b[4*i:], rgb)
	}
	return b
}

func TestCanvas_ApplyKeepsUnmappedPixels(t *testing.T) {
	size := mapping.Resolution{Width: 8, Height: 4}
	sensor := mapping.Resolution{Width: 2, Height: 2}
	c := New(size.Width, size.Height, binary.LittleEndian, solidLayout(8, 4, color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xFF}), nil)

	table := &mapping.Table{
		Canvas: size,
		Sensor: sensor,
		Pairs:  []mapping.Pair{{Output: 0, Camera: 3}, {Output: 9, Camera: 0}, {Output: 31, Camera: 1}},
	}
	require.NoError(t, c.Apply(table, constantFrame(sensor, 0xABCDEF, binary.LittleEndian)))

	mapped := map[int]bool{0: true, 9: true, 31: true}
	snap := c.Snapshot(nil)
	for i, p := range snap {
		if mapped[i] {
			assert.Equal(t, uint32(0xABCDEF), p, "pixel %d", i)
		} else {
			assert.Equal(t, uint32(0x102030), p, "pixel %d", i)
		}
	}

	// A second, smaller table leaves the first frame's pixels in place.
	table2 := &mapping.Table{Canvas: size, Sensor: sensor, Pairs: []mapping.Pair{{Output: 0, Camera: 0}}}
	require.NoError(t, c.Apply(table2, constantFrame(sensor, 0x000001, binary.LittleEndian)))
	assert.Equal(t, uint32(0x000001), c.Pixel(0, 0))
	assert.Equal(t, uint32(0xABCDEF), c.Pixel(1, 1))
	assert.Equal(t, uint64(2), c.Stats().Composites)
}

func TestCanvas_ByteOrders(t *testing.T) {
	size := mapping.Resolution{Width: 1, Height: 1}
	table := &mapping.Table{Canvas: size, Sensor: size, Pairs: []mapping.Pair{{Output: 0, Camera: 0}}}

	t.Run("BGRx", func(t *testing.T) {
		c := New(1, 1, binary.LittleEndian, nil, nil)
		require.NoError(t, c.Apply(table, []byte{0x33, 0x22, 0x11, 0xFF}))
		assert.Equal(t, uint32(0x112233), c.Pixel(0, 0))
	})

	t.Run("xRGB", func(t *testing.T) {
		c := New(1, 1, binary.BigEndian, nil, nil)
		require.NoError(t, c.Apply(table, []byte{0xFF, 0x11, 0x22, 0x33}))
		assert.Equal(t, uint32(0x112233), c.Pixel(0, 0))
	})
}

func TestCanvas_RejectsBadInput(t *testing.T) {
	size := mapping.Resolution{Width: 4, Height: 4}
	sensor := mapping.Resolution{Width: 4, Height: 4}
	c := New(4, 4, binary.LittleEndian, nil, nil)

	table := &mapping.Table{Canvas: size, Sensor: sensor, Pairs: []mapping.Pair{{Output: 0, Camera: 15}}}
	err := c.Apply(table, make([]byte, 4*16-1))
	assert.ErrorIs(t, err, ErrShortFrame)

	other := &mapping.Table{Canvas: mapping.Resolution{Width: 2, Height: 2}, Sensor: sensor}
	err = c.Apply(other, make([]byte, 4*16))
	assert.ErrorIs(t, err, ErrTableMismatch)

	assert.Equal(t, uint64(2), c.Stats().Rejected)
	assert.Equal(t, uint64(0), c.Stats().Composites)
}

func TestCanvas_Image(t *testing.T) {
	c := New(2, 1, binary.LittleEndian, solidLayout(2, 1, color.RGBA{R: 1, G: 2, B: 3, A: 0xFF}), nil)
	img := c.Image()
	assert.Equal(t, color.RGBA{R: 1, G: 2, B: 3, A: 0xFF}, img.RGBAAt(1, 0))
}

func TestFileMirror(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame")
	m, err := OpenMirror(path, 2, 2, binary.LittleEndian)
	require.NoError(t, err)

	size := mapping.Resolution{Width: 2, Height: 2}
	c := New(2, 2, binary.LittleEndian, nil, m)
	defer c.Close()

	table := &mapping.Table{Canvas: size, Sensor: size, Pairs: []mapping.Pair{{Output: 3, Camera: 0}}}
	require.NoError(t, c.Apply(table, constantFrame(size, 0x0A0B0C, binary.LittleEndian)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, 16)
	assert.Equal(t, []byte{0x0C, 0x0B, 0x0A, 0x00}, data[12:16])
	assert.Equal(t, uint64(1), c.Stats().MirrorUpdates)

	t.Run("skips while a reader holds the lock", func(t *testing.T) {
		reader, err := os.Open(path)
		require.NoError(t, err)
		defer reader.Close()
		require.NoError(t, unix.Flock(int(reader.Fd()), unix.LOCK_EX))

		require.NoError(t, c.Apply(table, constantFrame(size, 0x010203, binary.LittleEndian)))
		assert.Equal(t, uint64(1), c.Stats().MirrorSkips)
		assert.Equal(t, uint32(0x010203), c.Pixel(1, 1), "canvas still updated")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x0C, 0x0B, 0x0A, 0x00}, data[12:16], "mirror untouched")

		require.NoError(t, unix.Flock(int(reader.Fd()), unix.LOCK_UN))
		require.NoError(t, c.Apply(table, constantFrame(size, 0x010203, binary.LittleEndian)))
		assert.Equal(t, uint64(2), c.Stats().MirrorUpdates)
	})
}

func TestFairMutex_FIFO(t *testing.T) {
	m := newFairMutex()
	m.Lock()

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Lock()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			m.Unlock()
		}(i)
		want := uint64(i + 2)
		require.Eventually(t, func() bool { return m.waiting() == want }, time.Second, time.Millisecond)
	}

	m.Unlock()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, uint64(0), m.waiting())
}

func TestLayout_Mask(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.NRGBA{A: 0xFF})
		}
	}
	img.Set(1, 0, color.NRGBA{R: 0xFF, A: 0xFF})
	img.Set(3, 1, color.NRGBA{R: 0xFF, A: 0xFF})

	path := filepath.Join(t.TempDir(), "layout.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	l, err := LoadLayout(path)
	require.NoError(t, err)
	w, h := l.Size()
	assert.Equal(t, 4, w)
	assert.Equal(t, 2, h)

	mask := l.Mask(0xFFFF0000, 6, 3)
	assert.Equal(t, 2, mask.Count())
	assert.True(t, mask.Contains(1, 0))
	assert.True(t, mask.Contains(3, 1))
	assert.False(t, mask.Contains(5, 2))

	_, err = LoadLayout(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}
