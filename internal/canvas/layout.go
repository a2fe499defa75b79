package canvas

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/rabuchanan2077/parking-lot-video/internal/projection"
)

// Layout is the static background image. It fixes the canvas size and
// supplies the region masks.
type Layout struct {
	img    image.Image
	width  int
	height int
}

// LoadLayout decodes a PNG, JPEG, GIF, BMP or TIFF file.
func LoadLayout(path string) (*Layout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("canvas: open layout: %w", err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("canvas: decode layout %s: %w", path, err)
	}
	l := NewLayout(img)
	slog.Info("canvas: layout loaded", "path", path, "format", format, "width", l.width, "height", l.height)
	return l, nil
}

// NewLayout wraps an already decoded image.
func NewLayout(img image.Image) *Layout {
	b := img.Bounds()
	return &Layout{img: img, width: b.Dx(), height: b.Dy()}
}

// Size returns the layout dimensions.
func (l *Layout) Size() (width, height int) {
	return l.width, l.height
}

// RGB returns the un-premultiplied color at (x, y) as 0x00RRGGBB.
func (l *Layout) RGB(x, y int) uint32 {
	b := l.img.Bounds()
	c := color.NRGBAModel.Convert(l.img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}

// composited returns the pixel as drawn over a black background.
func (l *Layout) composited(x, y int) uint32 {
	b := l.img.Bounds()
	r, g, bl, _ := l.img.At(b.Min.X+x, b.Min.Y+y).RGBA()
	return (r>>8)<<16 | (g>>8)<<8 | bl>>8
}

// Mask selects the layout pixels whose RGB equals color. The mask spans
// the canvas; pixels beyond the layout are never selected.
func (l *Layout) Mask(rgb uint32, canvasWidth, canvasHeight int) *projection.Mask {
	rgb &= 0xFFFFFF
	m := projection.NewMask(canvasWidth, canvasHeight)
	for y := 0; y < min(l.height, canvasHeight); y++ {
		for x := 0; x < min(l.width, canvasWidth); x++ {
			if l.RGB(x, y) == rgb {
				m.Set(x, y)
			}
		}
	}
	return m
}
