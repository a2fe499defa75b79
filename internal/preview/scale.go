package preview

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// letterbox scales src to fit width x height, keeping its aspect ratio and
// filling the margins with black. A zero dimension follows the aspect ratio
// of the other; both zero returns src unchanged.
func letterbox(src *image.RGBA, width, height int) image.Image {
	sw, sh := src.Bounds().Dx(), src.Bounds().Dy()
	if (width <= 0 && height <= 0) || sw == 0 || sh == 0 {
		return src
	}
	if height <= 0 {
		height = max(1, (width*sh+sw/2)/sw)
	}
	if width <= 0 {
		width = max(1, (height*sw+sh/2)/sh)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, xdraw.Src)

	scale := min(float64(width)/float64(sw), float64(height)/float64(sh))
	fw := max(1, int(float64(sw)*scale+0.5))
	fh := max(1, int(float64(sh)*scale+0.5))
	x0, y0 := (width-fw)/2, (height-fh)/2
	xdraw.ApproxBiLinear.Scale(dst, image.Rect(x0, y0, x0+fw, y0+fh), src, src.Bounds(), xdraw.Src, nil)
	return dst
}
