package diag

import (
	"image"
	"image/color"

	"github.com/chewxy/math32"
	"gorgonia.org/vecf32"
)

// MaxTiles caps the number of frames tiled into one image.
const MaxTiles = 16

// Tile lays out frames of w×h values (row-major, h rows) side by side with a
// one pixel gap, scaling all values together onto [0, 255].
func Tile(frames [][]float32, w, h int) *image.Gray {
	if len(frames) > MaxTiles {
		frames = frames[:MaxTiles]
	}
	n := len(frames)
	width := n*w + n - 1
	if n == 0 {
		width = 0
	}
	img := image.NewGray(image.Rect(0, 0, width, h))

	lo, hi := math32.Inf(1), math32.Inf(-1)
	for _, f := range frames {
		if len(f) == 0 {
			continue
		}
		lo = math32.Min(lo, vecf32.MinOf(f))
		hi = math32.Max(hi, vecf32.MaxOf(f))
	}
	span := hi - lo
	for i, f := range frames {
		x0 := i * (w + 1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				idx := y*w + x
				if idx >= len(f) {
					continue
				}
				var v uint8
				if span > 0 && !math32.IsNaN(f[idx]) {
					v = uint8((f[idx] - lo) / span * 255)
				}
				img.SetGray(x0+x, y, color.Gray{Y: v})
			}
		}
	}
	return img
}
