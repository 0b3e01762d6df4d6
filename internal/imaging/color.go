package imaging

import (
	"image"

	"github.com/lucasb-eyer/go-colorful"
)

// maxColorSamples bounds the number of pixels AverageColor reads.
const maxColorSamples = 64 * 64

// AverageColor returns the mean color of img as a "#rrggbb" hex string.
//
// Fully transparent pixels are skipped and averaging happens in linear RGB.
// Large images are sampled on a regular grid. An image with no visible
// pixels returns the empty string.
func AverageColor(img image.Image) string {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return ""
	}

	step := 1
	for (w/step)*(h/step) > maxColorSamples {
		step++
	}

	var sumR, sumG, sumB float64
	n := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			c, ok := colorful.MakeColor(img.At(x, y))
			if !ok {
				continue
			}
			r, g, b := c.LinearRgb()
			sumR += r
			sumG += g
			sumB += b
			n++
		}
	}
	if n == 0 {
		return ""
	}

	avg := colorful.LinearRgb(sumR/float64(n), sumG/float64(n), sumB/float64(n))
	return avg.Clamped().Hex()
}
