package compositor

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

const ambientSize = 16

// SampleAmbient averages a downscaled copy of img and formats it as a CSS
// rgba() string for UI glow effects.
func SampleAmbient(img image.Image) string {
	if img == nil || img.Bounds().Empty() {
		return "rgba(0, 0, 0, 0)"
	}
	small := image.NewRGBA(image.Rect(0, 0, ambientSize, ambientSize))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	var r, g, b, a uint64
	n := uint64(ambientSize * ambientSize)
	for i := 0; i < len(small.Pix); i += 4 {
		r += uint64(small.Pix[i])
		g += uint64(small.Pix[i+1])
		b += uint64(small.Pix[i+2])
		a += uint64(small.Pix[i+3])
	}
	return fmt.Sprintf("rgba(%d, %d, %d, %.2f)", r/n, g/n, b/n, float64(a/n)/255)
}
