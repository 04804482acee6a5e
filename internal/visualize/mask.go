package visualize

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
)

// DefaultColorPalette returns the 256-entry PASCAL VOC label palette.
func DefaultColorPalette() []color.RGBA {
	palette := make([]color.RGBA, 256)
	for i := range palette {
		var r, g, b uint8
		c := i
		for j := 0; j < 8; j++ {
			r |= uint8((c>>0)&1) << (7 - j)
			g |= uint8((c>>1)&1) << (7 - j)
			b |= uint8((c>>2)&1) << (7 - j)
			c >>= 3
		}
		palette[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return palette
}

// ColorizeMask paints a row-major class mask with palette colors. Class 0 is
// left transparent; other classes get the given alpha.
func ColorizeMask(mask []int, width, height int, palette []color.RGBA, alpha uint8) (*image.NRGBA, error) {
	if len(mask) != width*height {
		return nil, fmt.Errorf("visualize: mask has %d entries, want %d", len(mask), width*height)
	}
	if len(palette) == 0 {
		palette = DefaultColorPalette()
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i, class := range mask {
		if class <= 0 {
			continue
		}
		c := palette[class%len(palette)]
		img.SetNRGBA(i%width, i/width, color.NRGBA{R: c.R, G: c.G, B: c.B, A: alpha})
	}
	return img, nil
}

// OverlayMask composites overlay on top of base.
func OverlayMask(base, overlay image.Image) image.Image {
	dc := gg.NewContextForImage(base)
	dc.DrawImage(overlay, 0, 0)
	return dc.Image()
}
