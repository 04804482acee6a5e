// Package visualize converts between tensors and images and draws training
// diagnostics: segmentation overlays, bounding boxes and heatmaps.
package visualize

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/anthonynsimon/bild/transform"
	"gorgonia.org/tensor"
)

// ImageToTensor resizes img to height x width and returns a (channels, height,
// width) tensor scaled to [0, 1]. channels must be 1 (luminance) or 3 (RGB).
func ImageToTensor(img image.Image, channels, height, width int) (*tensor.Dense, error) {
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("visualize: unsupported channel count %d", channels)
	}
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("visualize: invalid size %dx%d", height, width)
	}
	resized := transform.Resize(img, width, height, transform.Linear)
	plane := height * width
	data := make([]float64, channels*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := resized.RGBAAt(x, y)
			r, g, b := float64(c.R)/255, float64(c.G)/255, float64(c.B)/255
			idx := y*width + x
			if channels == 1 {
				data[idx] = 0.299*r + 0.587*g + 0.114*b
				continue
			}
			data[idx] = r
			data[plane+idx] = g
			data[2*plane+idx] = b
		}
	}
	return tensor.New(tensor.WithShape(channels, height, width), tensor.WithBacking(data)), nil
}

// TensorToImage renders a (channel, height, width) or (1, channel, height,
// width) tensor with values in [0, 1].
func TensorToImage(t *tensor.Dense) (image.Image, error) {
	if t == nil {
		return nil, fmt.Errorf("visualize: nil tensor")
	}
	shape := t.Shape()
	if len(shape) == 4 && shape[0] == 1 {
		shape = shape[1:]
	}
	if len(shape) != 3 {
		return nil, fmt.Errorf("visualize: want (channel, height, width), got %v", t.Shape())
	}
	channels, height, width := shape[0], shape[1], shape[2]
	data, ok := t.Data().([]float64)
	if !ok || len(data) < channels*height*width {
		return nil, fmt.Errorf("visualize: tensor must hold %d float64 values", channels*height*width)
	}
	plane := height * width
	switch channels {
	case 1:
		img := image.NewGray(image.Rect(0, 0, width, height))
		for i := 0; i < plane; i++ {
			img.Pix[i] = toByte(data[i])
		}
		return img, nil
	case 3:
		img := image.NewRGBA(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				idx := y*width + x
				img.SetRGBA(x, y, color.RGBA{
					R: toByte(data[idx]),
					G: toByte(data[plane+idx]),
					B: toByte(data[2*plane+idx]),
					A: 255,
				})
			}
		}
		return img, nil
	default:
		return nil, fmt.Errorf("visualize: unsupported channel count %d", channels)
	}
}

func toByte(v float64) uint8 {
	return uint8(math.Round(math.Min(1, math.Max(0, v)) * 255))
}
