package visualize

import (
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/imgio"
)

// SavePNG writes img to path, replacing any existing file.
func SavePNG(path string, img image.Image) error {
	if err := imgio.Save(path, img, imgio.PNGEncoder()); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
