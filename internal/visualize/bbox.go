package visualize

import (
	"image"
	"image/color"
	"strconv"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// BoundingBox is an axis-aligned box in pixel coordinates with a class label.
type BoundingBox struct {
	XMin, YMin, XMax, YMax float64
	Label                  int
}

// DrawBoundingBoxesWithNameTag outlines each box and labels it with its class name.
func DrawBoundingBoxesWithNameTag(img image.Image, boxes []BoundingBox, c color.Color, labelNames []string) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetFontFace(basicfont.Face7x13)
	dc.SetLineWidth(2)
	for _, box := range boxes {
		name := strconv.Itoa(box.Label)
		if box.Label >= 0 && box.Label < len(labelNames) {
			name = labelNames[box.Label]
		}

		dc.SetColor(c)
		dc.DrawRectangle(box.XMin, box.YMin, box.XMax-box.XMin, box.YMax-box.YMin)
		dc.Stroke()

		tw, th := dc.MeasureString(name)
		top := box.YMin - th - 4
		if top < 0 {
			top = box.YMin
		}
		dc.DrawRectangle(box.XMin, top, tw+4, th+4)
		dc.Fill()
		dc.SetColor(color.White)
		dc.DrawString(name, box.XMin+2, top+th+1)
	}
	return dc.Image()
}
