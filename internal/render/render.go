// Package render draws detection boxes, labels, and timestamp overlays onto
// JPEG frames. It is the Go stand-in for the predictor's own plot() step
// (box line width 2; labels use the fixed 7x13 basicfont face, so the font
// size is not configurable) plus the client-timestamp burn-in
// the detector stream endpoint adds on top of that.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"orbocore/internal/predictor"
)

const (
	boxLineWidth  = 2
	jpegQualityHi = 85
)

// DefaultBoxColor is used when a detection carries no more specific color.
var DefaultBoxColor = color.RGBA{0, 200, 0, 255}

// Annotate decodes jpegData, draws a box and a "<class> <confidence>%"
// label for every detection, and returns the re-encoded JPEG. On any
// decode/encode failure it returns the input unchanged rather than
// propagating an error up into the inference loop.
func Annotate(jpegData []byte, detections []predictor.Detection) []byte {
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return jpegData
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	for _, d := range detections {
		label := fmt.Sprintf("%s %.0f%%", d.ClassName, d.Confidence*100)
		if d.TrackID != 0 {
			label = fmt.Sprintf("#%d %s", d.TrackID, label)
		}
		x, y := int(d.Box.X1), int(d.Box.Y1)
		w, h := int(d.Box.X2-d.Box.X1), int(d.Box.Y2-d.Box.Y1)
		drawBox(rgba, x, y, w, h, DefaultBoxColor, boxLineWidth)
		drawLabel(rgba, x, y-5, label, DefaultBoxColor)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: jpegQualityHi}); err != nil {
		return jpegData
	}
	return buf.Bytes()
}

// BurnClientTimestamp draws "C: <millisecond-precision timestamp>" in the
// bottom-left corner, matching the client-side freshness marker the
// detector stream endpoint adds to every frame it serves.
func BurnClientTimestamp(jpegData []byte, at time.Time) []byte {
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return jpegData
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	label := "C: " + at.Format("2006-01-02 15:04:05.000")
	drawLabel(rgba, 10, bounds.Max.Y-30, label, color.RGBA{0, 255, 0, 255})

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: jpegQualityHi}); err != nil {
		return jpegData
	}
	return buf.Bytes()
}

func drawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	bounds := img.Bounds()
	for t := 0; t < thickness; t++ {
		for i := x; i < x+w && i < bounds.Max.X; i++ {
			if y+t >= 0 && y+t < bounds.Max.Y && i >= 0 {
				img.Set(i, y+t, c)
			}
			if y+h-t >= 0 && y+h-t < bounds.Max.Y && i >= 0 {
				img.Set(i, y+h-t, c)
			}
		}
		for j := y; j < y+h && j < bounds.Max.Y; j++ {
			if x+t >= 0 && x+t < bounds.Max.X && j >= 0 {
				img.Set(x+t, j, c)
			}
			if x+w-t >= 0 && x+w-t < bounds.Max.X && j >= 0 {
				img.Set(x+w-t, j, c)
			}
		}
	}
}

func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 10 {
		y = 10
	}
	if x < 0 {
		x = 0
	}

	bgColor := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	for dy := -2; dy < 12; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			px, py := x+dx, y+dy
			if px >= 0 && px < img.Bounds().Max.X && py >= 0 && py < img.Bounds().Max.Y {
				img.Set(px, py, bgColor)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
