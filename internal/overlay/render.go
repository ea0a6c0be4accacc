// Package overlay draws FPS text and detection boxes onto frames before they
// are published.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/font"
)

// DefaultFPSScale matches the classic 640x480 layout
const DefaultFPSScale = 0.6

// BoxThickness is the outline width of a detection box in pixels
const BoxThickness = 2

var (
	White = color.RGBA{255, 255, 255, 255}
	Green = color.RGBA{0, 255, 0, 255}
)

// Detection is one bounding box (x1,y1)-(x2,y2) with its confidence
type Detection struct {
	Box        image.Rectangle `json:"box"`
	Confidence float64         `json:"confidence"`
}

// NewDetection builds a Detection from corner coordinates
func NewDetection(x1, y1, x2, y2 int, confidence float64) Detection {
	return Detection{Box: image.Rect(x1, y1, x2, y2), Confidence: confidence}
}

// Options is everything Render needs. The zero value draws nothing.
type Options struct {
	ShowFPS   bool
	FPS       float64
	FPSColor  color.RGBA
	FPSScale  float64
	FPSOrigin *image.Point // nil means DefaultFPSOrigin
	FPSFace   font.Face    // nil builds one from FPSScale

	Detections     []Detection
	BoxColor       color.RGBA
	ShowConfidence bool
}

// Empty reports whether Render would leave the frame untouched
func (o Options) Empty() bool {
	return !o.ShowFPS && len(o.Detections) == 0
}

// DefaultFPSOrigin is the FPS text baseline for a frame. Only the width is
// taken into account; the text sits 20px from the top regardless of height.
func DefaultFPSOrigin(width int) image.Point {
	return image.Point{X: width - 105, Y: 20}
}

// Render draws the overlays described by opts onto dst in place. dst must be
// a private copy; see Annotate. Detections are drawn in order and overlapping
// boxes simply overdraw each other.
func Render(dst *image.RGBA, opts Options) {
	boxColor := opts.BoxColor
	if boxColor == (color.RGBA{}) {
		boxColor = Green
	}

	for _, d := range opts.Detections {
		StrokeRect(dst, d.Box, boxColor, BoxThickness)
		if opts.ShowConfidence {
			DrawLabel(dst, fmt.Sprintf("%.2f", d.Confidence), labelOrigin(d.Box), boxColor)
		}
	}

	if opts.ShowFPS {
		origin := DefaultFPSOrigin(dst.Bounds().Dx())
		if opts.FPSOrigin != nil {
			origin = *opts.FPSOrigin
		}
		fpsColor := opts.FPSColor
		if fpsColor == (color.RGBA{}) {
			fpsColor = White
		}
		face := opts.FPSFace
		if face == nil {
			face = NewFace(opts.FPSScale)
		}
		DrawText(dst, fmt.Sprintf("FPS: %.1f", opts.FPS), origin.Add(dst.Bounds().Min), fpsColor, face)
	}
}

// labelOrigin puts a confidence label just above box, or just below it when
// there is no room above. The plate never covers the outline.
func labelOrigin(box image.Rectangle) image.Point {
	box = box.Canon()
	if y := box.Min.Y - LabelHeight - 1; y >= 0 {
		return image.Point{X: box.Min.X, Y: y}
	}
	return image.Point{X: box.Min.X, Y: box.Max.Y + 1}
}

// Annotate returns src unchanged when there is nothing to draw, otherwise a
// copy of src with the overlays rendered onto it
func Annotate(src *image.RGBA, opts Options) *image.RGBA {
	if opts.Empty() {
		return src
	}
	dst := Clone(src)
	Render(dst, opts)
	return dst
}
