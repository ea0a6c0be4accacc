package overlay

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"
)

// pixelsPerScale converts a font scale (0.6 is the classic FPS size) into
// a truetype size in pixels
const pixelsPerScale = 30.0

var regular *truetype.Font

func init() {
	var err error
	regular, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// NewFace returns the FPS font at scale. A face caches glyphs and must not
// be shared between goroutines.
func NewFace(scale float64) font.Face {
	if scale <= 0 {
		scale = DefaultFPSScale
	}
	return truetype.NewFace(regular, &truetype.Options{Size: scale * pixelsPerScale})
}

// DrawText writes text with its baseline starting at p
func DrawText(dst *image.RGBA, text string, p image.Point, c color.Color, face font.Face) {
	dc := gg.NewContextForRGBA(dst)
	dc.SetFontFace(face)
	dc.SetColor(c)
	dc.DrawString(text, float64(p.X), float64(p.Y))
}

// LabelHeight is the height of the plate DrawLabel draws
var LabelHeight = basicfont.Face7x13.Metrics().Height.Ceil() + 2

// DrawLabel draws a small label on a translucent black plate with its top
// left corner at p, shifted down if it would leave the frame
func DrawLabel(dst *image.RGBA, text string, p image.Point, c color.RGBA) {
	face := basicfont.Face7x13
	if p.Y < 0 {
		p.Y = 0
	}
	if p.X < 0 {
		p.X = 0
	}

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
	}
	width := d.MeasureString(text).Ceil()

	FillRect(dst, image.Rect(p.X, p.Y, p.X+width+4, p.Y+LabelHeight), color.RGBA{0, 0, 0, 180})

	d.Dot = fixed.Point26_6{X: fixed.I(p.X + 2), Y: fixed.I(p.Y+1) + face.Metrics().Ascent}
	d.DrawString(text)
}

// ParseColor parses "#rrggbb" into an opaque color
func ParseColor(s string) (color.RGBA, error) {
	c, err := colorful.Hex(s)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}
