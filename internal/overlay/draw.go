package overlay

import (
	"image"
	"image/color"
	"image/draw"
)

// FillRect composites a solid color over r
func FillRect(dst *image.RGBA, r image.Rectangle, c color.Color) {
	draw.Draw(dst, r.Intersect(dst.Bounds()), image.NewUniform(c), image.Point{}, draw.Over)
}

// StrokeRect draws the outline of r, thickness pixels wide, inside r.
// Pixels outside dst are clipped.
func StrokeRect(dst *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	r = r.Canon()
	if r.Empty() {
		return
	}
	b := dst.Bounds()
	set := func(x, y int) {
		if (image.Point{x, y}).In(b) {
			dst.SetRGBA(x, y, c)
		}
	}

	for t := 0; t < thickness; t++ {
		top, bottom := r.Min.Y+t, r.Max.Y-1-t
		left, right := r.Min.X+t, r.Max.X-1-t
		if top > bottom || left > right {
			return
		}
		for x := left; x <= right; x++ {
			set(x, top)
			set(x, bottom)
		}
		for y := top; y <= bottom; y++ {
			set(left, y)
			set(right, y)
		}
	}
}

// Clone returns a private copy of src that can be annotated freely
func Clone(src *image.RGBA) *image.RGBA {
	dst := &image.RGBA{
		Pix:    make([]uint8, len(src.Pix)),
		Stride: src.Stride,
		Rect:   src.Rect,
	}
	copy(dst.Pix, src.Pix)
	return dst
}
