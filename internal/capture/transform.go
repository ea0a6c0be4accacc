package capture

import (
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
)

// Flip mirrors img according to the hflip/vflip settings. Drivers that can
// flip in hardware or in their pipeline do not call it.
func Flip(img *image.RGBA, hflip, vflip bool) *image.RGBA {
	if !hflip && !vflip {
		return img
	}
	var out *image.NRGBA
	switch {
	case hflip && vflip:
		out = imaging.Rotate180(img)
	case hflip:
		out = imaging.FlipH(img)
	default:
		out = imaging.FlipV(img)
	}
	return opaqueRGBA(out)
}

// opaqueRGBA reinterprets a fully opaque NRGBA image as RGBA. With alpha at
// 255 both layouts are byte-identical.
func opaqueRGBA(n *image.NRGBA) *image.RGBA {
	return &image.RGBA{Pix: n.Pix, Stride: n.Stride, Rect: n.Rect}
}

// rawReader reads fixed-size RGBA frames from a byte stream
type rawReader struct {
	r             io.Reader
	width, height int
}

func (rr *rawReader) next() (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, rr.width, rr.height))
	if n, err := io.ReadFull(rr.r, img.Pix); err != nil {
		return nil, fmt.Errorf("short frame (%d of %d bytes): %w", n, len(img.Pix), err)
	}
	return img, nil
}
